// Package server exposes persisted benchmark sessions over a read-only HTTP
// API.
package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/torosent/lopnur/internal/metrics"
	"github.com/torosent/lopnur/internal/model"
	"github.com/torosent/lopnur/internal/storage"
)

// Store is the read side of the session store.
type Store interface {
	List() ([]string, error)
	Load(id string) (model.Session, error)
}

// SessionInfo is the list entry for one session.
type SessionInfo struct {
	ID        string   `json:"id"`
	StartTime int64    `json:"startTime"`
	EndTime   *int64   `json:"endTime,omitempty"`
	Providers []string `json:"providers"`
	Requests  int      `json:"requests"`
}

// SummariesResponse is returned by GET /sessions/{id}/summaries.
type SummariesResponse struct {
	Session   string          `json:"session"`
	Summaries []model.Summary `json:"summaries"`
	Best      *model.Summary  `json:"best"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type Server struct {
	store Store
	log   logrus.FieldLogger
}

func New(store Store, log logrus.FieldLogger) *Server {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Server{store: store, log: log}
}

// Handler returns the API routes.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/sessions", s.listSessions).Methods(http.MethodGet)
	r.HandleFunc("/sessions/{id}", s.getSession).Methods(http.MethodGet)
	r.HandleFunc("/sessions/{id}/summaries", s.getSummaries).Methods(http.MethodGet)
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}).Methods(http.MethodGet)
	r.Use(s.logRequests)
	return r
}

// NewHTTPServer wraps Handler in an *http.Server listening on addr.
func (s *Server) NewHTTPServer(addr string) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

func (s *Server) listSessions(w http.ResponseWriter, _ *http.Request) {
	ids, err := s.store.List()
	if err != nil {
		s.fail(w, err)
		return
	}
	infos := make([]SessionInfo, 0, len(ids))
	for _, id := range ids {
		sess, err := s.store.Load(id)
		if err != nil {
			s.log.WithFields(logrus.Fields{"session": id, "error": err}).Warn("skipping unreadable session")
			continue
		}
		infos = append(infos, SessionInfo{
			ID:        sess.ID,
			StartTime: sess.StartTime,
			EndTime:   sess.EndTime,
			Providers: sess.Providers,
			Requests:  len(sess.Results),
		})
	}
	writeJSON(w, http.StatusOK, infos)
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.store.Load(mux.Vars(r)["id"])
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) getSummaries(w http.ResponseWriter, r *http.Request) {
	sess, err := s.store.Load(mux.Vars(r)["id"])
	if err != nil {
		s.fail(w, err)
		return
	}
	resp := SummariesResponse{Session: sess.ID, Summaries: metrics.Summarize(sess)}
	if best, ok := metrics.FindBest(resp.Summaries); ok {
		resp.Best = &best
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) fail(w http.ResponseWriter, err error) {
	if errors.Is(err, storage.ErrSessionNotFound) {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "session not found"})
		return
	}
	if errors.Is(err, storage.ErrInvalidID) {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	s.log.WithError(err).Error("session store failure")
	writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.log.WithFields(logrus.Fields{
			"method":     r.Method,
			"path":       r.URL.Path,
			"status":     rec.status,
			"latency_ms": time.Since(start).Milliseconds(),
		}).Debug("request served")
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}
