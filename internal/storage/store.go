// Package storage persists benchmark sessions as one JSON document per
// session in a data directory.
package storage

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"github.com/oklog/ulid/v2"

	"github.com/torosent/lopnur/internal/model"
)

// ErrSessionNotFound is returned when no session file exists for an id.
var ErrSessionNotFound = errors.New("session not found")

// ErrInvalidID is returned for ids that are empty or could escape the data
// directory.
var ErrInvalidID = errors.New("invalid session id")

const (
	filePrefix = "benchmark-"
	fileSuffix = ".json"
	lockName   = ".lock"
)

// NewSessionID returns a new lexically sortable session id.
func NewSessionID() string {
	return ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader).String()
}

// FileStore reads and writes sessions under Dir.
type FileStore struct {
	Dir string
}

func NewFileStore(dir string) *FileStore {
	return &FileStore{Dir: dir}
}

// Path returns the file a session with id is stored in.
func (s *FileStore) Path(id string) string {
	return filepath.Join(s.Dir, filePrefix+id+fileSuffix)
}

// Save writes the session and returns the file path.
func (s *FileStore) Save(session model.Session) (string, error) {
	if err := validateID(session.ID); err != nil {
		return "", err
	}
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return "", fmt.Errorf("create data directory: %w", err)
	}

	data, err := json.MarshalIndent(session, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode session %s: %w", session.ID, err)
	}

	path := s.Path(session.ID)
	err = s.withLock(func() error {
		tmp := path + ".tmp"
		if err := os.WriteFile(tmp, data, 0o644); err != nil {
			return err
		}
		return os.Rename(tmp, path)
	})
	if err != nil {
		return "", fmt.Errorf("write session %s: %w", session.ID, err)
	}
	return path, nil
}

// Load reads the session with the given id.
func (s *FileStore) Load(id string) (model.Session, error) {
	if err := validateID(id); err != nil {
		return model.Session{}, err
	}
	data, err := os.ReadFile(s.Path(id))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return model.Session{}, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
		}
		return model.Session{}, fmt.Errorf("read session %s: %w", id, err)
	}
	var session model.Session
	if err := json.Unmarshal(data, &session); err != nil {
		return model.Session{}, fmt.Errorf("decode session %s: %w", id, err)
	}
	return session, nil
}

// List returns the ids of stored sessions, newest first.
func (s *FileStore) List() ([]string, error) {
	entries, err := os.ReadDir(s.Dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("list sessions: %w", err)
	}

	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, filePrefix) || !strings.HasSuffix(name, fileSuffix) {
			continue
		}
		ids = append(ids, strings.TrimSuffix(strings.TrimPrefix(name, filePrefix), fileSuffix))
	}
	sort.Sort(sort.Reverse(sort.StringSlice(ids)))
	return ids, nil
}

// Delete removes the session with the given id.
func (s *FileStore) Delete(id string) error {
	if err := validateID(id); err != nil {
		return err
	}
	return s.withLock(func() error {
		err := os.Remove(s.Path(id))
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
		}
		return err
	})
}

func (s *FileStore) withLock(fn func() error) error {
	lock := flock.New(filepath.Join(s.Dir, lockName))
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("lock data directory: %w", err)
	}
	defer func() { _ = lock.Unlock() }()
	return fn()
}

func validateID(id string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("%w: empty", ErrInvalidID)
	}
	if strings.ContainsAny(id, `/\`) || strings.Contains(id, "..") {
		return fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	return nil
}
