package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"

	"github.com/torosent/lopnur/internal/config"
	"github.com/torosent/lopnur/internal/output"
	"github.com/torosent/lopnur/internal/provider"
	"github.com/torosent/lopnur/internal/storage"
)

// newSolanaServer answers getSlot and getHealth. Every call to a path
// containing "broken" fails with HTTP 503.
func newSolanaServer(t *testing.T) (*httptest.Server, *int64) {
	t.Helper()
	var calls int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&calls, 1)
		if strings.Contains(r.URL.Path, "broken") {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		var req struct {
			ID     uint64 `json:"id"`
			Method string `json:"method"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		var result string
		switch req.Method {
		case "getSlot":
			result = "285000000"
		case "getHealth":
			result = `"ok"`
		default:
			result = "null"
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"jsonrpc":"2.0","result":%s,"id":%d}`, result, req.ID)
	}))
	t.Cleanup(server.Close)
	return server, &calls
}

func writeProviders(t *testing.T, entries ...provider.Entry) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "providers.json")
	for _, e := range entries {
		if err := provider.SaveToFile(path, e); err != nil {
			t.Fatalf("SaveToFile() error = %v", err)
		}
	}
	return path
}

// lockedBuffer is shared by the logger and the progress reporter.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var stdout bytes.Buffer
	var stderr lockedBuffer
	cmd := newRootCommand(&stdout, &stderr)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func TestRunBenchmarkJSONOutput(t *testing.T) {
	server, calls := newSolanaServer(t)
	providers := writeProviders(t,
		provider.Entry{Name: "alpha", Endpoint: server.URL + "/alpha"},
		provider.Entry{Name: "beta", Endpoint: server.URL + "/beta"},
	)
	dataDir := t.TempDir()

	stdout, _, err := execute(t,
		"--providers", providers,
		"--data-dir", dataDir,
		"--types", "getSlot,getHealth",
		"--count", "3",
		"--concurrency", "2",
		"--json-output",
		"--log-level", "error",
	)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if got := atomic.LoadInt64(calls); got != 12 {
		t.Fatalf("server saw %d calls, want 12", got)
	}

	var report output.Report
	if err := json.Unmarshal([]byte(stdout), &report); err != nil {
		t.Fatalf("stdout is not a JSON report: %v\n%s", err, stdout)
	}
	if len(report.Session.Results) != 12 {
		t.Errorf("results = %d, want 12", len(report.Session.Results))
	}
	if len(report.Summaries) != 2 || report.Summaries[0].Provider != "alpha" || report.Summaries[1].Provider != "beta" {
		t.Fatalf("summaries = %+v, want alpha then beta", report.Summaries)
	}
	if report.Best == nil || report.Best.SuccessRate != 100 {
		t.Fatalf("best = %+v, want a provider with 100%% success", report.Best)
	}

	ids, err := storage.NewFileStore(dataDir).List()
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(ids) != 1 || ids[0] != report.Session.ID {
		t.Fatalf("stored sessions = %v, want [%s]", ids, report.Session.ID)
	}
}

func TestRunBenchmarkConsoleOutput(t *testing.T) {
	server, _ := newSolanaServer(t)
	providers := writeProviders(t, provider.Entry{Name: "alpha", Endpoint: server.URL})
	htmlPath := filepath.Join(t.TempDir(), "report.html")

	stdout, _, err := execute(t,
		"--providers", providers,
		"--data-dir", t.TempDir(),
		"--types", "getSlot",
		"--count", "2",
		"--html-output", htmlPath,
		"--log-level", "error",
	)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	for _, want := range []string{"--- Benchmark Results ---", "Best provider: alpha", "Results saved to"} {
		if !strings.Contains(stdout, want) {
			t.Errorf("stdout missing %q:\n%s", want, stdout)
		}
	}
	html, err := os.ReadFile(htmlPath)
	if err != nil {
		t.Fatalf("html report not written: %v", err)
	}
	if !strings.Contains(string(html), "alpha") {
		t.Error("html report does not mention the provider")
	}
}

func TestRunBenchmarkThresholds(t *testing.T) {
	server, _ := newSolanaServer(t)

	tests := []struct {
		name      string
		endpoint  string
		threshold string
		wantErr   bool
	}{
		{name: "passing", endpoint: server.URL, threshold: "errors:count == 0"},
		{name: "failing", endpoint: server.URL + "/broken", threshold: "success:rate >= 95", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			providers := writeProviders(t, provider.Entry{Name: "alpha", Endpoint: tt.endpoint})
			stdout, _, err := execute(t,
				"--providers", providers,
				"--data-dir", t.TempDir(),
				"--types", "getSlot",
				"--count", "2",
				"--threshold", tt.threshold,
				"--log-level", "error",
			)
			if tt.wantErr {
				if !errors.Is(err, errThresholdsFailed) {
					t.Fatalf("error = %v, want errThresholdsFailed", err)
				}
				if !strings.Contains(stdout, "[FAIL]") {
					t.Errorf("stdout missing failed threshold:\n%s", stdout)
				}
				return
			}
			if err != nil {
				t.Fatalf("Execute() error = %v", err)
			}
		})
	}
}

func TestRunBenchmarkRejectsBadConfig(t *testing.T) {
	server, calls := newSolanaServer(t)
	providers := writeProviders(t, provider.Entry{Name: "alpha", Endpoint: server.URL})

	tests := []struct {
		name       string
		args       []string
		want       string
		validation bool
	}{
		{name: "unknown type", args: []string{"--types", "getBogus"}, want: "getBogus", validation: true},
		{name: "zero concurrency", args: []string{"--concurrency", "0"}, want: "concurrency must be >= 1", validation: true},
		{name: "bad threshold", args: []string{"--threshold", "latency:p42 < 5"}, want: "threshold", validation: true},
		{name: "bad log level", args: []string{"--log-level", "loud"}, want: "invalid log level"},
		{name: "dlmm without owner", args: []string{"--types", "getSlot,getDLMMPositions"}, want: "request type getDLMMPositions cannot run", validation: true},
		{name: "grpc without endpoint", args: []string{"--types", "grpcHealth"}, want: "no grpc endpoint for alpha", validation: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := append([]string{"--providers", providers, "--data-dir", t.TempDir()}, tt.args...)
			_, _, err := execute(t, args...)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("error = %v, want it to mention %q", err, tt.want)
			}
			var verr config.ValidationError
			if tt.validation && !errors.As(err, &verr) {
				t.Errorf("error = %T, want config.ValidationError", err)
			}
		})
	}
	if got := atomic.LoadInt64(calls); got != 0 {
		t.Fatalf("server saw %d calls, want none", got)
	}
}

func TestRunBenchmarkDefaultTypesSkipUnconfigured(t *testing.T) {
	var mu sync.Mutex
	methods := map[string]int{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID     uint64 `json:"id"`
			Method string `json:"method"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		mu.Lock()
		methods[req.Method]++
		mu.Unlock()
		fmt.Fprintf(w, `{"jsonrpc":"2.0","result":null,"id":%d}`, req.ID)
	}))
	t.Cleanup(server.Close)
	providers := writeProviders(t, provider.Entry{Name: "alpha", Endpoint: server.URL})

	stdout, stderr, err := execute(t,
		"--providers", providers,
		"--data-dir", t.TempDir(),
		"--count", "1",
		"--json-output",
		"--log-level", "info",
	)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	var report output.Report
	if err := json.Unmarshal([]byte(stdout), &report); err != nil {
		t.Fatalf("stdout is not a JSON report: %v", err)
	}
	got := strings.Join(report.Session.Config.RequestTypes, ",")
	if want := "getHealth,getSlot,getBlockHeight,getLatestBlockhash,getVersion,slotSubscribe"; got != want {
		t.Fatalf("default request types = %s, want %s", got, want)
	}
	for _, skipped := range []string{"getDLMMPositions", "grpcHealth"} {
		if !strings.Contains(stderr, "request_type="+skipped) {
			t.Errorf("stderr does not explain why %s was skipped:\n%s", skipped, stderr)
		}
	}
	mu.Lock()
	defer mu.Unlock()
	if methods["getProgramAccounts"] != 0 {
		t.Error("getDLMMPositions ran without an owner")
	}
}

func TestRunBenchmarkPersistenceFailure(t *testing.T) {
	server, calls := newSolanaServer(t)
	providers := writeProviders(t, provider.Entry{Name: "alpha", Endpoint: server.URL})
	dataDir := filepath.Join(t.TempDir(), "data")
	if err := os.WriteFile(dataDir, []byte("not a directory"), 0o644); err != nil {
		t.Fatal(err)
	}
	htmlPath := filepath.Join(t.TempDir(), "report.html")

	for _, format := range []string{"--json-output", "--html-output=" + htmlPath} {
		t.Run(format, func(t *testing.T) {
			stdout, _, err := execute(t,
				"--providers", providers,
				"--data-dir", dataDir,
				"--types", "getSlot",
				"--count", "1",
				format,
				"--log-level", "error",
			)
			if err == nil || !strings.Contains(err.Error(), "persist session") {
				t.Fatalf("error = %v, want a persistence failure", err)
			}
			if stdout != "" {
				t.Errorf("stdout = %q, want no report", stdout)
			}
			if _, statErr := os.Stat(htmlPath); !os.IsNotExist(statErr) {
				t.Errorf("html report written despite the failure: %v", statErr)
			}
		})
	}
	if atomic.LoadInt64(calls) != 2 {
		t.Errorf("server saw %d calls, want the benchmark to run before failing", atomic.LoadInt64(calls))
	}
}

func TestRunBenchmarkWithoutProviders(t *testing.T) {
	_, _, err := execute(t,
		"--providers", filepath.Join(t.TempDir(), "missing.json"),
		"--log-level", "error",
	)
	if !errors.Is(err, errNoProviders) {
		t.Fatalf("error = %v, want errNoProviders", err)
	}
}

func TestLoadProviders(t *testing.T) {
	path := filepath.Join(t.TempDir(), "providers.json")
	raw := `{"providers":[
		{"name":"alpha","endpoint":"https://alpha.example.com"},
		{"name":"broken","endpoint":"not a url"},
		{"name":"beta","endpoint":"https://beta.example.com"}]}`
	if err := os.WriteFile(path, []byte(raw), 0o644); err != nil {
		t.Fatal(err)
	}

	log, hook := test.NewNullLogger()

	got, err := loadProviders(path, nil, log)
	if err != nil {
		t.Fatalf("loadProviders() error = %v", err)
	}
	if len(got) != 2 || got[0].Name != "alpha" || got[1].Name != "beta" {
		t.Fatalf("providers = %+v, want alpha and beta", got)
	}
	if entry := hook.LastEntry(); entry == nil || entry.Level != logrus.WarnLevel || entry.Data["provider"] != "broken" {
		t.Fatalf("expected a warning about the broken provider, got %+v", entry)
	}

	got, err = loadProviders(path, []string{"beta"}, log)
	if err != nil || len(got) != 1 || got[0].Name != "beta" {
		t.Fatalf("loadProviders(only beta) = %+v, %v", got, err)
	}

	if _, err := loadProviders(path, []string{"gamma"}, log); !errors.Is(err, provider.ErrNotFound) {
		t.Fatalf("error = %v, want provider.ErrNotFound", err)
	}
	if _, err := loadProviders(path, []string{"broken"}, log); !errors.Is(err, errNoProviders) {
		t.Fatalf("error = %v, want errNoProviders", err)
	}
}

func TestBenchmarkConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Types = []string{"getSlot", "getHealth"}
	cfg.Count = 4

	bench := benchmarkConfig(&cfg)
	if bench.RequestCount != 4 || bench.Concurrency != config.DefaultConcurrency || bench.Total() != 8 {
		t.Fatalf("benchmarkConfig() = %+v", bench)
	}
	if bench.DelayBetweenRequestsMs != nil {
		t.Fatalf("delay = %d, want unset", *bench.DelayBetweenRequestsMs)
	}

	cfg.DelayMs = 25
	bench = benchmarkConfig(&cfg)
	if bench.DelayBetweenRequestsMs == nil || *bench.DelayBetweenRequestsMs != 25 {
		t.Fatalf("delay = %v, want 25", bench.DelayBetweenRequestsMs)
	}
}

func TestLogrusFailureLogger(t *testing.T) {
	log, hook := test.NewNullLogger()
	l := logrusFailureLogger{log: log}

	l.LogFailure("alpha", "getSlot", nil)
	if len(hook.AllEntries()) != 0 {
		t.Fatal("nil error should not be logged")
	}

	l.LogFailure("alpha", "getSlot", errors.New("HTTP 503: unavailable"))
	entry := hook.LastEntry()
	if entry == nil || entry.Message != "request failed" {
		t.Fatalf("entry = %+v, want request failed", entry)
	}
	if entry.Data["provider"] != "alpha" || entry.Data["request_type"] != "getSlot" {
		t.Errorf("fields = %v", entry.Data)
	}
}
