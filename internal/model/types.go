// Package model defines the records shared by the scheduler, the session
// orchestrator, the analyzer and the session store.
//
// JSON field names follow the persisted session file layout, so a session
// written by one version of lopnur can be read back by another.
package model

import "time"

// Provider is a named remote endpoint under benchmark.
type Provider struct {
	Name     string `json:"name" mapstructure:"name"`
	Endpoint string `json:"endpoint" mapstructure:"endpoint"`
	// WSEndpoint overrides the websocket URL derived from Endpoint.
	WSEndpoint string `json:"wsEndpoint,omitempty" mapstructure:"ws_endpoint"`
	// GRPCEndpoint is the host:port of an optional gRPC interface.
	GRPCEndpoint string `json:"grpcEndpoint,omitempty" mapstructure:"grpc_endpoint"`
}

// Outcome is the recorded result of one work item.
type Outcome struct {
	Provider    string  `json:"provider"`
	Timestamp   int64   `json:"timestamp"`
	RequestType string  `json:"requestType"`
	Success     bool    `json:"success"`
	LatencyMs   float64 `json:"latencyMs"`
	Error       string  `json:"error,omitempty"`
}

// BenchmarkConfig is supplied once at session start and read-only afterwards.
type BenchmarkConfig struct {
	RequestCount           int      `json:"requestCount"`
	Concurrency            int      `json:"concurrency"`
	RequestTypes           []string `json:"requestTypes"`
	DelayBetweenRequestsMs *int     `json:"delayBetweenRequestsMs,omitempty"`
}

// Delay returns the configured pacing interval, or zero when unset.
func (c BenchmarkConfig) Delay() time.Duration {
	if c.DelayBetweenRequestsMs == nil || *c.DelayBetweenRequestsMs <= 0 {
		return 0
	}
	return time.Duration(*c.DelayBetweenRequestsMs) * time.Millisecond
}

// Total is the number of work items a single provider run executes.
func (c BenchmarkConfig) Total() int {
	if c.RequestCount <= 0 {
		return 0
	}
	return c.RequestCount * len(c.RequestTypes)
}

// Session is the complete record of one benchmarking run across all providers.
type Session struct {
	ID        string          `json:"id"`
	StartTime int64           `json:"startTime"`
	EndTime   *int64          `json:"endTime,omitempty"`
	Providers []string        `json:"providers"`
	Results   []Outcome       `json:"results"`
	Config    BenchmarkConfig `json:"config"`
}

// Finished reports whether the end time has been recorded.
func (s *Session) Finished() bool {
	return s != nil && s.EndTime != nil
}

// Summary holds derived statistics for one provider over a session's outcomes.
type Summary struct {
	Provider         string  `json:"provider"`
	SuccessRate      float64 `json:"successRate"`
	AverageLatencyMs float64 `json:"averageLatencyMs"`
	P50LatencyMs     float64 `json:"p50LatencyMs"`
	P90LatencyMs     float64 `json:"p90LatencyMs"`
	P99LatencyMs     float64 `json:"p99LatencyMs"`
	MinLatencyMs     float64 `json:"minLatencyMs"`
	MaxLatencyMs     float64 `json:"maxLatencyMs"`
	RequestCount     int     `json:"requestCount"`
	ErrorCount       int     `json:"errorCount"`
}

// EpochMillis converts t to milliseconds since the Unix epoch.
func EpochMillis(t time.Time) int64 {
	return t.UnixMilli()
}
