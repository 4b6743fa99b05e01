package metrics

import (
	"sync"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"

	"github.com/torosent/lopnur/internal/model"
)

// Collector records outcomes in a thread-safe manner while a provider run is
// in flight. Latency statistics cover successful requests only.
type Collector struct {
	mu             sync.Mutex
	hist           *hdrhistogram.Histogram
	successes      int64
	failures       int64
	minLatency     time.Duration
	maxLatency     time.Duration
	sumLatency     time.Duration
	failuresByType map[string]int64
	start          time.Time
}

// Stats represents aggregated live metrics.
type Stats struct {
	Total          int64         `json:"total"`
	Successes      int64         `json:"successes"`
	Failures       int64         `json:"failures"`
	MinLatency     time.Duration `json:"-"`
	MaxLatency     time.Duration `json:"-"`
	MeanLatency    time.Duration `json:"-"`
	P50Latency     time.Duration `json:"-"`
	P90Latency     time.Duration `json:"-"`
	P99Latency     time.Duration `json:"-"`
	Duration       time.Duration `json:"-"`
	RequestsPerSec float64       `json:"requests_per_sec"`
	SuccessRate    float64       `json:"success_rate"`

	// JSON-friendly millisecond fields.
	MinLatencyMs  float64        `json:"min_latency_ms"`
	MaxLatencyMs  float64        `json:"max_latency_ms"`
	MeanLatencyMs float64        `json:"mean_latency_ms"`
	P50LatencyMs  float64        `json:"p50_latency_ms"`
	P90LatencyMs  float64        `json:"p90_latency_ms"`
	P99LatencyMs  float64        `json:"p99_latency_ms"`
	DurationMs    float64        `json:"duration_ms"`
	Errors        map[string]int `json:"errors,omitempty"`
}

func NewCollector() *Collector {
	// Track latencies from 1µs up to 60s with 3 significant figures.
	h := hdrhistogram.New(1, 60_000_000, 3)
	return &Collector{
		hist:           h,
		failuresByType: make(map[string]int64),
		start:          time.Now(),
	}
}

// Start resets the collector and marks the beginning of a run.
func (c *Collector) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hist.Reset()
	c.successes, c.failures = 0, 0
	c.minLatency, c.maxLatency, c.sumLatency = 0, 0, 0
	c.failuresByType = make(map[string]int64)
	c.start = time.Now()
}

// Elapsed returns the time since the collector was created or last started.
func (c *Collector) Elapsed() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return time.Since(c.start)
}

// RecordOutcome records one completed work item.
func (c *Collector) RecordOutcome(o model.Outcome) {
	latency := time.Duration(o.LatencyMs * float64(time.Millisecond))

	c.mu.Lock()
	defer c.mu.Unlock()

	if !o.Success {
		c.failures++
		c.failuresByType[o.RequestType]++
		return
	}

	c.successes++
	if latency > 0 {
		us := latency.Microseconds()
		if us < c.hist.LowestTrackableValue() {
			us = c.hist.LowestTrackableValue()
		}
		if us > c.hist.HighestTrackableValue() {
			us = c.hist.HighestTrackableValue()
		}
		_ = c.hist.RecordValue(us)
	}
	c.sumLatency += latency

	if c.minLatency == 0 || latency < c.minLatency {
		c.minLatency = latency
	}
	if latency > c.maxLatency {
		c.maxLatency = latency
	}
}

// Stats computes and returns current aggregated statistics.
func (c *Collector) Stats(elapsed time.Duration) Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	total := c.successes + c.failures
	stats := Stats{
		Total:      total,
		Successes:  c.successes,
		Failures:   c.failures,
		MinLatency: c.minLatency,
		MaxLatency: c.maxLatency,
	}

	if total > 0 {
		stats.SuccessRate = float64(c.successes) / float64(total) * 100
	}
	if c.successes > 0 {
		stats.MeanLatency = time.Duration(int64(c.sumLatency) / c.successes)
	}

	if c.hist.TotalCount() > 0 {
		stats.P50Latency = time.Duration(c.hist.ValueAtQuantile(50)) * time.Microsecond
		stats.P90Latency = time.Duration(c.hist.ValueAtQuantile(90)) * time.Microsecond
		stats.P99Latency = time.Duration(c.hist.ValueAtQuantile(99)) * time.Microsecond
	}

	stats.MinLatencyMs = float64(stats.MinLatency) / float64(time.Millisecond)
	stats.MaxLatencyMs = float64(stats.MaxLatency) / float64(time.Millisecond)
	stats.MeanLatencyMs = float64(stats.MeanLatency) / float64(time.Millisecond)
	stats.P50LatencyMs = float64(stats.P50Latency) / float64(time.Millisecond)
	stats.P90LatencyMs = float64(stats.P90Latency) / float64(time.Millisecond)
	stats.P99LatencyMs = float64(stats.P99Latency) / float64(time.Millisecond)

	stats.Duration = elapsed
	stats.DurationMs = float64(elapsed) / float64(time.Millisecond)
	if elapsed > 0 && total > 0 {
		stats.RequestsPerSec = float64(total) / elapsed.Seconds()
	}

	if len(c.failuresByType) > 0 {
		stats.Errors = make(map[string]int, len(c.failuresByType))
		for k, v := range c.failuresByType {
			stats.Errors[k] = int(v)
		}
	}

	return stats
}

// FailuresByType returns failed request counts keyed by request type.
func (c *Collector) FailuresByType() map[string]int {
	c.mu.Lock()
	defer c.mu.Unlock()

	result := make(map[string]int, len(c.failuresByType))
	for k, v := range c.failuresByType {
		result[k] = int(v)
	}
	return result
}
