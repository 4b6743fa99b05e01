package metrics_test

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/torosent/lopnur/internal/metrics"
	"github.com/torosent/lopnur/internal/model"
)

func ok(latencyMs float64) model.Outcome {
	return model.Outcome{Provider: "alpha", RequestType: "getSlot", Success: true, LatencyMs: latencyMs}
}

func failed(requestType string) model.Outcome {
	return model.Outcome{Provider: "alpha", RequestType: requestType, Error: "boom", LatencyMs: 1}
}

func TestCollectorLatencyStats(t *testing.T) {
	c := metrics.NewCollector()

	for _, ms := range []float64{10, 20, 30, 40, 50} {
		c.RecordOutcome(ok(ms))
	}
	c.RecordOutcome(failed("getSlot"))

	stats := c.Stats(0)

	if stats.Total != 6 {
		t.Errorf("expected total 6, got %d", stats.Total)
	}
	if stats.Successes != 5 {
		t.Errorf("expected successes 5, got %d", stats.Successes)
	}
	if stats.Failures != 1 {
		t.Errorf("expected failures 1, got %d", stats.Failures)
	}
	if stats.MinLatency != 10*time.Millisecond {
		t.Errorf("expected min 10ms, got %s", stats.MinLatency)
	}
	if stats.MaxLatency != 50*time.Millisecond {
		t.Errorf("expected max 50ms, got %s", stats.MaxLatency)
	}
	if stats.MeanLatency != 30*time.Millisecond {
		t.Errorf("expected mean 30ms over successes, got %s", stats.MeanLatency)
	}
	if stats.SuccessRate < 83.33 || stats.SuccessRate > 83.34 {
		t.Errorf("expected success rate ~83.33, got %.4f", stats.SuccessRate)
	}
}

func TestPercentilesCalculations(t *testing.T) {
	c := metrics.NewCollector()

	// 100 samples: 1ms, 2ms, ..., 100ms.
	for i := 1; i <= 100; i++ {
		c.RecordOutcome(ok(float64(i)))
	}

	stats := c.Stats(0)

	if stats.P50Latency < 49*time.Millisecond || stats.P50Latency > 51*time.Millisecond {
		t.Errorf("expected P50 ~50ms, got %s", stats.P50Latency)
	}
	if stats.P90Latency < 89*time.Millisecond || stats.P90Latency > 91*time.Millisecond {
		t.Errorf("expected P90 ~90ms, got %s", stats.P90Latency)
	}
	if stats.P99Latency < 98*time.Millisecond || stats.P99Latency > 100*time.Millisecond {
		t.Errorf("expected P99 ~99ms, got %s", stats.P99Latency)
	}
}

func TestCollectorStartResets(t *testing.T) {
	c := metrics.NewCollector()
	c.RecordOutcome(ok(5))
	c.RecordOutcome(failed("getHealth"))

	c.Start()
	stats := c.Stats(0)
	if stats.Total != 0 || stats.P50Latency != 0 || len(stats.Errors) != 0 {
		t.Fatalf("expected empty stats after Start, got %+v", stats)
	}
}

func TestCollectorFailuresByType(t *testing.T) {
	c := metrics.NewCollector()
	c.RecordOutcome(failed("getSlot"))
	c.RecordOutcome(failed("getSlot"))
	c.RecordOutcome(failed("getVersion"))

	got := c.FailuresByType()
	if got["getSlot"] != 2 || got["getVersion"] != 1 {
		t.Fatalf("FailuresByType() = %v", got)
	}
	if c.Stats(0).MinLatency != 0 {
		t.Fatal("failed outcomes must not feed latency statistics")
	}
}

func TestJSONStatsSchema(t *testing.T) {
	c := metrics.NewCollector()
	c.RecordOutcome(ok(15))
	c.RecordOutcome(ok(25))

	data, err := json.Marshal(c.Stats(100 * time.Millisecond))
	if err != nil {
		t.Fatalf("failed to marshal stats: %v", err)
	}

	var parsed map[string]interface{}
	if err := json.Unmarshal(data, &parsed); err != nil {
		t.Fatalf("failed to unmarshal: %v", err)
	}

	requiredFields := []string{"total", "successes", "failures", "success_rate", "min_latency_ms", "max_latency_ms", "mean_latency_ms", "p50_latency_ms", "p90_latency_ms", "p99_latency_ms", "duration_ms", "requests_per_sec"}
	for _, field := range requiredFields {
		if _, ok := parsed[field]; !ok {
			t.Errorf("missing field %q in JSON output", field)
		}
	}
	if rps := parsed["requests_per_sec"].(float64); rps < 19.99 || rps > 20.01 {
		t.Errorf("requests_per_sec = %v, want ~20", rps)
	}
}

func TestConcurrentRecording(t *testing.T) {
	c := metrics.NewCollector()

	var wg sync.WaitGroup
	workers := 10
	recordsPerWorker := 100

	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < recordsPerWorker; j++ {
				c.RecordOutcome(ok(1))
			}
		}()
	}
	wg.Wait()

	stats := c.Stats(0)
	expected := workers * recordsPerWorker
	if stats.Total != int64(expected) {
		t.Errorf("expected total %d, got %d", expected, stats.Total)
	}
}
