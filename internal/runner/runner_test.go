package runner_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/torosent/lopnur/internal/model"
	"github.com/torosent/lopnur/internal/runner"
)

// fakeRequester simulates performing a request with fixed latency.
type fakeRequester struct {
	latency  time.Duration
	calls    *int64
	inFlight *int64
	peak     *int64
	fail     func(call int64) error
}

func (f *fakeRequester) Do(ctx context.Context, _ model.Provider) error {
	call := int64(0)
	if f.calls != nil {
		call = atomic.AddInt64(f.calls, 1)
	}
	if f.inFlight != nil {
		current := atomic.AddInt64(f.inFlight, 1)
		defer atomic.AddInt64(f.inFlight, -1)
		for {
			peak := atomic.LoadInt64(f.peak)
			if current <= peak || atomic.CompareAndSwapInt64(f.peak, peak, current) {
				break
			}
		}
	}
	if f.latency > 0 {
		select {
		case <-time.After(f.latency):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if f.fail != nil {
		return f.fail(call)
	}
	return nil
}

func newCatalog(t *testing.T, types []string, req runner.Requester) *runner.Catalog {
	t.Helper()
	c := runner.NewCatalog()
	for _, tag := range types {
		if c.Has(tag) {
			continue
		}
		if err := c.Register(tag, req); err != nil {
			t.Fatalf("Register(%q) error = %v", tag, err)
		}
	}
	return c
}

func countByType(outcomes []model.Outcome) map[string]int {
	counts := make(map[string]int)
	for _, o := range outcomes {
		counts[o.RequestType]++
	}
	return counts
}

func TestRunnerExecutesExactTotal(t *testing.T) {
	tests := []struct {
		name        string
		count       int
		types       []string
		concurrency int
	}{
		{name: "even split", count: 4, types: []string{"a", "b"}, concurrency: 2},
		{name: "uneven split", count: 7, types: []string{"a", "b", "c"}, concurrency: 4},
		{name: "more workers than items", count: 1, types: []string{"a", "b"}, concurrency: 10},
		{name: "single worker", count: 5, types: []string{"a"}, concurrency: 1},
		{name: "repeated tag", count: 3, types: []string{"a", "a", "b"}, concurrency: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls int64
			req := &fakeRequester{calls: &calls}
			r := runner.New(runner.Options{
				Provider:     model.Provider{Name: "alpha"},
				RequestTypes: tt.types,
				Count:        tt.count,
				Concurrency:  tt.concurrency,
				Catalog:      newCatalog(t, tt.types, req),
			})
			outcomes := r.Run(context.Background())

			want := tt.count * len(tt.types)
			if len(outcomes) != want {
				t.Fatalf("len(outcomes) = %d, want %d", len(outcomes), want)
			}
			if calls != int64(want) {
				t.Fatalf("requester called %d times, want %d", calls, want)
			}
			for _, o := range outcomes {
				if o.Provider != "alpha" {
					t.Errorf("outcome provider = %q, want alpha", o.Provider)
				}
				if !o.Success {
					t.Errorf("outcome failed unexpectedly: %s", o.Error)
				}
				if o.Timestamp <= 0 {
					t.Errorf("outcome timestamp not set")
				}
			}
		})
	}
}

func TestRunnerTypeMultisetIndependentOfConcurrency(t *testing.T) {
	types := []string{"getSlot", "getHealth", "getVersion"}
	count := 4
	total := count * len(types)

	baseline := countByType(runner.RunSequential(context.Background(), runner.Options{
		RequestTypes: types,
		Count:        count,
		Catalog:      newCatalog(t, types, &fakeRequester{}),
	}))

	for concurrency := 1; concurrency <= total; concurrency++ {
		got := countByType(runner.New(runner.Options{
			RequestTypes: types,
			Count:        count,
			Concurrency:  concurrency,
			Catalog:      newCatalog(t, types, &fakeRequester{latency: time.Millisecond}),
		}).Run(context.Background()))

		for _, tag := range types {
			if got[tag] != baseline[tag] {
				t.Fatalf("concurrency %d: %s executed %d times, want %d", concurrency, tag, got[tag], baseline[tag])
			}
		}
	}
}

func TestRunnerZeroWork(t *testing.T) {
	tests := []struct {
		name  string
		count int
		types []string
	}{
		{name: "zero count", count: 0, types: []string{"a"}},
		{name: "no types", count: 5, types: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls int64
			outcomes := runner.New(runner.Options{
				RequestTypes: tt.types,
				Count:        tt.count,
				Concurrency:  3,
				Catalog:      newCatalog(t, []string{"a"}, &fakeRequester{calls: &calls}),
			}).Run(context.Background())
			if outcomes == nil {
				t.Fatal("expected empty, non-nil outcome list")
			}
			if len(outcomes) != 0 {
				t.Fatalf("len(outcomes) = %d, want 0", len(outcomes))
			}
			if calls != 0 {
				t.Fatalf("requester called %d times, want 0", calls)
			}
		})
	}
}

func TestRunnerBoundsParallelism(t *testing.T) {
	var calls, inFlight, peak int64
	req := &fakeRequester{latency: 5 * time.Millisecond, calls: &calls, inFlight: &inFlight, peak: &peak}
	outcomes := runner.New(runner.Options{
		RequestTypes: []string{"a"},
		Count:        20,
		Concurrency:  3,
		Catalog:      newCatalog(t, []string{"a"}, req),
	}).Run(context.Background())

	if len(outcomes) != 20 {
		t.Fatalf("len(outcomes) = %d, want 20", len(outcomes))
	}
	if peak > 3 {
		t.Fatalf("peak in-flight = %d, want <= 3", peak)
	}
}

func TestRunnerFailureDoesNotAbortBatch(t *testing.T) {
	var calls int64
	req := &fakeRequester{
		calls: &calls,
		fail: func(call int64) error {
			if call%2 == 0 {
				return errors.New("connection reset")
			}
			return nil
		},
	}
	outcomes := runner.New(runner.Options{
		RequestTypes: []string{"a"},
		Count:        10,
		Concurrency:  2,
		Catalog:      newCatalog(t, []string{"a"}, req),
	}).Run(context.Background())

	if len(outcomes) != 10 {
		t.Fatalf("len(outcomes) = %d, want 10", len(outcomes))
	}
	failures := 0
	for _, o := range outcomes {
		if !o.Success {
			failures++
			if o.Error != "connection reset" {
				t.Errorf("error = %q, want %q", o.Error, "connection reset")
			}
		} else if o.Error != "" {
			t.Errorf("successful outcome carries error %q", o.Error)
		}
	}
	if failures != 5 {
		t.Fatalf("failures = %d, want 5", failures)
	}
}

func TestRunnerRecordsUnsupportedType(t *testing.T) {
	outcomes := runner.New(runner.Options{
		RequestTypes: []string{"known", "unknown"},
		Count:        2,
		Concurrency:  1,
		Catalog:      newCatalog(t, []string{"known"}, &fakeRequester{}),
	}).Run(context.Background())

	counts := map[bool]int{}
	for _, o := range outcomes {
		counts[o.Success]++
		if o.RequestType == "unknown" && !strings.Contains(o.Error, "unsupported request type: unknown") {
			t.Errorf("unexpected error %q", o.Error)
		}
	}
	if counts[true] != 2 || counts[false] != 2 {
		t.Fatalf("success/failure = %d/%d, want 2/2", counts[true], counts[false])
	}
}

func TestRunnerRecoversRequesterPanic(t *testing.T) {
	panicking := runner.RequesterFunc(func(context.Context, model.Provider) error {
		panic("boom")
	})
	outcomes := runner.New(runner.Options{
		RequestTypes: []string{"a"},
		Count:        3,
		Concurrency:  2,
		Catalog:      newCatalog(t, []string{"a"}, panicking),
	}).Run(context.Background())

	if len(outcomes) != 3 {
		t.Fatalf("len(outcomes) = %d, want 3", len(outcomes))
	}
	for _, o := range outcomes {
		if o.Success || !strings.Contains(o.Error, "boom") {
			t.Errorf("outcome = %+v, want failure mentioning panic", o)
		}
	}
}

func TestRunSequentialPreservesRoundRobinOrder(t *testing.T) {
	types := []string{"a", "b", "c"}
	outcomes := runner.RunSequential(context.Background(), runner.Options{
		RequestTypes: types,
		Count:        3,
		Concurrency:  8,
		Catalog:      newCatalog(t, types, &fakeRequester{}),
	})

	if len(outcomes) != 9 {
		t.Fatalf("len(outcomes) = %d, want 9", len(outcomes))
	}
	for i, o := range outcomes {
		if want := types[i%len(types)]; o.RequestType != want {
			t.Fatalf("outcome[%d] type = %q, want %q", i, o.RequestType, want)
		}
	}
}

func TestRunnerStopsClaimingOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls int64
	req := &fakeRequester{
		calls: &calls,
		fail: func(call int64) error {
			if call == 3 {
				cancel()
			}
			return nil
		},
	}
	outcomes := runner.New(runner.Options{
		RequestTypes: []string{"a", "b"},
		Count:        50,
		Concurrency:  1,
		Catalog:      newCatalog(t, []string{"a", "b"}, req),
	}).Run(ctx)

	if len(outcomes) != 3 {
		t.Fatalf("len(outcomes) = %d, want 3", len(outcomes))
	}
}

func TestRunnerAppliesPerRequestTimeout(t *testing.T) {
	blocking := runner.RequesterFunc(func(ctx context.Context, _ model.Provider) error {
		<-ctx.Done()
		return ctx.Err()
	})
	outcomes := runner.New(runner.Options{
		RequestTypes: []string{"a"},
		Count:        2,
		Concurrency:  2,
		Timeout:      10 * time.Millisecond,
		Catalog:      newCatalog(t, []string{"a"}, blocking),
	}).Run(context.Background())

	for _, o := range outcomes {
		if o.Success {
			t.Fatal("expected timeout failure")
		}
		if o.Error != context.DeadlineExceeded.Error() {
			t.Errorf("error = %q, want %q", o.Error, context.DeadlineExceeded.Error())
		}
		if o.LatencyMs < 10 {
			t.Errorf("latency = %.2fms, want >= 10ms", o.LatencyMs)
		}
	}
}

func TestRunnerDelayPacesItemStarts(t *testing.T) {
	start := time.Now()
	outcomes := runner.New(runner.Options{
		RequestTypes: []string{"a"},
		Count:        5,
		Concurrency:  5,
		Delay:        10 * time.Millisecond,
		Catalog:      newCatalog(t, []string{"a"}, &fakeRequester{}),
	}).Run(context.Background())
	elapsed := time.Since(start)

	if len(outcomes) != 5 {
		t.Fatalf("len(outcomes) = %d, want 5", len(outcomes))
	}
	if elapsed < 40*time.Millisecond {
		t.Fatalf("elapsed %s, want >= 40ms with 10ms spacing", elapsed)
	}
}

func TestRunnerInvokesOnOutcome(t *testing.T) {
	var mu sync.Mutex
	seen := 0
	runner.New(runner.Options{
		RequestTypes: []string{"a", "b"},
		Count:        4,
		Concurrency:  3,
		Catalog:      newCatalog(t, []string{"a", "b"}, &fakeRequester{}),
		OnOutcome: func(model.Outcome) {
			mu.Lock()
			seen++
			mu.Unlock()
		},
	}).Run(context.Background())

	if seen != 8 {
		t.Fatalf("OnOutcome called %d times, want 8", seen)
	}
}
