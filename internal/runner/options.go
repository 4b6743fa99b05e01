package runner

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/torosent/lopnur/internal/model"
)

// Requester abstracts executing a single unit of work against a provider.
// Implementations should return an error for failed requests.
type Requester interface {
	Do(ctx context.Context, target model.Provider) error
}

// RequesterFunc adapts a function to the Requester interface.
type RequesterFunc func(ctx context.Context, target model.Provider) error

func (f RequesterFunc) Do(ctx context.Context, target model.Provider) error {
	return f(ctx, target)
}

// Options configure the Runner.
type Options struct {
	Provider       model.Provider
	RequestTypes   []string                                   // cycled round-robin by item index
	Count          int                                        // repeats per request type
	Concurrency    int                                        // number of worker goroutines
	Catalog        *Catalog                                   // request-type tag to Requester
	Timeout        time.Duration                              // per work item (0 means no timeout)
	Delay          time.Duration                              // minimum spacing between item starts (0 means unpaced)
	Tracer         trace.Tracer                               // optional span per work item
	OnOutcome      func(model.Outcome)                        // called from worker goroutines after each item
	LimiterFactory func(interval time.Duration) *rate.Limiter // optional injection for tests
}

func (o *Options) normalize() {
	if o.Concurrency <= 0 {
		o.Concurrency = 1
	}
	if o.Count < 0 {
		o.Count = 0
	}
	if o.Timeout < 0 {
		o.Timeout = 0
	}
	if o.Delay < 0 {
		o.Delay = 0
	}
	if o.LimiterFactory == nil {
		o.LimiterFactory = func(interval time.Duration) *rate.Limiter {
			if interval <= 0 {
				return rate.NewLimiter(rate.Inf, 0)
			}
			return rate.NewLimiter(rate.Every(interval), 1)
		}
	}
}

func (o Options) total() int {
	if o.Count <= 0 || len(o.RequestTypes) == 0 {
		return 0
	}
	return o.Count * len(o.RequestTypes)
}
