package runner

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sourcegraph/conc"

	"github.com/torosent/lopnur/internal/model"
	"github.com/torosent/lopnur/internal/tracing"
)

// Runner drives the work items of one provider run. A Runner holds no state
// between calls to Run.
type Runner struct {
	opt   Options
	pacer pacer
}

func New(opt Options) *Runner {
	opt.normalize()
	return &Runner{opt: opt, pacer: newPacer(opt)}
}

// Run executes every work item and returns one outcome per executed item.
// Completion order across workers is not guaranteed. When ctx is cancelled,
// workers stop claiming new items and Run returns what has completed.
func (r *Runner) Run(ctx context.Context) []model.Outcome {
	total := r.opt.total()
	if total == 0 {
		return []model.Outcome{}
	}

	workers := r.opt.Concurrency
	if workers > total {
		workers = total
	}

	var next int64 = -1
	log := &outcomeLog{items: make([]model.Outcome, 0, total)}

	var wg conc.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Go(func() {
			for {
				if ctx.Err() != nil {
					return
				}
				// Claim under a single atomic increment so no index runs twice.
				index := atomic.AddInt64(&next, 1)
				if index >= int64(total) {
					return
				}
				if r.pacer != nil {
					if err := r.pacer.Wait(ctx); err != nil {
						return
					}
				}
				outcome := r.execute(ctx, int(index))
				log.append(outcome)
				if r.opt.OnOutcome != nil {
					r.opt.OnOutcome(outcome)
				}
			}
		})
	}
	wg.Wait()

	return log.snapshot()
}

// RunSequential executes every work item in index order on a single worker.
func RunSequential(ctx context.Context, opt Options) []model.Outcome {
	opt.Concurrency = 1
	return New(opt).Run(ctx)
}

// TypeAt returns the request type of work item index.
func (r *Runner) TypeAt(index int) string {
	return r.opt.RequestTypes[index%len(r.opt.RequestTypes)]
}

func (r *Runner) execute(ctx context.Context, index int) model.Outcome {
	requestType := r.TypeAt(index)
	outcome := model.Outcome{
		Provider:    r.opt.Provider.Name,
		Timestamp:   model.EpochMillis(time.Now()),
		RequestType: requestType,
	}

	start := time.Now()
	err := r.invoke(ctx, requestType)
	outcome.LatencyMs = float64(time.Since(start)) / float64(time.Millisecond)

	if err != nil {
		outcome.Error = err.Error()
		return outcome
	}
	outcome.Success = true
	return outcome
}

func (r *Runner) invoke(ctx context.Context, requestType string) (err error) {
	req, ok := r.opt.Catalog.Lookup(requestType)
	if !ok {
		return &UnsupportedTypeError{Type: requestType}
	}

	if r.opt.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.opt.Timeout)
		defer cancel()
	}

	if r.opt.Tracer != nil {
		spanCtx, span := tracing.StartRequestSpan(ctx, r.opt.Tracer, requestType, r.opt.Provider.Name)
		ctx = spanCtx
		defer func() {
			tracing.EndSpan(span, err, tracing.AttrRequestType.String(requestType))
		}()
	}

	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("requester panic: %v", p)
		}
	}()

	return req.Do(ctx, r.opt.Provider)
}

// outcomeLog is the append-only result collection shared by the workers of
// one run.
type outcomeLog struct {
	mu    sync.Mutex
	items []model.Outcome
}

func (l *outcomeLog) append(o model.Outcome) {
	l.mu.Lock()
	l.items = append(l.items, o)
	l.mu.Unlock()
}

func (l *outcomeLog) snapshot() []model.Outcome {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]model.Outcome, len(l.items))
	copy(out, l.items)
	return out
}
