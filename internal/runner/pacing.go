package runner

import (
	"context"

	"golang.org/x/time/rate"
)

type pacer interface {
	Wait(ctx context.Context) error
}

func newPacer(opt Options) pacer {
	if opt.Delay <= 0 {
		return nil
	}
	return &uniformPacer{limiter: opt.LimiterFactory(opt.Delay)}
}

// uniformPacer spaces item starts using a shared rate.Limiter.
type uniformPacer struct {
	limiter *rate.Limiter
}

func (u *uniformPacer) Wait(ctx context.Context) error {
	if u == nil || u.limiter == nil {
		return nil
	}
	return u.limiter.Wait(ctx)
}
