package engine

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// Pacer enforces a minimum delay between consecutive sends within one run,
// to stay under the channel's anti-abuse radar. Each run paces
// independently; there is no shared budget across campaigns.
type Pacer struct {
	lim *rate.Limiter
}

// NewPacer returns a pacer with the given minimum interval. A zero or
// negative interval disables pacing (tests).
func NewPacer(interval time.Duration) *Pacer {
	if interval <= 0 {
		return &Pacer{}
	}
	return &Pacer{lim: rate.NewLimiter(rate.Every(interval), 1)}
}

// Wait blocks until the next send is allowed or ctx is canceled. The first
// call never waits.
func (p *Pacer) Wait(ctx context.Context) error {
	if p.lim == nil {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			return nil
		}
	}
	return p.lim.Wait(ctx)
}
