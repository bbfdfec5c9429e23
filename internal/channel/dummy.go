package channel

import (
	"context"
	"errors"
	"math/rand"
	"time"
)

// Dummy simulates a delivery channel with latency and occasional failures.
// Useful for local runs; the real channel integration plugs in behind the
// same interface.
type Dummy struct {
	Latency    time.Duration
	FailurePct int // 0..100
}

func NewDummy() *Dummy {
	return &Dummy{Latency: 50 * time.Millisecond, FailurePct: 3}
}

func (d *Dummy) Send(ctx context.Context, phone, text string) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d.Latency):
	}
	if d.FailurePct > 0 && rand.Intn(100) < d.FailurePct {
		return errors.New("channel_temporary_error")
	}
	return nil
}
