package engine

import (
	"context"
	"time"
)

// ConfirmationSource decides when a sent message counts as delivered and
// then invokes deliver exactly once. A canceled ctx drops the pending
// confirmation without calling deliver.
type ConfirmationSource interface {
	Schedule(ctx context.Context, campaignID, messageID int64, deliver func())
}

// TimerConfirmations promotes every sent message after a fixed delay. It
// stands in for real delivery receipts; a receipt-driven source plugs in
// behind the same interface.
type TimerConfirmations struct {
	Delay time.Duration
}

func NewTimerConfirmations(delay time.Duration) *TimerConfirmations {
	return &TimerConfirmations{Delay: delay}
}

func (t *TimerConfirmations) Schedule(ctx context.Context, campaignID, messageID int64, deliver func()) {
	go func() {
		timer := time.NewTimer(t.Delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
		case <-timer.C:
			deliver()
		}
	}()
}
