package engine

import (
	"sync"

	"github.com/zapsender/campaign-engine/internal/core"
)

// progress is the single source of truth for one run's counters. The engine
// loop and concurrently firing confirmations both mutate it, so every
// mutation takes the lock and returns a consistent snapshot.
type progress struct {
	mu        sync.Mutex
	total     int
	sent      int
	delivered int
	failed    int
}

func newProgress(total int) *progress {
	return &progress{total: total}
}

// fractionLocked is (sent+failed)/total; an empty batch is fully progressed.
func (p *progress) fractionLocked() float64 {
	if p.total == 0 {
		return 1.0
	}
	return float64(p.sent+p.failed) / float64(p.total)
}

func (p *progress) statsLocked() core.Stats {
	return core.Stats{SentCount: p.sent, DeliveredCount: p.delivered, FailedCount: p.failed}
}

func (p *progress) recordSent() (core.Stats, float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent++
	return p.statsLocked(), p.fractionLocked()
}

func (p *progress) recordFailed() (core.Stats, float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failed++
	return p.statsLocked(), p.fractionLocked()
}

// recordDelivered increments the delivered counter and runs persist with
// the new snapshot before releasing the lock. Persisted delivered counts
// therefore land in increment order; a slow write can never overwrite a
// newer count.
func (p *progress) recordDelivered(persist func(core.Stats)) core.Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.delivered++
	s := p.statsLocked()
	if persist != nil {
		persist(s)
	}
	return s
}

func (p *progress) snapshot() (core.Stats, float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.statsLocked(), p.fractionLocked()
}
