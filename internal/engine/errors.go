package engine

import (
	"errors"
)

var (
	// ErrConcurrentRun rejects a second Start for a campaign that already
	// has an active run. Nothing is mutated.
	ErrConcurrentRun = errors.New("concurrent_run")

	// ErrNoActiveRun reports a cancel request for a campaign with no run
	// in flight.
	ErrNoActiveRun = errors.New("no_active_run")
)
