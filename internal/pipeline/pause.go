package pipeline

import (
	"context"
	"time"
)

// Pauser waits between successive classification calls of one item.
type Pauser interface {
	Pause(ctx context.Context) error
}

// IntervalPauser sleeps a fixed interval, returning early when ctx is done.
type IntervalPauser time.Duration

func (p IntervalPauser) Pause(ctx context.Context) error {
	if p <= 0 {
		return nil
	}
	timer := time.NewTimer(time.Duration(p))
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
