// Package scheduler hosts the time-driven triggers that invoke the pipeline.
package scheduler

import (
	"context"
	"strings"
	"time"

	"github.com/cockroachdb/errors"

	"invoicewatch/internal"
	"invoicewatch/internal/storage"
)

// Store is the persistence the scheduler needs; *storage.DB implements it.
type Store interface {
	ReplaceTrigger(ctx context.Context, handler string, everyMinutes int) error
	DeleteTriggers(ctx context.Context, handler string) (int64, error)
	ListTriggers(ctx context.Context) ([]storage.Trigger, error)
	MarkTriggerFired(ctx context.Context, handler string, at time.Time) error
	AcquireLease(ctx context.Context, name, holder string, now time.Time, ttl time.Duration) (bool, error)
	ReleaseLease(ctx context.Context, name, holder string) error
}

// Registry installs and removes triggers. Each handler has at most one trigger.
type Registry struct {
	store Store
}

func NewRegistry(store Store) *Registry {
	return &Registry{store: store}
}

// Replace drops any trigger of handler and installs one firing every everyMinutes.
func (r *Registry) Replace(ctx context.Context, handler string, everyMinutes int) error {
	handler = strings.TrimSpace(handler)
	if handler == "" {
		return errors.Mark(errors.New("trigger handler name is empty"), internal.ErrConfiguration)
	}
	if everyMinutes <= 0 {
		return errors.Mark(errors.Newf("trigger interval must be positive, got %d", everyMinutes), internal.ErrConfiguration)
	}
	return errors.Wrapf(r.store.ReplaceTrigger(ctx, handler, everyMinutes), "replace trigger %s", handler)
}

// Delete removes the triggers of handler and reports how many were removed.
func (r *Registry) Delete(ctx context.Context, handler string) (int64, error) {
	n, err := r.store.DeleteTriggers(ctx, strings.TrimSpace(handler))
	if err != nil {
		return 0, errors.Wrapf(err, "delete triggers %s", handler)
	}
	return n, nil
}
