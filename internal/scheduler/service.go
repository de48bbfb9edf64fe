package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"invoicewatch/internal"
)

// LeaseName guards pipeline runs across processes sharing one database.
const LeaseName = "pipeline"

// RunFunc is the work a trigger invokes.
type RunFunc func(ctx context.Context) error

type Service struct {
	store    Store
	handlers map[string]RunFunc
	poll     time.Duration
	leaseTTL time.Duration
	holder   string
	log      *zap.Logger
	now      func() time.Time

	running sync.Mutex
}

func NewService(store Store, handlers map[string]RunFunc, poll, leaseTTL time.Duration, log *zap.Logger) *Service {
	if poll <= 0 {
		poll = 30 * time.Second
	}
	if leaseTTL <= 0 {
		leaseTTL = 30 * time.Minute
	}
	return &Service{
		store:    store,
		handlers: handlers,
		poll:     poll,
		leaseTTL: leaseTTL,
		holder:   uuid.NewString(),
		log:      log.Named("scheduler"),
		now:      time.Now,
	}
}

// Run polls the trigger table until ctx is done.
func (s *Service) Run(ctx context.Context) error {
	for {
		if err := s.tick(ctx); err != nil {
			s.log.Error("scheduler cycle failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(s.poll):
		}
	}
}

func (s *Service) tick(ctx context.Context) error {
	triggers, err := s.store.ListTriggers(ctx)
	if err != nil {
		return errors.Wrap(err, "list triggers")
	}
	now := s.now()
	for _, t := range triggers {
		if t.LastFiredAt != nil && now.Before(t.LastFiredAt.Add(time.Duration(t.EveryMinutes)*time.Minute)) {
			continue
		}
		if _, ok := s.handlers[t.Handler]; !ok {
			s.log.Warn("trigger has no handler", zap.String("handler", t.Handler))
			continue
		}
		err := s.fireAt(ctx, t.Handler, now)
		switch {
		case errors.Is(err, errMarkTrigger):
			return err
		case errors.Is(err, internal.ErrRunInProgress):
			s.log.Warn("previous run still in progress, skipping", zap.String("handler", t.Handler))
		case err != nil:
			s.log.Error("triggered run failed", zap.String("handler", t.Handler), zap.Error(err))
		}
	}
	return nil
}

var errMarkTrigger = errors.New("mark trigger fired")

// FireNow records handler's trigger as fired and runs it, so the poller waits a
// full cycle before the next run.
func (s *Service) FireNow(ctx context.Context, handler string) error {
	return s.fireAt(ctx, handler, s.now())
}

func (s *Service) fireAt(ctx context.Context, handler string, at time.Time) error {
	if err := s.store.MarkTriggerFired(ctx, handler, at); err != nil {
		return errors.Mark(errors.Wrapf(err, "mark trigger %s", handler), errMarkTrigger)
	}
	return s.Fire(ctx, handler)
}

// Fire runs handler now unless another run holds the in-process lock or the
// database lease.
func (s *Service) Fire(ctx context.Context, handler string) error {
	fn, ok := s.handlers[handler]
	if !ok {
		return errors.Mark(errors.Newf("no handler named %q", handler), internal.ErrConfiguration)
	}
	if !s.running.TryLock() {
		return errors.Mark(errors.New("run already active in this process"), internal.ErrRunInProgress)
	}
	defer s.running.Unlock()

	acquired, err := s.store.AcquireLease(ctx, LeaseName, s.holder, s.now(), s.leaseTTL)
	if err != nil {
		return errors.Wrap(err, "acquire run lease")
	}
	if !acquired {
		return errors.Mark(errors.New("run lease held by another process"), internal.ErrRunInProgress)
	}
	defer func() {
		if err := s.store.ReleaseLease(context.WithoutCancel(ctx), LeaseName, s.holder); err != nil {
			s.log.Warn("release run lease failed", zap.Error(err))
		}
	}()

	return fn(ctx)
}
