package command

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dmitrymomot/relay/core/logger"
)

// Sweeper re-notifies the scheduler about envelopes that no job will pick
// up on its own: Pending envelopes whose initial notification was lost,
// Failed envelopes that are due, and Processing envelopes whose claim lease
// expired after a crash. Duplicate notifications are harmless because
// claiming is a compare-and-set.
type Sweeper struct {
	store        EnvelopeStore
	scheduler    Scheduler
	logger       *slog.Logger
	pendingGrace time.Duration
	leaseTimeout time.Duration
	batch        int
	now          func() time.Time
}

// SweeperOption configures a Sweeper.
type SweeperOption func(*Sweeper)

// WithSweeperLogger sets the logger.
func WithSweeperLogger(l *slog.Logger) SweeperOption {
	return func(s *Sweeper) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithSweeperClock overrides the time source.
func WithSweeperClock(now func() time.Time) SweeperOption {
	return func(s *Sweeper) {
		if now != nil {
			s.now = now
		}
	}
}

// NewSweeper creates a sweeper from configuration.
func NewSweeper(cfg Config, store EnvelopeStore, scheduler Scheduler, opts ...SweeperOption) (*Sweeper, error) {
	if store == nil {
		return nil, ErrStoreNil
	}
	if scheduler == nil {
		return nil, ErrSchedulerNil
	}

	def := DefaultConfig()
	s := &Sweeper{
		store:        store,
		scheduler:    scheduler,
		logger:       logger.Discard(),
		pendingGrace: orDefault(cfg.PendingGrace, def.PendingGrace),
		leaseTimeout: orDefault(cfg.LeaseTimeout, def.LeaseTimeout),
		batch:        orDefault(cfg.SweepBatch, def.SweepBatch),
		now:          func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Sweep schedules one batch of due envelopes and returns how many were scheduled.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	now := s.now()
	ids, err := s.store.ListDue(ctx, DueQuery{
		Now:           now,
		PendingBefore: now.Add(-s.pendingGrace),
		StaleBefore:   now.Add(-s.leaseTimeout),
		Limit:         s.batch,
	})
	if err != nil {
		return 0, fmt.Errorf("list due envelopes: %w", err)
	}

	scheduled := 0
	for _, id := range ids {
		if err := s.scheduler.Enqueue(ctx, id); err != nil {
			return scheduled, fmt.Errorf("schedule envelope %s: %w", id, err)
		}
		scheduled++
	}

	if scheduled > 0 {
		s.logger.InfoContext(ctx, "rescheduled due envelopes", logger.Count("count", scheduled))
	}
	return scheduled, nil
}

func orDefault[T int | time.Duration](v, def T) T {
	if v > 0 {
		return v
	}
	return def
}
