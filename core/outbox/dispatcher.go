package outbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/relay/core/logger"
	"github.com/dmitrymomot/relay/core/sanitizer"
	"github.com/dmitrymomot/relay/pkg/backoff"
)

// Dispatcher turns outbox messages into per-handler deliveries.
type Dispatcher struct {
	store     Store
	registry  *Registry
	scheduler Scheduler
	logger    *slog.Logger

	batchSize    int
	maxAttempts  int
	leaseTimeout time.Duration
	backoff      backoff.Policy
	now          func() time.Time

	dispatched atomic.Int64
	failed     atomic.Int64
	created    atomic.Int64
}

// DispatchStats summarises one DispatchDue run.
type DispatchStats struct {
	Listed            int
	Dispatched        int // messages marked Processed
	Failed            int // messages whose attempt failed
	Skipped           int // messages claimed by someone else first
	DeliveriesCreated int
}

// DispatcherStats provides lifetime counters.
type DispatcherStats struct {
	Dispatched        int64
	Failed            int64
	DeliveriesCreated int64
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithBatchSize bounds how many messages one run handles.
func WithBatchSize(n int) DispatcherOption {
	return func(d *Dispatcher) {
		if n > 0 {
			d.batchSize = n
		}
	}
}

// WithDispatchMaxAttempts sets how many failed attempts make a message terminally Failed.
func WithDispatchMaxAttempts(n int) DispatcherOption {
	return func(d *Dispatcher) {
		if n > 0 {
			d.maxAttempts = n
		}
	}
}

// WithDispatchLeaseTimeout sets after how long a Processing message may be taken over.
func WithDispatchLeaseTimeout(t time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		if t > 0 {
			d.leaseTimeout = t
		}
	}
}

// WithDispatchBackoff overrides the retry delay policy.
func WithDispatchBackoff(p backoff.Policy) DispatcherOption {
	return func(d *Dispatcher) { d.backoff = p }
}

// WithDispatcherLogger sets the logger.
func WithDispatcherLogger(l *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		if l != nil {
			d.logger = l
		}
	}
}

// WithDispatcherClock overrides the time source.
func WithDispatcherClock(now func() time.Time) DispatcherOption {
	return func(d *Dispatcher) {
		if now != nil {
			d.now = now
		}
	}
}

// NewDispatcher creates a dispatcher. scheduler receives the id of every
// delivery that becomes Pending.
func NewDispatcher(store Store, registry *Registry, scheduler Scheduler, opts ...DispatcherOption) (*Dispatcher, error) {
	switch {
	case store == nil:
		return nil, ErrStoreNil
	case registry == nil:
		return nil, ErrRegistryNil
	case scheduler == nil:
		return nil, ErrSchedulerNil
	}

	cfg := DefaultConfig()
	d := &Dispatcher{
		store:        store,
		registry:     registry,
		scheduler:    scheduler,
		logger:       logger.Discard(),
		batchSize:    cfg.BatchSize,
		maxAttempts:  cfg.MaxAttempts,
		leaseTimeout: cfg.LeaseTimeout,
		backoff:      backoff.Default(),
		now:          func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// NewDispatcherFromConfig creates a dispatcher from configuration.
// Additional options override config values.
func NewDispatcherFromConfig(cfg Config, store Store, registry *Registry, scheduler Scheduler, opts ...DispatcherOption) (*Dispatcher, error) {
	allOpts := append([]DispatcherOption{
		WithBatchSize(cfg.BatchSize),
		WithDispatchMaxAttempts(cfg.MaxAttempts),
		WithDispatchLeaseTimeout(cfg.LeaseTimeout),
	}, opts...)
	return NewDispatcher(store, registry, scheduler, allOpts...)
}

// DispatchDue handles one batch of due messages. Each message is claimed
// with a compare-and-set, so concurrent runs never process the same message
// twice at once, and deliveries are created idempotently, so a message
// re-dispatched after a crash never gets a second delivery per handler.
//
// Per-message infrastructure errors do not stop the batch; they are joined
// into the returned error.
func (d *Dispatcher) DispatchDue(ctx context.Context) (DispatchStats, error) {
	now := d.now()
	ids, err := d.store.ListDueMessages(ctx, DueQuery{
		Now:         now,
		StaleBefore: now.Add(-d.leaseTimeout),
		Limit:       d.batchSize,
	})
	if err != nil {
		return DispatchStats{}, fmt.Errorf("list due outbox messages: %w", err)
	}

	stats := DispatchStats{Listed: len(ids)}
	var errs []error
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if err := d.dispatch(ctx, id, &stats); err != nil {
			errs = append(errs, err)
		}
	}

	if stats.Dispatched > 0 || stats.Failed > 0 {
		d.logger.InfoContext(ctx, "outbox dispatch run finished",
			logger.Count("dispatched", stats.Dispatched),
			logger.Count("failed", stats.Failed),
			logger.Count("deliveries_created", stats.DeliveriesCreated))
	}
	return stats, errors.Join(errs...)
}

func (d *Dispatcher) dispatch(ctx context.Context, id uuid.UUID, stats *DispatchStats) error {
	claimedAt := d.now().Truncate(time.Microsecond)
	msg, err := d.store.TryMarkProcessing(ctx, id, claimedAt, claimedAt.Add(-d.leaseTimeout))
	if errors.Is(err, ErrNotClaimable) || errors.Is(err, ErrMessageNotFound) {
		stats.Skipped++
		return nil
	}
	if err != nil {
		return fmt.Errorf("claim outbox message %s: %w", id, err)
	}

	created, err := d.fanOut(ctx, msg)
	stats.DeliveriesCreated += created
	d.created.Add(int64(created))
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		stats.Failed++
		return d.fail(ctx, msg, claimedAt, err)
	}

	now := d.now()
	msg.Status = MessageProcessed
	msg.ProcessedAt = &now
	msg.NextAttemptAt = nil
	msg.UpdatedAt = now
	if err := d.save(ctx, msg, claimedAt); err != nil {
		return err
	}

	stats.Dispatched++
	d.dispatched.Add(1)
	d.logger.DebugContext(ctx, "outbox message dispatched",
		logger.EventID(msg.ID),
		logger.EventType(msg.EventType),
		logger.Count("deliveries_created", created))
	return nil
}

// fanOut creates one delivery per matching handler and schedules the ones
// still Pending. Scheduling errors are logged only: the delivery is durable
// and the sweep picks it up.
func (d *Dispatcher) fanOut(ctx context.Context, msg *Message) (int, error) {
	created := 0
	for _, h := range d.registry.ForEvent(msg.EventType) {
		now := d.now()
		delivery, isNew, err := d.store.AddDeliveryIfAbsent(ctx, &Delivery{
			ID:          uuid.New(),
			EventID:     msg.ID,
			HandlerName: h.Name(),
			Status:      DeliveryPending,
			CreatedAt:   now,
			UpdatedAt:   now,
		})
		if err != nil {
			return created, fmt.Errorf("add delivery for handler %s: %w", h.Name(), err)
		}
		if isNew {
			created++
		}
		if delivery.Status != DeliveryPending {
			continue
		}
		if err := d.scheduler.Enqueue(ctx, delivery.ID); err != nil {
			d.logger.ErrorContext(ctx, "failed to schedule outbox delivery",
				logger.DeliveryID(delivery.ID),
				logger.Handler(h.Name()),
				logger.Error(err))
		}
	}
	return created, nil
}

func (d *Dispatcher) fail(ctx context.Context, msg *Message, claimedAt time.Time, cause error) error {
	now := d.now()
	msg.Attempts++
	msg.Status = MessageFailed
	msg.LastError = sanitizer.ErrorMessage(cause, MaxLastErrorLength)
	msg.UpdatedAt = now

	if msg.Attempts >= d.maxAttempts {
		msg.NextAttemptAt = nil
		if err := d.save(ctx, msg, claimedAt); err != nil {
			return err
		}
		d.failed.Add(1)
		d.logger.ErrorContext(ctx, "outbox message failed permanently",
			logger.EventID(msg.ID),
			logger.EventType(msg.EventType),
			logger.Attempt(msg.Attempts),
			logger.Error(cause))
		return nil
	}

	next := d.backoff.Next(now, msg.Attempts)
	msg.NextAttemptAt = &next
	if err := d.save(ctx, msg, claimedAt); err != nil {
		return err
	}
	d.failed.Add(1)
	d.logger.WarnContext(ctx, "outbox message dispatch failed, retry scheduled",
		logger.EventID(msg.ID),
		logger.EventType(msg.EventType),
		logger.Attempt(msg.Attempts),
		slog.Time("next_attempt_at", next),
		logger.Error(cause))
	return nil
}

func (d *Dispatcher) save(ctx context.Context, msg *Message, claimedAt time.Time) error {
	err := d.store.SaveMessage(ctx, msg, claimedAt)
	if errors.Is(err, ErrNotClaimable) {
		d.logger.WarnContext(ctx, "outbox message claim lost before save", logger.EventID(msg.ID))
		return nil
	}
	if err != nil {
		return fmt.Errorf("save outbox message %s: %w", msg.ID, err)
	}
	return nil
}

// Stats returns lifetime counters.
func (d *Dispatcher) Stats() DispatcherStats {
	return DispatcherStats{
		Dispatched:        d.dispatched.Load(),
		Failed:            d.failed.Load(),
		DeliveriesCreated: d.created.Load(),
	}
}
