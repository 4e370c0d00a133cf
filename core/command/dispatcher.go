package command

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/relay/core/logger"
	"github.com/dmitrymomot/relay/pkg/idempotency"
)

// Dispatcher accepts commands and persists them as deduplicated envelopes.
type Dispatcher struct {
	store     EnvelopeStore
	registry  *Registry
	scheduler Scheduler
	logger    *slog.Logger
	now       func() time.Time

	enqueued     atomic.Int64
	deduplicated atomic.Int64
	dropped      atomic.Int64
}

// DispatcherStats provides observability counters.
type DispatcherStats struct {
	Enqueued     int64 // envelopes created and handed to the scheduler
	Deduplicated int64 // calls that resolved to an existing envelope
	Dropped      int64 // calls for command types without handlers
}

// EnqueueResult describes what Enqueue did.
type EnqueueResult struct {
	EnvelopeID uuid.UUID
	Created    bool
	// Dropped is set when the command type has no handlers. Nothing was persisted.
	Dropped bool
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

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

// NewDispatcher creates a dispatcher.
func NewDispatcher(store EnvelopeStore, registry *Registry, scheduler Scheduler, opts ...DispatcherOption) (*Dispatcher, error) {
	switch {
	case store == nil:
		return nil, ErrStoreNil
	case registry == nil:
		return nil, ErrRegistryNil
	case scheduler == nil:
		return nil, ErrSchedulerNil
	}

	d := &Dispatcher{
		store:     store,
		registry:  registry,
		scheduler: scheduler,
		logger:    logger.Discard(),
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Enqueue persists cmd and notifies the scheduler with the envelope ID.
// Identical commands collapse to one envelope and one scheduler call. A
// command type without handlers is silently dropped.
func (d *Dispatcher) Enqueue(ctx context.Context, cmd Command) error {
	_, err := d.EnqueueWithResult(ctx, cmd)
	return err
}

// EnqueueWithResult is Enqueue that also reports the outcome.
//
// When the envelope is stored but the scheduler call fails, the error is
// returned and the envelope stays Pending; the Sweeper schedules it later.
func (d *Dispatcher) EnqueueWithResult(ctx context.Context, cmd Command) (EnqueueResult, error) {
	if cmd == nil {
		return EnqueueResult{}, ErrNilCommand
	}

	discriminator := cmd.CommandType()
	if discriminator == "" {
		return EnqueueResult{}, fmt.Errorf("%w: %T", ErrUnnamedCommand, cmd)
	}

	if len(d.registry.Executors(cmd)) == 0 {
		d.dropped.Add(1)
		d.logger.DebugContext(ctx, "no handlers for command, dropping",
			logger.CommandType(discriminator),
			slog.String("go_type", fmt.Sprintf("%T", cmd)))
		return EnqueueResult{Dropped: true}, nil
	}

	payload, err := idempotency.Canonical(cmd)
	if err != nil {
		return EnqueueResult{}, fmt.Errorf("encode command %s: %w", discriminator, err)
	}
	key, err := idempotency.Key(discriminator, payload)
	if err != nil {
		return EnqueueResult{}, fmt.Errorf("derive correlation key for %s: %w", discriminator, err)
	}

	now := d.now()
	stored, created, err := d.store.AddOrGet(ctx, &Envelope{
		ID:             uuid.New(),
		CorrelationKey: key,
		CommandType:    discriminator,
		Payload:        payload,
		Status:         StatusPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	})
	if err != nil {
		return EnqueueResult{}, fmt.Errorf("persist envelope for %s: %w", discriminator, err)
	}

	res := EnqueueResult{EnvelopeID: stored.ID, Created: created}
	if !created {
		d.deduplicated.Add(1)
		d.logger.DebugContext(ctx, "reused existing envelope",
			logger.EnvelopeID(stored.ID),
			logger.CommandType(discriminator),
			logger.Status(stored.Status))
		return res, nil
	}

	if err := d.scheduler.Enqueue(ctx, stored.ID); err != nil {
		return res, fmt.Errorf("schedule envelope %s: %w", stored.ID, err)
	}

	d.enqueued.Add(1)
	d.logger.InfoContext(ctx, "command enqueued",
		logger.EnvelopeID(stored.ID),
		logger.CommandType(discriminator))

	return res, nil
}

// Stats returns current counters.
func (d *Dispatcher) Stats() DispatcherStats {
	return DispatcherStats{
		Enqueued:     d.enqueued.Load(),
		Deduplicated: d.deduplicated.Load(),
		Dropped:      d.dropped.Load(),
	}
}
