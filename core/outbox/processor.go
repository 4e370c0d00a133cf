package outbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/relay/core/logger"
	"github.com/dmitrymomot/relay/core/sanitizer"
	"github.com/dmitrymomot/relay/pkg/backoff"
)

// HandlerPanic is recorded when a delivery handler panics.
type HandlerPanic struct {
	Handler string
	Value   any
	Stack   []byte
}

func (p *HandlerPanic) Error() string {
	return fmt.Sprintf("delivery handler %s panicked: %v", p.Handler, p.Value)
}

// Processor executes individual deliveries.
type Processor struct {
	store     Store
	registry  *Registry
	scheduler Scheduler
	logger    *slog.Logger

	maxAttempts    int
	handlerTimeout time.Duration
	leaseTimeout   time.Duration
	pendingGrace   time.Duration
	batchSize      int
	backoff        backoff.Policy
	now            func() time.Time

	succeeded atomic.Int64
	retried   atomic.Int64
	failed    atomic.Int64
}

// ProcessorStats provides lifetime counters.
type ProcessorStats struct {
	Succeeded int64
	Retried   int64 // failed attempts left retryable
	Failed    int64 // deliveries terminally Failed
}

// ProcessorOption configures a Processor.
type ProcessorOption func(*Processor)

// WithDeliveryMaxAttempts sets how many failed attempts make a delivery terminally Failed.
func WithDeliveryMaxAttempts(n int) ProcessorOption {
	return func(p *Processor) {
		if n > 0 {
			p.maxAttempts = n
		}
	}
}

// WithDeliveryTimeout bounds each handler invocation.
func WithDeliveryTimeout(d time.Duration) ProcessorOption {
	return func(p *Processor) {
		if d > 0 {
			p.handlerTimeout = d
		}
	}
}

// WithDeliveryLeaseTimeout sets after how long a Processing delivery may be taken over.
func WithDeliveryLeaseTimeout(d time.Duration) ProcessorOption {
	return func(p *Processor) {
		if d > 0 {
			p.leaseTimeout = d
		}
	}
}

// WithDeliveryPendingGrace sets how old a Pending delivery must be before SweepDue reschedules it.
func WithDeliveryPendingGrace(d time.Duration) ProcessorOption {
	return func(p *Processor) {
		if d > 0 {
			p.pendingGrace = d
		}
	}
}

// WithSweepBatch bounds how many deliveries one SweepDue run reschedules.
func WithSweepBatch(n int) ProcessorOption {
	return func(p *Processor) {
		if n > 0 {
			p.batchSize = n
		}
	}
}

// WithDeliveryBackoff overrides the retry delay policy.
func WithDeliveryBackoff(b backoff.Policy) ProcessorOption {
	return func(p *Processor) { p.backoff = b }
}

// WithProcessorLogger sets the logger.
func WithProcessorLogger(l *slog.Logger) ProcessorOption {
	return func(p *Processor) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithProcessorClock overrides the time source.
func WithProcessorClock(now func() time.Time) ProcessorOption {
	return func(p *Processor) {
		if now != nil {
			p.now = now
		}
	}
}

// NewProcessor creates a delivery processor. scheduler receives retry
// notifications and the ids found by SweepDue.
func NewProcessor(store Store, registry *Registry, scheduler Scheduler, opts ...ProcessorOption) (*Processor, error) {
	switch {
	case store == nil:
		return nil, ErrStoreNil
	case registry == nil:
		return nil, ErrRegistryNil
	case scheduler == nil:
		return nil, ErrSchedulerNil
	}

	cfg := DefaultConfig()
	p := &Processor{
		store:          store,
		registry:       registry,
		scheduler:      scheduler,
		logger:         logger.Discard(),
		maxAttempts:    cfg.MaxAttempts,
		handlerTimeout: cfg.HandlerTimeout,
		leaseTimeout:   cfg.LeaseTimeout,
		pendingGrace:   cfg.PendingGrace,
		batchSize:      cfg.BatchSize,
		backoff:        backoff.Default(),
		now:            func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// NewProcessorFromConfig creates a processor from configuration.
// Additional options override config values.
func NewProcessorFromConfig(cfg Config, store Store, registry *Registry, scheduler Scheduler, opts ...ProcessorOption) (*Processor, error) {
	allOpts := append([]ProcessorOption{
		WithDeliveryMaxAttempts(cfg.MaxAttempts),
		WithDeliveryTimeout(cfg.HandlerTimeout),
		WithDeliveryLeaseTimeout(cfg.LeaseTimeout),
		WithDeliveryPendingGrace(cfg.PendingGrace),
		WithSweepBatch(cfg.BatchSize),
	}, opts...)
	return NewProcessor(store, registry, scheduler, allOpts...)
}

// Process runs one attempt of the delivery identified by id.
//
// Handler failures are recorded on the delivery and return nil. Errors are
// returned only for infrastructure failures and cancellation; a cancelled
// run leaves the delivery claimed until its lease expires.
func (p *Processor) Process(ctx context.Context, id uuid.UUID) error {
	d, err := p.store.GetDelivery(ctx, id)
	if errors.Is(err, ErrDeliveryNotFound) {
		p.logger.WarnContext(ctx, "outbox delivery not found", logger.DeliveryID(id))
		return nil
	}
	if err != nil {
		return fmt.Errorf("load outbox delivery %s: %w", id, err)
	}
	if d.Terminal() {
		p.logger.DebugContext(ctx, "outbox delivery already terminal, skipping",
			logger.DeliveryID(id), logger.Status(d.Status))
		return nil
	}

	claimedAt := p.now().Truncate(time.Microsecond)
	d, err = p.store.TryClaimDelivery(ctx, id, claimedAt, claimedAt.Add(-p.leaseTimeout))
	if errors.Is(err, ErrNotClaimable) {
		p.logger.DebugContext(ctx, "outbox delivery not claimable, skipping", logger.DeliveryID(id))
		return nil
	}
	if err != nil {
		return fmt.Errorf("claim outbox delivery %s: %w", id, err)
	}

	msg, err := p.store.GetMessage(ctx, d.EventID)
	var handleErr error
	switch {
	case errors.Is(err, ErrMessageNotFound):
		handleErr = fmt.Errorf("event %s: %w", d.EventID, err)
	case err != nil:
		return fmt.Errorf("load outbox message %s: %w", d.EventID, err)
	default:
		h, ok := p.registry.Lookup(d.HandlerName)
		if !ok {
			handleErr = fmt.Errorf("%w: %s", ErrUnknownHandler, d.HandlerName)
		} else {
			handleErr = p.invoke(ctx, h, msg)
		}
	}

	if ctx.Err() != nil {
		p.logger.WarnContext(ctx, "outbox delivery cancelled, leaving it claimed",
			logger.DeliveryID(d.ID), logger.Error(ctx.Err()))
		return ctx.Err()
	}
	if handleErr != nil {
		return p.fail(ctx, d, claimedAt, handleErr)
	}
	return p.succeed(ctx, d, claimedAt)
}

func (p *Processor) invoke(ctx context.Context, h DeliveryHandler, msg *Message) error {
	if p.handlerTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.handlerTimeout)
		defer cancel()
	}

	err := safeHandle(ctx, h, msg)
	if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w after %s: %w", ErrHandlerTimeout, p.handlerTimeout, err)
	}
	return err
}

func safeHandle(ctx context.Context, h DeliveryHandler, msg *Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &HandlerPanic{Handler: h.Name(), Value: r, Stack: debug.Stack()}
		}
	}()
	return h.Handle(ctx, msg.ID, msg.CorrelationID, msg.Payload)
}

func (p *Processor) succeed(ctx context.Context, d *Delivery, claimedAt time.Time) error {
	now := p.now()
	d.Status = DeliverySucceeded
	d.ProcessedAt = &now
	d.NextAttemptAt = nil
	d.LastError = ""
	d.UpdatedAt = now
	if err := p.save(ctx, d, claimedAt); err != nil {
		return err
	}

	p.succeeded.Add(1)
	p.logger.DebugContext(ctx, "outbox delivery succeeded",
		logger.DeliveryID(d.ID),
		logger.Handler(d.HandlerName),
		logger.Attempt(d.Attempts+1))
	return nil
}

func (p *Processor) fail(ctx context.Context, d *Delivery, claimedAt time.Time, cause error) error {
	now := p.now()
	d.Attempts++
	d.Status = DeliveryFailed
	d.LastError = sanitizer.ErrorMessage(cause, MaxLastErrorLength)
	d.UpdatedAt = now

	attrs := []any{
		logger.DeliveryID(d.ID),
		logger.EventID(d.EventID),
		logger.Handler(d.HandlerName),
		logger.Attempt(d.Attempts),
		logger.Error(cause),
	}
	var hp *HandlerPanic
	if errors.As(cause, &hp) {
		attrs = append(attrs, slog.String("stack", string(hp.Stack)))
	}

	if d.Attempts >= p.maxAttempts {
		d.NextAttemptAt = nil
		if err := p.save(ctx, d, claimedAt); err != nil {
			return err
		}
		p.failed.Add(1)
		p.logger.ErrorContext(ctx, "outbox delivery failed permanently", attrs...)
		return nil
	}

	next := p.backoff.Next(now, d.Attempts)
	d.NextAttemptAt = &next
	if err := p.save(ctx, d, claimedAt); err != nil {
		return err
	}
	p.retried.Add(1)
	p.logger.WarnContext(ctx, "outbox delivery failed, retry scheduled",
		append(attrs, slog.Time("next_attempt_at", next))...)

	if err := p.scheduler.EnqueueAt(ctx, d.ID, next); err != nil {
		p.logger.ErrorContext(ctx, "failed to schedule outbox delivery retry",
			logger.DeliveryID(d.ID), logger.Error(err))
	}
	return nil
}

func (p *Processor) save(ctx context.Context, d *Delivery, claimedAt time.Time) error {
	err := p.store.SaveDelivery(ctx, d, claimedAt)
	if errors.Is(err, ErrNotClaimable) {
		p.logger.WarnContext(ctx, "outbox delivery claim lost before save", logger.DeliveryID(d.ID))
		return nil
	}
	if err != nil {
		return fmt.Errorf("save outbox delivery %s: %w", d.ID, err)
	}
	return nil
}

// SweepDue reschedules deliveries no job will pick up on its own: Pending
// ones whose initial notification was lost, retryable Failed ones that are
// due and Processing ones whose lease expired. It returns how many were
// scheduled.
func (p *Processor) SweepDue(ctx context.Context) (int, error) {
	now := p.now()
	ids, err := p.store.ListDueDeliveries(ctx, DueQuery{
		Now:           now,
		PendingBefore: now.Add(-p.pendingGrace),
		StaleBefore:   now.Add(-p.leaseTimeout),
		Limit:         p.batchSize,
	})
	if err != nil {
		return 0, fmt.Errorf("list due outbox deliveries: %w", err)
	}

	scheduled := 0
	for _, id := range ids {
		if err := p.scheduler.Enqueue(ctx, id); err != nil {
			return scheduled, fmt.Errorf("schedule outbox delivery %s: %w", id, err)
		}
		scheduled++
	}
	if scheduled > 0 {
		p.logger.InfoContext(ctx, "rescheduled due outbox deliveries", logger.Count("count", scheduled))
	}
	return scheduled, nil
}

// Stats returns lifetime counters.
func (p *Processor) Stats() ProcessorStats {
	return ProcessorStats{
		Succeeded: p.succeeded.Load(),
		Retried:   p.retried.Load(),
		Failed:    p.failed.Load(),
	}
}
