package notification

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

// JobScheduler schedules send jobs for notification ids. queue.Binding and
// redisjobs.Queue satisfy it.
type JobScheduler interface {
	Enqueue(ctx context.Context, id uuid.UUID) error
	EnqueueAt(ctx context.Context, id uuid.UUID, at time.Time) error
}

// Deliverer runs the send job of a notification and owns its retries: a
// failed attempt below the cap records the next attempt time and schedules
// a send job for it, and SweepDue picks up notifications whose job was lost.
type Deliverer struct {
	store        Store
	senders      Senders
	scheduler    JobScheduler
	logger       *slog.Logger
	maxAttempts  int
	pendingGrace time.Duration
	batchSize    int
	backoff      backoff.Policy
	now          func() time.Time

	sent    atomic.Int64
	retried atomic.Int64
	failed  atomic.Int64
}

// DelivererStats provides lifetime counters.
type DelivererStats struct {
	Sent    int64
	Retried int64
	Failed  int64
}

// DelivererOption configures a Deliverer.
type DelivererOption func(*Deliverer)

// WithMaxAttempts sets how many failed attempts make a notification Failed.
func WithMaxAttempts(n int) DelivererOption {
	return func(d *Deliverer) {
		if n > 0 {
			d.maxAttempts = n
		}
	}
}

// WithSendPendingGrace sets how long past its due time a Pending
// notification waits before SweepDue reschedules it.
func WithSendPendingGrace(d time.Duration) DelivererOption {
	return func(del *Deliverer) {
		if d > 0 {
			del.pendingGrace = d
		}
	}
}

// WithSendSweepBatch bounds how many notifications one SweepDue run reschedules.
func WithSendSweepBatch(n int) DelivererOption {
	return func(d *Deliverer) {
		if n > 0 {
			d.batchSize = n
		}
	}
}

// WithSendBackoff overrides the retry delay policy.
func WithSendBackoff(b backoff.Policy) DelivererOption {
	return func(d *Deliverer) { d.backoff = b }
}

// WithDelivererLogger sets the logger.
func WithDelivererLogger(l *slog.Logger) DelivererOption {
	return func(d *Deliverer) {
		if l != nil {
			d.logger = l
		}
	}
}

// WithDelivererClock overrides the time source.
func WithDelivererClock(now func() time.Time) DelivererOption {
	return func(d *Deliverer) {
		if now != nil {
			d.now = now
		}
	}
}

// NewDeliverer creates a deliverer. scheduler receives retry jobs and the
// ids found by SweepDue.
func NewDeliverer(store Store, senders Senders, scheduler JobScheduler, opts ...DelivererOption) (*Deliverer, error) {
	switch {
	case store == nil:
		return nil, ErrStoreNil
	case scheduler == nil:
		return nil, ErrJobSchedulerNil
	}

	cfg := DefaultConfig()
	d := &Deliverer{
		store:        store,
		senders:      senders,
		scheduler:    scheduler,
		logger:       logger.Discard(),
		maxAttempts:  cfg.MaxAttempts,
		pendingGrace: cfg.PendingGrace,
		batchSize:    cfg.SweepBatch,
		backoff:      backoff.Default(),
		now:          func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// NewDelivererFromConfig creates a deliverer from configuration.
// Additional options override config values.
func NewDelivererFromConfig(cfg Config, store Store, senders Senders, scheduler JobScheduler, opts ...DelivererOption) (*Deliverer, error) {
	allOpts := append([]DelivererOption{
		WithMaxAttempts(cfg.MaxAttempts),
		WithSendPendingGrace(cfg.PendingGrace),
		WithSendSweepBatch(cfg.SweepBatch),
	}, opts...)
	return NewDeliverer(store, senders, scheduler, allOpts...)
}

// Send makes one delivery attempt for the notification identified by id.
//
// Sent and Failed notifications are left alone, which makes duplicate send
// jobs harmless. A failed attempt below the cap stays Pending with a backoff
// NextAttemptAt and a send job scheduled for it; the attempt that reaches
// the cap marks the notification Failed. Sender outcomes return nil, so the
// job substrate's own retry budget never decides a notification's fate.
// Errors are returned only for store failures and cancellation.
func (d *Deliverer) Send(ctx context.Context, id uuid.UUID) error {
	msg, err := d.store.Get(ctx, id)
	if errors.Is(err, ErrNotFound) {
		d.logger.WarnContext(ctx, "notification not found", logger.NotificationID(id))
		return nil
	}
	if err != nil {
		return fmt.Errorf("load notification %s: %w", id, err)
	}
	if msg.Status != StatusPending {
		d.logger.DebugContext(ctx, "notification already final, skipping",
			logger.NotificationID(id), logger.Status(msg.Status))
		return nil
	}
	if msg.NextAttemptAt != nil && d.now().Before(*msg.NextAttemptAt) {
		d.logger.DebugContext(ctx, "notification retry not due yet, skipping",
			logger.NotificationID(id), slog.Time("next_attempt_at", *msg.NextAttemptAt))
		return nil
	}

	delivered, sendErr := d.attempt(ctx, msg)
	if ctx.Err() != nil {
		return ctx.Err()
	}

	expected := msg.Attempts
	now := d.now()
	msg.Attempts++
	msg.LastAttemptAt = &now
	msg.NextAttemptAt = nil
	msg.UpdatedAt = now

	if sendErr == nil && delivered {
		msg.Status = StatusSent
		msg.SentAt = &now
		msg.LastError = ""
		if err := d.save(ctx, msg, expected); err != nil {
			return err
		}
		d.sent.Add(1)
		d.logger.InfoContext(ctx, "notification sent",
			logger.NotificationID(msg.ID),
			slog.String("channel", msg.Channel),
			logger.Attempt(msg.Attempts))
		return nil
	}

	if sendErr == nil {
		sendErr = ErrSenderDeclined
	}
	msg.LastError = sanitizer.ErrorMessage(sendErr, MaxLastErrorLength)

	if msg.Attempts >= d.maxAttempts {
		msg.Status = StatusFailed
		if err := d.save(ctx, msg, expected); err != nil {
			return err
		}
		d.failed.Add(1)
		d.logger.ErrorContext(ctx, "notification failed permanently",
			logger.NotificationID(msg.ID),
			slog.String("channel", msg.Channel),
			logger.Attempt(msg.Attempts),
			logger.Error(sendErr))
		return nil
	}

	next := d.backoff.Next(now, msg.Attempts)
	msg.NextAttemptAt = &next
	if err := d.save(ctx, msg, expected); err != nil {
		return err
	}
	d.retried.Add(1)
	d.logger.WarnContext(ctx, "notification attempt failed, retry scheduled",
		logger.NotificationID(msg.ID),
		slog.String("channel", msg.Channel),
		logger.Attempt(msg.Attempts),
		slog.Time("next_attempt_at", next),
		logger.Error(sendErr))

	if err := d.scheduler.EnqueueAt(ctx, msg.ID, next); err != nil {
		d.logger.ErrorContext(ctx, "failed to schedule notification retry",
			logger.NotificationID(msg.ID), logger.Error(err))
	}
	return nil
}

func (d *Deliverer) attempt(ctx context.Context, msg *Message) (bool, error) {
	sender, ok := d.senders.For(msg.Channel)
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrNoSender, msg.Channel)
	}
	return safeSend(ctx, sender, msg)
}

func (d *Deliverer) save(ctx context.Context, msg *Message, expectedAttempts int) error {
	err := d.store.Save(ctx, msg, expectedAttempts)
	if errors.Is(err, ErrConflict) {
		// A concurrent send job recorded its outcome first.
		d.logger.WarnContext(ctx, "notification changed during send", logger.NotificationID(msg.ID))
		return nil
	}
	if err != nil {
		return fmt.Errorf("save notification %s: %w", msg.ID, err)
	}
	return nil
}

// SweepDue schedules send jobs for Pending notifications that are more than
// the pending grace past their due time: their first job was never enqueued
// or a retry job was lost or dead-lettered. It returns how many were scheduled.
func (d *Deliverer) SweepDue(ctx context.Context) (int, error) {
	ids, err := d.store.ListDue(ctx, d.now().Add(-d.pendingGrace), d.batchSize)
	if err != nil {
		return 0, fmt.Errorf("list due notifications: %w", err)
	}

	scheduled := 0
	for _, id := range ids {
		if err := d.scheduler.Enqueue(ctx, id); err != nil {
			return scheduled, fmt.Errorf("schedule notification %s: %w", id, err)
		}
		scheduled++
	}
	if scheduled > 0 {
		d.logger.InfoContext(ctx, "rescheduled due notifications", logger.Count("count", scheduled))
	}
	return scheduled, nil
}

// Stats returns lifetime counters.
func (d *Deliverer) Stats() DelivererStats {
	return DelivererStats{
		Sent:    d.sent.Load(),
		Retried: d.retried.Load(),
		Failed:  d.failed.Load(),
	}
}
