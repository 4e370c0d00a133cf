package notification

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/relay/core/logger"
	"github.com/dmitrymomot/relay/core/outbox"
	"github.com/dmitrymomot/relay/core/sanitizer"
	"github.com/dmitrymomot/relay/pkg/idempotency"
)

// EventScheduled is the outbox event type announcing a new notification.
const EventScheduled = "notification.scheduled"

// ScheduledEvent is the payload of EventScheduled. It carries the
// notification id only; consumers load the record.
type ScheduledEvent struct {
	NotificationID uuid.UUID `json:"notification_id"`
}

// Publisher records outbox events. *outbox.Publisher satisfies it.
type Publisher interface {
	Publish(ctx context.Context, eventType, correlationID string, payload any) (*outbox.Message, error)
}

// Scheduler records notifications together with the outbox event that
// triggers their delivery.
type Scheduler struct {
	store     Store
	publisher Publisher
	tx        TxRunner
	logger    *slog.Logger
	now       func() time.Time
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithTxRunner sets the transaction runner. Defaults to NoTx.
func WithTxRunner(tx TxRunner) SchedulerOption {
	return func(s *Scheduler) {
		if tx != nil {
			s.tx = tx
		}
	}
}

// WithSchedulerLogger sets the logger.
func WithSchedulerLogger(l *slog.Logger) SchedulerOption {
	return func(s *Scheduler) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithSchedulerClock overrides the time source.
func WithSchedulerClock(now func() time.Time) SchedulerOption {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

// NewScheduler creates a notification scheduler.
func NewScheduler(store Store, publisher Publisher, opts ...SchedulerOption) (*Scheduler, error) {
	if store == nil {
		return nil, ErrStoreNil
	}
	if publisher == nil {
		return nil, ErrPublisherNil
	}
	s := &Scheduler{
		store:     store,
		publisher: publisher,
		tx:        NoTx,
		logger:    logger.Discard(),
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Schedule stores a Pending notification and its EventScheduled outbox
// message in one transaction. When an active notification with the same
// (type, correlation id, recipient) exists, Schedule returns it with
// created=false and publishes nothing.
//
// Called from within an outer transaction (a command handler's scope),
// the runner joins it.
func (s *Scheduler) Schedule(ctx context.Context, req Request) (*Message, bool, error) {
	msg, err := s.build(req)
	if err != nil {
		return nil, false, err
	}

	var (
		stored  *Message
		created bool
	)
	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		var err error
		stored, created, err = s.store.AddIfNoActive(ctx, msg)
		if err != nil {
			return fmt.Errorf("add notification: %w", err)
		}
		if !created {
			return nil
		}
		_, err = s.publisher.Publish(ctx, EventScheduled, stored.ID.String(), ScheduledEvent{NotificationID: stored.ID})
		return err
	})
	if err != nil {
		return nil, false, fmt.Errorf("schedule %s notification: %w", req.Type, err)
	}

	if created {
		s.logger.InfoContext(ctx, "notification scheduled",
			logger.NotificationID(stored.ID),
			slog.String("type", stored.Type),
			slog.String("channel", stored.Channel),
			logger.CorrelationID(stored.CorrelationID))
	} else {
		s.logger.DebugContext(ctx, "duplicate notification suppressed",
			logger.NotificationID(stored.ID),
			logger.Status(stored.Status),
			logger.CorrelationID(stored.CorrelationID))
	}
	return stored, created, nil
}

func (s *Scheduler) build(req Request) (*Message, error) {
	if err := sanitizer.SanitizeStruct(&req); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	channel, typ, correlationID, recipient := req.Channel, req.Type, req.CorrelationID, req.Recipient
	if channel == ChannelEmail {
		recipient = sanitizer.NormalizeEmail(recipient)
	}

	switch {
	case channel == "":
		return nil, fmt.Errorf("%w: channel is required", ErrInvalidRequest)
	case typ == "":
		return nil, fmt.Errorf("%w: type is required", ErrInvalidRequest)
	case correlationID == "":
		return nil, fmt.Errorf("%w: correlation id is required", ErrInvalidRequest)
	case recipient == "":
		return nil, fmt.Errorf("%w: recipient is required", ErrInvalidRequest)
	}

	payload, err := idempotency.Canonical(req.Payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}

	now := s.now()
	return &Message{
		ID:            uuid.New(),
		Channel:       channel,
		Type:          typ,
		CorrelationID: correlationID,
		Recipient:     recipient,
		Payload:       payload,
		Status:        StatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}
