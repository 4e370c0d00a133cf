package gym

import (
	"context"
	"fmt"
	"log/slog"
	"net/mail"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/relay/core/command"
	"github.com/dmitrymomot/relay/core/logger"
	"github.com/dmitrymomot/relay/core/notification"
	"github.com/dmitrymomot/relay/core/outbox"
)

// NotificationScheduler schedules user-facing notifications.
// *notification.Scheduler satisfies it.
type NotificationScheduler interface {
	Schedule(ctx context.Context, req notification.Request) (*notification.Message, bool, error)
}

// EventPublisher records outbox events. *outbox.Publisher satisfies it.
type EventPublisher interface {
	Publish(ctx context.Context, eventType, correlationID string, payload any) (*outbox.Message, error)
}

// Handlers implements the gym command handlers.
type Handlers struct {
	notifications NotificationScheduler
	events        EventPublisher
	audit         AuditStore
	tx            notification.TxRunner
	logger        *slog.Logger
	now           func() time.Time
}

// Option configures Handlers.
type Option func(*Handlers)

// WithTxRunner sets the runner that makes notify_trainer atomic.
// Defaults to notification.NoTx.
func WithTxRunner(tx notification.TxRunner) Option {
	return func(h *Handlers) {
		if tx != nil {
			h.tx = tx
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(h *Handlers) {
		if l != nil {
			h.logger = l
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(h *Handlers) {
		if now != nil {
			h.now = now
		}
	}
}

// NewHandlers creates the gym handlers.
func NewHandlers(notifications NotificationScheduler, events EventPublisher, audit AuditStore, opts ...Option) (*Handlers, error) {
	if notifications == nil {
		return nil, ErrNotificationsNil
	}
	if events == nil {
		return nil, ErrPublisherNil
	}
	if audit == nil {
		return nil, ErrAuditStoreNil
	}
	h := &Handlers{
		notifications: notifications,
		events:        events,
		audit:         audit,
		tx:            notification.NoTx,
		logger:        logger.Discard(),
		now:           func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// Registrations returns the static handler table of every gym command.
func (h *Handlers) Registrations() []command.Registration {
	return []command.Registration{
		command.Register(
			command.HandlerFunc(SendInvitationEmailHandler, h.SendInvitationEmail),
			command.HandlerFunc(RecordInvitationAuditHandler, h.RecordInvitationAudit),
		),
		command.Register(
			command.HandlerFunc(NotifyTrainerHandler, h.NotifyTrainer),
		),
	}
}

// SendInvitationEmail schedules the invitation email for the trainee.
func (h *Handlers) SendInvitationEmail(ctx context.Context, cmd InvitationCreated) error {
	if err := validateInvitation(cmd); err != nil {
		return err
	}

	msg, created, err := h.notifications.Schedule(ctx, notification.Request{
		Channel:       notification.ChannelEmail,
		Type:          InvitationNotification,
		CorrelationID: cmd.InvitationID.String(),
		Recipient:     cmd.TraineeEmail,
		Payload: InvitationPayload{
			InvitationID: cmd.InvitationID,
			TrainerID:    cmd.TrainerID,
			TraineeName:  cmd.TraineeName,
		},
	})
	if err != nil {
		return fmt.Errorf("schedule invitation email: %w", err)
	}

	h.logger.DebugContext(ctx, "invitation email scheduled",
		logger.NotificationID(msg.ID),
		slog.Bool("created", created),
		logger.ID("invitation_id", cmd.InvitationID))
	return nil
}

// RecordInvitationAudit writes the derived audit row of the invitation.
func (h *Handlers) RecordInvitationAudit(ctx context.Context, cmd InvitationCreated) error {
	if err := validateInvitation(cmd); err != nil {
		return err
	}

	written, err := h.audit.RecordInvitation(ctx, AuditRecord{
		InvitationID: cmd.InvitationID,
		TrainerID:    cmd.TrainerID,
		TraineeEmail: cmd.TraineeEmail,
		RecordedAt:   h.now(),
	})
	if err != nil {
		return fmt.Errorf("record invitation audit: %w", err)
	}
	if !written {
		h.logger.DebugContext(ctx, "invitation audit already recorded", logger.ID("invitation_id", cmd.InvitationID))
	}
	return nil
}

// NotifyTrainer schedules the trainer push notification and publishes the
// session.completed event in one transaction.
func (h *Handlers) NotifyTrainer(ctx context.Context, cmd SessionCompleted) error {
	if cmd.SessionID == uuid.Nil || cmd.TrainerID == uuid.Nil {
		return fmt.Errorf("%w: session and trainer ids are required", ErrInvalidCommand)
	}

	payload := SessionCompletedPayload(cmd)
	return h.tx.InTx(ctx, func(ctx context.Context) error {
		_, created, err := h.notifications.Schedule(ctx, notification.Request{
			Channel:       notification.ChannelPush,
			Type:          SessionCompletedNotification,
			CorrelationID: cmd.SessionID.String(),
			Recipient:     cmd.TrainerID.String(),
			Payload:       payload,
		})
		if err != nil {
			return fmt.Errorf("schedule trainer notification: %w", err)
		}
		// A retried envelope finds the notification already active; the event
		// went out with it.
		if !created {
			return nil
		}
		if _, err := h.events.Publish(ctx, EventSessionCompleted, cmd.SessionID.String(), payload); err != nil {
			return fmt.Errorf("publish %s: %w", EventSessionCompleted, err)
		}
		return nil
	})
}

func validateInvitation(cmd InvitationCreated) error {
	if cmd.InvitationID == uuid.Nil {
		return fmt.Errorf("%w: invitation id is required", ErrInvalidCommand)
	}
	if _, err := mail.ParseAddress(cmd.TraineeEmail); err != nil {
		return fmt.Errorf("%w: trainee email: %w", ErrInvalidCommand, err)
	}
	return nil
}
