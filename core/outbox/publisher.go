package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/relay/core/logger"
	"github.com/dmitrymomot/relay/pkg/idempotency"
)

// Publisher records domain events in the outbox.
type Publisher struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time
}

// PublisherOption configures a Publisher.
type PublisherOption func(*Publisher)

// WithPublisherLogger sets the logger.
func WithPublisherLogger(l *slog.Logger) PublisherOption {
	return func(p *Publisher) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithPublisherClock overrides the time source.
func WithPublisherClock(now func() time.Time) PublisherOption {
	return func(p *Publisher) {
		if now != nil {
			p.now = now
		}
	}
}

// NewPublisher creates a publisher.
func NewPublisher(store Store, opts ...PublisherOption) (*Publisher, error) {
	if store == nil {
		return nil, ErrStoreNil
	}
	p := &Publisher{
		store:  store,
		logger: logger.Discard(),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Publish writes a Pending message. Call it inside the transaction that
// performs the state change the event describes: the store joins the
// transaction carried by ctx, so both commit or neither does.
//
// payload may be any JSON-marshalable value or a json.RawMessage; it is
// stored in canonical form.
func (p *Publisher) Publish(ctx context.Context, eventType, correlationID string, payload any) (*Message, error) {
	if strings.TrimSpace(eventType) == "" {
		return nil, ErrEmptyEventType
	}

	var (
		canonical []byte
		err       error
	)
	if raw, ok := payload.(json.RawMessage); ok {
		canonical, err = idempotency.CanonicalJSON(raw)
	} else {
		canonical, err = idempotency.Canonical(payload)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}

	now := p.now()
	msg := &Message{
		ID:            uuid.New(),
		EventType:     eventType,
		Payload:       canonical,
		CorrelationID: correlationID,
		Status:        MessagePending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := p.store.AddMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("add outbox message %q: %w", eventType, err)
	}

	p.logger.DebugContext(ctx, "outbox message recorded",
		logger.EventID(msg.ID),
		logger.EventType(eventType),
		logger.CorrelationID(correlationID))
	return msg, nil
}
