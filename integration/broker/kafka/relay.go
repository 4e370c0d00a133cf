package kafka

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"

	"github.com/dmitrymomot/relay/core/outbox"
)

// NewRelayHandler returns an outbox delivery handler that forwards every
// eventType message to Kafka. Delivery is at least once: a retried delivery
// may publish twice, and consumers deduplicate on the event_id header.
func NewRelayHandler(name, eventType string, p *Publisher) (outbox.DeliveryHandler, error) {
	if p == nil {
		return nil, ErrPublisherNil
	}
	if eventType == "" {
		return nil, ErrEmptyEventType
	}
	return outbox.NewHandler(name, eventType, func(ctx context.Context, eventID uuid.UUID, correlationID string, payload json.RawMessage) error {
		return p.Publish(ctx, Event{
			ID:            eventID.String(),
			Type:          eventType,
			CorrelationID: correlationID,
			Payload:       payload,
		})
	}), nil
}
