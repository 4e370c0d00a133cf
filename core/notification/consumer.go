package notification

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/dmitrymomot/relay/core/outbox"
)

// EnqueueSendHandlerName is the outbox delivery handler name of the consumer
// returned by NewEnqueueSendHandler.
const EnqueueSendHandlerName = "notification.enqueue_send"

// SendTaskName is the job kind that runs Deliverer.Send.
const SendTaskName = "notification.send"

// Enqueuer schedules the send job for a notification id. queue.Binding
// satisfies it.
type Enqueuer interface {
	Enqueue(ctx context.Context, id uuid.UUID) error
}

// NewEnqueueSendHandler returns the outbox consumer that turns each
// EventScheduled message into a send job carrying the notification id.
func NewEnqueueSendHandler(q Enqueuer) (outbox.DeliveryHandler, error) {
	if q == nil {
		return nil, ErrEnqueuerNil
	}
	return outbox.NewHandler(EnqueueSendHandlerName, EventScheduled,
		func(ctx context.Context, _ uuid.UUID, _ string, payload json.RawMessage) error {
			var ev ScheduledEvent
			if err := json.Unmarshal(payload, &ev); err != nil {
				return fmt.Errorf("%w: %w", ErrInvalidEvent, err)
			}
			if ev.NotificationID == uuid.Nil {
				return fmt.Errorf("%w: missing notification_id", ErrInvalidEvent)
			}
			if err := q.Enqueue(ctx, ev.NotificationID); err != nil {
				return fmt.Errorf("enqueue %s job: %w", SendTaskName, err)
			}
			return nil
		}), nil
}
