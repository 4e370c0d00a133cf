package outbox

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Store persists outbox messages and their per-handler deliveries.
//
// AddMessage must join the caller's ambient transaction so the message
// commits or rolls back with the state change that produced it. Claims are
// compare-and-set operations on status, and saves are fenced by the claim
// timestamp, so concurrent dispatchers and processors need no in-process
// coordination.
type Store interface {
	// AddMessage inserts a new message.
	AddMessage(ctx context.Context, msg *Message) error

	// GetMessage returns ErrMessageNotFound when id is unknown.
	GetMessage(ctx context.Context, id uuid.UUID) (*Message, error)

	// ListDueMessages returns messages the dispatcher should pick up: Pending
	// ones, retryable Failed ones whose NextAttemptAt passed and Processing
	// ones claimed before StaleBefore. PendingBefore is ignored.
	ListDueMessages(ctx context.Context, q DueQuery) ([]uuid.UUID, error)

	// TryMarkProcessing claims a message and stamps ClaimedAt with now. It
	// yields ErrNotClaimable unless the message is due per ListDueMessages.
	TryMarkProcessing(ctx context.Context, id uuid.UUID, now, staleBefore time.Time) (*Message, error)

	// SaveMessage persists the outcome of a claimed message while the claim
	// identified by claimedAt still holds; otherwise it yields ErrNotClaimable.
	SaveMessage(ctx context.Context, msg *Message, claimedAt time.Time) error

	// AddDeliveryIfAbsent inserts d unless a delivery for the same
	// (EventID, HandlerName) exists. It returns the stored delivery and
	// whether this call created it.
	AddDeliveryIfAbsent(ctx context.Context, d *Delivery) (*Delivery, bool, error)

	// GetDelivery returns ErrDeliveryNotFound when id is unknown.
	GetDelivery(ctx context.Context, id uuid.UUID) (*Delivery, error)

	// ListDeliveries returns the deliveries of one message ordered by handler name.
	ListDeliveries(ctx context.Context, eventID uuid.UUID) ([]*Delivery, error)

	// ListDueDeliveries returns deliveries that need a scheduler notification:
	// Pending ones created before PendingBefore, retryable Failed ones whose
	// NextAttemptAt passed and Processing ones claimed before StaleBefore.
	ListDueDeliveries(ctx context.Context, q DueQuery) ([]uuid.UUID, error)

	// TryClaimDelivery moves a Pending, due Failed or stale Processing
	// delivery to Processing and stamps ClaimedAt with now.
	TryClaimDelivery(ctx context.Context, id uuid.UUID, now, staleBefore time.Time) (*Delivery, error)

	// SaveDelivery persists the outcome of a claimed delivery, fenced like SaveMessage.
	SaveDelivery(ctx context.Context, d *Delivery, claimedAt time.Time) error

	// CountMessagesByStatus and CountDeliveriesByStatus report counts for observability.
	CountMessagesByStatus(ctx context.Context) (map[MessageStatus]int, error)
	CountDeliveriesByStatus(ctx context.Context) (map[DeliveryStatus]int, error)
}

// DueQuery selects records needing attention.
type DueQuery struct {
	Now           time.Time
	PendingBefore time.Time
	StaleBefore   time.Time
	Limit         int
}

// Scheduler hands delivery identifiers to the job-running substrate.
type Scheduler interface {
	Enqueue(ctx context.Context, id uuid.UUID) error
	EnqueueAt(ctx context.Context, id uuid.UUID, at time.Time) error
}
