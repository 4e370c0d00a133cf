package notification

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Store persists notifications.
type Store interface {
	// AddIfNoActive inserts msg unless an active notification with the same
	// (Type, CorrelationID, Recipient) exists. It returns the stored record
	// and whether this call created it. Implementations enforce this with a
	// uniqueness constraint over active records and join the caller's
	// ambient transaction.
	AddIfNoActive(ctx context.Context, msg *Message) (*Message, bool, error)

	// Get returns ErrNotFound when id is unknown.
	Get(ctx context.Context, id uuid.UUID) (*Message, error)

	// Save writes the outcome of a send attempt. It applies only while the
	// stored record is Pending with expectedAttempts attempts; otherwise it
	// yields ErrConflict.
	Save(ctx context.Context, msg *Message, expectedAttempts int) error

	// ListDue returns Pending notifications whose next attempt, or creation
	// when none was attempted yet, is at or before before. Oldest first, at
	// most limit ids; limit <= 0 means no bound.
	ListDue(ctx context.Context, before time.Time, limit int) ([]uuid.UUID, error)

	// CountByStatus reports counts for observability.
	CountByStatus(ctx context.Context) (map[Status]int, error)
}

// TxRunner runs fn inside a database transaction carried by the context
// passed to fn.
type TxRunner interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// TxFunc adapts a function to TxRunner.
type TxFunc func(ctx context.Context, fn func(ctx context.Context) error) error

// InTx calls f.
func (f TxFunc) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return f(ctx, fn)
}

// NoTx runs fn directly. It suits in-memory stores, which have no transactions.
var NoTx TxRunner = TxFunc(func(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
})
