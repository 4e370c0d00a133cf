package command

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// EnvelopeStore persists envelopes. Implementations must provide the two
// atomic primitives the dispatch pipeline relies on, using store-level
// guarantees rather than in-process locks:
//
//   - AddOrGet resolves duplicates through a uniqueness constraint on the
//     correlation key.
//   - Claim is a compare-and-set on status.
type EnvelopeStore interface {
	// AddOrGet inserts env unless an envelope with the same correlation key
	// exists. It returns the stored envelope and whether this call created it.
	AddOrGet(ctx context.Context, env *Envelope) (*Envelope, bool, error)

	// Get returns ErrEnvelopeNotFound when id is unknown.
	Get(ctx context.Context, id uuid.UUID) (*Envelope, error)

	// Claim moves an envelope to Processing and stamps LastAttemptAt with now.
	// Claimable envelopes are Pending ones, Failed ones whose NextAttemptAt
	// has passed, and Processing ones whose LastAttemptAt is before
	// staleBefore. Anything else yields ErrNotClaimable.
	Claim(ctx context.Context, id uuid.UUID, now, staleBefore time.Time) (*Envelope, error)

	// Save persists the outcome of a claimed envelope. The write only applies
	// while the stored envelope is still Processing under the same claim,
	// identified by claimedAt; otherwise it yields ErrNotClaimable.
	Save(ctx context.Context, env *Envelope, claimedAt time.Time) error

	// ListDue returns envelopes that should be (re)scheduled.
	ListDue(ctx context.Context, q DueQuery) ([]uuid.UUID, error)

	// CountByStatus reports envelope counts for observability.
	CountByStatus(ctx context.Context) (map[Status]int, error)
}

// DueQuery selects envelopes needing a scheduler notification.
type DueQuery struct {
	Now time.Time
	// PendingBefore selects Pending envelopes created before this instant.
	PendingBefore time.Time
	// StaleBefore selects Processing envelopes claimed before this instant.
	StaleBefore time.Time
	Limit       int
}

// Scheduler hands durable identifiers to the job-running substrate. No
// payload crosses this boundary.
type Scheduler interface {
	Enqueue(ctx context.Context, id uuid.UUID) error
	EnqueueAt(ctx context.Context, id uuid.UUID, at time.Time) error
}
