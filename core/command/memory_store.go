package command

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore implements EnvelopeStore in memory for tests and local development.
// The mutex stands in for the database's row-level atomicity.
type MemoryStore struct {
	mu    sync.RWMutex
	byID  map[uuid.UUID]*Envelope
	byKey map[string]uuid.UUID
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:  make(map[uuid.UUID]*Envelope),
		byKey: make(map[string]uuid.UUID),
	}
}

// AddOrGet inserts env unless its correlation key is already stored.
func (s *MemoryStore) AddOrGet(_ context.Context, env *Envelope) (*Envelope, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.byKey[env.CorrelationKey]; ok {
		return s.byID[id].Clone(), false, nil
	}

	stored := env.Clone()
	if stored.ID == uuid.Nil {
		stored.ID = uuid.New()
	}
	s.byID[stored.ID] = stored
	s.byKey[stored.CorrelationKey] = stored.ID

	return stored.Clone(), true, nil
}

// Get returns a copy of the envelope.
func (s *MemoryStore) Get(_ context.Context, id uuid.UUID) (*Envelope, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	env, ok := s.byID[id]
	if !ok {
		return nil, ErrEnvelopeNotFound
	}
	return env.Clone(), nil
}

// Claim moves a claimable envelope to Processing.
func (s *MemoryStore) Claim(_ context.Context, id uuid.UUID, now, staleBefore time.Time) (*Envelope, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	env, ok := s.byID[id]
	if !ok {
		return nil, ErrEnvelopeNotFound
	}
	if !claimable(env, now, staleBefore) {
		return nil, ErrNotClaimable
	}

	env.Status = StatusProcessing
	env.LastAttemptAt = &now
	env.UpdatedAt = now

	return env.Clone(), nil
}

// Save persists an outcome if the claim identified by claimedAt still holds.
func (s *MemoryStore) Save(_ context.Context, env *Envelope, claimedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.byID[env.ID]
	if !ok {
		return ErrEnvelopeNotFound
	}
	if stored.Status != StatusProcessing || stored.LastAttemptAt == nil || !stored.LastAttemptAt.Equal(claimedAt) {
		return ErrNotClaimable
	}

	s.byID[env.ID] = env.Clone()
	return nil
}

// ListDue returns envelopes needing a scheduler notification, oldest first.
func (s *MemoryStore) ListDue(_ context.Context, q DueQuery) ([]uuid.UUID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var due []*Envelope
	for _, env := range s.byID {
		switch env.Status {
		case StatusPending:
			if env.CreatedAt.Before(q.PendingBefore) {
				due = append(due, env)
			}
		case StatusFailed:
			if env.NextAttemptAt == nil || !env.NextAttemptAt.After(q.Now) {
				due = append(due, env)
			}
		case StatusProcessing:
			if env.LastAttemptAt != nil && env.LastAttemptAt.Before(q.StaleBefore) {
				due = append(due, env)
			}
		}
	}

	slices.SortFunc(due, func(a, b *Envelope) int { return a.UpdatedAt.Compare(b.UpdatedAt) })
	if q.Limit > 0 && len(due) > q.Limit {
		due = due[:q.Limit]
	}

	ids := make([]uuid.UUID, len(due))
	for i, env := range due {
		ids[i] = env.ID
	}
	return ids, nil
}

// CountByStatus counts envelopes per status.
func (s *MemoryStore) CountByStatus(_ context.Context) (map[Status]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[Status]int)
	for _, env := range s.byID {
		out[env.Status]++
	}
	return out, nil
}

func claimable(env *Envelope, now, staleBefore time.Time) bool {
	switch env.Status {
	case StatusPending:
		return true
	case StatusFailed:
		return env.NextAttemptAt == nil || !env.NextAttemptAt.After(now)
	case StatusProcessing:
		return env.LastAttemptAt != nil && env.LastAttemptAt.Before(staleBefore)
	default:
		return false
	}
}
