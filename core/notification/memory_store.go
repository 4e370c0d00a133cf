package notification

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore implements Store in memory for tests and local development.
type MemoryStore struct {
	mu     sync.RWMutex
	byID   map[uuid.UUID]*Message
	active map[dedupKey]uuid.UUID
}

type dedupKey struct {
	typ, correlationID, recipient string
}

func keyOf(m *Message) dedupKey {
	return dedupKey{typ: m.Type, correlationID: m.CorrelationID, recipient: m.Recipient}
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:   make(map[uuid.UUID]*Message),
		active: make(map[dedupKey]uuid.UUID),
	}
}

// AddIfNoActive inserts msg unless an active duplicate exists.
func (s *MemoryStore) AddIfNoActive(_ context.Context, msg *Message) (*Message, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := keyOf(msg)
	if id, ok := s.active[key]; ok && s.byID[id].Status.Active() {
		return s.byID[id].Clone(), false, nil
	}

	stored := msg.Clone()
	if stored.ID == uuid.Nil {
		stored.ID = uuid.New()
	}
	s.byID[stored.ID] = stored
	s.active[key] = stored.ID
	return stored.Clone(), true, nil
}

// Get returns a copy of the notification.
func (s *MemoryStore) Get(_ context.Context, id uuid.UUID) (*Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	msg, ok := s.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	return msg.Clone(), nil
}

// Save applies an attempt outcome guarded by the expected attempt count.
func (s *MemoryStore) Save(_ context.Context, msg *Message, expectedAttempts int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.byID[msg.ID]
	if !ok {
		return ErrNotFound
	}
	if stored.Status != StatusPending || stored.Attempts != expectedAttempts {
		return ErrConflict
	}
	s.byID[msg.ID] = msg.Clone()
	return nil
}

// ListDue returns Pending notifications due at or before before, oldest first.
func (s *MemoryStore) ListDue(_ context.Context, before time.Time, limit int) ([]uuid.UUID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var due []*Message
	for _, msg := range s.byID {
		if msg.Status == StatusPending && !dueAt(msg).After(before) {
			due = append(due, msg)
		}
	}
	slices.SortFunc(due, func(a, b *Message) int { return dueAt(a).Compare(dueAt(b)) })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}

	ids := make([]uuid.UUID, len(due))
	for i, msg := range due {
		ids[i] = msg.ID
	}
	return ids, nil
}

func dueAt(m *Message) time.Time {
	if m.NextAttemptAt != nil {
		return *m.NextAttemptAt
	}
	return m.CreatedAt
}

// CountByStatus counts notifications per status.
func (s *MemoryStore) CountByStatus(_ context.Context) (map[Status]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[Status]int)
	for _, msg := range s.byID {
		out[msg.Status]++
	}
	return out, nil
}
