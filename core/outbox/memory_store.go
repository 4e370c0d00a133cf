package outbox

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore implements Store in memory for tests and local development.
// It has no transactions; AddMessage is visible immediately.
type MemoryStore struct {
	mu         sync.RWMutex
	messages   map[uuid.UUID]*Message
	deliveries map[uuid.UUID]*Delivery
	byHandler  map[deliveryKey]uuid.UUID
}

type deliveryKey struct {
	eventID uuid.UUID
	handler string
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		messages:   make(map[uuid.UUID]*Message),
		deliveries: make(map[uuid.UUID]*Delivery),
		byHandler:  make(map[deliveryKey]uuid.UUID),
	}
}

// AddMessage stores a copy of msg, assigning an ID when missing.
func (s *MemoryStore) AddMessage(_ context.Context, msg *Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if msg.ID == uuid.Nil {
		msg.ID = uuid.New()
	}
	s.messages[msg.ID] = msg.Clone()
	return nil
}

// GetMessage returns a copy of the message.
func (s *MemoryStore) GetMessage(_ context.Context, id uuid.UUID) (*Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	msg, ok := s.messages[id]
	if !ok {
		return nil, ErrMessageNotFound
	}
	return msg.Clone(), nil
}

// ListDueMessages returns due messages, oldest first.
func (s *MemoryStore) ListDueMessages(_ context.Context, q DueQuery) ([]uuid.UUID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var due []*Message
	for _, msg := range s.messages {
		if messageClaimable(msg, q.Now, q.StaleBefore) {
			due = append(due, msg)
		}
	}
	slices.SortFunc(due, func(a, b *Message) int {
		return cmp.Or(a.CreatedAt.Compare(b.CreatedAt), cmp.Compare(a.ID.String(), b.ID.String()))
	})
	if q.Limit > 0 && len(due) > q.Limit {
		due = due[:q.Limit]
	}

	ids := make([]uuid.UUID, len(due))
	for i, msg := range due {
		ids[i] = msg.ID
	}
	return ids, nil
}

// TryMarkProcessing claims a due message.
func (s *MemoryStore) TryMarkProcessing(_ context.Context, id uuid.UUID, now, staleBefore time.Time) (*Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg, ok := s.messages[id]
	if !ok {
		return nil, ErrMessageNotFound
	}
	if !messageClaimable(msg, now, staleBefore) {
		return nil, ErrNotClaimable
	}

	msg.Status = MessageProcessing
	msg.ClaimedAt = &now
	msg.UpdatedAt = now
	return msg.Clone(), nil
}

// SaveMessage persists an outcome if the claim still holds.
func (s *MemoryStore) SaveMessage(_ context.Context, msg *Message, claimedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.messages[msg.ID]
	if !ok {
		return ErrMessageNotFound
	}
	if stored.Status != MessageProcessing || stored.ClaimedAt == nil || !stored.ClaimedAt.Equal(claimedAt) {
		return ErrNotClaimable
	}
	s.messages[msg.ID] = msg.Clone()
	return nil
}

// AddDeliveryIfAbsent inserts d unless (EventID, HandlerName) is taken.
func (s *MemoryStore) AddDeliveryIfAbsent(_ context.Context, d *Delivery) (*Delivery, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := deliveryKey{eventID: d.EventID, handler: d.HandlerName}
	if id, ok := s.byHandler[key]; ok {
		return s.deliveries[id].Clone(), false, nil
	}

	stored := d.Clone()
	if stored.ID == uuid.Nil {
		stored.ID = uuid.New()
	}
	s.deliveries[stored.ID] = stored
	s.byHandler[key] = stored.ID
	return stored.Clone(), true, nil
}

// GetDelivery returns a copy of the delivery.
func (s *MemoryStore) GetDelivery(_ context.Context, id uuid.UUID) (*Delivery, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, ok := s.deliveries[id]
	if !ok {
		return nil, ErrDeliveryNotFound
	}
	return d.Clone(), nil
}

// ListDeliveries returns the deliveries of one message.
func (s *MemoryStore) ListDeliveries(_ context.Context, eventID uuid.UUID) ([]*Delivery, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Delivery
	for _, d := range s.deliveries {
		if d.EventID == eventID {
			out = append(out, d.Clone())
		}
	}
	slices.SortFunc(out, func(a, b *Delivery) int { return cmp.Compare(a.HandlerName, b.HandlerName) })
	return out, nil
}

// ListDueDeliveries returns deliveries needing a scheduler notification, oldest first.
func (s *MemoryStore) ListDueDeliveries(_ context.Context, q DueQuery) ([]uuid.UUID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var due []*Delivery
	for _, d := range s.deliveries {
		switch d.Status {
		case DeliveryPending:
			if d.CreatedAt.Before(q.PendingBefore) {
				due = append(due, d)
			}
		case DeliveryFailed, DeliveryProcessing:
			if deliveryClaimable(d, q.Now, q.StaleBefore) {
				due = append(due, d)
			}
		}
	}
	slices.SortFunc(due, func(a, b *Delivery) int { return a.UpdatedAt.Compare(b.UpdatedAt) })
	if q.Limit > 0 && len(due) > q.Limit {
		due = due[:q.Limit]
	}

	ids := make([]uuid.UUID, len(due))
	for i, d := range due {
		ids[i] = d.ID
	}
	return ids, nil
}

// TryClaimDelivery claims a due delivery.
func (s *MemoryStore) TryClaimDelivery(_ context.Context, id uuid.UUID, now, staleBefore time.Time) (*Delivery, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.deliveries[id]
	if !ok {
		return nil, ErrDeliveryNotFound
	}
	if !deliveryClaimable(d, now, staleBefore) {
		return nil, ErrNotClaimable
	}

	d.Status = DeliveryProcessing
	d.ClaimedAt = &now
	d.UpdatedAt = now
	return d.Clone(), nil
}

// SaveDelivery persists an outcome if the claim still holds.
func (s *MemoryStore) SaveDelivery(_ context.Context, d *Delivery, claimedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.deliveries[d.ID]
	if !ok {
		return ErrDeliveryNotFound
	}
	if stored.Status != DeliveryProcessing || stored.ClaimedAt == nil || !stored.ClaimedAt.Equal(claimedAt) {
		return ErrNotClaimable
	}
	s.deliveries[d.ID] = d.Clone()
	return nil
}

// CountMessagesByStatus counts messages per status.
func (s *MemoryStore) CountMessagesByStatus(_ context.Context) (map[MessageStatus]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[MessageStatus]int)
	for _, msg := range s.messages {
		out[msg.Status]++
	}
	return out, nil
}

// CountDeliveriesByStatus counts deliveries per status.
func (s *MemoryStore) CountDeliveriesByStatus(_ context.Context) (map[DeliveryStatus]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[DeliveryStatus]int)
	for _, d := range s.deliveries {
		out[d.Status]++
	}
	return out, nil
}

func messageClaimable(msg *Message, now, staleBefore time.Time) bool {
	switch msg.Status {
	case MessagePending:
		return msg.NextAttemptAt == nil || !msg.NextAttemptAt.After(now)
	case MessageFailed:
		return msg.NextAttemptAt != nil && !msg.NextAttemptAt.After(now)
	case MessageProcessing:
		return msg.ClaimedAt != nil && msg.ClaimedAt.Before(staleBefore)
	default:
		return false
	}
}

func deliveryClaimable(d *Delivery, now, staleBefore time.Time) bool {
	switch d.Status {
	case DeliveryPending:
		return true
	case DeliveryFailed:
		return d.NextAttemptAt != nil && !d.NextAttemptAt.After(now)
	case DeliveryProcessing:
		return d.ClaimedAt != nil && d.ClaimedAt.Before(staleBefore)
	default:
		return false
	}
}
