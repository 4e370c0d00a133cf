package gym

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// AuditRecord is the derived audit row of an invitation.
type AuditRecord struct {
	InvitationID uuid.UUID
	TrainerID    uuid.UUID
	TraineeEmail string
	RecordedAt   time.Time
}

// AuditStore persists invitation audit rows. RecordInvitation must be
// idempotent per invitation id and report whether a row was written.
type AuditStore interface {
	RecordInvitation(ctx context.Context, rec AuditRecord) (bool, error)
}

// MemoryAuditStore is an in-memory AuditStore for tests and development.
type MemoryAuditStore struct {
	mu      sync.Mutex
	records map[uuid.UUID]AuditRecord
}

// NewMemoryAuditStore creates an empty MemoryAuditStore.
func NewMemoryAuditStore() *MemoryAuditStore {
	return &MemoryAuditStore{records: make(map[uuid.UUID]AuditRecord)}
}

func (s *MemoryAuditStore) RecordInvitation(_ context.Context, rec AuditRecord) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[rec.InvitationID]; ok {
		return false, nil
	}
	s.records[rec.InvitationID] = rec
	return true, nil
}

// Records returns all rows ordered by recording time.
func (s *MemoryAuditStore) Records() []AuditRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]AuditRecord, 0, len(s.records))
	for _, r := range s.records {
		out = append(out, r)
	}
	slices.SortFunc(out, func(a, b AuditRecord) int { return a.RecordedAt.Compare(b.RecordedAt) })
	return out
}
