package command_test

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	"github.com/dmitrymomot/relay/core/command"
)

// MockScheduler is a mock implementation of command.Scheduler
type MockScheduler struct {
	mock.Mock
}

func (m *MockScheduler) Enqueue(ctx context.Context, id uuid.UUID) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockScheduler) EnqueueAt(ctx context.Context, id uuid.UUID, at time.Time) error {
	args := m.Called(ctx, id, at)
	return args.Error(0)
}

// fakeClock is a manually advanced time source.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type InvitationCreated struct {
	InvitationID string `json:"invitation_id"`
	TrainerID    string `json:"trainer_id"`
	Email        string `json:"email"`
	Name         string `json:"name"`
}

func (InvitationCreated) CommandType() string { return "invitation.created" }

type SessionCompleted struct {
	SessionID string    `json:"session_id"`
	Score     float64   `json:"score"`
	Tags      []string  `json:"tags"`
	At        time.Time `json:"at"`
}

func (SessionCompleted) CommandType() string { return "session.completed" }

type Orphan struct {
	ID string `json:"id"`
}

func (Orphan) CommandType() string { return "orphan" }

type Unnamed struct{}

func (Unnamed) CommandType() string { return "" }

type Separated struct{}

func (Separated) CommandType() string { return "invitation\x1fcreated" }

// imposter reports the same discriminator as InvitationCreated.
type imposter struct {
	InvitationID string `json:"invitation_id"`
}

func (imposter) CommandType() string { return "invitation.created" }

func okHandler[T command.Command](name string) command.Handler[T] {
	return command.HandlerFunc(name, func(context.Context, T) error { return nil })
}
