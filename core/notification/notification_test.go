package notification_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/relay/core/notification"
	"github.com/dmitrymomot/relay/core/outbox"
)

// MockSender is a mock implementation of notification.Sender
type MockSender struct {
	mock.Mock
}

func (m *MockSender) Send(ctx context.Context, msg *notification.Message) (bool, error) {
	args := m.Called(ctx, msg)
	return args.Bool(0), args.Error(1)
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

type harness struct {
	store     *notification.MemoryStore
	outbox    *outbox.MemoryStore
	clock     *fakeClock
	scheduler *notification.Scheduler
}

func newHarness(t *testing.T, opts ...notification.SchedulerOption) *harness {
	t.Helper()

	h := &harness{
		store:  notification.NewMemoryStore(),
		outbox: outbox.NewMemoryStore(),
		clock:  newFakeClock(),
	}
	pub, err := outbox.NewPublisher(h.outbox, outbox.WithPublisherClock(h.clock.Now))
	require.NoError(t, err)

	opts = append([]notification.SchedulerOption{notification.WithSchedulerClock(h.clock.Now)}, opts...)
	h.scheduler, err = notification.NewScheduler(h.store, pub, opts...)
	require.NoError(t, err)
	return h
}

func invitation(email string) notification.Request {
	return notification.Request{
		Channel:       notification.ChannelEmail,
		Type:          "invitation",
		CorrelationID: "inv-1",
		Recipient:     email,
		Payload:       map[string]string{"trainer": "Alex"},
	}
}

func (h *harness) schedule(t *testing.T, req notification.Request) *notification.Message {
	t.Helper()
	msg, created, err := h.scheduler.Schedule(context.Background(), req)
	require.NoError(t, err)
	require.True(t, created)
	return msg
}
