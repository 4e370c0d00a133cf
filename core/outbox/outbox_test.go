package outbox_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/relay/core/outbox"
)

// MockScheduler is a mock implementation of outbox.Scheduler
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

type harness struct {
	store      *outbox.MemoryStore
	sched      *MockScheduler
	clock      *fakeClock
	registry   *outbox.Registry
	publisher  *outbox.Publisher
	dispatcher *outbox.Dispatcher
	processor  *outbox.Processor
}

func newHarness(t *testing.T, popts []outbox.ProcessorOption, handlers ...outbox.DeliveryHandler) *harness {
	t.Helper()

	h := &harness{
		store:    outbox.NewMemoryStore(),
		sched:    new(MockScheduler),
		clock:    newFakeClock(),
		registry: outbox.MustRegistry(handlers...),
	}
	h.sched.On("Enqueue", mock.Anything, mock.Anything).Return(nil).Maybe()
	h.sched.On("EnqueueAt", mock.Anything, mock.Anything, mock.Anything).Return(nil).Maybe()

	var err error
	h.publisher, err = outbox.NewPublisher(h.store, outbox.WithPublisherClock(h.clock.Now))
	require.NoError(t, err)

	h.dispatcher, err = outbox.NewDispatcher(h.store, h.registry, h.sched, outbox.WithDispatcherClock(h.clock.Now))
	require.NoError(t, err)

	popts = append([]outbox.ProcessorOption{outbox.WithProcessorClock(h.clock.Now)}, popts...)
	h.processor, err = outbox.NewProcessor(h.store, h.registry, h.sched, popts...)
	require.NoError(t, err)
	return h
}

func (h *harness) publish(t *testing.T, eventType string, payload any) *outbox.Message {
	t.Helper()
	msg, err := h.publisher.Publish(context.Background(), eventType, "corr-"+eventType, payload)
	require.NoError(t, err)
	return msg
}

func (h *harness) message(t *testing.T, id uuid.UUID) *outbox.Message {
	t.Helper()
	msg, err := h.store.GetMessage(context.Background(), id)
	require.NoError(t, err)
	return msg
}

func (h *harness) delivery(t *testing.T, id uuid.UUID) *outbox.Delivery {
	t.Helper()
	d, err := h.store.GetDelivery(context.Background(), id)
	require.NoError(t, err)
	return d
}

func (h *harness) deliveries(t *testing.T, eventID uuid.UUID) []*outbox.Delivery {
	t.Helper()
	out, err := h.store.ListDeliveries(context.Background(), eventID)
	require.NoError(t, err)
	return out
}

// publishAndDispatch returns the single delivery created for handler.
func (h *harness) publishAndDispatch(t *testing.T, eventType, handler string) *outbox.Delivery {
	t.Helper()
	msg := h.publish(t, eventType, map[string]string{"id": uuid.NewString()})
	_, err := h.dispatcher.DispatchDue(context.Background())
	require.NoError(t, err)

	for _, d := range h.deliveries(t, msg.ID) {
		if d.HandlerName == handler {
			return d
		}
	}
	t.Fatalf("no delivery for handler %s", handler)
	return nil
}

func okHandler(name, eventType string) outbox.DeliveryHandler {
	return outbox.NewHandler(name, eventType, func(context.Context, uuid.UUID, string, json.RawMessage) error {
		return nil
	})
}
