package outbox_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/relay/core/outbox"
	"github.com/dmitrymomot/relay/pkg/backoff"
)

// flakyHandler fails until it has been called succeedOn times.
type flakyHandler struct {
	name      string
	succeedOn int32
	calls     atomic.Int32
	seen      atomic.Value
}

func (h *flakyHandler) Name() string      { return h.name }
func (h *flakyHandler) EventType() string { return "session.completed" }

func (h *flakyHandler) Handle(_ context.Context, eventID uuid.UUID, correlationID string, payload json.RawMessage) error {
	h.seen.Store(fmt.Sprintf("%s|%s|%s", eventID, correlationID, payload))
	n := h.calls.Add(1)
	if h.succeedOn > 0 && n >= h.succeedOn {
		return nil
	}
	return fmt.Errorf("smtp: 421 try later (call %d)", n)
}

func TestProcessor_Succeeds(t *testing.T) {
	t.Parallel()

	handler := &flakyHandler{name: "notify_trainer", succeedOn: 1}
	h := newHarness(t, nil, handler)
	msg := h.publish(t, "session.completed", map[string]string{"session_id": "s-1"})
	_, err := h.dispatcher.DispatchDue(context.Background())
	require.NoError(t, err)
	d := h.deliveries(t, msg.ID)[0]

	require.NoError(t, h.processor.Process(context.Background(), d.ID))

	stored := h.delivery(t, d.ID)
	assert.Equal(t, outbox.DeliverySucceeded, stored.Status)
	assert.Zero(t, stored.Attempts)
	require.NotNil(t, stored.ProcessedAt)
	assert.Equal(t, h.clock.Now(), *stored.ProcessedAt)
	assert.Equal(t, fmt.Sprintf(`%s|corr-session.completed|{"session_id":"s-1"}`, msg.ID), handler.seen.Load())

	// A duplicate job is a no-op.
	require.NoError(t, h.processor.Process(context.Background(), d.ID))
	assert.Equal(t, int32(1), handler.calls.Load())
	assert.Equal(t, int64(1), h.processor.Stats().Succeeded)
}

func TestProcessor_SucceedsOnFifthAttempt(t *testing.T) {
	t.Parallel()

	handler := &flakyHandler{name: "notify_trainer", succeedOn: 5}
	h := newHarness(t, nil, handler)
	d := h.publishAndDispatch(t, "session.completed", "notify_trainer")

	for attempt := 1; attempt <= 4; attempt++ {
		require.NoError(t, h.processor.Process(context.Background(), d.ID))

		stored := h.delivery(t, d.ID)
		assert.Equal(t, outbox.DeliveryFailed, stored.Status)
		assert.Equal(t, attempt, stored.Attempts)
		assert.False(t, stored.Terminal())
		assert.Equal(t, fmt.Sprintf("smtp: 421 try later (call %d)", attempt), stored.LastError)

		next := h.clock.Now().Add(backoff.Delay(attempt))
		require.NotNil(t, stored.NextAttemptAt)
		assert.Equal(t, next, *stored.NextAttemptAt)
		h.sched.AssertCalled(t, "EnqueueAt", mock.Anything, d.ID, next)

		h.clock.Advance(backoff.Delay(attempt))
	}

	require.NoError(t, h.processor.Process(context.Background(), d.ID))
	stored := h.delivery(t, d.ID)
	assert.Equal(t, outbox.DeliverySucceeded, stored.Status)
	assert.Equal(t, 4, stored.Attempts)
	assert.Empty(t, stored.LastError)
	assert.Nil(t, stored.NextAttemptAt)
	assert.Equal(t, outbox.ProcessorStats{Succeeded: 1, Retried: 4}, h.processor.Stats())
}

func TestProcessor_FifthFailureIsTerminal(t *testing.T) {
	t.Parallel()

	handler := &flakyHandler{name: "notify_trainer"}
	h := newHarness(t, nil, handler)
	d := h.publishAndDispatch(t, "session.completed", "notify_trainer")

	for attempt := 1; attempt <= 5; attempt++ {
		require.NoError(t, h.processor.Process(context.Background(), d.ID))
		h.clock.Advance(backoff.Delay(attempt))
	}

	stored := h.delivery(t, d.ID)
	assert.Equal(t, outbox.DeliveryFailed, stored.Status)
	assert.Equal(t, 5, stored.Attempts)
	assert.Nil(t, stored.NextAttemptAt)
	assert.True(t, stored.Terminal())
	assert.Equal(t, "smtp: 421 try later (call 5)", stored.LastError)
	h.sched.AssertNumberOfCalls(t, "EnqueueAt", 4)

	// Terminal deliveries are neither processed nor swept again.
	require.NoError(t, h.processor.Process(context.Background(), d.ID))
	assert.Equal(t, int32(5), handler.calls.Load())

	h.clock.Advance(24 * time.Hour)
	n, err := h.processor.SweepDue(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, int64(1), h.processor.Stats().Failed)
}

func TestProcessor_RetryNotDueIsSkipped(t *testing.T) {
	t.Parallel()

	handler := &flakyHandler{name: "notify_trainer"}
	h := newHarness(t, nil, handler)
	d := h.publishAndDispatch(t, "session.completed", "notify_trainer")

	require.NoError(t, h.processor.Process(context.Background(), d.ID))
	h.clock.Advance(10 * time.Second)
	require.NoError(t, h.processor.Process(context.Background(), d.ID))

	assert.Equal(t, int32(1), handler.calls.Load())
	assert.Equal(t, 1, h.delivery(t, d.ID).Attempts)
}

func TestProcessor_OnlyFailingHandlerRetries(t *testing.T) {
	t.Parallel()

	good := &flakyHandler{name: "notify_trainer", succeedOn: 1}
	bad := &flakyHandler{name: "sync_profile"}
	h := newHarness(t, nil, good, bad)
	msg := h.publish(t, "session.completed", map[string]string{"session_id": "s-1"})
	_, err := h.dispatcher.DispatchDue(context.Background())
	require.NoError(t, err)

	for _, d := range h.deliveries(t, msg.ID) {
		require.NoError(t, h.processor.Process(context.Background(), d.ID))
	}
	h.clock.Advance(backoff.Delay(1))
	for _, d := range h.deliveries(t, msg.ID) {
		require.NoError(t, h.processor.Process(context.Background(), d.ID))
	}

	assert.Equal(t, int32(1), good.calls.Load())
	assert.Equal(t, int32(2), bad.calls.Load())
}

func TestProcessor_PanicIsFailure(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil, outbox.NewHandler("notify_trainer", "session.completed",
		func(context.Context, uuid.UUID, string, json.RawMessage) error { panic("nil map") }))
	d := h.publishAndDispatch(t, "session.completed", "notify_trainer")

	require.NoError(t, h.processor.Process(context.Background(), d.ID))

	stored := h.delivery(t, d.ID)
	assert.Equal(t, outbox.DeliveryFailed, stored.Status)
	assert.Equal(t, "delivery handler notify_trainer panicked: nil map", stored.LastError)
}

func TestProcessor_UnknownHandlerIsRetried(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil, okHandler("notify_trainer", "session.completed"))
	d := h.publishAndDispatch(t, "session.completed", "notify_trainer")

	// A processor built from an older registry does not know the handler.
	old, err := outbox.NewProcessor(h.store, outbox.MustRegistry(), h.sched, outbox.WithProcessorClock(h.clock.Now))
	require.NoError(t, err)
	require.NoError(t, old.Process(context.Background(), d.ID))

	stored := h.delivery(t, d.ID)
	assert.Equal(t, outbox.DeliveryFailed, stored.Status)
	assert.Equal(t, "delivery handler not registered: notify_trainer", stored.LastError)
	assert.False(t, stored.Terminal())

	h.clock.Advance(backoff.Delay(1))
	require.NoError(t, h.processor.Process(context.Background(), d.ID))
	assert.Equal(t, outbox.DeliverySucceeded, h.delivery(t, d.ID).Status)
}

func TestProcessor_Timeout(t *testing.T) {
	t.Parallel()

	h := newHarness(t, []outbox.ProcessorOption{outbox.WithDeliveryTimeout(20 * time.Millisecond)},
		outbox.NewHandler("notify_trainer", "session.completed",
			func(ctx context.Context, _ uuid.UUID, _ string, _ json.RawMessage) error {
				<-ctx.Done()
				return ctx.Err()
			}))
	d := h.publishAndDispatch(t, "session.completed", "notify_trainer")

	require.NoError(t, h.processor.Process(context.Background(), d.ID))

	stored := h.delivery(t, d.ID)
	assert.Equal(t, outbox.DeliveryFailed, stored.Status)
	assert.True(t, strings.HasPrefix(stored.LastError, "delivery handler timed out after 20ms"), stored.LastError)
}

func TestProcessor_CancellationLeavesClaim(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	h := newHarness(t, nil, outbox.NewHandler("notify_trainer", "session.completed",
		func(ctx context.Context, _ uuid.UUID, _ string, _ json.RawMessage) error {
			cancel()
			return ctx.Err()
		}))
	d := h.publishAndDispatch(t, "session.completed", "notify_trainer")

	assert.ErrorIs(t, h.processor.Process(ctx, d.ID), context.Canceled)

	stored := h.delivery(t, d.ID)
	assert.Equal(t, outbox.DeliveryProcessing, stored.Status)
	assert.Zero(t, stored.Attempts)

	// The sweep reschedules it once the lease expired.
	h.clock.Advance(outbox.DefaultConfig().LeaseTimeout + time.Second)
	n, err := h.processor.SweepDue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestProcessor_MissingMessageIsFailure(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil, okHandler("notify_trainer", "session.completed"))
	now := h.clock.Now()
	d, _, err := h.store.AddDeliveryIfAbsent(context.Background(), &outbox.Delivery{
		ID: uuid.New(), EventID: uuid.New(), HandlerName: "notify_trainer",
		Status: outbox.DeliveryPending, CreatedAt: now, UpdatedAt: now,
	})
	require.NoError(t, err)

	require.NoError(t, h.processor.Process(context.Background(), d.ID))
	stored := h.delivery(t, d.ID)
	assert.Equal(t, outbox.DeliveryFailed, stored.Status)
	assert.Contains(t, stored.LastError, outbox.ErrMessageNotFound.Error())
}

func TestProcessor_UnknownDelivery(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	assert.NoError(t, h.processor.Process(context.Background(), uuid.New()))
}

type brokenStore struct {
	*outbox.MemoryStore
}

func (brokenStore) GetDelivery(context.Context, uuid.UUID) (*outbox.Delivery, error) {
	return nil, errors.New("connection reset")
}

func TestProcessor_InfrastructureErrorIsReturned(t *testing.T) {
	t.Parallel()

	p, err := outbox.NewProcessor(brokenStore{outbox.NewMemoryStore()}, outbox.MustRegistry(), new(MockScheduler))
	require.NoError(t, err)
	assert.ErrorContains(t, p.Process(context.Background(), uuid.New()), "connection reset")
}
