package notification_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/relay/core/notification"
	"github.com/dmitrymomot/relay/core/outbox"
)

func TestScheduler_Schedule(t *testing.T) {
	t.Parallel()

	t.Run("stores notification and outbox event", func(t *testing.T) {
		t.Parallel()

		h := newHarness(t)
		msg := h.schedule(t, invitation("  Jane@Example.COM "))

		stored, err := h.store.Get(context.Background(), msg.ID)
		require.NoError(t, err)
		assert.Equal(t, notification.StatusPending, stored.Status)
		assert.Equal(t, "jane@example.com", stored.Recipient)
		assert.Equal(t, `{"trainer":"Alex"}`, string(stored.Payload))
		assert.Equal(t, h.clock.Now(), stored.CreatedAt)

		ids, err := h.outbox.ListDueMessages(context.Background(), outbox.DueQuery{Now: h.clock.Now()})
		require.NoError(t, err)
		require.Len(t, ids, 1)

		event, err := h.outbox.GetMessage(context.Background(), ids[0])
		require.NoError(t, err)
		assert.Equal(t, notification.EventScheduled, event.EventType)
		assert.Equal(t, msg.ID.String(), event.CorrelationID)

		var payload notification.ScheduledEvent
		require.NoError(t, json.Unmarshal(event.Payload, &payload))
		assert.Equal(t, msg.ID, payload.NotificationID)
	})

	t.Run("duplicate while active returns existing record", func(t *testing.T) {
		t.Parallel()

		h := newHarness(t)
		first := h.schedule(t, invitation("jane@example.com"))

		again, created, err := h.scheduler.Schedule(context.Background(), invitation("JANE@example.com"))
		require.NoError(t, err)
		assert.False(t, created)
		assert.Equal(t, first.ID, again.ID)

		counts, err := h.outbox.CountMessagesByStatus(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 1, counts[outbox.MessagePending], "no second event")

		// A different recipient is a different notification.
		other := h.schedule(t, invitation("sam@example.com"))
		assert.NotEqual(t, first.ID, other.ID)
	})

	t.Run("failed notification can be scheduled again", func(t *testing.T) {
		t.Parallel()

		h := newHarness(t)
		first := h.schedule(t, invitation("jane@example.com"))

		failed := first.Clone()
		failed.Status = notification.StatusFailed
		failed.Attempts = notification.DefaultMaxAttempts
		require.NoError(t, h.store.Save(context.Background(), failed, 0))

		second := h.schedule(t, invitation("jane@example.com"))
		assert.NotEqual(t, first.ID, second.ID)
	})

	t.Run("validation", func(t *testing.T) {
		t.Parallel()

		h := newHarness(t)
		for _, req := range []notification.Request{
			{Type: "invitation", CorrelationID: "c", Recipient: "r"},
			{Channel: "email", CorrelationID: "c", Recipient: "r"},
			{Channel: "email", Type: "invitation", Recipient: "r"},
			{Channel: "email", Type: "invitation", CorrelationID: "c", Recipient: " "},
			{Channel: "email", Type: "invitation", CorrelationID: "c", Recipient: "r", Payload: func() {}},
		} {
			_, _, err := h.scheduler.Schedule(context.Background(), req)
			assert.ErrorIs(t, err, notification.ErrInvalidRequest)
		}

		_, err := notification.NewScheduler(nil, nil)
		assert.ErrorIs(t, err, notification.ErrStoreNil)
		_, err = notification.NewScheduler(notification.NewMemoryStore(), nil)
		assert.ErrorIs(t, err, notification.ErrPublisherNil)
	})
}

type failingPublisher struct{ err error }

func (p failingPublisher) Publish(context.Context, string, string, any) (*outbox.Message, error) {
	return nil, p.err
}

func TestScheduler_RunsInsideTransaction(t *testing.T) {
	t.Parallel()

	store := notification.NewMemoryStore()
	pubErr := errors.New("outbox insert failed")

	var inTx, rolledBack bool
	tx := notification.TxFunc(func(ctx context.Context, fn func(context.Context) error) error {
		inTx = true
		err := fn(ctx)
		rolledBack = err != nil
		return err
	})

	s, err := notification.NewScheduler(store, failingPublisher{err: pubErr}, notification.WithTxRunner(tx))
	require.NoError(t, err)

	_, _, err = s.Schedule(context.Background(), invitation("jane@example.com"))
	assert.ErrorIs(t, err, pubErr)
	assert.True(t, inTx)
	assert.True(t, rolledBack)
}
