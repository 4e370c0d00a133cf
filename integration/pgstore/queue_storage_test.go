package pgstore_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/relay/core/queue"
	"github.com/dmitrymomot/relay/integration/pgstore"
)

func TestQueueStorage_ClaimSkipsLockedAndOrdersByPriority(t *testing.T) {
	t.Parallel()

	storage := pgstore.NewQueueStorage(newPool(t))
	ctx := context.Background()

	e, err := queue.NewEnqueuer(storage)
	require.NoError(t, err)
	require.NoError(t, e.Enqueue(ctx, "outbox.deliver", "low", queue.WithPriority(queue.PriorityLow)))
	require.NoError(t, e.Enqueue(ctx, "outbox.deliver", "high", queue.WithPriority(queue.PriorityHigh)))
	require.NoError(t, e.Enqueue(ctx, "outbox.deliver", "later", queue.WithDelay(time.Hour)))

	queues := []string{queue.DefaultQueueName}
	first, err := storage.ClaimTask(ctx, uuid.New(), queues, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "high", first.RefID)
	assert.Equal(t, queue.TaskStatusProcessing, first.Status)

	second, err := storage.ClaimTask(ctx, uuid.New(), queues, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "low", second.RefID)

	_, err = storage.ClaimTask(ctx, uuid.New(), queues, time.Minute)
	assert.ErrorIs(t, err, queue.ErrNoTaskToClaim)

	require.NoError(t, storage.CompleteTask(ctx, first.ID))
	assert.ErrorIs(t, storage.CompleteTask(ctx, first.ID), queue.ErrTaskNotProcessing)
	assert.ErrorIs(t, storage.CompleteTask(ctx, uuid.New()), queue.ErrTaskNotFound)
	require.NoError(t, storage.ExtendLock(ctx, second.ID, time.Hour))
}

func TestQueueStorage_FailRetriesThenDeadLetters(t *testing.T) {
	t.Parallel()

	storage := pgstore.NewQueueStorage(newPool(t))
	ctx := context.Background()

	e, err := queue.NewEnqueuer(storage)
	require.NoError(t, err)
	require.NoError(t, e.Enqueue(ctx, "notification.send", "n-1", queue.WithMaxRetries(2)))

	queues := []string{queue.DefaultQueueName}
	task, err := storage.ClaimTask(ctx, uuid.New(), queues, time.Minute)
	require.NoError(t, err)
	require.NoError(t, storage.FailTask(ctx, task.ID, "smtp timeout"))

	pending, err := storage.GetPendingTaskByName(ctx, "notification.send")
	require.NoError(t, err)
	require.NotNil(t, pending)
	assert.Equal(t, int8(1), pending.RetryCount)
	assert.Equal(t, "smtp timeout", *pending.Error)
	assert.True(t, pending.ScheduledAt.After(time.Now()), "retry is delayed")

	_, err = storage.ClaimTask(ctx, uuid.New(), queues, time.Minute)
	assert.ErrorIs(t, err, queue.ErrNoTaskToClaim)

	require.NoError(t, storage.MoveToDLQ(ctx, task.ID))
	missing, err := storage.GetPendingTaskByName(ctx, "notification.send")
	require.NoError(t, err)
	assert.Nil(t, missing)
	assert.ErrorIs(t, storage.MoveToDLQ(ctx, task.ID), queue.ErrTaskNotFound)
}

func TestQueueStorage_WorkerEndToEnd(t *testing.T) {
	t.Parallel()

	storage := pgstore.NewQueueStorage(newPool(t))

	done := make(chan uuid.UUID, 1)
	svc, err := queue.NewService(storage,
		queue.WithHandlers(queue.NewUUIDHandler("outbox.deliver", func(_ context.Context, id uuid.UUID) error {
			done <- id
			return nil
		})),
		queue.WithWorkerOptions(queue.WithPullInterval(10*time.Millisecond)),
	)
	require.NoError(t, err)

	id := uuid.New()
	require.NoError(t, svc.Bind("outbox.deliver").Enqueue(context.Background(), id))

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- svc.Run(ctx) }()

	select {
	case got := <-done:
		assert.Equal(t, id, got)
	case <-time.After(5 * time.Second):
		t.Fatal("task was not processed")
	}
	cancel()
	assert.NoError(t, <-errc)
}
