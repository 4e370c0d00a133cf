package pgstore_test

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/relay/core/command"
	"github.com/dmitrymomot/relay/integration/pgstore"
)

var epoch = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func newEnvelope(key string) *command.Envelope {
	return &command.Envelope{
		CorrelationKey: key,
		CommandType:    "gym.invitation_created",
		Payload:        json.RawMessage(`{"invitation_id":"inv-1"}`),
		Status:         command.StatusPending,
		CreatedAt:      epoch,
		UpdatedAt:      epoch,
	}
}

func TestEnvelopeStore_AddOrGetDeduplicates(t *testing.T) {
	t.Parallel()

	store := pgstore.NewEnvelopeStore(newPool(t))
	ctx := context.Background()

	var created atomic.Int32
	ids := make([]uuid.UUID, 8)
	var wg sync.WaitGroup
	for i := range ids {
		wg.Add(1)
		go func() {
			defer wg.Done()
			env, isNew, err := store.AddOrGet(ctx, newEnvelope("invitation:inv-1"))
			if !assert.NoError(t, err) {
				return
			}
			if isNew {
				created.Add(1)
			}
			ids[i] = env.ID
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), created.Load())
	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}

	stored, err := store.Get(ctx, ids[0])
	require.NoError(t, err)
	assert.JSONEq(t, `{"invitation_id":"inv-1"}`, string(stored.Payload))
	assert.Empty(t, stored.ExecutionLog)
}

func TestEnvelopeStore_ClaimAndFencedSave(t *testing.T) {
	t.Parallel()

	store := pgstore.NewEnvelopeStore(newPool(t))
	ctx := context.Background()

	env, _, err := store.AddOrGet(ctx, newEnvelope("session:s-1"))
	require.NoError(t, err)

	now := epoch.Add(time.Minute)
	claimed, err := store.Claim(ctx, env.ID, now, now.Add(-10*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, command.StatusProcessing, claimed.Status)

	_, err = store.Claim(ctx, env.ID, now, now.Add(-10*time.Minute))
	assert.ErrorIs(t, err, command.ErrNotClaimable)

	claimed.Status = command.StatusCompleted
	claimed.Attempts = 1
	claimed.ExecutionLog = []command.ExecutionRecord{{Attempt: 1, Handler: "notify_trainer", Succeeded: true, StartedAt: now, FinishedAt: now}}
	assert.ErrorIs(t, store.Save(ctx, claimed, now.Add(time.Second)), command.ErrNotClaimable, "stale claim")
	require.NoError(t, store.Save(ctx, claimed, now))

	stored, err := store.Get(ctx, env.ID)
	require.NoError(t, err)
	assert.Equal(t, command.StatusCompleted, stored.Status)
	require.Len(t, stored.ExecutionLog, 1)
	assert.Equal(t, "notify_trainer", stored.ExecutionLog[0].Handler)

	_, err = store.Claim(ctx, uuid.New(), now, now)
	assert.ErrorIs(t, err, command.ErrEnvelopeNotFound)

	counts, err := store.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[command.Status]int{command.StatusCompleted: 1}, counts)
}

func TestEnvelopeStore_ListDue(t *testing.T) {
	t.Parallel()

	store := pgstore.NewEnvelopeStore(newPool(t))
	ctx := context.Background()

	pending, _, err := store.AddOrGet(ctx, newEnvelope("a"))
	require.NoError(t, err)
	stale, _, err := store.AddOrGet(ctx, newEnvelope("b"))
	require.NoError(t, err)
	_, err = store.Claim(ctx, stale.ID, epoch, epoch)
	require.NoError(t, err)

	now := epoch.Add(time.Hour)
	ids, err := store.ListDue(ctx, command.DueQuery{
		Now:           now,
		PendingBefore: now.Add(-time.Minute),
		StaleBefore:   now.Add(-10 * time.Minute),
	})
	require.NoError(t, err)
	assert.ElementsMatch(t, []uuid.UUID{pending.ID, stale.ID}, ids)

	ids, err = store.ListDue(ctx, command.DueQuery{Now: epoch, PendingBefore: epoch, StaleBefore: epoch})
	require.NoError(t, err)
	assert.Empty(t, ids)
}
