package gym_test

import (
	"context"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/relay/app/gym"
	"github.com/dmitrymomot/relay/core/command"
	"github.com/dmitrymomot/relay/core/notification"
	"github.com/dmitrymomot/relay/core/outbox"
	"github.com/dmitrymomot/relay/integration/database/pg"
	"github.com/dmitrymomot/relay/integration/pgstore"
)

func newPool(t *testing.T) *pgxpool.Pool {
	t.Helper()

	url := os.Getenv("PG_TEST_URL")
	if url == "" {
		t.Skip("PG_TEST_URL not set")
	}
	ctx := context.Background()

	schema := "gym_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	admin, err := pgxpool.New(ctx, url)
	require.NoError(t, err)
	_, err = admin.Exec(ctx, fmt.Sprintf("CREATE SCHEMA %s", schema))
	require.NoError(t, err)

	cfg, err := pgxpool.ParseConfig(url)
	require.NoError(t, err)
	cfg.ConnConfig.RuntimeParams["search_path"] = schema
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	require.NoError(t, err)

	t.Cleanup(func() {
		pool.Close()
		_, _ = admin.Exec(context.Background(), fmt.Sprintf("DROP SCHEMA %s CASCADE", schema))
		admin.Close()
	})

	require.NoError(t, pgstore.Migrate(ctx, pool, "schema_migrations", nil))
	require.NoError(t, gym.Migrate(ctx, pool, nil))
	return pool
}

func TestPGAuditStore_RecordInvitation(t *testing.T) {
	t.Parallel()

	pool := newPool(t)
	store := gym.NewPGAuditStore(pool)
	ctx := context.Background()

	rec := gym.AuditRecord{
		InvitationID: uuid.New(),
		TrainerID:    uuid.New(),
		TraineeEmail: "jane@example.com",
		RecordedAt:   time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
	}
	written, err := store.RecordInvitation(ctx, rec)
	require.NoError(t, err)
	assert.True(t, written)

	written, err = store.RecordInvitation(ctx, rec)
	require.NoError(t, err)
	assert.False(t, written, "second insert is ignored")

	var n int
	require.NoError(t, pool.QueryRow(ctx, `SELECT count(*) FROM gym_invitation_audit`).Scan(&n))
	assert.Equal(t, 1, n)

	// The gym schema keeps its own goose version table.
	require.NoError(t, pool.QueryRow(ctx, `SELECT count(*) FROM `+gym.MigrationsTable).Scan(&n))
	assert.Positive(t, n)
}

func TestInvitationCreated_PostgresScopedHandlers(t *testing.T) {
	t.Parallel()

	pool := newPool(t)
	ctx := context.Background()
	tx := pg.TxRunner{Pool: pool}

	envelopes := pgstore.NewEnvelopeStore(pool)
	notifications := pgstore.NewNotificationStore(pool)
	events := pgstore.NewOutboxStore(pool)

	publisher, err := outbox.NewPublisher(events)
	require.NoError(t, err)
	scheduler, err := notification.NewScheduler(notifications, publisher, notification.WithTxRunner(tx))
	require.NoError(t, err)
	handlers, err := gym.NewHandlers(scheduler, publisher, gym.NewPGAuditStore(pool), gym.WithTxRunner(tx))
	require.NoError(t, err)
	registry := command.MustRegistry(handlers.Registrations()...)

	jobs := &recordingScheduler{}
	dispatcher, err := command.NewDispatcher(envelopes, registry, jobs)
	require.NoError(t, err)
	orchestrator, err := command.NewOrchestrator(envelopes, registry, jobs, command.WithScope(pg.ConnScope(pool)))
	require.NoError(t, err)

	cmd := invitation()
	res, err := dispatcher.EnqueueWithResult(ctx, cmd)
	require.NoError(t, err)
	require.NoError(t, orchestrator.Process(ctx, res.EnvelopeID))

	env, err := envelopes.Get(ctx, res.EnvelopeID)
	require.NoError(t, err)
	assert.Equal(t, command.StatusCompleted, env.Status)

	var audited int
	require.NoError(t, pool.QueryRow(ctx,
		`SELECT count(*) FROM gym_invitation_audit WHERE invitation_id = $1`, cmd.InvitationID).Scan(&audited))
	assert.Equal(t, 1, audited)

	counts, err := notifications.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, counts[notification.StatusPending])

	msgCounts, err := events.CountMessagesByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, msgCounts[outbox.MessagePending])
}
