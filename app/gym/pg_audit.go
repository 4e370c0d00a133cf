package gym

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dmitrymomot/relay/app/gym/migrations"
	"github.com/dmitrymomot/relay/integration/database/pg"
)

// MigrationsTable is the goose version table of the gym schema, kept apart
// from the relay tables so both can evolve independently.
const MigrationsTable = "gym_schema_migrations"

// Migrate applies the gym schema.
func Migrate(ctx context.Context, pool *pgxpool.Pool, log *slog.Logger) error {
	return pg.MigrateFS(ctx, pool, migrations.FS, MigrationsTable, log)
}

// PGAuditStore writes audit rows through the querier carried by the context:
// inside a handler scope that is the handler's own connection.
type PGAuditStore struct {
	pool *pgxpool.Pool
}

// NewPGAuditStore creates a PostgreSQL-backed AuditStore.
func NewPGAuditStore(pool *pgxpool.Pool) *PGAuditStore {
	return &PGAuditStore{pool: pool}
}

func (s *PGAuditStore) RecordInvitation(ctx context.Context, rec AuditRecord) (bool, error) {
	tag, err := pg.DB(ctx, s.pool).Exec(ctx, `
		INSERT INTO gym_invitation_audit (invitation_id, trainer_id, trainee_email, recorded_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (invitation_id) DO NOTHING`,
		rec.InvitationID, rec.TrainerID, rec.TraineeEmail, rec.RecordedAt)
	if err != nil {
		return false, fmt.Errorf("insert invitation audit: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}
