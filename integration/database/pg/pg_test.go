package pg_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"

	"github.com/dmitrymomot/relay/integration/database/pg"
)

func TestErrorClassifiers(t *testing.T) {
	t.Parallel()

	dup := fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505", ConstraintName: "outbox_deliveries_event_handler_key"})
	fk := &pgconn.PgError{Code: "23503"}
	deadlock := &pgconn.PgError{Code: "40P01"}

	assert.True(t, pg.IsDuplicateKeyError(dup))
	assert.Equal(t, "outbox_deliveries_event_handler_key", pg.ConstraintName(dup))
	assert.False(t, pg.IsDuplicateKeyError(fk))
	assert.True(t, pg.IsForeignKeyViolationError(fk))
	assert.True(t, pg.IsRetryableError(deadlock))
	assert.True(t, pg.IsRetryableError(&pgconn.PgError{Code: "40001"}))
	assert.False(t, pg.IsRetryableError(dup))
	assert.True(t, pg.IsNotFoundError(fmt.Errorf("get: %w", pgx.ErrNoRows)))
	assert.True(t, pg.IsTxClosedError(pgx.ErrTxClosed))
	assert.Empty(t, pg.ConstraintName(errors.New("plain")))
}

func TestTxContext(t *testing.T) {
	t.Parallel()

	_, ok := pg.TxFromContext(context.Background())
	assert.False(t, ok)

	ctx := pg.WithTx(context.Background(), nil)
	_, ok = pg.TxFromContext(ctx)
	assert.False(t, ok)

	_, ok = pg.ConnFromContext(context.Background())
	assert.False(t, ok)
}

func TestConnect_Validation(t *testing.T) {
	t.Parallel()

	_, err := pg.Connect(context.Background(), pg.Config{})
	assert.ErrorIs(t, err, pg.ErrEmptyConnectionString)

	_, err = pg.Connect(context.Background(), pg.Config{ConnectionString: "postgres://%zz"})
	assert.ErrorIs(t, err, pg.ErrFailedToParseDBConfig)
}

func TestMigrate_Validation(t *testing.T) {
	t.Parallel()

	err := pg.Migrate(context.Background(), nil, pg.Config{}, nil)
	assert.ErrorIs(t, err, pg.ErrMigrationPathNotProvided)

	err = pg.Migrate(context.Background(), nil, pg.Config{MigrationsPath: "does/not/exist"}, nil)
	assert.ErrorIs(t, err, pg.ErrMigrationsDirNotFound)
}
