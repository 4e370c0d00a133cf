// Package pg provides PostgreSQL connection management, migrations, health
// checking and transaction propagation on top of pgx.
//
// # Key Features
//
//   - Connect: creates a pgxpool.Pool with retry and ping verification
//   - Migrate / MigrateFS: applies goose SQL migrations from disk or an embedded FS
//   - Healthcheck: returns a ping function for readiness probes
//   - WithTx / TxFromContext / InTx: carry one transaction through store calls
//   - ConnScope: checks out a dedicated connection per handler execution
//   - Error classifiers for common PostgreSQL error codes
//
// # Configuration
//
//	type Config struct {
//		ConnectionString  string        `env:"PG_CONN_URL,required"`
//		MaxOpenConns      int32         `env:"PG_MAX_OPEN_CONNS" envDefault:"10"`
//		MaxIdleConns      int32         `env:"PG_MAX_IDLE_CONNS" envDefault:"5"`
//		HealthCheckPeriod time.Duration `env:"PG_HEALTHCHECK_PERIOD" envDefault:"1m"`
//		MaxConnIdleTime   time.Duration `env:"PG_MAX_CONN_IDLE_TIME" envDefault:"10m"`
//		MaxConnLifetime   time.Duration `env:"PG_MAX_CONN_LIFETIME" envDefault:"30m"`
//		RetryAttempts     int           `env:"PG_RETRY_ATTEMPTS" envDefault:"3"`
//		RetryInterval     time.Duration `env:"PG_RETRY_INTERVAL" envDefault:"5s"`
//		MigrationsPath    string        `env:"PG_MIGRATIONS_PATH" envDefault:"migrations"`
//		MigrationsTable   string        `env:"PG_MIGRATIONS_TABLE" envDefault:"schema_migrations"`
//	}
//
// # Transactions
//
// Stores resolve their querier with DB(ctx, pool): the ambient transaction
// wins, then a scoped connection, then the pool. Business code that must
// commit a state change together with an outbox message wraps both in InTx:
//
//	err := pg.InTx(ctx, pool, func(ctx context.Context) error {
//		if _, err := pg.DB(ctx, pool).Exec(ctx, "UPDATE sessions SET completed_at = now() WHERE id = $1", id); err != nil {
//			return err
//		}
//		_, err := publisher.Publish(ctx, "session.completed", id.String(), event)
//		return err
//	})
//
// Nested InTx calls join the outer transaction. Workers run in separate
// sessions and only see rows once the transaction commits.
//
// # Error Handling
//
//	pg.IsNotFoundError(err)            // pgx.ErrNoRows
//	pg.IsDuplicateKeyError(err)        // 23505
//	pg.IsForeignKeyViolationError(err) // 23503
//	pg.IsRetryableError(err)           // 40001, 40P01
//	pg.IsTxClosedError(err)            // pgx.ErrTxClosed
package pg
