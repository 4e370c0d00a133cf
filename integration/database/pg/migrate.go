package pg

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/pressly/goose/v3/database"

	"github.com/dmitrymomot/relay/core/logger"
)

// Migrate applies the migrations found in cfg.MigrationsPath on disk.
func Migrate(ctx context.Context, pool *pgxpool.Pool, cfg Config, log *slog.Logger) error {
	if cfg.MigrationsPath == "" {
		return ErrMigrationPathNotProvided
	}
	if _, err := os.Stat(cfg.MigrationsPath); errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %s", ErrMigrationsDirNotFound, cfg.MigrationsPath)
	}
	return MigrateFS(ctx, pool, os.DirFS(cfg.MigrationsPath), cfg.MigrationsTable, log)
}

// MigrateFS applies the *.sql goose migrations at the root of fsys, for
// example an embedded migrations directory.
func MigrateFS(ctx context.Context, pool *pgxpool.Pool, fsys fs.FS, table string, log *slog.Logger) error {
	if log == nil {
		log = logger.Discard()
	}

	// goose works on database/sql; the adapter borrows connections from the pool.
	db := stdlib.OpenDBFromPool(pool)
	defer db.Close()

	dialect := goose.DialectPostgres
	var opts []goose.ProviderOption
	if table != "" && table != goose.DefaultTablename {
		// A custom version table needs an explicit store.
		store, err := database.NewStore(database.DialectPostgres, table)
		if err != nil {
			return errors.Join(ErrFailedToApplyMigrations, err)
		}
		dialect = goose.DialectCustom
		opts = append(opts, goose.WithStore(store))
	}
	provider, err := goose.NewProvider(dialect, db, fsys, opts...)
	if err != nil {
		return errors.Join(ErrFailedToApplyMigrations, err)
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return errors.Join(ErrFailedToApplyMigrations, err)
	}
	for _, r := range results {
		log.InfoContext(ctx, "migration applied",
			slog.Int64("version", r.Source.Version),
			slog.String("file", r.Source.Path),
			slog.Duration("duration", r.Duration))
	}
	return nil
}
