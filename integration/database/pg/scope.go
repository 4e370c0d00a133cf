package pg

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ConnScope returns a per-execution resource scope that checks out a
// dedicated pooled connection and exposes it through the context, so
// concurrently running handlers never share a connection or a transaction.
// The connection returns to the pool on release.
func ConnScope(pool *pgxpool.Pool) func(ctx context.Context) (context.Context, func(), error) {
	return func(ctx context.Context) (context.Context, func(), error) {
		conn, err := pool.Acquire(ctx)
		if err != nil {
			return ctx, func() {}, fmt.Errorf("acquire connection: %w", err)
		}
		// Drop any transaction inherited from the caller: the handler owns its own.
		ctx = context.WithValue(ctx, txContextKey{}, nil)
		return WithConn(ctx, conn), conn.Release, nil
	}
}
