// Package pgstore implements the envelope, outbox, notification and task
// stores on PostgreSQL through pgx.
//
// Every store resolves its querier with pg.DB, so writes join the ambient
// transaction carried by the context and otherwise run on the scoped
// connection or the pool. The atomic primitives the dispatch pipeline relies
// on are expressed in SQL:
//
//   - add-or-get operations insert with ON CONFLICT DO NOTHING against a
//     unique constraint and read the surviving row back;
//   - claims are single UPDATE ... WHERE status ... RETURNING statements;
//   - saves are fenced on the claim timestamp in the WHERE clause;
//   - task claims lock rows with FOR UPDATE SKIP LOCKED.
//
// Apply the schema with Migrate before use:
//
//	pool, err := pg.Connect(ctx, cfg)
//	if err != nil {
//		return err
//	}
//	if err := pgstore.Migrate(ctx, pool, cfg.MigrationsTable, log); err != nil {
//		return err
//	}
//	envelopes := pgstore.NewEnvelopeStore(pool)
package pgstore
