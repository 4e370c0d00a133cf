package pgstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dmitrymomot/relay/core/command"
	"github.com/dmitrymomot/relay/integration/database/pg"
)

const envelopeColumns = `id, correlation_key, command_type, payload, status, attempts,
	last_attempt_at, next_attempt_at, last_error, execution_log, created_at, updated_at`

// EnvelopeStore implements command.EnvelopeStore.
type EnvelopeStore struct {
	pool *pgxpool.Pool
}

var _ command.EnvelopeStore = (*EnvelopeStore)(nil)

// NewEnvelopeStore creates an envelope store on pool.
func NewEnvelopeStore(pool *pgxpool.Pool) *EnvelopeStore {
	return &EnvelopeStore{pool: pool}
}

// AddOrGet inserts env, or returns the envelope already stored under its
// correlation key. The unique constraint decides the race between
// concurrent producers.
func (s *EnvelopeStore) AddOrGet(ctx context.Context, env *command.Envelope) (*command.Envelope, bool, error) {
	if env.ID == uuid.Nil {
		env.ID = uuid.New()
	}
	log, err := json.Marshal(executionLog(env.ExecutionLog))
	if err != nil {
		return nil, false, fmt.Errorf("encode execution log: %w", err)
	}

	db := pg.DB(ctx, s.pool)
	row := db.QueryRow(ctx, `
		INSERT INTO command_envelopes (`+envelopeColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (correlation_key) DO NOTHING
		RETURNING `+envelopeColumns,
		env.ID, env.CorrelationKey, env.CommandType, []byte(env.Payload), string(env.Status), env.Attempts,
		env.LastAttemptAt, env.NextAttemptAt, env.LastError, log, env.CreatedAt, env.UpdatedAt)

	stored, err := scanEnvelope(row)
	if err == nil {
		return stored, true, nil
	}
	if !pg.IsNotFoundError(err) {
		return nil, false, fmt.Errorf("insert envelope: %w", err)
	}

	// Conflict: the winner's row is committed or visible in this transaction.
	stored, err = scanEnvelope(db.QueryRow(ctx,
		`SELECT `+envelopeColumns+` FROM command_envelopes WHERE correlation_key = $1`, env.CorrelationKey))
	if err != nil {
		return nil, false, fmt.Errorf("load envelope by correlation key: %w", err)
	}
	return stored, false, nil
}

// Get loads an envelope by id.
func (s *EnvelopeStore) Get(ctx context.Context, id uuid.UUID) (*command.Envelope, error) {
	env, err := scanEnvelope(pg.DB(ctx, s.pool).QueryRow(ctx,
		`SELECT `+envelopeColumns+` FROM command_envelopes WHERE id = $1`, id))
	if pg.IsNotFoundError(err) {
		return nil, command.ErrEnvelopeNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get envelope: %w", err)
	}
	return env, nil
}

// Claim moves a claimable envelope to processing in one statement.
func (s *EnvelopeStore) Claim(ctx context.Context, id uuid.UUID, now, staleBefore time.Time) (*command.Envelope, error) {
	env, err := scanEnvelope(pg.DB(ctx, s.pool).QueryRow(ctx, `
		UPDATE command_envelopes
		SET status = 'processing', last_attempt_at = $2, updated_at = $2
		WHERE id = $1 AND (
			status = 'pending'
			OR (status = 'failed' AND (next_attempt_at IS NULL OR next_attempt_at <= $2))
			OR (status = 'processing' AND last_attempt_at < $3)
		)
		RETURNING `+envelopeColumns, id, now, staleBefore))
	if err == nil {
		return env, nil
	}
	if !pg.IsNotFoundError(err) {
		return nil, fmt.Errorf("claim envelope: %w", err)
	}
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	return nil, command.ErrNotClaimable
}

// Save writes the outcome of a claimed envelope, fenced on claimedAt.
func (s *EnvelopeStore) Save(ctx context.Context, env *command.Envelope, claimedAt time.Time) error {
	log, err := json.Marshal(executionLog(env.ExecutionLog))
	if err != nil {
		return fmt.Errorf("encode execution log: %w", err)
	}

	tag, err := pg.DB(ctx, s.pool).Exec(ctx, `
		UPDATE command_envelopes
		SET status = $3, attempts = $4, last_attempt_at = $5, next_attempt_at = $6,
			last_error = $7, execution_log = $8, updated_at = $9
		WHERE id = $1 AND status = 'processing' AND last_attempt_at = $2`,
		env.ID, claimedAt, string(env.Status), env.Attempts, env.LastAttemptAt, env.NextAttemptAt,
		env.LastError, log, env.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save envelope: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	if _, err := s.Get(ctx, env.ID); err != nil {
		return err
	}
	return command.ErrNotClaimable
}

// ListDue returns envelopes needing a scheduler notification, least recently
// updated first.
func (s *EnvelopeStore) ListDue(ctx context.Context, q command.DueQuery) ([]uuid.UUID, error) {
	rows, err := pg.DB(ctx, s.pool).Query(ctx, `
		SELECT id FROM command_envelopes
		WHERE (status = 'pending' AND created_at < $2)
			OR (status = 'failed' AND (next_attempt_at IS NULL OR next_attempt_at <= $1))
			OR (status = 'processing' AND last_attempt_at < $3)
		ORDER BY updated_at
		LIMIT $4`, q.Now, q.PendingBefore, q.StaleBefore, limitOrAll(q.Limit))
	if err != nil {
		return nil, fmt.Errorf("list due envelopes: %w", err)
	}
	ids, err := collectIDs(rows)
	if err != nil {
		return nil, fmt.Errorf("list due envelopes: %w", err)
	}
	return ids, nil
}

// CountByStatus counts envelopes per status.
func (s *EnvelopeStore) CountByStatus(ctx context.Context) (map[command.Status]int, error) {
	out, err := countByStatus[command.Status](ctx, pg.DB(ctx, s.pool),
		`SELECT status, count(*) FROM command_envelopes GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count envelopes: %w", err)
	}
	return out, nil
}

func scanEnvelope(row rowScanner) (*command.Envelope, error) {
	var (
		env     command.Envelope
		status  string
		payload []byte
		log     []byte
	)
	if err := row.Scan(&env.ID, &env.CorrelationKey, &env.CommandType, &payload, &status, &env.Attempts,
		&env.LastAttemptAt, &env.NextAttemptAt, &env.LastError, &log, &env.CreatedAt, &env.UpdatedAt); err != nil {
		return nil, err
	}
	env.Status = command.Status(status)
	env.Payload = payload
	if len(log) > 0 {
		if err := json.Unmarshal(log, &env.ExecutionLog); err != nil {
			return nil, fmt.Errorf("decode execution log: %w", err)
		}
	}
	return &env, nil
}

// executionLog keeps an empty log as [] rather than null.
func executionLog(records []command.ExecutionRecord) []command.ExecutionRecord {
	if records == nil {
		return []command.ExecutionRecord{}
	}
	return records
}
