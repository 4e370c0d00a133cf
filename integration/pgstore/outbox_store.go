package pgstore

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dmitrymomot/relay/core/outbox"
	"github.com/dmitrymomot/relay/integration/database/pg"
)

const (
	messageColumns = `id, event_type, payload, correlation_id, status, attempts,
	next_attempt_at, last_error, processed_at, claimed_at, created_at, updated_at`

	deliveryColumns = `id, event_id, handler_name, status, attempts,
	next_attempt_at, last_error, processed_at, claimed_at, created_at, updated_at`

	// Shared by ListDueMessages and TryMarkProcessing: $1 is now, $2 staleBefore.
	messageDue = `(
		(status = 'pending' AND (next_attempt_at IS NULL OR next_attempt_at <= $1))
		OR (status = 'failed' AND next_attempt_at IS NOT NULL AND next_attempt_at <= $1)
		OR (status = 'processing' AND claimed_at < $2)
	)`
)

// OutboxStore implements outbox.Store.
type OutboxStore struct {
	pool *pgxpool.Pool
}

var _ outbox.Store = (*OutboxStore)(nil)

// NewOutboxStore creates an outbox store on pool.
func NewOutboxStore(pool *pgxpool.Pool) *OutboxStore {
	return &OutboxStore{pool: pool}
}

// AddMessage inserts msg through the ambient transaction, if any.
func (s *OutboxStore) AddMessage(ctx context.Context, msg *outbox.Message) error {
	if msg.ID == uuid.Nil {
		msg.ID = uuid.New()
	}
	_, err := pg.DB(ctx, s.pool).Exec(ctx, `
		INSERT INTO outbox_messages (`+messageColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		msg.ID, msg.EventType, []byte(msg.Payload), msg.CorrelationID, string(msg.Status), msg.Attempts,
		msg.NextAttemptAt, msg.LastError, msg.ProcessedAt, msg.ClaimedAt, msg.CreatedAt, msg.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert outbox message: %w", err)
	}
	return nil
}

// GetMessage loads a message by id.
func (s *OutboxStore) GetMessage(ctx context.Context, id uuid.UUID) (*outbox.Message, error) {
	msg, err := scanMessage(pg.DB(ctx, s.pool).QueryRow(ctx,
		`SELECT `+messageColumns+` FROM outbox_messages WHERE id = $1`, id))
	if pg.IsNotFoundError(err) {
		return nil, outbox.ErrMessageNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get outbox message: %w", err)
	}
	return msg, nil
}

// ListDueMessages returns due messages, oldest first.
func (s *OutboxStore) ListDueMessages(ctx context.Context, q outbox.DueQuery) ([]uuid.UUID, error) {
	rows, err := pg.DB(ctx, s.pool).Query(ctx, `
		SELECT id FROM outbox_messages
		WHERE `+messageDue+`
		ORDER BY created_at, id
		LIMIT $3`, q.Now, q.StaleBefore, limitOrAll(q.Limit))
	if err != nil {
		return nil, fmt.Errorf("list due outbox messages: %w", err)
	}
	ids, err := collectIDs(rows)
	if err != nil {
		return nil, fmt.Errorf("list due outbox messages: %w", err)
	}
	return ids, nil
}

// TryMarkProcessing claims a due message in one statement.
func (s *OutboxStore) TryMarkProcessing(ctx context.Context, id uuid.UUID, now, staleBefore time.Time) (*outbox.Message, error) {
	msg, err := scanMessage(pg.DB(ctx, s.pool).QueryRow(ctx, `
		UPDATE outbox_messages
		SET status = 'processing', claimed_at = $1, updated_at = $1
		WHERE id = $3 AND `+messageDue+`
		RETURNING `+messageColumns, now, staleBefore, id))
	if err == nil {
		return msg, nil
	}
	if !pg.IsNotFoundError(err) {
		return nil, fmt.Errorf("claim outbox message: %w", err)
	}
	if _, err := s.GetMessage(ctx, id); err != nil {
		return nil, err
	}
	return nil, outbox.ErrNotClaimable
}

// SaveMessage writes the outcome of a claimed message, fenced on claimedAt.
func (s *OutboxStore) SaveMessage(ctx context.Context, msg *outbox.Message, claimedAt time.Time) error {
	tag, err := pg.DB(ctx, s.pool).Exec(ctx, `
		UPDATE outbox_messages
		SET status = $3, attempts = $4, next_attempt_at = $5, last_error = $6,
			processed_at = $7, claimed_at = $8, updated_at = $9
		WHERE id = $1 AND status = 'processing' AND claimed_at = $2`,
		msg.ID, claimedAt, string(msg.Status), msg.Attempts, msg.NextAttemptAt, msg.LastError,
		msg.ProcessedAt, msg.ClaimedAt, msg.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save outbox message: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	if _, err := s.GetMessage(ctx, msg.ID); err != nil {
		return err
	}
	return outbox.ErrNotClaimable
}

// AddDeliveryIfAbsent inserts d unless (event_id, handler_name) is taken.
func (s *OutboxStore) AddDeliveryIfAbsent(ctx context.Context, d *outbox.Delivery) (*outbox.Delivery, bool, error) {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}

	db := pg.DB(ctx, s.pool)
	stored, err := scanDelivery(db.QueryRow(ctx, `
		INSERT INTO outbox_deliveries (`+deliveryColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (event_id, handler_name) DO NOTHING
		RETURNING `+deliveryColumns,
		d.ID, d.EventID, d.HandlerName, string(d.Status), d.Attempts,
		d.NextAttemptAt, d.LastError, d.ProcessedAt, d.ClaimedAt, d.CreatedAt, d.UpdatedAt))
	if err == nil {
		return stored, true, nil
	}
	if !pg.IsNotFoundError(err) {
		return nil, false, fmt.Errorf("insert outbox delivery: %w", err)
	}

	stored, err = scanDelivery(db.QueryRow(ctx,
		`SELECT `+deliveryColumns+` FROM outbox_deliveries WHERE event_id = $1 AND handler_name = $2`,
		d.EventID, d.HandlerName))
	if err != nil {
		return nil, false, fmt.Errorf("load outbox delivery: %w", err)
	}
	return stored, false, nil
}

// GetDelivery loads a delivery by id.
func (s *OutboxStore) GetDelivery(ctx context.Context, id uuid.UUID) (*outbox.Delivery, error) {
	d, err := scanDelivery(pg.DB(ctx, s.pool).QueryRow(ctx,
		`SELECT `+deliveryColumns+` FROM outbox_deliveries WHERE id = $1`, id))
	if pg.IsNotFoundError(err) {
		return nil, outbox.ErrDeliveryNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get outbox delivery: %w", err)
	}
	return d, nil
}

// ListDeliveries returns the deliveries of one message ordered by handler name.
func (s *OutboxStore) ListDeliveries(ctx context.Context, eventID uuid.UUID) ([]*outbox.Delivery, error) {
	rows, err := pg.DB(ctx, s.pool).Query(ctx,
		`SELECT `+deliveryColumns+` FROM outbox_deliveries WHERE event_id = $1 ORDER BY handler_name`, eventID)
	if err != nil {
		return nil, fmt.Errorf("list outbox deliveries: %w", err)
	}
	out, err := collect(rows, scanDelivery)
	if err != nil {
		return nil, fmt.Errorf("list outbox deliveries: %w", err)
	}
	return out, nil
}

// ListDueDeliveries returns deliveries needing a scheduler notification.
func (s *OutboxStore) ListDueDeliveries(ctx context.Context, q outbox.DueQuery) ([]uuid.UUID, error) {
	rows, err := pg.DB(ctx, s.pool).Query(ctx, `
		SELECT id FROM outbox_deliveries
		WHERE (status = 'pending' AND created_at < $2)
			OR (status = 'failed' AND next_attempt_at IS NOT NULL AND next_attempt_at <= $1)
			OR (status = 'processing' AND claimed_at < $3)
		ORDER BY updated_at
		LIMIT $4`, q.Now, q.PendingBefore, q.StaleBefore, limitOrAll(q.Limit))
	if err != nil {
		return nil, fmt.Errorf("list due outbox deliveries: %w", err)
	}
	ids, err := collectIDs(rows)
	if err != nil {
		return nil, fmt.Errorf("list due outbox deliveries: %w", err)
	}
	return ids, nil
}

// TryClaimDelivery claims a pending, due failed or stale processing delivery.
func (s *OutboxStore) TryClaimDelivery(ctx context.Context, id uuid.UUID, now, staleBefore time.Time) (*outbox.Delivery, error) {
	d, err := scanDelivery(pg.DB(ctx, s.pool).QueryRow(ctx, `
		UPDATE outbox_deliveries
		SET status = 'processing', claimed_at = $2, updated_at = $2
		WHERE id = $1 AND (
			status = 'pending'
			OR (status = 'failed' AND next_attempt_at IS NOT NULL AND next_attempt_at <= $2)
			OR (status = 'processing' AND claimed_at < $3)
		)
		RETURNING `+deliveryColumns, id, now, staleBefore))
	if err == nil {
		return d, nil
	}
	if !pg.IsNotFoundError(err) {
		return nil, fmt.Errorf("claim outbox delivery: %w", err)
	}
	if _, err := s.GetDelivery(ctx, id); err != nil {
		return nil, err
	}
	return nil, outbox.ErrNotClaimable
}

// SaveDelivery writes the outcome of a claimed delivery, fenced on claimedAt.
func (s *OutboxStore) SaveDelivery(ctx context.Context, d *outbox.Delivery, claimedAt time.Time) error {
	tag, err := pg.DB(ctx, s.pool).Exec(ctx, `
		UPDATE outbox_deliveries
		SET status = $3, attempts = $4, next_attempt_at = $5, last_error = $6,
			processed_at = $7, claimed_at = $8, updated_at = $9
		WHERE id = $1 AND status = 'processing' AND claimed_at = $2`,
		d.ID, claimedAt, string(d.Status), d.Attempts, d.NextAttemptAt, d.LastError,
		d.ProcessedAt, d.ClaimedAt, d.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save outbox delivery: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	if _, err := s.GetDelivery(ctx, d.ID); err != nil {
		return err
	}
	return outbox.ErrNotClaimable
}

// CountMessagesByStatus counts messages per status.
func (s *OutboxStore) CountMessagesByStatus(ctx context.Context) (map[outbox.MessageStatus]int, error) {
	out, err := countByStatus[outbox.MessageStatus](ctx, pg.DB(ctx, s.pool),
		`SELECT status, count(*) FROM outbox_messages GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count outbox messages: %w", err)
	}
	return out, nil
}

// CountDeliveriesByStatus counts deliveries per status.
func (s *OutboxStore) CountDeliveriesByStatus(ctx context.Context) (map[outbox.DeliveryStatus]int, error) {
	out, err := countByStatus[outbox.DeliveryStatus](ctx, pg.DB(ctx, s.pool),
		`SELECT status, count(*) FROM outbox_deliveries GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count outbox deliveries: %w", err)
	}
	return out, nil
}

func scanMessage(row rowScanner) (*outbox.Message, error) {
	var (
		msg     outbox.Message
		status  string
		payload []byte
	)
	if err := row.Scan(&msg.ID, &msg.EventType, &payload, &msg.CorrelationID, &status, &msg.Attempts,
		&msg.NextAttemptAt, &msg.LastError, &msg.ProcessedAt, &msg.ClaimedAt, &msg.CreatedAt, &msg.UpdatedAt); err != nil {
		return nil, err
	}
	msg.Status = outbox.MessageStatus(status)
	msg.Payload = payload
	return &msg, nil
}

func scanDelivery(row rowScanner) (*outbox.Delivery, error) {
	var (
		d      outbox.Delivery
		status string
	)
	if err := row.Scan(&d.ID, &d.EventID, &d.HandlerName, &status, &d.Attempts,
		&d.NextAttemptAt, &d.LastError, &d.ProcessedAt, &d.ClaimedAt, &d.CreatedAt, &d.UpdatedAt); err != nil {
		return nil, err
	}
	d.Status = outbox.DeliveryStatus(status)
	return &d, nil
}
