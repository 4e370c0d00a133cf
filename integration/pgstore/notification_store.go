package pgstore

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dmitrymomot/relay/core/notification"
	"github.com/dmitrymomot/relay/integration/database/pg"
)

const notificationColumns = `id, channel, type, correlation_id, recipient, payload, status, attempts,
	last_attempt_at, next_attempt_at, sent_at, last_error, created_at, updated_at`

// NotificationStore implements notification.Store.
type NotificationStore struct {
	pool *pgxpool.Pool
}

var _ notification.Store = (*NotificationStore)(nil)

// NewNotificationStore creates a notification store on pool.
func NewNotificationStore(pool *pgxpool.Pool) *NotificationStore {
	return &NotificationStore{pool: pool}
}

// AddIfNoActive inserts msg unless an active notification with the same
// (type, correlation_id, recipient) exists. The partial unique index over
// pending and sent rows decides the race. When the conflicting row leaves
// the active set before it can be read, the insert is tried once more.
func (s *NotificationStore) AddIfNoActive(ctx context.Context, msg *notification.Message) (*notification.Message, bool, error) {
	if msg.ID == uuid.Nil {
		msg.ID = uuid.New()
	}

	db := pg.DB(ctx, s.pool)
	for range 2 {
		stored, err := scanNotification(db.QueryRow(ctx, `
			INSERT INTO notifications (`+notificationColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
			ON CONFLICT (type, correlation_id, recipient) WHERE status IN ('pending', 'sent') DO NOTHING
			RETURNING `+notificationColumns,
			msg.ID, msg.Channel, msg.Type, msg.CorrelationID, msg.Recipient, []byte(msg.Payload), string(msg.Status),
			msg.Attempts, msg.LastAttemptAt, msg.NextAttemptAt, msg.SentAt, msg.LastError, msg.CreatedAt, msg.UpdatedAt))
		if err == nil {
			return stored, true, nil
		}
		if !pg.IsNotFoundError(err) {
			return nil, false, fmt.Errorf("insert notification: %w", err)
		}

		stored, err = scanNotification(db.QueryRow(ctx, `
			SELECT `+notificationColumns+` FROM notifications
			WHERE type = $1 AND correlation_id = $2 AND recipient = $3 AND status IN ('pending', 'sent')`,
			msg.Type, msg.CorrelationID, msg.Recipient))
		if err == nil {
			return stored, false, nil
		}
		if !pg.IsNotFoundError(err) {
			return nil, false, fmt.Errorf("load active notification: %w", err)
		}
	}
	return nil, false, fmt.Errorf("add notification: active record for %s/%s/%s changed concurrently: %w",
		msg.Type, msg.CorrelationID, msg.Recipient, notification.ErrConflict)
}

// Get loads a notification by id.
func (s *NotificationStore) Get(ctx context.Context, id uuid.UUID) (*notification.Message, error) {
	msg, err := scanNotification(pg.DB(ctx, s.pool).QueryRow(ctx,
		`SELECT `+notificationColumns+` FROM notifications WHERE id = $1`, id))
	if pg.IsNotFoundError(err) {
		return nil, notification.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get notification: %w", err)
	}
	return msg, nil
}

// Save writes an attempt outcome while the row is pending with expectedAttempts.
func (s *NotificationStore) Save(ctx context.Context, msg *notification.Message, expectedAttempts int) error {
	tag, err := pg.DB(ctx, s.pool).Exec(ctx, `
		UPDATE notifications
		SET status = $3, attempts = $4, last_attempt_at = $5, next_attempt_at = $6, sent_at = $7,
			last_error = $8, updated_at = $9
		WHERE id = $1 AND status = 'pending' AND attempts = $2`,
		msg.ID, expectedAttempts, string(msg.Status), msg.Attempts, msg.LastAttemptAt, msg.NextAttemptAt,
		msg.SentAt, msg.LastError, msg.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save notification: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	if _, err := s.Get(ctx, msg.ID); err != nil {
		return err
	}
	return notification.ErrConflict
}

// ListDue returns pending notifications due at or before before.
func (s *NotificationStore) ListDue(ctx context.Context, before time.Time, limit int) ([]uuid.UUID, error) {
	rows, err := pg.DB(ctx, s.pool).Query(ctx, `
		SELECT id FROM notifications
		WHERE status = 'pending' AND COALESCE(next_attempt_at, created_at) <= $1
		ORDER BY COALESCE(next_attempt_at, created_at)
		LIMIT $2`, before, limitOrAll(limit))
	if err != nil {
		return nil, fmt.Errorf("list due notifications: %w", err)
	}
	ids, err := collectIDs(rows)
	if err != nil {
		return nil, fmt.Errorf("list due notifications: %w", err)
	}
	return ids, nil
}

// CountByStatus counts notifications per status.
func (s *NotificationStore) CountByStatus(ctx context.Context) (map[notification.Status]int, error) {
	out, err := countByStatus[notification.Status](ctx, pg.DB(ctx, s.pool),
		`SELECT status, count(*) FROM notifications GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count notifications: %w", err)
	}
	return out, nil
}

func scanNotification(row rowScanner) (*notification.Message, error) {
	var (
		msg     notification.Message
		status  string
		payload []byte
	)
	if err := row.Scan(&msg.ID, &msg.Channel, &msg.Type, &msg.CorrelationID, &msg.Recipient, &payload, &status,
		&msg.Attempts, &msg.LastAttemptAt, &msg.NextAttemptAt, &msg.SentAt, &msg.LastError, &msg.CreatedAt, &msg.UpdatedAt); err != nil {
		return nil, err
	}
	msg.Status = notification.Status(status)
	msg.Payload = payload
	return &msg, nil
}
