package pgstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dmitrymomot/relay/core/queue"
	"github.com/dmitrymomot/relay/integration/database/pg"
)

const taskColumns = `id, queue, task_type, task_name, ref_id, status, priority, retry_count, max_retries,
	scheduled_at, locked_until, locked_by, processed_at, error, created_at`

// QueueStorage implements queue.Storage. Tasks carry only a kind and a
// record identifier; many workers can poll the same table concurrently.
type QueueStorage struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

var _ queue.Storage = (*QueueStorage)(nil)

// NewQueueStorage creates a task storage on pool.
func NewQueueStorage(pool *pgxpool.Pool) *QueueStorage {
	return &QueueStorage{pool: pool, now: time.Now}
}

// CreateTask inserts a task.
func (s *QueueStorage) CreateTask(ctx context.Context, task *queue.Task) error {
	if task == nil {
		return fmt.Errorf("create task: task cannot be nil")
	}
	if task.ID == uuid.Nil {
		task.ID = uuid.New()
	}
	if task.CreatedAt.IsZero() {
		task.CreatedAt = s.now()
	}
	_, err := pg.DB(ctx, s.pool).Exec(ctx, `
		INSERT INTO tasks (`+taskColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		task.ID, task.Queue, string(task.TaskType), task.TaskName, task.RefID, string(task.Status),
		int16(task.Priority), int16(task.RetryCount), int16(task.MaxRetries),
		task.ScheduledAt, task.LockedUntil, task.LockedBy, task.ProcessedAt, task.Error, task.CreatedAt)
	if err != nil {
		return fmt.Errorf("create task %q: %w", task.TaskName, err)
	}
	return nil
}

// ClaimTask locks the highest-priority due task of the given queues. Rows
// locked by other workers are skipped, and processing rows whose lock
// expired are reclaimed.
func (s *QueueStorage) ClaimTask(ctx context.Context, workerID uuid.UUID, queues []string, lockDuration time.Duration) (*queue.Task, error) {
	now := s.now()
	task, err := scanTask(pg.DB(ctx, s.pool).QueryRow(ctx, `
		WITH next AS (
			SELECT id FROM tasks
			WHERE queue = ANY($1)
				AND scheduled_at <= $2
				AND (
					(status = 'pending' AND (locked_until IS NULL OR locked_until <= $2))
					OR (status = 'processing' AND locked_until < $2)
				)
			ORDER BY priority DESC, scheduled_at
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		UPDATE tasks t
		SET status = 'processing', locked_until = $3, locked_by = $4
		FROM next
		WHERE t.id = next.id
		RETURNING `+prefixed("t.", taskColumns), queues, now, now.Add(lockDuration), workerID))
	if pg.IsNotFoundError(err) {
		return nil, queue.ErrNoTaskToClaim
	}
	if err != nil {
		return nil, fmt.Errorf("claim task: %w", err)
	}
	return task, nil
}

// CompleteTask marks a processing task as completed.
func (s *QueueStorage) CompleteTask(ctx context.Context, taskID uuid.UUID) error {
	tag, err := pg.DB(ctx, s.pool).Exec(ctx, `
		UPDATE tasks
		SET status = 'completed', processed_at = $2, locked_until = NULL, locked_by = NULL
		WHERE id = $1 AND status = 'processing'`, taskID, s.now())
	if err != nil {
		return fmt.Errorf("complete task: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.notProcessing(ctx, taskID)
	}
	return nil
}

// FailTask records a failure. The task returns to pending with a linear
// delay while retries remain, and becomes failed otherwise.
func (s *QueueStorage) FailTask(ctx context.Context, taskID uuid.UUID, errorMsg string) error {
	db := pg.DB(ctx, s.pool)

	var retryCount int16
	err := db.QueryRow(ctx,
		`SELECT retry_count FROM tasks WHERE id = $1 AND status = 'processing'`, taskID).Scan(&retryCount)
	if pg.IsNotFoundError(err) {
		return s.notProcessing(ctx, taskID)
	}
	if err != nil {
		return fmt.Errorf("fail task: %w", err)
	}
	next := s.now().Add(queue.RetryDelay(int8(retryCount + 1)))

	tag, err := db.Exec(ctx, `
		UPDATE tasks
		SET retry_count = retry_count + 1,
			error = $2,
			locked_until = NULL,
			locked_by = NULL,
			status = CASE WHEN retry_count + 1 >= max_retries THEN 'failed' ELSE 'pending' END,
			scheduled_at = CASE WHEN retry_count + 1 >= max_retries THEN scheduled_at ELSE $3 END
		WHERE id = $1 AND status = 'processing' AND retry_count = $4`,
		taskID, errorMsg, next, retryCount)
	if err != nil {
		return fmt.Errorf("fail task: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.notProcessing(ctx, taskID)
	}
	return nil
}

// MoveToDLQ copies a task into tasks_dlq and deletes it, in one transaction.
func (s *QueueStorage) MoveToDLQ(ctx context.Context, taskID uuid.UUID) error {
	now := s.now()
	return pg.InTx(ctx, s.pool, func(ctx context.Context) error {
		db := pg.DB(ctx, s.pool)
		tag, err := db.Exec(ctx, `
			INSERT INTO tasks_dlq (id, task_id, queue, task_type, task_name, ref_id, priority, error, retry_count, failed_at, created_at)
			SELECT $2, id, queue, task_type, task_name, ref_id, priority, COALESCE(error, ''), retry_count, $3, $3
			FROM tasks WHERE id = $1`, taskID, uuid.New(), now)
		if err != nil {
			return fmt.Errorf("move task to dlq: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("%w: %s", queue.ErrTaskNotFound, taskID)
		}
		if _, err := db.Exec(ctx, `DELETE FROM tasks WHERE id = $1`, taskID); err != nil {
			return fmt.Errorf("delete dead-lettered task: %w", err)
		}
		return nil
	})
}

// ExtendLock pushes the lock of a processing task forward.
func (s *QueueStorage) ExtendLock(ctx context.Context, taskID uuid.UUID, duration time.Duration) error {
	tag, err := pg.DB(ctx, s.pool).Exec(ctx,
		`UPDATE tasks SET locked_until = $2 WHERE id = $1 AND status = 'processing'`,
		taskID, s.now().Add(duration))
	if err != nil {
		return fmt.Errorf("extend task lock: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.notProcessing(ctx, taskID)
	}
	return nil
}

// GetPendingTaskByName returns a pending task with the given name, or nil.
func (s *QueueStorage) GetPendingTaskByName(ctx context.Context, taskName string) (*queue.Task, error) {
	task, err := scanTask(pg.DB(ctx, s.pool).QueryRow(ctx, `
		SELECT `+taskColumns+` FROM tasks
		WHERE task_name = $1 AND status = 'pending'
		ORDER BY scheduled_at
		LIMIT 1`, taskName))
	if pg.IsNotFoundError(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get pending task %q: %w", taskName, err)
	}
	return task, nil
}

// Healthcheck pings the database.
func (s *QueueStorage) Healthcheck(ctx context.Context) error {
	return pg.Healthcheck(s.pool)(ctx)
}

// notProcessing tells a missing task from one in another state.
func (s *QueueStorage) notProcessing(ctx context.Context, taskID uuid.UUID) error {
	var exists bool
	if err := pg.DB(ctx, s.pool).QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM tasks WHERE id = $1)`, taskID).Scan(&exists); err != nil {
		return fmt.Errorf("check task: %w", err)
	}
	if !exists {
		return fmt.Errorf("%w: %s", queue.ErrTaskNotFound, taskID)
	}
	return fmt.Errorf("%w: %s", queue.ErrTaskNotProcessing, taskID)
}

func scanTask(row rowScanner) (*queue.Task, error) {
	var (
		t                                queue.Task
		taskType, status                 string
		priority, retryCount, maxRetries int16
	)
	if err := row.Scan(&t.ID, &t.Queue, &taskType, &t.TaskName, &t.RefID, &status, &priority, &retryCount, &maxRetries,
		&t.ScheduledAt, &t.LockedUntil, &t.LockedBy, &t.ProcessedAt, &t.Error, &t.CreatedAt); err != nil {
		return nil, err
	}
	t.TaskType = queue.TaskType(taskType)
	t.Status = queue.TaskStatus(status)
	t.Priority = queue.Priority(priority)
	t.RetryCount = int8(retryCount)
	t.MaxRetries = int8(maxRetries)
	return &t, nil
}

func prefixed(prefix, columns string) string {
	parts := strings.Split(columns, ",")
	for i, p := range parts {
		parts[i] = prefix + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}
