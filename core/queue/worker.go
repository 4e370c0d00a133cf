package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/relay/core/logger"
	"github.com/dmitrymomot/relay/core/sanitizer"
)

// maxTaskErrorLength caps error text stored on tasks and dead letter entries.
const maxTaskErrorLength = 4000

// WorkerRepository defines the interface for worker operations
type WorkerRepository interface {
	// ClaimTask atomically claims the next available task
	ClaimTask(ctx context.Context, workerID uuid.UUID, queues []string, lockDuration time.Duration) (*Task, error)

	// CompleteTask marks task as completed
	CompleteTask(ctx context.Context, taskID uuid.UUID) error

	// FailTask records the error, increments the retry count and reschedules
	// the task if retries remain
	FailTask(ctx context.Context, taskID uuid.UUID, errorMsg string) error

	// MoveToDLQ moves task to dead letter queue
	MoveToDLQ(ctx context.Context, taskID uuid.UUID) error

	// ExtendLock extends the lock timeout for long-running tasks
	ExtendLock(ctx context.Context, taskID uuid.UUID, duration time.Duration) error
}

// Worker processes tasks from the queue
type Worker struct {
	repo     WorkerRepository
	handlers map[string]Handler
	queues   []string
	workerID uuid.UUID
	sem      chan struct{}
	wg       sync.WaitGroup
	mu       sync.RWMutex

	pullInterval    time.Duration
	lockTimeout     time.Duration
	shutdownTimeout time.Duration
	logger          *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	tasksProcessed atomic.Int64
	tasksFailed    atomic.Int64
	activeTasks    atomic.Int32
}

// WorkerStats provides observability metrics for monitoring and debugging
type WorkerStats struct {
	TasksProcessed int64 // successfully completed tasks
	TasksFailed    int64 // failed attempts, including those moved to the DLQ
	ActiveTasks    int32
	IsRunning      bool
}

// NewWorker creates a new task worker
func NewWorker(repo WorkerRepository, opts ...WorkerOption) (*Worker, error) {
	if repo == nil {
		return nil, ErrRepositoryNil
	}

	options := &workerOptions{
		queues:             []string{DefaultQueueName},
		pullInterval:       time.Second,
		lockTimeout:        15 * time.Minute,
		shutdownTimeout:    30 * time.Second,
		maxConcurrentTasks: 1,
		logger:             logger.Discard(),
	}

	for _, opt := range opts {
		opt(options)
	}

	return &Worker{
		repo:            repo,
		handlers:        make(map[string]Handler),
		queues:          options.queues,
		workerID:        uuid.New(),
		sem:             make(chan struct{}, options.maxConcurrentTasks),
		pullInterval:    options.pullInterval,
		lockTimeout:     options.lockTimeout,
		shutdownTimeout: options.shutdownTimeout,
		logger:          options.logger,
	}, nil
}

// NewWorkerFromConfig creates a Worker from configuration.
// Repository must be provided. Additional options can override config values.
func NewWorkerFromConfig(cfg Config, repo WorkerRepository, opts ...WorkerOption) (*Worker, error) {
	allOpts := append([]WorkerOption{
		WithPullInterval(cfg.PollInterval),
		WithLockTimeout(cfg.LockTimeout),
		WithShutdownTimeout(cfg.ShutdownTimeout),
		WithMaxConcurrentTasks(cfg.MaxConcurrentTasks),
		WithQueues(cfg.Queues...),
	}, opts...)

	return NewWorker(repo, allOpts...)
}

// RegisterHandler registers a single task handler.
func (w *Worker) RegisterHandler(handler Handler) error {
	if handler == nil {
		return nil
	}
	if handler.Name() == "" {
		return ErrEmptyTaskName
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if _, exists := w.handlers[handler.Name()]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateHandler, handler.Name())
	}
	w.handlers[handler.Name()] = handler
	return nil
}

// RegisterHandlers registers multiple task handlers.
func (w *Worker) RegisterHandlers(handlers ...Handler) error {
	for _, h := range handlers {
		if err := w.RegisterHandler(h); err != nil {
			return err
		}
	}
	return nil
}

// Start begins processing tasks. This is a blocking operation that runs until
// the context is cancelled. Use Run() for errgroup pattern or call this in a goroutine.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.cancel != nil {
		w.mu.Unlock()
		return fmt.Errorf("worker already started")
	}

	if len(w.handlers) == 0 {
		w.mu.Unlock()
		return ErrNoHandlers
	}

	w.ctx, w.cancel = context.WithCancel(ctx)
	runCtx := w.ctx
	w.mu.Unlock()

	w.logger.InfoContext(runCtx, "worker started",
		logger.ID("worker_id", w.workerID.String()),
		slog.Any("queues", w.queues),
		slog.Int("max_concurrent", cap(w.sem)))

	ticker := time.NewTicker(w.pullInterval)
	defer ticker.Stop()

	for {
		select {
		case <-runCtx.Done():
			w.logger.InfoContext(context.Background(), "worker stopping")
			return runCtx.Err()
		case <-ticker.C:
			w.fillSlots(runCtx)
		}
	}
}

// fillSlots starts one drain loop per tick if a slot is free. A drain loop
// keeps claiming until the queues are empty, so throughput is not bounded
// by the poll interval.
func (w *Worker) fillSlots(ctx context.Context) {
	select {
	case w.sem <- struct{}{}:
	default:
		w.logger.DebugContext(ctx, "all worker slots busy, skipping tick",
			logger.ID("worker_id", w.workerID.String()))
		return
	}

	// The running check and wg.Add happen under the lock so Stop never
	// waits on an incomplete count.
	w.mu.RLock()
	if w.cancel == nil {
		w.mu.RUnlock()
		<-w.sem
		return
	}
	w.wg.Add(1)
	w.mu.RUnlock()

	go func() {
		defer w.wg.Done()
		defer func() { <-w.sem }()
		w.drain(ctx)
	}()
}

func (w *Worker) drain(ctx context.Context) {
	for ctx.Err() == nil {
		claimed, err := w.pullAndProcess(ctx)
		if err != nil && !errors.Is(err, ErrHandlerNotFound) {
			w.logger.ErrorContext(ctx, "failed to process task",
				logger.ID("worker_id", w.workerID.String()),
				logger.Error(err))
		}
		if !claimed || err != nil {
			return
		}
	}
}

// Stop gracefully shuts down the worker with a timeout.
// Returns an error if the shutdown timeout is exceeded.
func (w *Worker) Stop() error {
	w.mu.Lock()
	if w.cancel == nil {
		w.mu.Unlock()
		return fmt.Errorf("worker not started")
	}

	cancel := w.cancel
	w.cancel = nil
	w.mu.Unlock()

	cancel()

	w.logger.InfoContext(context.Background(), "worker stopping, waiting for active tasks to complete",
		logger.ID("worker_id", w.workerID.String()),
		slog.Duration("timeout", w.shutdownTimeout))

	ctx, ctxCancel := context.WithTimeout(context.Background(), w.shutdownTimeout)
	defer ctxCancel()

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		w.logger.InfoContext(context.Background(), "worker stopped cleanly",
			logger.ID("worker_id", w.workerID.String()))
		return nil
	case <-ctx.Done():
		w.logger.WarnContext(context.Background(), "worker shutdown timeout exceeded, some tasks may be abandoned",
			logger.ID("worker_id", w.workerID.String()),
			slog.Duration("timeout", w.shutdownTimeout))
		return fmt.Errorf("shutdown timeout exceeded after %s", w.shutdownTimeout)
	}
}

// Run provides errgroup compatibility for coordinated lifecycle management.
func (w *Worker) Run(ctx context.Context) func() error {
	return func() error {
		errCh := make(chan error, 1)
		go func() {
			errCh <- w.Start(ctx)
		}()

		select {
		case <-ctx.Done():
			_ = w.Stop()
			<-errCh
			return nil
		case err := <-errCh:
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return err
		}
	}
}

// pullAndProcess claims one task and processes it. claimed is false when
// the queues are empty.
func (w *Worker) pullAndProcess(ctx context.Context) (claimed bool, err error) {
	task, err := w.repo.ClaimTask(ctx, w.workerID, w.queues, w.lockTimeout)
	if err != nil {
		if errors.Is(err, ErrNoTaskToClaim) {
			return false, nil
		}
		return false, fmt.Errorf("failed to claim task: %w", err)
	}
	if task == nil {
		return false, nil
	}

	w.logger.DebugContext(ctx, "claimed task",
		logger.ID("worker_id", w.workerID.String()),
		logger.ID("task_id", task.ID.String()),
		slog.String("task_name", task.TaskName),
		slog.String("ref_id", task.RefID))

	return true, w.processTask(task)
}

// ProcessTask runs one claimed task outside the polling loop. The task
// must already be in the processing state in the repository.
func (w *Worker) ProcessTask(task *Task) error {
	return w.processTask(task)
}

func (w *Worker) processTask(task *Task) error {
	start := time.Now()

	w.activeTasks.Add(1)
	defer w.activeTasks.Add(-1)

	w.mu.RLock()
	handler, ok := w.handlers[task.TaskName]
	w.mu.RUnlock()

	if !ok {
		return w.handleMissingHandler(task)
	}

	// Tasks run detached from the worker context so shutdown lets in-flight
	// work finish within the lock timeout.
	ctx, cancel := context.WithTimeout(context.Background(), w.lockTimeout)
	defer cancel()

	err := safeHandle(ctx, handler, task.RefID)
	duration := time.Since(start)

	if err != nil {
		return w.handleTaskFailure(task, err, duration)
	}
	return w.handleTaskSuccess(task, duration)
}

// TaskPanic is returned when a task handler panics.
type TaskPanic struct {
	TaskName string
	Value    any
	Stack    []byte
}

func (p *TaskPanic) Error() string {
	return fmt.Sprintf("panic in handler %s: %v", p.TaskName, p.Value)
}

func safeHandle(ctx context.Context, h Handler, refID string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &TaskPanic{TaskName: h.Name(), Value: r, Stack: debug.Stack()}
		}
	}()
	return h.Handle(ctx, refID)
}

// handleMissingHandler moves the task straight to the DLQ: every retry
// would fail the same way until the handler is deployed.
func (w *Worker) handleMissingHandler(task *Task) error {
	w.tasksFailed.Add(1)

	w.logger.ErrorContext(w.context(), "no handler registered for task type",
		logger.ID("worker_id", w.workerID.String()),
		logger.ID("task_id", task.ID.String()),
		slog.String("task_name", task.TaskName))

	ctx := context.Background()
	errorMsg := "no handler registered for task type: " + task.TaskName
	if err := w.repo.FailTask(ctx, task.ID, errorMsg); err != nil {
		return fmt.Errorf("failed to mark task %s as failed: %w", task.ID, err)
	}
	if err := w.repo.MoveToDLQ(ctx, task.ID); err != nil {
		return fmt.Errorf("failed to move task %s to DLQ: %w", task.ID, err)
	}

	return ErrHandlerNotFound
}

// handleTaskFailure records the failure; FailTask reschedules the task when
// retries remain, otherwise it is moved to the DLQ.
func (w *Worker) handleTaskFailure(task *Task, execErr error, duration time.Duration) error {
	w.tasksFailed.Add(1)

	attrs := []any{
		logger.ID("worker_id", w.workerID.String()),
		logger.ID("task_id", task.ID.String()),
		slog.String("task_name", task.TaskName),
		slog.String("ref_id", task.RefID),
		logger.RetryCount(int(task.RetryCount)),
		slog.Int("max_retries", int(task.MaxRetries)),
		logger.Duration(duration),
		logger.Error(execErr),
	}
	var tp *TaskPanic
	if errors.As(execErr, &tp) {
		attrs = append(attrs, slog.String("stack", string(tp.Stack)))
	}
	w.logger.ErrorContext(w.context(), "task failed", attrs...)

	ctx := context.Background()
	if err := w.repo.FailTask(ctx, task.ID, sanitizer.ErrorMessage(execErr, maxTaskErrorLength)); err != nil {
		return fmt.Errorf("failed to update task %s status to failed: %w", task.ID, err)
	}

	if task.RetryCount+1 >= task.MaxRetries {
		if err := w.repo.MoveToDLQ(ctx, task.ID); err != nil {
			return fmt.Errorf("failed to move task %s to DLQ after max retries: %w", task.ID, err)
		}

		w.logger.WarnContext(w.context(), "task moved to dead letter queue",
			logger.ID("worker_id", w.workerID.String()),
			logger.ID("task_id", task.ID.String()),
			slog.String("task_name", task.TaskName),
			slog.String("ref_id", task.RefID))
	}

	return nil
}

func (w *Worker) handleTaskSuccess(task *Task, duration time.Duration) error {
	if err := w.repo.CompleteTask(context.Background(), task.ID); err != nil {
		return fmt.Errorf("failed to mark task %s as completed: %w", task.ID, err)
	}

	w.tasksProcessed.Add(1)

	w.logger.DebugContext(w.context(), "task completed",
		logger.ID("worker_id", w.workerID.String()),
		logger.ID("task_id", task.ID.String()),
		slog.String("task_name", task.TaskName),
		slog.String("queue", task.Queue),
		logger.Duration(duration))

	return nil
}

func (w *Worker) context() context.Context {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.ctx == nil {
		return context.Background()
	}
	return w.ctx
}

// ExtendLockForTask extends the lock timeout for a long-running task.
func (w *Worker) ExtendLockForTask(ctx context.Context, taskID uuid.UUID, extension time.Duration) error {
	return w.repo.ExtendLock(ctx, taskID, extension)
}

// WorkerInfo returns identifying information about the worker instance.
func (w *Worker) WorkerInfo() (id string, hostname string, pid int) {
	hostname, _ = os.Hostname()
	return w.workerID.String(), hostname, os.Getpid()
}

// HandlerCount returns the number of registered handlers.
func (w *Worker) HandlerCount() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.handlers)
}

// Queues returns a copy of the queues this worker processes.
func (w *Worker) Queues() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()

	if len(w.queues) == 0 {
		return []string{DefaultQueueName}
	}
	result := make([]string, len(w.queues))
	copy(result, w.queues)
	return result
}

// Stats returns current worker statistics.
func (w *Worker) Stats() WorkerStats {
	w.mu.RLock()
	isRunning := w.cancel != nil
	w.mu.RUnlock()

	return WorkerStats{
		TasksProcessed: w.tasksProcessed.Load(),
		TasksFailed:    w.tasksFailed.Load(),
		ActiveTasks:    w.activeTasks.Load(),
		IsRunning:      isRunning,
	}
}

// Healthcheck reports whether the worker is running and has a free slot.
//
//	if errors.Is(err, queue.ErrWorkerOverloaded) { ... }
func (w *Worker) Healthcheck(ctx context.Context) error {
	stats := w.Stats()

	if !stats.IsRunning {
		return errors.Join(ErrHealthcheckFailed, ErrWorkerNotRunning)
	}

	maxConcurrent := int32(cap(w.sem))
	if stats.ActiveTasks >= maxConcurrent {
		return errors.Join(ErrHealthcheckFailed, ErrWorkerOverloaded,
			fmt.Errorf("%d/%d slots busy", stats.ActiveTasks, maxConcurrent))
	}

	return nil
}
