package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/relay/core/logger"
)

// periodicMaxRetries is the retry budget of one periodic task instance. A
// failed sweep needs no long retry chain: the next instance runs anyway.
const periodicMaxRetries = 3

// SchedulerRepository stores periodic task instances.
type SchedulerRepository interface {
	CreateTask(ctx context.Context, task *Task) error

	// GetPendingTaskByName returns a pending task with the given name, or
	// nil when none exists
	GetPendingTaskByName(ctx context.Context, taskName string) (*Task, error)
}

// Scheduler creates periodic tasks such as the outbox dispatch pass and
// the recovery sweeps. At most one pending instance of each periodic task
// exists at a time, so several processes can run a scheduler safely.
type Scheduler struct {
	repo     SchedulerRepository
	interval time.Duration
	logger   *slog.Logger
	now      func() time.Time

	mu    sync.RWMutex
	tasks map[string]*periodicTask

	running        atomic.Bool
	tasksScheduled atomic.Int64
}

// SchedulerStats provides lifetime counters.
type SchedulerStats struct {
	TasksScheduled int64
	Running        bool
}

type periodicTask struct {
	name     string
	schedule Schedule
	queue    string
	priority Priority
	// lastRun is the scheduled time of the most recent instance.
	lastRun *time.Time
}

// NewScheduler creates a periodic task scheduler.
func NewScheduler(repo SchedulerRepository, opts ...SchedulerOption) (*Scheduler, error) {
	if repo == nil {
		return nil, ErrRepositoryNil
	}

	options := &schedulerOptions{
		checkInterval: 30 * time.Second,
		logger:        logger.Discard(),
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(options)
	}

	return &Scheduler{
		repo:     repo,
		interval: options.checkInterval,
		logger:   options.logger,
		now:      options.now,
		tasks:    make(map[string]*periodicTask),
	}, nil
}

// AddTask registers a periodic task. Its first instance is due one
// schedule step after the first check.
func (s *Scheduler) AddTask(name string, schedule Schedule, opts ...SchedulerTaskOption) error {
	if name == "" {
		return ErrEmptyTaskName
	}
	taskOpts := &schedulerTaskOptions{
		queue:    DefaultQueueName,
		priority: PriorityDefault,
	}
	for _, opt := range opts {
		opt(taskOpts)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tasks[name]; exists {
		return ErrTaskAlreadyRegistered
	}
	s.tasks[name] = &periodicTask{
		name:     name,
		schedule: schedule,
		queue:    taskOpts.queue,
		priority: taskOpts.priority,
	}

	s.logger.InfoContext(context.Background(), "registered periodic task",
		slog.String("task_name", name),
		slog.String("schedule", schedule.String()))
	return nil
}

// Run returns a function for errgroup that checks the registered tasks on
// every tick until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) func() error {
	return func() error {
		taskCount := len(s.ListTasks())
		if taskCount == 0 {
			return ErrSchedulerNotConfigured
		}
		if !s.running.CompareAndSwap(false, true) {
			return errors.New("scheduler already running")
		}
		defer s.running.Store(false)

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		s.logger.InfoContext(ctx, "scheduler started",
			logger.Count("task_count", taskCount),
			slog.Duration("check_interval", s.interval))

		for {
			s.CheckNow(ctx)
			select {
			case <-ctx.Done():
				s.logger.InfoContext(context.Background(), "scheduler stopped")
				return nil
			case <-ticker.C:
			}
		}
	}
}

// CheckNow runs one scheduling pass synchronously.
func (s *Scheduler) CheckNow(ctx context.Context) {
	s.mu.RLock()
	tasks := make([]*periodicTask, 0, len(s.tasks))
	for _, t := range s.tasks {
		tasks = append(tasks, t)
	}
	s.mu.RUnlock()

	now := s.now()
	for _, t := range tasks {
		if err := s.check(ctx, t, now); err != nil && ctx.Err() == nil {
			s.logger.ErrorContext(ctx, "failed to schedule periodic task",
				slog.String("task_name", t.name),
				slog.String("schedule", t.schedule.String()),
				logger.Error(err))
		}
	}
}

func (s *Scheduler) check(ctx context.Context, t *periodicTask, now time.Time) error {
	s.mu.RLock()
	last := t.lastRun
	s.mu.RUnlock()

	next := t.schedule.Next(now)
	if last != nil {
		next = t.schedule.Next(*last)
		if next.After(now) {
			return nil
		}
	}

	// One pending instance per periodic task, across restarts and processes.
	existing, err := s.repo.GetPendingTaskByName(ctx, t.name)
	if err == nil && existing != nil {
		s.setLastRun(t, existing.ScheduledAt)
		return nil
	}

	if err := s.repo.CreateTask(ctx, &Task{
		ID:          uuid.New(),
		Queue:       t.queue,
		TaskType:    TaskTypePeriodic,
		TaskName:    t.name,
		Status:      TaskStatusPending,
		Priority:    t.priority,
		MaxRetries:  periodicMaxRetries,
		ScheduledAt: next,
		CreatedAt:   s.now(),
	}); err != nil {
		return fmt.Errorf("create periodic task: %w", err)
	}
	s.tasksScheduled.Add(1)
	s.setLastRun(t, next)

	s.logger.DebugContext(ctx, "created periodic task",
		slog.String("task_name", t.name),
		slog.Time("scheduled_for", next))
	return nil
}

func (s *Scheduler) setLastRun(t *periodicTask, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t.lastRun = &at
}

// ListTasks returns the registered periodic task names.
func (s *Scheduler) ListTasks() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.tasks))
	for name := range s.tasks {
		names = append(names, name)
	}
	return names
}

// Stats returns lifetime counters.
func (s *Scheduler) Stats() SchedulerStats {
	return SchedulerStats{
		TasksScheduled: s.tasksScheduled.Load(),
		Running:        s.running.Load(),
	}
}

// Healthcheck reports whether the scheduler is running with at least one task.
func (s *Scheduler) Healthcheck(context.Context) error {
	if !s.running.Load() {
		return errors.Join(ErrHealthcheckFailed, ErrSchedulerNotRunning)
	}
	if len(s.ListTasks()) == 0 {
		return errors.Join(ErrHealthcheckFailed, ErrNoTasksRegistered)
	}
	return nil
}
