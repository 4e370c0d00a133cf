package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/dmitrymomot/relay/core/logger"
)

// Service manages the Worker, Scheduler and Enqueuer that share one storage.
type Service struct {
	worker    *Worker
	scheduler *Scheduler
	enqueuer  *Enqueuer
	storage   Storage
	logger    *slog.Logger

	skipWorkerIfNoHandlers bool
	skipSchedulerIfNoTasks bool
	requireHandlers        bool
	requireScheduledTasks  bool

	beforeStart func(context.Context) error
	afterStop   func() error
}

// NewService creates a new queue service with all components using the provided storage.
//
//	storage := queue.NewMemoryStorage()
//	svc, err := queue.NewService(storage,
//	    queue.WithWorkerOptions(queue.WithMaxConcurrentTasks(10)),
//	    queue.WithHandlers(
//	        queue.NewUUIDHandler("command.orchestrate", orchestrator.Process),
//	    ),
//	)
//	commands := svc.Bind("command.orchestrate")
func NewService(storage Storage, opts ...ServiceOption) (*Service, error) {
	if storage == nil {
		return nil, ErrRepositoryNil
	}

	s := &Service{
		storage:                storage,
		logger:                 logger.Discard(),
		skipWorkerIfNoHandlers: true,
		skipSchedulerIfNoTasks: true,
	}

	enqueuer, err := NewEnqueuer(storage)
	if err != nil {
		return nil, fmt.Errorf("failed to create enqueuer: %w", err)
	}
	s.enqueuer = enqueuer

	worker, err := NewWorker(storage)
	if err != nil {
		return nil, fmt.Errorf("failed to create worker: %w", err)
	}
	s.worker = worker

	scheduler, err := NewScheduler(storage)
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}
	s.scheduler = scheduler

	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, fmt.Errorf("failed to apply service option: %w", err)
		}
	}

	return s, nil
}

// NewServiceFromConfig creates a queue service with every component
// configured from cfg. Additional options can override config values.
func NewServiceFromConfig(cfg Config, storage Storage, opts ...ServiceOption) (*Service, error) {
	serviceOpts := append([]ServiceOption{
		WithWorkerOptions(
			WithPullInterval(cfg.PollInterval),
			WithLockTimeout(cfg.LockTimeout),
			WithShutdownTimeout(cfg.ShutdownTimeout),
			WithMaxConcurrentTasks(cfg.MaxConcurrentTasks),
			WithQueues(cfg.Queues...),
		),
		WithSchedulerOptions(WithCheckInterval(cfg.CheckInterval)),
		WithEnqueuerOptions(
			WithDefaultQueue(cfg.DefaultQueue),
			WithDefaultPriority(cfg.DefaultPriority),
			WithDefaultMaxRetries(cfg.MaxRetries),
		),
	}, opts...)

	return NewService(storage, serviceOpts...)
}

// Run starts the worker and the scheduler in an error group and blocks until
// ctx is cancelled or a component fails. A component without handlers or
// tasks is skipped unless configured otherwise.
func (s *Service) Run(ctx context.Context) error {
	if s.requireHandlers && s.worker.HandlerCount() == 0 {
		return ErrNoHandlers
	}
	if s.requireScheduledTasks && len(s.scheduler.ListTasks()) == 0 {
		return ErrNoTasksRegistered
	}

	if s.beforeStart != nil {
		if err := s.beforeStart(ctx); err != nil {
			return fmt.Errorf("before start hook failed: %w", err)
		}
	}

	eg, ctx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		if s.skipWorkerIfNoHandlers && s.worker.HandlerCount() == 0 {
			s.logger.InfoContext(ctx, "no task handlers registered, worker will not start")
			return nil
		}

		s.logger.InfoContext(ctx, "starting queue worker",
			slog.Any("queues", s.worker.Queues()),
			logger.Count("handlers", s.worker.HandlerCount()),
		)

		err := s.worker.Run(ctx)()
		if errors.Is(err, ErrNoHandlers) && s.skipWorkerIfNoHandlers {
			s.logger.InfoContext(ctx, "no task handlers registered, worker stopped")
			return nil
		}
		return err
	})

	eg.Go(func() error {
		tasks := s.scheduler.ListTasks()

		if s.skipSchedulerIfNoTasks && len(tasks) == 0 {
			s.logger.InfoContext(ctx, "no scheduled tasks registered, scheduler will not start")
			return nil
		}

		s.logger.InfoContext(ctx, "starting queue scheduler",
			logger.Count("task_count", len(tasks)),
		)

		return s.scheduler.Run(ctx)()
	})

	err := eg.Wait()

	if s.afterStop != nil {
		if stopErr := s.afterStop(); stopErr != nil {
			if err == nil {
				err = fmt.Errorf("after stop hook failed: %w", stopErr)
			} else {
				s.logger.ErrorContext(context.Background(), "after stop hook failed", logger.Error(stopErr))
			}
		}
	}

	return err
}

// Stop gracefully stops the worker. Prefer cancelling the context passed to Run.
func (s *Service) Stop() error {
	ctx := context.Background()
	s.logger.InfoContext(ctx, "stopping queue service")

	if err := s.worker.Stop(); err != nil {
		s.logger.ErrorContext(ctx, "failed to stop worker", logger.Error(err))
		return err
	}
	return nil
}

// Worker returns the worker instance for handler registration.
func (s *Service) Worker() *Worker {
	return s.worker
}

// Scheduler returns the scheduler instance for task scheduling.
func (s *Service) Scheduler() *Scheduler {
	return s.scheduler
}

// Enqueuer returns the enqueuer instance for task enqueueing.
func (s *Service) Enqueuer() *Enqueuer {
	return s.enqueuer
}

// Storage returns the underlying storage implementation.
func (s *Service) Storage() Storage {
	return s.storage
}

// RegisterHandler registers a task handler with the worker.
// This is a convenience method equivalent to service.Worker().RegisterHandler(handler).
func (s *Service) RegisterHandler(handler Handler) error {
	return s.worker.RegisterHandler(handler)
}

// RegisterHandlers registers multiple task handlers with the worker.
// This is a convenience method equivalent to service.Worker().RegisterHandlers(handlers).
func (s *Service) RegisterHandlers(handlers ...Handler) error {
	return s.worker.RegisterHandlers(handlers...)
}

// AddScheduledTask registers a periodic task with the scheduler.
// This is a convenience method equivalent to service.Scheduler().AddTask(name, schedule, opts...).
func (s *Service) AddScheduledTask(name string, schedule Schedule, opts ...SchedulerTaskOption) error {
	return s.scheduler.AddTask(name, schedule, opts...)
}

// Enqueue adds a task of the given kind referring to refID.
func (s *Service) Enqueue(ctx context.Context, taskName, refID string, opts ...EnqueueOption) error {
	return s.enqueuer.Enqueue(ctx, taskName, refID, opts...)
}

// Bind returns the identifier-only scheduling contract for taskName.
func (s *Service) Bind(taskName string, opts ...EnqueueOption) *Binding {
	return Bind(s.enqueuer, taskName, opts...)
}

// Healthcheck reports the health of the running components.
func (s *Service) Healthcheck(ctx context.Context) error {
	var errs []error
	if s.worker.HandlerCount() > 0 || !s.skipWorkerIfNoHandlers {
		if err := s.worker.Healthcheck(ctx); err != nil {
			errs = append(errs, fmt.Errorf("worker: %w", err))
		}
	}
	if len(s.scheduler.ListTasks()) > 0 || !s.skipSchedulerIfNoTasks {
		if err := s.scheduler.Healthcheck(ctx); err != nil {
			errs = append(errs, fmt.Errorf("scheduler: %w", err))
		}
	}
	return errors.Join(errs...)
}
