package queue

import (
	"context"
	"fmt"
	"log/slog"
)

// ServiceOption configures a Service instance.
type ServiceOption func(*Service) error

// WithServiceLogger sets the logger for the service.
// Components maintain their own loggers (discard by default).
func WithServiceLogger(logger *slog.Logger) ServiceOption {
	return func(s *Service) error {
		if logger != nil {
			s.logger = logger
		}
		return nil
	}
}

// WithWorkerOptions replaces the worker with one built from opts. Handlers
// registered before this option are carried over.
func WithWorkerOptions(opts ...WorkerOption) ServiceOption {
	return func(s *Service) error {
		worker, err := NewWorker(s.storage, opts...)
		if err != nil {
			return err
		}
		if s.worker != nil {
			s.worker.mu.RLock()
			for _, h := range s.worker.handlers {
				worker.handlers[h.Name()] = h
			}
			s.worker.mu.RUnlock()
		}
		s.worker = worker
		return nil
	}
}

// WithSchedulerOptions replaces the scheduler with one built from opts.
// Periodic tasks registered before this option are carried over.
func WithSchedulerOptions(opts ...SchedulerOption) ServiceOption {
	return func(s *Service) error {
		scheduler, err := NewScheduler(s.storage, opts...)
		if err != nil {
			return err
		}
		if s.scheduler != nil {
			s.scheduler.mu.RLock()
			for name, t := range s.scheduler.tasks {
				scheduler.tasks[name] = t
			}
			s.scheduler.mu.RUnlock()
		}
		s.scheduler = scheduler
		return nil
	}
}

// WithEnqueuerOptions replaces the enqueuer with one built from opts.
func WithEnqueuerOptions(opts ...EnqueuerOption) ServiceOption {
	return func(s *Service) error {
		enqueuer, err := NewEnqueuer(s.storage, opts...)
		if err != nil {
			return err
		}
		s.enqueuer = enqueuer
		return nil
	}
}

// WithSkipWorkerIfNoHandlers configures whether the worker should be skipped
// if no handlers are registered. Default is true.
func WithSkipWorkerIfNoHandlers(skip bool) ServiceOption {
	return func(s *Service) error {
		s.skipWorkerIfNoHandlers = skip
		return nil
	}
}

// WithSkipSchedulerIfNoTasks configures whether the scheduler should be skipped
// if no tasks are scheduled. Default is true.
func WithSkipSchedulerIfNoTasks(skip bool) ServiceOption {
	return func(s *Service) error {
		s.skipSchedulerIfNoTasks = skip
		return nil
	}
}

// WithRequireHandlers configures whether Run() should fail if no handlers are registered.
// Default is false.
func WithRequireHandlers(require bool) ServiceOption {
	return func(s *Service) error {
		s.requireHandlers = require
		return nil
	}
}

// WithRequireScheduledTasks configures whether Run() should fail if no scheduled tasks are registered.
// Default is false.
func WithRequireScheduledTasks(require bool) ServiceOption {
	return func(s *Service) error {
		s.requireScheduledTasks = require
		return nil
	}
}

// WithBeforeStart sets a hook that runs before the service starts.
// This can be used for custom initialization logic.
func WithBeforeStart(hook func(context.Context) error) ServiceOption {
	return func(s *Service) error {
		s.beforeStart = hook
		return nil
	}
}

// WithAfterStop sets a hook that runs after the service stops.
// This can be used for cleanup logic.
func WithAfterStop(hook func() error) ServiceOption {
	return func(s *Service) error {
		s.afterStop = hook
		return nil
	}
}

// WithHandlers registers task handlers with the worker.
func WithHandlers(handlers ...Handler) ServiceOption {
	return func(s *Service) error {
		return s.worker.RegisterHandlers(handlers...)
	}
}

// PeriodicTask describes a periodic task for WithPeriodicTasks.
type PeriodicTask struct {
	Name     string
	Schedule Schedule
	Options  []SchedulerTaskOption
}

// WithPeriodicTasks registers periodic tasks with the scheduler.
func WithPeriodicTasks(tasks ...PeriodicTask) ServiceOption {
	return func(s *Service) error {
		for _, t := range tasks {
			if err := s.scheduler.AddTask(t.Name, t.Schedule, t.Options...); err != nil {
				return fmt.Errorf("periodic task %s: %w", t.Name, err)
			}
		}
		return nil
	}
}
