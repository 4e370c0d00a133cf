package queue

import "errors"

var (
	ErrRepositoryNil          = errors.New("queue repository cannot be nil")
	ErrEmptyTaskName          = errors.New("task name cannot be empty")
	ErrEmptyRefID             = errors.New("task reference id cannot be empty")
	ErrInvalidPriority        = errors.New("priority must be between 0 and 100")
	ErrNoTaskToClaim          = errors.New("no task available to claim")
	ErrTaskNotFound           = errors.New("task not found")
	ErrTaskNotProcessing      = errors.New("task is not in processing state")
	ErrHandlerNotFound        = errors.New("no handler registered for task")
	ErrNoHandlers             = errors.New("no task handlers registered")
	ErrDuplicateHandler       = errors.New("task handler already registered")
	ErrTaskAlreadyRegistered  = errors.New("periodic task already registered")
	ErrSchedulerNotConfigured = errors.New("scheduler has no periodic tasks")
	ErrInvalidRefID           = errors.New("task reference id is malformed")

	ErrHealthcheckFailed   = errors.New("healthcheck failed")
	ErrWorkerNotRunning    = errors.New("worker is not running")
	ErrWorkerOverloaded    = errors.New("worker is overloaded")
	ErrSchedulerNotRunning = errors.New("scheduler is not running")
	ErrNoTasksRegistered   = errors.New("no periodic tasks registered")
)
