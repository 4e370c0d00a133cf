package queue

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

type (
	// Handler processes tasks of one kind.
	Handler interface {
		// Name returns the task name used for registration and routing.
		Name() string
		// Handle processes the task. refID identifies the durable record the
		// task refers to; it is empty for periodic tasks.
		Handle(ctx context.Context, refID string) error
	}

	// RefHandlerFunc processes a task by its record identifier.
	RefHandlerFunc func(ctx context.Context, refID string) error

	// UUIDHandlerFunc processes a task whose reference is a UUID.
	UUIDHandlerFunc func(ctx context.Context, id uuid.UUID) error

	// PeriodicTaskHandlerFunc is a handler function for periodic tasks.
	PeriodicTaskHandlerFunc func(ctx context.Context) error
)

// NewTaskHandler creates a handler for one-time tasks of the given kind.
func NewTaskHandler(name string, handler RefHandlerFunc) Handler {
	return &refHandler{name: name, handler: handler}
}

// NewUUIDHandler creates a handler that parses the task reference as a UUID
// before calling handler. A malformed reference fails with ErrInvalidRefID.
func NewUUIDHandler(name string, handler UUIDHandlerFunc) Handler {
	return &refHandler{
		name: name,
		handler: func(ctx context.Context, refID string) error {
			id, err := uuid.Parse(refID)
			if err != nil {
				return fmt.Errorf("%w: %q: %w", ErrInvalidRefID, refID, err)
			}
			return handler(ctx, id)
		},
	}
}

// NewPeriodicTaskHandler creates a handler for periodic tasks.
// The name parameter specifies the task name used for scheduling.
func NewPeriodicTaskHandler(name string, handler PeriodicTaskHandlerFunc) Handler {
	return &refHandler{
		name:    name,
		handler: func(ctx context.Context, _ string) error { return handler(ctx) },
	}
}

type refHandler struct {
	name    string
	handler RefHandlerFunc
}

func (h *refHandler) Name() string {
	return h.name
}

func (h *refHandler) Handle(ctx context.Context, refID string) error {
	return h.handler(ctx, refID)
}
