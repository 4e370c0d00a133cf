package command

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/dmitrymomot/relay/core/logger"
)

// Middleware wraps an Executor to add cross-cutting behaviour.
type Middleware func(next Executor) Executor

type middlewareExecutor struct {
	name string
	fn   func(ctx context.Context, cmd Command) error
}

func (e *middlewareExecutor) Name() string { return e.name }

func (e *middlewareExecutor) Execute(ctx context.Context, cmd Command) error {
	return e.fn(ctx, cmd)
}

// LoggingMiddleware logs each handler execution with its duration and outcome.
func LoggingMiddleware(log *slog.Logger) Middleware {
	return func(next Executor) Executor {
		return &middlewareExecutor{
			name: next.Name(),
			fn: func(ctx context.Context, cmd Command) error {
				start := time.Now()
				err := next.Execute(ctx, cmd)

				attrs := []any{
					logger.Handler(next.Name()),
					logger.CommandType(cmd.CommandType()),
					logger.Attempt(AttemptFromContext(ctx)),
					logger.Duration(time.Since(start)),
				}
				if id, ok := EnvelopeIDFromContext(ctx); ok {
					attrs = append(attrs, logger.EnvelopeID(id))
				}

				if err != nil {
					log.WarnContext(ctx, "command handler failed", append(attrs, logger.Error(err))...)
					return err
				}
				log.DebugContext(ctx, "command handler completed", attrs...)
				return nil
			},
		}
	}
}

// WithTimeout bounds a handler's execution by cancelling its context after d.
// Cancellation is cooperative: the handler is expected to observe ctx.
func WithTimeout(next Executor, d time.Duration) Executor {
	if d <= 0 {
		return next
	}
	return &middlewareExecutor{
		name: next.Name(),
		fn: func(ctx context.Context, cmd Command) error {
			ctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()

			err := next.Execute(ctx, cmd)
			if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return fmt.Errorf("%w after %s: %w", ErrHandlerTimeout, d, err)
			}
			return err
		},
	}
}

// chainMiddleware applies multiple middleware in order.
// The first middleware in the slice is the outermost (executed first).
func chainMiddleware(ex Executor, middleware []Middleware) Executor {
	for i := len(middleware) - 1; i >= 0; i-- {
		ex = middleware[i](ex)
	}
	return ex
}

// HandlerPanic is returned when a handler panics.
type HandlerPanic struct {
	Handler string
	Value   any
	Stack   []byte
}

func (p *HandlerPanic) Error() string {
	return fmt.Sprintf("handler %s panicked: %v", p.Handler, p.Value)
}

// safeExecute runs an executor and converts a panic into *HandlerPanic.
func safeExecute(ctx context.Context, ex Executor, cmd Command) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &HandlerPanic{Handler: ex.Name(), Value: r, Stack: debug.Stack()}
		}
	}()
	return ex.Execute(ctx, cmd)
}
