package async

import (
	"context"
	"fmt"
	"runtime/debug"

	"golang.org/x/sync/semaphore"
)

// Future represents the result of a function running in its own goroutine.
type Future[T any] struct {
	val  T
	err  error
	done chan struct{}
}

// Await waits for the function to complete and returns its result.
func (f *Future[T]) Await() (T, error) {
	<-f.done
	return f.val, f.err
}

// IsComplete checks if the function is complete without blocking.
func (f *Future[T]) IsComplete() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// Gate bounds the number of functions running at once. A nil Gate is unbounded.
type Gate struct {
	sem  *semaphore.Weighted
	size int64
}

// NewGate creates a counting gate with n slots. Values below one are raised to one.
func NewGate(n int) *Gate {
	size := int64(max(n, 1))
	return &Gate{sem: semaphore.NewWeighted(size), size: size}
}

// Size returns the number of slots.
func (g *Gate) Size() int {
	if g == nil {
		return 0
	}
	return int(g.size)
}

func (g *Gate) acquire(ctx context.Context) error {
	if g == nil {
		return nil
	}
	return g.sem.Acquire(ctx, 1)
}

func (g *Gate) release() {
	if g != nil {
		g.sem.Release(1)
	}
}

// Go runs fn in a new goroutine once a gate slot is free. If ctx is done
// before a slot frees up, fn is never called and the future resolves to
// ctx.Err(). A panic inside fn resolves the future to a *PanicError.
func Go[T any](ctx context.Context, gate *Gate, fn func(context.Context) (T, error)) *Future[T] {
	f := &Future[T]{done: make(chan struct{})}

	go func() {
		defer close(f.done)

		if err := gate.acquire(ctx); err != nil {
			f.err = err
			return
		}
		defer gate.release()

		defer func() {
			if r := recover(); r != nil {
				f.err = &PanicError{Value: r, Stack: debug.Stack()}
			}
		}()

		f.val, f.err = fn(ctx)
	}()

	return f
}

// Result pairs a future's value with its error.
type Result[T any] struct {
	Value T
	Err   error
}

// AwaitAll waits for every future and returns their results in order.
// It never short-circuits: a failed future does not stop the others from
// being awaited.
func AwaitAll[T any](futures ...*Future[T]) []Result[T] {
	results := make([]Result[T], len(futures))
	for i, f := range futures {
		results[i].Value, results[i].Err = f.Await()
	}
	return results
}

// PanicError is the error produced when a function started by Go panics.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}
