package queue

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Binding ties an Enqueuer to one task kind and exposes the identifier-only
// scheduling contract used by the dispatch layers:
//
//	sched := queue.Bind(enqueuer, "command.orchestrate")
//	dispatcher, _ := command.NewDispatcher(store, registry, sched)
type Binding struct {
	enqueuer *Enqueuer
	taskName string
	opts     []EnqueueOption
}

// Bind returns a Binding for taskName. opts apply to every enqueued task.
func Bind(e *Enqueuer, taskName string, opts ...EnqueueOption) *Binding {
	return &Binding{enqueuer: e, taskName: taskName, opts: opts}
}

// Enqueue schedules immediate processing of the record id.
func (b *Binding) Enqueue(ctx context.Context, id uuid.UUID) error {
	return b.enqueuer.Enqueue(ctx, b.taskName, id.String(), b.opts...)
}

// EnqueueAt schedules processing of the record id no earlier than at.
func (b *Binding) EnqueueAt(ctx context.Context, id uuid.UUID, at time.Time) error {
	opts := append(append([]EnqueueOption{}, b.opts...), WithScheduledAt(at))
	return b.enqueuer.Enqueue(ctx, b.taskName, id.String(), opts...)
}

// TaskName returns the bound task kind.
func (b *Binding) TaskName() string {
	return b.taskName
}
