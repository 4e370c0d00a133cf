// Package queue is the job-running substrate behind the dispatch layers.
//
// A task names a kind and carries only the identifier of a durable record
// (an envelope, a delivery, a notification). Handlers load the record from
// its own store, so task storage never holds domain payloads and a lost or
// duplicated task is harmless: the record's state machine decides what runs.
//
// # Components
//
//   - Enqueuer creates tasks. Database-backed repositories join the caller's
//     transaction when one is present in the context.
//   - Binding adapts an Enqueuer to the Enqueue(id) / EnqueueAt(id, at)
//     contract consumed by the command, outbox and notification packages.
//   - Worker polls, claims with a lock timeout, runs handlers with bounded
//     concurrency and panic recovery, retries with a linear delay and moves
//     exhausted tasks to the dead letter queue.
//   - Scheduler creates periodic tasks, keeping at most one pending instance
//     per task name.
//   - Service manages all three around one Storage.
//
// # Usage
//
//	storage := queue.NewMemoryStorage()
//	svc, err := queue.NewService(storage,
//	    queue.WithHandlers(
//	        queue.NewUUIDHandler("command.orchestrate", orchestrator.Process),
//	        queue.NewPeriodicTaskHandler("command.sweep", sweep),
//	    ),
//	    queue.WithPeriodicTasks(queue.PeriodicTask{
//	        Name:     "command.sweep",
//	        Schedule: queue.EveryInterval(time.Minute),
//	    }),
//	)
//	if err != nil {
//	    return err
//	}
//
//	dispatcher, err := command.NewDispatcher(envelopes, registry, svc.Bind("command.orchestrate"))
//
//	g, ctx := errgroup.WithContext(ctx)
//	g.Go(func() error { return svc.Run(ctx) })
//
// # Failure handling
//
// A handler error or panic calls FailTask, which increments the retry count
// and reschedules the task RetryDelay later. When the retry budget is spent
// the task moves to the dead letter queue. A task whose name has no handler
// goes to the dead letter queue immediately.
package queue
