// Package outbox implements a transactional outbox with per-handler
// delivery tracking.
//
// A Publisher writes a Message in the same database transaction as the
// business change it describes. The Dispatcher periodically claims due
// messages and creates one Delivery per registered handler of the event
// type; the unique (event, handler) pair makes re-dispatch after a crash
// harmless. Each Delivery is then executed by the Processor as its own job,
// so a failing handler retries alone without re-running the others.
//
// # Lifecycle
//
// Messages move Pending → Processing → Processed. A failed dispatch attempt
// moves the message to Failed with a NextAttemptAt computed by
// pkg/backoff; after the configured number of attempts (5 by default) it
// stays Failed with no NextAttemptAt.
//
// Deliveries move Pending → Processing → Succeeded, or to Failed. A Failed
// delivery with a NextAttemptAt is retryable; the fifth failure is terminal.
//
// # Usage
//
//	registry := outbox.MustRegistry(
//		outbox.NewHandler("notify_trainer", "session.completed", notifyTrainer),
//	)
//	pub, _ := outbox.NewPublisher(store)
//	dispatcher, _ := outbox.NewDispatcher(store, registry, deliveries)
//	processor, _ := outbox.NewProcessor(store, registry, deliveries)
//
//	// inside the business transaction
//	_, err := pub.Publish(ctx, "session.completed", sessionID.String(), event)
//
// deliveries is any Scheduler; queue.Binding satisfies it.
package outbox
