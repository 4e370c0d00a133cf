// Package redisjobs is a Redis-backed job substrate for identifier-only
// jobs.
//
// Each job kind is a sorted set whose members are record identifiers scored
// by due time in Unix milliseconds. Queue satisfies the scheduler contract of
// the command and outbox packages:
//
//	deliveries := redisjobs.NewQueue(client, "outbox.deliver")
//	processor, err := outbox.NewProcessor(store, registry, deliveries)
//
// A Poller leases due identifiers with a Lua script that moves their score to
// the lease deadline, so only one poller wins each member, and hands them to
// a handler with bounded concurrency:
//
//	p, err := redisjobs.NewPoller(deliveries, processor.Process, redisjobs.WithConcurrency(8))
//	g.Go(p.Run(ctx))
//
// A finished job is acknowledged and removed; a failed one is due again
// after the retry delay. A job leased by a poller that crashes stays in the
// set and is due again once its visibility timeout passes. Both Ack and
// retry leave alone an identifier that was re-scheduled while it ran, such as
// an envelope whose orchestrator scheduled its next attempt.
package redisjobs
