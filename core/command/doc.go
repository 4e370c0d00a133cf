// Package command implements durable, deduplicated command dispatch with
// bounded-parallel fan-out to statically registered handlers.
//
// # Registration
//
// Command types declare a stable discriminator and are registered once at
// process start. The registry is immutable afterwards. Handlers match the
// exact Go type only; a pointer to a registered type, or another type
// reporting the same discriminator, has no handlers.
//
//	type InvitationCreated struct {
//	    InvitationID string `json:"invitation_id"`
//	    Email        string `json:"email"`
//	}
//
//	func (InvitationCreated) CommandType() string { return "invitation.created" }
//
//	registry := command.MustRegistry(
//	    command.Register(
//	        command.HandlerFunc("send_invitation_email", sendEmail),
//	        command.HandlerFunc("record_invitation_audit", recordAudit),
//	    ),
//	)
//
// # Dispatch
//
// Dispatcher.Enqueue hashes the discriminator and canonical JSON payload into
// a correlation key and stores an envelope through the store's add-or-get
// primitive. Repeating an identical command reuses the stored envelope and
// does not notify the scheduler again. A command type without handlers is
// dropped without persisting anything.
//
// # Orchestration
//
// Orchestrator.Process is driven by the job substrate with an envelope ID:
//
//	Pending/Failed --claim--> Processing --all succeed--> Completed
//	Processing --any fails, attempts < max--> Failed (next_attempt_at = now + backoff)
//	Processing --any fails, attempts >= max--> DeadLettered
//	unresolvable type or payload --> DeadLettered
//
// Handlers run concurrently, at most MaxConcurrency at a time, each inside
// its own Scope. A failing or panicking handler never stops its siblings;
// every handler contributes one ExecutionRecord per attempt.
//
// The Sweeper periodically re-notifies the scheduler about envelopes that
// fell through the cracks: lost notifications, due retries and claims whose
// lease expired.
package command
