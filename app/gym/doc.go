// Package gym holds the example business commands of a trainer/trainee
// product and the handlers that react to them.
//
// Commands are registered statically through Registrations:
//
//	h, err := gym.NewHandlers(notifications, events, audit, gym.WithTxRunner(pg.TxRunner{Pool: pool}))
//	if err != nil {
//		return err
//	}
//	registry := command.MustRegistry(h.Registrations()...)
//
// InvitationCreated fans out to send_invitation_email, which schedules an
// email notification, and record_invitation_audit, which keeps a derived
// audit row in sync. SessionCompleted runs notify_trainer, which schedules a
// push notification and publishes a session.completed outbox event in the
// same transaction.
//
// Every handler is idempotent: a retried envelope re-runs all handlers, so
// duplicate notifications are suppressed by the notification store and the
// audit insert ignores conflicts.
package gym
