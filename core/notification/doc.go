// Package notification schedules and delivers user-facing notifications
// through the transactional outbox.
//
// Scheduler.Schedule stores a Pending notification and publishes a
// notification.scheduled outbox event in the same transaction, suppressing
// duplicates while an active notification exists for the same type,
// correlation id and recipient. The outbox consumer built by
// NewEnqueueSendHandler turns the event into a notification.send job that
// carries only the notification id, and Deliverer.Send runs that job
// against the Sender registered for the channel.
//
// The Deliverer owns the retry budget of a notification. A failed attempt
// below the cap records NextAttemptAt on the backoff schedule and enqueues
// a delayed send job; Deliverer.SweepDue re-enqueues Pending notifications
// whose job never ran, so a dead-lettered job does not strand a record.
//
// Delivery is at-least-once: a provider accepting a message moments before
// a crash may see it again on retry.
package notification
