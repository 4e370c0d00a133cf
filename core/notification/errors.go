package notification

import "errors"

var (
	// ErrNotFound is returned by stores when no notification matches.
	ErrNotFound = errors.New("notification not found")

	// ErrConflict is returned by Store.Save when the record changed since it was read.
	ErrConflict = errors.New("notification was modified concurrently")

	// ErrInvalidRequest is returned by Schedule for incomplete requests.
	ErrInvalidRequest = errors.New("invalid notification request")

	// ErrNoSender is recorded when no sender serves the notification channel.
	ErrNoSender = errors.New("no sender for channel")

	// ErrSenderDeclined is recorded when a sender reports delivered=false without an error.
	ErrSenderDeclined = errors.New("sender reported the notification as not delivered")

	// ErrInvalidEvent is returned when a notification.scheduled event cannot be decoded.
	ErrInvalidEvent = errors.New("invalid notification.scheduled event")

	// ErrStoreNil is returned when a constructor receives a nil store.
	ErrStoreNil = errors.New("notification store cannot be nil")

	// ErrPublisherNil is returned when a constructor receives a nil outbox publisher.
	ErrPublisherNil = errors.New("outbox publisher cannot be nil")

	// ErrEnqueuerNil is returned when a constructor receives a nil job enqueuer.
	ErrEnqueuerNil = errors.New("send job enqueuer cannot be nil")

	// ErrJobSchedulerNil is returned when NewDeliverer receives a nil send job scheduler.
	ErrJobSchedulerNil = errors.New("send job scheduler cannot be nil")
)
