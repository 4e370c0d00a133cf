package outbox

import "errors"

var (
	// ErrMessageNotFound is returned by stores when no message matches.
	ErrMessageNotFound = errors.New("outbox message not found")

	// ErrDeliveryNotFound is returned by stores when no delivery matches.
	ErrDeliveryNotFound = errors.New("outbox delivery not found")

	// ErrNotClaimable is returned when a compare-and-set claim or a fenced save loses the race.
	ErrNotClaimable = errors.New("outbox record is not claimable")

	// ErrEmptyEventType is returned when a message is published without an event type.
	ErrEmptyEventType = errors.New("event type is required")

	// ErrInvalidPayload is returned when a payload is not a JSON document.
	ErrInvalidPayload = errors.New("event payload must be valid JSON")

	// ErrEmptyHandlerName is returned when a delivery handler has no name.
	ErrEmptyHandlerName = errors.New("delivery handler name is required")

	// ErrDuplicateHandler is returned when two delivery handlers share a name.
	ErrDuplicateHandler = errors.New("delivery handler already registered")

	// ErrUnknownHandler is recorded on a delivery whose handler is not registered in this process.
	ErrUnknownHandler = errors.New("delivery handler not registered")

	// ErrHandlerTimeout is recorded when a delivery handler exceeds its budget.
	ErrHandlerTimeout = errors.New("delivery handler timed out")

	// ErrStoreNil is returned when a constructor receives a nil store.
	ErrStoreNil = errors.New("outbox store cannot be nil")

	// ErrRegistryNil is returned when a constructor receives a nil registry.
	ErrRegistryNil = errors.New("outbox registry cannot be nil")

	// ErrSchedulerNil is returned when a constructor receives a nil scheduler.
	ErrSchedulerNil = errors.New("delivery scheduler cannot be nil")
)
