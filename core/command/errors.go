package command

import "errors"

var (
	// ErrNilCommand is returned when Enqueue receives a nil command.
	ErrNilCommand = errors.New("command is nil")

	// ErrUnnamedCommand is returned when a command type has no stable discriminator.
	ErrUnnamedCommand = errors.New("command type has no stable name")

	// ErrInvalidCommandType is returned when a discriminator cannot prefix a correlation key.
	ErrInvalidCommandType = errors.New("command type name is not a valid discriminator")

	// ErrPointerCommand is returned when a pointer type is registered as a command.
	ErrPointerCommand = errors.New("command type must not be a pointer")

	// ErrDuplicateCommandType is returned when two registrations share a discriminator.
	ErrDuplicateCommandType = errors.New("command type already registered")

	// ErrDuplicateHandler is returned when a handler name repeats within one command type.
	ErrDuplicateHandler = errors.New("handler already registered for command type")

	// ErrUnknownCommandType is returned when a discriminator does not resolve to a registered type.
	ErrUnknownCommandType = errors.New("unknown command type")

	// ErrPayloadDecode is returned when a payload cannot be decoded into its resolved type.
	ErrPayloadDecode = errors.New("command payload cannot be decoded")

	// ErrEnvelopeNotFound is returned by stores when no envelope matches.
	ErrEnvelopeNotFound = errors.New("envelope not found")

	// ErrNotClaimable is returned by stores when a claim or guarded update loses the race.
	ErrNotClaimable = errors.New("envelope is not claimable")

	// ErrStoreNil is returned when a constructor receives a nil store.
	ErrStoreNil = errors.New("envelope store cannot be nil")

	// ErrRegistryNil is returned when a constructor receives a nil registry.
	ErrRegistryNil = errors.New("registry cannot be nil")

	// ErrSchedulerNil is returned when a constructor receives a nil scheduler.
	ErrSchedulerNil = errors.New("scheduler cannot be nil")

	// ErrHandlerTimeout wraps context.DeadlineExceeded when a handler exceeds its budget.
	ErrHandlerTimeout = errors.New("handler timed out")
)

// IsPermanent reports whether err belongs to the failure class that retrying
// cannot fix: the stored discriminator or payload does not resolve.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrUnknownCommandType) || errors.Is(err, ErrPayloadDecode)
}
