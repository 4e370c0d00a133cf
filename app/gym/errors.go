package gym

import "errors"

var (
	ErrNotificationsNil = errors.New("notification scheduler cannot be nil")
	ErrPublisherNil     = errors.New("event publisher cannot be nil")
	ErrAuditStoreNil    = errors.New("audit store cannot be nil")
	ErrInvalidCommand   = errors.New("invalid gym command")
)
