package redisjobs

import "errors"

var (
	ErrClientNil   = errors.New("redis client cannot be nil")
	ErrEmptyKind   = errors.New("job kind cannot be empty")
	ErrHandlerNil  = errors.New("job handler cannot be nil")
	ErrNotRunning  = errors.New("poller is not running")
	ErrPollStalled = errors.New("poller has not polled recently")
)
