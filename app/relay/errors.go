package relay

import "errors"

var (
	ErrUnknownJobsBackend   = errors.New("unknown jobs backend")
	ErrUnknownEmailProvider = errors.New("unknown email provider")
)
