package kafka

import "errors"

var (
	ErrNoBrokers      = errors.New("kafka publisher requires at least one broker")
	ErrPublishFailed  = errors.New("failed to publish kafka message")
	ErrPublisherNil   = errors.New("kafka publisher cannot be nil")
	ErrEmptyEventType = errors.New("event type cannot be empty")
)
