package outbox

import (
	"encoding/json"
	"slices"
	"time"

	"github.com/google/uuid"
)

// MessageStatus is the lifecycle state of an outbox message.
type MessageStatus string

const (
	MessagePending    MessageStatus = "pending"
	MessageProcessing MessageStatus = "processing"
	MessageProcessed  MessageStatus = "processed"
	MessageFailed     MessageStatus = "failed"
)

// DeliveryStatus is the lifecycle state of a per-handler delivery.
type DeliveryStatus string

const (
	DeliveryPending    DeliveryStatus = "pending"
	DeliveryProcessing DeliveryStatus = "processing"
	DeliverySucceeded  DeliveryStatus = "succeeded"
	DeliveryFailed     DeliveryStatus = "failed"
)

// Message is a domain event recorded in the same transaction as the state
// change that produced it.
//
// A Failed message with a NextAttemptAt is waiting for a retry; a Failed
// message without one has exhausted its attempts.
type Message struct {
	ID            uuid.UUID       `json:"id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	CorrelationID string          `json:"correlation_id"`
	Status        MessageStatus   `json:"status"`
	Attempts      int             `json:"attempts"`
	NextAttemptAt *time.Time      `json:"next_attempt_at,omitempty"`
	LastError     string          `json:"last_error,omitempty"`
	ProcessedAt   *time.Time      `json:"processed_at,omitempty"`
	ClaimedAt     *time.Time      `json:"claimed_at,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// Terminal reports whether the message will not be dispatched again.
func (m *Message) Terminal() bool {
	return m.Status == MessageProcessed || (m.Status == MessageFailed && m.NextAttemptAt == nil)
}

// Clone returns a deep copy.
func (m *Message) Clone() *Message {
	if m == nil {
		return nil
	}
	c := *m
	c.Payload = slices.Clone(m.Payload)
	c.NextAttemptAt = cloneTime(m.NextAttemptAt)
	c.ProcessedAt = cloneTime(m.ProcessedAt)
	c.ClaimedAt = cloneTime(m.ClaimedAt)
	return &c
}

// Delivery tracks one handler's processing of one message. A message has at
// most one delivery per handler name.
type Delivery struct {
	ID            uuid.UUID      `json:"id"`
	EventID       uuid.UUID      `json:"event_id"`
	HandlerName   string         `json:"handler_name"`
	Status        DeliveryStatus `json:"status"`
	Attempts      int            `json:"attempts"`
	NextAttemptAt *time.Time     `json:"next_attempt_at,omitempty"`
	LastError     string         `json:"last_error,omitempty"`
	ProcessedAt   *time.Time     `json:"processed_at,omitempty"`
	ClaimedAt     *time.Time     `json:"claimed_at,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// Terminal reports whether the delivery will not be attempted again.
func (d *Delivery) Terminal() bool {
	return d.Status == DeliverySucceeded || (d.Status == DeliveryFailed && d.NextAttemptAt == nil)
}

// Clone returns a copy.
func (d *Delivery) Clone() *Delivery {
	if d == nil {
		return nil
	}
	c := *d
	c.NextAttemptAt = cloneTime(d.NextAttemptAt)
	c.ProcessedAt = cloneTime(d.ProcessedAt)
	c.ClaimedAt = cloneTime(d.ClaimedAt)
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
