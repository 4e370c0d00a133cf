package notification

import (
	"encoding/json"
	"slices"
	"time"

	"github.com/google/uuid"
)

// Channel names a delivery medium.
const (
	ChannelEmail = "email"
	ChannelPush  = "push"
	ChannelSMS   = "sms"
)

// Status is the lifecycle state of a notification.
type Status string

const (
	StatusPending Status = "pending"
	StatusSent    Status = "sent"
	StatusFailed  Status = "failed"
)

// Active reports whether a record in this state blocks a duplicate for the
// same (type, correlation id, recipient). Failed is only reached once the
// attempt cap is exhausted, so a failed notification may be scheduled again.
func (s Status) Active() bool {
	return s == StatusPending || s == StatusSent
}

// Message is one user-facing notification.
type Message struct {
	ID            uuid.UUID       `json:"id"`
	Channel       string          `json:"channel"`
	Type          string          `json:"type"`
	CorrelationID string          `json:"correlation_id"`
	Recipient     string          `json:"recipient"`
	Payload       json.RawMessage `json:"payload"`
	Status        Status          `json:"status"`
	Attempts      int             `json:"attempts"`
	LastAttemptAt *time.Time      `json:"last_attempt_at,omitempty"`
	NextAttemptAt *time.Time      `json:"next_attempt_at,omitempty"`
	SentAt        *time.Time      `json:"sent_at,omitempty"`
	LastError     string          `json:"last_error,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// Clone returns a deep copy.
func (m *Message) Clone() *Message {
	if m == nil {
		return nil
	}
	c := *m
	c.Payload = slices.Clone(m.Payload)
	c.LastAttemptAt = cloneTime(m.LastAttemptAt)
	c.NextAttemptAt = cloneTime(m.NextAttemptAt)
	c.SentAt = cloneTime(m.SentAt)
	return &c
}

// Request describes a notification to schedule.
type Request struct {
	Channel string `sanitize:"trim_lower"`
	// Type identifies the template or purpose, e.g. "invitation".
	Type string `sanitize:"single_line,trim"`
	// CorrelationID ties the notification to the business event that caused it.
	CorrelationID string `sanitize:"trim"`
	Recipient     string `sanitize:"trim"`
	// Payload is any JSON-marshalable value handed to the sender.
	Payload any
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
