package command

import (
	"encoding/json"
	"slices"
	"time"

	"github.com/google/uuid"
)

// Command is implemented by every dispatchable command. CommandType returns
// the stable discriminator persisted with the envelope; it must not change
// across releases and must be unique within a Registry.
type Command interface {
	CommandType() string
}

// Status is the lifecycle state of an envelope.
type Status string

const (
	StatusPending      Status = "pending"
	StatusProcessing   Status = "processing"
	StatusCompleted    Status = "completed"
	StatusFailed       Status = "failed"
	StatusDeadLettered Status = "dead_lettered"
)

// Terminal reports whether no further transitions are allowed.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusDeadLettered
}

// Envelope is the durable record of one logically unique command.
type Envelope struct {
	ID             uuid.UUID         `json:"id"`
	CorrelationKey string            `json:"correlation_key"`
	CommandType    string            `json:"command_type"`
	Payload        json.RawMessage   `json:"payload"`
	Status         Status            `json:"status"`
	Attempts       int               `json:"attempts"`
	LastAttemptAt  *time.Time        `json:"last_attempt_at,omitempty"`
	NextAttemptAt  *time.Time        `json:"next_attempt_at,omitempty"`
	LastError      string            `json:"last_error,omitempty"`
	ExecutionLog   []ExecutionRecord `json:"execution_log"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

// ExecutionRecord is the outcome of one handler on one attempt.
type ExecutionRecord struct {
	Attempt    int       `json:"attempt"`
	Handler    string    `json:"handler"`
	Succeeded  bool      `json:"succeeded"`
	Error      string    `json:"error,omitempty"`
	Detail     string    `json:"detail,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// AttemptLog returns the records written for the given attempt.
func (e *Envelope) AttemptLog(attempt int) []ExecutionRecord {
	var out []ExecutionRecord
	for _, r := range e.ExecutionLog {
		if r.Attempt == attempt {
			out = append(out, r)
		}
	}
	return out
}

// Clone returns a deep copy.
func (e *Envelope) Clone() *Envelope {
	if e == nil {
		return nil
	}
	c := *e
	c.Payload = slices.Clone(e.Payload)
	c.ExecutionLog = slices.Clone(e.ExecutionLog)
	c.LastAttemptAt = cloneTime(e.LastAttemptAt)
	c.NextAttemptAt = cloneTime(e.NextAttemptAt)
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
