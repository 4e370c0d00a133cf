package logger

import (
	"fmt"
	"log/slog"
	"time"
)

// Attribute helpers use the empty Attr pattern for nil safety.
// This allows calls like log.Info("msg", logger.Error(err)) without explicit nil checks,
// following the principle of making zero values useful.

// ============================================================================
// Error Handling
// ============================================================================

// Error creates an attribute for a single error under the key "error".
// Returns empty Attr for nil errors, enabling safe usage without nil checks.
func Error(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.Any("error", err)
}

// ============================================================================
// Performance and Timing
// ============================================================================

// Duration creates an attribute for a duration.
func Duration(d time.Duration) slog.Attr {
	return slog.Duration("duration", d)
}

// ============================================================================
// Generic Identifiers
// ============================================================================

// ID creates a generic identifier attribute with a custom key.
func ID(key string, value any) slog.Attr {
	if value == nil {
		return slog.Attr{}
	}
	return slog.Any(key, value)
}

// CorrelationID creates an attribute for correlation IDs.
func CorrelationID(id string) slog.Attr {
	if id == "" {
		return slog.Attr{}
	}
	return slog.String("correlation_id", id)
}

// ============================================================================
// Generic Metadata
// ============================================================================

// Component creates an attribute for component names.
func Component(name string) slog.Attr {
	return slog.String("component", name)
}

// Count creates a generic counter attribute.
func Count(key string, n int) slog.Attr {
	return slog.Int(key, n)
}

// RetryCount creates an attribute for retry attempts.
func RetryCount(count int) slog.Attr {
	return slog.Int("retry_count", count)
}

// ============================================================================
// Dispatch
// ============================================================================

// EnvelopeID creates an attribute for command envelope identifiers.
func EnvelopeID(id fmt.Stringer) slog.Attr {
	return slog.String("envelope_id", id.String())
}

// CommandType creates an attribute for command type discriminators.
func CommandType(t string) slog.Attr {
	return slog.String("command_type", t)
}

// EventID creates an attribute for outbox message identifiers.
func EventID(id fmt.Stringer) slog.Attr {
	return slog.String("event_id", id.String())
}

// EventType creates an attribute for outbox event types.
func EventType(t string) slog.Attr {
	return slog.String("event_type", t)
}

// DeliveryID creates an attribute for outbox delivery identifiers.
func DeliveryID(id fmt.Stringer) slog.Attr {
	return slog.String("delivery_id", id.String())
}

// NotificationID creates an attribute for notification identifiers.
func NotificationID(id fmt.Stringer) slog.Attr {
	return slog.String("notification_id", id.String())
}

// Handler creates an attribute for handler names.
func Handler(name string) slog.Attr {
	return slog.String("handler", name)
}

// Attempt creates an attribute for the attempt number of a unit of work.
func Attempt(n int) slog.Attr {
	return slog.Int("attempt", n)
}

// Status creates an attribute for a lifecycle status.
func Status[S ~string](s S) slog.Attr {
	return slog.String("status", string(s))
}
