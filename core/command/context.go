package command

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
)

type envelopeIDCtx struct{}

// WithEnvelopeID attaches the envelope being orchestrated to the context.
func WithEnvelopeID(ctx context.Context, id uuid.UUID) context.Context {
	return context.WithValue(ctx, envelopeIDCtx{}, id)
}

// EnvelopeIDFromContext extracts the envelope ID set by the orchestrator.
func EnvelopeIDFromContext(ctx context.Context) (uuid.UUID, bool) {
	id, ok := ctx.Value(envelopeIDCtx{}).(uuid.UUID)
	return id, ok
}

type attemptCtx struct{}

// WithAttempt attaches the 1-based attempt number to the context.
func WithAttempt(ctx context.Context, attempt int) context.Context {
	return context.WithValue(ctx, attemptCtx{}, attempt)
}

// AttemptFromContext returns the attempt number, or 0 outside orchestration.
// Handlers can use it to make side effects idempotent across retries.
func AttemptFromContext(ctx context.Context) int {
	if n, ok := ctx.Value(attemptCtx{}).(int); ok {
		return n
	}
	return 0
}

type correlationKeyCtx struct{}

// WithCorrelationKey attaches the envelope's deduplication key to the context.
func WithCorrelationKey(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, correlationKeyCtx{}, key)
}

// CorrelationKeyFromContext returns the deduplication key of the command
// being executed. Handlers pass it downstream as a correlation identifier.
func CorrelationKeyFromContext(ctx context.Context) string {
	if k, ok := ctx.Value(correlationKeyCtx{}).(string); ok {
		return k
	}
	return ""
}

// LogAttrs is a logger.ContextExtractor exposing orchestration metadata.
func LogAttrs(ctx context.Context) (slog.Attr, bool) {
	id, ok := EnvelopeIDFromContext(ctx)
	if !ok {
		return slog.Attr{}, false
	}
	return slog.Group("dispatch",
		slog.String("envelope_id", id.String()),
		slog.Int("attempt", AttemptFromContext(ctx)),
	), true
}
