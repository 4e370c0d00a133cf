package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"github.com/google/uuid"
)

// DeliveryHandler consumes one event type. Name must be stable across
// releases: it is persisted on every delivery and deduplicates them.
type DeliveryHandler interface {
	Name() string
	EventType() string
	Handle(ctx context.Context, eventID uuid.UUID, correlationID string, payload json.RawMessage) error
}

// HandleFunc is the function form of DeliveryHandler.Handle.
type HandleFunc func(ctx context.Context, eventID uuid.UUID, correlationID string, payload json.RawMessage) error

type funcHandler struct {
	name      string
	eventType string
	fn        HandleFunc
}

// NewHandler adapts a function to DeliveryHandler.
func NewHandler(name, eventType string, fn HandleFunc) DeliveryHandler {
	return &funcHandler{name: name, eventType: eventType, fn: fn}
}

func (h *funcHandler) Name() string      { return h.name }
func (h *funcHandler) EventType() string { return h.eventType }

func (h *funcHandler) Handle(ctx context.Context, eventID uuid.UUID, correlationID string, payload json.RawMessage) error {
	return h.fn(ctx, eventID, correlationID, payload)
}

// Registry maps event types to delivery handlers. It is built once at
// startup and read-only afterwards.
type Registry struct {
	byName  map[string]DeliveryHandler
	byEvent map[string][]DeliveryHandler
}

// NewRegistry validates and indexes handlers. Handler names must be unique
// across all event types.
func NewRegistry(handlers ...DeliveryHandler) (*Registry, error) {
	r := &Registry{
		byName:  make(map[string]DeliveryHandler, len(handlers)),
		byEvent: make(map[string][]DeliveryHandler),
	}
	for _, h := range handlers {
		name := strings.TrimSpace(h.Name())
		if name == "" {
			return nil, fmt.Errorf("%w: event type %q", ErrEmptyHandlerName, h.EventType())
		}
		if strings.TrimSpace(h.EventType()) == "" {
			return nil, fmt.Errorf("%w: handler %q", ErrEmptyEventType, name)
		}
		if _, dup := r.byName[name]; dup {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateHandler, name)
		}
		r.byName[name] = h
		r.byEvent[h.EventType()] = append(r.byEvent[h.EventType()], h)
	}
	return r, nil
}

// MustRegistry is NewRegistry that panics on error, for use at startup.
func MustRegistry(handlers ...DeliveryHandler) *Registry {
	r, err := NewRegistry(handlers...)
	if err != nil {
		panic(err)
	}
	return r
}

// ForEvent returns the handlers of eventType in registration order.
func (r *Registry) ForEvent(eventType string) []DeliveryHandler {
	return slices.Clone(r.byEvent[eventType])
}

// Lookup returns the handler registered under name.
func (r *Registry) Lookup(name string) (DeliveryHandler, bool) {
	h, ok := r.byName[name]
	return h, ok
}

// Names returns all handler names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.byName))
	for name := range r.byName {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
