package command

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"slices"
	"sort"

	"github.com/dmitrymomot/relay/pkg/idempotency"
)

// Handler executes commands of exactly type T.
type Handler[T Command] interface {
	// Name identifies the handler in execution logs. Unique per command type.
	Name() string
	Execute(ctx context.Context, cmd T) error
}

type handlerFunc[T Command] struct {
	name string
	fn   func(context.Context, T) error
}

// HandlerFunc adapts a function to Handler[T].
//
// Example:
//
//	command.HandlerFunc("send_invitation_email", func(ctx context.Context, cmd InvitationCreated) error {
//	    return notifications.Schedule(ctx, ...)
//	})
func HandlerFunc[T Command](name string, fn func(context.Context, T) error) Handler[T] {
	return &handlerFunc[T]{name: name, fn: fn}
}

func (h *handlerFunc[T]) Name() string { return h.name }

func (h *handlerFunc[T]) Execute(ctx context.Context, cmd T) error {
	return h.fn(ctx, cmd)
}

// Executor is the type-erased form of a Handler used by the orchestrator.
type Executor interface {
	Name() string
	Execute(ctx context.Context, cmd Command) error
}

type typedExecutor[T Command] struct {
	h Handler[T]
}

func (e typedExecutor[T]) Name() string { return e.h.Name() }

func (e typedExecutor[T]) Execute(ctx context.Context, cmd Command) error {
	typed, ok := cmd.(T)
	if !ok {
		return fmt.Errorf("handler %s expects %T, got %T", e.h.Name(), *new(T), cmd)
	}
	return e.h.Execute(ctx, typed)
}

// Registration binds one command type to its handlers. Build it with Register.
type Registration struct {
	discriminator string
	typ           reflect.Type
	decode        func(json.RawMessage) (Command, error)
	executors     []Executor
	err           error
}

// Register declares command type T and the handlers that execute it.
// Registering a type without handlers keeps stored envelopes of that type
// decodable after their handlers were removed.
func Register[T Command](handlers ...Handler[T]) Registration {
	typ := reflect.TypeFor[T]()
	if typ.Kind() == reflect.Pointer || typ.Kind() == reflect.Interface {
		return Registration{typ: typ, err: fmt.Errorf("%w: %s", ErrPointerCommand, typ)}
	}

	var zero T
	discriminator := zero.CommandType()
	if discriminator == "" {
		return Registration{typ: typ, err: fmt.Errorf("%w: %s", ErrUnnamedCommand, typ)}
	}
	if err := idempotency.ValidateDiscriminator(discriminator); err != nil {
		return Registration{typ: typ, err: fmt.Errorf("%w: %s: %w", ErrInvalidCommandType, typ, err)}
	}

	reg := Registration{
		discriminator: discriminator,
		typ:           typ,
		decode: func(raw json.RawMessage) (Command, error) {
			var cmd T
			if err := json.Unmarshal(raw, &cmd); err != nil {
				return nil, fmt.Errorf("%w: %s: %w", ErrPayloadDecode, discriminator, err)
			}
			return cmd, nil
		},
	}

	seen := make(map[string]struct{}, len(handlers))
	for _, h := range handlers {
		if h == nil {
			continue
		}
		name := h.Name()
		if _, dup := seen[name]; dup || name == "" {
			reg.err = fmt.Errorf("%w: %s handler %q", ErrDuplicateHandler, discriminator, name)
			return reg
		}
		seen[name] = struct{}{}
		reg.executors = append(reg.executors, typedExecutor[T]{h: h})
	}

	return reg
}

// Registry maps discriminators to command types and their handlers.
// It is populated once at process start and read-only afterwards.
type Registry struct {
	byName map[string]*Registration
	byType map[reflect.Type]*Registration
}

// NewRegistry builds an immutable registry.
func NewRegistry(regs ...Registration) (*Registry, error) {
	r := &Registry{
		byName: make(map[string]*Registration, len(regs)),
		byType: make(map[reflect.Type]*Registration, len(regs)),
	}

	for i := range regs {
		reg := regs[i]
		if reg.err != nil {
			return nil, reg.err
		}
		if existing, ok := r.byName[reg.discriminator]; ok {
			return nil, fmt.Errorf("%w: %q used by %s and %s",
				ErrDuplicateCommandType, reg.discriminator, existing.typ, reg.typ)
		}
		if _, ok := r.byType[reg.typ]; ok {
			return nil, fmt.Errorf("%w: %s registered twice", ErrDuplicateCommandType, reg.typ)
		}
		r.byName[reg.discriminator] = &reg
		r.byType[reg.typ] = &reg
	}

	return r, nil
}

// MustRegistry is NewRegistry that panics on invalid registrations.
func MustRegistry(regs ...Registration) *Registry {
	r, err := NewRegistry(regs...)
	if err != nil {
		panic(err)
	}
	return r
}

// Executors returns the handlers declared for the exact runtime type of cmd.
// A command whose type is not registered, including a pointer to a
// registered type, has no handlers.
func (r *Registry) Executors(cmd Command) []Executor {
	if cmd == nil {
		return nil
	}
	reg, ok := r.byType[reflect.TypeOf(cmd)]
	if !ok {
		return nil
	}
	return slices.Clone(reg.executors)
}

// Decode resolves a discriminator and decodes the payload into that type.
func (r *Registry) Decode(discriminator string, payload json.RawMessage) (Command, error) {
	reg, ok := r.byName[discriminator]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCommandType, discriminator)
	}
	return reg.decode(payload)
}

// Known reports whether the discriminator is registered.
func (r *Registry) Known(discriminator string) bool {
	_, ok := r.byName[discriminator]
	return ok
}

// Types lists registered discriminators in sorted order.
func (r *Registry) Types() []string {
	out := make([]string, 0, len(r.byName))
	for name := range r.byName {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// HandlerNames lists handler names for a discriminator.
func (r *Registry) HandlerNames(discriminator string) []string {
	reg, ok := r.byName[discriminator]
	if !ok {
		return nil
	}
	names := make([]string, len(reg.executors))
	for i, e := range reg.executors {
		names[i] = e.Name()
	}
	return names
}
