package command

import (
	"context"
	"fmt"
	"math"
)

// Handler applies one validated command. It computes the new desired
// state and writes it through the store; notifications are a side effect
// of the store write, never of the handler.
type Handler func(ctx context.Context, cmd Command) (any, error)

// registryKey identifies one handler slot.
type registryKey struct {
	kind      TargetKind
	operation string
}

// registry is the static (target kind, operation) → handler table.
// Built once at pipeline construction; never mutated afterwards, so
// lookups need no locking. Adding a command means adding one register
// call; no runtime type scanning.
type registry struct {
	handlers map[registryKey]Handler
}

func newRegistry() *registry {
	return &registry{
		handlers: make(map[registryKey]Handler),
	}
}

// register wires a handler. Duplicate registration is a programming
// error caught at startup.
func (r *registry) register(kind TargetKind, operation string, h Handler) {
	key := registryKey{kind: kind, operation: operation}
	if _, exists := r.handlers[key]; exists {
		panic(fmt.Sprintf("command: duplicate handler for %s/%s", kind, operation))
	}
	r.handlers[key] = h
}

// lookup returns the handler for a command, or ErrUnknownOperation.
func (r *registry) lookup(kind TargetKind, operation string) (Handler, error) {
	h, ok := r.handlers[registryKey{kind: kind, operation: operation}]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", ErrUnknownOperation, kind, operation)
	}
	return h, nil
}

// operations returns the registered operation names for one target kind.
func (r *registry) operations(kind TargetKind) []string {
	var ops []string
	for key := range r.handlers {
		if key.kind == kind {
			ops = append(ops, key.operation)
		}
	}
	return ops
}

// Payload accessors. Command payloads arrive as decoded JSON, so numbers
// may be float64 or int depending on the source.

// intParam extracts an integer payload field.
func intParam(payload map[string]any, key string) (int, error) {
	raw, ok := payload[key]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrMissingParameter, key)
	}
	switch v := raw.(type) {
	case int:
		return v, nil
	case float64:
		if v != math.Trunc(v) {
			return 0, fmt.Errorf("%w: %q must be an integer", ErrMissingParameter, key)
		}
		return int(v), nil
	default:
		return 0, fmt.Errorf("%w: %q must be a number", ErrMissingParameter, key)
	}
}

// boolParam extracts a boolean payload field.
func boolParam(payload map[string]any, key string) (bool, error) {
	raw, ok := payload[key]
	if !ok {
		return false, fmt.Errorf("%w: %q", ErrMissingParameter, key)
	}
	v, ok := raw.(bool)
	if !ok {
		return false, fmt.Errorf("%w: %q must be a boolean", ErrMissingParameter, key)
	}
	return v, nil
}

// stringParam extracts a string payload field.
func stringParam(payload map[string]any, key string) (string, error) {
	raw, ok := payload[key]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrMissingParameter, key)
	}
	v, ok := raw.(string)
	if !ok {
		return "", fmt.Errorf("%w: %q must be a string", ErrMissingParameter, key)
	}
	return v, nil
}
