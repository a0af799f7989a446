package command

import "errors"

// Domain errors for the command package.
var (
	// ErrUnknownOperation is returned when no handler is registered for
	// a (target kind, operation) pair.
	ErrUnknownOperation = errors.New("command: unknown operation")

	// ErrUnknownTarget is returned when the target index references no
	// configured entity.
	ErrUnknownTarget = errors.New("command: unknown target")

	// ErrMissingParameter is returned when a required payload field is
	// absent or has the wrong type.
	ErrMissingParameter = errors.New("command: missing parameter")

	// ErrParameterRange is returned when a payload value is outside its
	// allowed range.
	ErrParameterRange = errors.New("command: parameter out of range")

	// ErrSourceNotAllowed is returned when an operation is restricted
	// to specific sources (observed-state writes are internal only).
	ErrSourceNotAllowed = errors.New("command: source not allowed")
)
