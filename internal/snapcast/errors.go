package snapcast

import "errors"

// Domain errors for the snapcast package.
// Use errors.Is() to check for these in calling code.
var (
	// ErrNotConnected is returned when the control connection is down.
	// Callers treat this as a transient fault, never a topology fault.
	ErrNotConnected = errors.New("snapcast: not connected")

	// ErrRequestTimeout is returned when the server does not answer a
	// request within the configured timeout.
	ErrRequestTimeout = errors.New("snapcast: request timeout")

	// ErrGroupNotFound is returned when a group ID is not present on
	// the server.
	ErrGroupNotFound = errors.New("snapcast: group not found")

	// ErrClientNotFound is returned when a client ID is not present on
	// the server.
	ErrClientNotFound = errors.New("snapcast: client not found")
)
