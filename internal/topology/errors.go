package topology

import "errors"

// Domain errors for the topology package.
//
// These errors can be checked using errors.Is():
//
//	if errors.Is(err, topology.ErrZoneNotFound) {
//	    // handle unknown zone index
//	}
var (
	// ErrZoneNotFound is returned when a zone index does not exist.
	ErrZoneNotFound = errors.New("topology: zone not found")

	// ErrClientNotFound is returned when a client index does not exist.
	ErrClientNotFound = errors.New("topology: client not found")

	// ErrInvalidVolume is returned when a volume is outside [0,100].
	ErrInvalidVolume = errors.New("topology: volume out of range")

	// ErrInvalidZone is returned when zone state validation fails.
	ErrInvalidZone = errors.New("topology: invalid zone state")

	// ErrInvalidClient is returned when client state validation fails.
	ErrInvalidClient = errors.New("topology: invalid client state")

	// ErrDuplicateMember is returned when a zone's member list contains
	// the same client index twice.
	ErrDuplicateMember = errors.New("topology: duplicate member")
)
