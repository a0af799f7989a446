package reconcile

import "errors"

var (
	// ErrSnapshotUnavailable wraps adapter failures while reading the
	// observed grouping. The topology is not at fault; the pass is
	// skipped and retried on the next tick.
	ErrSnapshotUnavailable = errors.New("reconcile: grouping snapshot unavailable")

	// ErrZoneNotRepairable is returned when a zone's members cannot be
	// gathered into one group within the retry budget.
	ErrZoneNotRepairable = errors.New("reconcile: zone not repairable")
)
