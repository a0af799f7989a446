package command

import (
	"github.com/google/uuid"
)

// TargetKind identifies the entity type a command addresses.
type TargetKind string

const (
	// TargetZone addresses a zone by index.
	TargetZone TargetKind = "zone"

	// TargetClient addresses a client by index.
	TargetClient TargetKind = "client"
)

// Source identifies where a command originated.
type Source string

const (
	SourceInternal Source = "internal"
	SourceAPI      Source = "api"
	SourceMQTT     Source = "mqtt"
	SourceKNX      Source = "knx"
)

// Operation names. Every (TargetKind, Operation) pair maps to exactly
// one handler in the static registry.
const (
	// Zone operations.
	OpSetVolume          = "set_volume"
	OpSetMute            = "set_mute"
	OpSetPlaying         = "set_playing"
	OpSetTrackRepeat     = "set_track_repeat"
	OpSetPlaylistRepeat  = "set_playlist_repeat"
	OpSetPlaylistShuffle = "set_playlist_shuffle"
	OpSetStream          = "set_stream"
	OpSetPlaylist        = "set_playlist"
	OpSetTrack           = "set_track"
	OpAssignClient       = "assign_client"
	OpSetGroupID         = "set_group_id" // internal source only

	// Client operations (OpSetVolume and OpSetMute apply here too).
	OpSetLatency   = "set_latency"
	OpSetConnected = "set_connected"
	OpSetName      = "set_name"
)

// Command is an immutable request to mutate desired state.
// Build with New; never mutate after creation.
type Command struct {
	TargetKind    TargetKind
	TargetIndex   int
	Operation     string
	Payload       map[string]any
	Source        Source
	CorrelationID string
}

// New builds a command, assigning a correlation ID when none is given.
func New(kind TargetKind, index int, operation string, payload map[string]any, source Source) Command {
	return Command{
		TargetKind:    kind,
		TargetIndex:   index,
		Operation:     operation,
		Payload:       payload,
		Source:        source,
		CorrelationID: uuid.NewString(),
	}
}

// FailureKind classifies command failures so callers can branch on
// outcome without matching implementation error types.
type FailureKind string

const (
	// FailureNone marks a successful result.
	FailureNone FailureKind = ""

	// FailureValidation marks a rejected command; nothing was mutated.
	FailureValidation FailureKind = "validation"

	// FailureCancelled marks a command aborted by context cancellation
	// or timeout.
	FailureCancelled FailureKind = "cancelled"

	// FailureTransient marks an external-system failure (Snapcast
	// unreachable); desired state may already be updated and the
	// reconciler or a retry will converge.
	FailureTransient FailureKind = "transient"

	// FailureInternal marks a programming or invariant fault. Fatal to
	// the single operation, never to the process.
	FailureInternal FailureKind = "internal"
)

// Result is the outcome of one command dispatch. No error ever crosses
// the pipeline boundary as a panic or untyped throw; callers branch on
// OK and Kind.
type Result struct {
	OK      bool
	Value   any
	Kind    FailureKind
	Message string
	Err     error
}

// Success builds a successful result.
func Success(value any) Result {
	return Result{OK: true, Value: value}
}

// Failure builds a failed result of the given kind.
func Failure(kind FailureKind, err error) Result {
	res := Result{OK: false, Kind: kind, Err: err}
	if err != nil {
		res.Message = err.Error()
	}
	return res
}

// IsValidation reports whether the result is a validation rejection.
func (r Result) IsValidation() bool {
	return !r.OK && r.Kind == FailureValidation
}

// IsCancelled reports whether the result is a cancellation.
func (r Result) IsCancelled() bool {
	return !r.OK && r.Kind == FailureCancelled
}
