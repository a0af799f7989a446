package command

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/nerrad567/gray-audio-core/internal/snapcast"
	"github.com/nerrad567/gray-audio-core/internal/topology"
)

// AudioControl pushes desired playback state to the external audio
// server. Implemented by snapcast.Conn; nil disables outward pushes
// (desired-state-only mode, used in tests and degraded operation).
type AudioControl interface {
	SetClientVolume(ctx context.Context, clientID string, percent int, muted bool) error
	SetClientLatency(ctx context.Context, clientID string, latencyMS int) error
	SetClientName(ctx context.Context, clientID, name string) error
	SetGroupMute(ctx context.Context, groupID string, muted bool) error
	SetGroupStream(ctx context.Context, groupID, streamID string) error
}

// Synchronizer triggers grouping convergence for one zone. Implemented
// by the reconcile engine; the pipeline kicks it after membership
// changes instead of waiting for the next periodic tick.
type Synchronizer interface {
	TriggerZoneSync(zoneIndex int)
}

// Logger defines the logging interface used by the Pipeline.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// entityLock identifies one per-entity dispatch mutex.
type entityLock struct {
	kind  TargetKind
	index int
}

// Pipeline validates and dispatches commands from all sources (API,
// MQTT, KNX, internal) against the topology store.
//
// Per-entity dispatch is serialized: commands for the same zone or
// client apply in receipt order, commands for different entities run
// concurrently. Membership operations (assign_client) serialize against
// each other globally because they touch two zones at once.
//
// Thread Safety: Dispatch is safe for concurrent use.
type Pipeline struct {
	store    *topology.Store
	audio    AudioControl
	sync     Synchronizer
	registry *registry
	logger   Logger

	lockMu       sync.Mutex
	entityLocks  map[entityLock]*sync.Mutex
	membershipMu sync.Mutex
}

// NewPipeline creates a pipeline with the full static handler registry.
//
// audio and synchronizer may be nil; the pipeline then mutates desired
// state without outward pushes or immediate convergence kicks.
func NewPipeline(store *topology.Store, audio AudioControl, synchronizer Synchronizer) *Pipeline {
	p := &Pipeline{
		store:       store,
		audio:       audio,
		sync:        synchronizer,
		registry:    newRegistry(),
		logger:      noopLogger{},
		entityLocks: make(map[entityLock]*sync.Mutex),
	}
	p.registerZoneHandlers()
	p.registerClientHandlers()
	return p
}

// SetLogger sets the logger for the pipeline.
func (p *Pipeline) SetLogger(logger Logger) {
	p.logger = logger
}

// SetSynchronizer wires the reconcile engine after construction.
// The pipeline and engine reference each other; the engine is built
// second and injected here.
func (p *Pipeline) SetSynchronizer(s Synchronizer) {
	p.sync = s
}

// Operations returns the registered operation names for a target kind.
// Used by ingress bridges to validate topics without duplicating the
// operation list.
func (p *Pipeline) Operations(kind TargetKind) []string {
	return p.registry.operations(kind)
}

// Dispatch validates and applies one command, returning a typed Result.
// No panic or error escapes: programming faults inside a handler surface
// as an internal failure for that single command.
func (p *Pipeline) Dispatch(ctx context.Context, cmd Command) (result Result) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("command handler panicked",
				"panic", r,
				"kind", cmd.TargetKind,
				"index", cmd.TargetIndex,
				"operation", cmd.Operation,
				"correlation_id", cmd.CorrelationID,
			)
			result = Failure(FailureInternal, fmt.Errorf("command: handler panic: %v", r))
		}
	}()

	handler, err := p.registry.lookup(cmd.TargetKind, cmd.Operation)
	if err != nil {
		return Failure(FailureValidation, err)
	}

	if err := p.targetExists(cmd); err != nil {
		return Failure(FailureValidation, err)
	}

	unlock := p.lockTarget(cmd)
	defer unlock()

	if err := ctx.Err(); err != nil {
		return Failure(FailureCancelled, err)
	}

	value, err := handler(ctx, cmd)
	if err != nil {
		return p.classify(cmd, err)
	}

	p.logger.Debug("command applied",
		"kind", cmd.TargetKind,
		"index", cmd.TargetIndex,
		"operation", cmd.Operation,
		"source", cmd.Source,
		"correlation_id", cmd.CorrelationID,
	)
	return Success(value)
}

// targetExists rejects commands referencing unconfigured indices before
// any lock is taken or state touched.
func (p *Pipeline) targetExists(cmd Command) error {
	switch cmd.TargetKind {
	case TargetZone:
		if _, err := p.store.GetZone(cmd.TargetIndex); err != nil {
			return fmt.Errorf("%w: zone %d", ErrUnknownTarget, cmd.TargetIndex)
		}
	case TargetClient:
		if _, err := p.store.GetClient(cmd.TargetIndex); err != nil {
			return fmt.Errorf("%w: client %d", ErrUnknownTarget, cmd.TargetIndex)
		}
	default:
		return fmt.Errorf("%w: kind %q", ErrUnknownTarget, cmd.TargetKind)
	}
	return nil
}

// lockTarget serializes dispatch per entity. Membership operations take
// the global membership lock instead, since they update two zones and a
// client as one logical operation.
func (p *Pipeline) lockTarget(cmd Command) func() {
	if cmd.Operation == OpAssignClient {
		p.membershipMu.Lock()
		return p.membershipMu.Unlock
	}

	key := entityLock{kind: cmd.TargetKind, index: cmd.TargetIndex}
	p.lockMu.Lock()
	mu, ok := p.entityLocks[key]
	if !ok {
		mu = &sync.Mutex{}
		p.entityLocks[key] = mu
	}
	p.lockMu.Unlock()

	mu.Lock()
	return mu.Unlock
}

// classify maps handler errors onto the failure taxonomy.
func (p *Pipeline) classify(cmd Command, err error) Result {
	var kind FailureKind
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		kind = FailureCancelled
	case errors.Is(err, ErrMissingParameter),
		errors.Is(err, ErrParameterRange),
		errors.Is(err, ErrSourceNotAllowed),
		errors.Is(err, ErrUnknownTarget),
		errors.Is(err, topology.ErrInvalidVolume),
		errors.Is(err, topology.ErrInvalidZone),
		errors.Is(err, topology.ErrInvalidClient):
		kind = FailureValidation
	case errors.Is(err, snapcast.ErrNotConnected),
		errors.Is(err, snapcast.ErrRequestTimeout):
		kind = FailureTransient
	default:
		kind = FailureInternal
	}

	if kind != FailureValidation {
		p.logger.Warn("command failed",
			"kind", cmd.TargetKind,
			"index", cmd.TargetIndex,
			"operation", cmd.Operation,
			"failure", kind,
			"error", err,
		)
	}
	return Failure(kind, err)
}
