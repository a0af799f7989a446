package reconcile

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/nerrad567/gray-audio-core/internal/command"
	"github.com/nerrad567/gray-audio-core/internal/snapcast"
	"github.com/nerrad567/gray-audio-core/internal/topology"
)

// GroupingAdapter is the engine's view of the external grouping server.
// Implemented by snapcast.Conn.
type GroupingAdapter interface {
	GroupSnapshot(ctx context.Context) ([]snapcast.GroupMembership, error)
	MoveClientToGroup(ctx context.Context, clientID, groupID string) error
}

// Dispatcher issues internal commands. The engine records discovered
// group bindings through the command pipeline so the update flows the
// same path as every other state change.
type Dispatcher interface {
	Dispatch(ctx context.Context, cmd command.Command) command.Result
}

// StatsRecorder receives the outcome of each reconcile pass.
// Implemented by the InfluxDB writer and the MQTT bridge.
type StatsRecorder interface {
	RecordReconcilePass(report Report)
}

// Logger defines the logging interface used by the Engine.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Options tunes the engine. Zero values fall back to defaults.
type Options struct {
	// Interval between periodic passes.
	Interval time.Duration
	// MaxAttempts bounds retries for a single client move.
	MaxAttempts int
	// AdapterTimeout bounds each adapter call.
	AdapterTimeout time.Duration
}

const (
	defaultInterval       = 30 * time.Second
	defaultMaxAttempts    = 3
	defaultAdapterTimeout = 10 * time.Second
	retryBackoff          = 250 * time.Millisecond
	syncQueueSize         = 16
)

// Engine enforces zone cohesion: every zone's desired member clients
// must sit together in a single group on the audio server. Foreign
// clients sharing that group are legitimate (zones merged for playback);
// members split across two or more groups are the fault the engine
// repairs.
//
// The engine never trusts cached observations. Every pass reads a fresh
// snapshot, and an unreachable server aborts the pass without touching
// anything. All repairs are idempotent, so overlapping triggers are
// harmless.
type Engine struct {
	store      *topology.Store
	adapter    GroupingAdapter
	dispatcher Dispatcher
	stats      []StatsRecorder
	logger     Logger

	interval       time.Duration
	maxAttempts    int
	adapterTimeout time.Duration

	passMu sync.Mutex

	statusMu sync.RWMutex
	status   Status

	syncQueue chan int
}

// NewEngine creates a reconcile engine bound to the store and adapter.
func NewEngine(store *topology.Store, adapter GroupingAdapter, opts Options) *Engine {
	if opts.Interval <= 0 {
		opts.Interval = defaultInterval
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = defaultMaxAttempts
	}
	if opts.AdapterTimeout <= 0 {
		opts.AdapterTimeout = defaultAdapterTimeout
	}
	return &Engine{
		store:          store,
		adapter:        adapter,
		logger:         noopLogger{},
		interval:       opts.Interval,
		maxAttempts:    opts.MaxAttempts,
		adapterTimeout: opts.AdapterTimeout,
		syncQueue:      make(chan int, syncQueueSize),
	}
}

// SetLogger sets the logger for the engine.
func (e *Engine) SetLogger(logger Logger) {
	e.logger = logger
}

// SetDispatcher wires the command pipeline for internal binding updates.
func (e *Engine) SetDispatcher(d Dispatcher) {
	e.dispatcher = d
}

// AddStats registers a recorder for pass outcomes. Call before Run.
func (e *Engine) AddStats(s StatsRecorder) {
	e.stats = append(e.stats, s)
}

// Status returns a copy of the engine's health summary.
func (e *Engine) Status() Status {
	e.statusMu.RLock()
	defer e.statusMu.RUnlock()
	return e.status
}

// TriggerZoneSync requests an asynchronous cohesion pass for one zone.
// Never blocks; if the queue is full the periodic pass covers the zone.
func (e *Engine) TriggerZoneSync(zoneIndex int) {
	select {
	case e.syncQueue <- zoneIndex:
	default:
		e.logger.Debug("sync queue full, deferring to periodic pass", "zone", zoneIndex)
	}
}

// Run drives periodic reconciliation until the context is cancelled.
// An initial pass runs immediately so a restart converges without
// waiting a full interval.
func (e *Engine) Run(ctx context.Context) error {
	e.setRunning(true)
	defer e.setRunning(false)

	if _, err := e.Reconcile(ctx); err != nil {
		e.logger.Warn("initial reconcile pass failed", "error", err)
	}

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := e.Reconcile(ctx); err != nil {
				e.logger.Warn("periodic reconcile pass failed", "error", err)
			}
		case zoneIndex := <-e.syncQueue:
			if _, err := e.SynchronizeZone(ctx, zoneIndex); err != nil {
				e.logger.Warn("zone sync failed", "zone", zoneIndex, "error", err)
			}
		}
	}
}

// Validate performs a read-only cohesion check against a fresh snapshot.
// It never mutates anything, on either side.
func (e *Engine) Validate(ctx context.Context) (ValidationReport, error) {
	snapshot, err := e.snapshot(ctx)
	if err != nil {
		return ValidationReport{}, err
	}
	return e.validateSnapshot(snapshot), nil
}

func (e *Engine) validateSnapshot(snapshot []snapcast.GroupMembership) ValidationReport {
	report := ValidationReport{
		CheckedAt: time.Now().UTC(),
	}

	groupOf := clientGroupIndex(snapshot)
	known := e.knownClientIDs()

	for clientID := range groupOf {
		if _, ok := known[clientID]; !ok {
			report.Unassigned = append(report.Unassigned, clientID)
		}
	}
	sort.Strings(report.Unassigned)

	zones := e.store.AllZones()
	report.ZoneCount = len(zones)

	for _, idx := range sortedZoneIndices(zones) {
		zone := zones[idx]
		groups := e.zoneGroupSpread(zone, groupOf)
		if len(groups) > 1 {
			report.Faults = append(report.Faults, ZoneFault{
				ZoneIndex:    idx,
				ZoneName:     zone.Name,
				GroupClients: groups,
			})
		}
	}
	return report
}

// Reconcile runs one full validate-and-repair pass. Zones are repaired
// independently: a zone whose moves keep failing is reported and skipped
// without blocking the rest. A pass never trusts its own moves: after
// issuing repairs it re-reads the snapshot and repairs again, bounded by
// the attempt budget, so a server that silently reverts a move surfaces
// as a residual fault instead of a false convergence.
//
// Concurrent callers serialise on the pass lock; each caller runs its
// own full pass and gets its own report. Passes are idempotent, so the
// later passes are cheap no-ops when the first one converged.
func (e *Engine) Reconcile(ctx context.Context) (Report, error) {
	e.passMu.Lock()
	defer e.passMu.Unlock()

	report := Report{StartedAt: time.Now().UTC()}
	repairs := make(map[int]*ZoneRepair)

	for sweep := 0; ; sweep++ {
		snapshot, err := e.snapshot(ctx)
		if err != nil {
			e.recordFailure(err)
			return report, err
		}

		groupOf := clientGroupIndex(snapshot)
		zones := e.store.AllZones()
		report.ZoneCount = len(zones)

		// Repairs acknowledged this sweep; they need a fresh snapshot
		// to confirm before the pass can claim convergence.
		unconfirmed := 0

		for _, idx := range sortedZoneIndices(zones) {
			zone := zones[idx]
			groups := e.zoneGroupSpread(zone, groupOf)

			switch len(groups) {
			case 0:
				// No member visible on the server; nothing to converge.
				continue
			case 1:
				e.recordBinding(ctx, idx, singleKey(groups))
				if prior, ok := repairs[idx]; ok {
					// Re-check confirms the earlier repair held.
					prior.Failed = nil
					prior.Err = nil
				}
				continue
			}

			if prior, ok := repairs[idx]; ok && !prior.Repaired() {
				// Move budget already spent on this zone; the residual
				// fault stands.
				continue
			}
			if sweep >= e.maxAttempts {
				prior := repairs[idx]
				if prior == nil {
					prior = &ZoneRepair{ZoneIndex: idx}
					repairs[idx] = prior
				}
				prior.Err = fmt.Errorf("%w: zone %d still split after %d repair attempts",
					ErrZoneNotRepairable, idx, sweep)
				e.logger.Warn("zone reverts repairs, giving up for this pass",
					"zone", idx, "attempts", sweep)
				continue
			}

			repair := e.repairZone(ctx, idx, zone, groups)
			if prior, ok := repairs[idx]; ok {
				prior.absorb(repair)
			} else {
				repairs[idx] = &repair
			}

			if repair.Repaired() {
				e.recordBinding(ctx, idx, repair.TargetGroup)
				// Keep the live index current so later zones in this
				// sweep see the moves already made.
				for _, clientID := range repair.Moved {
					groupOf[clientID] = repair.TargetGroup
				}
				unconfirmed++
			}
		}

		if unconfirmed == 0 {
			break
		}
	}

	report.Faulted = len(repairs)
	for _, idx := range sortedRepairIndices(repairs) {
		repair := repairs[idx]
		repair.Moved = dedupeSorted(repair.Moved)
		report.Repairs = append(report.Repairs, *repair)
	}

	report.FinishedAt = time.Now().UTC()
	e.recordPass(report)

	for _, recorder := range e.stats {
		recorder.RecordReconcilePass(report)
	}
	return report, nil
}

// SynchronizeZone converges a single zone against a fresh snapshot.
// Used after membership changes, so a reassignment takes effect without
// waiting for the periodic pass. Like the full pass, it confirms its
// own repairs against a fresh snapshot before reporting success, with
// the same attempt budget.
func (e *Engine) SynchronizeZone(ctx context.Context, zoneIndex int) (ZoneRepair, error) {
	zone, err := e.store.GetZone(zoneIndex)
	if err != nil {
		return ZoneRepair{}, err
	}

	result := ZoneRepair{ZoneIndex: zoneIndex}
	for attempt := 0; ; attempt++ {
		snapshot, err := e.snapshot(ctx)
		if err != nil {
			return ZoneRepair{}, err
		}

		groups := e.zoneGroupSpread(zone, clientGroupIndex(snapshot))
		switch len(groups) {
		case 0:
			return result, nil
		case 1:
			e.recordBinding(ctx, zoneIndex, singleKey(groups))
			result.TargetGroup = singleKey(groups)
			result.Failed = nil
			result.Err = nil
			return result, nil
		}

		if attempt >= e.maxAttempts {
			result.Err = fmt.Errorf("%w: zone %d still split after %d repair attempts",
				ErrZoneNotRepairable, zoneIndex, attempt)
			return result, result.Err
		}

		repair := e.repairZone(ctx, zoneIndex, zone, groups)
		result.TargetGroup = repair.TargetGroup
		result.Moved = dedupeSorted(append(result.Moved, repair.Moved...))
		result.Failed = repair.Failed
		result.Err = repair.Err
		if !repair.Repaired() {
			return result, result.Err
		}
		e.recordBinding(ctx, zoneIndex, repair.TargetGroup)
	}
}

// repairZone gathers a zone's members into one target group. The target
// is the group already holding the largest member subset; ties break to
// the lexicographically lowest group ID so repeated passes pick the same
// target.
func (e *Engine) repairZone(ctx context.Context, zoneIndex int, zone *topology.Zone, groups map[string][]string) ZoneRepair {
	repair := ZoneRepair{
		ZoneIndex:   zoneIndex,
		TargetGroup: chooseTargetGroup(groups),
	}

	e.logger.Info("repairing split zone",
		"zone", zoneIndex,
		"name", zone.Name,
		"groups", len(groups),
		"target", repair.TargetGroup,
	)

	for groupID, clientIDs := range groups {
		if groupID == repair.TargetGroup {
			continue
		}
		for _, clientID := range clientIDs {
			if err := e.moveWithRetry(ctx, clientID, repair.TargetGroup); err != nil {
				e.logger.Error("client move failed",
					"zone", zoneIndex,
					"client", clientID,
					"target", repair.TargetGroup,
					"error", err,
				)
				repair.Failed = append(repair.Failed, clientID)
				continue
			}
			repair.Moved = append(repair.Moved, clientID)
		}
	}
	sort.Strings(repair.Moved)
	sort.Strings(repair.Failed)

	if len(repair.Failed) > 0 {
		repair.Err = fmt.Errorf("%w: zone %d, %d client(s) stuck", ErrZoneNotRepairable, zoneIndex, len(repair.Failed))
	}
	return repair
}

// moveWithRetry issues one client move with a bounded retry budget.
// Each attempt gets its own adapter timeout.
func (e *Engine) moveWithRetry(ctx context.Context, clientID, groupID string) error {
	var lastErr error
	for attempt := 1; attempt <= e.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		callCtx, cancel := context.WithTimeout(ctx, e.adapterTimeout)
		err := e.adapter.MoveClientToGroup(callCtx, clientID, groupID)
		cancel()
		if err == nil {
			return nil
		}
		lastErr = err

		e.logger.Debug("move attempt failed",
			"client", clientID,
			"target", groupID,
			"attempt", attempt,
			"error", err,
		)
		if attempt < e.maxAttempts {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt) * retryBackoff):
			}
		}
	}
	return fmt.Errorf("after %d attempts: %w", e.maxAttempts, lastErr)
}

// snapshot reads the observed grouping with a bounded timeout.
func (e *Engine) snapshot(ctx context.Context) ([]snapcast.GroupMembership, error) {
	callCtx, cancel := context.WithTimeout(ctx, e.adapterTimeout)
	defer cancel()

	snapshot, err := e.adapter.GroupSnapshot(callCtx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSnapshotUnavailable, err)
	}
	return snapshot, nil
}

// zoneGroupSpread maps group ID to the zone members observed inside it.
// Members unknown to the server are skipped; they cannot be moved.
func (e *Engine) zoneGroupSpread(zone *topology.Zone, groupOf map[string]string) map[string][]string {
	spread := make(map[string][]string)
	for _, memberIndex := range zone.Members {
		client, err := e.store.GetClient(memberIndex)
		if err != nil || client.SnapcastID == "" {
			continue
		}
		groupID, ok := groupOf[client.SnapcastID]
		if !ok {
			continue
		}
		spread[groupID] = append(spread[groupID], client.SnapcastID)
	}
	for _, ids := range spread {
		sort.Strings(ids)
	}
	return spread
}

// knownClientIDs returns the set of configured snapcast client IDs.
func (e *Engine) knownClientIDs() map[string]struct{} {
	clients := e.store.AllClients()
	known := make(map[string]struct{}, len(clients))
	for _, client := range clients {
		if client.SnapcastID != "" {
			known[client.SnapcastID] = struct{}{}
		}
	}
	return known
}

// recordBinding writes the observed group binding into the zone through
// the command pipeline. No-op when the binding is unchanged; the store
// diff suppresses it.
func (e *Engine) recordBinding(ctx context.Context, zoneIndex int, groupID string) {
	if e.dispatcher == nil || groupID == "" {
		return
	}
	zone, err := e.store.GetZone(zoneIndex)
	if err != nil || zone.GroupID == groupID {
		return
	}

	cmd := command.New(command.TargetZone, zoneIndex, command.OpSetGroupID,
		map[string]any{"group_id": groupID}, command.SourceInternal)
	if result := e.dispatcher.Dispatch(ctx, cmd); !result.OK {
		e.logger.Warn("recording group binding failed",
			"zone", zoneIndex,
			"group", groupID,
			"error", result.Err,
		)
	}
}

func (e *Engine) setRunning(running bool) {
	e.statusMu.Lock()
	e.status.Running = running
	e.statusMu.Unlock()
}

func (e *Engine) recordPass(report Report) {
	e.statusMu.Lock()
	defer e.statusMu.Unlock()
	e.status.LastRunAt = report.FinishedAt
	e.status.LastRunConverged = report.Converged()
	e.status.TotalRuns++
	e.status.TotalMoves += uint64(report.Moves())
	if report.Converged() {
		e.status.LastError = ""
		e.status.ConsecutiveFailures = 0
	} else {
		e.status.LastError = "one or more zones not repaired"
		e.status.ConsecutiveFailures++
	}
}

func (e *Engine) recordFailure(err error) {
	e.statusMu.Lock()
	defer e.statusMu.Unlock()
	e.status.LastError = err.Error()
	e.status.ConsecutiveFailures++
}

// chooseTargetGroup picks the group holding the most zone members,
// breaking ties toward the lowest group ID.
func chooseTargetGroup(groups map[string][]string) string {
	best := ""
	bestCount := -1
	for groupID, clientIDs := range groups {
		switch {
		case len(clientIDs) > bestCount:
			best, bestCount = groupID, len(clientIDs)
		case len(clientIDs) == bestCount && groupID < best:
			best = groupID
		}
	}
	return best
}

// clientGroupIndex flattens a snapshot into clientID → groupID.
func clientGroupIndex(snapshot []snapcast.GroupMembership) map[string]string {
	index := make(map[string]string)
	for _, group := range snapshot {
		for _, clientID := range group.ClientIDs {
			index[clientID] = group.GroupID
		}
	}
	return index
}

// singleKey returns the only key of a one-entry map.
func singleKey(m map[string][]string) string {
	for k := range m {
		return k
	}
	return ""
}

func sortedZoneIndices(zones map[int]*topology.Zone) []int {
	indices := make([]int, 0, len(zones))
	for idx := range zones {
		indices = append(indices, idx)
	}
	sort.Ints(indices)
	return indices
}

func sortedRepairIndices(repairs map[int]*ZoneRepair) []int {
	indices := make([]int, 0, len(repairs))
	for idx := range repairs {
		indices = append(indices, idx)
	}
	sort.Ints(indices)
	return indices
}

// dedupeSorted sorts ids and drops duplicates. A client moved again on
// a later sweep appears once in the repair record.
func dedupeSorted(ids []string) []string {
	if len(ids) < 2 {
		return ids
	}
	sort.Strings(ids)
	kept := ids[:1]
	for _, id := range ids[1:] {
		if id != kept[len(kept)-1] {
			kept = append(kept, id)
		}
	}
	return kept
}
