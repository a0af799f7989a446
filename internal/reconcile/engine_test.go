package reconcile

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/gray-audio-core/internal/command"
	"github.com/nerrad567/gray-audio-core/internal/snapcast"
	"github.com/nerrad567/gray-audio-core/internal/topology"
)

// fakeAdapter simulates the grouping server in memory. Moves mutate the
// held grouping so subsequent snapshots observe them, like the real
// server would.
type fakeAdapter struct {
	mu     sync.Mutex
	groups map[string][]string

	snapshotErr error
	// failMoves maps clientID to the number of times a move for it
	// fails before succeeding.
	failMoves map[string]int
	// ackOnly lists clients whose moves are acknowledged but never
	// applied, simulating a server that reverts them straight away.
	ackOnly   map[string]struct{}
	moveCalls []string
}

func newFakeAdapter(groups map[string][]string) *fakeAdapter {
	copied := make(map[string][]string, len(groups))
	for id, members := range groups {
		copied[id] = append([]string(nil), members...)
	}
	return &fakeAdapter{
		groups:    copied,
		failMoves: make(map[string]int),
		ackOnly:   make(map[string]struct{}),
	}
}

func (f *fakeAdapter) GroupSnapshot(context.Context) ([]snapcast.GroupMembership, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.snapshotErr != nil {
		return nil, f.snapshotErr
	}
	snapshot := make([]snapcast.GroupMembership, 0, len(f.groups))
	for id, members := range f.groups {
		snapshot = append(snapshot, snapcast.GroupMembership{
			GroupID:   id,
			ClientIDs: append([]string(nil), members...),
		})
	}
	return snapshot, nil
}

func (f *fakeAdapter) MoveClientToGroup(_ context.Context, clientID, groupID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.moveCalls = append(f.moveCalls, clientID+"->"+groupID)
	if remaining := f.failMoves[clientID]; remaining > 0 {
		f.failMoves[clientID] = remaining - 1
		return snapcast.ErrRequestTimeout
	}
	if _, ok := f.ackOnly[clientID]; ok {
		return nil
	}

	for id, members := range f.groups {
		kept := members[:0]
		for _, m := range members {
			if m != clientID {
				kept = append(kept, m)
			}
		}
		f.groups[id] = kept
	}
	f.groups[groupID] = append(f.groups[groupID], clientID)
	return nil
}

func (f *fakeAdapter) moveCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.moveCalls)
}

// clientCount returns the total clients across all groups, to assert
// that repairs conserve clients.
func (f *fakeAdapter) clientCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	total := 0
	for _, members := range f.groups {
		total += len(members)
	}
	return total
}

func (f *fakeAdapter) membersOf(groupID string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.groups[groupID]...)
}

// newTestStore builds zone 1 with clients snap-1, snap-2, snap-3 and
// zone 2 with snap-4.
func newTestStore(t *testing.T) *topology.Store {
	t.Helper()
	store := topology.NewStore()

	zones := []*topology.Zone{
		{Name: "Living Room", Volume: 40, Members: []int{1, 2, 3}},
		{Name: "Kitchen", Volume: 30, Members: []int{4}},
	}
	for i, z := range zones {
		if err := store.InitializeZoneState(i+1, z); err != nil {
			t.Fatalf("init zone: %v", err)
		}
	}
	for i := 1; i <= 4; i++ {
		client := &topology.Client{
			Name:       "client",
			SnapcastID: "snap-" + string(rune('0'+i)),
			Volume:     40,
			ZoneIndex:  1,
		}
		if i == 4 {
			client.ZoneIndex = 2
		}
		if err := store.InitializeClientState(i, client); err != nil {
			t.Fatalf("init client: %v", err)
		}
	}
	return store
}

func newTestEngine(t *testing.T, adapter GroupingAdapter) (*Engine, *topology.Store) {
	t.Helper()
	store := newTestStore(t)
	engine := NewEngine(store, adapter, Options{
		Interval:       time.Minute,
		MaxAttempts:    3,
		AdapterTimeout: time.Second,
	})
	return engine, store
}

func TestValidateHealthyTopology(t *testing.T) {
	adapter := newFakeAdapter(map[string][]string{
		"g-a": {"snap-1", "snap-2", "snap-3"},
		"g-b": {"snap-4"},
	})
	engine, _ := newTestEngine(t, adapter)

	report, err := engine.Validate(context.Background())
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if !report.Healthy() {
		t.Errorf("expected healthy, got faults %+v", report.Faults)
	}
	if report.ZoneCount != 2 {
		t.Errorf("zone count = %d, want 2", report.ZoneCount)
	}
}

func TestValidateMergedZonesAreHealthy(t *testing.T) {
	// Both zones share one group: each zone's members are together, so
	// no fault even though the group holds foreign clients.
	adapter := newFakeAdapter(map[string][]string{
		"g-merged": {"snap-1", "snap-2", "snap-3", "snap-4"},
	})
	engine, _ := newTestEngine(t, adapter)

	report, err := engine.Validate(context.Background())
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if !report.Healthy() {
		t.Errorf("merged zones flagged as fault: %+v", report.Faults)
	}
}

func TestValidateDetectsSplitZone(t *testing.T) {
	adapter := newFakeAdapter(map[string][]string{
		"g-a": {"snap-1", "snap-2"},
		"g-b": {"snap-3", "snap-4"},
	})
	engine, _ := newTestEngine(t, adapter)

	report, err := engine.Validate(context.Background())
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if len(report.Faults) != 1 {
		t.Fatalf("faults = %d, want 1", len(report.Faults))
	}
	fault := report.Faults[0]
	if fault.ZoneIndex != 1 {
		t.Errorf("faulted zone = %d, want 1", fault.ZoneIndex)
	}
	if fault.GroupCount() != 2 {
		t.Errorf("group count = %d, want 2", fault.GroupCount())
	}
}

func TestValidateReportsUnassignedClients(t *testing.T) {
	adapter := newFakeAdapter(map[string][]string{
		"g-a": {"snap-1", "snap-2", "snap-3", "snap-4", "snap-rogue"},
	})
	engine, _ := newTestEngine(t, adapter)

	report, err := engine.Validate(context.Background())
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if len(report.Unassigned) != 1 || report.Unassigned[0] != "snap-rogue" {
		t.Errorf("unassigned = %v, want [snap-rogue]", report.Unassigned)
	}
	if !report.Healthy() {
		t.Error("unassigned client must not fault a zone")
	}
}

func TestReconcileRepairsSplitZone(t *testing.T) {
	// snap-3 drifted into g-b; the majority sits in g-a, so snap-3 is
	// pulled back there.
	adapter := newFakeAdapter(map[string][]string{
		"g-a": {"snap-1", "snap-2"},
		"g-b": {"snap-3", "snap-4"},
	})
	engine, _ := newTestEngine(t, adapter)

	report, err := engine.Reconcile(context.Background())
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if report.Faulted != 1 {
		t.Errorf("faulted = %d, want 1", report.Faulted)
	}
	if !report.Converged() {
		t.Fatalf("pass did not converge: %+v", report.Repairs)
	}
	if report.Moves() != 1 {
		t.Errorf("moves = %d, want 1", report.Moves())
	}

	members := adapter.membersOf("g-a")
	if len(members) != 3 {
		t.Errorf("g-a members = %v, want 3 clients", members)
	}
	if adapter.clientCount() != 4 {
		t.Errorf("client count = %d, want 4 (moves must conserve clients)", adapter.clientCount())
	}

	// Follow-up validation is clean.
	validation, err := engine.Validate(context.Background())
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if !validation.Healthy() {
		t.Errorf("still faulted after repair: %+v", validation.Faults)
	}
}

func TestReconcileIsIdempotent(t *testing.T) {
	adapter := newFakeAdapter(map[string][]string{
		"g-a": {"snap-1"},
		"g-b": {"snap-2", "snap-3"},
		"g-c": {"snap-4"},
	})
	engine, _ := newTestEngine(t, adapter)
	ctx := context.Background()

	first, err := engine.Reconcile(ctx)
	if err != nil {
		t.Fatalf("first pass: %v", err)
	}
	if first.Moves() == 0 {
		t.Fatal("first pass should have moved clients")
	}

	second, err := engine.Reconcile(ctx)
	if err != nil {
		t.Fatalf("second pass: %v", err)
	}
	if second.Faulted != 0 || second.Moves() != 0 {
		t.Errorf("second pass not a no-op: faulted=%d moves=%d", second.Faulted, second.Moves())
	}
}

func TestReconcileTargetGroupSelection(t *testing.T) {
	tests := []struct {
		name   string
		groups map[string][]string
		want   string
	}{
		{
			name: "largest subset wins",
			groups: map[string][]string{
				"g-big":   {"snap-1", "snap-2"},
				"g-small": {"snap-3"},
			},
			want: "g-big",
		},
		{
			name: "tie breaks to lowest group id",
			groups: map[string][]string{
				"g-b": {"snap-2"},
				"g-a": {"snap-1"},
				"g-c": {"snap-3"},
			},
			want: "g-a",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := chooseTargetGroup(tt.groups); got != tt.want {
				t.Errorf("chooseTargetGroup = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestReconcileSnapshotFailureIsTransient(t *testing.T) {
	adapter := newFakeAdapter(nil)
	adapter.snapshotErr = snapcast.ErrNotConnected
	engine, _ := newTestEngine(t, adapter)

	_, err := engine.Reconcile(context.Background())
	if !errors.Is(err, ErrSnapshotUnavailable) {
		t.Fatalf("error = %v, want ErrSnapshotUnavailable", err)
	}
	if adapter.moveCount() != 0 {
		t.Error("no moves may be issued when the snapshot fails")
	}

	status := engine.Status()
	if status.ConsecutiveFailures != 1 {
		t.Errorf("consecutive failures = %d, want 1", status.ConsecutiveFailures)
	}
}

func TestReconcileRetriesTransientMoveFailure(t *testing.T) {
	adapter := newFakeAdapter(map[string][]string{
		"g-a": {"snap-1", "snap-2"},
		"g-b": {"snap-3", "snap-4"},
	})
	// First two attempts fail, third succeeds: within the budget of 3.
	adapter.failMoves["snap-3"] = 2
	engine, _ := newTestEngine(t, adapter)

	report, err := engine.Reconcile(context.Background())
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if !report.Converged() {
		t.Fatalf("pass did not converge: %+v", report.Repairs)
	}
	if adapter.moveCount() != 3 {
		t.Errorf("move calls = %d, want 3 (two failures plus success)", adapter.moveCount())
	}
}

func TestReconcileGivesUpAfterRetryBudget(t *testing.T) {
	adapter := newFakeAdapter(map[string][]string{
		"g-a": {"snap-1", "snap-2"},
		"g-b": {"snap-3", "snap-4"},
	})
	adapter.failMoves["snap-3"] = 10
	engine, _ := newTestEngine(t, adapter)

	report, err := engine.Reconcile(context.Background())
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if report.Converged() {
		t.Fatal("pass should not converge when moves keep failing")
	}
	if adapter.moveCount() != 3 {
		t.Errorf("move calls = %d, want exactly the retry budget of 3", adapter.moveCount())
	}

	repair := report.Repairs[0]
	if !errors.Is(repair.Err, ErrZoneNotRepairable) {
		t.Errorf("repair error = %v, want ErrZoneNotRepairable", repair.Err)
	}
	if len(repair.Failed) != 1 || repair.Failed[0] != "snap-3" {
		t.Errorf("failed clients = %v, want [snap-3]", repair.Failed)
	}
}

func TestReconcileDetectsRevertedMoves(t *testing.T) {
	// The server acknowledges each move but snaps snap-3 straight back
	// to g-b. Re-checking against a fresh snapshot must expose this as
	// a residual fault instead of claiming convergence.
	adapter := newFakeAdapter(map[string][]string{
		"g-a": {"snap-1", "snap-2"},
		"g-b": {"snap-3", "snap-4"},
	})
	adapter.ackOnly["snap-3"] = struct{}{}
	engine, _ := newTestEngine(t, adapter)

	report, err := engine.Reconcile(context.Background())
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if report.Converged() {
		t.Fatal("pass must not converge while the zone stays split")
	}
	if report.Faulted != 1 {
		t.Errorf("faulted = %d, want 1", report.Faulted)
	}
	if len(report.Repairs) != 1 {
		t.Fatalf("repairs = %d, want 1", len(report.Repairs))
	}
	if !errors.Is(report.Repairs[0].Err, ErrZoneNotRepairable) {
		t.Errorf("repair error = %v, want ErrZoneNotRepairable", report.Repairs[0].Err)
	}
	// One acked move per repair attempt, bounded by the budget.
	if adapter.moveCount() != 3 {
		t.Errorf("move calls = %d, want 3", adapter.moveCount())
	}

	validation, err := engine.Validate(context.Background())
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if validation.Healthy() {
		t.Error("follow-up validation must still show the split")
	}
}

func TestReconcileSerialisesConcurrentPasses(t *testing.T) {
	adapter := newFakeAdapter(map[string][]string{
		"g-a": {"snap-1", "snap-2"},
		"g-b": {"snap-3", "snap-4"},
	})
	engine, _ := newTestEngine(t, adapter)

	const callers = 8
	errs := make([]error, callers)
	var wg sync.WaitGroup
	wg.Add(callers)
	for i := 0; i < callers; i++ {
		go func(i int) {
			defer wg.Done()
			_, errs[i] = engine.Reconcile(context.Background())
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Errorf("caller %d: %v", i, err)
		}
	}
	if adapter.clientCount() != 4 {
		t.Errorf("client count = %d, want 4 (moves must conserve clients)", adapter.clientCount())
	}

	validation, err := engine.Validate(context.Background())
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if !validation.Healthy() {
		t.Errorf("topology not cohesive after concurrent passes: %+v", validation.Faults)
	}
}

func TestReconcileIgnoresEmptyGroups(t *testing.T) {
	// A group whose clients all moved elsewhere stays in the snapshot
	// with no members. It must not fault anything or break the pass.
	adapter := newFakeAdapter(map[string][]string{
		"g-a":     {"snap-1", "snap-2", "snap-3"},
		"g-b":     {"snap-4"},
		"g-empty": {},
	})
	engine, store := newTestEngine(t, adapter)

	report, err := engine.Reconcile(context.Background())
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if report.Faulted != 0 || report.Moves() != 0 {
		t.Errorf("empty group treated as fault: faulted=%d moves=%d", report.Faulted, report.Moves())
	}
	if got := store.ClientCount(); got != 4 {
		t.Errorf("client count = %d, want 4", got)
	}

	validation, err := engine.Validate(context.Background())
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if !validation.Healthy() {
		t.Errorf("faults after pass: %+v", validation.Faults)
	}
}

func TestReconcileZoneFailureIsolation(t *testing.T) {
	// Zone 1 split between g-a and g-b with an unmovable client; zone 2
	// split between g-c and g-d and repairable. Zone 2 must still
	// converge.
	store := topology.NewStore()
	zones := []*topology.Zone{
		{Name: "Living Room", Volume: 40, Members: []int{1, 2}},
		{Name: "Kitchen", Volume: 30, Members: []int{3, 4}},
	}
	for i, z := range zones {
		if err := store.InitializeZoneState(i+1, z); err != nil {
			t.Fatalf("init zone: %v", err)
		}
	}
	for i := 1; i <= 4; i++ {
		zoneIdx := 1
		if i > 2 {
			zoneIdx = 2
		}
		err := store.InitializeClientState(i, &topology.Client{
			Name:       "client",
			SnapcastID: "snap-" + string(rune('0'+i)),
			Volume:     40,
			ZoneIndex:  zoneIdx,
		})
		if err != nil {
			t.Fatalf("init client: %v", err)
		}
	}

	adapter := newFakeAdapter(map[string][]string{
		"g-a": {"snap-1"},
		"g-b": {"snap-2"},
		"g-c": {"snap-3"},
		"g-d": {"snap-4"},
	})
	adapter.failMoves["snap-2"] = 10

	engine := NewEngine(store, adapter, Options{MaxAttempts: 3, AdapterTimeout: time.Second})
	report, err := engine.Reconcile(context.Background())
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}

	if report.Faulted != 2 {
		t.Fatalf("faulted = %d, want 2", report.Faulted)
	}

	var zone1, zone2 *ZoneRepair
	for i := range report.Repairs {
		switch report.Repairs[i].ZoneIndex {
		case 1:
			zone1 = &report.Repairs[i]
		case 2:
			zone2 = &report.Repairs[i]
		}
	}
	if zone1 == nil || zone2 == nil {
		t.Fatalf("missing repairs: %+v", report.Repairs)
	}
	if zone1.Repaired() {
		t.Error("zone 1 should have failed")
	}
	if !zone2.Repaired() {
		t.Errorf("zone 2 should have converged despite zone 1: %+v", zone2)
	}
}

type recordingDispatcher struct {
	mu   sync.Mutex
	cmds []command.Command
}

func (r *recordingDispatcher) Dispatch(_ context.Context, cmd command.Command) command.Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cmds = append(r.cmds, cmd)
	return command.Success(nil)
}

func TestReconcileRecordsGroupBinding(t *testing.T) {
	adapter := newFakeAdapter(map[string][]string{
		"g-a": {"snap-1", "snap-2", "snap-3"},
		"g-b": {"snap-4"},
	})
	engine, _ := newTestEngine(t, adapter)
	dispatcher := &recordingDispatcher{}
	engine.SetDispatcher(dispatcher)

	if _, err := engine.Reconcile(context.Background()); err != nil {
		t.Fatalf("reconcile: %v", err)
	}

	dispatcher.mu.Lock()
	defer dispatcher.mu.Unlock()
	if len(dispatcher.cmds) != 2 {
		t.Fatalf("binding commands = %d, want 2", len(dispatcher.cmds))
	}
	for _, cmd := range dispatcher.cmds {
		if cmd.Operation != command.OpSetGroupID {
			t.Errorf("operation = %s, want %s", cmd.Operation, command.OpSetGroupID)
		}
		if cmd.Source != command.SourceInternal {
			t.Errorf("source = %s, want internal", cmd.Source)
		}
	}
}

func TestSynchronizeZoneRepairsOnlyTarget(t *testing.T) {
	adapter := newFakeAdapter(map[string][]string{
		"g-a": {"snap-1", "snap-2"},
		"g-b": {"snap-3", "snap-4"},
	})
	engine, _ := newTestEngine(t, adapter)

	repair, err := engine.SynchronizeZone(context.Background(), 1)
	if err != nil {
		t.Fatalf("synchronize: %v", err)
	}
	if !repair.Repaired() {
		t.Fatalf("zone 1 not repaired: %+v", repair)
	}
	if repair.TargetGroup != "g-a" {
		t.Errorf("target = %q, want g-a", repair.TargetGroup)
	}
}

func TestSynchronizeZoneUnknownZone(t *testing.T) {
	engine, _ := newTestEngine(t, newFakeAdapter(nil))
	if _, err := engine.SynchronizeZone(context.Background(), 99); !errors.Is(err, topology.ErrZoneNotFound) {
		t.Errorf("error = %v, want ErrZoneNotFound", err)
	}
}

func TestRunHonoursTriggeredSync(t *testing.T) {
	adapter := newFakeAdapter(map[string][]string{
		"g-a": {"snap-1", "snap-2"},
		"g-b": {"snap-3", "snap-4"},
	})
	engine, _ := newTestEngine(t, adapter)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = engine.Run(ctx)
	}()

	// The initial pass already repairs; the trigger exercises the queue
	// path without waiting for a tick.
	engine.TriggerZoneSync(1)

	deadline := time.After(3 * time.Second)
	for {
		report, err := engine.Validate(context.Background())
		if err == nil && report.Healthy() {
			break
		}
		select {
		case <-deadline:
			t.Fatal("engine never converged")
		case <-time.After(20 * time.Millisecond):
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop on cancel")
	}
}
