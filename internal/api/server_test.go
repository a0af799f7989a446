package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/nerrad567/gray-audio-core/internal/command"
	"github.com/nerrad567/gray-audio-core/internal/infrastructure/config"
	"github.com/nerrad567/gray-audio-core/internal/infrastructure/logging"
	"github.com/nerrad567/gray-audio-core/internal/reconcile"
	"github.com/nerrad567/gray-audio-core/internal/topology"
)

// stubDispatcher returns a canned result and records the last command.
type stubDispatcher struct {
	result  command.Result
	lastCmd command.Command
}

func (d *stubDispatcher) Dispatch(_ context.Context, cmd command.Command) command.Result {
	d.lastCmd = cmd
	return d.result
}

// stubReconciler returns canned reports and errors.
type stubReconciler struct {
	validation    reconcile.ValidationReport
	validationErr error
	report        reconcile.Report
	reportErr     error
	repair        reconcile.ZoneRepair
	repairErr     error
	syncedZone    int
	status        reconcile.Status
}

func (r *stubReconciler) Validate(_ context.Context) (reconcile.ValidationReport, error) {
	return r.validation, r.validationErr
}

func (r *stubReconciler) Reconcile(_ context.Context) (reconcile.Report, error) {
	return r.report, r.reportErr
}

func (r *stubReconciler) SynchronizeZone(_ context.Context, zoneIndex int) (reconcile.ZoneRepair, error) {
	r.syncedZone = zoneIndex
	return r.repair, r.repairErr
}

func (r *stubReconciler) Status() reconcile.Status {
	return r.status
}

func testLogger() *logging.Logger {
	return logging.New(config.LoggingConfig{Level: "error", Format: "text"}, "test")
}

func testStore(t *testing.T) *topology.Store {
	t.Helper()
	store := topology.NewStore()

	zones := []*topology.Zone{
		{Index: 1, Name: "Kitchen", Volume: 40, Members: []int{1}},
		{Index: 2, Name: "Lounge", Volume: 55, Playing: true, Members: []int{2}},
	}
	for _, z := range zones {
		if err := store.InitializeZoneState(z.Index, z); err != nil {
			t.Fatalf("seed zone %d: %v", z.Index, err)
		}
	}

	clients := []*topology.Client{
		{Index: 1, SnapcastID: "aa:bb:cc:dd:ee:01", Name: "kitchen-pi", Connected: true, ZoneIndex: 1},
		{Index: 2, SnapcastID: "aa:bb:cc:dd:ee:02", Name: "lounge-pi", Connected: true, ZoneIndex: 2},
	}
	for _, c := range clients {
		if err := store.InitializeClientState(c.Index, c); err != nil {
			t.Fatalf("seed client %d: %v", c.Index, err)
		}
	}
	return store
}

// newTestServer builds a server around stubs and returns a running
// httptest server plus the dispatcher for command assertions.
func newTestServer(t *testing.T, rec Reconciler) (*httptest.Server, *stubDispatcher) {
	t.Helper()

	dispatcher := &stubDispatcher{result: command.Success(map[string]any{"volume": 55})}
	srv, err := New(Deps{
		Config:     config.APIConfig{},
		WS:         config.WebSocketConfig{MaxMessageSize: 4096, PingInterval: 30, PongTimeout: 10},
		Logger:     testLogger(),
		Store:      testStore(t),
		Dispatcher: dispatcher,
		Reconciler: rec,
		Version:    "test",
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	srv.startedAt = time.Now()
	srv.hub = NewHub(srv.wsCfg, srv.logger)
	ctx, cancel := context.WithCancel(context.Background())
	go srv.hub.Run(ctx)
	t.Cleanup(cancel)

	ts := httptest.NewServer(srv.buildRouter())
	t.Cleanup(ts.Close)
	return ts, dispatcher
}

func getJSON(t *testing.T, url string, wantStatus int, out any) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != wantStatus {
		t.Fatalf("GET %s status = %d, want %d", url, resp.StatusCode, wantStatus)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode response: %v", err)
		}
	}
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	resp, err := http.Post(url, "application/json", &buf)
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	return resp
}

func TestHealth(t *testing.T) {
	ts, _ := newTestServer(t, nil)

	var body map[string]any
	getJSON(t, ts.URL+"/api/v1/health", http.StatusOK, &body)

	if body["status"] != "ok" {
		t.Errorf("status = %v, want ok", body["status"])
	}
	if body["version"] != "test" {
		t.Errorf("version = %v, want test", body["version"])
	}
}

func TestSystem(t *testing.T) {
	rec := &stubReconciler{status: reconcile.Status{TotalRuns: 3, LastRunConverged: true}}
	ts, _ := newTestServer(t, rec)

	var body map[string]any
	getJSON(t, ts.URL+"/api/v1/system", http.StatusOK, &body)

	if body["zones"] != float64(2) {
		t.Errorf("zones = %v, want 2", body["zones"])
	}
	if body["clients"] != float64(2) {
		t.Errorf("clients = %v, want 2", body["clients"])
	}
	if _, ok := body["reconcile"]; !ok {
		t.Error("expected reconcile status in system response")
	}
}

func TestListZones(t *testing.T) {
	ts, _ := newTestServer(t, nil)

	var body struct {
		Zones []topology.Zone `json:"zones"`
		Count int             `json:"count"`
	}
	getJSON(t, ts.URL+"/api/v1/zones", http.StatusOK, &body)

	if body.Count != 2 {
		t.Fatalf("count = %d, want 2", body.Count)
	}
	if body.Zones[0].Index != 1 || body.Zones[1].Index != 2 {
		t.Errorf("zones not ordered by index: %d, %d", body.Zones[0].Index, body.Zones[1].Index)
	}
	if body.Zones[1].Name != "Lounge" {
		t.Errorf("zone 2 name = %q, want Lounge", body.Zones[1].Name)
	}
}

func TestGetZone(t *testing.T) {
	ts, _ := newTestServer(t, nil)

	var zone topology.Zone
	getJSON(t, ts.URL+"/api/v1/zones/2", http.StatusOK, &zone)

	if zone.Name != "Lounge" || !zone.Playing {
		t.Errorf("unexpected zone: %+v", zone)
	}
}

func TestGetZoneNotFound(t *testing.T) {
	ts, _ := newTestServer(t, nil)

	var apiErr Error
	getJSON(t, ts.URL+"/api/v1/zones/99", http.StatusNotFound, &apiErr)

	if apiErr.Code != ErrCodeNotFound {
		t.Errorf("code = %q, want %q", apiErr.Code, ErrCodeNotFound)
	}
}

func TestGetZoneBadIndex(t *testing.T) {
	ts, _ := newTestServer(t, nil)

	for _, raw := range []string{"0", "-1", "abc"} {
		getJSON(t, ts.URL+"/api/v1/zones/"+raw, http.StatusBadRequest, nil)
	}
}

func TestListClients(t *testing.T) {
	ts, _ := newTestServer(t, nil)

	var body struct {
		Clients []struct {
			topology.Client
			Zone int `json:"zone"`
		} `json:"clients"`
		Count int `json:"count"`
	}
	getJSON(t, ts.URL+"/api/v1/clients", http.StatusOK, &body)

	if body.Count != 2 {
		t.Fatalf("count = %d, want 2", body.Count)
	}
	if body.Clients[0].Zone != 1 {
		t.Errorf("client 1 zone = %d, want 1", body.Clients[0].Zone)
	}
}

func TestGetClientNotFound(t *testing.T) {
	ts, _ := newTestServer(t, nil)
	getJSON(t, ts.URL+"/api/v1/clients/7", http.StatusNotFound, nil)
}

func TestZoneCommandSuccess(t *testing.T) {
	ts, dispatcher := newTestServer(t, nil)

	resp := postJSON(t, ts.URL+"/api/v1/zones/1/commands/set_volume", map[string]any{"volume": 55})
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body["correlation_id"] == "" || body["correlation_id"] == nil {
		t.Error("expected correlation_id in response")
	}

	cmd := dispatcher.lastCmd
	if cmd.TargetKind != command.TargetZone || cmd.TargetIndex != 1 {
		t.Errorf("target = %s/%d, want zone/1", cmd.TargetKind, cmd.TargetIndex)
	}
	if cmd.Operation != command.OpSetVolume {
		t.Errorf("operation = %q, want %q", cmd.Operation, command.OpSetVolume)
	}
	if cmd.Source != command.SourceAPI {
		t.Errorf("source = %q, want %q", cmd.Source, command.SourceAPI)
	}
	if cmd.Payload["volume"] != float64(55) {
		t.Errorf("payload volume = %v, want 55", cmd.Payload["volume"])
	}
}

func TestZoneCommandEmptyBody(t *testing.T) {
	ts, dispatcher := newTestServer(t, nil)

	resp := postJSON(t, ts.URL+"/api/v1/zones/1/commands/set_mute", nil)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if dispatcher.lastCmd.Payload == nil {
		t.Error("expected empty payload map, got nil")
	}
}

func TestClientCommandTargetsClient(t *testing.T) {
	ts, dispatcher := newTestServer(t, nil)

	resp := postJSON(t, ts.URL+"/api/v1/clients/2/commands/set_latency", map[string]any{"latency_ms": 40})
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if dispatcher.lastCmd.TargetKind != command.TargetClient || dispatcher.lastCmd.TargetIndex != 2 {
		t.Errorf("target = %s/%d, want client/2",
			dispatcher.lastCmd.TargetKind, dispatcher.lastCmd.TargetIndex)
	}
}

func TestCommandFailureMapping(t *testing.T) {
	tests := []struct {
		name       string
		kind       command.FailureKind
		wantStatus int
		wantCode   string
	}{
		{"validation", command.FailureValidation, http.StatusBadRequest, ErrCodeBadRequest},
		{"transient", command.FailureTransient, http.StatusBadGateway, ErrCodeUnavailable},
		{"cancelled", command.FailureCancelled, http.StatusGatewayTimeout, ErrCodeTimeout},
		{"internal", command.FailureInternal, http.StatusInternalServerError, ErrCodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts, dispatcher := newTestServer(t, nil)
			dispatcher.result = command.Failure(tt.kind, fmt.Errorf("%s failure", tt.name))

			resp := postJSON(t, ts.URL+"/api/v1/zones/1/commands/set_volume", map[string]any{"volume": 55})
			defer resp.Body.Close()

			if resp.StatusCode != tt.wantStatus {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tt.wantStatus)
			}

			var apiErr Error
			if err := json.NewDecoder(resp.Body).Decode(&apiErr); err != nil {
				t.Fatalf("decode error response: %v", err)
			}
			if apiErr.Code != tt.wantCode {
				t.Errorf("code = %q, want %q", apiErr.Code, tt.wantCode)
			}
		})
	}
}

func TestCommandMalformedBody(t *testing.T) {
	ts, _ := newTestServer(t, nil)

	resp, err := http.Post(ts.URL+"/api/v1/zones/1/commands/set_volume",
		"application/json", bytes.NewBufferString("{not json"))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestGroupingValidate(t *testing.T) {
	rec := &stubReconciler{
		validation: reconcile.ValidationReport{
			CheckedAt: time.Now(),
			ZoneCount: 2,
		},
	}
	ts, _ := newTestServer(t, rec)

	var report reconcile.ValidationReport
	getJSON(t, ts.URL+"/api/v1/grouping/validate", http.StatusOK, &report)

	if report.ZoneCount != 2 {
		t.Errorf("zone_count = %d, want 2", report.ZoneCount)
	}
	if !report.Healthy() {
		t.Error("expected healthy report")
	}
}

func TestGroupingValidateSnapshotUnavailable(t *testing.T) {
	rec := &stubReconciler{
		validationErr: fmt.Errorf("%w: dial tcp: refused", reconcile.ErrSnapshotUnavailable),
	}
	ts, _ := newTestServer(t, rec)

	getJSON(t, ts.URL+"/api/v1/grouping/validate", http.StatusServiceUnavailable, nil)
}

func TestGroupingWithoutReconciler(t *testing.T) {
	ts, _ := newTestServer(t, nil)

	getJSON(t, ts.URL+"/api/v1/grouping/validate", http.StatusServiceUnavailable, nil)
	getJSON(t, ts.URL+"/api/v1/grouping/status", http.StatusServiceUnavailable, nil)

	resp := postJSON(t, ts.URL+"/api/v1/grouping/reconcile", nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("reconcile status = %d, want 503", resp.StatusCode)
	}
}

func TestGroupingReconcile(t *testing.T) {
	rec := &stubReconciler{
		report: reconcile.Report{
			StartedAt:  time.Now().Add(-time.Second),
			FinishedAt: time.Now(),
			ZoneCount:  2,
			Faulted:    1,
			Repairs: []reconcile.ZoneRepair{
				{ZoneIndex: 1, TargetGroup: "g1", Moved: []string{"aa:bb:cc:dd:ee:01"}},
			},
		},
	}
	ts, _ := newTestServer(t, rec)

	resp := postJSON(t, ts.URL+"/api/v1/grouping/reconcile", nil)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var report reconcile.Report
	if err := json.NewDecoder(resp.Body).Decode(&report); err != nil {
		t.Fatalf("decode report: %v", err)
	}
	if report.Faulted != 1 || len(report.Repairs) != 1 {
		t.Errorf("unexpected report: %+v", report)
	}
}

func TestStatusEndpoint(t *testing.T) {
	// Health comes from a fresh cohesion check, not stored counters: a
	// clean validation reads healthy even when the last pass failed.
	rec := &stubReconciler{
		validation: reconcile.ValidationReport{ZoneCount: 2},
		status:     reconcile.Status{LastRunConverged: false, ConsecutiveFailures: 3},
	}
	ts, _ := newTestServer(t, rec)

	var body map[string]any
	getJSON(t, ts.URL+"/api/v1/status", http.StatusOK, &body)

	if body["overall_health"] != "healthy" {
		t.Errorf("overall_health = %v, want healthy", body["overall_health"])
	}
	if body["total_clients"] != float64(2) {
		t.Errorf("total_clients = %v, want 2", body["total_clients"])
	}
}

func TestStatusEndpointDegraded(t *testing.T) {
	rec := &stubReconciler{
		validation: reconcile.ValidationReport{
			ZoneCount: 2,
			Faults:    []reconcile.ZoneFault{{ZoneIndex: 1, ZoneName: "Living Room"}},
		},
	}
	ts, _ := newTestServer(t, rec)

	var body map[string]any
	getJSON(t, ts.URL+"/api/v1/status", http.StatusOK, &body)

	if body["overall_health"] != "degraded" {
		t.Errorf("overall_health = %v, want degraded", body["overall_health"])
	}
}

func TestStatusEndpointSnapshotUnavailable(t *testing.T) {
	rec := &stubReconciler{validationErr: reconcile.ErrSnapshotUnavailable}
	ts, _ := newTestServer(t, rec)

	getJSON(t, ts.URL+"/api/v1/status", http.StatusServiceUnavailable, nil)
}

func TestZoneVolumeAlias(t *testing.T) {
	ts, dispatcher := newTestServer(t, nil)

	body, err := json.Marshal(map[string]any{"volume": 70})
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	req, err := http.NewRequest(http.MethodPut, ts.URL+"/api/v1/zones/1/volume", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if dispatcher.lastCmd.Operation != command.OpSetVolume {
		t.Errorf("operation = %q, want %q", dispatcher.lastCmd.Operation, command.OpSetVolume)
	}
	if dispatcher.lastCmd.Payload["volume"] != float64(70) {
		t.Errorf("payload volume = %v, want 70", dispatcher.lastCmd.Payload["volume"])
	}
}

func TestAssignClient(t *testing.T) {
	ts, dispatcher := newTestServer(t, nil)

	resp := postJSON(t, ts.URL+"/api/v1/zones/1/clients/2", nil)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	cmd := dispatcher.lastCmd
	if cmd.Operation != command.OpAssignClient || cmd.TargetIndex != 1 {
		t.Errorf("got %s on zone %d, want %s on zone 1", cmd.Operation, cmd.TargetIndex, command.OpAssignClient)
	}
	if cmd.Payload["client"] != 2 {
		t.Errorf("payload client = %v, want 2", cmd.Payload["client"])
	}
}

func TestZoneSync(t *testing.T) {
	rec := &stubReconciler{
		repair: reconcile.ZoneRepair{ZoneIndex: 1, TargetGroup: "g1"},
	}
	ts, _ := newTestServer(t, rec)

	resp := postJSON(t, ts.URL+"/api/v1/zones/1/sync", nil)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if rec.syncedZone != 1 {
		t.Errorf("synced zone = %d, want 1", rec.syncedZone)
	}
}

func TestZoneSyncUnknownZone(t *testing.T) {
	ts, _ := newTestServer(t, &stubReconciler{})

	resp := postJSON(t, ts.URL+"/api/v1/zones/42/sync", nil)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestGroupingStatus(t *testing.T) {
	rec := &stubReconciler{
		status: reconcile.Status{TotalRuns: 12, TotalMoves: 4, LastRunConverged: true},
	}
	ts, _ := newTestServer(t, rec)

	var status reconcile.Status
	getJSON(t, ts.URL+"/api/v1/grouping/status", http.StatusOK, &status)

	if status.TotalRuns != 12 || status.TotalMoves != 4 {
		t.Errorf("unexpected status: %+v", status)
	}
}

func TestNewRequiresDependencies(t *testing.T) {
	base := Deps{
		Logger:     testLogger(),
		Store:      topology.NewStore(),
		Dispatcher: &stubDispatcher{},
	}

	tests := []struct {
		name   string
		mutate func(d *Deps)
	}{
		{"missing logger", func(d *Deps) { d.Logger = nil }},
		{"missing store", func(d *Deps) { d.Store = nil }},
		{"missing dispatcher", func(d *Deps) { d.Dispatcher = nil }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			deps := base
			tt.mutate(&deps)
			if _, err := New(deps); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}

func TestRequestIDPropagation(t *testing.T) {
	ts, _ := newTestServer(t, nil)

	req, err := http.NewRequest(http.MethodGet, ts.URL+"/api/v1/health", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("X-Request-ID", "req-abc-123")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer resp.Body.Close()

	if got := resp.Header.Get("X-Request-ID"); got != "req-abc-123" {
		t.Errorf("X-Request-ID = %q, want req-abc-123", got)
	}
}

func TestOversizedBodyRejected(t *testing.T) {
	ts, _ := newTestServer(t, nil)

	big := bytes.Repeat([]byte("a"), 2<<20)
	payload, err := json.Marshal(map[string]string{"name": string(big)})
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}

	resp, err := http.Post(ts.URL+"/api/v1/zones/1/commands/set_name",
		"application/json", bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		t.Error("expected oversized body to be rejected")
	}
}
