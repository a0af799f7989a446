package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/nerrad567/gray-audio-core/internal/infrastructure/config"
	"github.com/nerrad567/gray-audio-core/internal/topology"
)

// TestRun_InvalidConfig verifies run fails with invalid config path.
func TestRun_InvalidConfig(t *testing.T) {
	originalEnv := os.Getenv("GRAYAUDIO_CONFIG")
	defer os.Setenv("GRAYAUDIO_CONFIG", originalEnv)

	os.Setenv("GRAYAUDIO_CONFIG", "/nonexistent/path/config.yaml")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := run(ctx); err == nil {
		t.Fatal("run() should fail with invalid config path")
	}
}

// TestRun_MissingDatabasePath verifies run fails when the database path
// is invalid.
func TestRun_MissingDatabasePath(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "test-config.yaml")

	configContent := `
site:
  id: test-site

topology:
  zones:
    - name: Kitchen
      clients: [1]
  clients:
    - name: kitchen-pi
      mac: "aa:bb:cc:dd:ee:01"

snapcast:
  host: "127.0.0.1"
  port: 1705

database:
  path: ""
  wal_mode: true
  busy_timeout: 5

mqtt:
  enabled: false

influxdb:
  enabled: false

logging:
  level: error
  format: text
`
	if err := os.WriteFile(configPath, []byte(configContent), 0o600); err != nil {
		t.Fatalf("writing config: %v", err)
	}

	originalEnv := os.Getenv("GRAYAUDIO_CONFIG")
	defer os.Setenv("GRAYAUDIO_CONFIG", originalEnv)
	os.Setenv("GRAYAUDIO_CONFIG", configPath)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := run(ctx); err == nil {
		t.Fatal("run() should fail with empty database path")
	}
}

func TestGetConfigPath_Default(t *testing.T) {
	originalEnv := os.Getenv("GRAYAUDIO_CONFIG")
	defer os.Setenv("GRAYAUDIO_CONFIG", originalEnv)
	os.Unsetenv("GRAYAUDIO_CONFIG")

	if got := getConfigPath(); got != defaultConfigPath {
		t.Errorf("getConfigPath() = %q, want %q", got, defaultConfigPath)
	}
}

func TestGetConfigPath_EnvOverride(t *testing.T) {
	originalEnv := os.Getenv("GRAYAUDIO_CONFIG")
	defer os.Setenv("GRAYAUDIO_CONFIG", originalEnv)
	os.Setenv("GRAYAUDIO_CONFIG", "/custom/config.yaml")

	if got := getConfigPath(); got != "/custom/config.yaml" {
		t.Errorf("getConfigPath() = %q, want /custom/config.yaml", got)
	}
}

func TestSeedTopology(t *testing.T) {
	store := topology.NewStore()
	topo := config.TopologyConfig{
		Zones: []config.ZoneConfig{
			{Name: "Kitchen", Clients: []int{1}, StreamID: "radio"},
			{Name: "Lounge", Clients: []int{2, 3}},
		},
		Clients: []config.ClientConfig{
			{Name: "kitchen-pi", MAC: "aa:bb:cc:dd:ee:01"},
			{Name: "lounge-left", MAC: "aa:bb:cc:dd:ee:02", SnapcastID: "lounge-l"},
			{Name: "lounge-right", MAC: "aa:bb:cc:dd:ee:03", DefaultLatencyMS: 20},
		},
	}

	if err := seedTopology(store, topo); err != nil {
		t.Fatalf("seedTopology() error: %v", err)
	}

	if store.ZoneCount() != 2 || store.ClientCount() != 3 {
		t.Fatalf("counts = %d zones, %d clients, want 2/3",
			store.ZoneCount(), store.ClientCount())
	}

	zone, err := store.GetZone(1)
	if err != nil {
		t.Fatalf("GetZone(1): %v", err)
	}
	if zone.StreamID != "radio" || len(zone.Members) != 1 {
		t.Errorf("unexpected zone 1: %+v", zone)
	}

	// SnapcastID defaults to MAC when unset
	client, err := store.GetClient(1)
	if err != nil {
		t.Fatalf("GetClient(1): %v", err)
	}
	if client.SnapcastID != "aa:bb:cc:dd:ee:01" {
		t.Errorf("snapcast_id = %q, want MAC fallback", client.SnapcastID)
	}

	// Explicit SnapcastID preserved, zone assignment derived
	client, err = store.GetClient(2)
	if err != nil {
		t.Fatalf("GetClient(2): %v", err)
	}
	if client.SnapcastID != "lounge-l" {
		t.Errorf("snapcast_id = %q, want lounge-l", client.SnapcastID)
	}
	if client.ZoneIndex != 2 {
		t.Errorf("zone_index = %d, want 2", client.ZoneIndex)
	}

	client, err = store.GetClient(3)
	if err != nil {
		t.Fatalf("GetClient(3): %v", err)
	}
	if client.LatencyMS != 20 {
		t.Errorf("latency_ms = %d, want 20", client.LatencyMS)
	}
}

// TestSeedTopology_RestoredStateWins verifies restored entities are not
// overwritten by config seeding.
func TestSeedTopology_RestoredStateWins(t *testing.T) {
	store := topology.NewStore()
	restored := &topology.Zone{Index: 1, Name: "Kitchen", Volume: 73, Members: []int{1}}
	if err := store.InitializeZoneState(1, restored); err != nil {
		t.Fatalf("restore zone: %v", err)
	}

	topo := config.TopologyConfig{
		Zones:   []config.ZoneConfig{{Name: "Kitchen", Clients: []int{1}}},
		Clients: []config.ClientConfig{{Name: "kitchen-pi", MAC: "aa:bb:cc:dd:ee:01"}},
	}
	if err := seedTopology(store, topo); err != nil {
		t.Fatalf("seedTopology() error: %v", err)
	}

	zone, err := store.GetZone(1)
	if err != nil {
		t.Fatalf("GetZone(1): %v", err)
	}
	if zone.Volume != 73 {
		t.Errorf("volume = %d, want restored 73", zone.Volume)
	}
}

func TestClientIndexBySnapcastID(t *testing.T) {
	store := topology.NewStore()
	client := &topology.Client{Index: 1, Name: "kitchen-pi", SnapcastID: "aa:bb:cc:dd:ee:01"}
	if err := store.InitializeClientState(1, client); err != nil {
		t.Fatalf("seed client: %v", err)
	}

	if got := clientIndexBySnapcastID(store, "aa:bb:cc:dd:ee:01"); got != 1 {
		t.Errorf("index = %d, want 1", got)
	}
	if got := clientIndexBySnapcastID(store, "unknown"); got != 0 {
		t.Errorf("index = %d, want 0 for unknown ID", got)
	}
}
