package persistence

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/nerrad567/gray-audio-core/internal/infrastructure/database"
	"github.com/nerrad567/gray-audio-core/internal/topology"
	_ "github.com/nerrad567/gray-audio-core/migrations"
)

func openTestRepo(t *testing.T) (*Repository, *topology.Store) {
	t.Helper()
	db, err := database.Open(database.Config{
		Path:        filepath.Join(t.TempDir(), "state.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	store := topology.NewStore()
	return New(db, store), store
}

func sampleZone() *topology.Zone {
	return &topology.Zone{
		Index:           1,
		Name:            "Living Room",
		Icon:            "sofa",
		Playing:         true,
		Volume:          55,
		TrackRepeat:     true,
		GroupID:         "g-living",
		StreamID:        "radio",
		Members:         []int{1, 2},
		Playlist:        &topology.PlaylistRef{ID: "pl-1", Name: "Evening"},
		Track:           &topology.TrackRef{ID: "tr-9", Title: "Song", Artist: "Band", DurationSec: 241},
		UpdatedAt:       time.Now().UTC(),
	}
}

func TestSaveAndLoadZone(t *testing.T) {
	repo, _ := openTestRepo(t)
	ctx := context.Background()

	want := sampleZone()
	if err := repo.SaveZone(ctx, want); err != nil {
		t.Fatalf("save: %v", err)
	}

	zones, err := repo.LoadZones(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	got, ok := zones[1]
	if !ok {
		t.Fatal("zone 1 not loaded")
	}

	if got.Name != want.Name || got.Volume != want.Volume || !got.Playing {
		t.Errorf("loaded zone = %+v", got)
	}
	if len(got.Members) != 2 || got.Members[0] != 1 || got.Members[1] != 2 {
		t.Errorf("members = %v, want [1 2]", got.Members)
	}
	if got.Playlist == nil || got.Playlist.ID != "pl-1" {
		t.Errorf("playlist = %+v, want pl-1", got.Playlist)
	}
	if got.Track == nil || got.Track.DurationSec != 241 {
		t.Errorf("track = %+v, want duration 241", got.Track)
	}
}

func TestSaveZoneUpsert(t *testing.T) {
	repo, _ := openTestRepo(t)
	ctx := context.Background()

	zone := sampleZone()
	if err := repo.SaveZone(ctx, zone); err != nil {
		t.Fatalf("save: %v", err)
	}
	zone.Volume = 80
	zone.Playlist = nil
	if err := repo.SaveZone(ctx, zone); err != nil {
		t.Fatalf("second save: %v", err)
	}

	zones, err := repo.LoadZones(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(zones) != 1 {
		t.Fatalf("zones = %d, want 1", len(zones))
	}
	if zones[1].Volume != 80 {
		t.Errorf("volume = %d, want 80", zones[1].Volume)
	}
	if zones[1].Playlist != nil {
		t.Errorf("playlist = %+v, want nil after clear", zones[1].Playlist)
	}
}

func TestSaveAndLoadClient(t *testing.T) {
	repo, _ := openTestRepo(t)
	ctx := context.Background()

	want := &topology.Client{
		Index:      3,
		SnapcastID: "aa:bb:cc:dd:ee:ff",
		Name:       "kitchen",
		MAC:        "aa:bb:cc:dd:ee:ff",
		Connected:  true,
		Volume:     35,
		LatencyMS:  120,
		ZoneIndex:  2,
		UpdatedAt:  time.Now().UTC(),
	}
	if err := repo.SaveClient(ctx, want); err != nil {
		t.Fatalf("save: %v", err)
	}

	clients, err := repo.LoadClients(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	got, ok := clients[3]
	if !ok {
		t.Fatal("client 3 not loaded")
	}
	if got.SnapcastID != want.SnapcastID || got.LatencyMS != 120 || !got.Connected {
		t.Errorf("loaded client = %+v", got)
	}
}

func TestRestoreSeedsStore(t *testing.T) {
	repo, store := openTestRepo(t)
	ctx := context.Background()

	if err := repo.SaveZone(ctx, sampleZone()); err != nil {
		t.Fatalf("save zone: %v", err)
	}
	if err := repo.SaveClient(ctx, &topology.Client{
		Index: 1, Name: "left", Volume: 40, UpdatedAt: time.Now().UTC(),
	}); err != nil {
		t.Fatalf("save client: %v", err)
	}

	if err := repo.Restore(ctx); err != nil {
		t.Fatalf("restore: %v", err)
	}

	zone, err := store.GetZone(1)
	if err != nil {
		t.Fatalf("get zone: %v", err)
	}
	if zone.Volume != 55 {
		t.Errorf("restored volume = %d, want 55", zone.Volume)
	}

	// Restore never overwrites what a later initialisation would add,
	// and config seeding after restore must not clobber restored rows.
	if err := store.InitializeZoneState(1, &topology.Zone{Name: "Living Room", Volume: 10}); err != nil {
		t.Fatalf("init: %v", err)
	}
	zone, _ = store.GetZone(1)
	if zone.Volume != 55 {
		t.Errorf("config seed overwrote restored state: volume = %d", zone.Volume)
	}
}

func TestPublishPersistsCurrentState(t *testing.T) {
	repo, store := openTestRepo(t)
	ctx := context.Background()

	if err := store.InitializeZoneState(1, &topology.Zone{Name: "Living Room", Volume: 40}); err != nil {
		t.Fatalf("init: %v", err)
	}
	if err := store.SetZoneState(1, &topology.Zone{Name: "Living Room", Volume: 65}); err != nil {
		t.Fatalf("set: %v", err)
	}

	repo.Publish(topology.Notification{
		Kind:  topology.KindZone,
		Index: 1,
		Field: topology.FieldVolume,
		Old:   40,
		New:   65,
	})

	zones, err := repo.LoadZones(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if zones[1] == nil || zones[1].Volume != 65 {
		t.Errorf("persisted zone = %+v, want volume 65", zones[1])
	}
}
