package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/gray-audio-core/internal/infrastructure/database"
	"github.com/nerrad567/gray-audio-core/internal/topology"
)

// Logger defines the logging interface used by the Repository.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// writeTimeout bounds one snapshot write.
const writeTimeout = 5 * time.Second

// Repository persists zone and client state snapshots to SQLite.
//
// Each entity is one row, replaced whole on every write. Snapshots are
// restored into the store at startup so playback preferences survive a
// restart; the reconcile engine then converges the server against the
// restored desired state.
type Repository struct {
	db     *database.DB
	store  *topology.Store
	logger Logger
}

// New creates a repository over an open database.
func New(db *database.DB, store *topology.Store) *Repository {
	return &Repository{
		db:     db,
		store:  store,
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for the repository.
func (r *Repository) SetLogger(logger Logger) {
	r.logger = logger
}

// SaveZone upserts one zone snapshot.
func (r *Repository) SaveZone(ctx context.Context, zone *topology.Zone) error {
	members, err := json.Marshal(zone.Members)
	if err != nil {
		return fmt.Errorf("encoding members: %w", err)
	}
	playlist, err := marshalNullable(zone.Playlist)
	if err != nil {
		return fmt.Errorf("encoding playlist: %w", err)
	}
	track, err := marshalNullable(zone.Track)
	if err != nil {
		return fmt.Errorf("encoding track: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO zone_state (
			zone_index, name, icon, playing, volume, muted,
			track_repeat, playlist_repeat, playlist_shuffle,
			group_id, stream_id, members, playlist, track, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(zone_index) DO UPDATE SET
			name = excluded.name,
			icon = excluded.icon,
			playing = excluded.playing,
			volume = excluded.volume,
			muted = excluded.muted,
			track_repeat = excluded.track_repeat,
			playlist_repeat = excluded.playlist_repeat,
			playlist_shuffle = excluded.playlist_shuffle,
			group_id = excluded.group_id,
			stream_id = excluded.stream_id,
			members = excluded.members,
			playlist = excluded.playlist,
			track = excluded.track,
			updated_at = excluded.updated_at`,
		zone.Index, zone.Name, zone.Icon,
		boolToInt(zone.Playing), zone.Volume, boolToInt(zone.Muted),
		boolToInt(zone.TrackRepeat), boolToInt(zone.PlaylistRepeat), boolToInt(zone.PlaylistShuffle),
		zone.GroupID, zone.StreamID, string(members), playlist, track,
		zone.UpdatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("saving zone %d: %w", zone.Index, err)
	}
	return nil
}

// SaveClient upserts one client snapshot.
func (r *Repository) SaveClient(ctx context.Context, client *topology.Client) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO client_state (
			client_index, snapcast_id, name, mac, connected,
			volume, muted, latency_ms, zone_index, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(client_index) DO UPDATE SET
			snapcast_id = excluded.snapcast_id,
			name = excluded.name,
			mac = excluded.mac,
			connected = excluded.connected,
			volume = excluded.volume,
			muted = excluded.muted,
			latency_ms = excluded.latency_ms,
			zone_index = excluded.zone_index,
			updated_at = excluded.updated_at`,
		client.Index, client.SnapcastID, client.Name, client.MAC,
		boolToInt(client.Connected), client.Volume, boolToInt(client.Muted),
		client.LatencyMS, client.ZoneIndex,
		client.UpdatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("saving client %d: %w", client.Index, err)
	}
	return nil
}

// LoadZones reads all persisted zone snapshots keyed by index.
func (r *Repository) LoadZones(ctx context.Context) (map[int]*topology.Zone, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT zone_index, name, icon, playing, volume, muted,
			track_repeat, playlist_repeat, playlist_shuffle,
			group_id, stream_id, members, playlist, track, updated_at
		FROM zone_state ORDER BY zone_index`)
	if err != nil {
		return nil, fmt.Errorf("querying zones: %w", err)
	}
	defer rows.Close()

	zones := make(map[int]*topology.Zone)
	for rows.Next() {
		var (
			z                        topology.Zone
			playing, muted           int
			tRepeat, pRepeat, pShuf  int
			members                  string
			playlist, track          sql.NullString
			updatedAt                string
		)
		if err := rows.Scan(&z.Index, &z.Name, &z.Icon, &playing, &z.Volume, &muted,
			&tRepeat, &pRepeat, &pShuf,
			&z.GroupID, &z.StreamID, &members, &playlist, &track, &updatedAt,
		); err != nil {
			return nil, fmt.Errorf("scanning zone row: %w", err)
		}

		z.Playing = playing != 0
		z.Muted = muted != 0
		z.TrackRepeat = tRepeat != 0
		z.PlaylistRepeat = pRepeat != 0
		z.PlaylistShuffle = pShuf != 0

		if err := json.Unmarshal([]byte(members), &z.Members); err != nil {
			return nil, fmt.Errorf("decoding members for zone %d: %w", z.Index, err)
		}
		if playlist.Valid && playlist.String != "" {
			z.Playlist = &topology.PlaylistRef{}
			if err := json.Unmarshal([]byte(playlist.String), z.Playlist); err != nil {
				return nil, fmt.Errorf("decoding playlist for zone %d: %w", z.Index, err)
			}
		}
		if track.Valid && track.String != "" {
			z.Track = &topology.TrackRef{}
			if err := json.Unmarshal([]byte(track.String), z.Track); err != nil {
				return nil, fmt.Errorf("decoding track for zone %d: %w", z.Index, err)
			}
		}
		z.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)

		zones[z.Index] = &z
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating zones: %w", err)
	}
	return zones, nil
}

// LoadClients reads all persisted client snapshots keyed by index.
func (r *Repository) LoadClients(ctx context.Context) (map[int]*topology.Client, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT client_index, snapcast_id, name, mac, connected,
			volume, muted, latency_ms, zone_index, updated_at
		FROM client_state ORDER BY client_index`)
	if err != nil {
		return nil, fmt.Errorf("querying clients: %w", err)
	}
	defer rows.Close()

	clients := make(map[int]*topology.Client)
	for rows.Next() {
		var (
			c                topology.Client
			connected, muted int
			updatedAt        string
		)
		if err := rows.Scan(&c.Index, &c.SnapcastID, &c.Name, &c.MAC, &connected,
			&c.Volume, &muted, &c.LatencyMS, &c.ZoneIndex, &updatedAt,
		); err != nil {
			return nil, fmt.Errorf("scanning client row: %w", err)
		}
		c.Connected = connected != 0
		c.Muted = muted != 0
		c.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)

		clients[c.Index] = &c
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating clients: %w", err)
	}
	return clients, nil
}

// Restore seeds the store from persisted snapshots. Called once at
// startup, before the configuration seeds defaults for entities that
// were never persisted.
func (r *Repository) Restore(ctx context.Context) error {
	zones, err := r.LoadZones(ctx)
	if err != nil {
		return err
	}
	for index, zone := range zones {
		if err := r.store.InitializeZoneState(index, zone); err != nil {
			r.logger.Warn("skipping invalid persisted zone", "zone", index, "error", err)
		}
	}

	clients, err := r.LoadClients(ctx)
	if err != nil {
		return err
	}
	for index, client := range clients {
		if err := r.store.InitializeClientState(index, client); err != nil {
			r.logger.Warn("skipping invalid persisted client", "client", index, "error", err)
		}
	}

	r.logger.Debug("state restored", "zones", len(zones), "clients", len(clients))
	return nil
}

// Publish implements notify.Publisher: any field change persists the
// entity's full current state. Runs on a dispatcher goroutine, so a
// slow disk delays only that entity's queue.
func (r *Repository) Publish(n topology.Notification) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	switch n.Kind {
	case topology.KindZone:
		zone, err := r.store.GetZone(n.Index)
		if err != nil {
			if !errors.Is(err, topology.ErrZoneNotFound) {
				r.logger.Error("reading zone for persistence", "zone", n.Index, "error", err)
			}
			return
		}
		if err := r.SaveZone(ctx, zone); err != nil {
			r.logger.Error("persisting zone", "zone", n.Index, "error", err)
		}
	case topology.KindClient:
		client, err := r.store.GetClient(n.Index)
		if err != nil {
			if !errors.Is(err, topology.ErrClientNotFound) {
				r.logger.Error("reading client for persistence", "client", n.Index, "error", err)
			}
			return
		}
		if err := r.SaveClient(ctx, client); err != nil {
			r.logger.Error("persisting client", "client", n.Index, "error", err)
		}
	}
}

func marshalNullable(v any) (sql.NullString, error) {
	switch ref := v.(type) {
	case *topology.PlaylistRef:
		if ref == nil {
			return sql.NullString{}, nil
		}
	case *topology.TrackRef:
		if ref == nil {
			return sql.NullString{}, nil
		}
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(raw), Valid: true}, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
