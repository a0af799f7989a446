package topology

import "time"

// EntityKind identifies the entity type a notification refers to.
type EntityKind string

const (
	// KindZone marks notifications about zone state.
	KindZone EntityKind = "zone"

	// KindClient marks notifications about client state.
	KindClient EntityKind = "client"
)

// Field names used in change notifications.
// Fields are enumerated explicitly; the store never diffs reflectively.
const (
	FieldName            = "name"
	FieldPlaying         = "playing"
	FieldVolume          = "volume"
	FieldMuted           = "muted"
	FieldTrackRepeat     = "track_repeat"
	FieldPlaylistRepeat  = "playlist_repeat"
	FieldPlaylistShuffle = "playlist_shuffle"
	FieldMembers         = "members"
	FieldGroupID         = "group_id"
	FieldStreamID        = "stream_id"
	FieldPlaylist        = "playlist"
	FieldTrack           = "track"
	FieldConnected       = "connected"
	FieldLatencyMS       = "latency_ms"
	FieldZoneIndex       = "zone_index"
)

// Notification describes one field-level state change.
// A single store write may yield zero, one, or several notifications,
// one per field that actually changed.
type Notification struct {
	Kind      EntityKind `json:"kind"`
	Index     int        `json:"index"`
	Field     string     `json:"field"`
	Old       any        `json:"old"`
	New       any        `json:"new"`
	Timestamp time.Time  `json:"timestamp"`
}

// Sink receives notifications from the store, synchronously with the
// write that produced them. Implementations must not block: the fan-out
// dispatcher enqueues here and delivers asynchronously.
type Sink interface {
	Notify(Notification)
}

// diffZones compares every observable zone field and returns one
// notification per difference. Members comparison is order-sensitive:
// desired ordering is part of the state.
func diffZones(old, updated *Zone, now time.Time) []Notification {
	var out []Notification
	add := func(field string, oldVal, newVal any) {
		out = append(out, Notification{
			Kind:      KindZone,
			Index:     updated.Index,
			Field:     field,
			Old:       oldVal,
			New:       newVal,
			Timestamp: now,
		})
	}

	if old.Name != updated.Name {
		add(FieldName, old.Name, updated.Name)
	}
	if old.Playing != updated.Playing {
		add(FieldPlaying, old.Playing, updated.Playing)
	}
	if old.Volume != updated.Volume {
		add(FieldVolume, old.Volume, updated.Volume)
	}
	if old.Muted != updated.Muted {
		add(FieldMuted, old.Muted, updated.Muted)
	}
	if old.TrackRepeat != updated.TrackRepeat {
		add(FieldTrackRepeat, old.TrackRepeat, updated.TrackRepeat)
	}
	if old.PlaylistRepeat != updated.PlaylistRepeat {
		add(FieldPlaylistRepeat, old.PlaylistRepeat, updated.PlaylistRepeat)
	}
	if old.PlaylistShuffle != updated.PlaylistShuffle {
		add(FieldPlaylistShuffle, old.PlaylistShuffle, updated.PlaylistShuffle)
	}
	if !equalInts(old.Members, updated.Members) {
		add(FieldMembers, old.Members, updated.Members)
	}
	if old.GroupID != updated.GroupID {
		add(FieldGroupID, old.GroupID, updated.GroupID)
	}
	if old.StreamID != updated.StreamID {
		add(FieldStreamID, old.StreamID, updated.StreamID)
	}
	if !equalPlaylist(old.Playlist, updated.Playlist) {
		add(FieldPlaylist, old.Playlist, updated.Playlist)
	}
	if !equalTrack(old.Track, updated.Track) {
		add(FieldTrack, old.Track, updated.Track)
	}

	return out
}

// diffClients compares every observable client field.
func diffClients(old, updated *Client, now time.Time) []Notification {
	var out []Notification
	add := func(field string, oldVal, newVal any) {
		out = append(out, Notification{
			Kind:      KindClient,
			Index:     updated.Index,
			Field:     field,
			Old:       oldVal,
			New:       newVal,
			Timestamp: now,
		})
	}

	if old.Name != updated.Name {
		add(FieldName, old.Name, updated.Name)
	}
	if old.Connected != updated.Connected {
		add(FieldConnected, old.Connected, updated.Connected)
	}
	if old.Volume != updated.Volume {
		add(FieldVolume, old.Volume, updated.Volume)
	}
	if old.Muted != updated.Muted {
		add(FieldMuted, old.Muted, updated.Muted)
	}
	if old.LatencyMS != updated.LatencyMS {
		add(FieldLatencyMS, old.LatencyMS, updated.LatencyMS)
	}
	if old.ZoneIndex != updated.ZoneIndex {
		add(FieldZoneIndex, old.ZoneIndex, updated.ZoneIndex)
	}

	return out
}

func equalInts(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func equalPlaylist(a, b *PlaylistRef) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func equalTrack(a, b *TrackRef) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
