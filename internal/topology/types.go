package topology

import "time"

// PlaylistRef identifies a playlist on the media backend.
// The catalog itself lives outside this core; only the reference is
// tracked as desired state.
type PlaylistRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// TrackRef identifies a track on the media backend.
type TrackRef struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Artist      string `json:"artist"`
	DurationSec int    `json:"duration_sec"`
}

// Zone is a logical listening area: a desired set of member clients plus
// playback state. Zones are keyed by 1-based index assigned from the
// static topology configuration and are never created or destroyed at
// runtime.
//
// Members is the authoritative desired membership. The external server's
// actual grouping may drift from it; the reconciler converges the two.
type Zone struct {
	Index int    `json:"index"`
	Name  string `json:"name"`
	Icon  string `json:"icon"`

	Playing bool `json:"playing"`
	Volume  int  `json:"volume"`
	Muted   bool `json:"muted"`

	TrackRepeat     bool `json:"track_repeat"`
	PlaylistRepeat  bool `json:"playlist_repeat"`
	PlaylistShuffle bool `json:"playlist_shuffle"`

	// GroupID and StreamID bind the zone to the external grouping
	// system (Snapcast group and stream identifiers).
	GroupID  string `json:"group_id"`
	StreamID string `json:"stream_id"`

	// Members holds 1-based client indices in desired order.
	// A client index appears in at most one zone's Members.
	Members []int `json:"members"`

	Playlist *PlaylistRef `json:"playlist,omitempty"`
	Track    *TrackRef    `json:"track,omitempty"`

	UpdatedAt time.Time `json:"updated_at"`
}

// DeepCopy returns an independent copy of the zone.
// Callers may mutate the copy without affecting the original.
func (z *Zone) DeepCopy() *Zone {
	if z == nil {
		return nil
	}
	dup := *z
	dup.Members = make([]int, len(z.Members))
	copy(dup.Members, z.Members)
	if z.Playlist != nil {
		p := *z.Playlist
		dup.Playlist = &p
	}
	if z.Track != nil {
		tr := *z.Track
		dup.Track = &tr
	}
	return &dup
}

// HasMember reports whether the client index is in the desired membership.
func (z *Zone) HasMember(clientIndex int) bool {
	for _, m := range z.Members {
		if m == clientIndex {
			return true
		}
	}
	return false
}

// Client is a physical playback endpoint, keyed by 1-based index from the
// static topology configuration.
type Client struct {
	Index int `json:"index"`

	// SnapcastID is the client's identifier on the external grouping
	// system. Snapcast defaults this to the MAC address.
	SnapcastID string `json:"snapcast_id"`

	Name string `json:"name"`
	MAC  string `json:"mac"`

	Connected bool `json:"connected"`
	Volume    int  `json:"volume"`
	Muted     bool `json:"muted"`
	LatencyMS int  `json:"latency_ms"`

	// ZoneIndex is the desired zone assignment (0 = unassigned).
	// Derived from zone membership; kept on the client for fast lookup
	// and client-level change notifications.
	ZoneIndex int `json:"zone_index"`

	UpdatedAt time.Time `json:"updated_at"`
}

// DeepCopy returns an independent copy of the client.
func (c *Client) DeepCopy() *Client {
	if c == nil {
		return nil
	}
	dup := *c
	return &dup
}

// Health is the derived grouping health of the installation.
// Never stored as ground truth; always recomputed from desired vs
// observed grouping.
type Health string

const (
	// HealthHealthy means every zone's members share one actual group.
	HealthHealthy Health = "healthy"

	// HealthDegraded means at least one zone is split across groups.
	HealthDegraded Health = "degraded"
)

// Volume limits for zones and clients.
const (
	MinVolume = 0
	MaxVolume = 100
)
