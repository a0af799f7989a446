package snapcast

import "encoding/json"

// Wire types for the Snapcast JSON-RPC control protocol (TCP port 1705,
// newline-delimited JSON). All wire-format parsing is isolated in this
// package; the rest of the core sees typed values only.

// request is a JSON-RPC 2.0 request.
type request struct {
	ID      int    `json:"id"`
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// response is a JSON-RPC 2.0 response or server notification.
// Notifications carry Method and no ID.
type response struct {
	ID      *int            `json:"id"`
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError is a JSON-RPC error object returned by the server.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return e.Message
}

// ServerStatus is the typed result of Server.GetStatus.
type ServerStatus struct {
	Server struct {
		Groups  []Group  `json:"groups"`
		Streams []Stream `json:"streams"`
	} `json:"server"`
}

// Group is a Snapcast group: a set of clients playing one stream in sync.
type Group struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	StreamID string   `json:"stream_id"`
	Muted    bool     `json:"muted"`
	Clients  []Client `json:"clients"`
}

// Client is a Snapcast client as reported by the server.
type Client struct {
	ID        string `json:"id"`
	Connected bool   `json:"connected"`
	Host      struct {
		Name string `json:"name"`
		MAC  string `json:"mac"`
	} `json:"host"`
	Config struct {
		Name    string `json:"name"`
		Latency int    `json:"latency"`
		Volume  Volume `json:"volume"`
	} `json:"config"`
}

// Volume is a Snapcast client volume setting.
type Volume struct {
	Percent int  `json:"percent"`
	Muted   bool `json:"muted"`
}

// Stream is a Snapcast audio stream source.
type Stream struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// GroupMembership is one (group, member clients) pair of the observed
// grouping snapshot. Ephemeral: read fresh each reconciliation pass and
// never persisted.
type GroupMembership struct {
	GroupID   string
	StreamID  string
	ClientIDs []string
}

// Server notification method names this core reacts to.
const (
	NotifyClientConnect      = "Client.OnConnect"
	NotifyClientDisconnect   = "Client.OnDisconnect"
	NotifyClientVolume       = "Client.OnVolumeChanged"
	NotifyClientLatency      = "Client.OnLatencyChanged"
	NotifyGroupMute          = "Group.OnMute"
	NotifyServerUpdate       = "Server.OnUpdate"
	NotifyGroupStreamChanged = "Group.OnStreamChanged"
)

// ClientEvent is the decoded payload of client-scoped notifications.
type ClientEvent struct {
	ID     string  `json:"id"`
	Client *Client `json:"client,omitempty"`
	Volume *Volume `json:"volume,omitempty"`
	// Latency is set for Client.OnLatencyChanged.
	Latency *int `json:"latency,omitempty"`
}
