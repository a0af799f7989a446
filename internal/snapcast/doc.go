// Package snapcast is the control-plane adapter for the Snapcast
// multi-room audio server.
//
// It speaks the Snapcast JSON-RPC protocol over a single persistent TCP
// connection (default port 1705): requests are multiplexed by ID,
// server-initiated notifications (client connect, volume change) are
// routed to a registered handler, and the connection reconnects with
// exponential backoff.
//
// The package owns no business logic. The reconcile package consumes it
// through the GroupingAdapter interface (GroupSnapshot +
// MoveClientToGroup); the command pipeline uses the client/group setters
// to push desired playback state outward.
package snapcast
