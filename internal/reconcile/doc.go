// Package reconcile keeps the audio server's grouping consistent with
// the configured zone topology.
//
// The invariant is zone cohesion: all of a zone's member clients must
// sit in one server group. Groups may additionally hold clients from
// other zones (merged playback), so the check is one-directional; only
// a zone split across two or more groups is a fault.
//
// Repair gathers the spread members into the group already holding the
// largest member subset, one idempotent move at a time, with bounded
// retries per move. Zones fail independently; a stuck zone never blocks
// the others. A pass runs every interval and on demand after membership
// changes.
package reconcile
