// Package topology holds the canonical in-memory model of the audio
// installation: zones (logical listening areas) and clients (physical
// playback endpoints), both keyed by stable 1-based indices from static
// configuration.
//
// The Store is the single source of truth for desired state. All
// mutation is by whole-value replacement; every write diffs old against
// new field by field and emits one change notification per difference.
// No component holds a live reference into the store; reads return deep
// copies.
//
// The desired zone membership (Zone.Members) is authoritative. The
// reconcile package compares it against the grouping actually reported
// by the Snapcast server and corrects drift.
package topology
