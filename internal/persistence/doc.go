// Package persistence stores zone and client snapshots in SQLite and
// restores them into the topology store at startup.
//
// The repository subscribes to change notifications like any other
// publisher, so persistence stays out of the store's write path and a
// slow disk never blocks a state mutation.
package persistence
