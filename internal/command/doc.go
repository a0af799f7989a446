// Package command implements the validated command pipeline between
// external sources (REST API, MQTT, KNX) and the topology store.
//
// Commands are immutable value objects carrying a target kind, target
// index, operation name, payload, source, and correlation ID. A static
// registry maps each (kind, operation) pair to exactly one handler;
// unknown pairs are rejected before any state is touched.
//
// Dispatch serializes commands per entity and classifies every failure
// into one of four kinds: validation, cancelled, transient, internal.
// Re-issuing a command whose desired value already holds is a
// successful no-op and produces no outward pushes or notifications.
package command
