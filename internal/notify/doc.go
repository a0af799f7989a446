// Package notify fans state change notifications out to outward bridges.
//
// The topology store hands every field-level change to the Dispatcher
// synchronously; the Dispatcher delivers asynchronously so a slow MQTT
// broker, KNX bus, or WebSocket client never slows a mutating command.
//
// Delivery guarantees: per-entity FIFO, at-most-once (the per-entity
// queue drops its oldest entry under sustained back-pressure). Bridges
// publishing retained state topics tolerate drops because a later
// notification for the same field supersedes the lost one.
package notify
