// Package knx bridges the KNX bus to the audio controller via knxd.
//
// Physical wall switches and room controllers live on the KNX bus.
// This package lets them drive zone and client state (volume, mute,
// playback) and see actual state reflected back on status addresses.
//
// # Components
//
//   - KNXDClient: TCP/Unix socket connection to the knxd daemon with
//     automatic reconnection and a bounded telegram worker pool.
//   - Telegram, GroupAddress, DPT codecs: wire-level protocol.
//   - MappingConfig: the YAML file binding group addresses to zone and
//     client functions.
//   - Bridge: the two-way adapter between telegrams and the command
//     pipeline / notification fan-out.
//
// # Scope
//
// Only DPT 1.001 (switch) and 5.001 (percentage) are mapped; that is
// the entire vocabulary a volume/mute/play panel needs. The knxd
// daemon itself is externally managed; the bridge only connects to it.
package knx
