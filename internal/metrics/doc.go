// Package metrics records topology changes and reconcile outcomes as
// InfluxDB time-series points.
//
// The Recorder subscribes to the notification fan-out like any other
// publisher, so every observed field change lands in the same bucket
// that dashboards query. It also hangs off the reconcile engine as a
// stats sink, writing one summary point per pass.
package metrics
