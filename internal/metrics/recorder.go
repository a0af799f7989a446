package metrics

import (
	"strconv"
	"time"

	"github.com/nerrad567/gray-audio-core/internal/reconcile"
	"github.com/nerrad567/gray-audio-core/internal/topology"
)

// Measurement names written to InfluxDB.
const (
	measurementZoneState   = "zone_state"
	measurementClientState = "client_state"
	measurementReconcile   = "reconcile_pass"
)

// PointWriter is the subset of the InfluxDB client the recorder uses.
// Satisfied by *influxdb.Client.
type PointWriter interface {
	WritePointWithTime(measurement string, tags map[string]string, fields map[string]interface{}, timestamp time.Time)
}

// Recorder turns topology field changes and reconcile outcomes into
// time-series points.
//
// As a notification publisher it records one point per field change,
// tagged by entity index and field name, timestamped with the change
// itself rather than the write. As a reconcile stats sink it records
// one point per pass with the fault and move counts.
type Recorder struct {
	writer PointWriter
}

// NewRecorder creates a metrics recorder over a connected point writer.
func NewRecorder(writer PointWriter) *Recorder {
	return &Recorder{writer: writer}
}

// Publish records a single field change. Non-numeric values are
// written as-is; InfluxDB stores strings and bools as field values.
func (r *Recorder) Publish(n topology.Notification) {
	measurement := measurementZoneState
	tagKey := "zone"
	if n.Kind == topology.KindClient {
		measurement = measurementClientState
		tagKey = "client"
	}

	r.writer.WritePointWithTime(measurement,
		map[string]string{
			tagKey:  strconv.Itoa(n.Index),
			"field": n.Field,
		},
		map[string]interface{}{
			"value": fieldValue(n.New),
		},
		n.Timestamp,
	)
}

// RecordReconcilePass records the outcome of one reconcile pass.
func (r *Recorder) RecordReconcilePass(report reconcile.Report) {
	failed := 0
	for _, repair := range report.Repairs {
		failed += len(repair.Failed)
	}

	r.writer.WritePointWithTime(measurementReconcile,
		map[string]string{
			"converged": strconv.FormatBool(report.Converged()),
		},
		map[string]interface{}{
			"zone_count":   report.ZoneCount,
			"faulted":      report.Faulted,
			"moves":        report.Moves(),
			"failed_moves": failed,
			"duration_ms":  report.FinishedAt.Sub(report.StartedAt).Milliseconds(),
		},
		report.FinishedAt,
	)
}

// fieldValue normalises notification values for storage. Slices and
// structs (members, playlist, track) are low-value as fields and high
// cardinality as strings, so they collapse to an element count or a
// presence flag.
func fieldValue(v any) interface{} {
	switch val := v.(type) {
	case nil:
		return false
	case bool, string, float64:
		return val
	case int:
		return int64(val)
	case []int:
		return int64(len(val))
	default:
		return true
	}
}
