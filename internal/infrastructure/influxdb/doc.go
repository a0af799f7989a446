// Package influxdb provides InfluxDB connectivity for Gray Audio Core.
//
// It wraps the official influxdb-client-go v2 library with connection
// management, batched point writing, and health monitoring. The package
// is transport-level only: it knows nothing about zones or clients.
// Domain measurements are shaped by internal/metrics, which feeds
// points through this client.
//
// # Usage
//
//	cfg := config.InfluxDBConfig{
//	    URL:    "http://localhost:8086",
//	    Token:  "your-token",
//	    Org:    "grayaudio",
//	    Bucket: "audio",
//	}
//
//	client, err := influxdb.Connect(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	client.WritePoint("zone_state",
//	    map[string]string{"zone": "1", "field": "volume"},
//	    map[string]interface{}{"value": 55})
//
// # Thread Safety
//
// All methods are safe for concurrent use from multiple goroutines.
// The underlying write API uses non-blocking batched writes.
//
// # Error Handling
//
// Write operations are non-blocking and batch errors are delivered via
// the SetOnError callback. Connection and health check errors are
// returned directly.
package influxdb
