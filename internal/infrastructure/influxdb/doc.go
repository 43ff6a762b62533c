// Package influxdb exports bridge status to InfluxDB.
//
// It wraps the official influxdb-client-go v2 library with connection
// management, batched non-blocking writes and health checks. The
// StatusRecorder plugs into the publication loop as a meter.Recorder and
// writes two measurements:
//
//   - bridge_status: update_index, changed, seconds_since_message per tick
//   - meter_messages: one count per ingested message, tagged kind and outcome
//
// Meter readings themselves are not stored.
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	recorder := influxdb.NewStatusRecorder(client, "grid", 31)
//
// # Error Handling
//
// Writes are asynchronous; failures reach the SetOnError callback.
// Connection and health check errors are returned directly.
package influxdb
