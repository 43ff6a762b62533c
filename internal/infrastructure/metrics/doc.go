// Package metrics exposes the bridge's Prometheus collectors.
//
// Metrics implements meter.Recorder so the publication loop feeds it
// directly; the MQTT session callbacks drive the connection gauge and the
// reconnect counter. Handler is mounted at /metrics by the status API.
package metrics
