package influxdb

import (
	"strconv"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/gray-logic-meterbridge/internal/meter"
)

// Measurement names written by the status recorder.
const (
	measurementBridgeStatus = "bridge_status"
	measurementMessages     = "meter_messages"
)

// WritePoint writes a custom point timestamped now.
//
// Example:
//
//	client.WritePoint("bridge_status",
//	    map[string]string{"instance": "31"},
//	    map[string]interface{}{"update_index": 42})
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	c.WritePointWithTime(measurement, tags, fields, time.Now())
}

// WritePointWithTime writes a custom point with a specific timestamp.
func (c *Client) WritePointWithTime(measurement string, tags map[string]string, fields map[string]interface{}, timestamp time.Time) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, timestamp)
	c.writeAPI.WritePoint(point)
}

// StatusRecorder exports bridge health to InfluxDB. It implements
// meter.Recorder. Measurement values are not written.
type StatusRecorder struct {
	client *Client
	tags   map[string]string
}

// NewStatusRecorder returns a recorder tagging every point with the device
// type and instance.
//
// Parameters:
//   - client: Connected InfluxDB client
//   - deviceType: device.type from the configuration (grid, genset, acload)
//   - instance: device.instance from the configuration
//
// Returns:
//   - *StatusRecorder: Recorder to pass in meter.BridgeOptions.Recorders
func NewStatusRecorder(client *Client, deviceType string, instance int) *StatusRecorder {
	return &StatusRecorder{
		client: client,
		tags: map[string]string{
			"device_type": deviceType,
			"instance":    strconv.Itoa(instance),
		},
	}
}

// RecordMessage counts one ingested message by topic kind and outcome.
func (r *StatusRecorder) RecordMessage(kind meter.TopicKind, outcome string) {
	tags := r.withTags(map[string]string{
		"kind":    kind.String(),
		"outcome": outcome,
	})
	r.client.WritePoint(measurementMessages, tags, map[string]interface{}{"count": 1})
}

// RecordCycle writes one bridge_status point per publication tick.
func (r *StatusRecorder) RecordCycle(report meter.CycleReport) {
	fields := map[string]interface{}{
		"update_index": int64(report.UpdateIndex),
		"changed":      report.Changed,
	}
	if !report.Snapshot.LastArrival.IsZero() {
		fields["seconds_since_message"] = report.Age.Seconds()
	}
	r.client.WritePointWithTime(measurementBridgeStatus, r.withTags(nil), fields, report.At)
}

func (r *StatusRecorder) withTags(extra map[string]string) map[string]string {
	tags := make(map[string]string, len(r.tags)+len(extra))
	for k, v := range r.tags {
		tags[k] = v
	}
	for k, v := range extra {
		tags[k] = v
	}
	return tags
}
