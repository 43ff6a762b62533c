package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nerrad567/gray-logic-meterbridge/internal/meter"
)

const namespace = "meterbridge"

// Metrics holds the bridge's Prometheus collectors. It implements
// meter.Recorder.
type Metrics struct {
	registry *prometheus.Registry

	messages          *prometheus.CounterVec
	cycles            *prometheus.CounterVec
	updateIndex       prometheus.Gauge
	secondsSince      prometheus.Gauge
	mqttConnected     prometheus.Gauge
	reconnectAttempts prometheus.Counter
}

// New creates the collectors and registers them, together with the Go
// runtime and process collectors, on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_total",
			Help:      "Meter messages received, by topic kind and outcome.",
		}, []string{"kind", "outcome"}),
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "publish_cycles_total",
			Help:      "Publication ticks, by whether the snapshot changed.",
		}, []string{"changed"}),
		updateIndex: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "update_index",
			Help:      "Last UpdateIndex heartbeat written.",
		}),
		secondsSince: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "seconds_since_message",
			Help:      "Seconds since the last accepted meter message, at the last tick.",
		}),
		mqttConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "mqtt_connected",
			Help:      "1 while the broker session is up.",
		}),
		reconnectAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mqtt_reconnect_attempts_total",
			Help:      "Broker reconnect attempts since start.",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.messages,
		m.cycles,
		m.updateIndex,
		m.secondsSince,
		m.mqttConnected,
		m.reconnectAttempts,
	)

	return m
}

// RecordMessage counts one ingested message.
func (m *Metrics) RecordMessage(kind meter.TopicKind, outcome string) {
	m.messages.WithLabelValues(kind.String(), outcome).Inc()
}

// RecordCycle updates the publication metrics from one tick.
func (m *Metrics) RecordCycle(report meter.CycleReport) {
	m.cycles.WithLabelValues(strconv.FormatBool(report.Changed)).Inc()
	m.updateIndex.Set(float64(report.UpdateIndex))
	if !report.Snapshot.LastArrival.IsZero() {
		m.secondsSince.Set(report.Age.Seconds())
	}
}

// SetMQTTConnected records the broker session state.
func (m *Metrics) SetMQTTConnected(connected bool) {
	if connected {
		m.mqttConnected.Set(1)
		return
	}
	m.mqttConnected.Set(0)
}

// IncReconnectAttempts counts one reconnect attempt.
func (m *Metrics) IncReconnectAttempts() {
	m.reconnectAttempts.Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
