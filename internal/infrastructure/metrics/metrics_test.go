package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/nerrad567/gray-logic-meterbridge/internal/meter"
)

func TestRecordMessage(t *testing.T) {
	m := New()

	m.RecordMessage(meter.KindInstant, meter.OutcomeAccepted)
	m.RecordMessage(meter.KindInstant, meter.OutcomeAccepted)
	m.RecordMessage(meter.KindEnergy, meter.OutcomeSchemaMismatch)

	if got := testutil.ToFloat64(m.messages.WithLabelValues("instant", "accepted")); got != 2 {
		t.Errorf("instant/accepted = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.messages.WithLabelValues("energy", "schema_mismatch")); got != 1 {
		t.Errorf("energy/schema_mismatch = %v, want 1", got)
	}
}

func TestRecordCycle(t *testing.T) {
	m := New()
	now := time.Now()

	m.RecordCycle(meter.CycleReport{
		At:          now,
		Snapshot:    meter.Snapshot{LastArrival: now.Add(-3 * time.Second)},
		Changed:     true,
		UpdateIndex: 9,
		Age:         3 * time.Second,
	})
	m.RecordCycle(meter.CycleReport{
		At:          now.Add(time.Second),
		Snapshot:    meter.Snapshot{LastArrival: now.Add(-3 * time.Second)},
		UpdateIndex: 10,
		Age:         4 * time.Second,
	})

	tests := []struct {
		name string
		got  float64
		want float64
	}{
		{"changed cycles", testutil.ToFloat64(m.cycles.WithLabelValues("true")), 1},
		{"unchanged cycles", testutil.ToFloat64(m.cycles.WithLabelValues("false")), 1},
		{"update index", testutil.ToFloat64(m.updateIndex), 10},
		{"seconds since message", testutil.ToFloat64(m.secondsSince), 4},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s = %v, want %v", tt.name, tt.got, tt.want)
		}
	}
}

func TestConnectionMetrics(t *testing.T) {
	m := New()

	m.SetMQTTConnected(true)
	if got := testutil.ToFloat64(m.mqttConnected); got != 1 {
		t.Errorf("mqtt_connected = %v, want 1", got)
	}
	m.SetMQTTConnected(false)
	if got := testutil.ToFloat64(m.mqttConnected); got != 0 {
		t.Errorf("mqtt_connected = %v, want 0", got)
	}

	m.IncReconnectAttempts()
	m.IncReconnectAttempts()
	if got := testutil.ToFloat64(m.reconnectAttempts); got != 2 {
		t.Errorf("reconnect attempts = %v, want 2", got)
	}
}

func TestHandler(t *testing.T) {
	m := New()
	m.RecordMessage(meter.KindEnergy, meter.OutcomeAccepted)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body, _ := io.ReadAll(rec.Body)
	for _, want := range []string{
		`meterbridge_messages_total{kind="energy",outcome="accepted"} 1`,
		"meterbridge_update_index",
		"go_goroutines",
	} {
		if !strings.Contains(string(body), want) {
			t.Errorf("exposition missing %q", want)
		}
	}
}

func TestNewIsIndependent(t *testing.T) {
	// Separate registries: creating two must not panic on duplicate registration.
	a, b := New(), New()
	a.IncReconnectAttempts()
	if got := testutil.ToFloat64(b.reconnectAttempts); got != 0 {
		t.Errorf("second instance shares state: %v", got)
	}
}
