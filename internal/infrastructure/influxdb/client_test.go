package influxdb_test

import (
	"compress/gzip"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-meterbridge/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-meterbridge/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-meterbridge/internal/meter"
)

// fakeInflux answers /ping and captures line protocol posted to /api/v2/write.
type fakeInflux struct {
	mu        sync.Mutex
	lines     []string
	writeCode int
}

func (f *fakeInflux) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case strings.HasSuffix(r.URL.Path, "/ping"):
		w.WriteHeader(http.StatusNoContent)
	case strings.HasSuffix(r.URL.Path, "/write"):
		body := io.Reader(r.Body)
		if r.Header.Get("Content-Encoding") == "gzip" {
			gz, err := gzip.NewReader(r.Body)
			if err != nil {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			defer gz.Close()
			body = gz
		}
		data, _ := io.ReadAll(body)

		f.mu.Lock()
		code := f.writeCode
		if code == 0 {
			code = http.StatusNoContent
			for _, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
				f.lines = append(f.lines, line)
			}
		}
		f.mu.Unlock()

		if code != http.StatusNoContent {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(code)
			_, _ = w.Write([]byte(`{"code":"invalid","message":"rejected"}`))
			return
		}
		w.WriteHeader(code)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (f *fakeInflux) Lines() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.lines...)
}

// waitForLines polls until at least n lines arrived.
func (f *fakeInflux) waitForLines(t *testing.T, n int) []string {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if lines := f.Lines(); len(lines) >= n {
			return lines
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("received %d lines, want %d", len(f.Lines()), n)
	return nil
}

func newFakeServer(t *testing.T) (*fakeInflux, config.InfluxDBConfig) {
	t.Helper()
	fake := &fakeInflux{}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	return fake, config.InfluxDBConfig{
		Enabled:       true,
		URL:           srv.URL,
		Token:         "meterbridge-test-token",
		Org:           "home",
		Bucket:        "bridge",
		BatchSize:     100,
		FlushInterval: 1,
	}
}

func connect(t *testing.T, cfg config.InfluxDBConfig) *influxdb.Client {
	t.Helper()
	client, err := influxdb.Connect(cfg)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return client
}

// =============================================================================
// Connection Tests
// =============================================================================

func TestConnect(t *testing.T) {
	_, cfg := newFakeServer(t)
	client := connect(t, cfg)

	if !client.IsConnected() {
		t.Error("IsConnected() = false after Connect()")
	}
}

func TestConnect_Disabled(t *testing.T) {
	_, cfg := newFakeServer(t)
	cfg.Enabled = false

	_, err := influxdb.Connect(cfg)
	if !errors.Is(err, influxdb.ErrDisabled) {
		t.Errorf("Connect() error = %v, want ErrDisabled", err)
	}
}

func TestConnect_Unreachable(t *testing.T) {
	_, cfg := newFakeServer(t)
	cfg.URL = "http://127.0.0.1:1"

	_, err := influxdb.Connect(cfg)
	if !errors.Is(err, influxdb.ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

func TestConnect_DefaultBatchSettings(t *testing.T) {
	_, cfg := newFakeServer(t)
	cfg.BatchSize = -5
	cfg.FlushInterval = 0

	client := connect(t, cfg)
	if !client.IsConnected() {
		t.Error("IsConnected() = false with default batch settings")
	}
}

// =============================================================================
// Health Check Tests
// =============================================================================

func TestHealthCheck(t *testing.T) {
	_, cfg := newFakeServer(t)
	client := connect(t, cfg)

	if err := client.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}
}

func TestHealthCheck_Cancelled(t *testing.T) {
	_, cfg := newFakeServer(t)
	client := connect(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := client.HealthCheck(ctx); err == nil {
		t.Error("HealthCheck() should return error for cancelled context")
	}
}

func TestHealthCheck_AfterClose(t *testing.T) {
	_, cfg := newFakeServer(t)
	client := connect(t, cfg)
	_ = client.Close()

	if err := client.HealthCheck(context.Background()); !errors.Is(err, influxdb.ErrNotConnected) {
		t.Errorf("HealthCheck() error = %v, want ErrNotConnected", err)
	}
}

// =============================================================================
// Write Tests
// =============================================================================

func TestWritePointWithTime(t *testing.T) {
	fake, cfg := newFakeServer(t)
	client := connect(t, cfg)

	ts := time.Unix(1700000000, 0)
	client.WritePointWithTime("custom", map[string]string{"source": "test"}, map[string]interface{}{"value": 88.8}, ts)
	client.Flush()

	lines := fake.waitForLines(t, 1)
	want := "custom,source=test value=88.8 1700000000000000000"
	if lines[0] != want {
		t.Errorf("line = %q, want %q", lines[0], want)
	}
}

func TestStatusRecorder(t *testing.T) {
	fake, cfg := newFakeServer(t)
	client := connect(t, cfg)
	recorder := influxdb.NewStatusRecorder(client, "grid", 31)

	at := time.Unix(1700000000, 0)
	recorder.RecordMessage(meter.KindInstant, meter.OutcomeAccepted)
	recorder.RecordCycle(meter.CycleReport{
		At:          at,
		Snapshot:    meter.Snapshot{LastArrival: at.Add(-2 * time.Second)},
		Changed:     true,
		UpdateIndex: 7,
		Age:         2 * time.Second,
	})
	client.Flush()

	lines := fake.waitForLines(t, 2)

	var status, message string
	for _, line := range lines {
		switch {
		case strings.HasPrefix(line, "bridge_status,"):
			status = line
		case strings.HasPrefix(line, "meter_messages,"):
			message = line
		}
	}

	for _, want := range []string{"device_type=grid", "instance=31", "update_index=7i", "changed=true", "seconds_since_message=2"} {
		if !strings.Contains(status, want) {
			t.Errorf("bridge_status line %q missing %q", status, want)
		}
	}
	if !strings.HasSuffix(status, " 1700000000000000000") {
		t.Errorf("bridge_status line %q not stamped with the cycle time", status)
	}
	for _, want := range []string{"kind=instant", "outcome=accepted", "count=1i"} {
		if !strings.Contains(message, want) {
			t.Errorf("meter_messages line %q missing %q", message, want)
		}
	}
}

func TestStatusRecorder_NoMessageYet(t *testing.T) {
	fake, cfg := newFakeServer(t)
	client := connect(t, cfg)
	recorder := influxdb.NewStatusRecorder(client, "acload", 40)

	recorder.RecordCycle(meter.CycleReport{At: time.Unix(1700000000, 0), UpdateIndex: 1})
	client.Flush()

	lines := fake.waitForLines(t, 1)
	if strings.Contains(lines[0], "seconds_since_message") {
		t.Errorf("line %q has an age before any message", lines[0])
	}
}

func TestWriteErrorCallback(t *testing.T) {
	fake, cfg := newFakeServer(t)
	client := connect(t, cfg)

	fake.mu.Lock()
	fake.writeCode = http.StatusBadRequest
	fake.mu.Unlock()

	errCh := make(chan error, 1)
	client.SetOnError(func(err error) {
		select {
		case errCh <- err:
		default:
		}
	})

	client.WritePoint("custom", nil, map[string]interface{}{"value": 1})
	client.Flush()

	select {
	case err := <-errCh:
		if !errors.Is(err, influxdb.ErrWriteFailed) {
			t.Errorf("callback error = %v, want ErrWriteFailed", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("write error callback not invoked")
	}
}

// =============================================================================
// Close Tests
// =============================================================================

func TestClose(t *testing.T) {
	fake, cfg := newFakeServer(t)
	client, err := influxdb.Connect(cfg)
	if err != nil {
		t.Fatal(err)
	}

	client.WritePoint("close_test", nil, map[string]interface{}{"value": 1.0})

	if err := client.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if client.IsConnected() {
		t.Error("IsConnected() = true after Close()")
	}
	fake.waitForLines(t, 1)

	// Writes after close are dropped without panicking.
	client.WritePoint("close_test", nil, map[string]interface{}{"value": 2.0})
	client.Flush()
}

func TestClose_Twice(t *testing.T) {
	_, cfg := newFakeServer(t)
	client := connect(t, cfg)

	if err := client.Close(); err != nil {
		t.Fatal(err)
	}
	if err := client.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}

	var nilClient *influxdb.Client
	if err := nilClient.Close(); err != nil {
		t.Errorf("nil Close() error = %v", err)
	}
}
