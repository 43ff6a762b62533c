package api

import (
	"net/http"
	"runtime"
	"time"

	"github.com/dustin/go-humanize"
)

// StatusResponse is the body of GET /api/v1/status.
type StatusResponse struct {
	Timestamp     string         `json:"timestamp"`
	Version       string         `json:"version"`
	UptimeSeconds int64          `json:"uptime_seconds"`
	Runtime       RuntimeMetrics `json:"runtime"`
	WebSocket     WSMetrics      `json:"websocket"`
	MQTT          *MQTTMetrics   `json:"mqtt,omitempty"`
	Bridge        BridgeMetrics  `json:"bridge"`
}

// RuntimeMetrics contains Go runtime statistics.
type RuntimeMetrics struct {
	Goroutines    int     `json:"goroutines"`
	MemoryAllocMB float64 `json:"memory_alloc_mb"`
	NumGC         uint32  `json:"num_gc"`
}

// WSMetrics contains WebSocket hub statistics.
type WSMetrics struct {
	ConnectedClients int `json:"connected_clients"`
}

// MQTTMetrics contains MQTT client statistics.
type MQTTMetrics struct {
	Connected bool `json:"connected"`
}

// BridgeMetrics describes the publication loop.
type BridgeMetrics struct {
	Initialized bool   `json:"initialized"`
	UpdateIndex uint8  `json:"update_index"`
	LastMessage string `json:"last_message,omitempty"`
	Memory      string `json:"memory"`
}

// handleStatus returns process and bridge statistics.
func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	status := StatusResponse{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Runtime: RuntimeMetrics{
			Goroutines:    runtime.NumGoroutine(),
			MemoryAllocMB: float64(memStats.Alloc) / 1024 / 1024,
			NumGC:         memStats.NumGC,
		},
		WebSocket: WSMetrics{
			ConnectedClients: s.hub.ClientCount(),
		},
		Bridge: BridgeMetrics{
			Memory: humanize.Bytes(memStats.Alloc),
		},
	}

	if s.mqtt != nil {
		status.MQTT = &MQTTMetrics{Connected: s.mqtt.IsConnected()}
	}

	if snap, ok := s.snapshot(); ok {
		status.Bridge.Initialized = snap.Initialized
		if !snap.LastArrival.IsZero() {
			status.Bridge.LastMessage = humanize.Time(snap.LastArrival)
		}
	}
	if cycle, ok := s.cycle(); ok {
		status.Bridge.UpdateIndex = cycle.UpdateIndex
	}

	writeJSON(w, http.StatusOK, status)
}
