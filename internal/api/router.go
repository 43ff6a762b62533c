package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeNotFound(w, "no such endpoint")
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/snapshot", s.handleSnapshot)
		r.Get("/status", s.handleStatus)
	})

	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics)
	}

	r.Get("/ws", s.handleWebSocket)

	return r
}

// healthResponse is the body of GET /api/v1/health.
type healthResponse struct {
	Status        string `json:"status"`
	Version       string `json:"version"`
	MQTTConnected *bool  `json:"mqtt_connected,omitempty"`
	Initialized   bool   `json:"initialized"`
	UpdateIndex   *uint8 `json:"update_index,omitempty"`
}

// handleHealth reports ok while the broker session is up and the meter is
// not stale. Otherwise it answers 503 with status "degraded".
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	resp := healthResponse{Status: "ok", Version: s.version}

	if s.mqtt != nil {
		connected := s.mqtt.IsConnected()
		resp.MQTTConnected = &connected
		if !connected {
			resp.Status = "degraded"
		}
	}

	if snap, ok := s.snapshot(); ok {
		resp.Initialized = snap.Initialized
	}
	if cycle, ok := s.cycle(); ok {
		idx := cycle.UpdateIndex
		resp.UpdateIndex = &idx
		if s.timeout != 0 && cycle.Age > s.timeout {
			resp.Status = "degraded"
		}
	}

	status := http.StatusOK
	if resp.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

// handleSnapshot returns the live snapshot; unknown values are null.
func (s *Server) handleSnapshot(w http.ResponseWriter, _ *http.Request) {
	snap, ok := s.snapshot()
	if !ok || !snap.Initialized {
		writeUnavailable(w, "waiting for first data")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}
