package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-meterbridge/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-meterbridge/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-meterbridge/internal/meter"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// SnapshotSource provides the live meter state.
type SnapshotSource interface {
	Snapshot() meter.Snapshot
}

// ConnectionState reports the broker session state.
type ConnectionState interface {
	IsConnected() bool
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config config.APIConfig
	Logger *logging.Logger

	// MQTT is optional; health reports it when set.
	MQTT ConnectionState

	// Metrics serves /metrics when set.
	Metrics http.Handler

	// Timeout is the liveness timeout used to judge health. Zero disables it.
	Timeout time.Duration

	Version string
}

// Server is the status HTTP server.
//
// It also implements meter.Recorder: every publication cycle is remembered
// for /api/v1/health and pushed to WebSocket subscribers.
//
// Thread Safety: All methods are safe for concurrent use from multiple goroutines.
type Server struct {
	cfg       config.APIConfig
	logger    *logging.Logger
	mqtt      ConnectionState
	metrics   http.Handler
	timeout   time.Duration
	version   string
	startTime time.Time

	server   *http.Server
	listener net.Listener
	hub      *Hub
	cancel   context.CancelFunc

	mu        sync.RWMutex
	source    SnapshotSource
	lastCycle *meter.CycleReport
}

// New creates a new API server. It is not listening until Start.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	return &Server{
		cfg:       deps.Config,
		logger:    deps.Logger,
		mqtt:      deps.MQTT,
		metrics:   deps.Metrics,
		timeout:   deps.Timeout,
		version:   deps.Version,
		startTime: time.Now(),
		hub:       NewHub(deps.Logger),
	}, nil
}

// SetSource sets the live snapshot source. The bridge takes the server as a
// recorder at construction, so the source is wired afterwards.
func (s *Server) SetSource(src SnapshotSource) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.source = src
}

// Start binds the listener and serves in the background. A bind failure
// (port in use) is returned.
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	go s.hub.Run(srvCtx)

	s.server = &http.Server{
		Handler:           s.buildRouter(),
		ReadTimeout:       s.cfg.GetReadTimeout(),
		ReadHeaderTimeout: s.cfg.GetReadTimeout(),
		WriteTimeout:      s.cfg.GetWriteTimeout(),
		IdleTimeout:       s.cfg.GetIdleTimeout(),
	}

	ln, err := net.Listen("tcp", fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port))
	if err != nil {
		s.cancel()
		return fmt.Errorf("API listen: %w", err)
	}
	s.listener = ln

	s.logger.Info("API server starting", "address", ln.Addr().String())
	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Addr returns the bound address, or "" before Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Close gracefully shuts down the API server, waiting up to 10 seconds for
// in-flight requests.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// RecordMessage is a no-op; message counts are served by /metrics.
func (s *Server) RecordMessage(meter.TopicKind, string) {}

// RecordCycle remembers the cycle and pushes it to WebSocket subscribers.
func (s *Server) RecordCycle(report meter.CycleReport) {
	s.mu.Lock()
	s.lastCycle = &report
	s.mu.Unlock()

	s.hub.Broadcast(ChannelCycle, cyclePayload(report))
	if report.Changed {
		s.hub.Broadcast(ChannelSnapshot, report.Snapshot)
	}
}

func (s *Server) snapshot() (meter.Snapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.source != nil {
		return s.source.Snapshot(), true
	}
	if s.lastCycle != nil {
		return s.lastCycle.Snapshot, true
	}
	return meter.Snapshot{}, false
}

func (s *Server) cycle() (meter.CycleReport, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.lastCycle == nil {
		return meter.CycleReport{}, false
	}
	return *s.lastCycle, true
}
