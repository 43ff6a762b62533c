package meter

import (
	"context"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
)

const (
	// startupPollInterval is how often the startup wait re-checks for data.
	startupPollInterval = 5 * time.Second

	// startupWarnEvery turns every 12th startup log line (once a minute) into a warning.
	startupWarnEvery = 12
)

// Logger is the structured logger used by this package.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Monitor decides whether the meter has gone quiet.
type Monitor struct {
	// Timeout is the liveness timeout. Zero disables the check.
	Timeout time.Duration

	// Logger is optional.
	Logger Logger

	// after is time.After; replaced in tests.
	after func(time.Duration) <-chan time.Time
}

// NewMonitor returns a monitor with the given timeout. Zero disables it.
func NewMonitor(timeout time.Duration, logger Logger) *Monitor {
	return &Monitor{Timeout: timeout, Logger: logger, after: time.After}
}

// IsStale reports whether more than Timeout has passed since lastArrival.
func (m *Monitor) IsStale(now, lastArrival time.Time) bool {
	return m.Timeout != 0 && now.Sub(lastArrival) > m.Timeout
}

// WaitForFirstData blocks until ready is closed.
//
// It checks every 5 seconds, logging each step and escalating to a warning
// once a minute. With a non-zero Timeout it gives up with ErrStartupTimeout
// once the elapsed wait reaches the timeout.
func (m *Monitor) WaitForFirstData(ctx context.Context, ready <-chan struct{}) error {
	after := m.after
	if after == nil {
		after = time.After
	}

	start := time.Now()
	for step := 0; ; step++ {
		select {
		case <-ready:
			return nil
		default:
		}

		elapsed := time.Duration(step) * startupPollInterval
		if m.Logger != nil {
			if step != 0 && step%startupWarnEvery == 0 {
				m.Logger.Warn("still waiting for first data",
					"started", humanize.Time(start),
					"waited", elapsed,
				)
			} else {
				m.Logger.Info("waiting for first data", "retry_in", startupPollInterval)
			}
		}

		if m.Timeout != 0 && m.Timeout <= elapsed {
			return fmt.Errorf("%w: waited %v", ErrStartupTimeout, elapsed)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ready:
			return nil
		case <-after(startupPollInterval):
		}
	}
}
