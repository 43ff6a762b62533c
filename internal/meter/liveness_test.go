package meter

import (
	"context"
	"errors"
	"testing"
	"time"
)

// instantAfter fires immediately so startup steps run without sleeping.
func instantAfter(time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	ch <- time.Time{}
	return ch
}

func TestMonitor_IsStale(t *testing.T) {
	tests := []struct {
		name    string
		timeout time.Duration
		age     time.Duration
		want    bool
	}{
		{"fresh", time.Minute, time.Second, false},
		{"exactly at timeout", time.Minute, time.Minute, false},
		{"past timeout", time.Minute, time.Minute + time.Millisecond, true},
		{"disabled", 0, 24 * time.Hour, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewMonitor(tt.timeout, nil)
			if got := m.IsStale(testNow.Add(tt.age), testNow); got != tt.want {
				t.Errorf("IsStale() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMonitor_WaitForFirstDataReady(t *testing.T) {
	m := NewMonitor(time.Minute, nil)
	ready := make(chan struct{})
	close(ready)

	if err := m.WaitForFirstData(context.Background(), ready); err != nil {
		t.Errorf("WaitForFirstData() error = %v", err)
	}
}

func TestMonitor_WaitForFirstDataArrivesLater(t *testing.T) {
	logger := &MockLogger{}
	m := NewMonitor(time.Minute, logger)

	ready := make(chan struct{})
	steps := 0
	m.after = func(time.Duration) <-chan time.Time {
		steps++
		if steps == 3 {
			close(ready)
		}
		return instantAfter(0)
	}

	if err := m.WaitForFirstData(context.Background(), ready); err != nil {
		t.Fatalf("WaitForFirstData() error = %v", err)
	}
	if infos, warns, _ := logger.Counts(); infos != 3 || warns != 0 {
		t.Errorf("logged %d infos, %d warns; want 3, 0", infos, warns)
	}
}

func TestMonitor_WaitForFirstDataTimeout(t *testing.T) {
	logger := &MockLogger{}
	m := NewMonitor(60*time.Second, logger)

	var waits []time.Duration
	m.after = func(d time.Duration) <-chan time.Time {
		waits = append(waits, d)
		return instantAfter(d)
	}

	err := m.WaitForFirstData(context.Background(), make(chan struct{}))
	if !errors.Is(err, ErrStartupTimeout) {
		t.Fatalf("WaitForFirstData() error = %v, want ErrStartupTimeout", err)
	}

	// Steps 0..11 sleep; step 12 (60 s) warns and gives up.
	if len(waits) != 12 {
		t.Errorf("slept %d times, want 12", len(waits))
	}
	for _, d := range waits {
		if d != 5*time.Second {
			t.Errorf("poll interval = %v, want 5s", d)
		}
	}
	if infos, warns, _ := logger.Counts(); infos != 12 || warns != 1 {
		t.Errorf("logged %d infos, %d warns; want 12, 1", infos, warns)
	}
}

func TestMonitor_WaitForFirstDataNoTimeout(t *testing.T) {
	logger := &MockLogger{}
	m := NewMonitor(0, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	steps := 0
	m.after = func(time.Duration) <-chan time.Time {
		steps++
		if steps == 30 {
			cancel()
			return make(chan time.Time)
		}
		return instantAfter(0)
	}

	err := m.WaitForFirstData(ctx, make(chan struct{}))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("WaitForFirstData() error = %v, want context.Canceled", err)
	}
	if _, warns, _ := logger.Counts(); warns != 2 {
		t.Errorf("logged %d warns over 30 steps, want 2", warns)
	}
}
