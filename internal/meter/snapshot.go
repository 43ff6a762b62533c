package meter

import (
	"sync"
	"time"
)

// Snapshot is the latest known state of the meter.
type Snapshot struct {
	Power         Value `json:"power"`
	Voltage       Value `json:"voltage"`
	Current       Value `json:"current"`
	Frequency     Value `json:"frequency"`
	PowerFactor   Value `json:"power_factor"`
	EnergyForward Value `json:"energy_forward"`
	EnergyReverse Value `json:"energy_reverse"`

	// LastArrival is set by every accepted message on either topic.
	LastArrival time.Time `json:"last_arrival"`

	// LastPublished is the LastArrival value of the most recent emission.
	LastPublished time.Time `json:"last_published"`

	// Initialized is true once the first instant message was accepted.
	Initialized bool `json:"initialized"`
}

// Changed reports whether the snapshot holds data not yet emitted.
func (s Snapshot) Changed() bool {
	return !s.LastArrival.Equal(s.LastPublished)
}

// Store owns the snapshot. Every read and write goes through one mutex, so a
// reader never sees a message half applied.
type Store struct {
	mu   sync.Mutex
	snap Snapshot

	ready     chan struct{}
	readyOnce sync.Once
}

// NewStore returns a store with every field unknown.
func NewStore() *Store {
	return &Store{ready: make(chan struct{})}
}

// Ready is closed when the first instant message has been accepted.
func (s *Store) Ready() <-chan struct{} {
	return s.ready
}

// Snapshot returns a copy of the current state.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap
}

// Collect returns a copy of the current state and whether it changed since
// the last MarkPublished.
func (s *Store) Collect() (Snapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap, s.snap.Changed()
}

// MarkPublished records that the state with the given arrival time has been
// emitted. A message accepted after the matching Collect keeps the snapshot
// changed.
func (s *Store) MarkPublished(arrival time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.LastPublished = arrival
}

// LastArrival returns the time of the last accepted message.
func (s *Store) LastArrival() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap.LastArrival
}

// update applies fn under the lock.
func (s *Store) update(fn func(*Snapshot)) {
	s.mu.Lock()
	fn(&s.snap)
	initialized := s.snap.Initialized
	s.mu.Unlock()

	if initialized {
		s.readyOnce.Do(func() { close(s.ready) })
	}
}
