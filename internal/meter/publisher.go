package meter

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// defaultPublishInterval is the publication tick period.
const defaultPublishInterval = time.Second

// PropertyWriter writes one property to the host tree.
//
// An unknown value must be rendered as the backend's "no value" marker and
// text is empty for unknown values. A returned error is fatal.
type PropertyWriter interface {
	WriteProperty(path string, value Value, text string) error
}

// CycleReport describes one publication tick.
type CycleReport struct {
	At          time.Time     `json:"at"`
	Snapshot    Snapshot      `json:"snapshot"`
	Changed     bool          `json:"changed"`
	UpdateIndex uint8         `json:"update_index"`
	Age         time.Duration `json:"age"`
}

// Recorder observes ingestion and publication. Implementations must not block.
type Recorder interface {
	RecordMessage(kind TopicKind, outcome string)
	RecordCycle(report CycleReport)
}

// Message outcomes passed to Recorder.RecordMessage.
const (
	OutcomeAccepted       = "accepted"
	OutcomeEmpty          = "empty"
	OutcomeMalformed      = "malformed"
	OutcomeSchemaMismatch = "schema_mismatch"
	OutcomeTypeMismatch   = "type_mismatch"
	OutcomeUnknownTopic   = "unknown_topic"
)

// Outcome classifies an error returned by Reconciler.Apply.
func Outcome(err error) string {
	switch {
	case err == nil:
		return OutcomeAccepted
	case errors.Is(err, ErrEmptyPayload):
		return OutcomeEmpty
	case errors.Is(err, ErrSchemaMismatch):
		return OutcomeSchemaMismatch
	case errors.Is(err, ErrTypeMismatch):
		return OutcomeTypeMismatch
	case errors.Is(err, ErrUnknownTopic):
		return OutcomeUnknownTopic
	default:
		return OutcomeMalformed
	}
}

// Publisher copies the snapshot to the host tree once per tick.
//
// Each tick writes every measurement property when the snapshot changed,
// fails with ErrStale when the meter went quiet, then advances and writes
// UpdateIndex. The index advances on every tick, changed or not, and wraps
// from 255 to 0.
type Publisher struct {
	store     *Store
	writer    PropertyWriter
	monitor   *Monitor
	logger    Logger
	recorders []Recorder
	interval  time.Duration

	updateIndex uint8
}

// PublisherOptions holds the dependencies of a Publisher.
type PublisherOptions struct {
	Store     *Store
	Writer    PropertyWriter
	Monitor   *Monitor
	Logger    Logger
	Recorders []Recorder

	// Interval defaults to one second.
	Interval time.Duration
}

// NewPublisher validates opts and returns a publisher.
func NewPublisher(opts PublisherOptions) (*Publisher, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if opts.Writer == nil {
		return nil, fmt.Errorf("property writer is required")
	}
	if opts.Monitor == nil {
		opts.Monitor = NewMonitor(0, opts.Logger)
	}
	if opts.Interval <= 0 {
		opts.Interval = defaultPublishInterval
	}

	return &Publisher{
		store:     opts.Store,
		writer:    opts.Writer,
		monitor:   opts.Monitor,
		logger:    opts.Logger,
		recorders: opts.Recorders,
		interval:  opts.Interval,
	}, nil
}

// Run ticks until ctx is cancelled or a tick fails. Cancellation returns nil.
func (p *Publisher) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			if err := p.Tick(now); err != nil {
				return err
			}
		}
	}
}

// Tick runs one publication cycle at now.
func (p *Publisher) Tick(now time.Time) error {
	snap, changed := p.store.Collect()

	if changed {
		for _, prop := range measurementProperties {
			v := prop.value(snap)
			text := ""
			if x, ok := v.Get(); ok {
				text = prop.format(x)
			}
			if err := p.write(prop.path, v.Rounded(), text); err != nil {
				return err
			}
		}
		p.store.MarkPublished(snap.LastArrival)
		snap.LastPublished = snap.LastArrival
		if p.logger != nil {
			p.logger.Debug("snapshot published",
				"power", snap.Power,
				"voltage", snap.Voltage,
				"current", snap.Current,
				"energy_forward", snap.EnergyForward,
				"energy_reverse", snap.EnergyReverse,
			)
		}
	}

	age := now.Sub(snap.LastArrival)
	if p.monitor.IsStale(now, snap.LastArrival) {
		return fmt.Errorf("%w: last message %v ago, timeout %v", ErrStale, age.Truncate(time.Second), p.monitor.Timeout)
	}

	p.updateIndex++
	index := float64(p.updateIndex)
	if err := p.write(PathUpdateIndex, Known(index), formatInteger(index)); err != nil {
		return err
	}

	report := CycleReport{
		At:          now,
		Snapshot:    snap,
		Changed:     changed,
		UpdateIndex: p.updateIndex,
		Age:         age,
	}
	for _, r := range p.recorders {
		r.RecordCycle(report)
	}

	return nil
}

// UpdateIndex returns the last written heartbeat value.
func (p *Publisher) UpdateIndex() uint8 {
	return p.updateIndex
}

func (p *Publisher) write(path string, v Value, text string) error {
	if err := p.writer.WriteProperty(path, v, text); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrPublication, path, err)
	}
	return nil
}
