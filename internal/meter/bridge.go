package meter

import (
	"context"
	"fmt"
	"time"

	"github.com/nerrad567/gray-logic-meterbridge/internal/infrastructure/mqtt"
)

// MQTTClient is the subset of the broker session the bridge needs.
type MQTTClient interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
}

// BridgeOptions holds configuration for creating a bridge.
type BridgeOptions struct {
	// InstantTopic and EnergyTopic are the two meter topics.
	InstantTopic string
	EnergyTopic  string
	QoS          byte

	// NominalVoltage replaces a missing voltage on instant messages.
	NominalVoltage float64

	// Timeout is the liveness timeout. Zero disables it.
	Timeout time.Duration

	MQTTClient MQTTClient
	Writer     PropertyWriter

	// Logger is optional.
	Logger Logger

	// Recorders observe messages and cycles. Optional.
	Recorders []Recorder

	// Interval is the publication period. Defaults to one second.
	Interval time.Duration
}

// Bridge connects the meter topics to the host property tree.
//
// Thread Safety: handleMessage may run on any paho delivery goroutine while
// Run ticks on its own; the Store serialises them.
type Bridge struct {
	opts       BridgeOptions
	store      *Store
	reconciler *Reconciler
	monitor    *Monitor
	publisher  *Publisher
	logger     Logger

	// now is time.Now; replaced in tests.
	now func() time.Time
}

// NewBridge creates a new bridge instance.
// Call Start to subscribe, then Run.
func NewBridge(opts BridgeOptions) (*Bridge, error) {
	if opts.MQTTClient == nil {
		return nil, fmt.Errorf("MQTT client is required")
	}
	if opts.Writer == nil {
		return nil, fmt.Errorf("property writer is required")
	}
	if opts.InstantTopic == "" || opts.EnergyTopic == "" {
		return nil, fmt.Errorf("instant and energy topics are required")
	}
	if opts.InstantTopic == opts.EnergyTopic {
		return nil, fmt.Errorf("instant and energy topics must differ")
	}

	store := NewStore()
	monitor := NewMonitor(opts.Timeout, opts.Logger)
	publisher, err := NewPublisher(PublisherOptions{
		Store:     store,
		Writer:    opts.Writer,
		Monitor:   monitor,
		Logger:    opts.Logger,
		Recorders: opts.Recorders,
		Interval:  opts.Interval,
	})
	if err != nil {
		return nil, err
	}

	return &Bridge{
		opts:       opts,
		store:      store,
		reconciler: NewReconciler(store, opts.NominalVoltage),
		monitor:    monitor,
		publisher:  publisher,
		logger:     opts.Logger,
		now:        time.Now,
	}, nil
}

// Start subscribes to both meter topics. The MQTT client restores the
// subscriptions after every reconnect.
func (b *Bridge) Start() error {
	for _, topic := range []string{b.opts.InstantTopic, b.opts.EnergyTopic} {
		if err := b.opts.MQTTClient.Subscribe(topic, b.opts.QoS, b.handleMessage); err != nil {
			return fmt.Errorf("subscribe to %s: %w", topic, err)
		}
		b.logInfo("subscribed to meter topic", "topic", topic)
	}
	return nil
}

// Run waits for the first instant message, then publishes until ctx is
// cancelled or a fatal error occurs. Cancellation returns nil.
func (b *Bridge) Run(ctx context.Context) error {
	if err := b.monitor.WaitForFirstData(ctx, b.store.Ready()); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}
	b.logInfo("first data received, publishing", "interval", b.publisher.interval)

	return b.publisher.Run(ctx)
}

// Snapshot returns a copy of the current measurement state.
func (b *Bridge) Snapshot() Snapshot {
	return b.store.Snapshot()
}

// handleMessage feeds one payload to the reconciler. Every reconciliation
// error is logged and absorbed.
func (b *Bridge) handleMessage(topic string, payload []byte) error {
	kind := b.kindOf(topic)
	err := b.reconciler.Apply(kind, payload, b.now())
	outcome := Outcome(err)

	for _, r := range b.opts.Recorders {
		r.RecordMessage(kind, outcome)
	}

	if b.logger == nil {
		return nil
	}
	switch {
	case err == nil:
		b.logger.Debug("meter message applied", "topic", topic, "kind", kind.String(), "payload", string(payload))
	case outcome == OutcomeEmpty:
		b.logger.Warn("meter message was empty and was ignored", "topic", topic, "kind", kind.String())
	default:
		b.logger.Error("meter message rejected",
			"topic", topic,
			"kind", kind.String(),
			"reason", outcome,
			"error", err,
		)
		b.logger.Debug("rejected payload", "topic", topic, "payload", string(payload))
	}
	return nil
}

func (b *Bridge) kindOf(topic string) TopicKind {
	switch topic {
	case b.opts.InstantTopic:
		return KindInstant
	case b.opts.EnergyTopic:
		return KindEnergy
	default:
		return 0
	}
}

func (b *Bridge) logInfo(msg string, args ...any) {
	if b.logger != nil {
		b.logger.Info(msg, args...)
	}
}
