package propbus

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"

	jsoniter "github.com/json-iterator/go"

	"github.com/nerrad567/gray-logic-meterbridge/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-meterbridge/internal/meter"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// RetainedPublisher is the subset of the MQTT client the mirror uses.
type RetainedPublisher interface {
	PublishRetained(topic string, payload []byte) error
}

// mirrorPayload is the retained message body for one path.
type mirrorPayload struct {
	Value any    `json:"value"`
	Text  string `json:"text"`
}

// MQTTMirror publishes the property tree as retained JSON messages under
// <prefix>/<type>/<instance>. It implements meter.PropertyWriter.
//
// While the broker session is down writes are kept and Republish sends the
// whole tree again once it is back.
type MQTTMirror struct {
	client RetainedPublisher
	topics mqtt.Topics
	device Device
	logger Logger

	mu    sync.Mutex
	items map[string]item
}

// NewMQTTMirror creates a mirror below prefix.
func NewMQTTMirror(client RetainedPublisher, prefix string, device Device, logger Logger) *MQTTMirror {
	return &MQTTMirror{
		client: client,
		topics: mqtt.Topics{Prefix: prefix + "/" + device.Type + "/" + strconv.Itoa(device.Instance)},
		device: device,
		logger: logger,
		items:  make(map[string]item),
	}
}

// Start publishes the management items and every measurement path.
func (m *MQTTMirror) Start() error {
	m.mu.Lock()
	for _, it := range append(m.device.managementItems(), measurementItems()...) {
		m.items[it.path] = it
	}
	m.mu.Unlock()

	if err := m.Republish(); err != nil {
		return err
	}
	if m.logger != nil {
		m.logger.Info("property mirror started", "topic", m.topics.AllProperties())
	}
	return nil
}

// WriteProperty publishes one path when its value or text changed.
func (m *MQTTMirror) WriteProperty(path string, value meter.Value, text string) error {
	next := measurementItem(path, value, text)

	m.mu.Lock()
	prev, ok := m.items[path]
	if ok && prev.value == next.value && prev.text == next.text {
		m.mu.Unlock()
		return nil
	}
	m.items[path] = next
	m.mu.Unlock()

	return m.publish(next)
}

// Republish sends every stored path again.
func (m *MQTTMirror) Republish() error {
	m.mu.Lock()
	items := make([]item, 0, len(m.items))
	for _, it := range m.items {
		items = append(items, it)
	}
	m.mu.Unlock()

	sort.Slice(items, func(i, j int) bool { return items[i].path < items[j].path })
	for _, it := range items {
		if err := m.publish(it); err != nil {
			return err
		}
	}
	return nil
}

// Topics returns the mirror's topic builder.
func (m *MQTTMirror) Topics() mqtt.Topics {
	return m.topics
}

func (m *MQTTMirror) publish(it item) error {
	payload, err := json.Marshal(mirrorPayload{Value: it.value, Text: it.text})
	if err != nil {
		return fmt.Errorf("encode %s: %w", it.path, err)
	}

	err = m.client.PublishRetained(m.topics.Property(it.path), payload)
	if errors.Is(err, mqtt.ErrNotConnected) {
		if m.logger != nil {
			m.logger.Debug("broker offline, property held for republish", "path", it.path)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("publish %s: %w", it.path, err)
	}
	return nil
}
