package meter

import (
	"errors"
	"sync"

	"github.com/nerrad567/gray-logic-meterbridge/internal/infrastructure/mqtt"
)

type propertyWrite struct {
	path  string
	value Value
	text  string
}

// MockWriter records property writes.
type MockWriter struct {
	mu     sync.Mutex
	writes []propertyWrite
	latest map[string]propertyWrite

	// failOn makes writes to this path fail.
	failOn string
}

func NewMockWriter() *MockWriter {
	return &MockWriter{latest: make(map[string]propertyWrite)}
}

func (m *MockWriter) WriteProperty(path string, value Value, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if path == m.failOn {
		return errors.New("bus write rejected")
	}
	w := propertyWrite{path: path, value: value, text: text}
	m.writes = append(m.writes, w)
	m.latest[path] = w
	return nil
}

func (m *MockWriter) Get(path string) (propertyWrite, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.latest[path]
	return w, ok
}

func (m *MockWriter) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.writes)
}

func (m *MockWriter) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writes = nil
}

// MockMQTTClient captures subscriptions and lets tests inject messages.
type MockMQTTClient struct {
	mu           sync.Mutex
	handlers     map[string]mqtt.MessageHandler
	subscribeErr error
}

func NewMockMQTTClient() *MockMQTTClient {
	return &MockMQTTClient{handlers: make(map[string]mqtt.MessageHandler)}
}

func (m *MockMQTTClient) Subscribe(topic string, _ byte, handler mqtt.MessageHandler) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.subscribeErr != nil {
		return m.subscribeErr
	}
	m.handlers[topic] = handler
	return nil
}

// SimulateMessage delivers payload to the handler subscribed on topic.
func (m *MockMQTTClient) SimulateMessage(topic string, payload []byte) error {
	m.mu.Lock()
	handler, ok := m.handlers[topic]
	m.mu.Unlock()
	if !ok {
		return errors.New("no subscription for " + topic)
	}
	return handler(topic, payload)
}

func (m *MockMQTTClient) Topics() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	topics := make([]string, 0, len(m.handlers))
	for t := range m.handlers {
		topics = append(topics, t)
	}
	return topics
}

// MockRecorder records observations.
type MockRecorder struct {
	mu       sync.Mutex
	messages []string
	cycles   []CycleReport
}

func (m *MockRecorder) RecordMessage(kind TopicKind, outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, kind.String()+":"+outcome)
}

func (m *MockRecorder) RecordCycle(report CycleReport) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cycles = append(m.cycles, report)
}

func (m *MockRecorder) Messages() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.messages...)
}

func (m *MockRecorder) Cycles() []CycleReport {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]CycleReport(nil), m.cycles...)
}

// MockLogger counts log calls by level.
type MockLogger struct {
	mu                         sync.Mutex
	debugs, infos, warns, errs []string
}

func (l *MockLogger) Debug(msg string, _ ...any) { l.add(&l.debugs, msg) }
func (l *MockLogger) Info(msg string, _ ...any)  { l.add(&l.infos, msg) }
func (l *MockLogger) Warn(msg string, _ ...any)  { l.add(&l.warns, msg) }
func (l *MockLogger) Error(msg string, _ ...any) { l.add(&l.errs, msg) }

func (l *MockLogger) add(dst *[]string, msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	*dst = append(*dst, msg)
}

func (l *MockLogger) Counts() (infos, warns, errs int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.infos), len(l.warns), len(l.errs)
}
