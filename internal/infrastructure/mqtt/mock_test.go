package mqtt

import (
	"fmt"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

// mockToken is a paho token that completes immediately.
type mockToken struct {
	err     error
	timeout bool
}

func (t *mockToken) Wait() bool                     { return !t.timeout }
func (t *mockToken) WaitTimeout(time.Duration) bool { return !t.timeout }
func (t *mockToken) Error() error                   { return t.err }
func (t *mockToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	if !t.timeout {
		close(ch)
	}
	return ch
}

type mockPublish struct {
	topic    string
	qos      byte
	retained bool
	payload  []byte
}

// mockPahoClient implements pahomqtt.Client without a broker.
//
// Connect consumes connectErrs in order; once exhausted it succeeds. A
// successful Connect invokes the OnConnect handler synchronously.
type mockPahoClient struct {
	mu             sync.Mutex
	opts           *pahomqtt.ClientOptions
	connected      bool
	connectErrs    []error
	connectTimeout bool
	connectCalls   int
	subscribeErr   error
	subscribed     []string
	handlers       map[string]pahomqtt.MessageHandler
	published      []mockPublish
	disconnects    int
}

func newMockFactory(m *mockPahoClient) clientFactory {
	return func(opts *pahomqtt.ClientOptions) pahomqtt.Client {
		m.mu.Lock()
		m.opts = opts
		if m.handlers == nil {
			m.handlers = make(map[string]pahomqtt.MessageHandler)
		}
		m.mu.Unlock()
		return m
	}
}

func (m *mockPahoClient) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *mockPahoClient) IsConnectionOpen() bool { return m.IsConnected() }

func (m *mockPahoClient) Connect() pahomqtt.Token {
	m.mu.Lock()
	m.connectCalls++
	if m.connectTimeout {
		m.mu.Unlock()
		return &mockToken{timeout: true}
	}
	if len(m.connectErrs) > 0 {
		err := m.connectErrs[0]
		m.connectErrs = m.connectErrs[1:]
		m.mu.Unlock()
		return &mockToken{err: err}
	}
	m.connected = true
	onConnect := m.opts.OnConnect
	m.mu.Unlock()

	if onConnect != nil {
		onConnect(m)
	}
	return &mockToken{}
}

func (m *mockPahoClient) Disconnect(uint) {
	m.mu.Lock()
	m.connected = false
	m.disconnects++
	m.mu.Unlock()
}

func (m *mockPahoClient) Publish(topic string, qos byte, retained bool, payload interface{}) pahomqtt.Token {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := payload.([]byte)
	if !ok {
		data = []byte(fmt.Sprint(payload))
	}
	m.published = append(m.published, mockPublish{topic: topic, qos: qos, retained: retained, payload: data})
	return &mockToken{}
}

func (m *mockPahoClient) Subscribe(topic string, _ byte, callback pahomqtt.MessageHandler) pahomqtt.Token {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.subscribeErr != nil {
		return &mockToken{err: m.subscribeErr}
	}
	m.subscribed = append(m.subscribed, topic)
	m.handlers[topic] = callback
	return &mockToken{}
}

func (m *mockPahoClient) SubscribeMultiple(filters map[string]byte, callback pahomqtt.MessageHandler) pahomqtt.Token {
	for topic, qos := range filters {
		m.Subscribe(topic, qos, callback)
	}
	return &mockToken{}
}

func (m *mockPahoClient) Unsubscribe(topics ...string) pahomqtt.Token {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, topic := range topics {
		delete(m.handlers, topic)
	}
	return &mockToken{}
}

func (m *mockPahoClient) AddRoute(string, pahomqtt.MessageHandler) {}

func (m *mockPahoClient) OptionsReader() pahomqtt.ClientOptionsReader {
	return pahomqtt.NewOptionsReader(m.opts)
}

// dropConnection simulates the broker going away.
func (m *mockPahoClient) dropConnection(err error) {
	m.mu.Lock()
	m.connected = false
	onLost := m.opts.OnConnectionLost
	m.mu.Unlock()

	if onLost != nil {
		onLost(m, err)
	}
}

// deliver invokes the handler registered for topic.
func (m *mockPahoClient) deliver(topic string, payload []byte) bool {
	m.mu.Lock()
	handler, ok := m.handlers[topic]
	m.mu.Unlock()
	if !ok {
		return false
	}
	handler(m, &mockMessage{topic: topic, payload: payload})
	return true
}

func (m *mockPahoClient) snapshot() (connectCalls int, subscribed []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connectCalls, append([]string(nil), m.subscribed...)
}

type mockMessage struct {
	topic   string
	payload []byte
}

func (m *mockMessage) Duplicate() bool   { return false }
func (m *mockMessage) Qos() byte         { return 0 }
func (m *mockMessage) Retained() bool    { return false }
func (m *mockMessage) Topic() string     { return m.topic }
func (m *mockMessage) MessageID() uint16 { return 0 }
func (m *mockMessage) Payload() []byte   { return m.payload }
func (m *mockMessage) Ack()              {}

// mockLogger records log calls by level.
type mockLogger struct {
	mu     sync.Mutex
	infos  []string
	warns  []string
	errors []string
}

func (l *mockLogger) Info(msg string, _ ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.infos = append(l.infos, msg)
}

func (l *mockLogger) Warn(msg string, _ ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.warns = append(l.warns, msg)
}

func (l *mockLogger) Error(msg string, _ ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errors = append(l.errors, msg)
}

func (l *mockLogger) counts() (infos, warns, errs int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.infos), len(l.warns), len(l.errors)
}
