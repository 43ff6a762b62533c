package propbus

import (
	"errors"
	"sync"

	"github.com/godbus/dbus/v5"
)

type emitted struct {
	path    dbus.ObjectPath
	name    string
	changes map[string]dbus.Variant
}

// MockConn stands in for *dbus.Conn.
type MockConn struct {
	mu       sync.Mutex
	exported map[dbus.ObjectPath]any
	signals  []emitted
	reply    dbus.RequestNameReply
	names    []string
	emitErr  error
	closed   bool
}

func NewMockConn() *MockConn {
	return &MockConn{
		exported: make(map[dbus.ObjectPath]any),
		reply:    dbus.RequestNameReplyPrimaryOwner,
	}
}

func (c *MockConn) Export(v any, path dbus.ObjectPath, iface string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if iface != busItemInterface {
		return errors.New("unexpected interface " + iface)
	}
	c.exported[path] = v
	return nil
}

func (c *MockConn) Emit(path dbus.ObjectPath, name string, values ...any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.emitErr != nil {
		return c.emitErr
	}
	changes, _ := values[0].(map[string]dbus.Variant)
	c.signals = append(c.signals, emitted{path: path, name: name, changes: changes})
	return nil
}

func (c *MockConn) RequestName(name string, _ dbus.RequestNameFlags) (dbus.RequestNameReply, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.names = append(c.names, name)
	return c.reply, nil
}

func (c *MockConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *MockConn) object(path string) any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.exported[dbus.ObjectPath(path)]
}

func (c *MockConn) Signals() []emitted {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]emitted(nil), c.signals...)
}

// MockPublisher records retained publishes.
type MockPublisher struct {
	mu       sync.Mutex
	messages map[string][]byte
	count    int
	err      error
}

func NewMockPublisher() *MockPublisher {
	return &MockPublisher{messages: make(map[string][]byte)}
}

func (p *MockPublisher) PublishRetained(topic string, payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.messages[topic] = payload
	p.count++
	return nil
}

func (p *MockPublisher) Message(topic string) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	m, ok := p.messages[topic]
	return string(m), ok
}

func (p *MockPublisher) Count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.count
}

func (p *MockPublisher) setErr(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}

// nopLogger discards everything.
type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}

var testDevice = Device{
	Type:       "grid",
	Instance:   31,
	TypeName:   "Grid",
	CustomName: "House meter",
	Version:    "1.2.0",
}
