package propbus

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/godbus/dbus/v5"

	"github.com/nerrad567/gray-logic-meterbridge/internal/meter"
)

const (
	// busItemInterface is the Victron property interface.
	busItemInterface = "com.victronenergy.BusItem"

	signalPropertiesChanged = busItemInterface + ".PropertiesChanged"

	// SetValue replies.
	setValueOK       int32 = 0
	setValueRejected int32 = 1
)

// Logger is the structured logger used by this package.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

// busConn is the subset of *dbus.Conn the service uses.
type busConn interface {
	Export(v any, path dbus.ObjectPath, iface string) error
	Emit(path dbus.ObjectPath, name string, values ...any) error
	RequestName(name string, flags dbus.RequestNameFlags) (dbus.RequestNameReply, error)
	Close() error
}

// ConnectBus opens the system or session bus.
func ConnectBus(bus string) (*dbus.Conn, error) {
	switch bus {
	case "", "system":
		return dbus.ConnectSystemBus()
	case "session":
		return dbus.ConnectSessionBus()
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBus, bus)
	}
}

// DBusService publishes the property tree as com.victronenergy.BusItem
// objects. It implements meter.PropertyWriter.
//
// Thread Safety: exported methods run on godbus handler goroutines while
// WriteProperty runs on the publisher; all item state is under mu.
type DBusService struct {
	conn   busConn
	device Device
	logger Logger

	mu      sync.RWMutex
	items   map[string]*busItem
	started bool
}

// NewDBusService creates a service on conn. Call Start to register it.
func NewDBusService(conn busConn, device Device, logger Logger) *DBusService {
	return &DBusService{
		conn:   conn,
		device: device,
		logger: logger,
		items:  make(map[string]*busItem),
	}
}

// Start exports the root object, the management items and every
// measurement path, then claims the service name. The name is requested
// last so that clients never see a partial tree.
func (s *DBusService) Start() error {
	if err := s.conn.Export(&rootItem{svc: s}, "/", busItemInterface); err != nil {
		return fmt.Errorf("export root: %w", err)
	}

	items := append(s.device.managementItems(), measurementItems()...)
	for _, it := range items {
		if err := s.export(it); err != nil {
			return err
		}
	}

	name := s.device.ServiceName()
	reply, err := s.conn.RequestName(name, dbus.NameFlagDoNotQueue)
	if err != nil {
		return fmt.Errorf("request name %s: %w", name, err)
	}
	if reply != dbus.RequestNameReplyPrimaryOwner {
		return fmt.Errorf("%w: %s", ErrNameTaken, name)
	}

	s.mu.Lock()
	s.started = true
	s.mu.Unlock()

	s.logInfo("registered on D-Bus", "service", name, "paths", len(items))
	return nil
}

// Close releases the bus connection.
func (s *DBusService) Close() error {
	s.mu.Lock()
	s.started = false
	s.mu.Unlock()
	return s.conn.Close()
}

// WriteProperty stores a value and emits PropertiesChanged when the value or
// its text changed.
func (s *DBusService) WriteProperty(path string, value meter.Value, text string) error {
	next := measurementItem(path, value, text)

	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return ErrNotStarted
	}
	bi, ok := s.items[path]
	if !ok {
		s.mu.Unlock()
		if err := s.export(next); err != nil {
			return err
		}
		return s.emit(next)
	}
	if bi.value == next.value && bi.text == next.text {
		s.mu.Unlock()
		return nil
	}
	bi.value = next.value
	bi.text = next.text
	s.mu.Unlock()

	return s.emit(next)
}

// export registers one object. Caller must not hold mu.
func (s *DBusService) export(it item) error {
	bi := &busItem{svc: s, path: it.path, value: it.value, text: it.text, writable: it.writable}
	if err := s.conn.Export(bi, dbus.ObjectPath(it.path), busItemInterface); err != nil {
		return fmt.Errorf("export %s: %w", it.path, err)
	}
	s.mu.Lock()
	s.items[it.path] = bi
	s.mu.Unlock()
	return nil
}

func (s *DBusService) emit(it item) error {
	changes := map[string]dbus.Variant{
		"Value": encodeValue(it.value),
		"Text":  dbus.MakeVariant(it.text),
	}
	if err := s.conn.Emit(dbus.ObjectPath(it.path), signalPropertiesChanged, changes); err != nil {
		return fmt.Errorf("emit %s: %w", it.path, err)
	}
	return nil
}

func (s *DBusService) logInfo(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Info(msg, args...)
	}
}

// encodeValue wraps a value for the bus. No value is an empty int array.
func encodeValue(v any) dbus.Variant {
	if v == nil {
		return dbus.MakeVariant([]int32{})
	}
	return dbus.MakeVariant(v)
}

// busItem is one exported path.
type busItem struct {
	svc      *DBusService
	path     string
	value    any
	text     string
	writable bool
}

// GetValue implements com.victronenergy.BusItem.GetValue.
func (b *busItem) GetValue() (dbus.Variant, *dbus.Error) {
	b.svc.mu.RLock()
	defer b.svc.mu.RUnlock()
	return encodeValue(b.value), nil
}

// GetText implements com.victronenergy.BusItem.GetText.
func (b *busItem) GetText() (string, *dbus.Error) {
	b.svc.mu.RLock()
	defer b.svc.mu.RUnlock()
	return b.text, nil
}

// SetValue accepts external writes on measurement paths. The next
// publication overwrites them.
func (b *busItem) SetValue(v dbus.Variant) (int32, *dbus.Error) {
	if !b.writable {
		return setValueRejected, nil
	}

	b.svc.mu.Lock()
	b.value = decodeValue(v)
	b.text = fmt.Sprint(v.Value())
	if b.value == nil {
		b.text = noValueText
	}
	b.svc.mu.Unlock()

	if b.svc.logger != nil {
		b.svc.logger.Debug("external write on property", "path", b.path, "value", v.String())
	}
	return setValueOK, nil
}

// decodeValue maps an incoming variant to the stored form. An empty array
// clears the value.
func decodeValue(v dbus.Variant) any {
	switch x := v.Value().(type) {
	case []int32:
		if len(x) == 0 {
			return nil
		}
		return x
	default:
		return x
	}
}

// rootItem serves the whole tree at "/".
type rootItem struct {
	svc *DBusService
}

// GetItems returns every path with its value and text.
func (r *rootItem) GetItems() (map[string]map[string]dbus.Variant, *dbus.Error) {
	r.svc.mu.RLock()
	defer r.svc.mu.RUnlock()

	out := make(map[string]map[string]dbus.Variant, len(r.svc.items))
	for path, bi := range r.svc.items {
		out[path] = map[string]dbus.Variant{
			"Value": encodeValue(bi.value),
			"Text":  dbus.MakeVariant(bi.text),
		}
	}
	return out, nil
}

// GetValue returns every value keyed by path without the leading slash.
func (r *rootItem) GetValue() (dbus.Variant, *dbus.Error) {
	r.svc.mu.RLock()
	defer r.svc.mu.RUnlock()

	values := make(map[string]dbus.Variant, len(r.svc.items))
	for path, bi := range r.svc.items {
		values[strings.TrimPrefix(path, "/")] = encodeValue(bi.value)
	}
	return dbus.MakeVariant(values), nil
}

// GetText returns every text keyed by path without the leading slash.
func (r *rootItem) GetText() (dbus.Variant, *dbus.Error) {
	r.svc.mu.RLock()
	defer r.svc.mu.RUnlock()

	texts := make(map[string]string, len(r.svc.items))
	for path, bi := range r.svc.items {
		texts[strings.TrimPrefix(path, "/")] = bi.text
	}
	return dbus.MakeVariant(texts), nil
}

// Paths returns the registered paths, sorted.
func (s *DBusService) Paths() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	paths := make([]string, 0, len(s.items))
	for p := range s.items {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}
