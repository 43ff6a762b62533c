package mqtt

import (
	"context"
	"fmt"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/gray-logic-meterbridge/internal/infrastructure/config"
)

// Client wraps paho.mqtt.golang with the session handling the meter bridge needs.
//
// paho's own reconnect logic is disabled. When the connection drops the client
// retries with a fixed delay (mqtt.reconnect.delay) until it succeeds or Close
// is called, and re-subscribes every tracked topic on each successful connect.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Client struct {
	client  pahomqtt.Client
	options *pahomqtt.ClientOptions
	cfg     config.MQTTConfig

	// subscriptions tracks active subscriptions for re-subscription on reconnect.
	subscriptions map[string]subscription
	subMu         sync.RWMutex

	connected bool
	connMu    sync.RWMutex

	onConnect    func()
	onDisconnect func(err error)
	onReconnect  func(attempt int)
	callbackMu   sync.RWMutex

	logger   Logger
	loggerMu sync.RWMutex

	// reconnecting is true while the reconnect loop runs. At most one loop
	// runs at a time.
	reconnecting bool
	reconnectMu  sync.Mutex

	// after is time.After; replaced in tests.
	after func(time.Duration) <-chan time.Time

	closed    chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// Logger interface for optional logging support.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type subscription struct {
	topic   string
	qos     byte
	handler MessageHandler
}

// MessageHandler is the callback signature for received messages.
//
// Handlers are invoked in separate goroutines by the paho library and should
// not block for extended periods. A returned error is logged; it does not
// affect acknowledgement.
type MessageHandler func(topic string, payload []byte) error

// clientFactory builds the underlying paho client. Tests substitute a fake.
type clientFactory func(*pahomqtt.ClientOptions) pahomqtt.Client

// Connect establishes a connection to the MQTT broker.
//
// It performs the following setup:
//  1. Builds connection options from config (broker URL, auth, TLS)
//  2. Disables paho auto-reconnect in favour of the fixed-delay loop
//  3. Attempts the initial connection with timeout
//
// A failed initial connection is not retried: the error wraps
// ErrConnectionFailed and the caller is expected to exit.
func Connect(cfg config.MQTTConfig) (*Client, error) {
	return connect(cfg, pahomqtt.NewClient)
}

func connect(cfg config.MQTTConfig, factory clientFactory) (*Client, error) {
	opts, err := buildClientOptions(cfg)
	if err != nil {
		return nil, err
	}

	c := &Client{
		cfg:           cfg,
		options:       opts,
		subscriptions: make(map[string]subscription),
		after:         time.After,
		closed:        make(chan struct{}),
	}

	opts.SetOnConnectHandler(func(_ pahomqtt.Client) {
		c.handleConnect()
	})

	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		c.handleDisconnect(err)
	})

	c.client = factory(opts)
	if err := waitToken(c.client.Connect(), defaultConnectTimeout); err != nil {
		return nil, fmt.Errorf("%w: %s:%d: %w", ErrConnectionFailed, cfg.Broker.Host, cfg.Broker.Port, err)
	}

	// The OnConnect callback runs asynchronously and may not have executed
	// yet, so mark the client connected here as well.
	c.connMu.Lock()
	c.connected = true
	c.connMu.Unlock()

	return c, nil
}

// waitToken waits for a paho token and converts its outcome to an error.
func waitToken(token pahomqtt.Token, timeout time.Duration) error {
	if !token.WaitTimeout(timeout) {
		return fmt.Errorf("%w after %v", ErrTimeout, timeout)
	}
	return token.Error()
}

// handleConnect is called when the connection is established.
func (c *Client) handleConnect() {
	c.connMu.Lock()
	c.connected = true
	c.connMu.Unlock()

	if logger := c.getLogger(); logger != nil {
		logger.Info("connected to MQTT broker",
			"host", c.cfg.Broker.Host,
			"port", c.cfg.Broker.Port,
		)
	}

	c.restoreSubscriptions()

	c.callbackMu.RLock()
	callback := c.onConnect
	c.callbackMu.RUnlock()
	if callback != nil {
		callback()
	}
}

// handleDisconnect is called when the connection is lost.
func (c *Client) handleDisconnect(err error) {
	c.connMu.Lock()
	c.connected = false
	c.connMu.Unlock()

	if logger := c.getLogger(); logger != nil {
		logger.Warn("MQTT connection lost", "error", err)
	}

	c.callbackMu.RLock()
	callback := c.onDisconnect
	c.callbackMu.RUnlock()
	if callback != nil {
		callback(err)
	}

	c.startReconnect()
}

// startReconnect launches the reconnect loop unless one is already running
// or the client is closed.
func (c *Client) startReconnect() {
	select {
	case <-c.closed:
		return
	default:
	}

	c.reconnectMu.Lock()
	defer c.reconnectMu.Unlock()
	if c.reconnecting {
		return
	}
	c.reconnecting = true

	c.wg.Add(1)
	go c.reconnectLoop()
}

// reconnectLoop retries the connection with a fixed delay and never gives up.
func (c *Client) reconnectLoop() {
	defer c.wg.Done()
	finished := false
	defer func() {
		if finished {
			return
		}
		c.reconnectMu.Lock()
		c.reconnecting = false
		c.reconnectMu.Unlock()
	}()

	delay := c.cfg.ReconnectDelay()
	for attempt := 1; ; attempt++ {
		select {
		case <-c.closed:
			return
		default:
		}

		c.callbackMu.RLock()
		callback := c.onReconnect
		c.callbackMu.RUnlock()
		if callback != nil {
			callback(attempt)
		}

		logger := c.getLogger()
		if logger != nil {
			logger.Warn("reconnecting to MQTT broker", "attempt", attempt)
		}

		err := waitToken(c.client.Connect(), defaultConnectTimeout)
		if err == nil {
			if c.finishReconnect() {
				finished = true
				return
			}
			err = ErrNotConnected
		}

		if logger != nil {
			logger.Error("MQTT reconnect failed",
				"host", c.cfg.Broker.Host,
				"port", c.cfg.Broker.Port,
				"attempt", attempt,
				"retry_in", delay,
				"error", err,
			)
		}

		select {
		case <-c.closed:
			return
		case <-c.after(delay):
		}
	}
}

// finishReconnect ends the loop if the session is still up. A connection lost
// between Connect returning and this check was ignored by startReconnect
// while the loop was marked running, so the loop must carry on instead.
func (c *Client) finishReconnect() bool {
	c.reconnectMu.Lock()
	defer c.reconnectMu.Unlock()
	if !c.client.IsConnected() {
		return false
	}
	c.reconnecting = false
	return true
}

// restoreSubscriptions re-subscribes to all tracked topics after (re)connect.
func (c *Client) restoreSubscriptions() {
	c.subMu.RLock()
	subs := make([]subscription, 0, len(c.subscriptions))
	for _, sub := range c.subscriptions {
		subs = append(subs, sub)
	}
	c.subMu.RUnlock()

	for _, sub := range subs {
		err := waitToken(c.client.Subscribe(sub.topic, sub.qos, c.wrapHandler(sub.handler)), defaultPublishTimeout)
		if err != nil {
			if logger := c.getLogger(); logger != nil {
				logger.Error("MQTT re-subscribe failed", "topic", sub.topic, "error", err)
			}
		}
	}
}

// Close stops any reconnect loop and disconnects from the broker.
//
// Returns:
//   - error: Always nil; a connection that is already closed is not an error
func (c *Client) Close() error {
	if c.client == nil {
		return nil
	}

	c.closeOnce.Do(func() {
		if c.closed != nil {
			close(c.closed)
		}
	})
	c.wg.Wait()

	c.client.Disconnect(defaultDisconnectQuiesce)

	c.connMu.Lock()
	c.connected = false
	c.connMu.Unlock()

	return nil
}

// HealthCheck reports whether the broker connection is up.
func (c *Client) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("mqtt health check: %w", ctx.Err())
	default:
	}

	if !c.IsConnected() {
		return ErrNotConnected
	}

	return nil
}

// IsConnected returns the current connection state.
func (c *Client) IsConnected() bool {
	if c.client == nil {
		return false
	}
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.connected && c.client.IsConnected()
}

// SetOnConnect sets a callback to be invoked when connection is established.
// This is called on initial connect and on every reconnect.
func (c *Client) SetOnConnect(callback func()) {
	c.callbackMu.Lock()
	c.onConnect = callback
	c.callbackMu.Unlock()
}

// SetOnDisconnect sets a callback to be invoked when connection is lost.
func (c *Client) SetOnDisconnect(callback func(err error)) {
	c.callbackMu.Lock()
	c.onDisconnect = callback
	c.callbackMu.Unlock()
}

// SetOnReconnect sets a callback invoked before every reconnect attempt.
func (c *Client) SetOnReconnect(callback func(attempt int)) {
	c.callbackMu.Lock()
	c.onReconnect = callback
	c.callbackMu.Unlock()
}

// SetLogger sets a logger for connection events and handler failures.
func (c *Client) SetLogger(logger Logger) {
	c.loggerMu.Lock()
	c.logger = logger
	c.loggerMu.Unlock()
}

func (c *Client) getLogger() Logger {
	c.loggerMu.RLock()
	defer c.loggerMu.RUnlock()
	return c.logger
}

// wrapHandler wraps a MessageHandler with a payload size guard, panic recovery
// and optional logging.
func (c *Client) wrapHandler(handler MessageHandler) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		defer func() {
			if r := recover(); r != nil {
				if logger := c.getLogger(); logger != nil {
					logger.Error("MQTT handler panic recovered",
						"topic", msg.Topic(),
						"panic", r,
					)
				}
			}
		}()

		payload := msg.Payload()
		if len(payload) > maxPayloadSize {
			if logger := c.getLogger(); logger != nil {
				logger.Warn("MQTT message dropped: payload too large",
					"topic", msg.Topic(),
					"size", len(payload),
					"max", maxPayloadSize,
				)
			}
			return
		}

		if err := handler(msg.Topic(), payload); err != nil {
			if logger := c.getLogger(); logger != nil {
				logger.Warn("MQTT handler returned error",
					"topic", msg.Topic(),
					"error", err,
				)
			}
		}
	}
}
