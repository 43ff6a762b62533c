// Package mqtt provides the broker session for the meter bridge.
//
// This package manages:
//   - Connection to the broker over TCP or TLS, with optional credentials
//   - Fixed-delay reconnection that never gives up
//   - Re-subscription of every tracked topic on each (re)connect
//   - Publishing, used by the property tree mirror
//
// # Reconnection
//
// paho's auto-reconnect and connect-retry are disabled. A failed initial
// connection is returned as ErrConnectionFailed and is fatal to the caller.
// After a connection has been lost the client logs every attempt and waits
// mqtt.reconnect.delay (15 s by default) between failures until it
// reconnects or Close is called.
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//	client.SetLogger(logger.With("component", "mqtt"))
//
//	err = client.Subscribe(cfg.MQTT.Topics.Instant, byte(cfg.MQTT.QoS), handler)
package mqtt
