// Package logging provides structured logging for the meter bridge.
//
// It wraps log/slog so every component logs with the same default fields
// (service, version) and honours the configured level and format.
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// # Usage
//
//	logger := logging.New(cfg.Logging, version)
//	logger.Info("connected to broker", "host", cfg.MQTT.Broker.Host)
//
// Meter payloads are only logged at debug level. Never log broker passwords
// or the InfluxDB token.
package logging
