package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrInvalid is returned (wrapped) when the configuration fails validation.
var ErrInvalid = errors.New("config: invalid configuration")

// PlaceholderHost is the broker host shipped in the sample configuration.
// A configuration still carrying it has never been edited and is rejected.
const PlaceholderHost = "IP_ADDR_OR_FQDN"

// Device types understood by the property tree.
const (
	DeviceTypeGrid   = "grid"
	DeviceTypeGenset = "genset"
	DeviceTypeACLoad = "acload"
)

// Publication backends.
const (
	BackendDBus = "dbus"
	BackendMQTT = "mqtt"
)

// Config is the root configuration structure for the meter bridge.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Device   DeviceConfig   `yaml:"device"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	Publish  PublishConfig  `yaml:"publish"`
	API      APIConfig      `yaml:"api"`
	InfluxDB InfluxDBConfig `yaml:"influxdb"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// DeviceConfig describes the meter as it appears on the property tree.
type DeviceConfig struct {
	Type           string  `yaml:"type"`
	Instance       int     `yaml:"instance"`
	Name           string  `yaml:"name"`
	NominalVoltage float64 `yaml:"nominal_voltage"`

	// Timeout is the liveness timeout in seconds. 0 disables the check.
	Timeout int `yaml:"timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Topics    MQTTTopicsConfig    `yaml:"topics"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string        `yaml:"host"`
	Port     int           `yaml:"port"`
	ClientID string        `yaml:"client_id"`
	TLS      MQTTTLSConfig `yaml:"tls"`
}

// MQTTTLSConfig contains broker TLS settings.
type MQTTTLSConfig struct {
	Enabled bool `yaml:"enabled"`

	// CAFile is an optional PEM bundle used instead of the system roots.
	CAFile string `yaml:"ca_file"`

	// Insecure disables certificate hostname verification.
	Insecure bool `yaml:"insecure"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
// Credentials are only sent when both username and password are set.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTTopicsConfig names the two meter topics.
type MQTTTopicsConfig struct {
	Instant string `yaml:"instant"`
	Energy  string `yaml:"energy"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	// Delay is the fixed wait in seconds between reconnect attempts.
	Delay int `yaml:"delay"`
}

// PublishConfig selects and configures the property tree backend.
type PublishConfig struct {
	Backend string            `yaml:"backend"`
	DBus    DBusPublishConfig `yaml:"dbus"`
	MQTT    MQTTPublishConfig `yaml:"mqtt"`
}

// DBusPublishConfig contains D-Bus backend settings.
type DBusPublishConfig struct {
	// Bus is "system" or "session".
	Bus string `yaml:"bus"`
}

// MQTTPublishConfig contains settings for the MQTT mirror backend.
type MQTTPublishConfig struct {
	Prefix string `yaml:"prefix"`
}

// APIConfig contains status HTTP server settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
}

// APITimeoutConfig contains HTTP timeout settings.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: METERBRIDGE_SECTION_KEY
// For example: METERBRIDGE_MQTT_HOST, METERBRIDGE_LOG_LEVEL
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if cfg.MQTT.Broker.ClientID == "" {
		cfg.MQTT.Broker.ClientID = fmt.Sprintf("MqttGrid_%d", cfg.Device.Instance)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Device: DeviceConfig{
			Type:           DeviceTypeGrid,
			Instance:       31,
			Name:           "MQTT Grid",
			NominalVoltage: 230,
			Timeout:        60,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host: PlaceholderHost,
				Port: 1883,
			},
			QoS: 0,
			Topics: MQTTTopicsConfig{
				Instant: "shellyproem50/status/em1:0",
				Energy:  "shellyproem50/status/em1data:0",
			},
			Reconnect: MQTTReconnectConfig{
				Delay: 15,
			},
		},
		Publish: PublishConfig{
			Backend: BackendDBus,
			DBus:    DBusPublishConfig{Bus: "system"},
			MQTT:    MQTTPublishConfig{Prefix: "meterbridge"},
		},
		API: APIConfig{
			Host: "127.0.0.1",
			Port: 8088,
			Timeouts: APITimeoutConfig{
				Read:  10,
				Write: 10,
				Idle:  60,
			},
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: METERBRIDGE_SECTION_KEY
func applyEnvOverrides(cfg *Config) error {
	// MQTT
	if v := os.Getenv("METERBRIDGE_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("METERBRIDGE_MQTT_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: METERBRIDGE_MQTT_PORT %q is not a number", ErrInvalid, v)
		}
		cfg.MQTT.Broker.Port = port
	}
	if v := os.Getenv("METERBRIDGE_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("METERBRIDGE_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// InfluxDB
	if v := os.Getenv("METERBRIDGE_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Logging
	if v := os.Getenv("METERBRIDGE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	return nil
}

// Validate checks the configuration for errors.
//
// All problems are collected and reported together.
//
// Returns:
//   - error: Wraps ErrInvalid with a description of every failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	// Device validation
	switch c.Device.Type {
	case DeviceTypeGrid, DeviceTypeGenset, DeviceTypeACLoad:
	default:
		errs = append(errs, fmt.Sprintf("device.type %q must be grid, genset, or acload", c.Device.Type))
	}
	if c.Device.Instance < 0 {
		errs = append(errs, "device.instance must not be negative")
	}
	if c.Device.Timeout < 0 {
		errs = append(errs, "device.timeout must not be negative (0 disables)")
	}
	if c.Device.NominalVoltage < 0 {
		errs = append(errs, "device.nominal_voltage must not be negative")
	}

	// MQTT validation
	switch c.MQTT.Broker.Host {
	case "":
		errs = append(errs, "mqtt.broker.host is required")
	case PlaceholderHost:
		errs = append(errs, "mqtt.broker.host still has the default value "+PlaceholderHost)
	}
	if c.MQTT.Broker.Port < 1 || c.MQTT.Broker.Port > 65535 {
		errs = append(errs, "mqtt.broker.port must be between 1 and 65535")
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.Topics.Instant == "" {
		errs = append(errs, "mqtt.topics.instant is required")
	}
	if c.MQTT.Topics.Energy == "" {
		errs = append(errs, "mqtt.topics.energy is required")
	}
	if c.MQTT.Topics.Instant != "" && c.MQTT.Topics.Instant == c.MQTT.Topics.Energy {
		errs = append(errs, "mqtt.topics.instant and mqtt.topics.energy must differ")
	}
	if c.MQTT.Reconnect.Delay < 1 {
		errs = append(errs, "mqtt.reconnect.delay must be at least 1 second")
	}

	// Publish validation
	switch c.Publish.Backend {
	case BackendDBus:
		if c.Publish.DBus.Bus != "system" && c.Publish.DBus.Bus != "session" {
			errs = append(errs, "publish.dbus.bus must be system or session")
		}
	case BackendMQTT:
		if strings.Trim(c.Publish.MQTT.Prefix, "/") == "" {
			errs = append(errs, "publish.mqtt.prefix is required for the mqtt backend")
		}
	default:
		errs = append(errs, fmt.Sprintf("publish.backend %q must be dbus or mqtt", c.Publish.Backend))
	}

	// API validation
	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	// InfluxDB validation
	if c.InfluxDB.Enabled {
		if c.InfluxDB.URL == "" {
			errs = append(errs, "influxdb.url is required when influxdb is enabled")
		}
		if c.InfluxDB.Bucket == "" {
			errs = append(errs, "influxdb.bucket is required when influxdb is enabled")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(errs, "; "))
	}

	return nil
}

// TypeName returns the display name of the configured device type.
func (d DeviceConfig) TypeName() string {
	switch d.Type {
	case DeviceTypeGenset:
		return "Genset"
	case DeviceTypeACLoad:
		return "AC Load"
	default:
		return "Grid"
	}
}

// CustomName returns the name shown on the property tree. The shipped
// default "MQTT Grid" follows the configured device type.
func (d DeviceConfig) CustomName() string {
	if d.Name == "" || d.Name == "MQTT Grid" {
		return "MQTT " + d.TypeName()
	}
	return d.Name
}

// TimeoutDuration returns the liveness timeout. Zero means disabled.
func (d DeviceConfig) TimeoutDuration() time.Duration {
	return time.Duration(d.Timeout) * time.Second
}

// ReconnectDelay returns the fixed delay between reconnect attempts.
func (m MQTTConfig) ReconnectDelay() time.Duration {
	return time.Duration(m.Reconnect.Delay) * time.Second
}

// GetReadTimeout returns the API read timeout as a Duration.
func (a APIConfig) GetReadTimeout() time.Duration {
	return time.Duration(a.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (a APIConfig) GetWriteTimeout() time.Duration {
	return time.Duration(a.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (a APIConfig) GetIdleTimeout() time.Duration {
	return time.Duration(a.Timeouts.Idle) * time.Second
}
