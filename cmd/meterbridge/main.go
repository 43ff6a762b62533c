// Gray Logic Meter Bridge
//
// Bridges an MQTT energy meter (instant power plus energy counters on two
// topics) onto a Victron-style property tree, either as a D-Bus service or as
// a retained MQTT mirror. Publication runs once per second with an UpdateIndex
// heartbeat; stale data, startup timeout and property write failures end the
// process so the supervisor can restart it.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/gray-logic-meterbridge/internal/api"
	"github.com/nerrad567/gray-logic-meterbridge/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-meterbridge/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-meterbridge/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-meterbridge/internal/infrastructure/metrics"
	"github.com/nerrad567/gray-logic-meterbridge/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-meterbridge/internal/meter"
	"github.com/nerrad567/gray-logic-meterbridge/internal/propbus"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

// configErrorDelay is how long main waits after a configuration error
// before exiting.
const configErrorDelay = 60 * time.Second

// errConfig marks failures to load or validate the configuration.
var errConfig = errors.New("configuration error")

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		if errors.Is(err, errConfig) {
			fmt.Fprintf(os.Stderr, "waiting %v before exit\n", configErrorDelay)
			waitBeforeExit(ctx, configErrorDelay)
		}
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
// It returns nil on a clean shutdown and the fatal error otherwise.
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting meter bridge",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("%w: %w", errConfig, err)
	}
	log.Info("configuration loaded", "path", configPath)

	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	stats := metrics.New()

	// The initial connection is not retried.
	mqttClient, err := mqtt.Connect(cfg.MQTT)
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	defer func() {
		log.Info("disconnecting from MQTT")
		if closeErr := mqttClient.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()
	mqttClient.SetLogger(log.With("component", "mqtt"))
	stats.SetMQTTConnected(true)
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)

	writer, err := startPropertyBus(cfg, mqttClient, log)
	if err != nil {
		return fmt.Errorf("starting property bus: %w", err)
	}
	defer func() {
		if closeErr := writer.Close(); closeErr != nil {
			log.Error("error closing property bus", "error", closeErr)
		}
	}()

	mqttClient.SetOnConnect(func() {
		stats.SetMQTTConnected(true)
		log.Info("MQTT reconnected")
		if repubErr := writer.Republish(); repubErr != nil {
			log.Error("republishing property tree failed", "error", repubErr)
		}
	})
	mqttClient.SetOnDisconnect(func(err error) {
		stats.SetMQTTConnected(false)
		log.Warn("MQTT disconnected", "error", err)
	})
	mqttClient.SetOnReconnect(func(int) {
		stats.IncReconnectAttempts()
	})

	recorders := []meter.Recorder{stats}

	// Connect to InfluxDB (optional)
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)

		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		recorders = append(recorders, influxdb.NewStatusRecorder(influxClient, cfg.Device.Type, cfg.Device.Instance))
	} else {
		log.Info("InfluxDB disabled")
	}

	// Status API (optional)
	var apiServer *api.Server
	if cfg.API.Enabled {
		apiServer, err = api.New(api.Deps{
			Config:  cfg.API,
			Logger:  log.With("component", "api"),
			MQTT:    mqttClient,
			Metrics: stats.Handler(),
			Timeout: cfg.Device.TimeoutDuration(),
			Version: version,
		})
		if err != nil {
			return fmt.Errorf("creating API server: %w", err)
		}
		recorders = append(recorders, apiServer)
	}

	bridge, err := meter.NewBridge(meter.BridgeOptions{
		InstantTopic:   cfg.MQTT.Topics.Instant,
		EnergyTopic:    cfg.MQTT.Topics.Energy,
		QoS:            byte(cfg.MQTT.QoS),
		NominalVoltage: cfg.Device.NominalVoltage,
		Timeout:        cfg.Device.TimeoutDuration(),
		MQTTClient:     mqttClient,
		Writer:         writer,
		Logger:         log.With("component", "meter"),
		Recorders:      recorders,
	})
	if err != nil {
		return fmt.Errorf("creating meter bridge: %w", err)
	}
	if err := bridge.Start(); err != nil {
		return fmt.Errorf("starting meter bridge: %w", err)
	}

	if err := healthCheck(ctx, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	g, gctx := errgroup.WithContext(ctx)

	if apiServer != nil {
		apiServer.SetSource(bridge)
		if err := apiServer.Start(gctx); err != nil {
			return fmt.Errorf("starting API server: %w", err)
		}
		g.Go(func() error {
			<-gctx.Done()
			return apiServer.Close()
		})
	}

	g.Go(func() error {
		return bridge.Run(gctx)
	})

	log.Info("initialisation complete",
		"device", cfg.Device.Type,
		"instance", cfg.Device.Instance,
		"backend", cfg.Publish.Backend,
	)

	if err := g.Wait(); err != nil {
		return err
	}

	log.Info("meter bridge stopped")
	return nil
}

// propertyTree is a started property bus backend.
type propertyTree interface {
	meter.PropertyWriter
	Republish() error
	Close() error
}

// dbusTree adapts DBusService to propertyTree. The D-Bus connection does not
// depend on the broker, so there is nothing to republish.
type dbusTree struct {
	*propbus.DBusService
}

func (dbusTree) Republish() error { return nil }

// mqttTree adapts MQTTMirror to propertyTree. The broker connection is closed
// by run.
type mqttTree struct {
	*propbus.MQTTMirror
}

func (mqttTree) Close() error { return nil }

// startPropertyBus registers the device on the configured backend.
func startPropertyBus(cfg *config.Config, mqttClient *mqtt.Client, log *logging.Logger) (propertyTree, error) {
	device := propbus.DeviceFromConfig(cfg.Device, version)
	busLog := log.With("component", "propbus", "backend", cfg.Publish.Backend)

	switch cfg.Publish.Backend {
	case config.BackendDBus:
		conn, err := propbus.ConnectBus(cfg.Publish.DBus.Bus)
		if err != nil {
			return nil, err
		}
		svc := propbus.NewDBusService(conn, device, busLog)
		if err := svc.Start(); err != nil {
			_ = svc.Close()
			return nil, err
		}
		return dbusTree{svc}, nil

	case config.BackendMQTT:
		mirror := propbus.NewMQTTMirror(mqttClient, cfg.Publish.MQTT.Prefix, device, busLog)
		if err := mirror.Start(); err != nil {
			return nil, err
		}
		log.Info("property tree mirrored over MQTT", "prefix", mirror.Topics().Prefix)
		return mqttTree{mirror}, nil

	default:
		return nil, fmt.Errorf("%w: unknown publish backend %q", config.ErrInvalid, cfg.Publish.Backend)
	}
}

// getConfigPath returns the configuration file path.
// Uses METERBRIDGE_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("METERBRIDGE_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck verifies the broker session and, when enabled, InfluxDB.
func healthCheck(ctx context.Context, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if err := mqttClient.HealthCheck(ctx); err != nil {
		return fmt.Errorf("mqtt: %w", err)
	}

	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}

	return nil
}

// waitBeforeExit sleeps for d or until ctx is cancelled.
func waitBeforeExit(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
