package main

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/nerrad567/webble-core/internal/api"
	"github.com/nerrad567/webble-core/internal/bridges/ble"
	"github.com/nerrad567/webble-core/internal/device"
	"github.com/nerrad567/webble-core/internal/devicecache"
	"github.com/nerrad567/webble-core/internal/infrastructure/config"
	"github.com/nerrad567/webble-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/webble-core/internal/infrastructure/logging"
	"github.com/nerrad567/webble-core/internal/infrastructure/metrics"
	"github.com/nerrad567/webble-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/webble-core/internal/notify"
	"github.com/nerrad567/webble-core/internal/process"
	"github.com/nerrad567/webble-core/internal/radio"
	"github.com/nerrad567/webble-core/internal/radio/bluez"
	"github.com/nerrad567/webble-core/internal/radio/simulated"

	_ "github.com/nerrad567/webble-core/migrations"
)

func newServeCmd(configPath func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the bridge",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), configPath())
		},
	}
}

// run starts every component, blocks until ctx is cancelled and then shuts
// down in reverse order via the defer chain.
func run(ctx context.Context, configPath string) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting WebBLE bridge",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Device cache
	store, err := devicecache.Open(ctx, cfg)
	if err != nil {
		return fmt.Errorf("opening device cache: %w", err)
	}
	defer func() {
		log.Info("closing device cache")
		if closeErr := store.Close(); closeErr != nil {
			log.Error("error closing device cache", "error", closeErr)
		}
	}()
	log.Info("device cache opened", "backend", cfg.Cache.Backend)

	// Radio helper (optional)
	if cfg.Bluetooth.Helper.Enabled {
		helper := process.New(process.Config{
			Name:         filepath.Base(cfg.Bluetooth.Helper.Binary),
			Binary:       cfg.Bluetooth.Helper.Binary,
			Args:         cfg.Bluetooth.Helper.Args,
			Restart:      true,
			RestartDelay: time.Duration(cfg.Bluetooth.Helper.RestartDelay) * time.Second,
			MaxRestarts:  cfg.Bluetooth.Helper.MaxRestarts,
		})
		helper.SetLogger(log)
		if err := helper.Start(ctx); err != nil {
			return fmt.Errorf("starting radio helper: %w", err)
		}
		defer func() {
			log.Info("stopping radio helper")
			if stopErr := helper.Stop(); stopErr != nil {
				log.Error("error stopping radio helper", "error", stopErr)
			}
		}()
	}

	// Radio
	adapter, err := openRadio(cfg, log)
	if err != nil {
		return fmt.Errorf("opening radio: %w", err)
	}
	defer func() {
		log.Info("closing radio")
		if closeErr := adapter.Close(); closeErr != nil {
			log.Error("error closing radio", "error", closeErr)
		}
	}()
	log.Info("radio opened",
		"backend", cfg.Bluetooth.Backend,
		"adapter", cfg.Bluetooth.Adapter,
		"state", adapter.State().String(),
	)

	opts := ble.Options{
		Config: ble.Config{
			BridgeID:        cfg.Bridge.ID,
			ScanTimeout:     cfg.GetScanTimeout(),
			EarlySelectRSSI: cfg.Bluetooth.EarlySelectRSSI,
			EventBuffer:     cfg.Bluetooth.EventBuffer,
			HealthInterval:  cfg.GetHealthInterval(),
		},
		Adapter: adapter,
		Cache:   store,
		Logger:  log,
		Version: version,
	}

	registry := device.NewRegistry()
	registry.SetLogger(log)
	opts.Registry = registry

	// MQTT (optional)
	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.Connect(cfg.MQTT)
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		mqttClient.SetLogger(log)
		mqttClient.SetOnConnect(func() {
			log.Info("MQTT reconnected")
		})
		mqttClient.SetOnDisconnect(func(err error) {
			log.Warn("MQTT disconnected", "error", err)
		})
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)

		opts.MQTT = &mqttBridgeAdapter{client: mqttClient}
		opts.Notifier = notify.NewMQTTNotifier(mqttClient, cfg.Bridge.ID)
	} else {
		log.Info("MQTT disabled")
	}

	// InfluxDB (optional)
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(ctx, cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
		opts.Telemetry = influxClient
	} else {
		log.Info("InfluxDB disabled")
	}

	// Prometheus (optional)
	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
		opts.Metrics = m
	}

	// Bridge engine
	engine, err := ble.New(opts)
	if err != nil {
		return fmt.Errorf("creating bridge: %w", err)
	}
	if err := engine.Start(ctx); err != nil {
		return fmt.Errorf("starting bridge: %w", err)
	}
	defer func() {
		log.Info("stopping bridge")
		engine.Stop()
	}()

	// API
	server, err := api.New(api.Deps{
		Config:      cfg.API,
		WS:          cfg.WebSocket,
		Security:    cfg.Security,
		Logger:      log,
		Engine:      engine,
		Metrics:     m,
		MetricsPath: cfg.Metrics.Path,
		Version:     version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	defer func() {
		if closeErr := server.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	if err := healthCheck(ctx, store, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")
	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")

	// Deferred calls run in reverse: API, bridge, InfluxDB, MQTT, radio, helper, cache.
	return nil
}

// openRadio opens the configured radio backend.
func openRadio(cfg *config.Config, log *logging.Logger) (radio.Adapter, error) {
	switch cfg.Bluetooth.Backend {
	case config.RadioBackendSimulated:
		log.Warn("using simulated radio; no real peripherals will be found")
		return simulated.New(simulated.Options{}), nil
	case config.RadioBackendBlueZ:
		a, err := bluez.Open(bluez.Options{
			Adapter:     cfg.Bluetooth.Adapter,
			EventBuffer: cfg.Bluetooth.EventBuffer,
			Logger:      log,
		})
		if err != nil {
			return nil, err
		}
		return a, nil
	default:
		return nil, fmt.Errorf("unknown radio backend %q", cfg.Bluetooth.Backend)
	}
}

// healthChecker is implemented by cache backends that can be probed.
type healthChecker interface {
	HealthCheck(ctx context.Context) error
}

// healthCheck verifies every enabled connection. mqttClient and influxClient
// may be nil when disabled.
func healthCheck(ctx context.Context, store devicecache.Store, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if hc, ok := store.(healthChecker); ok {
		if err := hc.HealthCheck(ctx); err != nil {
			return fmt.Errorf("device cache: %w", err)
		}
	}

	if mqttClient != nil {
		if err := mqttClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
	}

	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}

	return nil
}

// mqttBridgeAdapter adapts the infrastructure MQTT client to ble.MQTTClient.
// The bridge's handlers do not return errors.
type mqttBridgeAdapter struct {
	client *mqtt.Client
}

// Publish implements ble.MQTTClient.
func (a *mqttBridgeAdapter) Publish(topic string, payload []byte, qos byte, retained bool) error {
	return a.client.Publish(topic, payload, qos, retained)
}

// Subscribe implements ble.MQTTClient.
func (a *mqttBridgeAdapter) Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error {
	return a.client.Subscribe(topic, qos, func(t string, p []byte) error {
		handler(t, p)
		return nil
	})
}

// IsConnected implements ble.MQTTClient.
func (a *mqttBridgeAdapter) IsConnected() bool {
	return a.client.IsConnected()
}
