package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Supported radio backends.
const (
	RadioBackendBlueZ     = "bluez"
	RadioBackendSimulated = "simulated"
)

// Supported device cache backends.
const (
	CacheBackendSQLite = "sqlite"
	CacheBackendRedis  = "redis"
	CacheBackendMemory = "memory"
)

// Config is the root configuration structure for the WebBLE bridge.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Bridge    BridgeConfig    `yaml:"bridge"`
	Bluetooth BluetoothConfig `yaml:"bluetooth"`
	Cache     CacheConfig     `yaml:"cache"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Logging   LoggingConfig   `yaml:"logging"`
	Security  SecurityConfig  `yaml:"security"`
}

// BridgeConfig identifies this bridge instance.
type BridgeConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// BluetoothConfig contains radio and scan settings.
type BluetoothConfig struct {
	// Backend selects the radio implementation: "bluez" or "simulated".
	Backend string `yaml:"backend"`

	// Adapter is the BlueZ adapter name (e.g. "hci0").
	Adapter string `yaml:"adapter"`

	// ScanTimeout is the default discovery window in seconds, used when a
	// requestDevice call does not supply a positive timeout.
	ScanTimeout float64 `yaml:"scan_timeout"`

	// EarlySelectRSSI finishes a selection as soon as a candidate at or above
	// this signal strength (dBm) is discovered. Zero disables early selection.
	EarlySelectRSSI int `yaml:"early_select_rssi"`

	// EventBuffer is the capacity of the engine's inbound event queue.
	EventBuffer int `yaml:"event_buffer"`

	// HealthInterval is how often bridge health is published (seconds).
	HealthInterval int `yaml:"health_interval"`

	// Helper is an optional program supervised alongside the radio, e.g.
	// btattach for UART-attached controllers.
	Helper HelperConfig `yaml:"helper"`
}

// HelperConfig describes a supervised radio helper program.
type HelperConfig struct {
	Enabled      bool     `yaml:"enabled"`
	Binary       string   `yaml:"binary"`
	Args         []string `yaml:"args"`
	RestartDelay int      `yaml:"restart_delay"` // seconds
	MaxRestarts  int      `yaml:"max_restarts"`  // 0 = unlimited
}

// CacheConfig selects where granted devices are persisted.
type CacheConfig struct {
	Backend   string `yaml:"backend"`
	KeyPrefix string `yaml:"key_prefix"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// RedisConfig contains Redis connection settings for the redis cache backend.
type RedisConfig struct {
	Addr        string `yaml:"addr"`
	Password    string `yaml:"password"`
	DB          int    `yaml:"db"`
	DialTimeout int    `yaml:"dial_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled   bool                `yaml:"enabled"`
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	TLS      TLSConfig        `yaml:"tls"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`

	// ShimDir serves the browser shim from disk instead of the embedded copy.
	ShimDir string `yaml:"shim_dir"`
}

// TLSConfig contains TLS certificate settings.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// APITimeoutConfig contains HTTP timeout settings.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
}

// WebSocketConfig contains page transport settings.
type WebSocketConfig struct {
	MaxMessageSize int `yaml:"max_message_size"`
	PingInterval   int `yaml:"ping_interval"`
	PongTimeout    int `yaml:"pong_timeout"`
}

// InfluxDBConfig contains InfluxDB connection settings for scan telemetry.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// SecurityConfig contains security settings.
type SecurityConfig struct {
	JWT       JWTConfig       `yaml:"jwt"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

// JWTConfig contains page token settings.
type JWTConfig struct {
	Secret string `yaml:"secret"`
	// PageTokenTTL is the lifetime of a page token in minutes.
	PageTokenTTL int `yaml:"page_token_ttl"`
}

// RateLimitConfig contains per-page request rate limiting settings.
type RateLimitConfig struct {
	Enabled           bool `yaml:"enabled"`
	RequestsPerMinute int  `yaml:"requests_per_minute"`
	Burst             int  `yaml:"burst"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: WEBBLE_SECTION_KEY
// For example: WEBBLE_DATABASE_PATH, WEBBLE_BLUETOOTH_BACKEND
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Bridge: BridgeConfig{
			ID:   "webble-001",
			Name: "WebBLE Bridge",
		},
		Bluetooth: BluetoothConfig{
			Backend:        RadioBackendBlueZ,
			Adapter:        "hci0",
			ScanTimeout:    10,
			EventBuffer:    256,
			HealthInterval: 30,
		},
		Cache: CacheConfig{
			Backend:   CacheBackendSQLite,
			KeyPrefix: "webble:",
		},
		Database: DatabaseConfig{
			Path:        "./data/webble.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		Redis: RedisConfig{
			Addr:        "localhost:6379",
			DialTimeout: 5,
		},
		MQTT: MQTTConfig{
			Enabled: true,
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "webble-core",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		API: APIConfig{
			Host: "127.0.0.1",
			Port: 8765,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			MaxMessageSize: 65536,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Security: SecurityConfig{
			JWT: JWTConfig{
				PageTokenTTL: 720,
			},
			RateLimit: RateLimitConfig{
				Enabled:           true,
				RequestsPerMinute: 120,
				Burst:             20,
			},
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: WEBBLE_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Bluetooth
	if v := os.Getenv("WEBBLE_BLUETOOTH_BACKEND"); v != "" {
		cfg.Bluetooth.Backend = v
	}
	if v := os.Getenv("WEBBLE_BLUETOOTH_ADAPTER"); v != "" {
		cfg.Bluetooth.Adapter = v
	}

	// Cache and storage
	if v := os.Getenv("WEBBLE_CACHE_BACKEND"); v != "" {
		cfg.Cache.Backend = v
	}
	if v := os.Getenv("WEBBLE_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("WEBBLE_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("WEBBLE_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}

	// MQTT
	if v := os.Getenv("WEBBLE_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("WEBBLE_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("WEBBLE_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// API
	if v := os.Getenv("WEBBLE_API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v := os.Getenv("WEBBLE_API_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.API.Port = port
		}
	}

	// InfluxDB
	if v := os.Getenv("WEBBLE_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Security - page token secret (always override in production)
	if v := os.Getenv("WEBBLE_JWT_SECRET"); v != "" {
		cfg.Security.JWT.Secret = v
	}
}

// Validate checks the configuration for errors and security issues.
func (c *Config) Validate() error {
	var errs []string

	if c.Bridge.ID == "" {
		errs = append(errs, "bridge.id is required")
	}

	switch c.Bluetooth.Backend {
	case RadioBackendBlueZ, RadioBackendSimulated:
	default:
		errs = append(errs, fmt.Sprintf("bluetooth.backend must be %q or %q", RadioBackendBlueZ, RadioBackendSimulated))
	}
	if c.Bluetooth.ScanTimeout <= 0 {
		errs = append(errs, "bluetooth.scan_timeout must be positive")
	}
	if c.Bluetooth.Helper.Enabled && c.Bluetooth.Helper.Binary == "" {
		errs = append(errs, "bluetooth.helper.binary is required when the helper is enabled")
	}
	if c.Bluetooth.EarlySelectRSSI > 0 {
		errs = append(errs, "bluetooth.early_select_rssi must be a negative dBm value or 0 to disable")
	}

	switch c.Cache.Backend {
	case CacheBackendSQLite:
		if c.Database.Path == "" {
			errs = append(errs, "database.path is required for the sqlite cache backend")
		}
	case CacheBackendRedis:
		if c.Redis.Addr == "" {
			errs = append(errs, "redis.addr is required for the redis cache backend")
		}
	case CacheBackendMemory:
	default:
		errs = append(errs, "cache.backend must be sqlite, redis or memory")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	// Page tokens gate access to the radio; a forgeable token lets any local
	// process drive discovery and connections.
	const minJWTSecretLength = 32
	if c.Security.JWT.Secret == "" {
		errs = append(errs, "security.jwt.secret is required (set WEBBLE_JWT_SECRET environment variable)")
	} else if len(c.Security.JWT.Secret) < minJWTSecretLength {
		errs = append(errs, "security.jwt.secret must be at least 32 characters")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}

// GetScanTimeout returns the default discovery window as a Duration.
func (c *Config) GetScanTimeout() time.Duration {
	return time.Duration(c.Bluetooth.ScanTimeout * float64(time.Second))
}

// GetHealthInterval returns the health publish interval as a Duration.
func (c *Config) GetHealthInterval() time.Duration {
	return time.Duration(c.Bluetooth.HealthInterval) * time.Second
}
