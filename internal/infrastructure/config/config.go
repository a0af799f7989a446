package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for Gray Audio Core.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Site       SiteConfig       `yaml:"site"`
	Topology   TopologyConfig   `yaml:"topology"`
	Snapcast   SnapcastConfig   `yaml:"snapcast"`
	Reconciler ReconcilerConfig `yaml:"reconciler"`
	Database   DatabaseConfig   `yaml:"database"`
	MQTT       MQTTConfig       `yaml:"mqtt"`
	KNX        KNXConfig        `yaml:"knx"`
	API        APIConfig        `yaml:"api"`
	WebSocket  WebSocketConfig  `yaml:"websocket"`
	InfluxDB   InfluxDBConfig   `yaml:"influxdb"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// SiteConfig contains installation-specific information.
type SiteConfig struct {
	ID       string `yaml:"id"`
	Name     string `yaml:"name"`
	Timezone string `yaml:"timezone"`
}

// TopologyConfig declares the static zone/client topology.
// Zones and clients are fixed for the process lifetime; indices are
// 1-based and assigned by position in these lists.
type TopologyConfig struct {
	Zones   []ZoneConfig   `yaml:"zones"`
	Clients []ClientConfig `yaml:"clients"`
}

// ZoneConfig declares one listening zone and its desired member clients.
type ZoneConfig struct {
	Name string `yaml:"name"`
	Icon string `yaml:"icon"`

	// Clients lists 1-based client indices that belong to this zone.
	Clients []int `yaml:"clients"`

	// StreamID binds the zone to a stream on the Snapcast server.
	StreamID string `yaml:"stream_id"`
}

// ClientConfig declares one physical playback endpoint.
type ClientConfig struct {
	Name string `yaml:"name"`
	MAC  string `yaml:"mac"`

	// SnapcastID is the client's identifier on the Snapcast server.
	// Defaults to the MAC address if empty (Snapcast's own default).
	SnapcastID string `yaml:"snapcast_id"`

	// DefaultLatencyMS is the initial latency correction in milliseconds.
	DefaultLatencyMS int `yaml:"default_latency_ms"`
}

// SnapcastConfig contains Snapcast server connection settings.
type SnapcastConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	// Timeout is the per-call timeout in seconds for JSON-RPC requests.
	Timeout int `yaml:"timeout"`

	// Reconnect contains reconnection settings for the control connection.
	Reconnect SnapcastReconnectConfig `yaml:"reconnect"`
}

// SnapcastReconnectConfig contains Snapcast reconnection settings.
type SnapcastReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// ReconcilerConfig contains grouping reconciliation settings.
type ReconcilerConfig struct {
	// Interval is the periodic reconciliation cadence in seconds.
	// This bounds the self-healing latency under passive drift.
	Interval int `yaml:"interval"`

	// MaxAttempts is the upper bound on correction retries per pass.
	MaxAttempts int `yaml:"max_attempts"`

	// AdapterTimeout is the per-call timeout in seconds for grouping
	// adapter operations during a pass.
	AdapterTimeout int `yaml:"adapter_timeout"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
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
	MaxAttempts  int `yaml:"max_attempts"`
}

// KNXConfig contains KNX bus bridge settings.
// The bridge connects to an externally-managed knxd daemon.
type KNXConfig struct {
	Enabled bool `yaml:"enabled"`

	// Connection is the knxd connection URL.
	// Supported formats: "tcp://host:6720", "unix:///run/knxd".
	Connection string `yaml:"connection"`

	// ConfigFile is the path to the group address mapping file
	// (zone/client group addresses, see bridges/knx config).
	ConfigFile string `yaml:"config_file"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
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

// WebSocketConfig contains WebSocket server settings.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
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
// Environment variables follow the pattern: GRAYAUDIO_SECTION_KEY
// For example: GRAYAUDIO_DATABASE_PATH, GRAYAUDIO_SNAPCAST_HOST
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
		Site: SiteConfig{
			ID:       "site-001",
			Name:     "Gray Audio",
			Timezone: "UTC",
		},
		Snapcast: SnapcastConfig{
			Host:    "localhost",
			Port:    1705,
			Timeout: 5,
			Reconnect: SnapcastReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		Reconciler: ReconcilerConfig{
			Interval:       30,
			MaxAttempts:    3,
			AdapterTimeout: 10,
		},
		Database: DatabaseConfig{
			Path:        "./data/grayaudio.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "grayaudio-core",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
				MaxAttempts:  0,
			},
		},
		KNX: KNXConfig{
			Connection: "tcp://localhost:6720",
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8090,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			Path:           "/ws",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: GRAYAUDIO_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Database
	if v := os.Getenv("GRAYAUDIO_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// Snapcast
	if v := os.Getenv("GRAYAUDIO_SNAPCAST_HOST"); v != "" {
		cfg.Snapcast.Host = v
	}
	if v := os.Getenv("GRAYAUDIO_SNAPCAST_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Snapcast.Port = port
		}
	}

	// MQTT
	if v := os.Getenv("GRAYAUDIO_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("GRAYAUDIO_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("GRAYAUDIO_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// API
	if v := os.Getenv("GRAYAUDIO_API_HOST"); v != "" {
		cfg.API.Host = v
	}

	// InfluxDB
	if v := os.Getenv("GRAYAUDIO_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []string

	if c.Site.ID == "" {
		errs = append(errs, "site.id is required")
	}

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if len(c.Topology.Zones) == 0 {
		errs = append(errs, "topology.zones must declare at least one zone")
	}
	if len(c.Topology.Clients) == 0 {
		errs = append(errs, "topology.clients must declare at least one client")
	}

	// A client may belong to at most one zone.
	seen := make(map[int]int) // client index -> zone index (1-based)
	for zi, zone := range c.Topology.Zones {
		if zone.Name == "" {
			errs = append(errs, fmt.Sprintf("topology.zones[%d].name is required", zi))
		}
		for _, ci := range zone.Clients {
			if ci < 1 || ci > len(c.Topology.Clients) {
				errs = append(errs, fmt.Sprintf("topology.zones[%d] references unknown client index %d", zi, ci))
				continue
			}
			if prev, ok := seen[ci]; ok {
				errs = append(errs, fmt.Sprintf("client %d assigned to both zone %d and zone %d", ci, prev, zi+1))
				continue
			}
			seen[ci] = zi + 1
		}
	}

	for ci, client := range c.Topology.Clients {
		if client.Name == "" {
			errs = append(errs, fmt.Sprintf("topology.clients[%d].name is required", ci))
		}
		if client.MAC == "" && client.SnapcastID == "" {
			errs = append(errs, fmt.Sprintf("topology.clients[%d] needs mac or snapcast_id", ci))
		}
	}

	if c.Snapcast.Host == "" {
		errs = append(errs, "snapcast.host is required")
	}
	if c.Snapcast.Port < 1 || c.Snapcast.Port > 65535 {
		errs = append(errs, "snapcast.port must be between 1 and 65535")
	}

	if c.Reconciler.Interval < 1 {
		errs = append(errs, "reconciler.interval must be at least 1 second")
	}
	if c.Reconciler.MaxAttempts < 1 {
		errs = append(errs, "reconciler.max_attempts must be at least 1")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
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

// ReconcileInterval returns the periodic reconciliation cadence as a Duration.
func (c *Config) ReconcileInterval() time.Duration {
	return time.Duration(c.Reconciler.Interval) * time.Second
}

// AdapterTimeout returns the grouping adapter per-call timeout as a Duration.
func (c *Config) AdapterTimeout() time.Duration {
	return time.Duration(c.Reconciler.AdapterTimeout) * time.Second
}

// SnapcastTimeout returns the Snapcast per-call timeout as a Duration.
func (c *Config) SnapcastTimeout() time.Duration {
	return time.Duration(c.Snapcast.Timeout) * time.Second
}
