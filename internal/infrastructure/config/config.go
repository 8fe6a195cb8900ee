package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the irrigation core.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Site      SiteConfig      `yaml:"site"`
	Database  DatabaseConfig  `yaml:"database"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	Ingest    IngestConfig    `yaml:"ingest"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Logging   LoggingConfig   `yaml:"logging"`
	Security  SecurityConfig  `yaml:"security"`
}

// SiteConfig contains site-specific information.
type SiteConfig struct {
	ID       string `yaml:"id"`
	Name     string `yaml:"name"`
	Timezone string `yaml:"timezone"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
	Topics    MQTTTopicsConfig    `yaml:"topics"`

	// ConnectTimeout bounds a single connection attempt, in seconds.
	ConnectTimeout int `yaml:"connect_timeout"`
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
//
// Reconnection uses a fixed interval with unbounded retries; the field
// devices publish continuously so there is nothing to gain from backing off.
type MQTTReconnectConfig struct {
	// Interval between a failed or lost connection and the next attempt, in seconds.
	Interval int `yaml:"interval"`
}

// MQTTTopicsConfig names the telemetry topics the core subscribes to.
type MQTTTopicsConfig struct {
	Readings     string `yaml:"readings"`
	Relay        string `yaml:"relay"`
	DeviceConfig string `yaml:"device_config"`
}

// IngestConfig tunes the ingestion pipeline.
type IngestConfig struct {
	// RelayCutoff is the moisture percentage at or below which a stored
	// reading is labelled with relay status "on". It mirrors the device
	// firmware and is independent of the alert thresholds.
	RelayCutoff float64 `yaml:"relay_cutoff"`

	// DefaultLowThreshold and DefaultHighThreshold are used when the
	// settings store cannot supply thresholds.
	DefaultLowThreshold  float64 `yaml:"default_low_threshold"`
	DefaultHighThreshold float64 `yaml:"default_high_threshold"`

	// SuppressUnreadAlerts skips creating an alert while an unread alert of
	// the same kind already exists.
	SuppressUnreadAlerts bool `yaml:"suppress_unread_alerts"`

	// QueueSize is the per-topic buffer between the broker callback and
	// the processing worker.
	QueueSize int `yaml:"queue_size"`
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

// SecurityConfig contains security settings.
type SecurityConfig struct {
	JWT JWTConfig `yaml:"jwt"`
}

// JWTConfig contains JWT token settings.
//
// An empty secret disables authentication on write endpoints.
type JWTConfig struct {
	Secret         string `yaml:"secret"`
	AccessTokenTTL int    `yaml:"access_token_ttl"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: IRRIGATION_SECTION_KEY
// For example: IRRIGATION_DATABASE_PATH, IRRIGATION_MQTT_HOST
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

	applyEnvOverrides(cfg)

	if cfg.MQTT.Broker.ClientID == "" {
		cfg.MQTT.Broker.ClientID = GenerateClientID()
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Default returns the built-in configuration, with a generated client ID.
// Used when no configuration file is present.
func Default() *Config {
	cfg := defaultConfig()
	applyEnvOverrides(cfg)
	if cfg.MQTT.Broker.ClientID == "" {
		cfg.MQTT.Broker.ClientID = GenerateClientID()
	}
	return cfg
}

// GenerateClientID returns a unique MQTT client identifier so that two
// instances never evict each other's session on the broker.
func GenerateClientID() string {
	return "irrigation-core-" + uuid.NewString()[:8]
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Site: SiteConfig{
			ID:       "site-001",
			Name:     "Irrigation",
			Timezone: "UTC",
		},
		Database: DatabaseConfig{
			Path:        "./data/irrigation.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host: "localhost",
				Port: 1883,
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				Interval: 5,
			},
			ConnectTimeout: 30,
			Topics: MQTTTopicsConfig{
				Readings:     "irrigacao/umidade",
				Relay:        "irrigacao/rele",
				DeviceConfig: "irrigacao/config",
			},
		},
		Ingest: IngestConfig{
			RelayCutoff:          30,
			DefaultLowThreshold:  25,
			DefaultHighThreshold: 70,
			QueueSize:            256,
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 3001,
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
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Security: SecurityConfig{
			JWT: JWTConfig{
				AccessTokenTTL: 60,
			},
		},
	}
}

// envOverride binds one IRRIGATION_* environment variable to a field.
type envOverride struct {
	name  string
	apply func(cfg *Config, v string)
}

func setString(field func(*Config) *string) func(*Config, string) {
	return func(cfg *Config, v string) { *field(cfg) = v }
}

// setInt leaves the field unchanged when v is not an integer.
func setInt(field func(*Config) *int) func(*Config, string) {
	return func(cfg *Config, v string) {
		if n, err := strconv.Atoi(v); err == nil {
			*field(cfg) = n
		}
	}
}

var envOverrides = []envOverride{
	{"IRRIGATION_DATABASE_PATH", setString(func(c *Config) *string { return &c.Database.Path })},
	{"IRRIGATION_MQTT_HOST", setString(func(c *Config) *string { return &c.MQTT.Broker.Host })},
	{"IRRIGATION_MQTT_PORT", setInt(func(c *Config) *int { return &c.MQTT.Broker.Port })},
	{"IRRIGATION_MQTT_CLIENT_ID", setString(func(c *Config) *string { return &c.MQTT.Broker.ClientID })},
	{"IRRIGATION_MQTT_USERNAME", setString(func(c *Config) *string { return &c.MQTT.Auth.Username })},
	{"IRRIGATION_MQTT_PASSWORD", setString(func(c *Config) *string { return &c.MQTT.Auth.Password })},
	{"IRRIGATION_API_HOST", setString(func(c *Config) *string { return &c.API.Host })},
	{"IRRIGATION_API_PORT", setInt(func(c *Config) *int { return &c.API.Port })},
	{"IRRIGATION_INFLUXDB_TOKEN", setString(func(c *Config) *string { return &c.InfluxDB.Token })},
	{"IRRIGATION_LOG_LEVEL", setString(func(c *Config) *string { return &c.Logging.Level })},
	{"IRRIGATION_JWT_SECRET", setString(func(c *Config) *string { return &c.Security.JWT.Secret })},
}

// applyEnvOverrides applies every set, non-empty IRRIGATION_* variable.
func applyEnvOverrides(cfg *Config) {
	for _, o := range envOverrides {
		if v := os.Getenv(o.name); v != "" {
			o.apply(cfg, v)
		}
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.Site.ID == "" {
		errs = append(errs, "site.id is required")
	}

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	// MQTT validation
	if c.MQTT.Broker.Host == "" {
		errs = append(errs, "mqtt.broker.host is required")
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.Reconnect.Interval <= 0 {
		errs = append(errs, "mqtt.reconnect.interval must be positive")
	}
	if c.MQTT.ConnectTimeout <= 0 {
		errs = append(errs, "mqtt.connect_timeout must be positive")
	}
	if c.MQTT.Topics.Readings == "" || c.MQTT.Topics.Relay == "" {
		errs = append(errs, "mqtt.topics.readings and mqtt.topics.relay are required")
	} else if c.MQTT.Topics.Readings == c.MQTT.Topics.Relay {
		errs = append(errs, "mqtt.topics.readings and mqtt.topics.relay must differ")
	}

	// Ingest validation
	if !inPercentRange(c.Ingest.RelayCutoff) {
		errs = append(errs, "ingest.relay_cutoff must be between 0 and 100")
	}
	if !inPercentRange(c.Ingest.DefaultLowThreshold) || !inPercentRange(c.Ingest.DefaultHighThreshold) {
		errs = append(errs, "ingest default thresholds must be between 0 and 100")
	} else if c.Ingest.DefaultLowThreshold >= c.Ingest.DefaultHighThreshold {
		errs = append(errs, "ingest.default_low_threshold must be below ingest.default_high_threshold")
	}
	if c.Ingest.QueueSize < 1 {
		errs = append(errs, "ingest.queue_size must be at least 1")
	}

	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if c.InfluxDB.Enabled && (c.InfluxDB.URL == "" || c.InfluxDB.Bucket == "") {
		errs = append(errs, "influxdb.url and influxdb.bucket are required when influxdb is enabled")
	}

	// An empty secret runs the API without write authentication.
	const minJWTSecretLength = 32
	if c.Security.JWT.Secret != "" && len(c.Security.JWT.Secret) < minJWTSecretLength {
		errs = append(errs, "security.jwt.secret must be at least 32 characters for adequate security")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

func inPercentRange(v float64) bool {
	return v >= 0 && v <= 100
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

// ReconnectInterval returns the fixed broker reconnect interval.
func (m MQTTConfig) ReconnectInterval() time.Duration {
	return time.Duration(m.Reconnect.Interval) * time.Second
}

// ConnectTimeoutDuration returns the per-attempt broker connect timeout.
func (m MQTTConfig) ConnectTimeoutDuration() time.Duration {
	return time.Duration(m.ConnectTimeout) * time.Second
}

// AccessTokenTTLDuration returns the access token lifetime.
func (j JWTConfig) AccessTokenTTLDuration() time.Duration {
	return time.Duration(j.AccessTokenTTL) * time.Minute
}
