package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "LWAUDIT_"

// Config is the root configuration structure.
type Config struct {
	Devices   DevicesConfig   `yaml:"devices"`
	LWRP      LWRPConfig      `yaml:"lwrp"`
	Audit     AuditConfig     `yaml:"audit"`
	Database  DatabaseConfig  `yaml:"database"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// DevicesConfig locates the device list.
type DevicesConfig struct {
	// File is the device list, one "address" or "address|password" per line.
	File string `yaml:"file"`

	// CreateIfMissing writes an explanatory template when File is absent.
	CreateIfMissing bool `yaml:"create_if_missing"`
}

// LWRPConfig contains device connection settings. Timeouts are seconds.
type LWRPConfig struct {
	Port           int `yaml:"port"`
	ConnectTimeout int `yaml:"connect_timeout"`
	LoginTimeout   int `yaml:"login_timeout"`
	QueueSize      int `yaml:"queue_size"`
}

// AuditConfig contains the audit trail destinations.
type AuditConfig struct {
	Console  bool            `yaml:"console"`
	File     AuditFileConfig `yaml:"file"`
	LiveView LiveViewConfig  `yaml:"live_view"`
}

// AuditFileConfig contains the rotating audit file settings.
type AuditFileConfig struct {
	Path       string `yaml:"path"`
	MaxBackups int    `yaml:"max_backups"`
}

// LiveViewConfig sizes the in-memory record buffer.
type LiveViewConfig struct {
	Size int `yaml:"size"`
}

// DatabaseConfig contains SQLite history settings.
type DatabaseConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled     bool                `yaml:"enabled"`
	Broker      MQTTBrokerConfig    `yaml:"broker"`
	Auth        MQTTAuthConfig      `yaml:"auth"`
	QoS         int                 `yaml:"qos"`
	Reconnect   MQTTReconnectConfig `yaml:"reconnect"`
	TopicPrefix string              `yaml:"topic_prefix"`
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

// MQTTReconnectConfig contains MQTT reconnection settings (seconds).
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
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

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// APITimeoutConfig contains HTTP timeout settings (seconds).
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// WebSocketConfig contains live tail settings.
type WebSocketConfig struct {
	MaxMessageSize int `yaml:"max_message_size"`
	PingInterval   int `yaml:"ping_interval"`
	PongTimeout    int `yaml:"pong_timeout"`
}

// LoggingConfig contains diagnostic logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load builds the configuration from defaults, the YAML file at path and
// the environment, then validates it. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// Default returns the validated built-in configuration.
func Default() *Config {
	return defaultConfig()
}

func defaultConfig() *Config {
	return &Config{
		Devices: DevicesConfig{
			File:            "devices.txt",
			CreateIfMissing: true,
		},
		LWRP: LWRPConfig{
			Port:           93,
			ConnectTimeout: 10,
			LoginTimeout:   5,
			QueueSize:      100,
		},
		Audit: AuditConfig{
			Console: true,
			File: AuditFileConfig{
				Path:       "logs/LW-Audit.log",
				MaxBackups: 30,
			},
			LiveView: LiveViewConfig{Size: 100},
		},
		Database: DatabaseConfig{
			Enabled:     true,
			Path:        "./data/lwaudit.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "lwaudit",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
			TopicPrefix: "lwaudit",
		},
		InfluxDB: InfluxDBConfig{
			URL:           "http://localhost:8086",
			Org:           "lwaudit",
			Bucket:        "audit",
			BatchSize:     100,
			FlushInterval: 10,
		},
		API: APIConfig{
			Enabled: true,
			Host:    "127.0.0.1",
			Port:    8093,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stderr",
		},
	}
}

// applyEnvOverrides applies LWAUDIT_* environment variables.
func applyEnvOverrides(cfg *Config) {
	overrides := []struct {
		name   string
		target *string
	}{
		{"DEVICES_FILE", &cfg.Devices.File},
		{"AUDIT_FILE", &cfg.Audit.File.Path},
		{"DATABASE_PATH", &cfg.Database.Path},
		{"MQTT_HOST", &cfg.MQTT.Broker.Host},
		{"MQTT_USERNAME", &cfg.MQTT.Auth.Username},
		{"MQTT_PASSWORD", &cfg.MQTT.Auth.Password},
		{"INFLUXDB_TOKEN", &cfg.InfluxDB.Token},
		{"API_HOST", &cfg.API.Host},
		{"LOG_LEVEL", &cfg.Logging.Level},
	}

	for _, o := range overrides {
		if v := os.Getenv(EnvPrefix + o.name); v != "" {
			*o.target = v
		}
	}
}

// Validate checks the configuration and reports every problem at once.
func (c *Config) Validate() error {
	var errs []string

	if c.Devices.File == "" {
		errs = append(errs, "devices.file is required")
	}

	if !validPort(c.LWRP.Port) {
		errs = append(errs, "lwrp.port must be between 1 and 65535")
	}
	if c.LWRP.ConnectTimeout <= 0 {
		errs = append(errs, "lwrp.connect_timeout must be positive")
	}
	if c.LWRP.LoginTimeout <= 0 {
		errs = append(errs, "lwrp.login_timeout must be positive")
	}
	if c.LWRP.QueueSize <= 0 {
		errs = append(errs, "lwrp.queue_size must be positive")
	}

	if c.Audit.File.Path == "" {
		errs = append(errs, "audit.file.path is required")
	}
	if c.Audit.File.MaxBackups < 1 {
		errs = append(errs, "audit.file.max_backups must be at least 1")
	}
	if c.Audit.LiveView.Size < 1 {
		errs = append(errs, "audit.live_view.size must be at least 1")
	}

	if c.Database.Enabled && c.Database.Path == "" {
		errs = append(errs, "database.path is required when database is enabled")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.Enabled {
		if c.MQTT.Broker.Host == "" {
			errs = append(errs, "mqtt.broker.host is required when mqtt is enabled")
		}
		if !validPort(c.MQTT.Broker.Port) {
			errs = append(errs, "mqtt.broker.port must be between 1 and 65535")
		}
		if c.MQTT.TopicPrefix == "" {
			errs = append(errs, "mqtt.topic_prefix is required when mqtt is enabled")
		}
	}

	if c.InfluxDB.Enabled {
		required := []struct{ field, value string }{
			{"url", c.InfluxDB.URL},
			{"token", c.InfluxDB.Token},
			{"org", c.InfluxDB.Org},
			{"bucket", c.InfluxDB.Bucket},
		}
		for _, r := range required {
			if r.value == "" {
				errs = append(errs, fmt.Sprintf("influxdb.%s is required when influxdb is enabled", r.field))
			}
		}
	}

	if c.API.Enabled && !validPort(c.API.Port) {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, fmt.Sprintf("logging.level %q is not one of debug, info, warn, error", c.Logging.Level))
	}
	switch strings.ToLower(c.Logging.Format) {
	case "json", "text":
	default:
		errs = append(errs, fmt.Sprintf("logging.format %q is not one of json, text", c.Logging.Format))
	}

	if len(errs) > 0 {
		return errors.New("configuration errors: " + strings.Join(errs, "; "))
	}
	return nil
}

func validPort(p int) bool {
	return p >= 1 && p <= 65535
}

// ConnectTimeout returns the LWRP connect timeout.
func (c *Config) ConnectTimeout() time.Duration {
	return time.Duration(c.LWRP.ConnectTimeout) * time.Second
}

// LoginTimeout returns the LWRP login timeout.
func (c *Config) LoginTimeout() time.Duration {
	return time.Duration(c.LWRP.LoginTimeout) * time.Second
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
