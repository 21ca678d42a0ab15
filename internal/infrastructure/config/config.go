package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for medtwin.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Fleet         FleetConfig        `yaml:"fleet"`
	Database      DatabaseConfig     `yaml:"database"`
	Store         StoreConfig        `yaml:"store"`
	MQTT          MQTTConfig         `yaml:"mqtt"`
	API           APIConfig          `yaml:"api"`
	WebSocket     WebSocketConfig    `yaml:"websocket"`
	InfluxDB      InfluxDBConfig     `yaml:"influxdb"`
	Logging       LoggingConfig      `yaml:"logging"`
	Security      SecurityConfig     `yaml:"security"`
	Scheduler     SchedulerConfig    `yaml:"scheduler"`
	Pairing       PairingConfig      `yaml:"pairing"`
	Notifications NotificationConfig `yaml:"notifications"`
	Services      ServicesConfig     `yaml:"services"`
}

// FleetConfig identifies the dispenser fleet served by this instance.
type FleetConfig struct {
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

// Document store drivers.
const (
	StoreDriverSQLite   = "sqlite"
	StoreDriverPostgres = "postgres"
	StoreDriverMongo    = "mongo"
	StoreDriverMemory   = "memory"
)

// StoreConfig selects the document store backend for twins and replicas.
// The sqlite driver reuses the database section.
type StoreConfig struct {
	Driver   string              `yaml:"driver"`
	Postgres PostgresStoreConfig `yaml:"postgres"`
	Mongo    MongoStoreConfig    `yaml:"mongo"`
}

// PostgresStoreConfig contains PostgreSQL connection settings.
type PostgresStoreConfig struct {
	DSN string `yaml:"dsn"`
}

// MongoStoreConfig contains MongoDB connection settings.
type MongoStoreConfig struct {
	URI      string `yaml:"uri"`
	Database string `yaml:"database"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
	// InboxSize is the buffer of each inbound topic-class queue.
	InboxSize int `yaml:"inbox_size"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
	// CAFile is an optional PEM bundle used to verify the broker.
	CAFile string `yaml:"ca_file"`
	// InsecureSkipVerify disables broker certificate checks. Hosted test
	// brokers used by the dispenser firmware ship self-signed certificates.
	InsecureSkipVerify bool `yaml:"insecure_skip_verify"`
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

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	TLS      TLSConfig        `yaml:"tls"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
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
	JWT       JWTConfig       `yaml:"jwt"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

// JWTConfig contains JWT token settings.
type JWTConfig struct {
	Secret         string `yaml:"secret"`
	AccessTokenTTL int    `yaml:"access_token_ttl"` // minutes
}

// RateLimitConfig contains rate limiting settings.
type RateLimitConfig struct {
	Enabled           bool `yaml:"enabled"`
	RequestsPerMinute int  `yaml:"requests_per_minute"`
}

// SchedulerConfig controls the periodic twin evaluation loop.
type SchedulerConfig struct {
	Enabled bool `yaml:"enabled"`
	// Interval in seconds between ticks.
	Interval int `yaml:"interval"`
	// MaxConcurrentTwins bounds how many twins are evaluated in parallel.
	MaxConcurrentTwins int `yaml:"max_concurrent_twins"`
}

// PairingConfig controls the device association handshake.
type PairingConfig struct {
	// Timeout in seconds to wait for the device button press.
	Timeout int `yaml:"timeout"`
}

// Notification transports.
const (
	TransportMQTT      = "mqtt"
	TransportWebSocket = "websocket"
	TransportBoth      = "both"
)

// NotificationConfig controls operator notification delivery.
type NotificationConfig struct {
	Transport string `yaml:"transport"`
	// FallbackOperatorID receives alerts when neither the twin nor the
	// owner's other twins have a logged-in operator. Required so emergency
	// and irregularity alerts always have a recipient. Last-resort delivery
	// target, not an access control boundary.
	FallbackOperatorID string `yaml:"fallback_operator_id"`
}

// ServicesConfig holds the static settings of the twin service catalog.
type ServicesConfig struct {
	Reminder      ReminderConfig      `yaml:"medication_reminder"`
	Door          DoorConfig          `yaml:"door_event"`
	Environmental EnvironmentalConfig `yaml:"environmental_monitoring"`
	Irregularity  IrregularityConfig  `yaml:"irregularity_alert"`
}

// ReminderConfig configures the medication reminder and adherence checks.
type ReminderConfig struct {
	// Cooldown in seconds between two reminders for the same dispenser.
	Cooldown int `yaml:"cooldown"`
	// FiringWindow in seconds after the window start during which a reminder may fire.
	FiringWindow int `yaml:"firing_window"`
	// MissedDaysThreshold is the number of missing days in the trailing
	// three-day window that raises a missed medication alert.
	MissedDaysThreshold int `yaml:"missed_days_threshold"`
}

// DoorConfig configures door event handling.
type DoorConfig struct {
	// OpenThreshold in minutes after which an open door is reported.
	OpenThreshold int `yaml:"open_threshold"`
}

// EnvironmentalConfig holds the fleet-wide default limits.
type EnvironmentalConfig struct {
	TemperatureMin float64 `yaml:"temperature_min"`
	TemperatureMax float64 `yaml:"temperature_max"`
	HumidityMin    float64 `yaml:"humidity_min"`
	HumidityMax    float64 `yaml:"humidity_max"`
}

// IrregularityConfig configures the aggregated irregularity report.
type IrregularityConfig struct {
	MissedDaysThreshold int `yaml:"missed_days_threshold"`
	DoorOpenThreshold   int `yaml:"door_open_threshold"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. .env file next to the working directory, if present
//  3. YAML file values (override defaults)
//  4. Environment variables (override file values)
//
// Environment variables follow the pattern: MEDTWIN_SECTION_KEY
// For example: MEDTWIN_DATABASE_PATH, MEDTWIN_API_PORT
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	if err := loadDotEnv(".env"); err != nil {
		return nil, err
	}

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

// loadDotEnv populates the process environment from a dotenv file.
// Variables already set in the environment win. A missing file is not an error.
func loadDotEnv(path string) error {
	err := godotenv.Load(path)
	if err == nil || errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return fmt.Errorf("loading %s: %w", path, err)
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Fleet: FleetConfig{
			ID:       "fleet-001",
			Name:     "Medicine Dispensers",
			Timezone: "UTC",
		},
		Database: DatabaseConfig{
			Path:        "./data/medtwin.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		Store: StoreConfig{
			Driver: StoreDriverSQLite,
			Mongo: MongoStoreConfig{
				Database: "medtwin",
			},
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "medtwin-core",
			},
			QoS: 2,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
				MaxAttempts:  0,
			},
			InboxSize: 256,
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8080,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 45, // pairing waits up to 30s inside a request
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
		Security: SecurityConfig{
			JWT: JWTConfig{
				AccessTokenTTL: 60,
			},
			RateLimit: RateLimitConfig{
				Enabled:           true,
				RequestsPerMinute: 100,
			},
		},
		Scheduler: SchedulerConfig{
			Enabled:            true,
			Interval:           60,
			MaxConcurrentTwins: 8,
		},
		Pairing: PairingConfig{
			Timeout: 30,
		},
		Notifications: NotificationConfig{
			Transport: TransportBoth,
		},
		Services: ServicesConfig{
			Reminder: ReminderConfig{
				Cooldown:            3600,
				FiringWindow:        60,
				MissedDaysThreshold: 1,
			},
			Door: DoorConfig{
				OpenThreshold: 1,
			},
			Environmental: EnvironmentalConfig{
				TemperatureMin: 18,
				TemperatureMax: 30,
				HumidityMin:    30,
				HumidityMax:    70,
			},
			Irregularity: IrregularityConfig{
				MissedDaysThreshold: 2,
				DoorOpenThreshold:   1,
			},
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: MEDTWIN_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Database and store
	if v := os.Getenv("MEDTWIN_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("MEDTWIN_STORE_DRIVER"); v != "" {
		cfg.Store.Driver = v
	}
	if v := os.Getenv("MEDTWIN_POSTGRES_DSN"); v != "" {
		cfg.Store.Postgres.DSN = v
	}
	if v := os.Getenv("MEDTWIN_MONGO_URI"); v != "" {
		cfg.Store.Mongo.URI = v
	}

	// MQTT
	if v := os.Getenv("MEDTWIN_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("MEDTWIN_MQTT_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.MQTT.Broker.Port = port
		}
	}
	if v := os.Getenv("MEDTWIN_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("MEDTWIN_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// API
	if v := os.Getenv("MEDTWIN_API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v := os.Getenv("MEDTWIN_API_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.API.Port = port
		}
	}

	// InfluxDB
	if v := os.Getenv("MEDTWIN_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Notifications
	if v := os.Getenv("MEDTWIN_FALLBACK_OPERATOR_ID"); v != "" {
		cfg.Notifications.FallbackOperatorID = v
	}

	// Security - JWT secret (always override in production)
	if v := os.Getenv("MEDTWIN_JWT_SECRET"); v != "" {
		cfg.Security.JWT.Secret = v
	}
}

// Validate checks the configuration for errors and security issues.
func (c *Config) Validate() error {
	var errs []string

	if c.Fleet.ID == "" {
		errs = append(errs, "fleet.id is required")
	}
	if _, err := time.LoadLocation(c.Fleet.Timezone); err != nil {
		errs = append(errs, fmt.Sprintf("fleet.timezone %q is not a valid IANA zone", c.Fleet.Timezone))
	}

	switch c.Store.Driver {
	case StoreDriverSQLite, StoreDriverMemory:
	case StoreDriverPostgres:
		if c.Store.Postgres.DSN == "" {
			errs = append(errs, "store.postgres.dsn is required for the postgres driver")
		}
	case StoreDriverMongo:
		if c.Store.Mongo.URI == "" || c.Store.Mongo.Database == "" {
			errs = append(errs, "store.mongo.uri and store.mongo.database are required for the mongo driver")
		}
	default:
		errs = append(errs, "store.driver must be sqlite, postgres, mongo, or memory")
	}

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.InboxSize < 1 {
		errs = append(errs, "mqtt.inbox_size must be positive")
	}

	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if c.Scheduler.Interval < 1 {
		errs = append(errs, "scheduler.interval must be at least 1 second")
	}
	if c.Scheduler.MaxConcurrentTwins < 1 {
		errs = append(errs, "scheduler.max_concurrent_twins must be at least 1")
	}
	if c.Pairing.Timeout < 1 {
		errs = append(errs, "pairing.timeout must be at least 1 second")
	}

	switch c.Notifications.Transport {
	case TransportMQTT, TransportWebSocket, TransportBoth:
	default:
		errs = append(errs, "notifications.transport must be mqtt, websocket, or both")
	}

	if strings.TrimSpace(c.Notifications.FallbackOperatorID) == "" {
		errs = append(errs, "notifications.fallback_operator_id is required (set MEDTWIN_FALLBACK_OPERATOR_ID environment variable)")
	}

	env := c.Services.Environmental
	if env.TemperatureMin >= env.TemperatureMax {
		errs = append(errs, "services.environmental_monitoring temperature_min must be below temperature_max")
	}
	if env.HumidityMin >= env.HumidityMax {
		errs = append(errs, "services.environmental_monitoring humidity_min must be below humidity_max")
	}
	if c.Services.Reminder.Cooldown < 0 || c.Services.Reminder.FiringWindow < 1 {
		errs = append(errs, "services.medication_reminder cooldown must be >= 0 and firing_window >= 1")
	}

	// Bearer tokens gate twin ownership; a short secret lets anyone mint them.
	const minJWTSecretLength = 32
	if c.Security.JWT.Secret == "" {
		errs = append(errs, "security.jwt.secret is required (set MEDTWIN_JWT_SECRET environment variable)")
	} else if len(c.Security.JWT.Secret) < minJWTSecretLength {
		errs = append(errs, "security.jwt.secret must be at least 32 characters for adequate security")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// Location returns the fleet timezone. Validate guarantees it loads.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Fleet.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
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

// SchedulerInterval returns the scheduler tick period.
func (c *Config) SchedulerInterval() time.Duration {
	return time.Duration(c.Scheduler.Interval) * time.Second
}

// PairingTimeout returns how long a pairing handshake waits for the device.
func (c *Config) PairingTimeout() time.Duration {
	return time.Duration(c.Pairing.Timeout) * time.Second
}
