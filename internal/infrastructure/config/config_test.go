package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// validJWTSecret meets the 32-character minimum requirement.
const validJWTSecret = "test-secret-key-at-least-32-chars!"

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return configPath
}

func TestLoad_ValidConfig(t *testing.T) {
	configPath := writeConfig(t, `
fleet:
  id: "test-fleet"
  timezone: "Europe/Rome"
database:
  path: "/tmp/test.db"
  wal_mode: true
  busy_timeout: 5
mqtt:
  broker:
    host: "localhost"
    port: 1883
    client_id: "test-client"
  qos: 1
api:
  host: "0.0.0.0"
  port: 8080
scheduler:
  interval: 5
notifications:
  fallback_operator_id: "157933243"
services:
  door_event:
    open_threshold: 30
security:
  jwt:
    secret: "test-secret-key-at-least-32-chars!"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Fleet.ID != "test-fleet" {
		t.Errorf("Fleet.ID = %q, want %q", cfg.Fleet.ID, "test-fleet")
	}
	if cfg.Database.Path != "/tmp/test.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "/tmp/test.db")
	}
	if cfg.MQTT.Broker.Host != "localhost" {
		t.Errorf("MQTT.Broker.Host = %q, want %q", cfg.MQTT.Broker.Host, "localhost")
	}
	if cfg.SchedulerInterval() != 5*time.Second {
		t.Errorf("SchedulerInterval() = %v, want 5s", cfg.SchedulerInterval())
	}
	if cfg.Notifications.FallbackOperatorID != "157933243" {
		t.Errorf("FallbackOperatorID = %q, want %q", cfg.Notifications.FallbackOperatorID, "157933243")
	}
	if cfg.Services.Door.OpenThreshold != 30 {
		t.Errorf("Door.OpenThreshold = %d, want 30", cfg.Services.Door.OpenThreshold)
	}
	// Untouched sections keep their defaults.
	if cfg.Services.Reminder.Cooldown != 3600 {
		t.Errorf("Reminder.Cooldown = %d, want 3600", cfg.Services.Reminder.Cooldown)
	}
	if cfg.Location().String() != "Europe/Rome" {
		t.Errorf("Location() = %q, want Europe/Rome", cfg.Location())
	}
}

func TestLoad_RequiresFallbackOperator(t *testing.T) {
	configPath := writeConfig(t, `
fleet:
  id: "test-fleet"
  timezone: "UTC"
database:
  path: "/tmp/test.db"
security:
  jwt:
    secret: "test-secret-key-at-least-32-chars!"
`)
	t.Setenv("MEDTWIN_FALLBACK_OPERATOR_ID", "")

	_, err := Load(configPath)
	if err == nil || !strings.Contains(err.Error(), "fallback_operator_id") {
		t.Fatalf("Load() error = %v, want fallback_operator_id error", err)
	}

	t.Setenv("MEDTWIN_FALLBACK_OPERATOR_ID", "157933243")
	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() with env fallback error = %v", err)
	}
	if cfg.Notifications.FallbackOperatorID != "157933243" {
		t.Errorf("FallbackOperatorID = %q, want 157933243", cfg.Notifications.FallbackOperatorID)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	configPath := writeConfig(t, "invalid: [yaml: content")

	_, err := Load(configPath)
	if err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestLoad_ValidationFailure(t *testing.T) {
	configPath := writeConfig(t, `
fleet:
  id: ""
database:
  path: "/tmp/test.db"
api:
  port: 8080
`)

	_, err := Load(configPath)
	if err == nil {
		t.Error("Load() expected validation error for empty fleet.id, got nil")
	}
}

func TestLoadDotEnv_MissingFileIsIgnored(t *testing.T) {
	if err := loadDotEnv(filepath.Join(t.TempDir(), ".env")); err != nil {
		t.Errorf("loadDotEnv() error = %v, want nil", err)
	}
}

func TestLoadDotEnv_SetsVariables(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte("MEDTWIN_TEST_DOTENV=from-file\n"), 0600); err != nil {
		t.Fatalf("failed to write .env: %v", err)
	}
	t.Cleanup(func() { os.Unsetenv("MEDTWIN_TEST_DOTENV") })

	if err := loadDotEnv(path); err != nil {
		t.Fatalf("loadDotEnv() error = %v", err)
	}
	if got := os.Getenv("MEDTWIN_TEST_DOTENV"); got != "from-file" {
		t.Errorf("MEDTWIN_TEST_DOTENV = %q, want %q", got, "from-file")
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{name: "valid config", mutate: func(c *Config) {}},
		{name: "missing fleet ID", mutate: func(c *Config) { c.Fleet.ID = "" }, wantErr: true},
		{name: "bad timezone", mutate: func(c *Config) { c.Fleet.Timezone = "Mars/Olympus" }, wantErr: true},
		{name: "missing database path", mutate: func(c *Config) { c.Database.Path = "" }, wantErr: true},
		{name: "invalid QoS", mutate: func(c *Config) { c.MQTT.QoS = 3 }, wantErr: true},
		{name: "zero inbox", mutate: func(c *Config) { c.MQTT.InboxSize = 0 }, wantErr: true},
		{name: "invalid port low", mutate: func(c *Config) { c.API.Port = 0 }, wantErr: true},
		{name: "invalid port high", mutate: func(c *Config) { c.API.Port = 70000 }, wantErr: true},
		{name: "unknown store driver", mutate: func(c *Config) { c.Store.Driver = "redis" }, wantErr: true},
		{name: "postgres without dsn", mutate: func(c *Config) { c.Store.Driver = StoreDriverPostgres }, wantErr: true},
		{
			name: "postgres with dsn",
			mutate: func(c *Config) {
				c.Store.Driver = StoreDriverPostgres
				c.Store.Postgres.DSN = "postgres://localhost/medtwin"
			},
		},
		{name: "mongo without uri", mutate: func(c *Config) { c.Store.Driver = StoreDriverMongo }, wantErr: true},
		{name: "scheduler interval zero", mutate: func(c *Config) { c.Scheduler.Interval = 0 }, wantErr: true},
		{name: "pairing timeout zero", mutate: func(c *Config) { c.Pairing.Timeout = 0 }, wantErr: true},
		{name: "unknown transport", mutate: func(c *Config) { c.Notifications.Transport = "sms" }, wantErr: true},
		{name: "missing fallback operator", mutate: func(c *Config) { c.Notifications.FallbackOperatorID = "" }, wantErr: true},
		{name: "blank fallback operator", mutate: func(c *Config) { c.Notifications.FallbackOperatorID = "  " }, wantErr: true},
		{
			name:    "inverted temperature defaults",
			mutate:  func(c *Config) { c.Services.Environmental.TemperatureMin = 40 },
			wantErr: true,
		},
		{name: "missing JWT secret", mutate: func(c *Config) { c.Security.JWT.Secret = "" }, wantErr: true},
		{name: "JWT secret too short", mutate: func(c *Config) { c.Security.JWT.Secret = "short" }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			cfg.Security.JWT.Secret = validJWTSecret
			cfg.Notifications.FallbackOperatorID = "157933243"
			tt.mutate(cfg)

			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_GetTimeouts(t *testing.T) {
	cfg := &Config{
		API: APIConfig{
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 45,
				Idle:  60,
			},
		},
		Pairing: PairingConfig{Timeout: 30},
	}

	if got := cfg.GetReadTimeout().Seconds(); got != 30 {
		t.Errorf("GetReadTimeout() = %v, want 30", got)
	}
	if got := cfg.GetWriteTimeout().Seconds(); got != 45 {
		t.Errorf("GetWriteTimeout() = %v, want 45", got)
	}
	if got := cfg.GetIdleTimeout().Seconds(); got != 60 {
		t.Errorf("GetIdleTimeout() = %v, want 60", got)
	}
	if got := cfg.PairingTimeout(); got != 30*time.Second {
		t.Errorf("PairingTimeout() = %v, want 30s", got)
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	cfg := defaultConfig()

	t.Setenv("MEDTWIN_DATABASE_PATH", "/custom/path.db")
	t.Setenv("MEDTWIN_STORE_DRIVER", "postgres")
	t.Setenv("MEDTWIN_POSTGRES_DSN", "postgres://db/medtwin")
	t.Setenv("MEDTWIN_MQTT_HOST", "mqtt.example.com")
	t.Setenv("MEDTWIN_MQTT_PORT", "8883")
	t.Setenv("MEDTWIN_MQTT_USERNAME", "testuser")
	t.Setenv("MEDTWIN_MQTT_PASSWORD", "testpass")
	t.Setenv("MEDTWIN_API_HOST", "192.168.1.1")
	t.Setenv("MEDTWIN_INFLUXDB_TOKEN", "secret-token")
	t.Setenv("MEDTWIN_FALLBACK_OPERATOR_ID", "ops-1")
	t.Setenv("MEDTWIN_JWT_SECRET", "jwt-secret")

	applyEnvOverrides(cfg)

	checks := []struct {
		field string
		got   string
		want  string
	}{
		{"Database.Path", cfg.Database.Path, "/custom/path.db"},
		{"Store.Driver", cfg.Store.Driver, "postgres"},
		{"Store.Postgres.DSN", cfg.Store.Postgres.DSN, "postgres://db/medtwin"},
		{"MQTT.Broker.Host", cfg.MQTT.Broker.Host, "mqtt.example.com"},
		{"MQTT.Auth.Username", cfg.MQTT.Auth.Username, "testuser"},
		{"MQTT.Auth.Password", cfg.MQTT.Auth.Password, "testpass"},
		{"API.Host", cfg.API.Host, "192.168.1.1"},
		{"InfluxDB.Token", cfg.InfluxDB.Token, "secret-token"},
		{"Notifications.FallbackOperatorID", cfg.Notifications.FallbackOperatorID, "ops-1"},
		{"Security.JWT.Secret", cfg.Security.JWT.Secret, "jwt-secret"},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s = %q, want %q", c.field, c.got, c.want)
		}
	}
	if cfg.MQTT.Broker.Port != 8883 {
		t.Errorf("MQTT.Broker.Port = %d, want 8883", cfg.MQTT.Broker.Port)
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := defaultConfig()

	if cfg.Fleet.ID == "" {
		t.Error("defaultConfig should have non-empty Fleet.ID")
	}
	if cfg.Store.Driver != StoreDriverSQLite {
		t.Errorf("defaultConfig Store.Driver = %q, want %q", cfg.Store.Driver, StoreDriverSQLite)
	}
	if cfg.MQTT.Broker.Port != 1883 {
		t.Errorf("defaultConfig MQTT.Broker.Port = %d, want 1883", cfg.MQTT.Broker.Port)
	}
	if cfg.Scheduler.Interval != 60 {
		t.Errorf("defaultConfig Scheduler.Interval = %d, want 60", cfg.Scheduler.Interval)
	}
	if cfg.Pairing.Timeout != 30 {
		t.Errorf("defaultConfig Pairing.Timeout = %d, want 30", cfg.Pairing.Timeout)
	}

	env := cfg.Services.Environmental
	if env.TemperatureMin != 18 || env.TemperatureMax != 30 {
		t.Errorf("default temperature limits = [%v,%v], want [18,30]", env.TemperatureMin, env.TemperatureMax)
	}
	if env.HumidityMin != 30 || env.HumidityMax != 70 {
		t.Errorf("default humidity limits = [%v,%v], want [30,70]", env.HumidityMin, env.HumidityMax)
	}
}
