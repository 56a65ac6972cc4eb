// Package config loads and validates console configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Backend modes.
const (
	BackendREST   = "rest"
	BackendMemory = "memory"
)

// Storage backends for run reports.
const (
	StorageNone   = "none"
	StorageMemory = "memory"
	StorageLocal  = "local"
	StorageGCS    = "gcs"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Auth    AuthConfig    `mapstructure:"auth"`
	Backend BackendConfig `mapstructure:"backend"`
	Monitor MonitorConfig `mapstructure:"monitor"`
	Storage StorageConfig `mapstructure:"storage"`
	DB      DBConfig      `mapstructure:"db"`
	PubSub  PubSubConfig  `mapstructure:"pubsub"`
	Events  EventsConfig  `mapstructure:"events"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port                  int `mapstructure:"port"`
	RequestTimeoutSeconds int `mapstructure:"request_timeout_seconds"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// BackendConfig points the console at the job and configuration API.
type BackendConfig struct {
	// Mode is "rest" for a real backend or "memory" for the simulated one.
	Mode           string `mapstructure:"mode"`
	BaseURL        string `mapstructure:"base_url"`
	Token          string `mapstructure:"token"`
	Username       string `mapstructure:"username"`
	Password       string `mapstructure:"password"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	// AutoAdvance moves simulated jobs one status per poll in memory mode.
	AutoAdvance bool `mapstructure:"auto_advance"`
}

// MonitorConfig tunes the run monitor.
type MonitorConfig struct {
	PollIntervalMs     int  `mapstructure:"poll_interval_ms"`
	CloseTimeoutMs     int  `mapstructure:"close_timeout_ms"`
	KeepOpenOnActivate bool `mapstructure:"keep_open_on_activate"`
}

// StorageConfig selects where run reports are archived.
type StorageConfig struct {
	Backend string             `mapstructure:"backend"`
	Bucket  string             `mapstructure:"bucket"`
	Prefix  string             `mapstructure:"prefix"`
	Local   LocalStorageConfig `mapstructure:"local"`
}

// LocalStorageConfig configures the filesystem blob store.
type LocalStorageConfig struct {
	BaseDir string `mapstructure:"base_dir"`
}

// DBConfig controls access to the run history database.
type DBConfig struct {
	DSN       string `mapstructure:"dsn"`
	MaxConns  int32  `mapstructure:"max_conns"`
	MinConns  int32  `mapstructure:"min_conns"`
	RunsTable string `mapstructure:"runs_table"`
}

// PubSubConfig holds metadata for publish-subscribe notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// EventsConfig tunes the lifecycle event hub.
type EventsConfig struct {
	BufferSize     int  `mapstructure:"buffer_size"`
	MaxBatchEvents int  `mapstructure:"max_batch_events"`
	MaxWaitMs      int  `mapstructure:"max_wait_ms"`
	SinkTimeoutMs  int  `mapstructure:"sink_timeout_ms"`
	LogEnabled     bool `mapstructure:"log_enabled"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CONSOLE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout_seconds", 30)
	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.api_key", "")
	v.SetDefault("backend.mode", BackendREST)
	v.SetDefault("backend.base_url", "http://localhost:8081")
	v.SetDefault("backend.token", "")
	v.SetDefault("backend.username", "")
	v.SetDefault("backend.password", "")
	v.SetDefault("backend.timeout_seconds", 15)
	v.SetDefault("backend.auto_advance", true)
	v.SetDefault("monitor.poll_interval_ms", 1000)
	v.SetDefault("monitor.close_timeout_ms", 5000)
	v.SetDefault("monitor.keep_open_on_activate", false)
	v.SetDefault("storage.backend", StorageNone)
	v.SetDefault("storage.bucket", "")
	v.SetDefault("storage.prefix", "runs")
	v.SetDefault("storage.local.base_dir", "./data/runs")
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("db.min_conns", 0)
	v.SetDefault("db.runs_table", "monitor_runs")
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "")
	v.SetDefault("events.buffer_size", 1024)
	v.SetDefault("events.max_batch_events", 100)
	v.SetDefault("events.max_wait_ms", 250)
	v.SetDefault("events.sink_timeout_ms", 5000)
	v.SetDefault("events.log_enabled", true)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	switch c.Backend.Mode {
	case BackendREST:
		if c.Backend.BaseURL == "" {
			return fmt.Errorf("backend.base_url is required in rest mode")
		}
		if c.Backend.Username != "" && c.Backend.Password == "" {
			return fmt.Errorf("backend.password must be set with backend.username")
		}
	case BackendMemory:
	default:
		return fmt.Errorf("backend.mode must be %q or %q, got %q", BackendREST, BackendMemory, c.Backend.Mode)
	}
	if c.Backend.TimeoutSeconds <= 0 {
		return fmt.Errorf("backend.timeout_seconds must be > 0")
	}
	if c.Monitor.PollIntervalMs <= 0 {
		return fmt.Errorf("monitor.poll_interval_ms must be > 0")
	}
	if c.Monitor.CloseTimeoutMs <= 0 {
		return fmt.Errorf("monitor.close_timeout_ms must be > 0")
	}
	switch c.Storage.Backend {
	case StorageNone, StorageMemory:
	case StorageLocal:
		if c.Storage.Local.BaseDir == "" {
			return fmt.Errorf("storage.local.base_dir is required for local storage")
		}
	case StorageGCS:
		if c.Storage.Bucket == "" {
			return fmt.Errorf("storage.bucket is required for gcs storage")
		}
	default:
		return fmt.Errorf("storage.backend %q is not supported", c.Storage.Backend)
	}
	if c.DB.DSN != "" && c.DB.MaxConns <= 0 {
		return fmt.Errorf("db.max_conns must be > 0 when db.dsn is set")
	}
	if c.PubSub.TopicName != "" && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id must be set with pubsub.topic_name")
	}
	if c.Events.BufferSize < 0 || c.Events.MaxBatchEvents < 0 {
		return fmt.Errorf("events sizes must be >= 0")
	}
	return nil
}

// PollInterval returns the monitor tick period.
func (c Config) PollInterval() time.Duration {
	return time.Duration(c.Monitor.PollIntervalMs) * time.Millisecond
}

// CloseTimeout bounds how long a teardown waits for a poll loop to exit.
func (c Config) CloseTimeout() time.Duration {
	return time.Duration(c.Monitor.CloseTimeoutMs) * time.Millisecond
}

// BackendTimeout returns the per-request budget for backend calls.
func (c Config) BackendTimeout() time.Duration {
	return time.Duration(c.Backend.TimeoutSeconds) * time.Second
}
