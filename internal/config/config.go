// Package config loads the engine's YAML configuration file, overlays
// environment variable overrides, and assembles the per-component Config
// structs the composition root wires into Controller, Executor, Registry,
// the Work Queue, and the storage layer.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// NotificationParams configures an internal-monitor notification target.
type NotificationParams struct {
	Target string `yaml:"target"`
}

// InternalMonitorsNotification controls whether internal monitors get a
// notification wired up automatically on first registration.
type InternalMonitorsNotification struct {
	Enabled           bool               `yaml:"enabled"`
	NotificationClass string             `yaml:"notification_class"`
	Params            NotificationParams `yaml:"params"`
}

// LoggingConfig mirrors pkg/logger.LoggingConfig's shape but keeps its own
// yaml/env tags since the engine's config key is `logging.mode`, not
// `logging.level`.
type LoggingConfig struct {
	Mode   string            `yaml:"mode" env:"LOGGING_MODE"`
	Format string            `yaml:"format" env:"LOGGING_FORMAT"`
	Fields map[string]string `yaml:"fields"`
}

// DatabaseSettings bounds the engine's own connection pool and per-query
// timeouts.
type DatabaseSettings struct {
	PoolSize              int           `yaml:"pool_size" env:"APPLICATION_DATABASE_SETTINGS_POOL_SIZE"`
	DefaultAcquireTimeout time.Duration `yaml:"-" env:"DATABASE_DEFAULT_ACQUIRE_TIMEOUT"`
	DefaultQueryTimeout   time.Duration `yaml:"-" env:"DATABASE_DEFAULT_QUERY_TIMEOUT"`
	CloseTimeout          time.Duration `yaml:"-" env:"DATABASE_CLOSE_TIMEOUT"`
	LogQueryMetrics       bool          `yaml:"-" env:"DATABASE_LOG_QUERY_METRICS"`
}

// PoolConfig is one entry of databases_pools_configs, a named DSN exposed
// to user monitor code through the `query` facility.
type PoolConfig struct {
	DSN          string `yaml:"dsn"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
}

// RedisQueueConfig configures the redisqueue.Queue implementation.
type RedisQueueConfig struct {
	Addr           string        `yaml:"addr" env:"APPLICATION_QUEUE_REDIS_ADDR"`
	VisibilityTime time.Duration `yaml:"visibility_time"`
}

// InprocessQueueConfig configures the inprocess.Queue implementation.
type InprocessQueueConfig struct {
	BufferSize int `yaml:"buffer_size"`
}

// QueueConfig selects and configures the Work Queue backend.
type QueueConfig struct {
	Type                 string               `yaml:"type" env:"APPLICATION_QUEUE_TYPE"`
	QueueWaitMessageTime time.Duration        `yaml:"queue_wait_message_time"`
	Redis                RedisQueueConfig     `yaml:"redis"`
	Inprocess            InprocessQueueConfig `yaml:"inprocess"`
}

// HTTPServerConfig controls the admin HTTP surface.
type HTTPServerConfig struct {
	Port int `yaml:"port" env:"HTTP_SERVER_PORT"`
}

// EventbusConfig tunes the Outbox Flusher.
type EventbusConfig struct {
	FlushInterval  time.Duration `yaml:"flush_interval"`
	FlushBatchSize int           `yaml:"flush_batch_size"`
}

// ControllerProcedureConfig is one janitorial procedure's schedule plus
// free-form params (e.g. the stuck tolerance or solved-age window).
type ControllerProcedureConfig struct {
	Schedule string            `yaml:"schedule"`
	Params   map[string]string `yaml:"params"`
}

// Config is the top-level engine configuration, decoded from YAML and
// overlaid with environment variables. Keys follow spec.md's flat naming
// (`controller_concurrency`, `executor_sleep`, ...) rather than nesting
// every concern under its own top-level map.
type Config struct {
	Plugins                      []string                      `yaml:"plugins"`
	LoadSampleMonitors            bool                          `yaml:"load_sample_monitors"`
	SampleMonitorsPath            string                        `yaml:"sample_monitors_path"`
	InternalMonitorsPath          string                        `yaml:"internal_monitors_path"`
	InternalMonitorsNotification InternalMonitorsNotification   `yaml:"internal_monitors_notification"`
	MonitorsLoadSchedule          string                        `yaml:"monitors_load_schedule"`
	Logging                       LoggingConfig                 `yaml:"logging"`
	DatabaseSettings              DatabaseSettings              `yaml:"application_database_settings"`
	DatabasesPoolsConfigs         map[string]PoolConfig          `yaml:"databases_pools_configs"`
	ApplicationQueue              QueueConfig                   `yaml:"application_queue"`
	HTTPServer                    HTTPServerConfig              `yaml:"http_server"`
	TimeZone                      string                        `yaml:"time_zone"`

	ControllerProcessSchedule string                               `yaml:"controller_process_schedule"`
	ControllerConcurrency     int                                  `yaml:"controller_concurrency"`
	ControllerProcedures      map[string]ControllerProcedureConfig `yaml:"controller_procedures"`

	ExecutorConcurrency          int           `yaml:"executor_concurrency"`
	ExecutorSleep                time.Duration `yaml:"executor_sleep"`
	ExecutorMonitorTimeout       time.Duration `yaml:"executor_monitor_timeout"`
	ExecutorReactionTimeout      time.Duration `yaml:"executor_reaction_timeout"`
	ExecutorRequestTimeout       time.Duration `yaml:"executor_request_timeout"`
	ExecutorMonitorHeartbeatTime time.Duration `yaml:"executor_monitor_heartbeat_time"`
	MaxIssuesCreation            int           `yaml:"max_issues_creation"`

	Eventbus      EventbusConfig `yaml:"eventbus"`
	LogAllEvents  bool           `yaml:"log_all_events"`

	// DatabaseApplication is the engine's own store DSN, read only from
	// DATABASE_APPLICATION -- never persisted in the YAML file.
	DatabaseApplication string `yaml:"-" env:"DATABASE_APPLICATION"`
}

// New returns a Config populated with the engine's defaults, the same
// shape spec.md documents for an unconfigured install.
func New() *Config {
	return &Config{
		LoadSampleMonitors:   false,
		SampleMonitorsPath:   "monitors/samples",
		InternalMonitorsPath: "monitors/internal",
		MonitorsLoadSchedule: "*/5 * * * *",
		Logging: LoggingConfig{
			Mode:   "friendly",
			Format: "text",
		},
		DatabaseSettings: DatabaseSettings{
			PoolSize:              10,
			DefaultAcquireTimeout: 5 * time.Second,
			DefaultQueryTimeout:   30 * time.Second,
			CloseTimeout:          10 * time.Second,
		},
		ApplicationQueue: QueueConfig{
			Type:                 "inprocess",
			QueueWaitMessageTime: 5 * time.Second,
			Inprocess:            InprocessQueueConfig{BufferSize: 1024},
			Redis:                RedisQueueConfig{VisibilityTime: 30 * time.Second},
		},
		HTTPServer: HTTPServerConfig{Port: 8090},
		TimeZone:   "UTC",

		ControllerProcessSchedule: "* * * * *",
		ControllerConcurrency:     4,
		ControllerProcedures: map[string]ControllerProcedureConfig{
			"monitors_stuck": {
				Schedule: "*/5 * * * *",
				Params:   map[string]string{"tolerance": "10m"},
			},
			"notifications_alert_solved": {
				Schedule: "*/10 * * * *",
				Params:   map[string]string{"older_than": "24h"},
			},
		},

		ExecutorConcurrency:          8,
		ExecutorSleep:                time.Second,
		ExecutorMonitorTimeout:       30 * time.Second,
		ExecutorReactionTimeout:      30 * time.Second,
		ExecutorRequestTimeout:       30 * time.Second,
		ExecutorMonitorHeartbeatTime: 10 * time.Second,
		MaxIssuesCreation:            100,

		Eventbus: EventbusConfig{
			FlushInterval:  2 * time.Second,
			FlushBatchSize: 200,
		},
	}
}

// Location parses TimeZone into a *time.Location, defaulting to UTC when
// TimeZone is empty or cannot be loaded. A bad value is not reported.
func (c *Config) Location() *time.Location {
	if c == nil || c.TimeZone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(c.TimeZone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Load reads CONFIGS_FILE (or configs/sentinela.yaml if unset), decodes
// environment overrides over it, and returns the assembled Config. This is
// the same file -> env override cascade the teacher's pkg/config.Load
// establishes.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := New()

	path := strings.TrimSpace(os.Getenv("CONFIGS_FILE"))
	if path == "" {
		path = "configs/sentinela.yaml"
	}
	if err := loadFromFile(path, cfg); err != nil {
		return nil, err
	}

	if err := envdecode.Decode(cfg); err != nil {
		if !strings.Contains(err.Error(), "none of the target fields were set") {
			return nil, fmt.Errorf("decode env: %w", err)
		}
	}

	loadPoolDSNsFromEnv(cfg)

	return cfg, nil
}

// LoadFile reads configuration from a specific YAML file, skipping the
// environment cascade. Used by tests and by operators validating a
// candidate config before a rolling restart.
func LoadFile(path string) (*Config, error) {
	cfg := New()
	if err := loadFromFile(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadFromFile(path string, cfg *Config) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

// loadPoolDSNsFromEnv scans DATABASE_<NAME> environment variables and
// exposes each as a named pool, lowercased, for the `query` facility --
// spec.md's "DATABASE_<NAME> (DSNs exposed to user monitors via the query
// facility as pool name <name> lowercased)".
func loadPoolDSNsFromEnv(cfg *Config) {
	const prefix = "DATABASE_"
	for _, kv := range os.Environ() {
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key, val := parts[0], parts[1]
		if !strings.HasPrefix(key, prefix) || key == "DATABASE_APPLICATION" {
			continue
		}
		name := strings.ToLower(strings.TrimPrefix(key, prefix))
		if name == "" || val == "" {
			continue
		}
		if cfg.DatabasesPoolsConfigs == nil {
			cfg.DatabasesPoolsConfigs = make(map[string]PoolConfig)
		}
		pool := cfg.DatabasesPoolsConfigs[name]
		pool.DSN = val
		cfg.DatabasesPoolsConfigs[name] = pool
	}
}
