// Package config loads and validates application configuration from YAML files
// and environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// Config is the root application configuration.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Definitions   DefinitionsConfig   `yaml:"definitions"`
	Mongo         MongoConfig         `yaml:"mongo"`
	Mirror        MirrorConfig        `yaml:"mirror"`
	State         StateConfig         `yaml:"state"`
	Redis         RedisConfig         `yaml:"redis"`
	Postgres      PostgresConfig      `yaml:"postgres"`
	Events        EventsConfig        `yaml:"events"`
	Idempotency   IdempotencyConfig   `yaml:"idempotency"`
	Reconcile     ReconcileConfig     `yaml:"reconcile"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig describes HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	HandlerTimeout  time.Duration `yaml:"handler_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	MaxBodyBytes    int64         `yaml:"max_body_bytes"`
	CORS            CORSConfig    `yaml:"cors"`
}

// CORSConfig describes Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
	MaxAge         int      `yaml:"max_age"`
}

// DefinitionsConfig describes where form templates and flows are read from.
type DefinitionsConfig struct {
	TemplatesDir    string `yaml:"templates_dir"`
	FlowsDir        string `yaml:"flows_dir"`
	ManifestPath    string `yaml:"manifest_path"`
	StrictChecksums bool   `yaml:"strict_checksums"`
}

// MongoConfig describes the primary submission database. An empty URI keeps
// submissions in memory.
type MongoConfig struct {
	URI            string        `yaml:"uri"`
	URIEnv         string        `yaml:"uri_env"`
	Database       string        `yaml:"database"`
	Collection     string        `yaml:"collection"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
}

// MirrorConfig describes the secondary submission store.
type MirrorConfig struct {
	Driver      string        `yaml:"driver"` // blob, redis or badger
	BucketURL   string        `yaml:"bucket_url"`
	RedisPrefix string        `yaml:"redis_prefix"`
	RedisTTL    time.Duration `yaml:"redis_ttl"`
	BadgerDir   string        `yaml:"badger_dir"`
}

// StateConfig describes where flow session state is kept.
type StateConfig struct {
	Driver      string        `yaml:"driver"` // memory, redis or postgres
	RedisPrefix string        `yaml:"redis_prefix"`
	TTL         time.Duration `yaml:"ttl"`
}

// RedisConfig describes the shared Redis connection.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	AddrEnv  string `yaml:"addr_env"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// PostgresConfig describes the flow state database.
type PostgresConfig struct {
	DSN             string        `yaml:"dsn"`
	DSNEnv          string        `yaml:"dsn_env"`
	MaxConns        int32         `yaml:"max_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// EventsConfig describes submission event publishing.
type EventsConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
	Subject string `yaml:"subject"`
}

// IdempotencyConfig describes replay protection for step submissions.
type IdempotencyConfig struct {
	Enabled bool          `yaml:"enabled"`
	Driver  string        `yaml:"driver"` // memory or redis
	TTL     time.Duration `yaml:"ttl"`
}

// ReconcileConfig describes the scheduled mirror audit.
type ReconcileConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Schedule string `yaml:"schedule"`
	Fix      bool   `yaml:"fix"`
	// SalesOrders lists the orders audited on each run.
	SalesOrders []string `yaml:"sales_orders"`
}

// ObservabilityConfig describes logging, tracing, and metrics settings.
type ObservabilityConfig struct {
	ServiceName string        `yaml:"service_name"`
	LogLevel    string        `yaml:"log_level"`
	LogFile     LogFileConfig `yaml:"log_file"`
	Tracing     TracingConfig `yaml:"tracing"`
	Metrics     MetricsConfig `yaml:"metrics"`
}

// LogFileConfig enables a rotated log file next to stdout.
type LogFileConfig struct {
	Path       string `yaml:"path"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// TracingConfig describes distributed tracing settings.
type TracingConfig struct {
	Enabled      bool    `yaml:"enabled"`
	Exporter     string  `yaml:"exporter"`
	Endpoint     string  `yaml:"endpoint"`
	SamplingRate float64 `yaml:"sampling_rate"`
}

// MetricsConfig describes Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Defaults returns a Config with sensible default values.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			HandlerTimeout:  25 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			MaxBodyBytes:    1 << 20,
			CORS: CORSConfig{
				AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
				AllowedHeaders: []string{"Content-Type", "X-Correlation-Id", "X-User-Id", "Idempotency-Key", "If-None-Match"},
				MaxAge:         86400,
			},
		},
		Definitions: DefinitionsConfig{
			TemplatesDir:    "/definitions/templates",
			FlowsDir:        "/definitions/flows",
			StrictChecksums: true,
		},
		Mongo: MongoConfig{
			Database:       "formflow",
			Collection:     "form_submissions",
			ConnectTimeout: 10 * time.Second,
		},
		Mirror: MirrorConfig{
			Driver:    "blob",
			BucketURL: "file:///var/lib/formflow/mirror",
		},
		State: StateConfig{
			Driver: "memory",
			TTL:    30 * 24 * time.Hour,
		},
		Postgres: PostgresConfig{
			MaxConns:        10,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Events: EventsConfig{
			Subject: "formflow.submission.persisted",
		},
		Idempotency: IdempotencyConfig{
			Enabled: true,
			Driver:  "memory",
			TTL:     24 * time.Hour,
		},
		Reconcile: ReconcileConfig{
			Schedule: "@every 1h",
		},
		Observability: ObservabilityConfig{
			ServiceName: "formflow",
			LogLevel:    "info",
			LogFile: LogFileConfig{
				MaxSizeMB:  100,
				MaxBackups: 5,
				MaxAgeDays: 28,
			},
			Tracing: TracingConfig{
				Exporter:     "otlp",
				SamplingRate: 0.1,
			},
			Metrics: MetricsConfig{
				Enabled: true,
				Path:    "/metrics",
			},
		},
	}
}

// Load reads a YAML config file, applies environment variable overrides,
// and validates required fields. Variables from a .env file in the working
// directory are loaded first; variables already set are not overwritten.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("config: reading .env: %w", err)
	}

	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	applyEnvOverrides(cfg)
	cfg.resolveSecrets()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validation: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required fields are present and valid.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}
	if c.Definitions.TemplatesDir == "" {
		errs = append(errs, "definitions.templates_dir is required")
	}
	if c.Definitions.FlowsDir == "" {
		errs = append(errs, "definitions.flows_dir is required")
	}
	if c.Mongo.URI != "" && (c.Mongo.Database == "" || c.Mongo.Collection == "") {
		errs = append(errs, "mongo.database and mongo.collection are required with mongo.uri")
	}

	switch c.Mirror.Driver {
	case "blob":
		if c.Mirror.BucketURL == "" {
			errs = append(errs, "mirror.bucket_url is required for the blob driver")
		}
	case "redis":
		if c.Redis.Addr == "" {
			errs = append(errs, "redis.addr is required for the redis mirror")
		}
	case "badger":
	default:
		errs = append(errs, fmt.Sprintf("mirror.driver %q is not one of blob, redis, badger", c.Mirror.Driver))
	}

	switch c.State.Driver {
	case "memory":
	case "redis":
		if c.Redis.Addr == "" {
			errs = append(errs, "redis.addr is required for the redis state store")
		}
	case "postgres":
		if c.Postgres.DSN == "" {
			errs = append(errs, "postgres.dsn is required for the postgres state store")
		}
	default:
		errs = append(errs, fmt.Sprintf("state.driver %q is not one of memory, redis, postgres", c.State.Driver))
	}

	if c.Events.Enabled && c.Events.URL == "" {
		errs = append(errs, "events.url is required when events are enabled")
	}
	if c.Idempotency.Enabled {
		switch c.Idempotency.Driver {
		case "memory":
		case "redis":
			if c.Redis.Addr == "" {
				errs = append(errs, "redis.addr is required for the redis idempotency store")
			}
		default:
			errs = append(errs, fmt.Sprintf("idempotency.driver %q is not one of memory, redis", c.Idempotency.Driver))
		}
	}
	if c.Reconcile.Enabled {
		if _, err := cron.ParseStandard(c.Reconcile.Schedule); err != nil {
			errs = append(errs, fmt.Sprintf("reconcile.schedule: %v", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

// resolveSecrets fills connection strings from the environment variables
// named by the *_env settings when the value itself is not configured.
func (c *Config) resolveSecrets() {
	if c.Mongo.URI == "" && c.Mongo.URIEnv != "" {
		c.Mongo.URI = os.Getenv(c.Mongo.URIEnv)
	}
	if c.Redis.Addr == "" && c.Redis.AddrEnv != "" {
		c.Redis.Addr = os.Getenv(c.Redis.AddrEnv)
	}
	if c.Postgres.DSN == "" && c.Postgres.DSNEnv != "" {
		c.Postgres.DSN = os.Getenv(c.Postgres.DSNEnv)
	}
}

// applyEnvOverrides reads FORMFLOW_* environment variables and overrides
// config values. Only the most commonly overridden fields are supported.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("FORMFLOW_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("FORMFLOW_TEMPLATES_DIR"); v != "" {
		cfg.Definitions.TemplatesDir = v
	}
	if v := os.Getenv("FORMFLOW_FLOWS_DIR"); v != "" {
		cfg.Definitions.FlowsDir = v
	}
	if v := os.Getenv("FORMFLOW_MONGO_URI"); v != "" {
		cfg.Mongo.URI = v
	}
	if v := os.Getenv("FORMFLOW_MIRROR_DRIVER"); v != "" {
		cfg.Mirror.Driver = v
	}
	if v := os.Getenv("FORMFLOW_MIRROR_BUCKET_URL"); v != "" {
		cfg.Mirror.BucketURL = v
	}
	if v := os.Getenv("FORMFLOW_STATE_DRIVER"); v != "" {
		cfg.State.Driver = v
	}
	if v := os.Getenv("FORMFLOW_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("FORMFLOW_POSTGRES_DSN"); v != "" {
		cfg.Postgres.DSN = v
	}
	if v := os.Getenv("FORMFLOW_NATS_URL"); v != "" {
		cfg.Events.URL = v
	}
	if v := os.Getenv("FORMFLOW_LOG_LEVEL"); v != "" {
		cfg.Observability.LogLevel = v
	}
}
