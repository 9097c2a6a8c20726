package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/subosito/gotenv"
)

// EnvPrefix prefixes every environment override, e.g. PRODFLOW_DATABASE_PATH
const EnvPrefix = "PRODFLOW"

// Sequence backends
const (
	SequenceBackendSQLite   = "sqlite"
	SequenceBackendPostgres = "postgres"
)

// Config holds all application configuration
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Postgres  PostgresConfig  `mapstructure:"postgres"`
	Sequence  SequenceConfig  `mapstructure:"sequence"`
	Outbox    OutboxConfig    `mapstructure:"outbox"`
	Billing   BillingConfig   `mapstructure:"billing"`
	Workflows WorkflowsConfig `mapstructure:"workflows"`
	Logger    LoggerConfig    `mapstructure:"logger"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	Mode         string        `mapstructure:"mode"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// Addr returns host:port
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path            string        `mapstructure:"path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	BusyTimeout     time.Duration `mapstructure:"busy_timeout"`
}

// PostgresConfig holds the optional Postgres sequence backend connection
type PostgresConfig struct {
	DSN      string `mapstructure:"dsn"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// SequenceConfig selects and tunes the fiscal sequence backend
type SequenceConfig struct {
	Backend      string        `mapstructure:"backend"`
	MaxRetries   int           `mapstructure:"max_retries"`
	RetryBackoff time.Duration `mapstructure:"retry_backoff"`
}

// OutboxConfig tunes the outbox relay and its worker
type OutboxConfig struct {
	PollInterval   time.Duration `mapstructure:"poll_interval"`
	BatchSize      int           `mapstructure:"batch_size"`
	MaxRounds      int           `mapstructure:"max_rounds"`
	HandlerTimeout time.Duration `mapstructure:"handler_timeout"`
	MaxAttempts    int           `mapstructure:"max_attempts"`
	BaseBackoff    time.Duration `mapstructure:"base_backoff"`
	MaxBackoff     time.Duration `mapstructure:"max_backoff"`
}

// BillingConfig holds billing configuration
type BillingConfig struct {
	Currency  string `mapstructure:"currency"`
	ExportDir string `mapstructure:"export_dir"`
}

// WorkflowsConfig points at the workflow catalog and names the default types
type WorkflowsConfig struct {
	// CatalogPath is a YAML catalog file; empty uses the built-in catalog
	CatalogPath  string `mapstructure:"catalog_path"`
	Order        string `mapstructure:"order"`
	OrderProcess string `mapstructure:"order_process"`
	RunConfig    string `mapstructure:"run_config"`
	RunLifecycle string `mapstructure:"run_lifecycle"`
}

// LoggerConfig holds logger configuration
type LoggerConfig struct {
	Level      string `mapstructure:"level"`
	OutputPath string `mapstructure:"output_path"`
	Format     string `mapstructure:"format"`
}

// Load reads configPath (optional when empty) and applies environment
// overrides. A .env file in the working directory is loaded first if present.
func Load(configPath string) (*Config, error) {
	if err := loadDotEnv(".env"); err != nil {
		return nil, err
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// loadDotEnv exports the variables of path without overriding ones already set
func loadDotEnv(path string) error {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := gotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// setDefaults sets default configuration values. Every key is registered so
// that AutomaticEnv can override it during Unmarshal.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)

	// Database defaults
	v.SetDefault("database.path", "data/prodflow.db")
	v.SetDefault("database.max_open_conns", 8)
	v.SetDefault("database.max_idle_conns", 4)
	v.SetDefault("database.conn_max_lifetime", 5*time.Minute)
	v.SetDefault("database.busy_timeout", 5*time.Second)

	v.SetDefault("postgres.dsn", "")
	v.SetDefault("postgres.max_conns", 10)

	v.SetDefault("sequence.backend", SequenceBackendSQLite)
	v.SetDefault("sequence.max_retries", 5)
	v.SetDefault("sequence.retry_backoff", 10*time.Millisecond)

	// Outbox defaults
	v.SetDefault("outbox.poll_interval", 2*time.Second)
	v.SetDefault("outbox.batch_size", 100)
	v.SetDefault("outbox.max_rounds", 10)
	v.SetDefault("outbox.handler_timeout", 30*time.Second)
	v.SetDefault("outbox.max_attempts", 8)
	v.SetDefault("outbox.base_backoff", time.Second)
	v.SetDefault("outbox.max_backoff", 5*time.Minute)

	v.SetDefault("billing.currency", "INR")
	v.SetDefault("billing.export_dir", "data/exports")

	v.SetDefault("workflows.catalog_path", "")
	v.SetDefault("workflows.order", "ORDER_STANDARD")
	v.SetDefault("workflows.order_process", "ORDER_PROCESS_STANDARD")
	v.SetDefault("workflows.run_config", "RUN_CONFIG")
	v.SetDefault("workflows.run_lifecycle", "RUN_LIFECYCLE")

	// Logger defaults
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.output_path", "stdout")
	v.SetDefault("logger.format", "json")
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Database.MaxOpenConns < 1 {
		return fmt.Errorf("database.max_open_conns must be at least 1")
	}

	switch c.Sequence.Backend {
	case SequenceBackendSQLite:
	case SequenceBackendPostgres:
		if c.Postgres.DSN == "" {
			return fmt.Errorf("postgres.dsn is required when sequence.backend is %s", SequenceBackendPostgres)
		}
	default:
		return fmt.Errorf("sequence.backend must be %s or %s", SequenceBackendSQLite, SequenceBackendPostgres)
	}
	if c.Sequence.MaxRetries < 0 {
		return fmt.Errorf("sequence.max_retries must not be negative")
	}

	if c.Outbox.PollInterval <= 0 {
		return fmt.Errorf("outbox.poll_interval must be positive")
	}
	if c.Outbox.MaxAttempts < 1 {
		return fmt.Errorf("outbox.max_attempts must be at least 1")
	}
	if c.Outbox.MaxBackoff < c.Outbox.BaseBackoff {
		return fmt.Errorf("outbox.max_backoff must not be below outbox.base_backoff")
	}

	if len(c.Billing.Currency) != 3 {
		return fmt.Errorf("billing.currency must be a three-letter code")
	}
	if c.Billing.ExportDir == "" {
		return fmt.Errorf("billing.export_dir is required")
	}

	return nil
}
