package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "data/prodflow.db", cfg.Database.Path)
	assert.Equal(t, SequenceBackendSQLite, cfg.Sequence.Backend)
	assert.Equal(t, 8, cfg.Outbox.MaxAttempts)
	assert.Equal(t, time.Second, cfg.Outbox.BaseBackoff)
	assert.Equal(t, "INR", cfg.Billing.Currency)
	assert.Equal(t, "data/exports", cfg.Billing.ExportDir)
	assert.Equal(t, "ORDER_STANDARD", cfg.Workflows.Order)
}

func TestLoad_FileAndEnvironment(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9090
database:
  path: /tmp/plant.db
outbox:
  poll_interval: 500ms
  max_attempts: 3
billing:
  currency: EUR
`)
	t.Setenv("PRODFLOW_OUTBOX_MAX_ATTEMPTS", "5")
	t.Setenv("PRODFLOW_LOGGER_LEVEL", "debug")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "0.0.0.0:9090", cfg.Server.Addr())
	assert.Equal(t, "/tmp/plant.db", cfg.Database.Path)
	assert.Equal(t, 500*time.Millisecond, cfg.Outbox.PollInterval)
	assert.Equal(t, 5, cfg.Outbox.MaxAttempts)
	assert.Equal(t, "EUR", cfg.Billing.Currency)
	assert.Equal(t, "debug", cfg.Logger.Level)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		return Config{
			Server:   ServerConfig{Port: 8080},
			Database: DatabaseConfig{Path: "x.db", MaxOpenConns: 1},
			Sequence: SequenceConfig{Backend: SequenceBackendSQLite},
			Outbox:   OutboxConfig{PollInterval: time.Second, MaxAttempts: 1, BaseBackoff: time.Second, MaxBackoff: time.Second},
			Billing:  BillingConfig{Currency: "INR", ExportDir: "exports"},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(c *Config) {}, false},
		{"bad port", func(c *Config) { c.Server.Port = 0 }, true},
		{"no database path", func(c *Config) { c.Database.Path = "" }, true},
		{"postgres without dsn", func(c *Config) { c.Sequence.Backend = SequenceBackendPostgres }, true},
		{"postgres with dsn", func(c *Config) {
			c.Sequence.Backend = SequenceBackendPostgres
			c.Postgres.DSN = "postgres://localhost/prodflow"
		}, false},
		{"unknown backend", func(c *Config) { c.Sequence.Backend = "redis" }, true},
		{"backoff inverted", func(c *Config) { c.Outbox.MaxBackoff = time.Millisecond }, true},
		{"bad currency", func(c *Config) { c.Billing.Currency = "RUPEE" }, true},
		{"missing export dir", func(c *Config) { c.Billing.ExportDir = "" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
