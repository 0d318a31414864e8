package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.NotNil(t, cfg)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 8000, cfg.Server.Port)
	assert.Equal(t, "/sse", cfg.Server.SSEPath)
	assert.Equal(t, "/message", cfg.Server.MessagePath)
	assert.True(t, cfg.Database.ReadOnly)
	assert.Equal(t, 10, cfg.Database.MaxConnections)
	assert.Equal(t, "companies", cfg.Dataset.Table)
	assert.Equal(t, 1000, cfg.Query.RowCap)
	assert.Equal(t, "30s", cfg.Query.Timeout)
	assert.Equal(t, "30m", cfg.Session.IdleTimeout)
	assert.Equal(t, 8, cfg.Session.Workers)
	assert.Equal(t, 5*time.Second, cfg.Session.StallTimeoutDuration())
	assert.Equal(t, 10*time.Second, cfg.Server.WriteTimeoutDuration())
	assert.True(t, cfg.Cache.Enabled)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "text", cfg.Logging.Format)
	assert.Equal(t, "stderr", cfg.Logging.Output)
	assert.NoError(t, validateConfig(cfg))
}

func TestLoadConfigFromFile(t *testing.T) {
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "config.json")

	testConfig := map[string]any{
		"server": map[string]any{
			"port":            9100,
			"allowed_origins": []string{"claude.ai"},
		},
		"database": map[string]any{
			"path":            "/custom/path/nest.db",
			"max_connections": 20,
		},
		"query": map[string]any{
			"row_cap": 50,
		},
		"logging": map[string]any{
			"level":  "debug",
			"format": "json",
		},
	}

	data, err := json.MarshalIndent(testConfig, "", "  ")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(configPath, data, 0600))

	config := DefaultConfig()
	err = loadConfigFromFile(config, configPath)
	require.NoError(t, err)

	assert.Equal(t, 9100, config.Server.Port)
	assert.Equal(t, []string{"claude.ai"}, config.Server.AllowedOrigins)
	assert.Equal(t, "/custom/path/nest.db", config.Database.Path)
	assert.Equal(t, 20, config.Database.MaxConnections)
	assert.Equal(t, 50, config.Query.RowCap)
	assert.Equal(t, "debug", config.Logging.Level)
	assert.Equal(t, "json", config.Logging.Format)

	// Keys absent from the file keep their defaults.
	assert.True(t, config.Database.ReadOnly)
	assert.Equal(t, "/sse", config.Server.SSEPath)
}

func TestLoadConfigFromYAMLFile(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	yamlConfig := `
server:
  port: 9200
  keep_alive: 0s
dataset:
  source: s3://bucket/companies/*.parquet
  table: hello_nest
session:
  idle_timeout: 2m
`
	require.NoError(t, os.WriteFile(configPath, []byte(yamlConfig), 0600))

	config := DefaultConfig()
	require.NoError(t, loadConfigFromFile(config, configPath))

	assert.Equal(t, 9200, config.Server.Port)
	assert.Equal(t, time.Duration(0), config.Server.KeepAliveInterval())
	assert.Equal(t, "s3://bucket/companies/*.parquet", config.Dataset.Source)
	assert.Equal(t, "hello_nest", config.Dataset.Table)
	assert.Equal(t, 2*time.Minute, config.Session.IdleTimeoutDuration())
}

func TestLoadConfigFromFileInvalidJSON(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(configPath, []byte("invalid json"), 0600))

	config := DefaultConfig()
	err := loadConfigFromFile(config, configPath)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse config file")
}

func TestApplyEnvironmentOverrides(t *testing.T) {
	t.Setenv("NEST_MCP_DB_PATH", "/env/db/nest.db")
	t.Setenv("NEST_MCP_DB_READ_ONLY", "false")
	t.Setenv("NEST_MCP_QUERY_ROW_CAP", "25")
	t.Setenv("NEST_MCP_ALLOWED_ORIGINS", "claude.ai,example.com")
	t.Setenv("NEST_MCP_LOG_LEVEL", "warn")

	config := DefaultConfig()
	config.Query.Timeout = "45s" // stands in for a value loaded from a file

	require.NoError(t, applyEnvironment(config))

	assert.Equal(t, "/env/db/nest.db", config.Database.Path)
	assert.False(t, config.Database.ReadOnly)
	assert.Equal(t, 25, config.Query.RowCap)
	assert.Equal(t, []string{"claude.ai", "example.com"}, config.Server.AllowedOrigins)
	assert.Equal(t, "warn", config.Logging.Level)
	assert.Equal(t, "45s", config.Query.Timeout, "unset variables must not clobber file values")
}

func TestApplyEnvironmentPort(t *testing.T) {
	t.Setenv("PORT", "8080")

	config := DefaultConfig()
	require.NoError(t, applyEnvironment(config))
	assert.Equal(t, 8080, config.Server.Port)

	t.Setenv("PORT", "eighty")
	assert.Error(t, applyEnvironment(DefaultConfig()))
}

func TestApplyFlagOverrides(t *testing.T) {
	config := DefaultConfig()

	err := applyFlagOverrides(config, map[string]any{
		"host":      "127.0.0.1",
		"port":      "9000",
		"db-path":   "/flag/nest.db",
		"dataset":   "/flag/companies.parquet",
		"log-level": "debug",
		"unknown":   "ignored",
	})
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1", config.Server.Host)
	assert.Equal(t, 9000, config.Server.Port)
	assert.Equal(t, "/flag/nest.db", config.Database.Path)
	assert.Equal(t, "/flag/companies.parquet", config.Dataset.Source)
	assert.Equal(t, "debug", config.Logging.Level)

	assert.Error(t, applyFlagOverrides(config, map[string]any{"port": "not-a-port"}))
}

func TestLoadConfigWithOverridesPrecedence(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(configPath, []byte(`{"server":{"port":9001},"query":{"row_cap":10}}`), 0600))

	t.Setenv("NEST_MCP_QUERY_ROW_CAP", "20")

	cfg, err := LoadConfigWithOverrides(configPath, map[string]any{"port": 9002})
	require.NoError(t, err)

	assert.Equal(t, 9002, cfg.Server.Port, "flags win over the file")
	assert.Equal(t, 20, cfg.Query.RowCap, "environment wins over the file")
}

func TestValidateConfig(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"bad log level", func(c *Config) { c.Logging.Level = "loud" }, "invalid log level"},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }, "invalid log format"},
		{"bad log output", func(c *Config) { c.Logging.Output = "syslog" }, "invalid log output"},
		{"bad duration", func(c *Config) { c.Query.Timeout = "soon" }, "invalid query timeout"},
		{"negative duration", func(c *Config) { c.Session.IdleTimeout = "-1m" }, "must not be negative"},
		{"invalid stall timeout", func(c *Config) { c.Session.StallTimeout = "soon" }, "invalid session stall timeout"},
		{"port", func(c *Config) { c.Server.Port = 70000 }, "port out of range"},
		{"relative path", func(c *Config) { c.Server.SSEPath = "sse" }, "must start with '/'"},
		{"same paths", func(c *Config) { c.Server.MessagePath = "/sse" }, "must differ"},
		{"table injection", func(c *Config) { c.Dataset.Table = "companies; DROP TABLE x" }, "plain identifier"},
		{"row cap", func(c *Config) { c.Query.RowCap = 0 }, "row cap must be positive"},
		{"workers", func(c *Config) { c.Session.Workers = 0 }, "workers must be positive"},
		{"connections", func(c *Config) { c.Database.MaxConnections = 0 }, "max connections must be positive"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)

			err := validateConfig(cfg)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}

			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestDurationAccessors(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 15*time.Second, cfg.Server.KeepAliveInterval())
	assert.Equal(t, 10*time.Second, cfg.Server.ShutdownTimeoutDuration())
	assert.Equal(t, 30*time.Minute, cfg.Database.ConnMaxLifetimeDuration())
	assert.Equal(t, 15*time.Minute, cfg.Database.HTTPTimeoutDuration())
	assert.Equal(t, 30*time.Second, cfg.Query.TimeoutDuration())
	assert.Equal(t, 5*time.Minute, cfg.Cache.TTLDuration())
	assert.Equal(t, "0.0.0.0:8000", cfg.Server.Addr())
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	assert.Equal(t, home, ExpandPath("~"))
	assert.Equal(t, filepath.Join(home, "data", "nest.db"), ExpandPath("~/data/nest.db"))
	assert.Equal(t, "/abs/nest.db", ExpandPath("/abs/nest.db"))
	assert.Equal(t, "", ExpandPath(""))
}
