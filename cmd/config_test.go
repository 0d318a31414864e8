package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kyleking/nest-mcp/internal/config"
)

func TestRunConfigWithConfig(t *testing.T) {
	tests := []struct {
		name     string
		cfg      func() *config.Config
		format   string
		wantErr  bool
		contains []string
	}{
		{
			name:   "defaults",
			cfg:    config.DefaultConfig,
			format: "text",
			contains: []string{
				"Active Configuration:",
				"Address: 0.0.0.0:8000",
				"Stream Path: /sse",
				"Message Path: /message",
				"Allowed Origins: any",
				"Path: (in-memory)",
				"Read Only: true",
				"Source: (existing table)",
				"Table: companies",
				"Row Cap: 1000",
				"Idle Timeout: 30m",
				"Enabled: true",
				"TTL: 5m",
				"Level: info",
			},
		},
		{
			name: "file logging and remote dataset",
			cfg: func() *config.Config {
				cfg := config.DefaultConfig()
				cfg.Dataset.Source = "s3://bucket/companies/*.parquet"
				cfg.Server.AllowedOrigins = []string{"example.com", "localhost"}
				cfg.Logging.Output = "file"
				cfg.Logging.File = "/tmp/nest.log"
				cfg.Cache.Enabled = false

				return cfg
			},
			contains: []string{
				"Source: s3://bucket/companies/*.parquet",
				"Allowed Origins: example.com, localhost",
				"File: /tmp/nest.log",
				"Enabled: false",
			},
		},
		{
			name:     "yaml",
			cfg:      config.DefaultConfig,
			format:   "yaml",
			contains: []string{"server:", "row_cap: 1000", "table: companies"},
		},
		{
			name:    "unknown format",
			cfg:     config.DefaultConfig,
			format:  "xml",
			wantErr: true,
		},
		{
			name:    "nil configuration error",
			cfg:     func() *config.Config { return nil },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer

			err := runConfigWithConfig(&buf, tt.cfg(), tt.format)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}

			require.NoError(t, err)

			for _, expected := range tt.contains {
				assert.Contains(t, buf.String(), expected)
			}
		})
	}
}

func TestConfigCommandPrecedence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"dataset":{"table":"firms"},"logging":{"level":"warn"}}`), 0o600))

	t.Setenv("NEST_MCP_LOG_LEVEL", "error")
	t.Setenv("NEST_MCP_QUERY_ROW_CAP", "25")

	var buf bytes.Buffer

	app := NewApp()
	app.Writer = &buf

	err := app.Run(context.Background(), []string{"nest-mcp", "--config", path, "--log-level", "debug", "config", "--format", "json"})
	require.NoError(t, err)

	var cfg config.Config
	require.NoError(t, json.Unmarshal(buf.Bytes(), &cfg))

	assert.Equal(t, "firms", cfg.Dataset.Table, "file value")
	assert.Equal(t, 25, cfg.Query.RowCap, "environment value")
	assert.Equal(t, "debug", cfg.Logging.Level, "flag beats environment and file")
}

func TestConfigCommandRejectsInvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("dataset:\n  table: \"drop table\"\n"), 0o600))

	app := NewApp()
	app.Writer = &bytes.Buffer{}

	err := app.Run(context.Background(), []string{"nest-mcp", "--config", path, "config"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "plain identifier")
}
