package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"

	"github.com/kyleking/nest-mcp/internal/config"
	"github.com/kyleking/nest-mcp/internal/errors"
	"github.com/kyleking/nest-mcp/internal/logging"
)

// overrideFlags are the flags that map onto configuration fields
var overrideFlags = []string{"host", "port", "db-path", "dataset", "log-level", "log-format"}

// loadConfig resolves file, environment and flag configuration
func loadConfig(cmd *cli.Command) (*config.Config, error) {
	overrides := make(map[string]any)

	for _, name := range overrideFlags {
		if cmd.IsSet(name) {
			overrides[name] = cmd.String(name)
		}
	}

	cfg, err := config.LoadConfigWithOverrides(cmd.String("config"), overrides)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrTypeConfig, "failed to load configuration").
			WithSuggestion("Run 'nest-mcp config' to inspect the active configuration")
	}

	cfg.ExpandAllPaths()

	return cfg, nil
}

// setupLogging installs the global logger, falling back to stderr text
func setupLogging(cfg *config.Config) {
	if err := logging.InitializeLogger(cfg.Logging); err != nil {
		logging.SetupFallbackLogger()
		logging.WithError(err).Warn("failed to initialize logger, using fallback")
	}
}

func ConfigCommand() *cli.Command {
	return &cli.Command{
		Name:        "config",
		Usage:       "Display the active configuration",
		Description: `Show the current active configuration including all settings from file, environment variables, and command-line flags.`,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "format", Aliases: []string{"f"}, Value: "text", Usage: "text, json or yaml"},
		},
		Action: runConfig,
	}
}

func runConfig(_ context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	return runConfigWithConfig(output(cmd), cfg, cmd.String("format"))
}

func runConfigWithConfig(w io.Writer, cfg *config.Config, format string) error {
	if cfg == nil {
		return errors.NewConfigError("failed to load configuration", "")
	}

	switch strings.ToLower(format) {
	case "json":
		data, err := json.MarshalIndent(cfg, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal config to JSON: %w", err)
		}

		fmt.Fprintln(w, string(data))

		return nil
	case "yaml":
		data, err := yaml.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("failed to marshal config to YAML: %w", err)
		}

		fmt.Fprint(w, string(data))

		return nil
	case "text", "":
	default:
		return errors.NewConfigError("unknown output format "+format, "format")
	}

	fmt.Fprintln(w, "====================")
	fmt.Fprintln(w, "Active Configuration:")

	fmt.Fprintln(w, "\nServer:")
	fmt.Fprintf(w, "  Address: %s\n", cfg.Server.Addr())
	fmt.Fprintf(w, "  Stream Path: %s\n", cfg.Server.SSEPath)
	fmt.Fprintf(w, "  Message Path: %s\n", cfg.Server.MessagePath)
	fmt.Fprintf(w, "  Keep Alive: %s\n", cfg.Server.KeepAlive)
	fmt.Fprintf(w, "  Write Timeout: %s\n", cfg.Server.WriteTimeout)

	origins := "any"
	if len(cfg.Server.AllowedOrigins) > 0 {
		origins = strings.Join(cfg.Server.AllowedOrigins, ", ")
	}

	fmt.Fprintf(w, "  Allowed Origins: %s\n", origins)

	fmt.Fprintln(w, "\nDatabase:")

	path := cfg.Database.Path
	if path == "" {
		path = "(in-memory)"
	}

	fmt.Fprintf(w, "  Path: %s\n", path)
	fmt.Fprintf(w, "  Read Only: %t\n", cfg.Database.ReadOnly)
	fmt.Fprintf(w, "  Max Connections: %d\n", cfg.Database.MaxConnections)
	fmt.Fprintf(w, "  S3 Credential Chain: %t\n", cfg.Database.S3CredentialChain)

	fmt.Fprintln(w, "\nDataset:")

	source := cfg.Dataset.Source
	if source == "" {
		source = "(existing table)"
	}

	fmt.Fprintf(w, "  Source: %s\n", source)
	fmt.Fprintf(w, "  Table: %s\n", cfg.Dataset.Table)

	fmt.Fprintln(w, "\nQuery:")
	fmt.Fprintf(w, "  Row Cap: %d\n", cfg.Query.RowCap)
	fmt.Fprintf(w, "  Timeout: %s\n", cfg.Query.Timeout)

	fmt.Fprintln(w, "\nSessions:")
	fmt.Fprintf(w, "  Idle Timeout: %s\n", cfg.Session.IdleTimeout)
	fmt.Fprintf(w, "  Max Sessions: %d\n", cfg.Session.MaxSessions)
	fmt.Fprintf(w, "  Workers: %d\n", cfg.Session.Workers)
	fmt.Fprintf(w, "  Queue Size: %d\n", cfg.Session.QueueSize)
	fmt.Fprintf(w, "  Stall Timeout: %s\n", cfg.Session.StallTimeout)

	fmt.Fprintln(w, "\nCache:")
	fmt.Fprintf(w, "  Enabled: %t\n", cfg.Cache.Enabled)

	if cfg.Cache.Enabled {
		fmt.Fprintf(w, "  TTL: %s\n", cfg.Cache.TTL)
		fmt.Fprintf(w, "  Max Entries: %d\n", cfg.Cache.MaxEntries)
	}

	fmt.Fprintln(w, "\nLogging:")
	fmt.Fprintf(w, "  Level: %s\n", cfg.Logging.Level)
	fmt.Fprintf(w, "  Format: %s\n", cfg.Logging.Format)
	fmt.Fprintf(w, "  Output: %s\n", cfg.Logging.Output)

	if cfg.Logging.Output == "file" {
		fmt.Fprintf(w, "  File: %s\n", cfg.Logging.File)
	}

	fmt.Fprintf(w, "  Add Source: %t\n", cfg.Logging.AddSource)

	return nil
}
