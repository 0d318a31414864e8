package cmd

import (
	"context"
	"io"
	"os"

	"github.com/urfave/cli/v3"
)

// Version is overridden at build time
var Version = "dev"

// NewApp builds the command tree
func NewApp() *cli.Command {
	return &cli.Command{
		Name:    "nest-mcp",
		Usage:   "Serve company records from DuckDB as read-only MCP tools",
		Version: Version,
		Description: `nest-mcp exposes a DuckDB company dataset to MCP clients over Server-Sent Events.
Clients open a stream, post tool invocations, and receive correlated results on the stream.
Every statement is parameterized and capped, and the database is opened read-only.`,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "path to a JSON or YAML config file"},
			&cli.StringFlag{Name: "db-path", Usage: "DuckDB database file (empty for in-memory)"},
			&cli.StringFlag{Name: "dataset", Usage: "parquet path, glob or URL exposed as the dataset table"},
			&cli.StringFlag{Name: "log-level", Usage: "debug, info, warn or error"},
			&cli.StringFlag{Name: "log-format", Usage: "text or json"},
		},
		Commands: []*cli.Command{
			ServeCommand(),
			CallCommand(),
			ToolsCommand(),
			ConfigCommand(),
		},
	}
}

// Execute runs the application with args
func Execute(ctx context.Context, args []string) error {
	return NewApp().Run(ctx, args)
}

// output returns the writer commands print results to
func output(cmd *cli.Command) io.Writer {
	if root := cmd.Root(); root != nil && root.Writer != nil {
		return root.Writer
	}

	return os.Stdout
}
