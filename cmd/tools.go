package cmd

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/kyleking/nest-mcp/internal/formatter"
	"github.com/kyleking/nest-mcp/internal/query"
	"github.com/kyleking/nest-mcp/internal/tools"
)

func ToolsCommand() *cli.Command {
	return &cli.Command{
		Name:        "tools",
		Usage:       "List the tool catalog",
		Description: `Show every tool the server publishes with its arguments. Required arguments are marked with *.`,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "format", Aliases: []string{"f"}, Value: "table", Usage: "table or json"},
		},
		Action: runTools,
	}
}

func runTools(_ context.Context, cmd *cli.Command) error {
	format, err := formatter.ParseFormat(cmd.String("format"))
	if err != nil {
		return err
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	builder, err := query.NewBuilder(cfg.Dataset.Table, cfg.Query.RowCap)
	if err != nil {
		return err
	}

	// Listing never executes, so no engine is opened.
	registry, err := tools.Default(nil, builder)
	if err != nil {
		return fmt.Errorf("failed to build tool registry: %w", err)
	}

	rendered, err := formatter.NewFormatter().FormatTools(registry.Descriptors(), format)
	if err != nil {
		return err
	}

	fmt.Fprintln(output(cmd), rendered)

	return nil
}
