package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/briandowns/spinner"
	"github.com/urfave/cli/v3"

	"github.com/kyleking/nest-mcp/internal/config"
	"github.com/kyleking/nest-mcp/internal/errors"
	"github.com/kyleking/nest-mcp/internal/formatter"
	"github.com/kyleking/nest-mcp/internal/logging"
	"github.com/kyleking/nest-mcp/internal/query"
	"github.com/kyleking/nest-mcp/internal/tools"
)

func CallCommand() *cli.Command {
	return &cli.Command{
		Name:      "call",
		Usage:     "Invoke a tool once against the local dataset",
		ArgsUsage: "<tool> [json-arguments]",
		Description: `Run a single tool invocation in-process, without starting the server.
Example: nest-mcp call company-search '{"name":"Volvo","founded_after":2019}'`,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "format", Aliases: []string{"f"}, Value: "table", Usage: "table or json"},
			&cli.BoolFlag{Name: "quiet", Aliases: []string{"q"}, Usage: "hide the progress spinner"},
		},
		Action: runCall,
	}
}

func runCall(ctx context.Context, cmd *cli.Command) error {
	toolName := cmd.Args().Get(0)
	if toolName == "" {
		return errors.NewValidationError("tool name is required").
			WithSuggestion("Run 'nest-mcp tools' to list available tools")
	}

	format, err := formatter.ParseFormat(cmd.String("format"))
	if err != nil {
		return err
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	setupLogging(cfg)

	inv := tools.Invocation{
		CorrelationID: "cli",
		ToolName:      toolName,
		Arguments:     json.RawMessage(cmd.Args().Get(1)),
	}

	var s *spinner.Spinner
	if !cmd.Bool("quiet") {
		s = spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(os.Stderr))
		s.Suffix = " running " + toolName
		s.Start()
	}

	var out tools.Outcome

	err = logging.LoggerMiddleware("call "+toolName, func() error {
		var callErr error
		out, callErr = callTool(ctx, cfg, inv)

		return callErr
	})

	if s != nil {
		s.Stop()
	}

	if err != nil {
		return err
	}

	f := formatter.NewFormatter()

	if out.Err != nil {
		return errors.New(errors.ErrTypeExecution, f.FormatError(out.Err))
	}

	rendered, err := f.FormatResult(out.Result, format)
	if err != nil {
		return err
	}

	fmt.Fprintln(output(cmd), rendered)

	return nil
}

// callTool runs inv through a dispatcher over a freshly opened engine
func callTool(ctx context.Context, cfg *config.Config, inv tools.Invocation) (tools.Outcome, error) {
	engine, err := initializeEngine(ctx, cfg)
	if err != nil {
		return tools.Outcome{}, err
	}
	defer engine.Close()

	builder, err := query.NewBuilder(cfg.Dataset.Table, cfg.Query.RowCap)
	if err != nil {
		return tools.Outcome{}, err
	}

	registry, err := tools.Default(engine, builder)
	if err != nil {
		return tools.Outcome{}, fmt.Errorf("failed to build tool registry: %w", err)
	}

	return tools.NewDispatcher(registry, logging.GetLogger()).Dispatch(ctx, inv), nil
}
