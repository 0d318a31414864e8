package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"

	"github.com/kyleking/nest-mcp/internal/config"
	"github.com/kyleking/nest-mcp/internal/logging"
	"github.com/kyleking/nest-mcp/internal/monitor"
	"github.com/kyleking/nest-mcp/internal/query"
	"github.com/kyleking/nest-mcp/internal/session"
	"github.com/kyleking/nest-mcp/internal/tools"
	"github.com/kyleking/nest-mcp/internal/transport"
)

const (
	memorySampleInterval = time.Minute
	memoryWarnMB         = 1024
)

func ServeCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the SSE tool server",
		Description: `Open the dataset and serve the tool catalog over Server-Sent Events.
Clients connect to the stream path, read the endpoint event, and post invocations to the message path.`,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "host", Usage: "listen host"},
			&cli.StringFlag{Name: "port", Aliases: []string{"p"}, Usage: "listen port"},
		},
		Action: runServeCommand,
	}
}

func runServeCommand(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	setupLogging(cfg)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	ln, err := net.Listen("tcp", cfg.Server.Addr())
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", cfg.Server.Addr(), err)
	}

	return runServe(ctx, cfg, ln)
}

// runServe serves on ln until ctx is cancelled, then drains sessions
// within the configured shutdown budget
func runServe(ctx context.Context, cfg *config.Config, ln net.Listener) error {
	logger := logging.GetLogger()

	engine, err := initializeEngine(ctx, cfg)
	if err != nil {
		_ = ln.Close()
		return err
	}
	defer engine.Close()

	columns, err := engine.Columns(ctx)
	if err != nil || len(columns) == 0 {
		logger.WithField("table", engine.Table()).Warn("dataset table has no readable columns")
	} else {
		logger.WithFields(map[string]any{"table": engine.Table(), "columns": len(columns)}).Info("dataset ready")
	}

	exec, closeCache := newExecutor(engine, cfg)
	defer closeCache()

	builder, err := query.NewBuilder(cfg.Dataset.Table, cfg.Query.RowCap)
	if err != nil {
		_ = ln.Close()
		return err
	}

	registry, err := tools.Default(exec, builder)
	if err != nil {
		_ = ln.Close()
		return fmt.Errorf("failed to build tool registry: %w", err)
	}

	manager := session.NewManager(tools.NewDispatcher(registry, logger), session.Options{
		MessagePath:  cfg.Server.MessagePath,
		IdleTimeout:  cfg.Session.IdleTimeoutDuration(),
		MaxSessions:  cfg.Session.MaxSessions,
		Workers:      cfg.Session.Workers,
		QueueSize:    cfg.Session.QueueSize,
		FrameBuffer:  cfg.Session.FrameBuffer,
		StallTimeout: cfg.Session.StallTimeoutDuration(),
		Logger:       logger,
	})

	memory := monitor.NewMemoryMonitor(memoryWarnMB, logger)

	server := transport.NewServer(manager, registry, transport.Options{
		SSEPath:        cfg.Server.SSEPath,
		MessagePath:    cfg.Server.MessagePath,
		KeepAlive:      cfg.Server.KeepAliveInterval(),
		WriteTimeout:   cfg.Server.WriteTimeoutDuration(),
		AllowedOrigins: cfg.Server.AllowedOrigins,
		MaxBodyBytes:   cfg.Server.MaxBodyBytes,
		ServerVersion:  Version,
		Memory:         memory,
		Ping:           engine.Ping,
		Logger:         logger,
	})

	srv := &http.Server{
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	// Open streams never go idle; tearing sessions down lets them return.
	srv.RegisterOnShutdown(manager.Shutdown)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		memory.Run(gctx, memorySampleInterval)
		return nil
	})

	g.Go(func() error {
		logger.WithFields(map[string]any{
			"addr":         ln.Addr().String(),
			"sse_path":     cfg.Server.SSEPath,
			"message_path": cfg.Server.MessagePath,
			"tools":        len(registry.Descriptors()),
		}).Info("server listening")

		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}

		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeoutDuration())
		defer cancel()

		err := srv.Shutdown(shutdownCtx)
		manager.Shutdown()

		if err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}

		return nil
	})

	return g.Wait()
}
