package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/urfave/cli/v3"

	"courseloop/internal/config"
	"courseloop/internal/events"
	"courseloop/internal/gateway"
	"courseloop/internal/heartbeat"
	"courseloop/internal/models"
	"courseloop/internal/orchestrator"
	"courseloop/internal/storage"
	"courseloop/internal/trace"
)

// NewServeCommand returns the serve subcommand.
func NewServeCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Start the courseloop gateway server",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "host",
				Usage: "Host to listen on",
			},
			&cli.IntFlag{
				Name:  "port",
				Usage: "Port to listen on",
			},
		},
		Action: runServe,
	}
}

func runServe(_ context.Context, cmd *cli.Command) error {
	if cmd.Bool("debug") {
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})))
	}

	configPath := cmd.String("config")
	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Warn("config not found, using defaults", "path", configPath, "error", err)
		cfg = config.Default()
	}

	// CLI flags override config
	if cmd.IsSet("host") {
		cfg.Gateway.Host = cmd.String("host")
	}
	if cmd.IsSet("port") {
		cfg.Gateway.Port = cmd.Int("port")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	bus := events.NewBus(cfg.Events.BufferSize)
	defer bus.Close()

	registry := models.NewRegistry(cfg.Models)
	lm, err := models.DefaultCompleter(ctx, registry)
	if err != nil {
		if models.Required() {
			return fmt.Errorf("init default model: %w", err)
		}
		slog.Warn("no model configured, generation endpoints will fail", "error", err)
		// An unconfigured client answers every call with ErrNotConfigured,
		// which the gateway maps to a 503. A nil interface would panic.
		lm = models.NewClient(nil)
	}

	persist, err := storage.NewPersistence(cfg.Storage.Dir)
	if err != nil {
		return fmt.Errorf("init storage: %w", err)
	}

	tracer := trace.NewManager(cfg.Tracing.Enabled, slog.Default())

	engine := orchestrator.New(orchestrator.Options{
		Persistence:      persist,
		Bus:              bus,
		Tracer:           tracer,
		LM:               lm,
		SelectionTimeout: cfg.Engine.SelectionTimeout.Duration(),
	})
	engine.Chat().Threshold = cfg.Engine.EntryConfidenceThreshold

	if err := engine.Restore(); err != nil {
		slog.Warn("restore tasks", "error", err)
	}

	stopSweep, err := engine.StartSweep(cfg.Engine.SweepSchedule)
	if err != nil {
		return fmt.Errorf("start sweep: %w", err)
	}
	defer stopSweep()

	hb := heartbeat.NewWriter(heartbeatPath(), fmt.Sprintf("%s:%d", cfg.Gateway.Host, cfg.Gateway.Port))
	hb.CountTasks = func() int { return len(engine.Store().List()) }
	hb.Start()
	defer hb.Stop()

	server := gateway.NewServer(engine, cfg.Gateway.Host, cfg.Gateway.Port)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
