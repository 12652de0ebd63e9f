package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jmylchreest/encodarr/internal/cleanup"
	"github.com/jmylchreest/encodarr/internal/database"
	internalhttp "github.com/jmylchreest/encodarr/internal/http"
	"github.com/jmylchreest/encodarr/internal/http/handlers"
	"github.com/jmylchreest/encodarr/internal/observability"
	"github.com/jmylchreest/encodarr/internal/scheduler"
	"github.com/jmylchreest/encodarr/internal/session"
	"github.com/jmylchreest/encodarr/internal/version"
)

// cancelAllTimeout bounds how long shutdown waits for encoders to quit.
const cancelAllTimeout = 30 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the encodarr server",
	Long: `Start the encodarr HTTP server and API.

The server provides:
- REST API for starting, inspecting and cancelling transcodes
- Per-device transcoding sessions
- Health check endpoint
- OpenAPI documentation at /docs

On SIGINT or SIGTERM every running encoder is asked to quit before the
server stops.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("host", "", "Host to bind to (overrides server.host)")
	serveCmd.Flags().Int("port", 0, "Port to listen on (overrides server.port)")
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg := appConfig
	if cmd.Flags().Changed("host") {
		cfg.Server.Host, _ = cmd.Flags().GetString("host")
	}
	if cmd.Flags().Changed("port") {
		cfg.Server.Port, _ = cmd.Flags().GetInt("port")
	}

	logger := slog.Default()
	info := version.Get()
	logger.Info("starting encodarr", slog.String("version", info.String()))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.New(cfg.Database, observability.WithComponent(logger, "database"))
	if err != nil {
		return fmt.Errorf("initializing database: %w", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			logger.Warn("closing database", slog.String("error", err.Error()))
		}
	}()
	if err := db.Migrate(ctx); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	registry := session.NewRegistry(db.DB, logger)

	eng, err := newEngine(ctx, cfg, registry, logger)
	if err != nil {
		return err
	}

	sched := scheduler.New(logger)
	if cfg.Cleanup.Enabled {
		sweeper := cleanup.NewSweeper(
			[]string{eng.paths.transcodes, eng.paths.logs},
			cfg.Cleanup.MaxAge,
			eng.manager,
			cleanup.WithLogger(logger),
		)
		if err := sweeper.Run(ctx); err != nil {
			logger.Warn("startup cleanup failed", slog.String("error", err.Error()))
		}
		if err := sched.Add("cleanup", cfg.Cleanup.Schedule, sweeper.Run); err != nil {
			return fmt.Errorf("scheduling cleanup: %w", err)
		}
	}
	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("starting scheduler: %w", err)
	}

	server := internalhttp.NewServer(cfg.Server, logger, info.Version)
	handlers.NewHealthHandler(info).WithDB(db).WithJobs(eng.manager).Register(server.API())
	transcodeHandler := handlers.NewTranscodeHandler(eng.manager)
	transcodeHandler.Register(server.API())
	transcodeHandler.RegisterChiRoutes(server.Router())
	handlers.NewSessionHandler(registry).Register(server.API())

	serveErr := server.ListenAndServe(ctx)

	logger.Info("shutting down")
	sched.Stop()

	cancelCtx, cancel := context.WithTimeout(context.Background(), cancelAllTimeout)
	defer cancel()
	if err := eng.manager.CancelAll(cancelCtx); err != nil {
		logger.Warn("encoders still running at shutdown", slog.String("error", err.Error()))
	}
	for _, s := range eng.opener.List() {
		_ = s.Close()
	}

	return serveErr
}
