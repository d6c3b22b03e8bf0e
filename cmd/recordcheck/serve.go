package main

import (
	"context"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/JonMunkholm/recordcheck/internal/core"
	"github.com/JonMunkholm/recordcheck/internal/web"
	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	Long: `Start the HTTP API:

  POST /api/upload              submit a CSV or XLSX file (multipart field "file")
  GET  /api/status/{uploadId}   poll a job snapshot
  GET  /healthz                 liveness and validator load`,
	RunE: runServe,
}

var servePort int

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "Listen port (overrides SERVER_PORT)")
}

func runServe(cmd *cobra.Command, args []string) error {
	if servePort > 0 {
		cfg.Server.Port = servePort
	}

	slog.Info("configuration loaded",
		"port", cfg.Server.Port,
		"store", cfg.Store.Backend,
		"validation_concurrency", cfg.Validation.Concurrency,
		"rate_limit_enabled", cfg.Rate.Enabled,
	)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := newStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	service, err := newService(store, cfg)
	if err != nil {
		return errors.Wrap(err, "create service")
	}

	server := web.NewServer(service, cfg)

	// Background jobs stop with the signal context.
	if cfg.Retention.Enabled {
		go service.StartRetentionSweeper(ctx, core.RetentionConfig{
			MaxAge:        cfg.Retention.MaxAge,
			CheckInterval: cfg.Retention.CheckInterval,
		})
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.Start(ctx, cfg.Server.Addr())
	}()

	select {
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "server stopped")
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "error", err)
	}

	// Let in-flight validation jobs reach a terminal status (with timeout).
	if status := service.LimiterStatus(); status.Active > 0 || status.Queued > 0 {
		slog.Info("waiting for validation jobs to complete",
			"active", status.Active,
			"queued", status.Queued,
		)
	}
	if err := service.Wait(shutdownCtx); err != nil {
		slog.Warn("validation jobs did not complete in time", "error", err)
	} else {
		slog.Info("all validation jobs completed")
	}
	return nil
}
