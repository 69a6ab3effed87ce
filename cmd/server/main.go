package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/nicktill/tubestatus/pkg/config"
	"github.com/nicktill/tubestatus/pkg/logging"
	"github.com/nicktill/tubestatus/pkg/server"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:          "tubestatus",
		Short:        "Record London transit status changes and serve their history",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(configPath)
		},
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "tubestatus.yaml", "path to the YAML config file (missing file uses defaults)")

	root.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run the poller and the HTTP server (default)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(configPath)
		},
	})

	return root
}

func serve(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Development)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	zap.S().Info("Starting tubestatus server...")
	zap.S().Infof("Configuration: backend=%s, poll every %v, history window up to %v",
		cfg.Storage.Backend, cfg.Poller.Interval, cfg.History.MaxWindow)

	store, err := server.InitializeStorage(cfg.Storage)
	if err != nil {
		return fmt.Errorf("initialize storage: %w", err)
	}

	client := server.NewTfLClient(cfg.TfL)
	components := server.InitializeComponents(cfg, store, client, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		components.Hub.Run(ctx)
	}()
	zap.S().Info("WebSocket hub started for live transitions")

	wg.Add(1)
	go server.RunPoller(ctx, components.Poller, &wg)

	wg.Add(1)
	go server.RunBadgerGC(ctx, store, cfg.Storage.GCInterval, &wg)

	components.Details.Warm(ctx)

	// Apply CORS origins and log level from config edits without restart.
	wg.Add(1)
	go func() {
		defer wg.Done()
		err := config.Watch(ctx, configPath, func(next *config.Config) {
			components.CORS.SetOrigins(next.Server.CORSOrigins)
			if err := logger.SetLevel(next.Logging.Level); err != nil {
				zap.S().Warnf("Ignoring log level from reloaded config: %v", err)
			}
			zap.S().Infof("Config reloaded: %d CORS origins, log level %s", len(next.Server.CORSOrigins), next.Logging.Level)
		})
		if err != nil {
			zap.S().Infof("Config hot reload disabled: %v", err)
		}
	}()

	handler := server.SetupRoutes(mux.NewRouter(), components)

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		zap.S().Infof("Server starting on http://localhost:%s", cfg.Server.Port)
		zap.S().Info("API endpoints:")
		zap.S().Info("   GET  /api/v1/history          - Line status history")
		zap.S().Info("   GET  /api/v1/station-history  - Station disruption history")
		zap.S().Info("   GET  /api/v1/station-details  - Station metadata")
		zap.S().Info("   GET  /api/v1/export           - Raw interval export")
		zap.S().Info("   GET  /api/v1/live             - Live transitions (WebSocket)")
		zap.S().Info("   GET  /metrics                 - Prometheus endpoint")

		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Wait for interrupt signal or listener failure
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	var runErr error
	select {
	case <-quit:
		zap.S().Info("Shutdown signal received...")
	case runErr = <-serverErr:
		zap.S().Errorf("Server failed: %v", runErr)
	}

	// Cancel first so background loops exit before wg.Wait.
	zap.S().Info("Stopping background tasks...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), config.ShutdownTimeout)
	defer shutdownCancel()

	zap.S().Info("Gracefully shutting down server...")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zap.S().Warnf("Server shutdown warning: %v", err)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		zap.S().Info("All background tasks stopped cleanly")
	case <-time.After(5 * time.Second):
		zap.S().Warn("Some background tasks did not stop in time (forcing exit)")
	}

	if err := store.Close(); err != nil {
		zap.S().Warnf("Storage close warning: %v", err)
	}

	zap.S().Info("tubestatus server exited")
	return runErr
}
