package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/routeguard/routeguard/internal/config"
	"github.com/routeguard/routeguard/internal/observability"
)

// run starts the server and blocks until shutdown.
func run(app *application, configPath string, logger observability.Logger) {
	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", observability.String("address", app.server.Addr))
		if err := app.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	watcher := startConfigWatcher(app, configPath, logger)

	waitForShutdown(app, watcher, errCh, logger)
}

// startConfigWatcher starts hot reload of routes and rate limits. A watcher
// failure is non-fatal; the server keeps the boot configuration.
func startConfigWatcher(app *application, configPath string, logger observability.Logger) *config.Watcher {
	watcher, err := config.NewWatcher(configPath, func(cfg *config.Config) {
		if err := app.initGuard(cfg); err != nil {
			logger.Error("config reload rejected", observability.Error(err))
			return
		}
		logger.Info("protection pipeline reloaded",
			observability.Int("routes", len(cfg.Routes)),
		)
	}, config.WithWatcherLogger(logger))
	if err != nil {
		logger.Error("failed to create config watcher", observability.Error(err))
		return nil
	}

	if err := watcher.Start(context.Background()); err != nil {
		logger.Error("failed to start config watcher", observability.Error(err))
		return nil
	}

	return watcher
}

// waitForShutdown waits for a signal or server error, then shuts down.
func waitForShutdown(app *application, watcher *config.Watcher, errCh <-chan error, logger observability.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", observability.String("signal", sig.String()))
	case err := <-errCh:
		logger.Error("server failed", observability.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(),
		app.config.Server.ShutdownTimeout.Duration())
	defer cancel()

	app.health.SetDraining(true)

	if watcher != nil {
		_ = watcher.Stop()
	}

	if err := app.server.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to stop server gracefully", observability.Error(err))
	}

	app.csrf.Close()
	app.sessions.Close()
	if err := app.auditLog.Close(); err != nil {
		logger.Error("failed to close audit logger", observability.Error(err))
	}
	if err := app.store.Close(); err != nil {
		logger.Error("failed to close store", observability.Error(err))
	}

	logger.Info("shutdown complete")
}
