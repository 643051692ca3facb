// Package app provides application lifecycle management for the joplin bridge.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/stacklok/joplin-bridge/internal/config"
)

// BridgeApp encapsulates all components needed to run the bridge
// It provides lifecycle management and graceful shutdown capabilities
type BridgeApp struct {
	config     *config.Config
	components *AppComponents
	httpServer *http.Server

	// Resources released once, after the server and the coordinator stopped
	closers   []func() error
	closeOnce sync.Once

	// Lifecycle management
	ctx        context.Context
	cancelFunc context.CancelFunc
}

// Start starts the application components (HTTP server and periodic sync)
// This method blocks until the HTTP server stops or encounters an error
func (app *BridgeApp) Start() error {
	go func() {
		if err := app.components.SyncCoordinator.Start(app.ctx); err != nil {
			slog.Error("Sync coordinator failed", "error", err)
		}
	}()

	slog.Info("Server listening", "address", app.httpServer.Addr)
	if err := app.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("HTTP server failed: %w", err)
	}

	return nil
}

// Stop gracefully stops the application within timeout. The HTTP server
// stops accepting triggers first, then an in-flight background sync is
// awaited so its status is recorded before exit.
func (app *BridgeApp) Stop(timeout time.Duration) error {
	slog.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var errs []error
	if err := app.httpServer.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("server forced to shutdown: %w", err))
	}

	if err := app.components.SyncCoordinator.Stop(shutdownCtx); err != nil {
		slog.Error("Failed to stop sync coordinator", "error", err)
		errs = append(errs, err)
	}

	if app.cancelFunc != nil {
		app.cancelFunc()
	}

	app.closeOnce.Do(func() {
		for i := len(app.closers) - 1; i >= 0; i-- {
			if err := app.closers[i](); err != nil {
				slog.Warn("Failed to release resource", "error", err)
			}
		}
	})

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	slog.Info("Server shutdown complete")
	return nil
}

// GetConfig returns the application configuration
func (app *BridgeApp) GetConfig() *config.Config {
	return app.config
}

// GetHTTPServer returns the HTTP server (useful for testing to get the actual port)
func (app *BridgeApp) GetHTTPServer() *http.Server {
	return app.httpServer
}

// GetComponents returns the wired application components
func (app *BridgeApp) GetComponents() *AppComponents {
	return app.components
}
