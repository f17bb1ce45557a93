// Package app provides application lifecycle management for the
// harvester. It wires configuration into pipeline components and runs
// them either as one-shot commands or as a long-lived serve process.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/registryops/harvester/internal/config"
	"github.com/registryops/harvester/internal/scanner"
)

// HarvesterApp encapsulates all components needed to run the harvester.
// It provides lifecycle management and graceful shutdown.
type HarvesterApp struct {
	config     *config.Config
	components *Components
	httpServer *http.Server

	ctx        context.Context
	cancelFunc context.CancelFunc
}

// Start starts the coordinator and the admin HTTP server. Blocks until
// the HTTP server stops or fails.
func (app *HarvesterApp) Start() error {
	go func() {
		if err := app.components.Coordinator.Start(app.ctx); err != nil {
			slog.Error("Coordinator failed", "error", err)
		}
	}()

	slog.Info("Server listening", "address", app.httpServer.Addr)
	if err := app.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("HTTP server failed: %w", err)
	}

	return nil
}

// Stop gracefully stops the application with the given timeout. The
// coordinator stops first so no scan is in flight when the process
// exits.
func (app *HarvesterApp) Stop(timeout time.Duration) error {
	slog.Info("Shutting down")

	if err := app.components.Coordinator.Stop(); err != nil {
		slog.Error("Failed to stop coordinator", "error", err)
	}

	if app.cancelFunc != nil {
		app.cancelFunc()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := app.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	slog.Info("Shutdown complete")
	return nil
}

// RunScan executes a single discovery run and persists its report.
// Used by the one-shot scan command under an external scheduler.
func (app *HarvesterApp) RunScan(ctx context.Context) (*scanner.Report, error) {
	report, runErr := app.components.Scanner.Run(ctx)
	if report != nil {
		if err := app.components.Reports.Save(ctx, report); err != nil {
			slog.Error("Failed to persist run report", "runId", report.RunID, "error", err)
		}
	}
	return report, runErr
}

// RunCanaryTick executes a single canary probe tick
func (app *HarvesterApp) RunCanaryTick(ctx context.Context) error {
	if app.components.CanaryProbe == nil {
		return fmt.Errorf("canary is not configured")
	}
	return app.components.CanaryProbe.Tick(ctx)
}

// GetConfig returns the application configuration
func (app *HarvesterApp) GetConfig() *config.Config {
	return app.config
}

// GetComponents returns the wired components
func (app *HarvesterApp) GetComponents() *Components {
	return app.components
}

// GetHTTPServer returns the HTTP server (useful for testing to get the actual port)
func (app *HarvesterApp) GetHTTPServer() *http.Server {
	return app.httpServer
}
