package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/registryops/harvester/internal/app"
)

const defaultGracefulTimeout = 30 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the harvester as a long-lived process",
	Long: `Run the harvester with its own scheduler: scans execute on the
configured interval, the canary ticks on its own period, and an admin
HTTP server exposes health, status, and Prometheus metrics.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().String("address", "", "Address to listen on (overrides configuration)")
	serveCmd.Flags().String("config", "", "Path to configuration file (YAML format, required)")
	if err := serveCmd.MarkFlagRequired("config"); err != nil {
		slog.Error("Failed to mark config flag as required", "error", err)
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx := context.Background()

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	opts := []app.Options{app.WithConfig(cfg)}
	if address, _ := cmd.Flags().GetString("address"); address != "" {
		opts = append(opts, app.WithAddress(address))
	}

	harvester, err := app.NewHarvesterApp(ctx, opts...)
	if err != nil {
		return fmt.Errorf("failed to build application: %w", err)
	}

	slog.Info("Starting harvester",
		"address", harvester.GetHTTPServer().Addr,
		"replica", cfg.Feed.ReplicaURL,
		"scanInterval", cfg.Scanner.GetInterval(),
		"canaryEnabled", cfg.Canary.Enabled)

	errCh := make(chan error, 1)
	go func() {
		errCh <- harvester.Start()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
	case sig := <-quit:
		slog.Info("Received shutdown signal", "signal", sig.String())
		if err := harvester.Stop(defaultGracefulTimeout); err != nil {
			return err
		}
	}

	return nil
}
