package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/registryops/harvester/internal/app"
)

var canaryCmd = &cobra.Command{
	Use:   "canary",
	Short: "Run one canary probe tick",
	Long: `Run a single canary tick: check whether the tracked synthetic package
version is visible in the replica feed and in the catalog, record
latency metrics, and persist the probe state for the next tick.`,
	RunE: runCanary,
}

func init() {
	canaryCmd.Flags().String("config", "", "Path to configuration file (YAML format, required)")
	if err := canaryCmd.MarkFlagRequired("config"); err != nil {
		slog.Error("Failed to mark config flag as required", "error", err)
	}
}

func runCanary(cmd *cobra.Command, _ []string) error {
	ctx := context.Background()

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	harvester, err := app.NewHarvesterApp(ctx, app.WithConfig(cfg))
	if err != nil {
		return fmt.Errorf("failed to build application: %w", err)
	}

	if err := harvester.RunCanaryTick(ctx); err != nil {
		return fmt.Errorf("canary tick failed: %w", err)
	}

	slog.Info("Canary tick finished", "package", cfg.Canary.PackageName)
	return nil
}
