package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/registryops/harvester/internal/app"
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Run one discovery pass over the replica change feed",
	Long: `Run a single scanner invocation: resume from the persisted checkpoint,
read change batches, stage relevant package tarballs, notify the queue,
and advance the checkpoint. Intended to be triggered by an external
scheduler with exactly one invocation in flight at a time.`,
	RunE: runScan,
}

func init() {
	scanCmd.Flags().String("config", "", "Path to configuration file (YAML format, required)")
	if err := scanCmd.MarkFlagRequired("config"); err != nil {
		slog.Error("Failed to mark config flag as required", "error", err)
	}
}

func runScan(cmd *cobra.Command, _ []string) error {
	ctx := context.Background()

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	harvester, err := app.NewHarvesterApp(ctx, app.WithConfig(cfg))
	if err != nil {
		return fmt.Errorf("failed to build application: %w", err)
	}

	report, runErr := harvester.RunScan(ctx)
	if report != nil {
		slog.Info("Scan finished",
			"runId", report.RunID,
			"stopReason", report.StopReason,
			"startMarker", report.StartMarker,
			"endMarker", report.EndMarker,
			"batches", report.Batches,
			"changes", report.Changes,
			"relevant", report.Relevant,
			"staged", report.Staged,
			"notified", report.Notified,
			"unprocessable", report.Unprocessable,
			"stagingFailures", report.StagingFailures,
			"remaining", report.Remaining)
	}
	if runErr != nil {
		return fmt.Errorf("scan failed: %w", runErr)
	}
	return nil
}
