// Package scanner drives the registry discovery pipeline: read feed
// batches from the persisted marker, classify, stage, notify, advance
// the checkpoint, all inside a bounded time budget.
package scanner

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/juju/clock"

	"github.com/registryops/harvester/internal/checkpoint"
	"github.com/registryops/harvester/internal/feed"
	"github.com/registryops/harvester/internal/filter"
	"github.com/registryops/harvester/internal/notify"
	"github.com/registryops/harvester/internal/stage"
	"github.com/registryops/harvester/internal/telemetry"
)

// Scanner orchestrates one discovery run. It assumes single-writer
// access to the checkpoint store: the external invocation policy keeps
// at most one run in flight.
type Scanner struct {
	checkpoints checkpoint.Store
	reader      feed.Reader
	filter      *filter.Filter
	stager      stage.Stager
	notifier    notify.Notifier

	timeout      time.Duration
	safetyMargin time.Duration
	batchSize    int

	clock   clock.Clock
	metrics *telemetry.ScannerMetrics
}

// Option is a function that configures the scanner
type Option func(*Scanner)

// WithClock sets the clock used for budget arithmetic and timestamps
func WithClock(clk clock.Clock) Option {
	return func(s *Scanner) {
		s.clock = clk
	}
}

// WithMetrics sets the metrics emitted by runs
func WithMetrics(metrics *telemetry.ScannerMetrics) Option {
	return func(s *Scanner) {
		s.metrics = metrics
	}
}

// New creates a Scanner with injected dependencies
func New(
	checkpoints checkpoint.Store,
	reader feed.Reader,
	fltr *filter.Filter,
	stager stage.Stager,
	notifier notify.Notifier,
	timeout, safetyMargin time.Duration,
	batchSize int,
	opts ...Option,
) *Scanner {
	s := &Scanner{
		checkpoints:  checkpoints,
		reader:       reader,
		filter:       fltr,
		stager:       stager,
		notifier:     notifier,
		timeout:      timeout,
		safetyMargin: safetyMargin,
		batchSize:    batchSize,
		clock:        clock.WallClock,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Run executes one discovery pass. It returns normally on feed
// exhaustion and on a clean budget stop; only errors that threaten
// checkpoint correctness are returned. The returned report is non-nil
// in both cases.
func (s *Scanner) Run(ctx context.Context) (*Report, error) {
	gov := NewGovernor(s.clock, s.timeout, s.safetyMargin)
	report := &Report{
		RunID:     uuid.NewString(),
		StartedAt: s.clock.Now(),
	}

	marker, ok, err := s.checkpoints.Load(ctx)
	if err != nil {
		return s.finish(ctx, gov, report, err)
	}
	position := int64(0)
	if ok {
		position = marker.Sequence
	}
	report.StartMarker = position
	report.EndMarker = position

	slog.Info("Starting scan",
		"runId", report.RunID,
		"marker", position,
		"batchSize", s.batchSize,
		"budget", s.timeout,
		"safetyMargin", s.safetyMargin)

	for {
		if gov.ShouldStop() {
			report.StopReason = StopReasonBudget
			slog.Info("Stopping ahead of deadline",
				"runId", report.RunID,
				"remaining", gov.Remaining(),
				"marker", position)
			break
		}

		batch, err := s.reader.Read(ctx, position, s.batchSize)
		if err != nil {
			// The marker from the last committed batch is already durable
			return s.finish(ctx, gov, report, err)
		}
		if len(batch.Records) == 0 {
			if batch.LastSeq > position {
				// The page held only deletions. Commit the marker past
				// them or every future run re-reads the same page.
				if err := s.checkpoints.Save(ctx, checkpoint.Marker{
					Sequence:  batch.LastSeq,
					UpdatedAt: s.clock.Now(),
				}); err != nil {
					return s.finish(ctx, gov, report, err)
				}
				position = batch.LastSeq
				report.EndMarker = position
				report.Batches++
				slog.Debug("Committed deletion-only page",
					"runId", report.RunID,
					"marker", position)
				continue
			}
			report.StopReason = StopReasonExhausted
			break
		}

		batchStart := s.clock.Now()
		var changes, versions, relevant, unprocessable, stagingFailures int64

		for _, record := range batch.Records {
			changes++

			result := s.filter.Classify(record)
			switch result.Class {
			case filter.Malformed:
				unprocessable++
				slog.Warn("Skipping unprocessable change record",
					"seq", record.Seq,
					"package", record.Name,
					"reason", result.Reason)

			case filter.Irrelevant:
				versions++

			case filter.Candidate:
				versions++
				relevant++

				artifact, err := s.stager.Stage(ctx, result.Candidate)
				if err != nil {
					// Skipped, not retried this run; counted and logged
					stagingFailures++
					slog.Error("Staging failed",
						"seq", record.Seq,
						"package", record.Name,
						"version", record.Version,
						"error", err)
					continue
				}
				report.Staged++

				if err := s.notifier.Notify(ctx, artifact, report.RunID); err != nil {
					// The marker for this batch has not been committed,
					// so the record is re-delivered next run
					report.Changes += changes
					report.PackageVersions += versions
					report.Relevant += relevant
					report.Unprocessable += unprocessable
					report.StagingFailures += stagingFailures
					return s.finish(ctx, gov, report, err)
				}
				report.Notified++

				if !record.PublishedAt.IsZero() &&
					(report.OldestPublishedAt == nil || record.PublishedAt.Before(*report.OldestPublishedAt)) {
					published := record.PublishedAt
					report.OldestPublishedAt = &published
				}
			}
		}

		// All outcomes in this batch are final: advance the marker
		// before fetching the next batch
		if err := s.checkpoints.Save(ctx, checkpoint.Marker{
			Sequence:  batch.LastSeq,
			UpdatedAt: s.clock.Now(),
		}); err != nil {
			report.Changes += changes
			report.PackageVersions += versions
			report.Relevant += relevant
			report.Unprocessable += unprocessable
			report.StagingFailures += stagingFailures
			return s.finish(ctx, gov, report, err)
		}
		position = batch.LastSeq
		report.EndMarker = position
		report.Batches++

		report.Changes += changes
		report.PackageVersions += versions
		report.Relevant += relevant
		report.Unprocessable += unprocessable
		report.StagingFailures += stagingFailures

		batchDuration := s.clock.Now().Sub(batchStart)
		s.metrics.RecordBatch(ctx, changes, versions, relevant, unprocessable, stagingFailures, batchDuration)
		slog.Debug("Committed batch",
			"runId", report.RunID,
			"marker", position,
			"records", changes,
			"duration", batchDuration)
	}

	result, _ := s.finish(ctx, gov, report, nil)
	slog.Info("Scan finished",
		"runId", report.RunID,
		"reason", report.StopReason,
		"marker", report.EndMarker,
		"changes", report.Changes,
		"staged", report.Staged,
		"notified", report.Notified,
		"unprocessable", report.Unprocessable,
		"stagingFailures", report.StagingFailures,
		"remaining", report.Remaining)
	return result, nil
}

// finish stamps the report and records run metrics. A clean early stop
// is not an error; err is passed through for abort paths.
func (s *Scanner) finish(ctx context.Context, gov *Governor, report *Report, err error) (*Report, error) {
	report.FinishedAt = s.clock.Now()
	report.Remaining = gov.Remaining()
	if err != nil {
		report.StopReason = StopReasonError
	}
	if report.OldestPublishedAt != nil {
		s.metrics.RecordPackageVersionAge(ctx, report.FinishedAt.Sub(*report.OldestPublishedAt))
	}
	s.metrics.RecordRun(ctx, report.FinishedAt.Sub(report.StartedAt), report.Remaining, err == nil)
	return report, err
}
