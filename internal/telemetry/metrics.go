package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	// ScannerMetricsMeterName is the name used for the scanner metrics meter
	ScannerMetricsMeterName = "github.com/registryops/harvester/scanner"

	// CanaryMetricsMeterName is the name used for the canary metrics meter
	CanaryMetricsMeterName = "github.com/registryops/harvester/canary"
)

// ScannerMetrics holds the OpenTelemetry instruments for the discovery
// pipeline
type ScannerMetrics struct {
	changesTotal           metric.Int64Counter
	packageVersionsTotal   metric.Int64Counter
	relevantVersionsTotal  metric.Int64Counter
	unprocessableTotal     metric.Int64Counter
	stagingFailuresTotal   metric.Int64Counter
	stagingDuration        metric.Float64Histogram
	batchDuration          metric.Float64Histogram
	packageVersionAge      metric.Float64Gauge
	remainingTime          metric.Float64Gauge
	runsTotal              metric.Int64Counter
	runErrorsTotal         metric.Int64Counter
	runDuration            metric.Float64Histogram
}

// NewScannerMetrics creates a new ScannerMetrics instance with the given
// meter provider. If provider is nil, it returns nil (no-op metrics).
func NewScannerMetrics(provider metric.MeterProvider) (*ScannerMetrics, error) {
	if provider == nil {
		return nil, nil
	}

	meter := provider.Meter(ScannerMetricsMeterName)
	m := &ScannerMetrics{}

	var err error
	if m.changesTotal, err = meter.Int64Counter(
		"harvester_changes_total",
		metric.WithDescription("Number of change records read from the registry feed"),
		metric.WithUnit("{change}"),
	); err != nil {
		return nil, err
	}

	if m.packageVersionsTotal, err = meter.Int64Counter(
		"harvester_package_versions_total",
		metric.WithDescription("Number of well-formed package versions inspected"),
		metric.WithUnit("{version}"),
	); err != nil {
		return nil, err
	}

	if m.relevantVersionsTotal, err = meter.Int64Counter(
		"harvester_relevant_package_versions_total",
		metric.WithDescription("Number of package versions that passed the relevance filter"),
		metric.WithUnit("{version}"),
	); err != nil {
		return nil, err
	}

	if m.unprocessableTotal, err = meter.Int64Counter(
		"harvester_unprocessable_entities_total",
		metric.WithDescription("Number of malformed change records skipped"),
		metric.WithUnit("{record}"),
	); err != nil {
		return nil, err
	}

	if m.stagingFailuresTotal, err = meter.Int64Counter(
		"harvester_staging_failures_total",
		metric.WithDescription("Number of package versions that failed staging"),
		metric.WithUnit("{version}"),
	); err != nil {
		return nil, err
	}

	if m.stagingDuration, err = meter.Float64Histogram(
		"harvester_staging_duration_seconds",
		metric.WithDescription("Time spent staging one package tarball"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60),
	); err != nil {
		return nil, err
	}

	if m.batchDuration, err = meter.Float64Histogram(
		"harvester_batch_duration_seconds",
		metric.WithDescription("Time spent processing one feed batch"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.5, 1, 2.5, 5, 10, 30, 60, 120),
	); err != nil {
		return nil, err
	}

	if m.packageVersionAge, err = meter.Float64Gauge(
		"harvester_package_version_age_seconds",
		metric.WithDescription("Age of the oldest package version processed in a run"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	if m.remainingTime, err = meter.Float64Gauge(
		"harvester_remaining_time_seconds",
		metric.WithDescription("Time budget remaining when the run exited"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	if m.runsTotal, err = meter.Int64Counter(
		"harvester_runs_total",
		metric.WithDescription("Number of scanner runs"),
		metric.WithUnit("{run}"),
	); err != nil {
		return nil, err
	}

	if m.runErrorsTotal, err = meter.Int64Counter(
		"harvester_run_errors_total",
		metric.WithDescription("Number of scanner runs that aborted with an error"),
		metric.WithUnit("{run}"),
	); err != nil {
		return nil, err
	}

	if m.runDuration, err = meter.Float64Histogram(
		"harvester_run_duration_seconds",
		metric.WithDescription("Duration of scanner runs in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(1, 5, 15, 30, 60, 120, 300, 600, 900),
	); err != nil {
		return nil, err
	}

	return m, nil
}

// RecordBatch records the outcome counters for one processed batch
func (m *ScannerMetrics) RecordBatch(ctx context.Context, changes, packageVersions, relevant, unprocessable, stagingFailures int64, duration time.Duration) {
	if m == nil {
		return
	}
	m.changesTotal.Add(ctx, changes)
	m.packageVersionsTotal.Add(ctx, packageVersions)
	m.relevantVersionsTotal.Add(ctx, relevant)
	m.unprocessableTotal.Add(ctx, unprocessable)
	m.stagingFailuresTotal.Add(ctx, stagingFailures)
	m.batchDuration.Record(ctx, duration.Seconds())
}

// RecordStagingDuration records the time spent staging one tarball
func (m *ScannerMetrics) RecordStagingDuration(ctx context.Context, d time.Duration, success bool) {
	if m == nil {
		return
	}
	m.stagingDuration.Record(ctx, d.Seconds(), metric.WithAttributes(
		attribute.Bool("success", success),
	))
}

// RecordPackageVersionAge records the age of the oldest processed version
func (m *ScannerMetrics) RecordPackageVersionAge(ctx context.Context, age time.Duration) {
	if m == nil {
		return
	}
	m.packageVersionAge.Record(ctx, age.Seconds())
}

// RecordRun records the outcome of one scanner run
func (m *ScannerMetrics) RecordRun(ctx context.Context, duration, remaining time.Duration, success bool) {
	if m == nil {
		return
	}
	m.runsTotal.Add(ctx, 1)
	if !success {
		m.runErrorsTotal.Add(ctx, 1)
	}
	m.runDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(
		attribute.Bool("success", success),
	))
	m.remainingTime.Record(ctx, remaining.Seconds())
}

// CanaryMetrics holds the OpenTelemetry instruments for the catalog canary
type CanaryMetrics struct {
	dwellTime       metric.Float64Gauge
	timeToCatalog   metric.Float64Gauge
	replicaLag      metric.Float64Gauge
	trackedVersions metric.Int64Gauge
	ticksTotal      metric.Int64Counter
	tickErrorsTotal metric.Int64Counter
	tickDuration    metric.Float64Histogram
}

// NewCanaryMetrics creates a new CanaryMetrics instance with the given
// meter provider. If provider is nil, it returns nil (no-op metrics).
func NewCanaryMetrics(provider metric.MeterProvider) (*CanaryMetrics, error) {
	if provider == nil {
		return nil, nil
	}

	meter := provider.Meter(CanaryMetricsMeterName)
	m := &CanaryMetrics{}

	var err error
	if m.dwellTime, err = meter.Float64Gauge(
		"harvester_canary_dwell_time_seconds",
		metric.WithDescription("Elapsed time between probe publication and first replica visibility"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	if m.timeToCatalog, err = meter.Float64Gauge(
		"harvester_canary_time_to_catalog_seconds",
		metric.WithDescription("Elapsed time between probe publication and first catalog visibility"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	if m.replicaLag, err = meter.Float64Gauge(
		"harvester_canary_replica_lag_seconds",
		metric.WithDescription("Estimated lag between the upstream registry and its replica"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	if m.trackedVersions, err = meter.Int64Gauge(
		"harvester_canary_tracked_versions",
		metric.WithDescription("Number of probe versions currently being tracked"),
		metric.WithUnit("{version}"),
	); err != nil {
		return nil, err
	}

	if m.ticksTotal, err = meter.Int64Counter(
		"harvester_canary_ticks_total",
		metric.WithDescription("Number of canary ticks"),
		metric.WithUnit("{tick}"),
	); err != nil {
		return nil, err
	}

	if m.tickErrorsTotal, err = meter.Int64Counter(
		"harvester_canary_tick_errors_total",
		metric.WithDescription("Number of canary ticks that failed"),
		metric.WithUnit("{tick}"),
	); err != nil {
		return nil, err
	}

	if m.tickDuration, err = meter.Float64Histogram(
		"harvester_canary_tick_duration_seconds",
		metric.WithDescription("Duration of canary ticks in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.1, 0.5, 1, 2.5, 5, 10, 30),
	); err != nil {
		return nil, err
	}

	return m, nil
}

// RecordDwellTime records first replica visibility of the tracked version
func (m *CanaryMetrics) RecordDwellTime(ctx context.Context, pkg string, d time.Duration) {
	if m == nil {
		return
	}
	m.dwellTime.Record(ctx, d.Seconds(), metric.WithAttributes(
		attribute.String("package", pkg),
	))
}

// RecordTimeToCatalog records first catalog visibility of the tracked version
func (m *CanaryMetrics) RecordTimeToCatalog(ctx context.Context, pkg string, d time.Duration) {
	if m == nil {
		return
	}
	m.timeToCatalog.Record(ctx, d.Seconds(), metric.WithAttributes(
		attribute.String("package", pkg),
	))
}

// RecordReplicaLag records the estimated upstream-to-replica lag
func (m *CanaryMetrics) RecordReplicaLag(ctx context.Context, pkg string, d time.Duration) {
	if m == nil {
		return
	}
	m.replicaLag.Record(ctx, d.Seconds(), metric.WithAttributes(
		attribute.String("package", pkg),
	))
}

// RecordTrackedVersions records how many probe versions are in flight
func (m *CanaryMetrics) RecordTrackedVersions(ctx context.Context, count int64) {
	if m == nil {
		return
	}
	m.trackedVersions.Record(ctx, count)
}

// RecordTick records the outcome of one canary tick
func (m *CanaryMetrics) RecordTick(ctx context.Context, duration time.Duration, success bool) {
	if m == nil {
		return
	}
	m.ticksTotal.Add(ctx, 1)
	if !success {
		m.tickErrorsTotal.Add(ctx, 1)
	}
	m.tickDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(
		attribute.Bool("success", success),
	))
}
