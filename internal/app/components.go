package app

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/registryops/harvester/internal/canary"
	"github.com/registryops/harvester/internal/checkpoint"
	"github.com/registryops/harvester/internal/coordinator"
	"github.com/registryops/harvester/internal/scanner"
)

// Components groups the wired pipeline components
type Components struct {
	// Scanner runs one discovery pass over the replica feed
	Scanner *scanner.Scanner

	// CanaryProbe measures replication and cataloging latency; nil when
	// the canary is disabled
	CanaryProbe *canary.Canary

	// Coordinator schedules scans and canary ticks in serve mode
	Coordinator coordinator.Coordinator

	// Checkpoints is the persisted scan marker
	Checkpoints checkpoint.Store

	// Reports is the persisted last-run report
	Reports scanner.ReportStore

	// Registry collects the Prometheus metrics served at /metrics
	Registry *prometheus.Registry
}
