// Package coordinator schedules scanner runs and canary ticks when the
// harvester runs as a long-lived process instead of under an external
// scheduler. One scan at a time; the scan and canary loops share a
// single goroutine so the checkpoint store never sees two writers.
package coordinator

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/registryops/harvester/internal/canary"
	"github.com/registryops/harvester/internal/scanner"
)

// schedulingJitter is the maximum random offset applied to intervals to
// prevent synchronized fleets from hitting the replica simultaneously
const schedulingJitter = 30 * time.Second

// Coordinator manages periodic scanner and canary execution
type Coordinator interface {
	// Start begins the scheduling loop. Blocks until the context is
	// cancelled.
	Start(ctx context.Context) error

	// Stop gracefully stops the coordinator and waits for the loop to
	// exit
	Stop() error
}

// defaultCoordinator is the default implementation of Coordinator
type defaultCoordinator struct {
	scanner      *scanner.Scanner
	reports      scanner.ReportStore
	scanInterval time.Duration

	canaryProbe    *canary.Canary
	canaryInterval time.Duration

	cancelFunc context.CancelFunc
	done       chan struct{}
}

// Option is a function that configures the coordinator
type Option func(*defaultCoordinator)

// WithCanary adds a canary probe ticked every interval
func WithCanary(probe *canary.Canary, interval time.Duration) Option {
	return func(c *defaultCoordinator) {
		c.canaryProbe = probe
		c.canaryInterval = interval
	}
}

// New creates a coordinator running the scanner every scanInterval.
// The interval should equal the scanner's time budget so consecutive
// runs never overlap.
func New(scn *scanner.Scanner, reports scanner.ReportStore, scanInterval time.Duration, opts ...Option) Coordinator {
	c := &defaultCoordinator{
		scanner:      scn,
		reports:      reports,
		scanInterval: scanInterval,
		done:         make(chan struct{}),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// jittered returns base with a random offset in [-schedulingJitter,
// +schedulingJitter]. Intervals too short to absorb the jitter are
// returned unchanged.
func jittered(base time.Duration) time.Duration {
	if base <= 2*schedulingJitter {
		return base
	}
	//nolint:gosec // non-cryptographic randomness is fine for scheduling jitter
	offset := time.Duration(rand.Int64N(int64(2*schedulingJitter))) - schedulingJitter
	return base + offset
}

// Start begins the scheduling loop
func (c *defaultCoordinator) Start(ctx context.Context) error {
	loopCtx, cancel := context.WithCancel(ctx)
	c.cancelFunc = cancel
	defer func() {
		close(c.done)
		slog.Info("Coordinator shutting down")
	}()

	scanInterval := jittered(c.scanInterval)
	slog.Info("Starting coordinator",
		"scanInterval", scanInterval,
		"canaryEnabled", c.canaryProbe != nil)

	scanTicker := time.NewTicker(scanInterval)
	defer scanTicker.Stop()

	var canaryTick <-chan time.Time
	if c.canaryProbe != nil {
		canaryTicker := time.NewTicker(jittered(c.canaryInterval))
		defer canaryTicker.Stop()
		canaryTick = canaryTicker.C
	}

	// First scan runs immediately; the ticker paces the rest
	c.runScan(loopCtx)

	for {
		select {
		case <-scanTicker.C:
			c.runScan(loopCtx)
			scanTicker.Reset(jittered(c.scanInterval))
		case <-canaryTick:
			c.runCanary(loopCtx)
		case <-loopCtx.Done():
			slog.Info("Coordinator stopping")
			return nil
		}
	}
}

// Stop gracefully stops the coordinator
func (c *defaultCoordinator) Stop() error {
	if c.cancelFunc != nil {
		slog.Info("Stopping coordinator")
		c.cancelFunc()
		<-c.done
	}
	return nil
}

func (c *defaultCoordinator) runScan(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}

	report, err := c.scanner.Run(ctx)
	if err != nil {
		slog.Error("Scan failed", "error", err)
	}
	if report == nil {
		return
	}

	if err := c.reports.Save(ctx, report); err != nil {
		slog.Error("Failed to persist run report", "runId", report.RunID, "error", err)
	}
}

func (c *defaultCoordinator) runCanary(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}

	if err := c.canaryProbe.Tick(ctx); err != nil {
		slog.Error("Canary tick failed", "error", err)
	}
}
