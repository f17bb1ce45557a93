package scanner

import (
	"time"

	"github.com/juju/clock"
)

// Governor tracks elapsed wall-clock time against the run deadline. The
// scanner consults it between batches and stops with enough margin to
// persist the checkpoint before the external kill deadline. Pure clock
// arithmetic; no I/O.
type Governor struct {
	clock    clock.Clock
	deadline time.Time
	margin   time.Duration
}

// NewGovernor creates a Governor whose deadline is timeout from now.
// margin is how much budget must remain for another batch to start.
func NewGovernor(clk clock.Clock, timeout, margin time.Duration) *Governor {
	if clk == nil {
		clk = clock.WallClock
	}
	return &Governor{
		clock:    clk,
		deadline: clk.Now().Add(timeout),
		margin:   margin,
	}
}

// Remaining returns the time left until the deadline; negative once the
// deadline has passed
func (g *Governor) Remaining() time.Duration {
	return g.deadline.Sub(g.clock.Now())
}

// ShouldStop reports whether the scanner must stop consuming new batches
func (g *Governor) ShouldStop() bool {
	return g.Remaining() < g.margin
}
