package canary_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/juju/clock/testclock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/registryops/harvester/internal/canary"
	"github.com/registryops/harvester/internal/httpclient"
	"github.com/registryops/harvester/internal/storage"
	"github.com/registryops/harvester/internal/telemetry"
)

// probeWorld simulates the upstream registry, the replica, and the
// catalog as one HTTP server whose visibility flags the test flips
// between ticks.
type probeWorld struct {
	latestVersion    string
	publishedAt      time.Time
	replicaHas       map[string]bool
	catalogHas       map[string]bool
	catalogStatus    int
	registryRequests int
}

func (w *probeWorld) handler(t *testing.T) http.Handler {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/registry/probe-pkg", func(rw http.ResponseWriter, _ *http.Request) {
		w.registryRequests++
		fmt.Fprintf(rw, `{
			"dist-tags": {"latest": %q},
			"time": {%q: %q}
		}`, w.latestVersion, w.latestVersion, w.publishedAt.Format(time.RFC3339))
	})
	mux.HandleFunc("/replica/probe-pkg", func(rw http.ResponseWriter, _ *http.Request) {
		versions := ""
		for v, present := range w.replicaHas {
			if present {
				versions = fmt.Sprintf("%q: {}", v)
			}
		}
		fmt.Fprintf(rw, `{"versions": {%s}}`, versions)
	})
	mux.HandleFunc("/catalog/probe-pkg/", func(rw http.ResponseWriter, r *http.Request) {
		if w.catalogStatus != 0 {
			rw.WriteHeader(w.catalogStatus)
			return
		}
		version := r.URL.Path[len("/catalog/probe-pkg/"):]
		if w.catalogHas[version] {
			rw.WriteHeader(http.StatusOK)
			return
		}
		rw.WriteHeader(http.StatusNotFound)
	})
	return mux
}

func newTestCanary(t *testing.T, world *probeWorld, states canary.StateStore, clk *testclock.Clock, opts ...canary.Option) *canary.Canary {
	t.Helper()

	server := httptest.NewServer(world.handler(t))
	server.Config.SetKeepAlivesEnabled(false)
	t.Cleanup(server.Close)

	return canary.New(
		httpclient.NewDefaultClient(5*time.Second),
		states,
		"probe-pkg",
		server.URL+"/registry",
		server.URL+"/replica",
		server.URL+"/catalog",
		append([]canary.Option{canary.WithClock(clk)}, opts...)...,
	)
}

// Walks one synthetic version through the full journey: published
// upstream at T0, visible in the replica at T+5m, visible in the
// catalog at T+40m, then retired in favor of the next version.
func TestCanary_FullJourney(t *testing.T) {
	t.Parallel()

	t0 := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)
	clk := testclock.NewClock(t0)
	world := &probeWorld{
		latestVersion: "9.9.9-probe",
		publishedAt:   t0,
		replicaHas:    map[string]bool{},
		catalogHas:    map[string]bool{},
	}
	states := canary.NewStateStore(storage.NewMemoryStore(), "canary/", "probe-pkg")
	c := newTestCanary(t, world, states, clk)

	// Tick 1: nothing tracked yet, adopt the registry's latest
	require.NoError(t, c.Tick(context.Background()))
	state, ok, err := states.Load(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "9.9.9-probe", state.Version)
	assert.Equal(t, canary.PhasePublishedUpstream, state.Phase)
	assert.True(t, state.PublishedUpstreamAt.Equal(t0))

	// Tick 2: not in the replica yet, state unchanged
	clk.Advance(2 * time.Minute)
	require.NoError(t, c.Tick(context.Background()))
	state, _, err = states.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, canary.PhasePublishedUpstream, state.Phase)
	assert.Nil(t, state.FirstSeenReplicaAt)

	// Tick 3 at T+5m: the replica caught up
	clk.Advance(3 * time.Minute)
	world.replicaHas["9.9.9-probe"] = true
	require.NoError(t, c.Tick(context.Background()))
	state, _, err = states.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, canary.PhaseVisibleInReplica, state.Phase)
	require.NotNil(t, state.FirstSeenReplicaAt)
	assert.Equal(t, 5*time.Minute, state.FirstSeenReplicaAt.Sub(state.PublishedUpstreamAt))

	// Tick 4 at T+40m: the catalog caught up
	clk.Advance(35 * time.Minute)
	world.catalogHas["9.9.9-probe"] = true
	require.NoError(t, c.Tick(context.Background()))
	state, _, err = states.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, canary.PhaseVisibleInCatalog, state.Phase)
	require.NotNil(t, state.FirstSeenCatalogAt)
	assert.Equal(t, 40*time.Minute, state.FirstSeenCatalogAt.Sub(state.PublishedUpstreamAt))

	// Tick 5: cataloged but no new version published yet, keep waiting
	clk.Advance(time.Minute)
	require.NoError(t, c.Tick(context.Background()))
	state, _, err = states.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "9.9.9-probe", state.Version)
	assert.Equal(t, canary.PhaseVisibleInCatalog, state.Phase)

	// Tick 6: a new version appeared upstream, retire and re-track
	clk.Advance(time.Minute)
	world.latestVersion = "9.9.10-probe"
	world.publishedAt = clk.Now()
	require.NoError(t, c.Tick(context.Background()))
	state, _, err = states.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "9.9.10-probe", state.Version)
	assert.Equal(t, canary.PhasePublishedUpstream, state.Phase)
	assert.Nil(t, state.FirstSeenReplicaAt)
	assert.Nil(t, state.FirstSeenCatalogAt)
}

// Dwell time measures publication to first replica sighting. Ticks
// after the sighting must keep reporting that frozen value instead of
// a figure that drifts toward time-to-catalog.
func TestCanary_DwellTimeFreezesAtReplicaSighting(t *testing.T) {
	t.Parallel()

	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	metrics, err := telemetry.NewCanaryMetrics(provider)
	require.NoError(t, err)

	t0 := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)
	clk := testclock.NewClock(t0)
	world := &probeWorld{
		latestVersion: "1.0.0-probe",
		publishedAt:   t0,
		replicaHas:    map[string]bool{},
		catalogHas:    map[string]bool{},
	}
	states := canary.NewStateStore(storage.NewMemoryStore(), "canary/", "probe-pkg")
	c := newTestCanary(t, world, states, clk, canary.WithMetrics(metrics))

	require.NoError(t, c.Tick(context.Background()))

	// The replica catches up at T+5m
	clk.Advance(5 * time.Minute)
	world.replicaHas["1.0.0-probe"] = true
	require.NoError(t, c.Tick(context.Background()))
	assert.Equal(t, (5 * time.Minute).Seconds(), dwellSeconds(t, reader))

	// Much later, still waiting on the catalog: dwell must not grow
	clk.Advance(25 * time.Minute)
	require.NoError(t, c.Tick(context.Background()))
	assert.Equal(t, (5 * time.Minute).Seconds(), dwellSeconds(t, reader))
}

// dwellSeconds collects the dwell time gauge's latest value
func dwellSeconds(t *testing.T, reader *sdkmetric.ManualReader) float64 {
	t.Helper()

	var data metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &data))
	for _, scope := range data.ScopeMetrics {
		for _, m := range scope.Metrics {
			if m.Name != "harvester_canary_dwell_time_seconds" {
				continue
			}
			gauge, ok := m.Data.(metricdata.Gauge[float64])
			require.True(t, ok)
			require.NotEmpty(t, gauge.DataPoints)
			return gauge.DataPoints[len(gauge.DataPoints)-1].Value
		}
	}
	t.Fatal("dwell time gauge not recorded")
	return 0
}

func TestCanary_SurvivesColdStarts(t *testing.T) {
	t.Parallel()

	t0 := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)
	clk := testclock.NewClock(t0)
	world := &probeWorld{
		latestVersion: "1.0.0-probe",
		publishedAt:   t0,
		replicaHas:    map[string]bool{},
		catalogHas:    map[string]bool{},
	}
	states := canary.NewStateStore(storage.NewMemoryStore(), "canary/", "probe-pkg")

	first := newTestCanary(t, world, states, clk)
	require.NoError(t, first.Tick(context.Background()))

	// A fresh canary instance over the same state store continues the
	// same watch, measuring elapsed time against the persisted publish
	// timestamp.
	clk.Advance(10 * time.Minute)
	world.replicaHas["1.0.0-probe"] = true
	second := newTestCanary(t, world, states, clk)
	require.NoError(t, second.Tick(context.Background()))

	state, _, err := states.Load(context.Background())
	require.NoError(t, err)
	require.NotNil(t, state.FirstSeenReplicaAt)
	assert.Equal(t, 10*time.Minute, state.FirstSeenReplicaAt.Sub(state.PublishedUpstreamAt))
}

func TestCanary_CatalogErrorFailsTick(t *testing.T) {
	t.Parallel()

	t0 := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)
	clk := testclock.NewClock(t0)
	world := &probeWorld{
		latestVersion: "1.0.0-probe",
		publishedAt:   t0,
		replicaHas:    map[string]bool{"1.0.0-probe": true},
		catalogHas:    map[string]bool{},
		catalogStatus: http.StatusInternalServerError,
	}
	states := canary.NewStateStore(storage.NewMemoryStore(), "canary/", "probe-pkg")
	c := newTestCanary(t, world, states, clk)

	require.NoError(t, c.Tick(context.Background()))
	require.NoError(t, c.Tick(context.Background())) // reaches replica

	err := c.Tick(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to probe catalog")

	// The failed probe must not corrupt the persisted phase
	state, _, loadErr := states.Load(context.Background())
	require.NoError(t, loadErr)
	assert.Equal(t, canary.PhaseVisibleInReplica, state.Phase)
}

func TestCanary_MissingUpstreamPackageIsNotAnError(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.NotFoundHandler())
	server.Config.SetKeepAlivesEnabled(false)
	t.Cleanup(server.Close)

	states := canary.NewStateStore(storage.NewMemoryStore(), "canary/", "probe-pkg")
	c := canary.New(
		httpclient.NewDefaultClient(5*time.Second),
		states,
		"probe-pkg",
		server.URL+"/registry",
		server.URL+"/replica",
		server.URL+"/catalog",
	)

	require.NoError(t, c.Tick(context.Background()))

	_, ok, err := states.Load(context.Background())
	require.NoError(t, err)
	assert.False(t, ok, "no state is written until a version exists upstream")
}
