// Package canary measures how long a freshly published package version
// takes to travel from the upstream registry through the replica feed
// into the catalog. A collaborator publishes synthetic versions out of
// band; the canary only observes. Each tick performs one bounded probe
// and exits, persisting its state so the next tick resumes the watch.
package canary

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/juju/clock"

	"github.com/registryops/harvester/internal/httpclient"
	"github.com/registryops/harvester/internal/telemetry"
)

// Canary probes one synthetic package through replica and catalog
type Canary struct {
	client httpclient.Client
	states StateStore

	packageName    string
	registryURL    string
	replicaURL     string
	catalogBaseURL string

	clock   clock.Clock
	metrics *telemetry.CanaryMetrics
}

// Option is a function that configures the canary
type Option func(*Canary)

// WithClock sets the clock used for timestamp bookkeeping
func WithClock(clk clock.Clock) Option {
	return func(c *Canary) {
		c.clock = clk
	}
}

// WithMetrics sets the metrics emitted by ticks
func WithMetrics(metrics *telemetry.CanaryMetrics) Option {
	return func(c *Canary) {
		c.metrics = metrics
	}
}

// New creates a Canary watching packageName. registryURL is the
// authoritative upstream, replicaURL the replicated mirror feeding the
// scanner, catalogBaseURL the public catalog the pipeline ultimately
// fills.
func New(
	client httpclient.Client,
	states StateStore,
	packageName, registryURL, replicaURL, catalogBaseURL string,
	opts ...Option,
) *Canary {
	c := &Canary{
		client:         client,
		states:         states,
		packageName:    packageName,
		registryURL:    registryURL,
		replicaURL:     replicaURL,
		catalogBaseURL: catalogBaseURL,
		clock:          clock.WallClock,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Tick runs one probe cycle and persists the resulting state
func (c *Canary) Tick(ctx context.Context) error {
	start := c.clock.Now()
	err := c.tick(ctx)
	c.metrics.RecordTick(ctx, c.clock.Now().Sub(start), err == nil)
	return err
}

func (c *Canary) tick(ctx context.Context) error {
	state, ok, err := c.states.Load(ctx)
	if err != nil {
		return err
	}

	if !ok || state.Version == "" || state.Phase == PhaseVisibleInCatalog {
		return c.adoptLatest(ctx, state)
	}

	now := c.clock.Now()
	c.metrics.RecordTrackedVersions(ctx, 1)
	if !state.PublishedUpstreamAt.IsZero() {
		// Dwell time ends at the replica sighting; ticks after that
		// report the frozen value instead of a still-growing one.
		dwell := now.Sub(state.PublishedUpstreamAt)
		if state.FirstSeenReplicaAt != nil {
			dwell = state.FirstSeenReplicaAt.Sub(state.PublishedUpstreamAt)
		}
		c.metrics.RecordDwellTime(ctx, c.packageName, dwell)
	}

	switch state.Phase {
	case PhasePublishedUpstream:
		visible, err := c.visibleInReplica(ctx, state.Version)
		if err != nil {
			return err
		}
		if !visible {
			return nil
		}
		state.Phase = PhaseVisibleInReplica
		state.FirstSeenReplicaAt = &now
		if !state.PublishedUpstreamAt.IsZero() {
			lag := now.Sub(state.PublishedUpstreamAt)
			c.metrics.RecordReplicaLag(ctx, c.packageName, lag)
			slog.Info("Tracked version reached replica",
				"package", c.packageName,
				"version", state.Version,
				"replicaLag", lag)
		}

	case PhaseVisibleInReplica:
		visible, err := c.visibleInCatalog(ctx, state.Version)
		if err != nil {
			return err
		}
		if !visible {
			return nil
		}
		state.Phase = PhaseVisibleInCatalog
		state.FirstSeenCatalogAt = &now
		if !state.PublishedUpstreamAt.IsZero() {
			ttc := now.Sub(state.PublishedUpstreamAt)
			c.metrics.RecordTimeToCatalog(ctx, c.packageName, ttc)
			slog.Info("Tracked version reached catalog",
				"package", c.packageName,
				"version", state.Version,
				"timeToCatalog", ttc)
		}

	default:
		return fmt.Errorf("unknown canary phase %q for %s@%s", state.Phase, c.packageName, state.Version)
	}

	state.UpdatedAt = now
	return c.states.Save(ctx, state)
}

// adoptLatest retires any cataloged version and starts tracking the
// registry's current latest. When the collaborator has not published a
// new version yet there is nothing to track this tick.
func (c *Canary) adoptLatest(ctx context.Context, previous State) error {
	latest, publishedAt, err := c.latestUpstream(ctx)
	if err != nil {
		return err
	}
	if latest == "" || latest == previous.Version {
		c.metrics.RecordTrackedVersions(ctx, 0)
		return nil
	}

	now := c.clock.Now()
	state := State{
		PackageName:         c.packageName,
		Version:             latest,
		Phase:               PhasePublishedUpstream,
		PublishedUpstreamAt: publishedAt,
		UpdatedAt:           now,
	}
	if err := c.states.Save(ctx, state); err != nil {
		return err
	}

	c.metrics.RecordTrackedVersions(ctx, 1)
	slog.Info("Tracking new version",
		"package", c.packageName,
		"version", latest,
		"publishedAt", publishedAt,
		"retired", previous.Version)
	return nil
}

// packageDocument is the subset of a registry package document the
// canary inspects
type packageDocument struct {
	DistTags map[string]string          `json:"dist-tags"`
	Versions map[string]json.RawMessage `json:"versions"`
	Time     map[string]string          `json:"time"`
}

// latestUpstream returns the registry's dist-tags.latest version and
// its publish timestamp
func (c *Canary) latestUpstream(ctx context.Context) (string, time.Time, error) {
	doc, found, err := c.fetchDocument(ctx, c.registryURL)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to probe registry for %s: %w", c.packageName, err)
	}
	if !found {
		return "", time.Time{}, nil
	}

	latest := doc.DistTags["latest"]
	if latest == "" {
		return "", time.Time{}, nil
	}

	var publishedAt time.Time
	if raw, ok := doc.Time[latest]; ok {
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			publishedAt = t
		}
	}
	return latest, publishedAt, nil
}

// visibleInReplica reports whether the tracked version appears in the
// replica's copy of the package document
func (c *Canary) visibleInReplica(ctx context.Context, version string) (bool, error) {
	doc, found, err := c.fetchDocument(ctx, c.replicaURL)
	if err != nil {
		return false, fmt.Errorf("failed to probe replica for %s: %w", c.packageName, err)
	}
	if !found {
		return false, nil
	}
	_, ok := doc.Versions[version]
	return ok, nil
}

// visibleInCatalog reports whether the catalog serves the tracked
// version
func (c *Canary) visibleInCatalog(ctx context.Context, version string) (bool, error) {
	url := fmt.Sprintf("%s/%s/%s", c.catalogBaseURL, c.packageName, version)
	status, err := c.client.Head(ctx, url)
	if err != nil {
		return false, fmt.Errorf("failed to probe catalog for %s@%s: %w", c.packageName, version, err)
	}
	switch {
	case status >= 200 && status < 300:
		return true, nil
	case status == 404 || status == 403:
		return false, nil
	default:
		return false, fmt.Errorf("failed to probe catalog for %s@%s: %w", c.packageName, version, httpclient.NewHTTPError(status, url, "unexpected catalog response"))
	}
}

// fetchDocument fetches the package document from baseURL. found is
// false when the package does not exist there yet.
func (c *Canary) fetchDocument(ctx context.Context, baseURL string) (packageDocument, bool, error) {
	data, err := c.client.Get(ctx, fmt.Sprintf("%s/%s", baseURL, c.packageName))
	if err != nil {
		var httpErr *httpclient.HTTPError
		if errors.As(err, &httpErr) && httpErr.StatusCode == 404 {
			return packageDocument{}, false, nil
		}
		return packageDocument{}, false, err
	}

	var doc packageDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return packageDocument{}, false, fmt.Errorf("malformed package document: %w", err)
	}
	return doc, true, nil
}
