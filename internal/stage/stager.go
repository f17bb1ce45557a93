// Package stage copies package tarballs from their origin into the
// harvester's own durable storage ahead of downstream ingestion.
package stage

import (
	"context"
	"crypto/sha1" // #nosec G505 -- npm dist integrity uses SHA-1 shasums
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/juju/clock"

	"github.com/registryops/harvester/internal/filter"
	"github.com/registryops/harvester/internal/httpclient"
	"github.com/registryops/harvester/internal/storage"
	"github.com/registryops/harvester/internal/telemetry"
)

// Error is a staging failure: tarball fetch, checksum mismatch, or
// storage write. The scanner counts the failure and skips the record;
// the version is picked up again when the package next changes.
type Error struct {
	Name    string
	Version string
	Reason  string
	Err     error
}

// Error returns the error message
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("staging %s@%s failed: %s: %v", e.Name, e.Version, e.Reason, e.Err)
	}
	return fmt.Sprintf("staging %s@%s failed: %s", e.Name, e.Version, e.Reason)
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Err
}

// StagedArtifact records one successfully written object
type StagedArtifact struct {
	Name        string
	Version     string
	Key         string
	Size        int64
	Duration    time.Duration
	PublishedAt time.Time
}

// Stager fetches candidate tarballs and writes them to object storage
type Stager interface {
	// Stage copies the candidate's tarball into storage under a
	// deterministic key. Re-staging the same version overwrites the
	// same key, so the operation is idempotent.
	Stage(ctx context.Context, candidate filter.CandidateVersion) (StagedArtifact, error)
}

// defaultStager is the default implementation of Stager
type defaultStager struct {
	client  httpclient.Client
	store   storage.ObjectStore
	prefix  string
	clock   clock.Clock
	metrics *telemetry.ScannerMetrics
}

// New creates a Stager writing under the given key prefix
func New(client httpclient.Client, store storage.ObjectStore, prefix string, clk clock.Clock, metrics *telemetry.ScannerMetrics) Stager {
	if clk == nil {
		clk = clock.WallClock
	}
	return &defaultStager{
		client:  client,
		store:   store,
		prefix:  prefix,
		clock:   clk,
		metrics: metrics,
	}
}

// Key returns the deterministic storage key for a package version,
// following the registry tarball path convention:
// <prefix><name>/-/<basename>-<version>.tgz
func Key(prefix, name, version string) string {
	base := name
	if idx := strings.LastIndex(name, "/"); idx >= 0 {
		base = name[idx+1:]
	}
	return fmt.Sprintf("%s%s/-/%s-%s.tgz", prefix, name, base, version)
}

func (s *defaultStager) Stage(ctx context.Context, candidate filter.CandidateVersion) (StagedArtifact, error) {
	start := s.clock.Now()
	var failed bool
	// Staging time is recorded regardless of outcome
	defer func() {
		s.metrics.RecordStagingDuration(ctx, s.clock.Now().Sub(start), !failed)
	}()

	tarball, err := s.client.Get(ctx, candidate.TarballURL)
	if err != nil {
		failed = true
		return StagedArtifact{}, &Error{
			Name:    candidate.Name,
			Version: candidate.Version,
			Reason:  "tarball fetch failed",
			Err:     err,
		}
	}

	if candidate.Shasum != "" {
		sum := sha1.Sum(tarball) // #nosec G401 -- integrity check against the registry's SHA-1 shasum
		if got := hex.EncodeToString(sum[:]); !strings.EqualFold(got, candidate.Shasum) {
			failed = true
			return StagedArtifact{}, &Error{
				Name:    candidate.Name,
				Version: candidate.Version,
				Reason:  fmt.Sprintf("checksum mismatch: got %s, want %s", got, candidate.Shasum),
			}
		}
	}

	key := Key(s.prefix, candidate.Name, candidate.Version)
	if err := s.store.Put(ctx, key, tarball, "application/octet-stream"); err != nil {
		failed = true
		return StagedArtifact{}, &Error{
			Name:    candidate.Name,
			Version: candidate.Version,
			Reason:  "storage write failed",
			Err:     err,
		}
	}

	duration := s.clock.Now().Sub(start)
	slog.Debug("Staged package version",
		"package", candidate.Name,
		"version", candidate.Version,
		"key", key,
		"size", len(tarball),
		"duration", duration)

	return StagedArtifact{
		Name:        candidate.Name,
		Version:     candidate.Version,
		Key:         key,
		Size:        int64(len(tarball)),
		Duration:    duration,
		PublishedAt: candidate.PublishedAt,
	}, nil
}
