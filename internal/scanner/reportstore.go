package scanner

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/registryops/harvester/internal/storage"
)

// ReportStore persists the most recent run report so operators and the
// serve-mode status endpoint can inspect the last run without log
// spelunking.
type ReportStore interface {
	// Save stores the report, replacing the previous one
	Save(ctx context.Context, report *Report) error

	// Load returns the last saved report. ok is false when no run has
	// completed yet.
	Load(ctx context.Context) (report *Report, ok bool, err error)
}

// objectReportStore keeps the report as one JSON object
type objectReportStore struct {
	store storage.ObjectStore
	key   string
}

// NewReportStore creates a ReportStore persisting to key
func NewReportStore(store storage.ObjectStore, key string) ReportStore {
	return &objectReportStore{
		store: store,
		key:   key,
	}
}

func (s *objectReportStore) Save(ctx context.Context, report *Report) error {
	// Pretty printed so the status object is readable straight out of
	// the bucket
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal run report: %w", err)
	}
	if err := s.store.Put(ctx, s.key, data, "application/json"); err != nil {
		return fmt.Errorf("failed to save run report %s: %w", s.key, err)
	}
	return nil
}

func (s *objectReportStore) Load(ctx context.Context) (*Report, bool, error) {
	data, err := s.store.Get(ctx, s.key)
	if err != nil {
		if storage.IsNotFound(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to load run report %s: %w", s.key, err)
	}

	var report Report
	if err := json.Unmarshal(data, &report); err != nil {
		return nil, false, fmt.Errorf("failed to unmarshal run report %s: %w", s.key, err)
	}
	return &report, true, nil
}
