package scanner_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/registryops/harvester/internal/scanner"
	"github.com/registryops/harvester/internal/storage"
)

func TestReportStore_LoadMissing(t *testing.T) {
	t.Parallel()

	reports := scanner.NewReportStore(storage.NewMemoryStore(), "checkpoint/status.json")

	_, ok, err := reports.Load(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestReportStore_RoundTrip(t *testing.T) {
	t.Parallel()

	reports := scanner.NewReportStore(storage.NewMemoryStore(), "checkpoint/status.json")

	want := &scanner.Report{
		RunID:       "run-1",
		StartedAt:   time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC),
		FinishedAt:  time.Date(2026, 8, 30, 10, 12, 0, 0, time.UTC),
		StartMarker: 100,
		EndMarker:   105,
		Batches:     1,
		Changes:     5,
		Notified:    3,
		Remaining:   3 * time.Minute,
		StopReason:  scanner.StopReasonExhausted,
	}
	require.NoError(t, reports.Save(context.Background(), want))

	got, ok, err := reports.Load(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, want, got)
}

func TestReportStore_SaveOverwrites(t *testing.T) {
	t.Parallel()

	reports := scanner.NewReportStore(storage.NewMemoryStore(), "checkpoint/status.json")

	require.NoError(t, reports.Save(context.Background(), &scanner.Report{RunID: "run-1"}))
	require.NoError(t, reports.Save(context.Background(), &scanner.Report{RunID: "run-2"}))

	got, ok, err := reports.Load(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "run-2", got.RunID)
}
