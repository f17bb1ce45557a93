package app_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/registryops/harvester/internal/app"
	"github.com/registryops/harvester/internal/config"
	"github.com/registryops/harvester/internal/queue"
	"github.com/registryops/harvester/internal/scanner"
	"github.com/registryops/harvester/internal/storage"
)

func testConfig(replicaURL string) *config.Config {
	return &config.Config{
		Feed: config.FeedConfig{
			ReplicaURL: replicaURL,
		},
		Filter: config.FilterConfig{
			Keywords: []string{"cdk"},
		},
		Storage: config.StorageConfig{
			Backend: storage.BackendMemory,
			Bucket:  "test-bucket",
		},
		Queue: config.QueueConfig{
			Backend: queue.BackendMemory,
		},
	}
}

func TestNewHarvesterApp(t *testing.T) {
	t.Parallel()

	a, err := app.NewHarvesterApp(context.Background(),
		app.WithConfig(testConfig("https://replica.example.com")))
	require.NoError(t, err)

	components := a.GetComponents()
	assert.NotNil(t, components.Scanner)
	assert.NotNil(t, components.Coordinator)
	assert.NotNil(t, components.Checkpoints)
	assert.NotNil(t, components.Reports)
	assert.NotNil(t, components.Registry)
	assert.Nil(t, components.CanaryProbe, "canary is disabled by default")
	assert.Equal(t, config.DefaultServerAddress, a.GetHTTPServer().Addr)
}

func TestNewHarvesterApp_WithPrometheusRegistry(t *testing.T) {
	t.Parallel()

	registry := prometheus.NewRegistry()
	a, err := app.NewHarvesterApp(context.Background(),
		app.WithConfig(testConfig("https://replica.example.com")),
		app.WithPrometheusRegistry(registry))
	require.NoError(t, err)

	assert.Same(t, registry, a.GetComponents().Registry)
}

func TestNewHarvesterApp_RequiresConfig(t *testing.T) {
	t.Parallel()

	_, err := app.NewHarvesterApp(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "configuration is required")
}

func TestNewHarvesterApp_CanaryEnabled(t *testing.T) {
	t.Parallel()

	cfg := testConfig("https://replica.example.com")
	cfg.Canary = config.CanaryConfig{
		Enabled:        true,
		PackageName:    "probe-pkg",
		CatalogBaseURL: "https://catalog.example.com",
	}

	a, err := app.NewHarvesterApp(context.Background(), app.WithConfig(cfg))
	require.NoError(t, err)
	assert.NotNil(t, a.GetComponents().CanaryProbe)
}

func TestWithAddress(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		address string
		wantErr bool
	}{
		{name: "valid port", address: ":9090"},
		{name: "valid host and port", address: "127.0.0.1:9090"},
		{name: "localhost", address: "localhost:9090"},
		{name: "hostname", address: "admin.internal:8080"},
		{name: "ipv6", address: "[::1]:9090"},
		{name: "empty", address: "", wantErr: true},
		{name: "missing port", address: "127.0.0.1:", wantErr: true},
		{name: "not a port", address: "127.0.0.1:notaport", wantErr: true},
		{name: "port out of range", address: "127.0.0.1:70000", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := app.NewHarvesterApp(context.Background(),
				app.WithConfig(testConfig("https://replica.example.com")),
				app.WithAddress(tt.address))

			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestHarvesterApp_RunScan(t *testing.T) {
	t.Parallel()

	feedServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/_changes", r.URL.Path)
		fmt.Fprintf(w, `{"results": [], "last_seq": %s}`, r.URL.Query().Get("since"))
	}))
	feedServer.Config.SetKeepAlivesEnabled(false)
	t.Cleanup(feedServer.Close)

	a, err := app.NewHarvesterApp(context.Background(),
		app.WithConfig(testConfig(feedServer.URL)))
	require.NoError(t, err)

	report, err := a.RunScan(context.Background())
	require.NoError(t, err)
	require.NotNil(t, report)
	assert.Equal(t, scanner.StopReasonExhausted, report.StopReason)

	saved, ok, err := a.GetComponents().Reports.Load(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, report.RunID, saved.RunID)
}

func TestHarvesterApp_RunCanaryTickUnconfigured(t *testing.T) {
	t.Parallel()

	a, err := app.NewHarvesterApp(context.Background(),
		app.WithConfig(testConfig("https://replica.example.com")))
	require.NoError(t, err)

	err = a.RunCanaryTick(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "canary is not configured")
}
