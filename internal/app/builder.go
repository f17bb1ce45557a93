package app

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/juju/clock"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/registryops/harvester/internal/canary"
	"github.com/registryops/harvester/internal/checkpoint"
	"github.com/registryops/harvester/internal/config"
	"github.com/registryops/harvester/internal/coordinator"
	"github.com/registryops/harvester/internal/feed"
	"github.com/registryops/harvester/internal/filter"
	"github.com/registryops/harvester/internal/httpclient"
	"github.com/registryops/harvester/internal/notify"
	"github.com/registryops/harvester/internal/queue"
	"github.com/registryops/harvester/internal/scanner"
	"github.com/registryops/harvester/internal/server"
	"github.com/registryops/harvester/internal/stage"
	"github.com/registryops/harvester/internal/storage"
	"github.com/registryops/harvester/internal/telemetry"
	"github.com/registryops/harvester/internal/versions"
)

const (
	defaultRequestTimeout = 10 * time.Second
	defaultReadTimeout    = 10 * time.Second
	defaultWriteTimeout   = 15 * time.Second
	defaultIdleTimeout    = 60 * time.Second
)

// Options is a function that configures the app builder
type Options func(*appConfig) error

// appConfig holds the builder state. Component overrides exist
// primarily for testing.
type appConfig struct {
	config *config.Config

	objectStore storage.ObjectStore
	queue       queue.Queue
	httpClient  httpclient.Client
	clock       clock.Clock
	registry    *prometheus.Registry

	address     string
	middlewares []func(http.Handler) http.Handler
}

// WithConfig sets the configuration
func WithConfig(c *config.Config) Options {
	return func(cfg *appConfig) error {
		cfg.config = c
		return nil
	}
}

// WithAddress overrides the configured HTTP listen address. The host
// part may be an IP, a hostname, or empty for all interfaces.
func WithAddress(addr string) Options {
	return func(cfg *appConfig) error {
		if addr == "" {
			return fmt.Errorf("address cannot be empty")
		}

		_, port, err := net.SplitHostPort(addr)
		if err != nil {
			return fmt.Errorf("address is not host:port: %w", err)
		}
		if p, err := strconv.Atoi(port); err != nil || p < 1 || p > 65535 {
			return fmt.Errorf("address is not a valid port: %s", addr)
		}

		cfg.address = addr
		return nil
	}
}

// WithMiddlewares sets custom HTTP middlewares
func WithMiddlewares(mw ...func(http.Handler) http.Handler) Options {
	return func(cfg *appConfig) error {
		cfg.middlewares = mw
		return nil
	}
}

// WithObjectStore allows injecting a custom object store (for testing)
func WithObjectStore(store storage.ObjectStore) Options {
	return func(cfg *appConfig) error {
		cfg.objectStore = store
		return nil
	}
}

// WithQueue allows injecting a custom notification queue (for testing)
func WithQueue(q queue.Queue) Options {
	return func(cfg *appConfig) error {
		cfg.queue = q
		return nil
	}
}

// WithHTTPClient allows injecting a custom HTTP client (for testing)
func WithHTTPClient(client httpclient.Client) Options {
	return func(cfg *appConfig) error {
		cfg.httpClient = client
		return nil
	}
}

// WithPrometheusRegistry sets the registry metrics are exported through.
// A fresh registry is created when none is provided.
func WithPrometheusRegistry(registry *prometheus.Registry) Options {
	return func(cfg *appConfig) error {
		cfg.registry = registry
		return nil
	}
}

// WithClock sets the clock used by the scanner and canary
func WithClock(clk clock.Clock) Options {
	return func(cfg *appConfig) error {
		cfg.clock = clk
		return nil
	}
}

// NewHarvesterApp builds a fully wired application from configuration
func NewHarvesterApp(ctx context.Context, opts ...Options) (*HarvesterApp, error) {
	cfg := &appConfig{}
	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}
	if cfg.config == nil {
		return nil, fmt.Errorf("configuration is required")
	}
	conf := cfg.config

	if cfg.address == "" {
		cfg.address = conf.Server.GetAddress()
	}
	if cfg.httpClient == nil {
		cfg.httpClient = httpclient.NewDefaultClient(0)
	}

	if cfg.objectStore == nil {
		store, err := storage.NewObjectStore(ctx, conf.Storage.Backend, conf.Storage.Bucket)
		if err != nil {
			return nil, fmt.Errorf("failed to create object store: %w", err)
		}
		cfg.objectStore = store
	}

	if cfg.queue == nil {
		q, err := buildQueue(ctx, conf)
		if err != nil {
			return nil, err
		}
		cfg.queue = q
	}

	if cfg.registry == nil {
		cfg.registry = prometheus.NewRegistry()
	}
	meterProvider, err := telemetry.NewMeterProvider(cfg.registry, versions.GetVersionInfo().Version)
	if err != nil {
		return nil, fmt.Errorf("failed to create meter provider: %w", err)
	}
	scannerMetrics, err := telemetry.NewScannerMetrics(meterProvider)
	if err != nil {
		return nil, fmt.Errorf("failed to create scanner metrics: %w", err)
	}
	canaryMetrics, err := telemetry.NewCanaryMetrics(meterProvider)
	if err != nil {
		return nil, fmt.Errorf("failed to create canary metrics: %w", err)
	}

	checkpoints := checkpoint.NewStore(cfg.objectStore, conf.Storage.GetCheckpointKey())
	reports := scanner.NewReportStore(cfg.objectStore, conf.Storage.GetStatusKey())

	scn := scanner.New(
		checkpoints,
		feed.NewReader(cfg.httpClient, conf.Feed.ReplicaURL),
		filter.New(conf.Filter.Keywords, conf.Filter.MetadataFlag),
		stage.New(cfg.httpClient, cfg.objectStore, conf.Storage.GetStagingPrefix(), cfg.clock, scannerMetrics),
		notify.New(cfg.queue, conf.Storage.Bucket),
		conf.Scanner.GetTimeout(),
		conf.Scanner.GetSafetyMargin(),
		conf.Scanner.GetBatchSize(),
		scannerOptions(cfg, scannerMetrics)...,
	)

	probe := buildCanary(cfg, canaryMetrics)

	coordOpts := []coordinator.Option{}
	if probe != nil {
		coordOpts = append(coordOpts, coordinator.WithCanary(probe, conf.Canary.GetInterval()))
	}
	coord := coordinator.New(scn, reports, conf.Scanner.GetInterval(), coordOpts...)

	middlewares := []func(http.Handler) http.Handler{
		middleware.RequestID,
		middleware.RealIP,
		server.LoggingMiddleware,
		middleware.Recoverer,
		middleware.Timeout(defaultRequestTimeout),
	}
	middlewares = append(middlewares, cfg.middlewares...)

	router := server.NewServer(reports, checkpoints, cfg.registry, server.WithMiddlewares(middlewares...))

	appCtx, cancel := context.WithCancel(ctx)

	return &HarvesterApp{
		config: conf,
		components: &Components{
			Scanner:     scn,
			CanaryProbe: probe,
			Coordinator: coord,
			Checkpoints: checkpoints,
			Reports:     reports,
			Registry:    cfg.registry,
		},
		httpServer: &http.Server{
			Addr:         cfg.address,
			Handler:      router,
			ReadTimeout:  defaultReadTimeout,
			WriteTimeout: defaultWriteTimeout,
			IdleTimeout:  defaultIdleTimeout,
		},
		ctx:        appCtx,
		cancelFunc: cancel,
	}, nil
}

func buildQueue(ctx context.Context, conf *config.Config) (queue.Queue, error) {
	switch conf.Queue.Backend {
	case queue.BackendSQS:
		q, err := queue.NewSQSQueue(ctx, conf.Queue.URL)
		if err != nil {
			return nil, fmt.Errorf("failed to create SQS queue: %w", err)
		}
		return q, nil
	case queue.BackendMemory:
		return queue.NewMemoryQueue(), nil
	default:
		return nil, fmt.Errorf("unknown queue backend: %q", conf.Queue.Backend)
	}
}

func scannerOptions(cfg *appConfig, metrics *telemetry.ScannerMetrics) []scanner.Option {
	opts := []scanner.Option{scanner.WithMetrics(metrics)}
	if cfg.clock != nil {
		opts = append(opts, scanner.WithClock(cfg.clock))
	}
	return opts
}

// buildCanary wires the canary probe when it is enabled and fully
// configured. The upstream registry URL falls back to the replica when
// not set separately.
func buildCanary(cfg *appConfig, metrics *telemetry.CanaryMetrics) *canary.Canary {
	conf := cfg.config
	if !conf.Canary.Enabled || conf.Canary.PackageName == "" || conf.Canary.CatalogBaseURL == "" {
		return nil
	}

	registryURL := conf.Feed.RegistryURL
	if registryURL == "" {
		registryURL = conf.Feed.ReplicaURL
	}

	states := canary.NewStateStore(cfg.objectStore, conf.Canary.GetStatePrefix(), conf.Canary.PackageName)
	opts := []canary.Option{canary.WithMetrics(metrics)}
	if cfg.clock != nil {
		opts = append(opts, canary.WithClock(cfg.clock))
	}

	return canary.New(
		cfg.httpClient,
		states,
		conf.Canary.PackageName,
		registryURL,
		conf.Feed.ReplicaURL,
		conf.Canary.CatalogBaseURL,
		opts...,
	)
}
