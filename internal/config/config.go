// Package config provides configuration loading and management for the
// harvester pipelines.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	// EnvPrefix is the prefix for environment variable overrides
	EnvPrefix = "HARVESTER"

	// DefaultScannerTimeout matches the period the external scheduler
	// invokes the scanner on
	DefaultScannerTimeout = 15 * time.Minute

	// DefaultSafetyMargin is how far ahead of the hard deadline the
	// scanner stops consuming new batches
	DefaultSafetyMargin = 2 * time.Minute

	// DefaultBatchSize keeps worst-case batch processing time well
	// under the safety margin
	DefaultBatchSize = 100

	// DefaultCanaryInterval is the period between canary ticks
	DefaultCanaryInterval = 5 * time.Minute

	// DefaultCheckpointKey is the object key holding the feed marker
	DefaultCheckpointKey = "checkpoint/marker.json"

	// DefaultStatusKey is the object key holding the last run report
	DefaultStatusKey = "checkpoint/status.json"

	// DefaultStagingPrefix is the key prefix staged tarballs are
	// written under; lifecycle expiration is scoped to this prefix
	DefaultStagingPrefix = "staged/"

	// DefaultCanaryStatePrefix is the key prefix for canary state objects
	DefaultCanaryStatePrefix = "canary/"

	// DefaultServerAddress is the serve-mode admin listen address
	DefaultServerAddress = ":8080"
)

// Option is a function that configures the loader
type Option func(*loaderConfig) error

// loaderConfig defines the configuration for loading a configuration
type loaderConfig struct {
	path    string
	withEnv bool
}

// WithConfigPath loads configuration from a YAML file
func WithConfigPath(path string) Option {
	return func(cfg *loaderConfig) error {
		if path == "" {
			return fmt.Errorf("path is required")
		}

		// Resolve symlinks to prevent symlink attacks.
		// Note that this calls filepath.Clean internally.
		realPath, err := filepath.EvalSymlinks(path)
		if err != nil {
			return fmt.Errorf("failed to evaluate symlinks: %w", err)
		}

		cfg.path = realPath
		return nil
	}
}

// WithEnvOverrides applies HARVESTER_* environment variables on top of
// the file configuration
func WithEnvOverrides() Option {
	return func(cfg *loaderConfig) error {
		cfg.withEnv = true
		return nil
	}
}

// Config represents the root configuration structure
type Config struct {
	// Feed configures the registry change feed consumed by the scanner
	Feed FeedConfig `yaml:"feed"`

	// Filter configures the relevance rules for package versions
	Filter FilterConfig `yaml:"filter"`

	// Storage configures the object store for staged artifacts and state
	Storage StorageConfig `yaml:"storage"`

	// Queue configures the downstream notification queue
	Queue QueueConfig `yaml:"queue"`

	// Scanner configures the discovery pipeline run
	Scanner ScannerConfig `yaml:"scanner,omitempty"`

	// Canary configures the replication-lag probe
	Canary CanaryConfig `yaml:"canary,omitempty"`

	// Server configures the serve-mode admin listener
	Server ServerConfig `yaml:"server,omitempty"`
}

// FeedConfig defines the registry change-feed source
type FeedConfig struct {
	// ReplicaURL is the base URL of the registry replica exposing the
	// _changes endpoint, e.g. "https://replicate.npmjs.com"
	ReplicaURL string `yaml:"replicaUrl"`

	// RegistryURL is the base URL of the upstream registry used to
	// resolve package documents, e.g. "https://registry.npmjs.org"
	RegistryURL string `yaml:"registryUrl,omitempty"`
}

// FilterConfig defines the relevance rules for change records
type FilterConfig struct {
	// Keywords lists package keywords that mark a version as relevant.
	// A version matching any keyword is a staging candidate.
	Keywords []string `yaml:"keywords,omitempty"`

	// MetadataFlag is a top-level manifest field whose presence marks
	// a version as relevant regardless of keywords
	MetadataFlag string `yaml:"metadataFlag,omitempty"`
}

// StorageConfig defines the object storage backend
type StorageConfig struct {
	// Backend selects the storage implementation (s3, file, memory)
	Backend string `yaml:"backend"`

	// Bucket is the S3 bucket name, or the root directory for the
	// file backend
	Bucket string `yaml:"bucket"`

	// StagingPrefix is the key prefix staged tarballs are written under
	StagingPrefix string `yaml:"stagingPrefix,omitempty"`

	// CheckpointKey is the object key holding the persisted feed marker
	CheckpointKey string `yaml:"checkpointKey,omitempty"`

	// StatusKey is the object key holding the last scanner run report
	StatusKey string `yaml:"statusKey,omitempty"`
}

// QueueConfig defines the notification queue
type QueueConfig struct {
	// Backend selects the queue implementation (sqs, memory)
	Backend string `yaml:"backend"`

	// URL is the SQS queue URL for the sqs backend
	URL string `yaml:"url,omitempty"`
}

// ScannerConfig defines the discovery pipeline settings.
// Durations are strings like "15m" parsed with time.ParseDuration.
type ScannerConfig struct {
	// Timeout is the total wall-clock budget for one run; the external
	// scheduler kills the process at this deadline
	Timeout string `yaml:"timeout,omitempty"`

	// SafetyMargin is how far ahead of the deadline the scanner stops
	// fetching new batches so the checkpoint can be persisted
	SafetyMargin string `yaml:"safetyMargin,omitempty"`

	// BatchSize is the maximum number of change records per feed page
	BatchSize int `yaml:"batchSize,omitempty"`

	// Interval is the serve-mode scheduling period; defaults to Timeout
	Interval string `yaml:"interval,omitempty"`
}

// GetTimeout returns the parsed run timeout
func (s *ScannerConfig) GetTimeout() time.Duration {
	return parseDurationOr(s.Timeout, DefaultScannerTimeout)
}

// GetSafetyMargin returns the parsed safety margin
func (s *ScannerConfig) GetSafetyMargin() time.Duration {
	return parseDurationOr(s.SafetyMargin, DefaultSafetyMargin)
}

// GetBatchSize returns the batch size, applying the default
func (s *ScannerConfig) GetBatchSize() int {
	if s.BatchSize <= 0 {
		return DefaultBatchSize
	}
	return s.BatchSize
}

// GetInterval returns the serve-mode scheduling period
func (s *ScannerConfig) GetInterval() time.Duration {
	return parseDurationOr(s.Interval, s.GetTimeout())
}

// CanaryConfig defines the replication-lag probe settings
type CanaryConfig struct {
	// Enabled turns the canary on in serve mode
	Enabled bool `yaml:"enabled,omitempty"`

	// PackageName is the synthetic probe package tracked through the
	// replica and the catalog
	PackageName string `yaml:"packageName,omitempty"`

	// CatalogBaseURL is the base URL of the downstream catalog checked
	// for version visibility
	CatalogBaseURL string `yaml:"catalogBaseUrl,omitempty"`

	// StatePrefix is the key prefix canary state objects are stored under
	StatePrefix string `yaml:"statePrefix,omitempty"`

	// Interval is the serve-mode tick period
	Interval string `yaml:"interval,omitempty"`
}

// GetInterval returns the parsed tick period
func (c *CanaryConfig) GetInterval() time.Duration {
	return parseDurationOr(c.Interval, DefaultCanaryInterval)
}

// GetStatePrefix returns the state key prefix, applying the default
func (c *CanaryConfig) GetStatePrefix() string {
	if c.StatePrefix == "" {
		return DefaultCanaryStatePrefix
	}
	return c.StatePrefix
}

// ServerConfig defines the serve-mode admin listener
type ServerConfig struct {
	// Address is the listen address for health, status, and metrics
	Address string `yaml:"address,omitempty"`
}

// GetAddress returns the listen address, applying the default
func (s *ServerConfig) GetAddress() string {
	if s.Address == "" {
		return DefaultServerAddress
	}
	return s.Address
}

// GetStagingPrefix returns the staging key prefix, applying the default
func (s *StorageConfig) GetStagingPrefix() string {
	if s.StagingPrefix == "" {
		return DefaultStagingPrefix
	}
	return s.StagingPrefix
}

// GetCheckpointKey returns the checkpoint object key, applying the default
func (s *StorageConfig) GetCheckpointKey() string {
	if s.CheckpointKey == "" {
		return DefaultCheckpointKey
	}
	return s.CheckpointKey
}

// GetStatusKey returns the status object key, applying the default
func (s *StorageConfig) GetStatusKey() string {
	if s.StatusKey == "" {
		return DefaultStatusKey
	}
	return s.StatusKey
}

func parseDurationOr(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}
	return d
}

// Load loads and validates the configuration
func Load(opts ...Option) (*Config, error) {
	loaderCfg := &loaderConfig{}
	for _, opt := range opts {
		if err := opt(loaderCfg); err != nil {
			return nil, err
		}
	}

	var config Config
	if loaderCfg.path != "" {
		data, err := os.ReadFile(loaderCfg.path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	}

	if loaderCfg.withEnv {
		applyEnvOverrides(&config)
	}

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// applyEnvOverrides resolves HARVESTER_* environment variables once at
// process start and lays them over the file configuration
func applyEnvOverrides(config *Config) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	overrides := []struct {
		key    string
		target *string
	}{
		{"feed.replica_url", &config.Feed.ReplicaURL},
		{"feed.registry_url", &config.Feed.RegistryURL},
		{"storage.backend", &config.Storage.Backend},
		{"storage.bucket", &config.Storage.Bucket},
		{"storage.staging_prefix", &config.Storage.StagingPrefix},
		{"queue.backend", &config.Queue.Backend},
		{"queue.url", &config.Queue.URL},
		{"scanner.timeout", &config.Scanner.Timeout},
		{"scanner.safety_margin", &config.Scanner.SafetyMargin},
		{"canary.package_name", &config.Canary.PackageName},
		{"canary.catalog_base_url", &config.Canary.CatalogBaseURL},
		{"server.address", &config.Server.Address},
	}
	for _, o := range overrides {
		if val := v.GetString(o.key); val != "" {
			*o.target = val
		}
	}

	if val := v.GetInt("scanner.batch_size"); val > 0 {
		config.Scanner.BatchSize = val
	}
	if keywords := v.GetString("filter.keywords"); keywords != "" {
		config.Filter.Keywords = strings.Split(keywords, ",")
	}
}

// validate performs validation on the configuration
func (c *Config) validate() error {
	if c == nil {
		return fmt.Errorf("config cannot be nil")
	}

	if c.Feed.ReplicaURL == "" {
		return fmt.Errorf("feed.replicaUrl is required")
	}
	if err := validateURL(c.Feed.ReplicaURL, "feed.replicaUrl"); err != nil {
		return err
	}
	if c.Feed.RegistryURL != "" {
		if err := validateURL(c.Feed.RegistryURL, "feed.registryUrl"); err != nil {
			return err
		}
	}

	if c.Storage.Backend == "" {
		return fmt.Errorf("storage.backend is required")
	}
	if c.Storage.Bucket == "" {
		return fmt.Errorf("storage.bucket is required")
	}

	if c.Queue.Backend == "" {
		return fmt.Errorf("queue.backend is required")
	}
	if c.Queue.Backend == "sqs" && c.Queue.URL == "" {
		return fmt.Errorf("queue.url is required for the sqs backend")
	}

	if len(c.Filter.Keywords) == 0 && c.Filter.MetadataFlag == "" {
		return fmt.Errorf("filter: at least one keyword or a metadata flag is required")
	}

	if err := validateDuration(c.Scanner.Timeout, "scanner.timeout"); err != nil {
		return err
	}
	if err := validateDuration(c.Scanner.SafetyMargin, "scanner.safetyMargin"); err != nil {
		return err
	}
	if err := validateDuration(c.Scanner.Interval, "scanner.interval"); err != nil {
		return err
	}
	if err := validateDuration(c.Canary.Interval, "canary.interval"); err != nil {
		return err
	}

	if c.Scanner.GetSafetyMargin() >= c.Scanner.GetTimeout() {
		return fmt.Errorf("scanner.safetyMargin (%s) must be smaller than scanner.timeout (%s)",
			c.Scanner.GetSafetyMargin(), c.Scanner.GetTimeout())
	}

	if c.Canary.Enabled {
		if c.Canary.PackageName == "" {
			return fmt.Errorf("canary.packageName is required when the canary is enabled")
		}
		if c.Canary.CatalogBaseURL == "" {
			return fmt.Errorf("canary.catalogBaseUrl is required when the canary is enabled")
		}
		if err := validateURL(c.Canary.CatalogBaseURL, "canary.catalogBaseUrl"); err != nil {
			return err
		}
	}

	return nil
}

func validateDuration(raw, field string) error {
	if raw == "" {
		return nil
	}
	if _, err := time.ParseDuration(raw); err != nil {
		return fmt.Errorf("%s must be a valid duration (e.g., '2m', '15m'): %w", field, err)
	}
	return nil
}

func validateURL(raw, field string) error {
	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s: invalid URL: %w", field, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("%s: URL scheme must be http or https", field)
	}
	return nil
}
