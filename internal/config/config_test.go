package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/registryops/harvester/internal/config"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

const validConfig = `
feed:
  replicaUrl: https://replicate.example.com
  registryUrl: https://registry.example.com
filter:
  keywords:
    - cdk
    - construct-library
  metadataFlag: jsii
storage:
  backend: s3
  bucket: harvester-staging
queue:
  backend: sqs
  url: https://sqs.us-east-1.amazonaws.com/123456789012/discovered
scanner:
  timeout: 15m
  safetyMargin: 2m
  batchSize: 100
canary:
  enabled: true
  packageName: probe-package
  catalogBaseUrl: https://catalog.example.com
`

func TestLoad_ValidConfig(t *testing.T) {
	t.Parallel()

	path := writeConfigFile(t, validConfig)

	cfg, err := config.Load(config.WithConfigPath(path))
	require.NoError(t, err)

	assert.Equal(t, "https://replicate.example.com", cfg.Feed.ReplicaURL)
	assert.Equal(t, []string{"cdk", "construct-library"}, cfg.Filter.Keywords)
	assert.Equal(t, "jsii", cfg.Filter.MetadataFlag)
	assert.Equal(t, 15*time.Minute, cfg.Scanner.GetTimeout())
	assert.Equal(t, 2*time.Minute, cfg.Scanner.GetSafetyMargin())
	assert.Equal(t, 100, cfg.Scanner.GetBatchSize())
	assert.Equal(t, "probe-package", cfg.Canary.PackageName)
}

func TestLoad_AppliesDefaults(t *testing.T) {
	t.Parallel()

	path := writeConfigFile(t, `
feed:
  replicaUrl: https://replicate.example.com
filter:
  keywords: [cdk]
storage:
  backend: memory
  bucket: test
queue:
  backend: memory
`)

	cfg, err := config.Load(config.WithConfigPath(path))
	require.NoError(t, err)

	assert.Equal(t, config.DefaultScannerTimeout, cfg.Scanner.GetTimeout())
	assert.Equal(t, config.DefaultSafetyMargin, cfg.Scanner.GetSafetyMargin())
	assert.Equal(t, config.DefaultBatchSize, cfg.Scanner.GetBatchSize())
	assert.Equal(t, cfg.Scanner.GetTimeout(), cfg.Scanner.GetInterval())
	assert.Equal(t, config.DefaultStagingPrefix, cfg.Storage.GetStagingPrefix())
	assert.Equal(t, config.DefaultCheckpointKey, cfg.Storage.GetCheckpointKey())
	assert.Equal(t, config.DefaultCanaryStatePrefix, cfg.Canary.GetStatePrefix())
	assert.Equal(t, config.DefaultServerAddress, cfg.Server.GetAddress())
}

func TestLoad_ValidationErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name          string
		content       string
		errorContains string
	}{
		{
			name: "missing replica URL",
			content: `
filter:
  keywords: [cdk]
storage:
  backend: memory
  bucket: test
queue:
  backend: memory
`,
			errorContains: "feed.replicaUrl is required",
		},
		{
			name: "invalid replica URL scheme",
			content: `
feed:
  replicaUrl: ftp://replicate.example.com
filter:
  keywords: [cdk]
storage:
  backend: memory
  bucket: test
queue:
  backend: memory
`,
			errorContains: "URL scheme must be http or https",
		},
		{
			name: "missing storage backend",
			content: `
feed:
  replicaUrl: https://replicate.example.com
filter:
  keywords: [cdk]
storage:
  bucket: test
queue:
  backend: memory
`,
			errorContains: "storage.backend is required",
		},
		{
			name: "sqs backend without URL",
			content: `
feed:
  replicaUrl: https://replicate.example.com
filter:
  keywords: [cdk]
storage:
  backend: memory
  bucket: test
queue:
  backend: sqs
`,
			errorContains: "queue.url is required",
		},
		{
			name: "no relevance rules",
			content: `
feed:
  replicaUrl: https://replicate.example.com
storage:
  backend: memory
  bucket: test
queue:
  backend: memory
`,
			errorContains: "at least one keyword or a metadata flag",
		},
		{
			name: "invalid timeout duration",
			content: `
feed:
  replicaUrl: https://replicate.example.com
filter:
  keywords: [cdk]
storage:
  backend: memory
  bucket: test
queue:
  backend: memory
scanner:
  timeout: fifteen minutes
`,
			errorContains: "scanner.timeout must be a valid duration",
		},
		{
			name: "safety margin not smaller than timeout",
			content: `
feed:
  replicaUrl: https://replicate.example.com
filter:
  keywords: [cdk]
storage:
  backend: memory
  bucket: test
queue:
  backend: memory
scanner:
  timeout: 2m
  safetyMargin: 2m
`,
			errorContains: "must be smaller than scanner.timeout",
		},
		{
			name: "canary enabled without package name",
			content: `
feed:
  replicaUrl: https://replicate.example.com
filter:
  keywords: [cdk]
storage:
  backend: memory
  bucket: test
queue:
  backend: memory
canary:
  enabled: true
  catalogBaseUrl: https://catalog.example.com
`,
			errorContains: "canary.packageName is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			path := writeConfigFile(t, tt.content)

			_, err := config.Load(config.WithConfigPath(path))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errorContains)
		})
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	// No t.Parallel: mutates process environment
	t.Setenv("HARVESTER_STORAGE_BUCKET", "override-bucket")
	t.Setenv("HARVESTER_SCANNER_SAFETY_MARGIN", "90s")
	t.Setenv("HARVESTER_FILTER_KEYWORDS", "cdk,awscdk")

	path := writeConfigFile(t, validConfig)

	cfg, err := config.Load(config.WithConfigPath(path), config.WithEnvOverrides())
	require.NoError(t, err)

	assert.Equal(t, "override-bucket", cfg.Storage.Bucket)
	assert.Equal(t, 90*time.Second, cfg.Scanner.GetSafetyMargin())
	assert.Equal(t, []string{"cdk", "awscdk"}, cfg.Filter.Keywords)
}

func TestLoad_MissingFile(t *testing.T) {
	t.Parallel()

	_, err := config.Load(config.WithConfigPath(filepath.Join(t.TempDir(), "nope.yaml")))
	require.Error(t, err)
}
