package testsupport

import (
	"path/filepath"
	"testing"

	"stitch/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*config.Config)

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields, applies any provided options, and creates the
// configured directories.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.WorkspaceDir = filepath.Join(base, "workspace")
	cfg.Paths.LogDir = filepath.Join(base, "logs")
	cfg.Paths.APIBind = "127.0.0.1:0"
	cfg.Publish.ObjectStoreDir = filepath.Join(base, "objects")
	cfg.Tasks.QueuePollInterval = 1
	cfg.Tasks.HeartbeatInterval = 1

	for _, opt := range opts {
		opt(&cfg)
	}

	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}
	return &cfg
}

// WithAPIToken sets the bearer token required by the HTTP API.
func WithAPIToken(token string) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Paths.APIToken = token
	}
}

// WithLargeFileThreshold overrides the publish size threshold in MiB.
func WithLargeFileThreshold(mib int) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Publish.LargeFileThresholdMiB = mib
	}
}
