package testsupport

import (
	"path/filepath"
	"testing"

	"praxis/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*config.Config)

// NewConfig produces a config seeded with unique temp directories per test.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.StateDir = filepath.Join(base, "state")
	cfg.Paths.LogDir = filepath.Join(base, "logs")
	cfg.Paths.APIBind = "127.0.0.1:0"
	cfg.Research.APIKey = "test"

	for _, opt := range opts {
		opt(&cfg)
	}

	return &cfg
}

// WithCapacity overrides the queue capacity on the test config.
func WithCapacity(capacity int) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Queue.Capacity = capacity
	}
}

// WithRetentionSeconds overrides the terminal-item retention window.
func WithRetentionSeconds(seconds int) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Queue.RetentionSeconds = seconds
	}
}
