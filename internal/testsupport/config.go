package testsupport

import (
	"path/filepath"
	"testing"

	"facet/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*config.Config)

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.DataDir = filepath.Join(base, "data")
	cfg.Paths.LogDir = filepath.Join(base, "logs")
	cfg.Paths.APIBind = "127.0.0.1:0"
	cfg.Pipeline.SuggestionSeed = 1

	for _, opt := range opts {
		opt(&cfg)
	}
	return &cfg
}

// WithOverlap overrides the default overlap count on the test config.
func WithOverlap(count int) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Pipeline.DefaultOverlap = count
	}
}

// WithBatchSizes overrides the allowed batch sizes on the test config.
func WithBatchSizes(sizes ...int) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Pipeline.AllowedBatchSizes = sizes
		if len(sizes) > 0 {
			cfg.Pipeline.DefaultBatchSize = sizes[0]
		}
	}
}
