package testsupport

import (
	"path/filepath"
	"testing"

	"resonate/internal/config"
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

	for _, opt := range opts {
		opt(&cfg)
	}

	return &cfg
}

// WithProvider selects the dispatch backend on the test config.
func WithProvider(provider string) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Dispatch.Provider = provider
	}
}

// WithCoinsPerMinute overrides the metering rate on the test config.
func WithCoinsPerMinute(rate float64) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Pricing.CoinsPerMinute = rate
	}
}
