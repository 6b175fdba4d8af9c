package logging

import (
	"log/slog"
	"path/filepath"

	"resonate/internal/config"
)

// NewFromConfig builds the daemon logger: console output plus a log file
// under the configured log directory.
func NewFromConfig(cfg *config.Config) (*slog.Logger, error) {
	opts := Options{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	}
	if cfg.Paths.LogDir != "" {
		opts.OutputPaths = []string{"stdout", filepath.Join(cfg.Paths.LogDir, "resonated.log")}
	}
	return New(opts)
}
