package config

import (
	"errors"
	"fmt"
)

var validDispatchProviders = map[string]struct{}{
	"prediction": {},
	"pod":        {},
}

// Validate checks configuration invariants that cannot be repaired by
// normalization. It returns all violations joined into one error.
func (c *Config) Validate() error {
	var errs []error

	if c.Paths.DataDir == "" {
		errs = append(errs, errors.New("paths.data_dir is required"))
	}
	if c.Paths.LogDir == "" {
		errs = append(errs, errors.New("paths.log_dir is required"))
	}

	if _, ok := validDispatchProviders[c.Dispatch.Provider]; !ok {
		errs = append(errs, fmt.Errorf("dispatch.provider must be %q or %q, got %q", "prediction", "pod", c.Dispatch.Provider))
	}

	switch c.Logging.Format {
	case "console", "json":
	default:
		errs = append(errs, fmt.Errorf("logging.format must be %q or %q, got %q", "console", "json", c.Logging.Format))
	}

	if c.Pricing.CoinsPerMinute <= 0 {
		errs = append(errs, errors.New("pricing.coins_per_minute must be positive"))
	}

	return errors.Join(errs...)
}
