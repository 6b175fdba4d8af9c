// Package config loads, normalizes, and validates the TOML configuration
// consumed by every Resonate component. Components never read ambient
// globals; they receive a *Config (or the relevant section) at construction.
package config
