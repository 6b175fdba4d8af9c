package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and bind address configuration.
type Paths struct {
	DataDir  string `toml:"data_dir"`
	LogDir   string `toml:"log_dir"`
	APIBind  string `toml:"api_bind"`
	APIToken string `toml:"api_token"`
}

// Pricing contains cost metering rates.
type Pricing struct {
	CoinsPerMinute float64 `toml:"coins_per_minute"`
}

// ServiceEndpoint describes a generic external collaborator connection.
type ServiceEndpoint struct {
	BaseURL        string `toml:"base_url"`
	APIKey         string `toml:"api_key"`
	RequestTimeout int    `toml:"request_timeout"`
}

// ProviderA contains settings for the prediction-style inference provider.
type ProviderA struct {
	BaseURL        string `toml:"base_url"`
	APIToken       string `toml:"api_token"`
	ModelVersion   string `toml:"model_version"`
	RequestTimeout int    `toml:"request_timeout"`
}

// ProviderB contains settings for the pod-style inference provider.
type ProviderB struct {
	BaseURL        string `toml:"base_url"`
	APIToken       string `toml:"api_token"`
	PodID          string `toml:"pod_id"`
	RequestTimeout int    `toml:"request_timeout"`
}

// Dispatch contains provider selection settings.
type Dispatch struct {
	// Provider selects the submission backend: "prediction" or "pod".
	Provider string `toml:"provider"`
}

// Webhook contains inbound callback and outbound notification settings.
type Webhook struct {
	PublicBaseURL   string `toml:"public_base_url"`
	OutboundTimeout int    `toml:"outbound_timeout"`
}

// Sweeper contains stuck-task recovery settings.
type Sweeper struct {
	IntervalSeconds          int `toml:"interval_seconds"`
	ProcessingTimeoutSeconds int `toml:"processing_timeout_seconds"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for Resonate.
//
// Configuration sections by subsystem:
//   - Paths: data/log directories and API bind address
//   - Pricing: balance metering rates
//   - Balance / Storage / Catalog / Pitch: external collaborator endpoints
//   - ProviderA / ProviderB: inference provider connections
//   - Dispatch: provider selection
//   - Webhook: callback URL prefix and outbound notification timeout
//   - Sweeper: stuck-task scan interval and processing timeout
//   - Logging: log format and level
type Config struct {
	Paths     Paths           `toml:"paths"`
	Pricing   Pricing         `toml:"pricing"`
	Balance   ServiceEndpoint `toml:"balance"`
	Storage   ServiceEndpoint `toml:"storage"`
	Catalog   ServiceEndpoint `toml:"catalog"`
	Pitch     ServiceEndpoint `toml:"pitch"`
	ProviderA ProviderA       `toml:"provider_a"`
	ProviderB ProviderB       `toml:"provider_b"`
	Dispatch  Dispatch        `toml:"dispatch"`
	Webhook   Webhook         `toml:"webhook"`
	Sweeper   Sweeper         `toml:"sweeper"`
	Logging   Logging         `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/resonate/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("resonate.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.DataDir, c.Paths.LogDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}
