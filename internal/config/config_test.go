package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"resonate/internal/config"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, path, exists, err := config.Load(filepath.Join(t.TempDir(), "resonate.toml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if exists {
		t.Fatal("expected missing file to be reported")
	}
	if path == "" {
		t.Fatal("expected resolved path")
	}
	if cfg.Pricing.CoinsPerMinute != 3.0 {
		t.Fatalf("expected default rate, got %v", cfg.Pricing.CoinsPerMinute)
	}
	if cfg.Dispatch.Provider != "prediction" {
		t.Fatalf("expected default provider, got %q", cfg.Dispatch.Provider)
	}
}

func TestLoadParsesOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "resonate.toml")
	content := `
[paths]
data_dir = "` + dir + `/data"
log_dir = "` + dir + `/logs"

[pricing]
coins_per_minute = 5.5

[dispatch]
provider = "pod"

[provider_b]
base_url = "https://pods.example.com"
pod_id = "pod-9"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, _, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !exists {
		t.Fatal("expected file to be found")
	}
	if cfg.Pricing.CoinsPerMinute != 5.5 {
		t.Fatalf("expected overridden rate, got %v", cfg.Pricing.CoinsPerMinute)
	}
	if cfg.Dispatch.Provider != "pod" {
		t.Fatalf("expected pod provider, got %q", cfg.Dispatch.Provider)
	}
	if cfg.ProviderB.PodID != "pod-9" {
		t.Fatalf("expected pod id, got %q", cfg.ProviderB.PodID)
	}
}

func TestLoadRejectsInvalidProvider(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "resonate.toml")
	content := `
[dispatch]
provider = "mainframe"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	_, _, _, err := config.Load(path)
	if err == nil || !strings.Contains(err.Error(), "dispatch.provider") {
		t.Fatalf("expected dispatch.provider validation error, got %v", err)
	}
}

func TestValidateCollectsAllViolations(t *testing.T) {
	cfg := config.Default()
	cfg.Paths.DataDir = ""
	cfg.Pricing.CoinsPerMinute = 0
	cfg.Logging.Format = "xml"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation failure")
	}
	for _, fragment := range []string{"paths.data_dir", "pricing.coins_per_minute", "logging.format"} {
		if !strings.Contains(err.Error(), fragment) {
			t.Errorf("expected %q in error, got %v", fragment, err)
		}
	}
}

func TestCreateSampleRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sample.toml")
	if err := config.CreateSample(path); err != nil {
		t.Fatalf("CreateSample: %v", err)
	}

	if _, _, _, err := config.Load(path); err != nil {
		t.Fatalf("sample config should load cleanly: %v", err)
	}
}
