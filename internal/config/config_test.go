package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "kabuto.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing temp config: %v", err)
	}
	return path
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"DATA_DIR", "SQLITE_PATH", "PROVIDER_KIND", "PROVIDER_BASE_URL",
		"PROVIDER_API_KEY", "PROVIDER_API_SECRET", "LOG_LEVEL",
		"APCA_API_KEY_ID", "APCA_API_SECRET_KEY",
	} {
		os.Unsetenv(k)
	}
}

func TestLoad(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
storage:
  data_dir: "/tmp/kabuto/data"
  sqlite_path: "/tmp/kabuto/meta.db"
provider:
  kind: "http"
  base_url: "https://bars.example.com"
  api_key: "test-key"
calendar:
  holidays_file: "reference/jp/holidays.txt"
  location: "Asia/Tokyo"
  session_close: "15:30"
fetch:
  max_workers: 4
  rate_limit_per_min: 120
  max_attempts: 3
  attempt_timeout_sec: 20
normalize:
  price_scale: 2
  quarantine_threshold: 0.25
adjust:
  ratio_tolerance: 0.01
logging:
  level: "debug"
  format: "text"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	if cfg.Storage.DataDir != "/tmp/kabuto/data" {
		t.Errorf("Storage.DataDir = %q", cfg.Storage.DataDir)
	}
	if cfg.Storage.SQLitePath != "/tmp/kabuto/meta.db" {
		t.Errorf("Storage.SQLitePath = %q", cfg.Storage.SQLitePath)
	}
	if cfg.Provider.Kind != "http" || cfg.Provider.BaseURL != "https://bars.example.com" {
		t.Errorf("Provider = %+v", cfg.Provider)
	}
	if cfg.Fetch.MaxWorkers != 4 {
		t.Errorf("Fetch.MaxWorkers = %d, want 4", cfg.Fetch.MaxWorkers)
	}
	if cfg.Fetch.RateLimitPerMin != 120 {
		t.Errorf("Fetch.RateLimitPerMin = %d, want 120", cfg.Fetch.RateLimitPerMin)
	}
	if cfg.Normalize.PriceScale != 2 {
		t.Errorf("Normalize.PriceScale = %d, want 2", cfg.Normalize.PriceScale)
	}
	if cfg.Normalize.QuarantineThreshold != 0.25 {
		t.Errorf("Normalize.QuarantineThreshold = %v, want 0.25", cfg.Normalize.QuarantineThreshold)
	}
	if cfg.Adjust.RatioTolerance != 0.01 {
		t.Errorf("Adjust.RatioTolerance = %v, want 0.01", cfg.Adjust.RatioTolerance)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "text" {
		t.Errorf("Logging = %+v", cfg.Logging)
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load(writeConfig(t, `
storage:
  data_dir: "/data"
`))
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	if cfg.Provider.EarliestDate != "1970-01-01" {
		t.Errorf("Provider.EarliestDate default = %q", cfg.Provider.EarliestDate)
	}
	if cfg.Calendar.Location != "Asia/Tokyo" {
		t.Errorf("Calendar.Location default = %q", cfg.Calendar.Location)
	}
	if cfg.Fetch.MaxWorkers != 8 || cfg.Fetch.MaxAttempts != 4 {
		t.Errorf("Fetch defaults = %+v", cfg.Fetch)
	}
	if cfg.Normalize.PriceScale != 4 {
		t.Errorf("Normalize.PriceScale default = %d", cfg.Normalize.PriceScale)
	}
	if cfg.Normalize.QuarantineThreshold != 0.5 {
		t.Errorf("Normalize.QuarantineThreshold default = %v", cfg.Normalize.QuarantineThreshold)
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "json" {
		t.Errorf("Logging defaults = %+v", cfg.Logging)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
storage:
  data_dir: "/original/data"
provider:
  api_key: "yaml-key"
  api_secret: "yaml-secret"
`)

	os.Setenv("DATA_DIR", "/env/data")
	os.Setenv("PROVIDER_API_KEY", "env-key")
	defer os.Unsetenv("DATA_DIR")
	defer os.Unsetenv("PROVIDER_API_KEY")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	if cfg.Storage.DataDir != "/env/data" {
		t.Errorf("Storage.DataDir = %q, want env override", cfg.Storage.DataDir)
	}
	if cfg.Provider.APIKey != "env-key" {
		t.Errorf("Provider.APIKey = %q, want env override", cfg.Provider.APIKey)
	}
	// api_secret should remain from YAML since no env override was set.
	if cfg.Provider.APISecret != "yaml-secret" {
		t.Errorf("Provider.APISecret = %q, want yaml value", cfg.Provider.APISecret)
	}
}
