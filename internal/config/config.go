// Package config loads the kabuto YAML configuration and applies
// environment variable overrides.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for the ingestion pipeline.
type Config struct {
	Storage   Storage         `yaml:"storage"`
	Provider  Provider        `yaml:"provider"`
	Calendar  CalendarConfig  `yaml:"calendar"`
	Fetch     FetchConfig     `yaml:"fetch"`
	Normalize NormalizeConfig `yaml:"normalize"`
	Adjust    AdjustConfig    `yaml:"adjust"`
	Logging   Logging         `yaml:"logging"`
}

// Storage holds paths for data persistence.
type Storage struct {
	DataDir    string `yaml:"data_dir"`
	SQLitePath string `yaml:"sqlite_path"`
}

// Provider selects and configures the external daily-bars source.
type Provider struct {
	Kind         string `yaml:"kind"` // "alpaca" or "http"
	BaseURL      string `yaml:"base_url"`
	APIKey       string `yaml:"api_key"`
	APISecret    string `yaml:"api_secret"`
	EarliestDate string `yaml:"earliest_date"` // first date available from the provider
	SymbolSuffix string `yaml:"symbol_suffix"` // appended to numeric codes, e.g. ".T"
}

// CalendarConfig configures trading-calendar awareness.
type CalendarConfig struct {
	HolidaysFile string `yaml:"holidays_file"` // one YYYY-MM-DD per line
	Location     string `yaml:"location"`      // exchange timezone, e.g. "Asia/Tokyo"
	SessionClose string `yaml:"session_close"` // HH:MM local; sessions before this are incomplete
}

// FetchConfig holds worker-pool and retry parameters for the parallel
// fetcher.
type FetchConfig struct {
	MaxWorkers        int `yaml:"max_workers"`
	RateLimitPerMin   int `yaml:"rate_limit_per_min"`
	RateLimitBurst    int `yaml:"rate_limit_burst"`
	MaxAttempts       int `yaml:"max_attempts"`
	AttemptTimeoutSec int `yaml:"attempt_timeout_sec"`
}

// NormalizeConfig holds validation parameters.
type NormalizeConfig struct {
	PriceScale          int32   `yaml:"price_scale"`          // decimal places retained on prices
	QuarantineThreshold float64 `yaml:"quarantine_threshold"` // rejected-row rate escalating to a batch failure
}

// AdjustConfig holds corporate-action detection parameters.
type AdjustConfig struct {
	RatioTolerance float64 `yaml:"ratio_tolerance"` // deviation from 1.0 treated as noise
}

// Logging configures the application logger.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Load reads the YAML configuration file at the given path, parses it into
// a Config struct, applies defaults for unset fields, and then applies
// environment variable overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	applyDefaults(cfg)
	applyEnvOverrides(cfg)

	return cfg, nil
}

// applyDefaults fills unset fields with working defaults so a minimal
// config file still yields a runnable pipeline.
func applyDefaults(cfg *Config) {
	if cfg.Provider.Kind == "" {
		cfg.Provider.Kind = "http"
	}
	if cfg.Provider.EarliestDate == "" {
		cfg.Provider.EarliestDate = "1970-01-01"
	}
	if cfg.Provider.SymbolSuffix == "" {
		cfg.Provider.SymbolSuffix = ".T"
	}
	if cfg.Calendar.Location == "" {
		cfg.Calendar.Location = "Asia/Tokyo"
	}
	if cfg.Calendar.SessionClose == "" {
		cfg.Calendar.SessionClose = "15:30"
	}
	if cfg.Fetch.MaxWorkers <= 0 {
		cfg.Fetch.MaxWorkers = 8
	}
	if cfg.Fetch.RateLimitPerMin <= 0 {
		cfg.Fetch.RateLimitPerMin = 200
	}
	if cfg.Fetch.RateLimitBurst <= 0 {
		cfg.Fetch.RateLimitBurst = 5
	}
	if cfg.Fetch.MaxAttempts <= 0 {
		cfg.Fetch.MaxAttempts = 4
	}
	if cfg.Fetch.AttemptTimeoutSec <= 0 {
		cfg.Fetch.AttemptTimeoutSec = 30
	}
	if cfg.Normalize.PriceScale <= 0 {
		cfg.Normalize.PriceScale = 4
	}
	if cfg.Normalize.QuarantineThreshold <= 0 {
		cfg.Normalize.QuarantineThreshold = 0.5
	}
	if cfg.Adjust.RatioTolerance <= 0 {
		cfg.Adjust.RatioTolerance = 0.005
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

// applyEnvOverrides checks well-known environment variables and overrides
// the corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}
	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.Storage.SQLitePath = v
	}

	if v := os.Getenv("PROVIDER_KIND"); v != "" {
		cfg.Provider.Kind = v
	}
	if v := os.Getenv("PROVIDER_BASE_URL"); v != "" {
		cfg.Provider.BaseURL = v
	}
	if v := os.Getenv("PROVIDER_API_KEY"); v != "" {
		cfg.Provider.APIKey = v
	}
	if v := os.Getenv("PROVIDER_API_SECRET"); v != "" {
		cfg.Provider.APISecret = v
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	// Standard Alpaca env vars (canonical names used by the SDK) take
	// priority when the alpaca provider is selected.
	if v := os.Getenv("APCA_API_KEY_ID"); v != "" {
		cfg.Provider.APIKey = v
	}
	if v := os.Getenv("APCA_API_SECRET_KEY"); v != "" {
		cfg.Provider.APISecret = v
	}
}
