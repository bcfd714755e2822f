// Package config loads the process-level Config from a YAML file (the
// teacher's own shape for this, internal/config/config.go's Load/
// yaml.Unmarshal) and then layers env var overrides on top of it, using the
// teacher's getEnv* closures from main.go promoted to package-level helpers
// (getEnvString, getEnvInt) used by the loader.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is every knob the process needs below the catalogue itself (which
// lives in its own TOML file, loaded separately by internal/catalog).
type Config struct {
	DataRoot       string `yaml:"data_root"`
	ManifestPath   string `yaml:"manifest_path"`
	QueueStorePath string `yaml:"queue_store_path"`
	CatalogPath    string `yaml:"catalog_path"`

	VendorTokenEnvVar string `yaml:"vendor_token_env_var"`

	FastWorkers          int            `yaml:"fast_workers"`
	MaxAttempts          int            `yaml:"max_attempts"`
	LeaseForSeconds      int            `yaml:"lease_for_seconds"`
	BaseBackoffMillis    int            `yaml:"base_backoff_millis"`
	MaintIntervalMinutes int            `yaml:"maint_interval_minutes"`
	RateLimitBudgets     map[string]int `yaml:"rate_limit_budgets"`

	SymbolUniverseDataset string `yaml:"symbol_universe_dataset"`
	BackfillStart         string `yaml:"backfill_start"` // "2006-01-02"
}

// Load reads a YAML config file from path, then overlays any matching
// environment variables on top of it. An empty path skips the file and
// builds the Config from environment variables alone; a non-empty path that
// cannot be read or parsed is an error.
func Load(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, err
		}
	}
	applyEnvOverrides(&cfg)
	return &cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	cfg.DataRoot = getEnvString("DATA_ROOT", cfg.DataRoot)
	cfg.ManifestPath = getEnvString("MANIFEST_PATH", cfg.ManifestPath)
	cfg.QueueStorePath = getEnvString("QUEUE_STORE_PATH", cfg.QueueStorePath)
	cfg.CatalogPath = getEnvString("CATALOG_PATH", cfg.CatalogPath)
	cfg.VendorTokenEnvVar = getEnvString("VENDOR_TOKEN_ENV_VAR", cfg.VendorTokenEnvVar)
	cfg.SymbolUniverseDataset = getEnvString("SYMBOL_UNIVERSE_DATASET", cfg.SymbolUniverseDataset)
	cfg.BackfillStart = getEnvString("BACKFILL_START", cfg.BackfillStart)

	cfg.FastWorkers = getEnvInt("FAST_WORKERS", cfg.FastWorkers)
	cfg.MaxAttempts = getEnvInt("MAX_ATTEMPTS", cfg.MaxAttempts)
	cfg.LeaseForSeconds = getEnvInt("LEASE_FOR_SECONDS", cfg.LeaseForSeconds)
	cfg.BaseBackoffMillis = getEnvInt("BASE_BACKOFF_MILLIS", cfg.BaseBackoffMillis)
	cfg.MaintIntervalMinutes = getEnvInt("MAINT_INTERVAL_MINUTES", cfg.MaintIntervalMinutes)
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if valStr := os.Getenv(key); valStr != "" {
		if val, err := strconv.Atoi(valStr); err == nil {
			return val
		}
	}
	return defaultVal
}

// BackfillStartTime parses BackfillStart, falling back to 2010-01-01 if
// unset or malformed.
func (c Config) BackfillStartTime() time.Time {
	t, err := time.Parse("2006-01-02", strings.TrimSpace(c.BackfillStart))
	if err != nil {
		return time.Date(2010, 1, 1, 0, 0, 0, 0, time.UTC)
	}
	return t
}

// LeaseFor returns the worker lease duration, defaulting to 2 minutes.
func (c Config) LeaseFor() time.Duration {
	if c.LeaseForSeconds <= 0 {
		return 2 * time.Minute
	}
	return time.Duration(c.LeaseForSeconds) * time.Second
}

// BaseBackoff returns the retry backoff unit, defaulting to 2 seconds.
func (c Config) BaseBackoff() time.Duration {
	if c.BaseBackoffMillis <= 0 {
		return 2 * time.Second
	}
	return time.Duration(c.BaseBackoffMillis) * time.Millisecond
}

// MaintInterval returns the MAINT self-scheduling period, defaulting to 1 hour.
func (c Config) MaintInterval() time.Duration {
	if c.MaintIntervalMinutes <= 0 {
		return time.Hour
	}
	return time.Duration(c.MaintIntervalMinutes) * time.Minute
}
