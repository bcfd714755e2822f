package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

const sampleYAML = `
data_root: /var/lib/ashare-lake/data
manifest_path: /var/lib/ashare-lake/manifest.db
queue_store_path: /var/lib/ashare-lake/queue.db
catalog_path: /etc/ashare-lake/catalog.toml
vendor_token_env_var: VENDOR_TOKEN
fast_workers: 8
max_attempts: 5
lease_for_seconds: 120
rate_limit_budgets:
  daily: 600
  stock_basic: 60
`

func writeYAML(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadParsesYAML(t *testing.T) {
	t.Parallel()
	path := writeYAML(t, sampleYAML)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DataRoot != "/var/lib/ashare-lake/data" {
		t.Fatalf("DataRoot = %q", cfg.DataRoot)
	}
	if cfg.RateLimitBudgets["daily"] != 600 {
		t.Fatalf("daily budget = %d, want 600", cfg.RateLimitBudgets["daily"])
	}
	if cfg.LeaseFor() != 120*time.Second {
		t.Fatalf("LeaseFor = %v, want 120s", cfg.LeaseFor())
	}
	if cfg.MaintInterval() != time.Hour {
		t.Fatalf("MaintInterval default = %v, want 1h", cfg.MaintInterval())
	}
}

func TestEnvOverridesWinOverFile(t *testing.T) {
	path := writeYAML(t, sampleYAML)
	t.Setenv("DATA_ROOT", "/tmp/override")
	t.Setenv("FAST_WORKERS", "16")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DataRoot != "/tmp/override" {
		t.Fatalf("DataRoot = %q, want env override", cfg.DataRoot)
	}
	if cfg.FastWorkers != 16 {
		t.Fatalf("FastWorkers = %d, want 16", cfg.FastWorkers)
	}
}

func TestBackfillStartTimeFallsBackOnMalformedValue(t *testing.T) {
	t.Parallel()
	cfg := &Config{BackfillStart: "not-a-date"}
	got := cfg.BackfillStartTime()
	want := time.Date(2010, 1, 1, 0, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("BackfillStartTime = %v, want %v", got, want)
	}
}
