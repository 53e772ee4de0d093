package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfigValid(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Errorf("Default config must validate: %v", err)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Scanner.Workers != 8 {
		t.Errorf("Expected default workers 8, got %d", cfg.Scanner.Workers)
	}
	if cfg.Cache.FailureTTL != 72*time.Hour {
		t.Errorf("Expected default failure TTL 72h, got %v", cfg.Cache.FailureTTL)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
providers:
  gate:
    enabled: false
  timeout: 5s
scanner:
  workers: 4
cache:
  backend: sqlite
  path: /tmp/test.db
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Providers.Gate.Enabled {
		t.Error("Expected gate disabled")
	}
	if cfg.Providers.BinanceSpot.Enabled != true {
		t.Error("Expected untouched venues to keep their defaults")
	}
	if cfg.Providers.Timeout != 5*time.Second {
		t.Errorf("Expected 5s timeout, got %v", cfg.Providers.Timeout)
	}
	if cfg.Scanner.Workers != 4 {
		t.Errorf("Expected 4 workers, got %d", cfg.Scanner.Workers)
	}
	if cfg.Cache.Backend != "sqlite" || cfg.Cache.Path != "/tmp/test.db" {
		t.Errorf("Cache settings not applied: %+v", cfg.Cache)
	}
}

func TestCachePathEnvOverride(t *testing.T) {
	t.Setenv("FIBSCAN_CACHE_PATH", "/data/override.db")

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Cache.Path != "/data/override.db" {
		t.Errorf("Expected the env override, got %s", cfg.Cache.Path)
	}
}

func TestValidateRejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"all providers disabled", func(c *Config) {
			c.Providers.BinanceSpot.Enabled = false
			c.Providers.BinanceFutures.Enabled = false
			c.Providers.Gate.Enabled = false
			c.Providers.Bitget.Enabled = false
		}},
		{"zero timeout", func(c *Config) { c.Providers.Timeout = 0 }},
		{"negative retries", func(c *Config) { c.Providers.Retries = -1 }},
		{"zero workers", func(c *Config) { c.Scanner.Workers = 0 }},
		{"unknown cache backend", func(c *Config) { c.Cache.Backend = "redis" }},
		{"zero half life", func(c *Config) { c.Estimator.RecencyHalfLife = 0 }},
		{"adjustment above one", func(c *Config) { c.Estimator.MaxAdjustment = 1.5 }},
		{"lookback too small", func(c *Config) { c.Fib.LookbackBars = 1 }},
		{"zero horizon", func(c *Config) { c.Fib.HorizonBars = 0 }},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Expected a validation error")
			}
		})
	}
}
