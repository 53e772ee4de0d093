package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration.
type Config struct {
	Providers ProvidersConfig `yaml:"providers"`
	Scanner   ScannerConfig   `yaml:"scanner"`
	Cache     CacheConfig     `yaml:"cache"`
	Estimator EstimatorConfig `yaml:"estimator"`
	Fib       FibConfig       `yaml:"fib"`
	Dedupe    DedupeConfig    `yaml:"dedupe"`
}

// ProvidersConfig holds per-venue settings. The fallback order is fixed
// (binance spot, binance futures, gate, bitget); venues can only be disabled.
type ProvidersConfig struct {
	BinanceSpot    VenueConfig `yaml:"binance_spot"`
	BinanceFutures VenueConfig `yaml:"binance_futures"`
	Gate           VenueConfig `yaml:"gate"`
	Bitget         VenueConfig `yaml:"bitget"`

	Timeout time.Duration `yaml:"timeout"` // per-request timeout
	Retries int           `yaml:"retries"` // extra attempts for transport errors
}

// VenueConfig holds individual venue settings.
type VenueConfig struct {
	Enabled   bool `yaml:"enabled"`
	RateLimit int  `yaml:"rate_limit"` // requests per minute
}

// ScannerConfig holds batch runner settings.
type ScannerConfig struct {
	Workers int           `yaml:"workers"`
	Timeout time.Duration `yaml:"timeout"` // whole-batch deadline
}

// CacheConfig holds cache backend settings.
type CacheConfig struct {
	Backend    string        `yaml:"backend"` // memory or sqlite
	Path       string        `yaml:"path"`    // sqlite file path
	FailureTTL time.Duration `yaml:"failure_ttl"`
}

// EstimatorConfig exposes the probability weighting coefficients. The original
// values came out of an external grid search; they are tunables, not constants.
type EstimatorConfig struct {
	RecencyHalfLife    float64 `yaml:"recency_half_life"`    // bars
	RegimeSensitivity  float64 `yaml:"regime_sensitivity"`   // ATR-distance penalty
	MinWeightedSamples float64 `yaml:"min_weighted_samples"` // below this: null probability
	MaxAdjustment      float64 `yaml:"max_adjustment"`       // regime bias cap, e.g. 0.10
}

// FibConfig holds level generation settings.
type FibConfig struct {
	LookbackBars int `yaml:"lookback_bars"`
	HorizonBars  int `yaml:"horizon_bars"`
}

// DedupeConfig holds signal deduplication settings.
type DedupeConfig struct {
	TickPrecision int `yaml:"tick_precision"` // decimals for price rounding
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Providers: ProvidersConfig{
			BinanceSpot:    VenueConfig{Enabled: true, RateLimit: 60},
			BinanceFutures: VenueConfig{Enabled: true, RateLimit: 60},
			Gate:           VenueConfig{Enabled: true, RateLimit: 30},
			Bitget:         VenueConfig{Enabled: true, RateLimit: 30},
			Timeout:        10 * time.Second,
			Retries:        2,
		},
		Scanner: ScannerConfig{
			Workers: 8,
			Timeout: 5 * time.Minute,
		},
		Cache: CacheConfig{
			Backend:    "memory",
			Path:       "fibscan_cache.db",
			FailureTTL: 72 * time.Hour,
		},
		Estimator: EstimatorConfig{
			RecencyHalfLife:    120,
			RegimeSensitivity:  2.0,
			MinWeightedSamples: 5,
			MaxAdjustment:      0.10,
		},
		Fib: FibConfig{
			LookbackBars: 120,
			HorizonBars:  30,
		},
		Dedupe: DedupeConfig{
			TickPrecision: 6,
		},
	}
}

// Load loads configuration from a YAML file, falling back to defaults when the
// file does not exist.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if path := os.Getenv("FIBSCAN_CACHE_PATH"); path != "" {
		cfg.Cache.Path = path
	}

	return cfg, nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if !c.Providers.BinanceSpot.Enabled && !c.Providers.BinanceFutures.Enabled &&
		!c.Providers.Gate.Enabled && !c.Providers.Bitget.Enabled {
		return fmt.Errorf("at least one provider must be enabled")
	}
	if c.Providers.Timeout <= 0 {
		return fmt.Errorf("providers.timeout must be positive")
	}
	if c.Providers.Retries < 0 {
		return fmt.Errorf("providers.retries must not be negative")
	}
	if c.Scanner.Workers < 1 {
		return fmt.Errorf("scanner.workers must be at least 1")
	}
	if c.Cache.Backend != "memory" && c.Cache.Backend != "sqlite" {
		return fmt.Errorf("cache.backend must be memory or sqlite")
	}
	if c.Estimator.RecencyHalfLife <= 0 {
		return fmt.Errorf("estimator.recency_half_life must be positive")
	}
	if c.Estimator.RegimeSensitivity < 0 {
		return fmt.Errorf("estimator.regime_sensitivity must not be negative")
	}
	if c.Estimator.MaxAdjustment < 0 || c.Estimator.MaxAdjustment > 1 {
		return fmt.Errorf("estimator.max_adjustment must be in [0,1]")
	}
	if c.Fib.LookbackBars < 2 {
		return fmt.Errorf("fib.lookback_bars must be at least 2")
	}
	if c.Fib.HorizonBars < 1 {
		return fmt.Errorf("fib.horizon_bars must be at least 1")
	}
	if c.Dedupe.TickPrecision < 0 {
		return fmt.Errorf("dedupe.tick_precision must not be negative")
	}
	return nil
}
