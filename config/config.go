// Package config loads and validates the market engine configuration from a
// YAML document. Components receive the parsed sub-configs explicitly at
// construction; nothing here is global state.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// SellPriceMode selects how the sell price is derived from a computation.
type SellPriceMode string

const (
	// SellPriceRatio derives sell price as a fixed ratio of the buy price.
	SellPriceRatio SellPriceMode = "ratio"
	// SellPriceIndependent runs the pricing strategy against the catalog
	// sell price instead of deriving from the buy side.
	SellPriceIndependent SellPriceMode = "independent"
)

// Config is the root configuration document for the pricing engine.
type Config struct {
	Enabled       bool                `yaml:"enabled"`
	BatchSize     int                 `yaml:"batch_size"`
	Redis         RedisConfig         `yaml:"redis"`
	Pricing       PricingConfig       `yaml:"pricing"`
	SellPrice     SellPriceConfig     `yaml:"sell_price"`
	FloatingItems FloatingItemsConfig `yaml:"floating_items"`
	History       HistoryConfig       `yaml:"history"`
	Monitor       MonitorConfig       `yaml:"monitor"`
	Scheduler     SchedulerConfig     `yaml:"scheduler"`
	Transaction   TransactionConfig   `yaml:"transaction"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// PricingConfig bounds the price computation. MinRatio/MaxRatio clamp every
// computed price relative to the base price; the momentum and volatility
// bounds drive the activity-based strategy; Sensitivity drives the legacy
// demand/supply strategy.
type PricingConfig struct {
	Strategy           string  `yaml:"strategy"` // "activity" or "legacy"
	MinRatio           float64 `yaml:"min_ratio"`
	MaxRatio           float64 `yaml:"max_ratio"`
	MomentumMin        float64 `yaml:"momentum_min"`
	MomentumMax        float64 `yaml:"momentum_max"`
	VolatilityMin      float64 `yaml:"volatility_min"`
	VolatilityMax      float64 `yaml:"volatility_max"`
	ActivityThreshold  float64 `yaml:"activity_threshold"`
	MinBaseSupply      float64 `yaml:"min_base_supply"`
	ExtremeRatioMin    float64 `yaml:"extreme_ratio_min"`
	ExtremeRatioMax    float64 `yaml:"extreme_ratio_max"`
	NoiseTruncate      float64 `yaml:"noise_truncate"`
	Sensitivity        float64 `yaml:"sensitivity"`
	StabilityThreshold float64 `yaml:"stability_threshold"`
}

type SellPriceConfig struct {
	Mode  SellPriceMode `yaml:"mode"`
	Ratio float64       `yaml:"ratio"`
}

// FloatingItemsConfig names the dynamic-price item set: whole categories
// plus explicit item ids, unioned with the catalog's own is_dynamic flags.
type FloatingItemsConfig struct {
	Categories []string `yaml:"categories"`
	Items      []string `yaml:"items"`
}

type HistoryConfig struct {
	MaxRecords int `yaml:"max_records"`
}

type MonitorConfig struct {
	DeviationThreshold float64 `yaml:"deviation_threshold"`
	ExtremeMultiplier  float64 `yaml:"extreme_multiplier"`
}

type SchedulerConfig struct {
	TaskTimeout        time.Duration `yaml:"task_timeout"`
	RetryAttempts      int           `yaml:"retry_attempts"`
	RetryDelay         time.Duration `yaml:"retry_delay"`
	MaxConcurrentTasks int           `yaml:"max_concurrent_tasks"`
	Tasks              []TaskConfig  `yaml:"tasks"`
}

// TaskConfig defines one scheduled task. Type is "daily" (fires at
// Hour:Minute) or "interval" (fires every Interval).
type TaskConfig struct {
	Name          string        `yaml:"name"`
	Type          string        `yaml:"type"`
	Hour          int           `yaml:"hour"`
	Minute        int           `yaml:"minute"`
	Interval      time.Duration `yaml:"interval"`
	Timeout       time.Duration `yaml:"timeout"`
	RetryAttempts int           `yaml:"retry_attempts"`
	Enabled       bool          `yaml:"enabled"`
}

type TransactionConfig struct {
	LockTimeout time.Duration `yaml:"lock_timeout"`
	MaxRetries  int           `yaml:"max_retries"`
	RetryDelay  time.Duration `yaml:"retry_delay"`
}

// Load parses and validates the YAML document at path, filling defaults for
// omitted fields.
func Load(path string) (*Config, error) {
	f, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := Default()
	if err := yaml.Unmarshal(f, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Default returns the configuration used when fields are omitted. The
// pricing bounds mirror the production deployment: prices drift inside
// [0.5x, 1.5x] of base, momentum in [0.3, 0.85], 3-sigma noise clipping.
func Default() *Config {
	return &Config{
		Enabled:   true,
		BatchSize: 20,
		Redis: RedisConfig{
			Addr: "localhost:6379",
		},
		Pricing: PricingConfig{
			Strategy:           "activity",
			MinRatio:           0.5,
			MaxRatio:           1.5,
			MomentumMin:        0.3,
			MomentumMax:        0.85,
			VolatilityMin:      0.01,
			VolatilityMax:      0.05,
			ActivityThreshold:  2.0,
			MinBaseSupply:      1.0,
			ExtremeRatioMin:    0.1,
			ExtremeRatioMax:    10.0,
			NoiseTruncate:      3.0,
			Sensitivity:        0.1,
			StabilityThreshold: 0.02,
		},
		SellPrice: SellPriceConfig{
			Mode:  SellPriceRatio,
			Ratio: 0.75,
		},
		History: HistoryConfig{
			MaxRecords: 168,
		},
		Monitor: MonitorConfig{
			DeviationThreshold: 0.3,
			ExtremeMultiplier:  5.0,
		},
		Scheduler: SchedulerConfig{
			TaskTimeout:        2 * time.Minute,
			RetryAttempts:      3,
			RetryDelay:         5 * time.Second,
			MaxConcurrentTasks: 3,
		},
		Transaction: TransactionConfig{
			LockTimeout: 30 * time.Second,
			MaxRetries:  3,
			RetryDelay:  100 * time.Millisecond,
		},
	}
}

// Validate rejects structurally unusable configuration. Per-task problems
// are not validated here: the scheduler collects those as warnings and
// filters the offending tasks instead of failing construction.
func (c *Config) Validate() error {
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch_size must be positive, got %d", c.BatchSize)
	}
	if c.Pricing.MinRatio <= 0 || c.Pricing.MaxRatio <= c.Pricing.MinRatio {
		return fmt.Errorf("pricing ratio bounds invalid: [%v, %v]", c.Pricing.MinRatio, c.Pricing.MaxRatio)
	}
	if c.Pricing.Strategy != "activity" && c.Pricing.Strategy != "legacy" {
		return fmt.Errorf("unknown pricing strategy %q", c.Pricing.Strategy)
	}
	if c.SellPrice.Mode != SellPriceRatio && c.SellPrice.Mode != SellPriceIndependent {
		return fmt.Errorf("unknown sell price mode %q", c.SellPrice.Mode)
	}
	if c.SellPrice.Mode == SellPriceRatio && (c.SellPrice.Ratio <= 0 || c.SellPrice.Ratio > 1) {
		return fmt.Errorf("sell price ratio must be in (0, 1], got %v", c.SellPrice.Ratio)
	}
	if c.History.MaxRecords <= 0 {
		return fmt.Errorf("history.max_records must be positive, got %d", c.History.MaxRecords)
	}
	if c.Transaction.LockTimeout <= 0 {
		return fmt.Errorf("transaction.lock_timeout must be positive, got %v", c.Transaction.LockTimeout)
	}
	if c.Transaction.MaxRetries < 0 {
		return fmt.Errorf("transaction.max_retries must not be negative, got %d", c.Transaction.MaxRetries)
	}
	return nil
}
