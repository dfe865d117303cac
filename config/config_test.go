package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	doc := `
enabled: true
batch_size: 10
pricing:
  strategy: legacy
  min_ratio: 0.4
  max_ratio: 1.6
sell_price:
  mode: independent
floating_items:
  categories: [crops]
  items: [milk]
scheduler:
  task_timeout: 30s
  tasks:
    - name: update-prices
      type: interval
      interval: 5m
      enabled: true
transaction:
  lock_timeout: 10s
`
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 10, cfg.BatchSize)
	assert.Equal(t, "legacy", cfg.Pricing.Strategy)
	assert.Equal(t, 0.4, cfg.Pricing.MinRatio)
	assert.Equal(t, SellPriceIndependent, cfg.SellPrice.Mode)
	assert.Equal(t, []string{"crops"}, cfg.FloatingItems.Categories)
	assert.Equal(t, 30*time.Second, cfg.Scheduler.TaskTimeout)
	require.Len(t, cfg.Scheduler.Tasks, 1)
	assert.Equal(t, 5*time.Minute, cfg.Scheduler.Tasks[0].Interval)
	assert.Equal(t, 10*time.Second, cfg.Transaction.LockTimeout)

	// Omitted fields keep defaults.
	assert.Equal(t, 168, cfg.History.MaxRecords)
	assert.Equal(t, 0.02, cfg.Pricing.StabilityThreshold)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestDefault_IsValid(t *testing.T) {
	assert.NoError(t, Default().Validate())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero batch size", func(c *Config) { c.BatchSize = 0 }},
		{"min ratio above max", func(c *Config) { c.Pricing.MinRatio = 2; c.Pricing.MaxRatio = 1 }},
		{"unknown strategy", func(c *Config) { c.Pricing.Strategy = "quantum" }},
		{"unknown sell mode", func(c *Config) { c.SellPrice.Mode = "florp" }},
		{"sell ratio above one", func(c *Config) { c.SellPrice.Ratio = 1.5 }},
		{"zero history records", func(c *Config) { c.History.MaxRecords = 0 }},
		{"zero lock timeout", func(c *Config) { c.Transaction.LockTimeout = 0 }},
		{"negative retries", func(c *Config) { c.Transaction.MaxRetries = -1 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
