// Package pricing computes bounded dynamic prices for floating-price items.
// It performs no I/O; the market data layer feeds it stats and persists what
// it returns.
package pricing

import (
	"encoding/json"
	"math"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xingyu42/farm-game-sub001/config"
	"github.com/xingyu42/farm-game-sub001/internal/domain"
)

// Calculator wraps a pricing strategy with trend analysis and history
// maintenance. Every operation degrades instead of failing: callers always
// get a usable value back.
type Calculator struct {
	strategy   Strategy
	cfg        config.PricingConfig
	maxRecords int
	logger     *zap.Logger
}

// NewCalculator picks the strategy named in the config.
func NewCalculator(cfg config.PricingConfig, histCfg config.HistoryConfig, logger *zap.Logger) *Calculator {
	var strategy Strategy
	if cfg.Strategy == "legacy" {
		strategy = NewLegacyStrategy(cfg)
	} else {
		strategy = NewActivityStrategy(cfg, nil)
	}

	return &Calculator{
		strategy:   strategy,
		cfg:        cfg,
		maxRecords: histCfg.MaxRecords,
		logger:     logger,
	}
}

// NewCalculatorWithStrategy injects an explicit strategy. Used by tests and
// by deployments that construct strategies with a seeded random source.
func NewCalculatorWithStrategy(strategy Strategy, cfg config.PricingConfig, histCfg config.HistoryConfig, logger *zap.Logger) *Calculator {
	return &Calculator{
		strategy:   strategy,
		cfg:        cfg,
		maxRecords: histCfg.MaxRecords,
		logger:     logger,
	}
}

// CalculatePrice runs one price computation. Degraded results keep the base
// price and must not be persisted as a change.
func (c *Calculator) CalculatePrice(in domain.PriceInput) domain.PriceResult {
	res := c.strategy.Compute(in)
	if res.Degraded {
		c.logger.Warn("price computation degraded, keeping base price",
			zap.String("item", in.ItemID),
			zap.String("base_price", in.BasePrice.String()))
	}
	return res
}

// AnalyzeTrend classifies the move from old to new price. Moves smaller than
// the stability threshold are stable; a non-positive old price is always
// stable because there is nothing meaningful to compare against.
func (c *Calculator) AnalyzeTrend(oldPrice, newPrice decimal.Decimal) domain.Trend {
	if !oldPrice.IsPositive() {
		return domain.TrendStable
	}

	change := newPrice.Sub(oldPrice).Div(oldPrice)
	threshold := decimal.NewFromFloat(c.cfg.StabilityThreshold)

	if change.Abs().LessThan(threshold) {
		return domain.TrendStable
	}
	if change.IsPositive() {
		return domain.TrendRising
	}
	return domain.TrendFalling
}

// UpdateHistory appends newPrice to the JSON-encoded history and truncates
// to the newest maxRecords entries. Corrupt or foreign entries are dropped
// silently; a history field that fails to parse entirely starts over.
func (c *Calculator) UpdateHistory(historyJSON string, newPrice decimal.Decimal) []decimal.Decimal {
	history := TryOrDefault(func() ([]decimal.Decimal, error) {
		return parseHistory(historyJSON)
	}, nil)

	history = append(history, newPrice.Round(2))
	if len(history) > c.maxRecords {
		history = history[len(history)-c.maxRecords:]
	}
	return history
}

// EncodeHistory serializes a history buffer back to its stored JSON form.
func EncodeHistory(history []decimal.Decimal) string {
	vals := make([]float64, len(history))
	for i, d := range history {
		vals[i], _ = d.Float64()
	}
	b, err := json.Marshal(vals)
	if err != nil {
		return "[]"
	}
	return string(b)
}

func parseHistory(historyJSON string) ([]decimal.Decimal, error) {
	if historyJSON == "" {
		return nil, nil
	}

	var raw []json.Number
	if err := json.Unmarshal([]byte(historyJSON), &raw); err != nil {
		// Mixed-type arrays from older writers: fall back to generic decode
		// and keep only the numeric entries.
		var anyRaw []interface{}
		if err2 := json.Unmarshal([]byte(historyJSON), &anyRaw); err2 != nil {
			return nil, err
		}
		out := make([]decimal.Decimal, 0, len(anyRaw))
		for _, v := range anyRaw {
			if f, ok := v.(float64); ok && isUsablePrice(f) {
				out = append(out, decimal.NewFromFloat(f))
			}
		}
		return out, nil
	}

	out := make([]decimal.Decimal, 0, len(raw))
	for _, n := range raw {
		f, err := n.Float64()
		if err != nil || !isUsablePrice(f) {
			continue
		}
		out = append(out, decimal.NewFromFloat(f))
	}
	return out, nil
}

func isUsablePrice(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0) && f >= 0
}
