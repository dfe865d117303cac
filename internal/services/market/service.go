// Package market is the facade other subsystems call: price lookups, trade
// recording, the periodic recompute pass, the daily reset and health
// monitoring. It orchestrates the calculator, the data manager and the
// transaction manager; it never touches player currency.
package market

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xingyu42/farm-game-sub001/config"
	"github.com/xingyu42/farm-game-sub001/internal/catalog"
	"github.com/xingyu42/farm-game-sub001/internal/domain"
	"github.com/xingyu42/farm-game-sub001/internal/services/marketdata"
	"github.com/xingyu42/farm-game-sub001/internal/services/pricing"
	"github.com/xingyu42/farm-game-sub001/internal/services/transaction"
	"github.com/xingyu42/farm-game-sub001/internal/store"
)

// priceUpdateLock serializes recompute passes across process instances.
const priceUpdateLock = "market:update:prices"

// reportEpsilon: price moves at or below one cent stay out of the report.
var reportEpsilon = decimal.NewFromFloat(0.01)

// PerfStats tracks rolling recompute performance for introspection.
type PerfStats struct {
	LastRun      time.Time
	LastDuration time.Duration
	TotalRuns    int64
	TotalUpdated int64
}

// Service is the pricing engine facade.
type Service struct {
	cfg        *config.Config
	catalog    catalog.Resolver
	calculator *pricing.Calculator
	data       *marketdata.Manager
	tx         *transaction.Manager
	logger     *zap.Logger

	perfMu sync.Mutex
	perf   PerfStats
}

func NewService(cfg *config.Config, cat catalog.Resolver, calc *pricing.Calculator,
	data *marketdata.Manager, tx *transaction.Manager, logger *zap.Logger) *Service {
	return &Service{
		cfg:        cfg,
		catalog:    cat,
		calculator: calc,
		data:       data,
		tx:         tx,
		logger:     logger,
	}
}

// GetItemPrice resolves the tradable price for one item and side. Items
// outside the floating set, or with missing stats, resolve to the static
// catalog price; callers always get a valid price.
func (s *Service) GetItemPrice(ctx context.Context, itemID string, side domain.TradeSide) (decimal.Decimal, error) {
	item := s.catalog.FindItemByID(itemID)
	if item == nil {
		return decimal.Zero, errors.Errorf("unknown item %s", itemID)
	}

	static := item.Price
	if side == domain.SideSell {
		static = item.SellPrice
	}

	if !s.cfg.Enabled || !s.data.IsFloating(itemID) {
		return static, nil
	}

	stats, err := s.data.GetStats(ctx, itemID)
	if err != nil {
		s.logger.Debug("stats missing, using catalog price",
			zap.String("item", itemID), zap.Error(err))
		return static, nil
	}

	price := stats.CurrentBuyPrice
	if side == domain.SideSell {
		price = stats.CurrentSellPrice
	}
	if !price.IsPositive() {
		return static, nil
	}
	return price, nil
}

// RecordTransaction bumps trade-volume counters. Never returns an error:
// bookkeeping must not block commerce.
func (s *Service) RecordTransaction(ctx context.Context, itemID string, quantity int64, side domain.TradeSide) bool {
	return s.data.RecordTransaction(ctx, itemID, quantity, side)
}

// ResetDailyStats zeroes the rolling volume counters.
func (s *Service) ResetDailyStats(ctx context.Context) domain.ResetReport {
	return s.data.ResetDailyStats(ctx)
}

// DisplayData exposes the read-side market projection.
func (s *Service) DisplayData(ctx context.Context) ([]domain.DisplayGroup, error) {
	return s.data.DisplayData(ctx)
}

// Initialize creates missing stats records for all floating items.
func (s *Service) Initialize(ctx context.Context) domain.InitReport {
	return s.data.Initialize(ctx)
}

// Perf snapshots the rolling recompute statistics.
func (s *Service) Perf() PerfStats {
	s.perfMu.Lock()
	defer s.perfMu.Unlock()
	return s.perf
}

// UpdateDynamicPrices recomputes every floating item's price and persists
// the changes in lock-guarded batches. Degraded computations keep their
// previous price and are skipped. Safe to call concurrently: overlapping
// passes serialize on the shared batch lock or lose the race on stale
// reads, which the next pass corrects.
func (s *Service) UpdateDynamicPrices(ctx context.Context) (*domain.UpdateReport, error) {
	start := time.Now()
	report := &domain.UpdateReport{}

	if !s.cfg.Enabled {
		s.logger.Debug("dynamic pricing disabled, skipping update")
		return report, nil
	}

	ids := s.data.FloatingItemIDs()
	report.TotalItems = len(ids)
	if len(ids) == 0 {
		return report, nil
	}

	for _, chunk := range chunkIDs(ids, s.cfg.BatchSize) {
		s.updateChunk(ctx, chunk, report)
	}

	s.data.StampGlobalUpdate(ctx, report.TotalItems)
	report.DurationMs = time.Since(start).Milliseconds()

	s.perfMu.Lock()
	s.perf.LastRun = start
	s.perf.LastDuration = time.Since(start)
	s.perf.TotalRuns++
	s.perf.TotalUpdated += int64(report.UpdatedCount)
	s.perfMu.Unlock()

	s.logger.Info("dynamic prices updated",
		zap.Int("total", report.TotalItems),
		zap.Int("updated", report.UpdatedCount),
		zap.Int("skipped", report.SkippedCount),
		zap.Int("errors", len(report.Errors)),
		zap.Int64("duration_ms", report.DurationMs))

	return report, nil
}

func (s *Service) updateChunk(ctx context.Context, ids []string, report *domain.UpdateReport) {
	results, err := s.data.GetStatsBatch(ctx, ids)
	if err != nil {
		report.Errors = append(report.Errors, fmt.Sprintf("batch read failed: %v", err))
		return
	}

	now := time.Now().Format(time.RFC3339)
	var ops []store.Operation

	for _, res := range results {
		if res.Err != "" || res.Stats == nil {
			report.Errors = append(report.Errors, fmt.Sprintf("%s: %s", res.ItemID, res.Err))
			continue
		}
		stats := res.Stats

		result := s.calculator.CalculatePrice(domain.PriceInput{
			ItemID:       stats.ItemID,
			BasePrice:    stats.BasePrice,
			BaseSupply:   stats.BaseSupply,
			ActualSupply: stats.ActualSupply,
			CurrentPrice: stats.CurrentBuyPrice,
			Demand:       stats.Demand24h,
		})
		if result.Degraded {
			report.SkippedCount++
			continue
		}

		sellPrice := s.deriveSellPrice(stats, result.Price)
		trend := s.calculator.AnalyzeTrend(stats.CurrentBuyPrice, result.Price)
		history := s.calculator.UpdateHistory(stats.HistoryJSON, result.Price)

		ops = append(ops, store.HSetOp{
			HashKey: marketdata.StatsKey(stats.ItemID),
			Fields: map[string]interface{}{
				marketdata.FieldCurrentPrice: result.Price.String(),
				marketdata.FieldSellPrice:    sellPrice.String(),
				marketdata.FieldPriceTrend:   string(trend),
				marketdata.FieldPriceHistory: pricing.EncodeHistory(history),
				marketdata.FieldLastUpdated:  now,
			},
		})

		if result.Price.Sub(stats.CurrentBuyPrice).Abs().GreaterThan(reportEpsilon) {
			report.PriceChanges = append(report.PriceChanges, domain.PriceChange{
				ItemID:   stats.ItemID,
				OldPrice: stats.CurrentBuyPrice,
				NewPrice: result.Price,
				Trend:    trend,
			})
		}
	}

	if len(ops) == 0 {
		return
	}

	batch, err := s.tx.ExecuteBatchUpdate(ctx, ops, transaction.Options{LockKey: priceUpdateLock})
	if err != nil {
		report.Errors = append(report.Errors, fmt.Sprintf("batch write failed: %v", err))
		return
	}
	report.UpdatedCount += batch.SuccessCount
	report.Errors = append(report.Errors, batch.Errors...)
}

// deriveSellPrice applies the configured sell-side model: a fixed ratio of
// the new buy price, or an independent computation against the catalog
// sell-side base.
func (s *Service) deriveSellPrice(stats *domain.ItemMarketStats, buyPrice decimal.Decimal) decimal.Decimal {
	if s.cfg.SellPrice.Mode == config.SellPriceIndependent {
		item := s.catalog.FindItemByID(stats.ItemID)
		if item != nil && item.SellPrice.IsPositive() {
			res := s.calculator.CalculatePrice(domain.PriceInput{
				ItemID:       stats.ItemID,
				BasePrice:    item.SellPrice,
				BaseSupply:   stats.BaseSupply,
				ActualSupply: stats.ActualSupply,
				CurrentPrice: stats.CurrentSellPrice,
				Demand:       stats.Demand24h,
			})
			if !res.Degraded {
				return res.Price
			}
			return stats.CurrentSellPrice
		}
	}
	return buyPrice.Mul(decimal.NewFromFloat(s.cfg.SellPrice.Ratio)).Round(2)
}

func chunkIDs(ids []string, size int) [][]string {
	if size <= 0 {
		return [][]string{ids}
	}
	var chunks [][]string
	for len(ids) > size {
		chunks = append(chunks, ids[:size])
		ids = ids[size:]
	}
	if len(ids) > 0 {
		chunks = append(chunks, ids)
	}
	return chunks
}
