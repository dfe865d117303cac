// Package marketdata owns the read/write shape of per-item market statistics
// in Redis: initialization, batched reads, trade-counter increments, the
// daily reset and display projections.
package marketdata

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xingyu42/farm-game-sub001/config"
	"github.com/xingyu42/farm-game-sub001/internal/catalog"
	"github.com/xingyu42/farm-game-sub001/internal/domain"
	"github.com/xingyu42/farm-game-sub001/internal/store"
)

const (
	statsKeyPrefix = "market:stats:"
	globalStatsKey = "market:global:stats"

	fieldBasePrice     = "base_price"
	fieldBaseSupply    = "base_supply"
	fieldActualSupply  = "actual_supply"
	fieldDemand24h     = "demand_24h"
	fieldSupply24h     = "supply_24h"
	fieldLastTx        = "last_transaction"
	fieldLastReset     = "last_reset"
	fieldGlobalReset   = "last_reset"
	fieldGlobalResetCt = "last_reset_count"
)

// Stats hash fields the recompute pass writes; exported so the market
// facade assembles its batch operations against the same names.
const (
	FieldCurrentPrice = "current_price"
	FieldSellPrice    = "current_sell_price"
	FieldPriceTrend   = "price_trend"
	FieldPriceHistory = "price_history"
	FieldLastUpdated  = "last_updated"
)

// Manager is the single source of truth for stats-record CRUD. Storage
// failures on the statistics path are logged and absorbed; they never block
// the caller's economic transaction.
type Manager struct {
	store   *store.Client
	catalog catalog.Resolver
	cfg     *config.Config
	logger  *zap.Logger
	now     func() time.Time
}

func NewManager(st *store.Client, cat catalog.Resolver, cfg *config.Config, logger *zap.Logger) *Manager {
	return &Manager{
		store:   st,
		catalog: cat,
		cfg:     cfg,
		logger:  logger,
		now:     time.Now,
	}
}

// StatsKey returns the Redis key for an item's stats hash.
func StatsKey(itemID string) string {
	return statsKeyPrefix + itemID
}

// FloatingItemIDs unions the three dynamic-price sources: catalog flags,
// configured categories and the explicit item list. Order is deterministic.
func (m *Manager) FloatingItemIDs() []string {
	seen := make(map[string]struct{})
	var ids []string

	add := func(id string) {
		if _, ok := seen[id]; ok {
			return
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}

	for _, it := range m.catalog.AllItems() {
		if it.IsDynamicPrice {
			add(it.ID)
		}
	}
	for _, cat := range m.cfg.FloatingItems.Categories {
		for _, it := range m.catalog.ItemsByCategory(cat) {
			add(it.ID)
		}
	}
	for _, id := range m.cfg.FloatingItems.Items {
		if m.catalog.FindItemByID(id) != nil {
			add(id)
		}
	}

	sort.Strings(ids)
	return ids
}

// IsFloating reports whether an item participates in dynamic pricing.
func (m *Manager) IsFloating(itemID string) bool {
	it := m.catalog.FindItemByID(itemID)
	if it == nil {
		return false
	}
	if it.IsDynamicPrice {
		return true
	}
	for _, cat := range m.cfg.FloatingItems.Categories {
		if it.Category == cat {
			return true
		}
	}
	for _, id := range m.cfg.FloatingItems.Items {
		if id == itemID {
			return true
		}
	}
	return false
}

// Initialize creates a stats record for every floating item that does not
// have one yet. Existing records are never touched, so the pass is
// idempotent. Per-item problems are accumulated, never fatal.
func (m *Manager) Initialize(ctx context.Context) domain.InitReport {
	report := domain.InitReport{}

	for _, id := range m.FloatingItemIDs() {
		report.Considered++

		item := m.catalog.FindItemByID(id)
		if item == nil {
			report.Errors = append(report.Errors, fmt.Sprintf("%s: catalog entry missing", id))
			continue
		}
		if !item.Price.IsPositive() || !item.SellPrice.IsPositive() {
			report.Errors = append(report.Errors, fmt.Sprintf("%s: invalid catalog price", id))
			continue
		}

		exists, err := m.store.Exists(ctx, StatsKey(id))
		if err != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("%s: %v", id, err))
			continue
		}
		if exists {
			continue
		}

		now := m.now().Format(time.RFC3339)
		fields := map[string]interface{}{
			fieldBasePrice:    item.Price.String(),
			FieldCurrentPrice: item.Price.String(),
			FieldSellPrice:    item.SellPrice.String(),
			fieldBaseSupply:   "0",
			fieldActualSupply: "0",
			fieldDemand24h:    "0",
			fieldSupply24h:    "0",
			FieldPriceTrend:   string(domain.TrendStable),
			FieldPriceHistory: fmt.Sprintf("[%s]", item.Price.String()),
			FieldLastUpdated:  now,
			fieldLastReset:    now,
		}
		if err := m.store.HSet(ctx, StatsKey(id), fields); err != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("%s: %v", id, err))
			continue
		}
		report.Initialized++
	}

	m.logger.Info("market data initialized",
		zap.Int("considered", report.Considered),
		zap.Int("initialized", report.Initialized),
		zap.Int("errors", len(report.Errors)))

	return report
}

// GetStats reads one item's stats record.
func (m *Manager) GetStats(ctx context.Context, itemID string) (*domain.ItemMarketStats, error) {
	fields, err := m.store.HGetAll(ctx, StatsKey(itemID))
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("market stats not found for %s", itemID)
	}
	return parseStats(itemID, fields), nil
}

// GetStatsBatch reads N stats records in one round trip. Missing records
// come back as error-tagged entries instead of failing the batch.
func (m *Manager) GetStatsBatch(ctx context.Context, itemIDs []string) ([]domain.StatsResult, error) {
	keys := make([]string, len(itemIDs))
	for i, id := range itemIDs {
		keys[i] = StatsKey(id)
	}

	hashes, err := m.store.HGetAllBatch(ctx, keys)
	if err != nil {
		return nil, err
	}

	out := make([]domain.StatsResult, len(itemIDs))
	for i, id := range itemIDs {
		if len(hashes[i]) == 0 {
			out[i] = domain.StatsResult{ItemID: id, Err: "not found"}
			continue
		}
		out[i] = domain.StatsResult{ItemID: id, Stats: parseStats(id, hashes[i])}
	}
	return out, nil
}

// RecordTransaction bumps the traded-volume counter for one buy or sell.
// Non-floating items are a no-op. Returns false instead of an error on any
// failure: statistics bookkeeping must never block the trade itself.
func (m *Manager) RecordTransaction(ctx context.Context, itemID string, quantity int64, side domain.TradeSide) bool {
	if quantity <= 0 || !m.IsFloating(itemID) {
		return false
	}

	field := fieldActualSupply
	if m.cfg.Pricing.Strategy == "legacy" {
		if side == domain.SideBuy {
			field = fieldDemand24h
		} else {
			field = fieldSupply24h
		}
	}

	key := StatsKey(itemID)
	if err := m.store.HIncrByFloat(ctx, key, field, float64(quantity)); err != nil {
		m.logger.Warn("failed to record trade volume",
			zap.String("item", itemID), zap.Error(err))
		return false
	}
	if err := m.store.HSet(ctx, key, map[string]interface{}{
		fieldLastTx: m.now().Format(time.RFC3339),
	}); err != nil {
		m.logger.Warn("failed to stamp last transaction",
			zap.String("item", itemID), zap.Error(err))
	}
	return true
}

// ResetDailyStats zeroes every floating item's volume counters in one
// batched pass and stamps the global reset marker. With dynamic pricing
// disabled it reports success with zero resets.
func (m *Manager) ResetDailyStats(ctx context.Context) domain.ResetReport {
	if !m.cfg.Enabled {
		return domain.ResetReport{Success: true}
	}

	ids := m.FloatingItemIDs()
	report := domain.ResetReport{TotalItems: len(ids)}
	now := m.now().Format(time.RFC3339)

	ops := make([]store.Operation, 0, len(ids)+1)
	for _, id := range ids {
		ops = append(ops, store.HSetOp{
			HashKey: StatsKey(id),
			Fields: map[string]interface{}{
				fieldActualSupply: "0",
				fieldDemand24h:    "0",
				fieldSupply24h:    "0",
				fieldLastReset:    now,
			},
		})
	}
	ops = append(ops, store.HSetOp{
		HashKey: globalStatsKey,
		Fields: map[string]interface{}{
			fieldGlobalReset:   now,
			fieldGlobalResetCt: fmt.Sprintf("%d", len(ids)),
		},
	})

	perOp, err := m.store.ExecBatch(ctx, ops)
	if err != nil {
		report.Errors = append(report.Errors, err.Error())
		return report
	}
	for i, opErr := range perOp {
		if i >= len(ids) {
			break
		}
		if opErr != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("%s: %v", ids[i], opErr))
			continue
		}
		report.ResetCount++
	}
	report.Success = true

	m.logger.Info("daily market stats reset",
		zap.Int("reset", report.ResetCount),
		zap.Int("total", report.TotalItems))

	return report
}

// StatsUpdate is one entry of a batched stats write.
type StatsUpdate struct {
	ItemID string
	Fields map[string]interface{}
}

// BatchUpdate validates and applies stats updates as one batched write.
// Invalid entries are reported and skipped; valid ones still go through.
func (m *Manager) BatchUpdate(ctx context.Context, updates []StatsUpdate) (int, []string) {
	var errs []string
	ops := make([]store.Operation, 0, len(updates))
	var applied []string

	for _, u := range updates {
		if u.ItemID == "" {
			errs = append(errs, "update with empty item id")
			continue
		}
		if len(u.Fields) == 0 {
			errs = append(errs, fmt.Sprintf("%s: update with no fields", u.ItemID))
			continue
		}
		ops = append(ops, store.HSetOp{HashKey: StatsKey(u.ItemID), Fields: u.Fields})
		applied = append(applied, u.ItemID)
	}

	if len(ops) == 0 {
		return 0, errs
	}

	perOp, err := m.store.ExecBatch(ctx, ops)
	if err != nil {
		errs = append(errs, err.Error())
		return 0, errs
	}

	updated := 0
	for i, opErr := range perOp {
		if opErr != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", applied[i], opErr))
			continue
		}
		updated++
	}
	return updated, errs
}

// DisplayData joins stats with catalog metadata for read-side rendering,
// grouped by category and sorted by name. Items whose lookup fails are
// skipped, not fatal.
func (m *Manager) DisplayData(ctx context.Context) ([]domain.DisplayGroup, error) {
	ids := m.FloatingItemIDs()
	results, err := m.GetStatsBatch(ctx, ids)
	if err != nil {
		return nil, err
	}

	groups := make(map[string][]domain.DisplayItem)
	for _, res := range results {
		if res.Err != "" || res.Stats == nil {
			continue
		}
		item := m.catalog.FindItemByID(res.ItemID)
		if item == nil {
			continue
		}

		change := decimal.Zero
		if res.Stats.BasePrice.IsPositive() {
			change = res.Stats.CurrentBuyPrice.Sub(res.Stats.BasePrice).
				Div(res.Stats.BasePrice).Mul(decimal.NewFromInt(100)).Round(1)
		}

		groups[item.Category] = append(groups[item.Category], domain.DisplayItem{
			ItemID:        res.ItemID,
			Name:          item.Name,
			Category:      item.Category,
			BasePrice:     res.Stats.BasePrice,
			BuyPrice:      res.Stats.CurrentBuyPrice,
			SellPrice:     res.Stats.CurrentSellPrice,
			ChangePercent: change,
			Trend:         res.Stats.Trend,
		})
	}

	out := make([]domain.DisplayGroup, 0, len(groups))
	for cat, items := range groups {
		sort.Slice(items, func(i, j int) bool { return items[i].Name < items[j].Name })
		out = append(out, domain.DisplayGroup{Category: cat, Items: items})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Category < out[j].Category })

	return out, nil
}

// StampGlobalUpdate records one recompute pass in the global stats hash.
func (m *Manager) StampGlobalUpdate(ctx context.Context, totalItems int) {
	err := m.store.HSet(ctx, globalStatsKey, map[string]interface{}{
		"total_items": fmt.Sprintf("%d", totalItems),
		"last_update": m.now().Format(time.RFC3339),
	})
	if err != nil {
		m.logger.Warn("failed to stamp global market stats", zap.Error(err))
		return
	}
	if err := m.store.HIncrByFloat(ctx, globalStatsKey, "update_count", 1); err != nil {
		m.logger.Warn("failed to bump update count", zap.Error(err))
	}
}

func parseStats(itemID string, fields map[string]string) *domain.ItemMarketStats {
	stats := &domain.ItemMarketStats{
		ItemID:           itemID,
		BasePrice:        parseDecimal(fields[fieldBasePrice]),
		CurrentBuyPrice:  parseDecimal(fields[FieldCurrentPrice]),
		CurrentSellPrice: parseDecimal(fields[FieldSellPrice]),
		BaseSupply:       parseDecimal(fields[fieldBaseSupply]),
		ActualSupply:     parseDecimal(fields[fieldActualSupply]),
		Demand24h:        parseDecimal(fields[fieldDemand24h]),
		Supply24h:        parseDecimal(fields[fieldSupply24h]),
		Trend:            domain.Trend(fields[FieldPriceTrend]),
		HistoryJSON:      fields[FieldPriceHistory],
		LastUpdated:      parseTime(fields[FieldLastUpdated]),
		LastTransaction:  parseTime(fields[fieldLastTx]),
		LastReset:        parseTime(fields[fieldLastReset]),
	}
	if stats.Trend == "" {
		stats.Trend = domain.TrendStable
	}
	return stats
}

func parseDecimal(s string) decimal.Decimal {
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
