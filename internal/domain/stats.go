package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Trend classifies the direction of the last price update.
type Trend string

const (
	TrendRising  Trend = "rising"
	TrendFalling Trend = "falling"
	TrendStable  Trend = "stable"
)

// TradeSide is the direction of a player trade.
type TradeSide string

const (
	SideBuy  TradeSide = "buy"
	SideSell TradeSide = "sell"
)

// ItemMarketStats is the per-item market record stored in Redis under
// market:stats:<itemID>. BasePrice is immutable after initialization;
// CurrentBuyPrice is always kept inside [BasePrice*minRatio, BasePrice*maxRatio].
type ItemMarketStats struct {
	ItemID           string
	BasePrice        decimal.Decimal
	CurrentBuyPrice  decimal.Decimal
	CurrentSellPrice decimal.Decimal

	// BaseSupply is the rolling reference supply (7-day average in the
	// original deployment). ActualSupply accumulates trade volume since the
	// last daily reset.
	BaseSupply   decimal.Decimal
	ActualSupply decimal.Decimal

	// Demand24h/Supply24h back the legacy demand/supply model. A deployment
	// uses either these or ActualSupply, never both.
	Demand24h decimal.Decimal
	Supply24h decimal.Decimal

	Trend Trend

	// HistoryJSON is the stored price_history field as written, a JSON array
	// of numbers. The pricing calculator parses and maintains it.
	HistoryJSON string

	LastUpdated     time.Time
	LastTransaction time.Time
	LastReset       time.Time
}

// StatsResult is a batched-read entry. A missing record carries Err and a
// nil Stats instead of failing the whole batch.
type StatsResult struct {
	ItemID string
	Stats  *ItemMarketStats
	Err    string
}

// InitReport summarizes an initialization pass over the floating-price items.
type InitReport struct {
	Considered  int
	Initialized int
	Errors      []string
}

// ResetReport summarizes a daily volume-counter reset.
type ResetReport struct {
	Success    bool
	ResetCount int
	TotalItems int
	Errors     []string
}

// DisplayItem is the read-side projection of one item for UI rendering.
type DisplayItem struct {
	ItemID        string
	Name          string
	Category      string
	BasePrice     decimal.Decimal
	BuyPrice      decimal.Decimal
	SellPrice     decimal.Decimal
	ChangePercent decimal.Decimal
	Trend         Trend
}

// DisplayGroup holds one catalog category's items, sorted by name.
type DisplayGroup struct {
	Category string
	Items    []DisplayItem
}
