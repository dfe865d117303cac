package domain

import "github.com/shopspring/decimal"

// PriceInput carries everything a pricing strategy needs for one item.
// CurrentPrice may be zero on the very first computation; strategies fall
// back to BasePrice in that case.
type PriceInput struct {
	ItemID       string
	BasePrice    decimal.Decimal
	BaseSupply   decimal.Decimal
	ActualSupply decimal.Decimal
	CurrentPrice decimal.Decimal

	// Demand is only used by the legacy demand/supply strategy; the activity
	// strategy ignores it. The two volume models are never mixed in one
	// deployment.
	Demand decimal.Decimal
}

// PriceResult is the outcome of one price computation. When Degraded is set
// the inputs failed validation and Price equals BasePrice; callers must treat
// the result as a no-op and keep the previously persisted price.
type PriceResult struct {
	ItemID      string
	Price       decimal.Decimal
	TargetPrice decimal.Decimal
	Activity    float64
	Momentum    float64
	Volatility  float64
	Noise       float64
	Degraded    bool
}

// PriceChange is one entry of the recompute pass report. Only changes larger
// than one cent make it into the report.
type PriceChange struct {
	ItemID   string
	OldPrice decimal.Decimal
	NewPrice decimal.Decimal
	Trend    Trend
}

// UpdateReport summarizes one full recompute pass.
type UpdateReport struct {
	TotalItems   int
	UpdatedCount int
	SkippedCount int
	PriceChanges []PriceChange
	Errors       []string
	DurationMs   int64
}
