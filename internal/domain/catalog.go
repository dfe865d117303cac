package domain

import "github.com/shopspring/decimal"

// CatalogItem is the slice of the static item catalog the pricing engine
// reads. The catalog itself is owned by the game configuration layer.
type CatalogItem struct {
	ID             string
	Name           string
	Category       string
	Price          decimal.Decimal
	SellPrice      decimal.Decimal
	IsDynamicPrice bool
}
