// Package catalog exposes the read-only item catalog contract the pricing
// engine consumes. The game's configuration layer owns the catalog format;
// the static resolver here is enough to run the engine standalone.
package catalog

import (
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/shopspring/decimal"
	"github.com/xingyu42/farm-game-sub001/internal/domain"
)

// Resolver answers item lookups. Implementations must be side-effect-free.
type Resolver interface {
	FindItemByID(id string) *domain.CatalogItem
	ItemsByCategory(category string) []domain.CatalogItem
	AllItems() []domain.CatalogItem
}

// StaticResolver serves an in-memory catalog snapshot.
type StaticResolver struct {
	byID       map[string]domain.CatalogItem
	byCategory map[string][]domain.CatalogItem
	all        []domain.CatalogItem
}

// NewStaticResolver indexes the given items by id and category.
func NewStaticResolver(items []domain.CatalogItem) *StaticResolver {
	r := &StaticResolver{
		byID:       make(map[string]domain.CatalogItem, len(items)),
		byCategory: make(map[string][]domain.CatalogItem),
		all:        items,
	}
	for _, it := range items {
		r.byID[it.ID] = it
		r.byCategory[it.Category] = append(r.byCategory[it.Category], it)
	}
	return r
}

func (r *StaticResolver) FindItemByID(id string) *domain.CatalogItem {
	it, ok := r.byID[id]
	if !ok {
		return nil
	}
	return &it
}

func (r *StaticResolver) ItemsByCategory(category string) []domain.CatalogItem {
	return r.byCategory[category]
}

func (r *StaticResolver) AllItems() []domain.CatalogItem {
	return r.all
}

type catalogFile struct {
	Items []catalogItemTmp `yaml:"items"`
}

type catalogItemTmp struct {
	ID             string `yaml:"id"`
	Name           string `yaml:"name"`
	Category       string `yaml:"category"`
	Price          string `yaml:"price"`
	SellPrice      string `yaml:"sell_price"`
	IsDynamicPrice bool   `yaml:"is_dynamic_price"`
}

// Load reads a YAML catalog file into a static resolver.
func Load(path string) (*StaticResolver, error) {
	f, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var doc catalogFile
	if err := yaml.Unmarshal(f, &doc); err != nil {
		return nil, errors.Wrapf(err, "failed to parse catalog %s", path)
	}

	items := make([]domain.CatalogItem, 0, len(doc.Items))
	for _, t := range doc.Items {
		price, err := decimal.NewFromString(t.Price)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid price for item %s", t.ID)
		}
		sell, err := decimal.NewFromString(t.SellPrice)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid sell price for item %s", t.ID)
		}
		items = append(items, domain.CatalogItem{
			ID:             t.ID,
			Name:           t.Name,
			Category:       t.Category,
			Price:          price,
			SellPrice:      sell,
			IsDynamicPrice: t.IsDynamicPrice,
		})
	}

	return NewStaticResolver(items), nil
}
