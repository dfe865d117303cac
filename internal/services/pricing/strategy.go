package pricing

import (
	"math"
	"math/rand"

	"github.com/shopspring/decimal"

	"github.com/xingyu42/farm-game-sub001/config"
	"github.com/xingyu42/farm-game-sub001/internal/domain"
)

// Strategy computes one new price from current market state. Implementations
// never return an error: bad inputs produce a degraded result equal to the
// base price, which callers must not persist.
type Strategy interface {
	Compute(in domain.PriceInput) domain.PriceResult
}

const supplyEpsilon = 0.0001

// ActivityStrategy is the production pricing model. Market busyness drives
// momentum down and volatility up, a supply ratio sets the target, and a
// truncated gaussian adds bounded noise on top of the smoothed walk.
type ActivityStrategy struct {
	cfg config.PricingConfig
	rng *rand.Rand
}

// NewActivityStrategy builds the strategy. rng may be nil, in which case a
// time-seeded source is used; tests pass a fixed seed.
func NewActivityStrategy(cfg config.PricingConfig, rng *rand.Rand) *ActivityStrategy {
	if rng == nil {
		rng = rand.New(rand.NewSource(rand.Int63()))
	}
	return &ActivityStrategy{cfg: cfg, rng: rng}
}

func (s *ActivityStrategy) Compute(in domain.PriceInput) domain.PriceResult {
	base, ok := positiveFinite(in.BasePrice)
	if !ok {
		return degraded(in)
	}
	baseSupply, ok := nonNegativeFinite(in.BaseSupply)
	if !ok {
		return degraded(in)
	}
	actualSupply, ok := nonNegativeFinite(in.ActualSupply)
	if !ok {
		return degraded(in)
	}

	current, ok := positiveFinite(in.CurrentPrice)
	if !ok {
		current = base
	}

	activity := s.activity(baseSupply, actualSupply)
	momentum := lerp(s.cfg.MomentumMax, s.cfg.MomentumMin, activity)
	volatility := lerp(s.cfg.VolatilityMin, s.cfg.VolatilityMax, activity)

	target := s.targetPrice(base, baseSupply, actualSupply)
	noise := s.sampleNoise(volatility)

	raw := current*momentum + target*(1-momentum) + base*noise
	price := clampPrice(raw, base, s.cfg.MinRatio, s.cfg.MaxRatio)

	return domain.PriceResult{
		ItemID:      in.ItemID,
		Price:       round2(price),
		TargetPrice: round2(target),
		Activity:    activity,
		Momentum:    momentum,
		Volatility:  volatility,
		Noise:       noise,
	}
}

// activity maps trade volume against the reference supply into [0, 1].
func (s *ActivityStrategy) activity(baseSupply, actualSupply float64) float64 {
	ref := math.Max(baseSupply, s.cfg.MinBaseSupply) * s.cfg.ActivityThreshold
	if ref <= 0 {
		return 0
	}
	return clamp01(actualSupply / ref)
}

// targetPrice turns the supply ratio into a price multiplier. The remap is
// piecewise linear, anchored so a balanced market (ratio 1) targets the base
// price exactly: shortage ratios stretch toward MaxRatio, glut ratios toward
// MinRatio. Zero realized supply counts as extreme shortage.
func (s *ActivityStrategy) targetPrice(base, baseSupply, actualSupply float64) float64 {
	var ratio float64
	if actualSupply <= 0 {
		ratio = s.cfg.ExtremeRatioMax
	} else {
		ratio = math.Max(baseSupply, s.cfg.MinBaseSupply) / math.Max(actualSupply, supplyEpsilon)
	}
	ratio = math.Min(math.Max(ratio, s.cfg.ExtremeRatioMin), s.cfg.ExtremeRatioMax)

	var mult float64
	if ratio >= 1 {
		span := s.cfg.ExtremeRatioMax - 1
		if span <= 0 {
			mult = 1
		} else {
			mult = 1 + (ratio-1)/span*(s.cfg.MaxRatio-1)
		}
	} else {
		span := 1 - s.cfg.ExtremeRatioMin
		if span <= 0 {
			mult = 1
		} else {
			mult = 1 - (1-ratio)/span*(1-s.cfg.MinRatio)
		}
	}

	return base * mult
}

// sampleNoise draws one gaussian with std dev sigma, clipped to
// +/- NoiseTruncate sigmas to bound tail risk.
func (s *ActivityStrategy) sampleNoise(sigma float64) float64 {
	if sigma <= 0 {
		return 0
	}
	n := s.rng.NormFloat64() * sigma
	limit := s.cfg.NoiseTruncate * sigma
	return math.Min(math.Max(n, -limit), limit)
}

// LegacyStrategy is the original demand/supply model, kept for deployments
// that still record demand and supply separately. Same bounds and degraded
// contract as the activity strategy.
type LegacyStrategy struct {
	cfg config.PricingConfig
}

func NewLegacyStrategy(cfg config.PricingConfig) *LegacyStrategy {
	return &LegacyStrategy{cfg: cfg}
}

func (s *LegacyStrategy) Compute(in domain.PriceInput) domain.PriceResult {
	base, ok := positiveFinite(in.BasePrice)
	if !ok {
		return degraded(in)
	}
	demand, ok := nonNegativeFinite(in.Demand)
	if !ok {
		return degraded(in)
	}
	supply, ok := nonNegativeFinite(in.ActualSupply)
	if !ok {
		return degraded(in)
	}

	var ratio float64
	switch {
	case supply == 0:
		ratio = s.cfg.ExtremeRatioMax
	case demand == 0:
		ratio = s.cfg.ExtremeRatioMin
	default:
		ratio = demand / supply
	}
	ratio = math.Min(math.Max(ratio, s.cfg.ExtremeRatioMin), s.cfg.ExtremeRatioMax)

	adjustment := math.Log(ratio) * s.cfg.Sensitivity
	raw := base * (1 + adjustment)
	price := clampPrice(raw, base, s.cfg.MinRatio, s.cfg.MaxRatio)

	return domain.PriceResult{
		ItemID:      in.ItemID,
		Price:       round2(price),
		TargetPrice: round2(price),
	}
}

func degraded(in domain.PriceInput) domain.PriceResult {
	base := in.BasePrice
	if !base.IsPositive() {
		base = decimal.Zero
	}
	return domain.PriceResult{
		ItemID:   in.ItemID,
		Price:    base.Round(2),
		Degraded: true,
	}
}

func positiveFinite(d decimal.Decimal) (float64, bool) {
	f, _ := d.Float64()
	if math.IsNaN(f) || math.IsInf(f, 0) || f <= 0 {
		return 0, false
	}
	return f, true
}

func nonNegativeFinite(d decimal.Decimal) (float64, bool) {
	f, _ := d.Float64()
	if math.IsNaN(f) || math.IsInf(f, 0) || f < 0 {
		return 0, false
	}
	return f, true
}

func clampPrice(raw, base, minRatio, maxRatio float64) float64 {
	lo := base * minRatio
	hi := base * maxRatio
	if math.IsNaN(raw) || math.IsInf(raw, 0) {
		return base
	}
	return math.Min(math.Max(raw, lo), hi)
}

func lerp(from, to, t float64) float64 {
	return from + (to-from)*t
}

func clamp01(v float64) float64 {
	return math.Min(math.Max(v, 0), 1)
}

func round2(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f).Round(2)
}
