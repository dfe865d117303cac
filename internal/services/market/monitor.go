package market

import (
	"context"
	"fmt"
	"math"

	"go.uber.org/zap"

	"github.com/xingyu42/farm-game-sub001/internal/domain"
)

// MonitorMarket runs a read-only health sweep over every floating item.
// It never returns an error: an internal failure becomes a single critical
// alert, because monitoring must not itself become an outage.
func (s *Service) MonitorMarket(ctx context.Context) (report *domain.HealthReport) {
	report = &domain.HealthReport{Status: domain.HealthHealthy}

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("market monitor panicked", zap.Any("panic", r))
			report.Status = domain.HealthError
			report.Alerts = append(report.Alerts, domain.Alert{
				Level:   domain.AlertCritical,
				Message: fmt.Sprintf("monitor failure: %v", r),
			})
		}
	}()

	ids := s.data.FloatingItemIDs()
	results, err := s.data.GetStatsBatch(ctx, ids)
	if err != nil {
		s.logger.Error("market monitor failed to read stats", zap.Error(err))
		report.Status = domain.HealthError
		report.Alerts = append(report.Alerts, domain.Alert{
			Level:   domain.AlertCritical,
			Message: fmt.Sprintf("stats read failure: %v", err),
		})
		return report
	}

	for _, res := range results {
		alerts := s.checkItem(res)
		if len(alerts) == 0 {
			report.HealthyCount++
			continue
		}
		// Each item counts once, at its worst alert level.
		worst := domain.AlertWarning
		for _, a := range alerts {
			if a.Level != domain.AlertWarning {
				worst = a.Level
			}
		}
		if worst == domain.AlertWarning {
			report.WarningCount++
		} else {
			report.ErrorCount++
		}
		report.Alerts = append(report.Alerts, alerts...)
	}

	switch {
	case report.ErrorCount > 0:
		report.Status = domain.HealthError
	case report.WarningCount > 0:
		report.Status = domain.HealthWarning
	}

	return report
}

func (s *Service) checkItem(res domain.StatsResult) []domain.Alert {
	if res.Err != "" || res.Stats == nil {
		return []domain.Alert{{
			Level:   domain.AlertError,
			ItemID:  res.ItemID,
			Message: "market stats missing or corrupt",
		}}
	}

	stats := res.Stats
	var alerts []domain.Alert

	if !stats.BasePrice.IsPositive() {
		return []domain.Alert{{
			Level:   domain.AlertError,
			ItemID:  res.ItemID,
			Message: "non-positive base price in stats record",
		}}
	}

	deviation, _ := stats.CurrentBuyPrice.Sub(stats.BasePrice).Div(stats.BasePrice).Abs().Float64()
	if deviation > s.cfg.Monitor.DeviationThreshold {
		alerts = append(alerts, domain.Alert{
			Level:     domain.AlertWarning,
			ItemID:    res.ItemID,
			Message:   "price deviates strongly from base",
			Value:     deviation,
			Threshold: s.cfg.Monitor.DeviationThreshold,
		})
	}

	base, _ := stats.BaseSupply.Float64()
	actual, _ := stats.ActualSupply.Float64()
	if base > 0 && actual > 0 {
		ratio := base / actual
		upper := s.cfg.Pricing.ExtremeRatioMax * s.cfg.Monitor.ExtremeMultiplier
		lower := s.cfg.Pricing.ExtremeRatioMin / s.cfg.Monitor.ExtremeMultiplier
		if ratio > upper || ratio < lower {
			alerts = append(alerts, domain.Alert{
				Level:     domain.AlertWarning,
				ItemID:    res.ItemID,
				Message:   "extreme supply ratio",
				Value:     round3(ratio),
				Threshold: upper,
			})
		}
	}

	return alerts
}

func round3(f float64) float64 {
	return math.Round(f*1000) / 1000
}
