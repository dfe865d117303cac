// Command marketd runs the dynamic market pricing daemon: it initializes
// stats records for every floating-price item and drives the periodic
// recompute, daily reset and health monitoring tasks.
//
// Usage:
//
//	marketd --config config.yaml --catalog catalog.yaml
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/xingyu42/farm-game-sub001/config"
	"github.com/xingyu42/farm-game-sub001/internal/catalog"
	"github.com/xingyu42/farm-game-sub001/internal/domain"
	"github.com/xingyu42/farm-game-sub001/internal/services/market"
	"github.com/xingyu42/farm-game-sub001/internal/services/marketdata"
	"github.com/xingyu42/farm-game-sub001/internal/services/pricing"
	"github.com/xingyu42/farm-game-sub001/internal/services/scheduler"
	"github.com/xingyu42/farm-game-sub001/internal/services/transaction"
	"github.com/xingyu42/farm-game-sub001/internal/store"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to yaml config")
	catalogPath := flag.String("catalog", "catalog.yaml", "path to item catalog")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal(err)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatal(err)
	}
	defer logger.Sync()

	cat, err := catalog.Load(*catalogPath)
	if err != nil {
		logger.Fatal("failed to load catalog", zap.Error(err))
	}

	st, err := store.New(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		logger.Fatal("failed to connect to store", zap.Error(err))
	}
	defer st.Close()

	calc := pricing.NewCalculator(cfg.Pricing, cfg.History, logger)
	data := marketdata.NewManager(st, cat, cfg, logger)
	tx := transaction.NewManager(st, cfg.Transaction, logger)
	svc := market.NewService(cfg, cat, calc, data, tx, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	report := svc.Initialize(ctx)
	if len(report.Errors) > 0 {
		logger.Warn("initialization finished with errors",
			zap.Int("initialized", report.Initialized),
			zap.Strings("errors", report.Errors))
	}

	sched := scheduler.NewScheduler(cfg.Scheduler, st, logger)
	for _, w := range sched.Warnings() {
		logger.Warn("scheduler configuration warning", zap.String("warning", w))
	}

	sched.Register("update-prices", func(ctx context.Context) error {
		_, err := svc.UpdateDynamicPrices(ctx)
		return err
	})
	sched.Register("reset-daily-stats", func(ctx context.Context) error {
		res := svc.ResetDailyStats(ctx)
		if !res.Success {
			logger.Warn("daily reset incomplete", zap.Strings("errors", res.Errors))
		}
		return nil
	})
	sched.Register("monitor-market", func(ctx context.Context) error {
		health := svc.MonitorMarket(ctx)
		if health.Status != domain.HealthHealthy {
			logger.Warn("market health degraded",
				zap.String("status", string(health.Status)),
				zap.Int("warnings", health.WarningCount),
				zap.Int("errors", health.ErrorCount))
		}
		return nil
	})

	sched.Start(ctx)
	defer sched.Stop()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	logger.Info("shutting down")
}
