// Command discount-metrics aggregates discount performance for one day, a
// range of days or a backfill window, then exits.
package main

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	appkg "github.com/JourneymanNYC/promowell-shopify/internal/app"
	"github.com/JourneymanNYC/promowell-shopify/internal/pipeline"
	"github.com/JourneymanNYC/promowell-shopify/internal/repository"
)

func main() {
	app.Run(func(ctx context.Context, lg *zap.Logger, m *app.Telemetry) error {
		var cfg Config
		if _, err := appkg.Load(&cfg); err != nil {
			return err
		}
		if err := cfg.Database.Resolve(); err != nil {
			return err
		}
		p, err := cfg.plan(time.Now())
		if err != nil {
			return err
		}
		return run(ctx, lg, m, &cfg, p)
	})
}

func run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config, p plan) error {
	pool, err := repository.NewPool(ctx, cfg.Database.URL, cfg.Database.MaxConns)
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	defer pool.Close()

	if err := repository.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	shopIDs := cfg.Shops
	if cfg.AllShops {
		if shopIDs, err = repository.NewShopRepository(pool).ListActive(ctx); err != nil {
			return errors.Wrap(err, "list active shops")
		}
	}
	if len(shopIDs) == 0 {
		lg.Info("No shops to aggregate")
		return nil
	}

	runner, err := pipeline.NewRunner(
		repository.NewDiscountRepository(pool),
		repository.NewOrderRepository(pool),
		repository.NewPerformanceRepository(pool),
		pipeline.Options{
			Retry:          cfg.Retry,
			RunLog:         repository.NewRunLogRepository(pool),
			TracerProvider: m.TracerProvider(),
			MeterProvider:  m.MeterProvider(),
		},
	)
	if err != nil {
		return errors.Wrap(err, "create runner")
	}

	if !p.ranged {
		failed := 0
		for _, res := range runner.RunShops(ctx, shopIDs, p.day, cfg.ActiveOnly, cfg.Concurrency) {
			lg.Info("Day result",
				zap.String("shop_id", res.ShopID),
				zap.Stringer("date", res.Date),
				zap.Bool("success", res.Success),
				zap.Int("discounts_processed", res.DiscountsProcessed),
				zap.String("message", res.Message),
			)
			if !res.Success {
				failed++
			}
		}
		if failed > 0 {
			return errors.Errorf("%d of %d shops failed", failed, len(shopIDs))
		}
		return nil
	}

	results := make([]pipeline.RangeResult, len(shopIDs))
	g := &errgroup.Group{}
	g.SetLimit(max(cfg.Concurrency, 1))
	for i, shopID := range shopIDs {
		g.Go(func() error {
			results[i] = runner.RunRange(ctx, shopID, p.start, p.end, cfg.ActiveOnly)
			return nil
		})
	}
	_ = g.Wait()

	failed := 0
	for _, res := range results {
		lg.Info("Range result",
			zap.String("shop_id", res.ShopID),
			zap.Bool("success", res.Success),
			zap.Int("dates_processed", res.DatesProcessed),
			zap.Int("successful", res.Successful),
			zap.Int("failed", res.Failed),
			zap.String("message", res.Message),
		)
		if !res.Success {
			failed++
		}
	}
	if failed > 0 {
		return errors.Errorf("%d of %d shops had failed days", failed, len(shopIDs))
	}
	return nil
}
