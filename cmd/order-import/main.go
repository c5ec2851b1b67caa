// Command order-import loads platform export files (orders*.ndjson.gz,
// discounts*.ndjson.gz) into the raw tables of one shop. Re-importing a file
// replaces records by id.
package main

import (
	"context"
	"sync/atomic"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	appkg "github.com/JourneymanNYC/promowell-shopify/internal/app"
	"github.com/JourneymanNYC/promowell-shopify/internal/domain/discount"
	"github.com/JourneymanNYC/promowell-shopify/internal/domain/order"
	"github.com/JourneymanNYC/promowell-shopify/internal/export"
	"github.com/JourneymanNYC/promowell-shopify/internal/repository"
)

// Config holds the import options. Export files are positional arguments.
type Config struct {
	Database   appkg.DatabaseConfig
	ShopID     string `required:"true" usage:"Shop the exported records belong to" flag:"shop-id"`
	ShopDomain string `usage:"Register or reactivate the shop under this domain" flag:"shop-domain"`
	BatchSize  int    `default:"500" usage:"Records written per batch" flag:"batch-size"`
	Workers    int    `default:"4" usage:"Files imported in parallel" flag:"workers"`
}

func main() {
	app.Run(func(ctx context.Context, lg *zap.Logger, _ *app.Telemetry) error {
		var cfg Config
		loader, err := appkg.Load(&cfg)
		if err != nil {
			return err
		}
		if err := cfg.Database.Resolve(); err != nil {
			return err
		}
		files := loader.Flags().Args()
		if len(files) == 0 {
			return errors.New("no export files given")
		}
		return run(ctx, lg, &cfg, files)
	})
}

func run(ctx context.Context, lg *zap.Logger, cfg *Config, files []string) error {
	kinds := make([]export.Kind, len(files))
	for i, f := range files {
		kind, ok := export.KindOf(f)
		if !ok {
			return errors.Errorf("%s: expected orders*.ndjson.gz or discounts*.ndjson.gz", f)
		}
		kinds[i] = kind
	}

	pool, err := repository.NewPool(ctx, cfg.Database.URL, cfg.Database.MaxConns)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	if err := repository.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}
	if cfg.ShopDomain != "" {
		if err := repository.NewShopRepository(pool).Register(ctx, cfg.ShopID, cfg.ShopDomain); err != nil {
			return err
		}
	}

	im := &importer{
		shopID:    cfg.ShopID,
		batchSize: cfg.BatchSize,
		orders:    repository.NewOrderRepository(pool),
		discounts: repository.NewDiscountRepository(pool),
	}

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(max(cfg.Workers, 1))
	for i, path := range files {
		g.Go(func() error {
			n, err := im.importFile(gCtx, kinds[i], path)
			if err != nil {
				return errors.Wrapf(err, "import %s", path)
			}
			lg.Info("File imported",
				zap.String("file", path),
				zap.String("kind", string(kinds[i])),
				zap.Int("records", n),
			)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	lg.Info("Import completed",
		zap.String("shop_id", cfg.ShopID),
		zap.Int64("orders", im.orderCount.Load()),
		zap.Int64("discounts", im.discountCount.Load()),
	)
	return nil
}

type importer struct {
	shopID    string
	batchSize int
	orders    order.Writer
	discounts discount.Writer

	orderCount    atomic.Int64
	discountCount atomic.Int64
}

func (im *importer) importFile(ctx context.Context, kind export.Kind, path string) (int, error) {
	f, err := export.Open(path)
	if err != nil {
		return 0, err
	}
	defer func() { _ = f.Close() }()

	switch kind {
	case export.KindOrders:
		return export.ReadOrders(ctx, f, im.shopID, im.batchSize, func(batch []order.Order) error {
			if err := im.orders.UpsertOrders(ctx, batch); err != nil {
				return err
			}
			im.orderCount.Add(int64(len(batch)))
			return nil
		})
	case export.KindDiscounts:
		return export.ReadDiscounts(ctx, f, im.shopID, im.batchSize, func(batch []discount.Discount) error {
			if err := im.discounts.UpsertDiscounts(ctx, batch); err != nil {
				return err
			}
			im.discountCount.Add(int64(len(batch)))
			return nil
		})
	default:
		return 0, errors.Errorf("unknown export kind %q", kind)
	}
}
