// Package app wires the metrics worker: configuration, repositories, the
// periodic scheduler and the probe server.
package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JourneymanNYC/promowell-shopify/internal/pipeline"
	"github.com/JourneymanNYC/promowell-shopify/internal/repository"
	"github.com/JourneymanNYC/promowell-shopify/pkg/health"
	"github.com/JourneymanNYC/promowell-shopify/pkg/httpmiddleware"
)

// Run creates all dependencies, runs the worker and the probe server, and
// handles graceful shutdown. It is the single wiring point of the worker.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing",
		zap.String("addr", cfg.Addr),
		zap.Duration("interval", cfg.Worker.Interval),
		zap.Int("lookback_days", cfg.Worker.LookbackDays),
	)

	pool, err := repository.NewPool(ctx, cfg.Database.URL, cfg.Database.MaxConns)
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	defer pool.Close()

	if err := repository.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	runLog := repository.NewRunLogRepository(pool)
	runner, err := pipeline.NewRunner(
		repository.NewDiscountRepository(pool),
		repository.NewOrderRepository(pool),
		repository.NewPerformanceRepository(pool),
		pipeline.Options{
			Retry:          cfg.Retry,
			RunLog:         runLog,
			TracerProvider: m.TracerProvider(),
			MeterProvider:  m.MeterProvider(),
		},
	)
	if err != nil {
		return errors.Wrap(err, "create runner")
	}
	worker := NewWorker(repository.NewShopRepository(pool), runner, cfg.Run, cfg.Worker)

	prober := health.New()
	prober.Register(health.Check{Name: "goroutines", Kind: health.Liveness, Timeout: time.Second,
		Func: health.GoroutineCountCheck(10000)})
	prober.Register(health.Check{Name: "postgres", Kind: health.Readiness,
		Func: health.PingCheck(pool)})
	prober.Register(health.Check{Name: "last_cycle", Kind: health.Readiness,
		Func: health.FreshnessCheck(cfg.Worker.MaxStaleness, time.Now, worker.LastSuccess)})
	prober.Register(health.Check{Name: "last_run", Kind: health.Readiness,
		Func: health.FreshnessCheck(cfg.Worker.MaxStaleness, time.Now, runLog.LastSuccess)})
	prober.Start(ctx, 10*time.Second)
	defer prober.Stop()
	prober.SetReady(true)

	mux := http.NewServeMux()
	prober.Mount(mux)
	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler: httpmiddleware.Wrap(mux,
			httpmiddleware.InjectLogger(zctx.From(ctx)),
			httpmiddleware.Recovery(),
			httpmiddleware.RequestID(),
			httpmiddleware.Instrument("promowell-probes", m.TracerProvider(), m.MeterProvider()),
		),
	}

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return worker.Run(gCtx)
	})
	g.Go(func() error {
		lg.Info("Probe server listening", zap.String("addr", cfg.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "server")
		}
		return nil
	})
	g.Go(func() error {
		<-gCtx.Done()
		prober.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gCtx), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down probe server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			return errors.Wrap(err, "shutdown")
		}
		return nil
	})

	return g.Wait()
}
