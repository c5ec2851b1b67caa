package app

import (
	"context"
	"sync/atomic"
	"time"

	"cloud.google.com/go/civil"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/JourneymanNYC/promowell-shopify/internal/domain/metrics"
	"github.com/JourneymanNYC/promowell-shopify/internal/pipeline"
)

// ShopLister lists the shops a cycle covers.
type ShopLister interface {
	ListActive(ctx context.Context) ([]string, error)
}

// ShopRunner aggregates one day for many shops.
type ShopRunner interface {
	RunShops(ctx context.Context, shopIDs []string, day *civil.Date, activeOnly bool, concurrency int) []pipeline.RunResult
}

// CycleReport summarizes one worker cycle.
type CycleReport struct {
	Start  civil.Date
	End    civil.Date
	Shops  int
	Runs   int
	Failed int
}

// Worker re-aggregates the last LookbackDays days, ending yesterday, for
// every active shop on a fixed interval. Re-running recent days picks up
// late orders; upserts keep the rows idempotent.
type Worker struct {
	shops  ShopLister
	runner ShopRunner
	run    RunConfig
	cfg    WorkerConfig
	now    func() time.Time

	lastSuccess atomic.Pointer[time.Time]
}

// NewWorker creates a Worker.
func NewWorker(shops ShopLister, runner ShopRunner, run RunConfig, cfg WorkerConfig) *Worker {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Hour
	}
	if cfg.LookbackDays <= 0 {
		cfg.LookbackDays = 1
	}
	return &Worker{
		shops:  shops,
		runner: runner,
		run:    run,
		cfg:    cfg,
		now:    time.Now,
	}
}

// Run executes a cycle immediately and then every interval until ctx is done.
// Cycle failures are logged and do not stop the worker.
func (w *Worker) Run(ctx context.Context) error {
	lg := zctx.From(ctx)

	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	for {
		if _, err := w.Cycle(ctx); err != nil && ctx.Err() == nil {
			lg.Error("Cycle failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Cycle runs every day of the lookback window for all active shops. Days
// run oldest first. It fails when any run failed.
func (w *Worker) Cycle(ctx context.Context) (CycleReport, error) {
	end := metrics.Yesterday(w.now())
	report := CycleReport{
		Start: end.AddDays(1 - w.cfg.LookbackDays),
		End:   end,
	}
	lg := zctx.From(ctx).With(
		zap.Stringer("start", report.Start),
		zap.Stringer("end", report.End),
	)

	shopIDs, err := w.shops.ListActive(ctx)
	if err != nil {
		return report, errors.Wrap(err, "list active shops")
	}
	report.Shops = len(shopIDs)
	if len(shopIDs) == 0 {
		lg.Info("No active shops")
		w.markSuccess()
		return report, nil
	}

	lg.Info("Cycle started", zap.Int("shops", len(shopIDs)))
	for day := report.Start; !day.After(report.End); day = day.AddDays(1) {
		if err := ctx.Err(); err != nil {
			return report, errors.Wrapf(err, "stopped before %s", day)
		}
		for _, res := range w.runner.RunShops(ctx, shopIDs, &day, w.run.ActiveOnly, w.run.Concurrency) {
			report.Runs++
			if !res.Success {
				report.Failed++
			}
		}
	}

	lg.Info("Cycle finished",
		zap.Int("runs", report.Runs),
		zap.Int("failed", report.Failed),
	)
	if report.Failed > 0 {
		return report, errors.Errorf("%d of %d runs failed", report.Failed, report.Runs)
	}
	w.markSuccess()
	return report, nil
}

func (w *Worker) markSuccess() {
	t := w.now()
	w.lastSuccess.Store(&t)
}

// LastSuccess returns when the last fully successful cycle finished.
func (w *Worker) LastSuccess(context.Context) (time.Time, bool, error) {
	if t := w.lastSuccess.Load(); t != nil {
		return *t, true, nil
	}
	return time.Time{}, false, nil
}
