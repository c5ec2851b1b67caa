// Package pipeline drives the daily discount metrics aggregation for shops,
// single days and day ranges, and turns every failure into a result value.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/civil"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JourneymanNYC/promowell-shopify/internal/domain/discount"
	"github.com/JourneymanNYC/promowell-shopify/internal/domain/metrics"
	"github.com/JourneymanNYC/promowell-shopify/internal/domain/order"
)

const instrumentationName = "github.com/JourneymanNYC/promowell-shopify/internal/pipeline"

// Options holds the optional collaborators of a Runner.
type Options struct {
	Retry          RetryConfig
	RunLog         RunLog
	TracerProvider trace.TracerProvider
	MeterProvider  metric.MeterProvider
}

// Runner aggregates and persists daily discount metrics.
type Runner struct {
	discounts discount.Repository
	orders    order.Repository
	sink      metrics.Sink
	runLog    RunLog
	agg       *metrics.Aggregator
	retry     RetryConfig
	tracer    trace.Tracer
	inst      instruments
	now       func() time.Time
}

type instruments struct {
	runs          metric.Int64Counter
	ordersScanned metric.Int64Counter
	duration      metric.Float64Histogram
}

// NewRunner creates a Runner. Telemetry providers are required; use the
// noop implementations when telemetry is not wanted.
func NewRunner(
	discounts discount.Repository,
	orders order.Repository,
	sink metrics.Sink,
	opts Options,
) (*Runner, error) {
	if opts.TracerProvider == nil || opts.MeterProvider == nil {
		return nil, errors.New("tracer and meter providers are required")
	}

	meter := opts.MeterProvider.Meter(instrumentationName)
	var (
		inst instruments
		err  error
	)
	if inst.runs, err = meter.Int64Counter("discount_metrics.runs",
		metric.WithDescription("Day runs by outcome"),
	); err != nil {
		return nil, errors.Wrap(err, "runs counter")
	}
	if inst.ordersScanned, err = meter.Int64Counter("discount_metrics.orders_scanned",
		metric.WithDescription("Orders examined by the aggregator"),
	); err != nil {
		return nil, errors.Wrap(err, "orders counter")
	}
	if inst.duration, err = meter.Float64Histogram("discount_metrics.run.duration",
		metric.WithDescription("Day run duration"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, errors.Wrap(err, "duration histogram")
	}

	return &Runner{
		discounts: discounts,
		orders:    orders,
		sink:      sink,
		runLog:    opts.RunLog,
		agg:       metrics.NewAggregator(),
		retry:     opts.Retry.withDefaults(),
		tracer:    opts.TracerProvider.Tracer(instrumentationName),
		inst:      inst,
		now:       time.Now,
	}, nil
}

// RunDay aggregates one shop for day and upserts the rows. A nil day means
// yesterday in UTC.
func (r *Runner) RunDay(ctx context.Context, shopID string, day *civil.Date, activeOnly bool) (res RunResult) {
	startedAt := r.now()
	target := metrics.Yesterday(startedAt)
	if day != nil {
		target = *day
	}
	runID := uuid.New()

	ctx, span := r.tracer.Start(ctx, "pipeline.RunDay", trace.WithAttributes(
		attribute.String("shop.id", shopID),
		attribute.String("date", target.String()),
		attribute.Bool("active_only", activeOnly),
	))
	ctx = zctx.With(ctx,
		zap.String("run_id", runID.String()),
		zap.String("shop_id", shopID),
		zap.Stringer("date", target),
	)
	lg := zctx.From(ctx)

	defer func() {
		if rec := recover(); rec != nil {
			lg.Error("Run panicked", zap.Any("panic", rec), zap.Stack("stack"))
			res = RunResult{ShopID: shopID, Date: target, Message: fmt.Sprintf("panic: %v", rec)}
		}
		r.finish(ctx, span, runID, startedAt, res)
	}()

	n, msg, err := r.runDay(ctx, shopID, target, activeOnly)
	if err != nil {
		return RunResult{ShopID: shopID, Date: target, Message: err.Error()}
	}
	return RunResult{
		Success:            true,
		ShopID:             shopID,
		Date:               target,
		DiscountsProcessed: n,
		Message:            msg,
	}
}

func (r *Runner) runDay(ctx context.Context, shopID string, day civil.Date, activeOnly bool) (int, string, error) {
	lg := zctx.From(ctx)

	catalog, err := retry(ctx, r.retry, lg, "fetch_catalog", func() ([]discount.Discount, error) {
		list, err := r.discounts.ListByShop(ctx, shopID)
		if err != nil {
			return nil, &metrics.CatalogFetchError{ShopID: shopID, Err: err}
		}
		if list == nil {
			return nil, &metrics.CatalogFetchError{ShopID: shopID}
		}
		return list, nil
	})
	if err != nil {
		return 0, "", err
	}

	inScope := catalog
	if activeOnly {
		inScope = discount.FilterActive(catalog)
	}
	if len(inScope) == 0 {
		lg.Info("No discounts in scope", zap.Int("catalog", len(catalog)))
		return 0, "no discounts in scope", nil
	}

	orders, err := retry(ctx, r.retry, lg, "fetch_orders", func() ([]order.Order, error) {
		return r.orders.ListByShop(ctx, shopID)
	})
	if err != nil {
		return 0, "", errors.Wrap(err, "fetch orders")
	}

	result, stats := r.agg.Aggregate(shopID, day, inScope, orders, false)
	r.inst.ordersScanned.Add(ctx, int64(stats.OrdersScanned))
	if stats.OrdersUndated > 0 || stats.PayloadsInvalid > 0 {
		lg.Debug("Orders partially unreadable",
			zap.Int("undated", stats.OrdersUndated),
			zap.Int("invalid_payloads", stats.PayloadsInvalid),
		)
	}

	rows := metrics.ToUpsertBatch(result)
	if collapsed := len(result) - len(rows); collapsed > 0 {
		lg.Warn("Discounts share a natural key, keeping one row per code",
			zap.Int("discounts", len(result)),
			zap.Int("collapsed", collapsed),
		)
	}
	written, err := retry(ctx, r.retry, lg, "upsert", func() (metrics.UpsertResult, error) {
		return r.sink.Upsert(ctx, rows)
	})
	if err != nil {
		return 0, "", &SinkWriteError{ShopID: shopID, Date: day, Rows: len(rows), Err: err}
	}

	lg.Info("Day aggregated",
		zap.Int("discounts", len(rows)),
		zap.Int("orders_scanned", stats.OrdersScanned),
		zap.Int("orders_in_window", stats.OrdersInWindow),
		zap.Int("orders_matched", stats.OrdersMatched),
		zap.Int("rows_written", written.Count),
	)
	return len(rows), written.Message, nil
}

// finish records telemetry and the run log entry for a day run.
func (r *Runner) finish(ctx context.Context, span trace.Span, runID uuid.UUID, startedAt time.Time, res RunResult) {
	defer span.End()

	finishedAt := r.now()
	status := StatusSuccess
	if !res.Success {
		status = StatusError
		span.SetStatus(codes.Error, res.Message)
		zctx.From(ctx).Warn("Day run failed", zap.String("reason", res.Message))
	}
	span.SetAttributes(attribute.Int("discounts.processed", res.DiscountsProcessed))

	statusAttr := metric.WithAttributes(attribute.String("status", status))
	r.inst.runs.Add(ctx, 1, statusAttr)
	r.inst.duration.Record(ctx, finishedAt.Sub(startedAt).Seconds(), statusAttr)

	if r.runLog == nil {
		return
	}
	// The entry is written even when ctx is canceled so aborted runs are visible.
	logCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := r.runLog.Record(logCtx, Run{
		ID:                 runID,
		ShopID:             res.ShopID,
		Date:               res.Date,
		Status:             status,
		DiscountsProcessed: res.DiscountsProcessed,
		Message:            res.Message,
		StartedAt:          startedAt.UTC(),
		FinishedAt:         finishedAt.UTC(),
	}); err != nil {
		zctx.From(ctx).Error("Record run", zap.Error(err))
	}
}

// RunRange runs every day from start through end in ascending order. A nil
// end means yesterday in UTC. A failed day does not stop the range.
func (r *Runner) RunRange(ctx context.Context, shopID string, start civil.Date, end *civil.Date, activeOnly bool) RangeResult {
	last := metrics.Yesterday(r.now())
	if end != nil {
		last = *end
	}
	res := RangeResult{ShopID: shopID}
	if start.After(last) {
		res.Message = (&RangeError{Start: start, End: last}).Error()
		return res
	}

	for day := start; !day.After(last); day = day.AddDays(1) {
		if err := ctx.Err(); err != nil {
			res.Message = errors.Wrapf(err, "stopped before %s", day).Error()
			break
		}
		dayRes := r.RunDay(ctx, shopID, &day, activeOnly)
		res.Results = append(res.Results, dayRes)
		res.DatesProcessed++
		if dayRes.Success {
			res.Successful++
		} else {
			res.Failed++
		}
	}

	res.Success = res.Failed == 0 && res.Message == ""
	if res.Message == "" {
		res.Message = fmt.Sprintf("%d of %d days succeeded", res.Successful, res.DatesProcessed)
	}
	zctx.From(ctx).Info("Range finished",
		zap.String("shop_id", shopID),
		zap.Stringer("start", start),
		zap.Stringer("end", last),
		zap.Int("successful", res.Successful),
		zap.Int("failed", res.Failed),
	)
	return res
}

// RunShops runs day for every shop with at most concurrency shops in flight.
// Results are returned in the order of shopIDs.
func (r *Runner) RunShops(ctx context.Context, shopIDs []string, day *civil.Date, activeOnly bool, concurrency int) []RunResult {
	if concurrency <= 0 {
		concurrency = 1
	}
	results := make([]RunResult, len(shopIDs))

	var g errgroup.Group
	g.SetLimit(concurrency)
	for i, shopID := range shopIDs {
		g.Go(func() error {
			results[i] = r.RunDay(ctx, shopID, day, activeOnly)
			return nil
		})
	}
	_ = g.Wait()

	return results
}
