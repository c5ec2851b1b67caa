package pipeline

import (
	"context"
	"sync"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/JourneymanNYC/promowell-shopify/internal/domain/discount"
	"github.com/JourneymanNYC/promowell-shopify/internal/domain/metrics"
	"github.com/JourneymanNYC/promowell-shopify/internal/domain/order"
)

// --- Fakes ---

type fakeDiscounts struct {
	mu      sync.Mutex
	byShop  map[string][]discount.Discount
	err     error
	nilList bool
	calls   int
}

func (f *fakeDiscounts) ListByShop(_ context.Context, shopID string) ([]discount.Discount, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if f.nilList {
		return nil, nil
	}
	list := f.byShop[shopID]
	if list == nil {
		list = []discount.Discount{}
	}
	return list, nil
}

type fakeOrders struct {
	mu     sync.Mutex
	byShop map[string][]order.Order
	err    error
	// panics makes the next N calls panic.
	panics int
	calls  int
}

func (f *fakeOrders) ListByShop(_ context.Context, shopID string) ([]order.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.panics > 0 {
		f.panics--
		panic("orders index out of range")
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.byShop[shopID], nil
}

type rowKey struct {
	shop string
	code string
	date civil.Date
}

// memorySink mimics the unique (shop_id, discount_code, date) constraint.
type memorySink struct {
	mu sync.Mutex
	// failures makes the next N calls fail.
	failures int
	// failDates makes every batch containing the date fail.
	failDates map[civil.Date]bool
	rows      map[rowKey]metrics.Row
	calls     int
}

func newMemorySink() *memorySink {
	return &memorySink{rows: make(map[rowKey]metrics.Row), failDates: make(map[civil.Date]bool)}
}

func (s *memorySink) Upsert(_ context.Context, rows []metrics.Row) (metrics.UpsertResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.failures > 0 {
		s.failures--
		return metrics.UpsertResult{}, errors.New("connection reset")
	}
	for _, r := range rows {
		if s.failDates[r.Date] {
			return metrics.UpsertResult{}, errors.New("constraint violation")
		}
	}
	for _, r := range rows {
		s.rows[rowKey{shop: r.ShopID, code: r.DiscountCode, date: r.Date}] = r
	}
	return metrics.UpsertResult{Count: len(rows), Message: "ok"}, nil
}

type memoryRunLog struct {
	mu   sync.Mutex
	runs []Run
}

func (l *memoryRunLog) Record(_ context.Context, run Run) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.runs = append(l.runs, run)
	return nil
}

// --- Helpers ---

var (
	day2    = civil.Date{Year: 2025, Month: time.November, Day: 2}
	fixedAt = time.Date(2025, 11, 5, 3, 0, 0, 0, time.UTC)
)

func dec(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func save10() discount.Discount {
	return discount.Discount{ID: "disc-1", ShopID: "shop-1", ExternalID: "500", Code: "SAVE10", Active: true}
}

func workedOrders() []order.Order {
	return []order.Order{
		{ID: "A", ProcessedAt: "2025-11-02T10:00:00Z", TotalPrice: "100.00", TotalDiscounts: "10.00", DiscountCodes: []string{"SAVE10"}},
		{ID: "B", ProcessedAt: "2025-11-02T18:30:00Z", TotalPrice: "50.00", TotalDiscounts: "5.00", DiscountID: "500"},
	}
}

type fixture struct {
	discounts *fakeDiscounts
	orders    *fakeOrders
	sink      *memorySink
	runLog    *memoryRunLog
	runner    *Runner
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		discounts: &fakeDiscounts{byShop: map[string][]discount.Discount{"shop-1": {save10()}}},
		orders:    &fakeOrders{byShop: map[string][]order.Order{"shop-1": workedOrders()}},
		sink:      newMemorySink(),
		runLog:    &memoryRunLog{},
	}

	r, err := NewRunner(f.discounts, f.orders, f.sink, Options{
		Retry:          RetryConfig{MaxTries: 3, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond},
		RunLog:         f.runLog,
		TracerProvider: tracenoop.NewTracerProvider(),
		MeterProvider:  metricnoop.NewMeterProvider(),
	})
	require.NoError(t, err)
	r.now = func() time.Time { return fixedAt }
	f.runner = r
	return f
}

// --- Tests ---

func TestNewRunner_RequiresProviders(t *testing.T) {
	_, err := NewRunner(&fakeDiscounts{}, &fakeOrders{}, newMemorySink(), Options{})
	require.Error(t, err)
}

func TestRunDay_WorkedExample(t *testing.T) {
	f := newFixture(t)

	res := f.runner.RunDay(context.Background(), "shop-1", &day2, true)

	require.True(t, res.Success, res.Message)
	assert.Equal(t, 1, res.DiscountsProcessed)
	assert.Equal(t, day2, res.Date)
	assert.Equal(t, 1, f.orders.calls)

	row, ok := f.sink.rows[rowKey{shop: "shop-1", code: "SAVE10", date: day2}]
	require.True(t, ok)
	assert.Equal(t, 2, row.OrdersCount)
	assert.True(t, dec("150.00").Equal(row.TotalOrdersValue))
	assert.True(t, dec("15.00").Equal(row.TotalDiscountAmount))
	assert.True(t, dec("75.00").Equal(row.AverageOrderValue))
	assert.True(t, dec("7.50").Equal(row.AverageDiscountPerOrder))
}

func TestRunDay_DefaultsToYesterday(t *testing.T) {
	f := newFixture(t)

	res := f.runner.RunDay(context.Background(), "shop-1", nil, true)

	require.True(t, res.Success, res.Message)
	assert.Equal(t, civil.Date{Year: 2025, Month: time.November, Day: 4}, res.Date)
}

func TestRunDay_Idempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first := f.runner.RunDay(ctx, "shop-1", &day2, true)
	key := rowKey{shop: "shop-1", code: "SAVE10", date: day2}
	before := f.sink.rows[key]

	second := f.runner.RunDay(ctx, "shop-1", &day2, true)
	after := f.sink.rows[key]

	require.True(t, first.Success)
	require.True(t, second.Success)
	assert.Len(t, f.sink.rows, 1)

	// Timestamps are refreshed on every run; everything else is stable.
	before.CreatedAt, before.UpdatedAt = time.Time{}, time.Time{}
	after.CreatedAt, after.UpdatedAt = time.Time{}, time.Time{}
	assert.Equal(t, before, after)
}

func TestRunDay_NoDiscountsInScope(t *testing.T) {
	t.Run("empty catalog", func(t *testing.T) {
		f := newFixture(t)
		f.discounts.byShop = map[string][]discount.Discount{}

		res := f.runner.RunDay(context.Background(), "shop-1", &day2, true)

		assert.True(t, res.Success)
		assert.Zero(t, res.DiscountsProcessed)
		assert.Zero(t, f.orders.calls)
		assert.Zero(t, f.sink.calls)
	})
	t.Run("all inactive", func(t *testing.T) {
		f := newFixture(t)
		inactive := save10()
		inactive.Active = false
		f.discounts.byShop["shop-1"] = []discount.Discount{inactive}

		res := f.runner.RunDay(context.Background(), "shop-1", &day2, true)

		assert.True(t, res.Success)
		assert.Zero(t, res.DiscountsProcessed)
		assert.Zero(t, f.sink.calls)
	})
	t.Run("inactive included without filter", func(t *testing.T) {
		f := newFixture(t)
		inactive := save10()
		inactive.Active = false
		f.discounts.byShop["shop-1"] = []discount.Discount{inactive}

		res := f.runner.RunDay(context.Background(), "shop-1", &day2, false)

		assert.True(t, res.Success)
		assert.Equal(t, 1, res.DiscountsProcessed)
	})
}

func TestRunDay_CatalogFailures(t *testing.T) {
	t.Run("fetch error", func(t *testing.T) {
		f := newFixture(t)
		f.discounts.err = errors.New("timeout")

		res := f.runner.RunDay(context.Background(), "shop-1", &day2, true)

		assert.False(t, res.Success)
		assert.Contains(t, res.Message, "fetch discount catalog")
		assert.Contains(t, res.Message, "timeout")
		assert.Equal(t, 3, f.discounts.calls)
		assert.Zero(t, f.sink.calls)
	})
	t.Run("inconclusive empty", func(t *testing.T) {
		f := newFixture(t)
		f.discounts.nilList = true

		res := f.runner.RunDay(context.Background(), "shop-1", &day2, true)

		assert.False(t, res.Success)
		assert.Contains(t, res.Message, "inconclusive")
	})
}

func TestRunDay_OrderFetchFailure(t *testing.T) {
	f := newFixture(t)
	f.orders.err = errors.New("network down")

	res := f.runner.RunDay(context.Background(), "shop-1", &day2, true)

	assert.False(t, res.Success)
	assert.Contains(t, res.Message, "fetch orders")
	assert.Equal(t, 3, f.orders.calls)
}

func TestRunDay_SinkRetrySucceeds(t *testing.T) {
	f := newFixture(t)
	f.sink.failures = 2

	res := f.runner.RunDay(context.Background(), "shop-1", &day2, true)

	require.True(t, res.Success, res.Message)
	assert.Equal(t, 3, f.sink.calls)
	assert.Len(t, f.sink.rows, 1)
	assert.Equal(t, 2, f.sink.rows[rowKey{shop: "shop-1", code: "SAVE10", date: day2}].OrdersCount)
}

func TestRunDay_SinkFailure(t *testing.T) {
	f := newFixture(t)
	f.sink.failDates[day2] = true

	res := f.runner.RunDay(context.Background(), "shop-1", &day2, true)

	assert.False(t, res.Success)
	assert.Contains(t, res.Message, "upsert 1 rows")
	assert.Contains(t, res.Message, "constraint violation")
}

func TestRunDay_CanceledContextIsNotRetried(t *testing.T) {
	f := newFixture(t)
	f.discounts.err = errors.New("canceled upstream")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := f.runner.RunDay(ctx, "shop-1", &day2, true)

	assert.False(t, res.Success)
	assert.LessOrEqual(t, f.discounts.calls, 1)
	require.Len(t, f.runLog.runs, 1)
	assert.Equal(t, StatusError, f.runLog.runs[0].Status)
}

func TestRunDay_PanicBecomesFailedResult(t *testing.T) {
	t.Run("day", func(t *testing.T) {
		f := newFixture(t)
		f.orders.panics = 1

		var res RunResult
		require.NotPanics(t, func() {
			res = f.runner.RunDay(context.Background(), "shop-1", &day2, true)
		})

		assert.False(t, res.Success)
		assert.Regexp(t, "^panic: ", res.Message)
		assert.Contains(t, res.Message, "orders index out of range")
		assert.Equal(t, day2, res.Date)
		assert.Equal(t, "shop-1", res.ShopID)
		assert.Zero(t, f.sink.calls)
		require.Len(t, f.runLog.runs, 1)
		assert.Equal(t, StatusError, f.runLog.runs[0].Status)
		assert.Equal(t, day2, f.runLog.runs[0].Date)
	})
	t.Run("range moves on", func(t *testing.T) {
		f := newFixture(t)
		f.orders.panics = 1
		end := day2.AddDays(1)

		res := f.runner.RunRange(context.Background(), "shop-1", day2, &end, true)

		assert.False(t, res.Success)
		assert.Equal(t, 2, res.DatesProcessed)
		assert.Equal(t, 1, res.Successful)
		assert.Equal(t, 1, res.Failed)
		require.Len(t, res.Results, 2)
		assert.Regexp(t, "^panic: ", res.Results[0].Message)
		assert.True(t, res.Results[1].Success, res.Results[1].Message)
		assert.Equal(t, end, res.Results[1].Date)
		require.Len(t, f.runLog.runs, 2)
	})
}

func TestRunDay_SharedCodeWritesOneRow(t *testing.T) {
	f := newFixture(t)
	retired := save10()
	retired.ID, retired.ExternalID, retired.Active = "disc-0", "499", false
	f.discounts.byShop["shop-1"] = []discount.Discount{retired, save10()}

	res := f.runner.RunDay(context.Background(), "shop-1", &day2, false)

	require.True(t, res.Success, res.Message)
	assert.Equal(t, 1, res.DiscountsProcessed)
	require.Len(t, f.sink.rows, 1)
	row := f.sink.rows[rowKey{shop: "shop-1", code: "SAVE10", date: day2}]
	assert.Equal(t, "disc-1", row.DiscountID)
	assert.Equal(t, 2, row.OrdersCount)
}

func TestRunDay_RecordsRunLog(t *testing.T) {
	f := newFixture(t)

	f.runner.RunDay(context.Background(), "shop-1", &day2, true)
	f.discounts.err = errors.New("boom")
	f.runner.RunDay(context.Background(), "shop-1", &day2, true)

	require.Len(t, f.runLog.runs, 2)
	ok, failed := f.runLog.runs[0], f.runLog.runs[1]
	assert.Equal(t, StatusSuccess, ok.Status)
	assert.Equal(t, 1, ok.DiscountsProcessed)
	assert.Equal(t, day2, ok.Date)
	assert.Equal(t, fixedAt, ok.StartedAt)
	assert.Equal(t, StatusError, failed.Status)
	assert.Contains(t, failed.Message, "boom")
	assert.NotEqual(t, ok.ID, failed.ID)
}

func TestRunRange_ReversedRangeFailsFast(t *testing.T) {
	f := newFixture(t)
	start := civil.Date{Year: 2025, Month: time.November, Day: 3}
	end := civil.Date{Year: 2025, Month: time.November, Day: 1}

	res := f.runner.RunRange(context.Background(), "shop-1", start, &end, true)

	assert.False(t, res.Success)
	assert.Zero(t, res.DatesProcessed)
	assert.Empty(t, res.Results)
	assert.Contains(t, res.Message, "after end date")
	assert.Zero(t, f.discounts.calls)
}

func TestRunRange_ContinuesPastFailedDay(t *testing.T) {
	f := newFixture(t)
	start := civil.Date{Year: 2025, Month: time.November, Day: 1}
	end := civil.Date{Year: 2025, Month: time.November, Day: 3}
	f.sink.failDates[day2] = true

	res := f.runner.RunRange(context.Background(), "shop-1", start, &end, true)

	assert.False(t, res.Success)
	assert.Equal(t, 3, res.DatesProcessed)
	assert.Equal(t, 2, res.Successful)
	assert.Equal(t, 1, res.Failed)
	require.Len(t, res.Results, 3)
	assert.Equal(t, start, res.Results[0].Date)
	assert.Equal(t, day2, res.Results[1].Date)
	assert.False(t, res.Results[1].Success)
	assert.Equal(t, end, res.Results[2].Date)
	assert.Len(t, f.sink.rows, 2)
}

func TestRunRange_SingleDay(t *testing.T) {
	f := newFixture(t)

	res := f.runner.RunRange(context.Background(), "shop-1", day2, &day2, true)

	assert.True(t, res.Success)
	assert.Equal(t, 1, res.DatesProcessed)
}

func TestRunRange_DefaultEndIsYesterday(t *testing.T) {
	f := newFixture(t)
	start := civil.Date{Year: 2025, Month: time.November, Day: 2}

	res := f.runner.RunRange(context.Background(), "shop-1", start, nil, true)

	require.True(t, res.Success, res.Message)
	assert.Equal(t, 3, res.DatesProcessed)
	assert.Equal(t, civil.Date{Year: 2025, Month: time.November, Day: 4}, res.Results[2].Date)
}

func TestRunRange_StopsWhenCanceled(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	end := day2.AddDays(2)

	res := f.runner.RunRange(ctx, "shop-1", day2, &end, true)

	assert.False(t, res.Success)
	assert.Zero(t, res.DatesProcessed)
	assert.Contains(t, res.Message, "stopped before")
}

func TestRunShops(t *testing.T) {
	f := newFixture(t)
	other := save10()
	other.ShopID = "shop-2"
	f.discounts.byShop["shop-2"] = []discount.Discount{other}
	f.orders.byShop["shop-2"] = workedOrders()[:1]
	f.discounts.byShop["shop-3"] = []discount.Discount{}

	results := f.runner.RunShops(context.Background(), []string{"shop-1", "shop-2", "shop-3"}, &day2, true, 2)

	require.Len(t, results, 3)
	for i, shop := range []string{"shop-1", "shop-2", "shop-3"} {
		assert.Equal(t, shop, results[i].ShopID)
		assert.True(t, results[i].Success, results[i].Message)
	}
	assert.Equal(t, 1, f.sink.rows[rowKey{shop: "shop-2", code: "SAVE10", date: day2}].OrdersCount)
	assert.Zero(t, results[2].DiscountsProcessed)
}
