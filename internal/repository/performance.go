package repository

import (
	"context"
	"fmt"
	"sort"
	"time"

	"cloud.google.com/go/civil"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JourneymanNYC/promowell-shopify/internal/domain/metrics"
)

const (
	// lockShopDaySQL serializes writers of the same (shop, date) until the
	// transaction ends.
	lockShopDaySQL = `SELECT pg_advisory_xact_lock(hashtextextended($1::text || ':' || $2::text, 0))`

	upsertPerformanceSQL = `INSERT INTO discount_performance (
			id, shop_id, discount_code, discount_id, shopify_discount_id, title,
			discount_type, is_automatic, date,
			orders_count, total_orders_value, total_discount_amount,
			average_order_value, average_discount_per_order,
			unique_customers, new_customers, returning_customers,
			online_orders_count, pos_orders_count,
			revenue_impact, profit_impact, conversion_rate,
			created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12,
			$13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23, $24)
		ON CONFLICT ON CONSTRAINT uq_discount_performance_key DO UPDATE SET
			discount_id = EXCLUDED.discount_id,
			shopify_discount_id = EXCLUDED.shopify_discount_id,
			title = EXCLUDED.title,
			discount_type = EXCLUDED.discount_type,
			is_automatic = EXCLUDED.is_automatic,
			orders_count = EXCLUDED.orders_count,
			total_orders_value = EXCLUDED.total_orders_value,
			total_discount_amount = EXCLUDED.total_discount_amount,
			average_order_value = EXCLUDED.average_order_value,
			average_discount_per_order = EXCLUDED.average_discount_per_order,
			unique_customers = EXCLUDED.unique_customers,
			new_customers = EXCLUDED.new_customers,
			returning_customers = EXCLUDED.returning_customers,
			online_orders_count = EXCLUDED.online_orders_count,
			pos_orders_count = EXCLUDED.pos_orders_count,
			revenue_impact = EXCLUDED.revenue_impact,
			profit_impact = EXCLUDED.profit_impact,
			conversion_rate = EXCLUDED.conversion_rate,
			updated_at = EXCLUDED.updated_at`

	listPerformanceSQL = `SELECT id, shop_id, discount_code, discount_id, shopify_discount_id,
		title, discount_type, is_automatic, date,
		orders_count, total_orders_value, total_discount_amount,
		average_order_value, average_discount_per_order,
		unique_customers, new_customers, returning_customers,
		online_orders_count, pos_orders_count,
		revenue_impact, profit_impact, conversion_rate,
		created_at, updated_at
		FROM discount_performance WHERE shop_id = $1 AND date = $2
		ORDER BY discount_code`
)

var _ metrics.Sink = (*PerformanceRepository)(nil)

// PerformanceRepository is the metrics sink backed by the
// discount_performance table.
type PerformanceRepository struct {
	pool *pgxpool.Pool
}

// NewPerformanceRepository returns a PerformanceRepository that uses the given pool.
func NewPerformanceRepository(pool *pgxpool.Pool) *PerformanceRepository {
	return &PerformanceRepository{pool: pool}
}

type shopDay struct {
	shopID string
	date   civil.Date
}

// Upsert writes rows in one transaction. The advisory locks of every
// (shop, date) in the batch are taken first, in key order, so concurrent runs
// for the same key apply one after another. Existing rows keep their id and
// created_at.
func (r *PerformanceRepository) Upsert(ctx context.Context, rows []metrics.Row) (metrics.UpsertResult, error) {
	if len(rows) == 0 {
		return metrics.UpsertResult{Message: "no rows to write"}, nil
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return metrics.UpsertResult{}, fmt.Errorf("beginning upsert transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, key := range lockKeys(rows) {
		if _, err := tx.Exec(ctx, lockShopDaySQL, key.shopID, key.date.String()); err != nil {
			return metrics.UpsertResult{}, fmt.Errorf("locking shop %q on %s: %w", key.shopID, key.date, err)
		}
	}

	b := &pgx.Batch{}
	for _, row := range rows {
		b.Queue(upsertPerformanceSQL,
			row.ID, row.ShopID, row.DiscountCode, row.DiscountID, row.DiscountExternalID, row.Title,
			row.DiscountType, row.Automatic, row.Date.In(time.UTC),
			row.OrdersCount, row.TotalOrdersValue, row.TotalDiscountAmount,
			row.AverageOrderValue, row.AverageDiscountPerOrder,
			row.UniqueCustomers, row.NewCustomers, row.ReturningCustomers,
			row.OnlineOrdersCount, row.POSOrdersCount,
			row.RevenueImpact, row.ProfitImpact, row.ConversionRate,
			row.CreatedAt, row.UpdatedAt,
		)
	}
	if err := tx.SendBatch(ctx, b).Close(); err != nil {
		return metrics.UpsertResult{}, fmt.Errorf("upserting %d performance rows: %w", len(rows), err)
	}

	if err := tx.Commit(ctx); err != nil {
		return metrics.UpsertResult{}, fmt.Errorf("committing upsert: %w", err)
	}
	return metrics.UpsertResult{
		Count:   len(rows),
		Message: fmt.Sprintf("upserted %d rows", len(rows)),
	}, nil
}

// ListByShopDay returns the stored rows of one shop and day ordered by code.
func (r *PerformanceRepository) ListByShopDay(ctx context.Context, shopID string, date civil.Date) ([]metrics.Row, error) {
	rows, err := r.pool.Query(ctx, listPerformanceSQL, shopID, date.In(time.UTC))
	if err != nil {
		return nil, fmt.Errorf("listing performance for shop %q on %s: %w", shopID, date, err)
	}
	return pgx.CollectRows(rows, scanPerformanceRow)
}

func lockKeys(rows []metrics.Row) []shopDay {
	seen := make(map[shopDay]struct{})
	var keys []shopDay
	for _, row := range rows {
		key := shopDay{shopID: row.ShopID, date: row.Date}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].shopID != keys[j].shopID {
			return keys[i].shopID < keys[j].shopID
		}
		return keys[i].date.Before(keys[j].date)
	})
	return keys
}

func scanPerformanceRow(row pgx.CollectableRow) (metrics.Row, error) {
	var (
		r    metrics.Row
		date time.Time
	)
	err := row.Scan(
		&r.ID, &r.ShopID, &r.DiscountCode, &r.DiscountID, &r.DiscountExternalID,
		&r.Title, &r.DiscountType, &r.Automatic, &date,
		&r.OrdersCount, &r.TotalOrdersValue, &r.TotalDiscountAmount,
		&r.AverageOrderValue, &r.AverageDiscountPerOrder,
		&r.UniqueCustomers, &r.NewCustomers, &r.ReturningCustomers,
		&r.OnlineOrdersCount, &r.POSOrdersCount,
		&r.RevenueImpact, &r.ProfitImpact, &r.ConversionRate,
		&r.CreatedAt, &r.UpdatedAt,
	)
	r.Date = civil.DateOf(date)
	return r, err
}
