package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JourneymanNYC/promowell-shopify/internal/domain/order"
)

const (
	listOrdersByShopSQL = `SELECT id, shop_id, processed_at, order_created_at,
		total_price, total_discounts, discount_id, discount_codes, raw_data
		FROM shopify_orders_raw WHERE shop_id = $1 ORDER BY id`

	upsertOrderSQL = `INSERT INTO shopify_orders_raw (id, shop_id, processed_at, order_created_at,
		total_price, total_discounts, discount_id, discount_codes, raw_data, ingested_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW())
		ON CONFLICT (id) DO UPDATE SET
			shop_id = EXCLUDED.shop_id,
			processed_at = EXCLUDED.processed_at,
			order_created_at = EXCLUDED.order_created_at,
			total_price = EXCLUDED.total_price,
			total_discounts = EXCLUDED.total_discounts,
			discount_id = EXCLUDED.discount_id,
			discount_codes = EXCLUDED.discount_codes,
			raw_data = EXCLUDED.raw_data,
			ingested_at = NOW()`
)

var (
	_ order.Repository = (*OrderRepository)(nil)
	_ order.Writer     = (*OrderRepository)(nil)
)

// OrderRepository reads and writes raw platform orders.
type OrderRepository struct {
	pool *pgxpool.Pool
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

// ListByShop returns all raw orders of the shop. Orders are not filtered by
// date; the aggregator applies the day window.
func (r *OrderRepository) ListByShop(ctx context.Context, shopID string) ([]order.Order, error) {
	rows, err := r.pool.Query(ctx, listOrdersByShopSQL, shopID)
	if err != nil {
		return nil, fmt.Errorf("listing orders for shop %q: %w", shopID, err)
	}
	list, err := pgx.CollectRows(rows, scanOrder)
	if err != nil {
		return nil, fmt.Errorf("listing orders for shop %q: %w", shopID, err)
	}
	return list, nil
}

// UpsertOrders inserts or replaces orders by ID in one batch. Empty strings
// are stored as NULL for the timestamp and amount columns.
func (r *OrderRepository) UpsertOrders(ctx context.Context, orders []order.Order) error {
	if len(orders) == 0 {
		return nil
	}

	b := &pgx.Batch{}
	for _, o := range orders {
		codes := o.DiscountCodes
		if codes == nil {
			codes = []string{}
		}
		b.Queue(upsertOrderSQL,
			o.ID, o.ShopID,
			nullText(o.ProcessedAt), nullText(o.CreatedAt),
			nullText(o.TotalPrice), nullText(o.TotalDiscounts),
			o.DiscountID, codes, o.RawData,
		)
	}
	if err := r.pool.SendBatch(ctx, b).Close(); err != nil {
		return fmt.Errorf("upserting %d orders: %w", len(orders), err)
	}
	return nil
}

func scanOrder(row pgx.CollectableRow) (order.Order, error) {
	var (
		o                                           order.Order
		processedAt, createdAt, price, discountsAmt pgtype.Text
	)
	err := row.Scan(
		&o.ID, &o.ShopID, &processedAt, &createdAt,
		&price, &discountsAmt, &o.DiscountID, &o.DiscountCodes, &o.RawData,
	)
	o.ProcessedAt = processedAt.String
	o.CreatedAt = createdAt.String
	o.TotalPrice = price.String
	o.TotalDiscounts = discountsAmt.String
	return o, err
}

func nullText(s string) pgtype.Text {
	return pgtype.Text{String: s, Valid: s != ""}
}
