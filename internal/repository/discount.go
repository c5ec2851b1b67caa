package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JourneymanNYC/promowell-shopify/internal/domain/discount"
)

const (
	listDiscountsByShopSQL = `SELECT id, shop_id, shopify_discount_id, code, title,
		discount_type, percentage, is_automatic, active
		FROM shopify_discounts_raw WHERE shop_id = $1 ORDER BY id`

	upsertDiscountSQL = `INSERT INTO shopify_discounts_raw (id, shop_id, shopify_discount_id, code,
		title, discount_type, percentage, is_automatic, active, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW())
		ON CONFLICT (id) DO UPDATE SET
			shop_id = EXCLUDED.shop_id,
			shopify_discount_id = EXCLUDED.shopify_discount_id,
			code = EXCLUDED.code,
			title = EXCLUDED.title,
			discount_type = EXCLUDED.discount_type,
			percentage = EXCLUDED.percentage,
			is_automatic = EXCLUDED.is_automatic,
			active = EXCLUDED.active,
			updated_at = NOW()`
)

var (
	_ discount.Repository = (*DiscountRepository)(nil)
	_ discount.Writer     = (*DiscountRepository)(nil)
)

// DiscountRepository reads and writes the raw discount catalog.
type DiscountRepository struct {
	pool *pgxpool.Pool
}

// NewDiscountRepository returns a DiscountRepository that uses the given pool.
func NewDiscountRepository(pool *pgxpool.Pool) *DiscountRepository {
	return &DiscountRepository{pool: pool}
}

// ListByShop returns every discount of the shop, active or not. The result
// is never nil on success.
func (r *DiscountRepository) ListByShop(ctx context.Context, shopID string) ([]discount.Discount, error) {
	rows, err := r.pool.Query(ctx, listDiscountsByShopSQL, shopID)
	if err != nil {
		return nil, fmt.Errorf("listing discounts for shop %q: %w", shopID, err)
	}
	list, err := pgx.CollectRows(rows, scanDiscount)
	if err != nil {
		return nil, fmt.Errorf("listing discounts for shop %q: %w", shopID, err)
	}
	if list == nil {
		list = []discount.Discount{}
	}
	return list, nil
}

// UpsertDiscounts inserts or replaces discounts by ID in one batch.
func (r *DiscountRepository) UpsertDiscounts(ctx context.Context, discounts []discount.Discount) error {
	if len(discounts) == 0 {
		return nil
	}

	b := &pgx.Batch{}
	for _, d := range discounts {
		b.Queue(upsertDiscountSQL,
			d.ID, d.ShopID, d.ExternalID, d.Code, d.Title,
			string(d.Type), d.Percentage, d.Automatic, d.Active,
		)
	}
	if err := r.pool.SendBatch(ctx, b).Close(); err != nil {
		return fmt.Errorf("upserting %d discounts: %w", len(discounts), err)
	}
	return nil
}

func scanDiscount(row pgx.CollectableRow) (discount.Discount, error) {
	var (
		d     discount.Discount
		dType string
	)
	err := row.Scan(
		&d.ID, &d.ShopID, &d.ExternalID, &d.Code, &d.Title,
		&dType, &d.Percentage, &d.Automatic, &d.Active,
	)
	d.Type = discount.Type(dType)
	return d, err
}
