package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	listActiveShopsSQL = `SELECT id FROM shops WHERE is_active = TRUE ORDER BY id`

	registerShopSQL = `INSERT INTO shops (id, shop_domain) VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET shop_domain = EXCLUDED.shop_domain, is_active = TRUE`
)

// ShopRepository lists the shops the scheduled runs cover.
type ShopRepository struct {
	pool *pgxpool.Pool
}

// NewShopRepository returns a ShopRepository that uses the given pool.
func NewShopRepository(pool *pgxpool.Pool) *ShopRepository {
	return &ShopRepository{pool: pool}
}

// ListActive returns the IDs of active shops in ascending order.
func (r *ShopRepository) ListActive(ctx context.Context) ([]string, error) {
	rows, err := r.pool.Query(ctx, listActiveShopsSQL)
	if err != nil {
		return nil, fmt.Errorf("listing active shops: %w", err)
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

// Register creates the shop or reactivates it under the given domain.
func (r *ShopRepository) Register(ctx context.Context, id, domain string) error {
	if _, err := r.pool.Exec(ctx, registerShopSQL, id, domain); err != nil {
		return fmt.Errorf("registering shop %q: %w", id, err)
	}
	return nil
}
