package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JourneymanNYC/promowell-shopify/internal/pipeline"
)

const (
	insertRunSQL = `INSERT INTO discount_metrics_runs (run_id, shop_id, date, status,
		discounts_processed, message, started_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	lastSuccessfulRunSQL = `SELECT MAX(finished_at) FROM discount_metrics_runs
		WHERE status = $1`
)

var _ pipeline.RunLog = (*RunLogRepository)(nil)

// RunLogRepository stores the outcome of every day run.
type RunLogRepository struct {
	pool *pgxpool.Pool
}

// NewRunLogRepository returns a RunLogRepository that uses the given pool.
func NewRunLogRepository(pool *pgxpool.Pool) *RunLogRepository {
	return &RunLogRepository{pool: pool}
}

// Record appends a run log entry.
func (r *RunLogRepository) Record(ctx context.Context, run pipeline.Run) error {
	_, err := r.pool.Exec(ctx, insertRunSQL,
		run.ID, run.ShopID, run.Date.In(time.UTC), run.Status,
		run.DiscountsProcessed, run.Message, run.StartedAt, run.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("recording run %s: %w", run.ID, err)
	}
	return nil
}

// LastSuccess returns when the most recent successful run finished. ok is
// false when no run succeeded yet.
func (r *RunLogRepository) LastSuccess(ctx context.Context) (t time.Time, ok bool, err error) {
	var finished *time.Time
	if err := r.pool.QueryRow(ctx, lastSuccessfulRunSQL, pipeline.StatusSuccess).Scan(&finished); err != nil {
		return time.Time{}, false, fmt.Errorf("querying last successful run: %w", err)
	}
	if finished == nil {
		return time.Time{}, false, nil
	}
	return *finished, true, nil
}
