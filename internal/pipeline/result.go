package pipeline

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"
)

// RunResult is the outcome of aggregating one shop for one day.
type RunResult struct {
	Success            bool
	ShopID             string
	Date               civil.Date
	DiscountsProcessed int
	Message            string
}

// RangeResult is the outcome of running a span of days for one shop.
type RangeResult struct {
	Success        bool
	ShopID         string
	DatesProcessed int
	Successful     int
	Failed         int
	Results        []RunResult
	Message        string
}

// Run statuses stored in the run log.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Run is a run log entry.
type Run struct {
	ID                 uuid.UUID
	ShopID             string
	Date               civil.Date
	Status             string
	DiscountsProcessed int
	Message            string
	StartedAt          time.Time
	FinishedAt         time.Time
}

// RunLog records the outcome of every day run.
type RunLog interface {
	Record(ctx context.Context, run Run) error
}

// SinkWriteError reports a failed upsert of a day's rows.
type SinkWriteError struct {
	ShopID string
	Date   civil.Date
	Rows   int
	Err    error
}

func (e *SinkWriteError) Error() string {
	return fmt.Sprintf("upsert %d rows for shop %s on %s: %v", e.Rows, e.ShopID, e.Date, e.Err)
}

func (e *SinkWriteError) Unwrap() error {
	return e.Err
}

// RangeError reports an invalid day range.
type RangeError struct {
	Start civil.Date
	End   civil.Date
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("start date %s is after end date %s", e.Start, e.End)
}
