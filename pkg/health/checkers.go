package health

import (
	"context"
	"runtime"
	"time"

	"github.com/go-faster/errors"
)

// GoroutineCountCheck fails when more than limit goroutines are running.
func GoroutineCountCheck(limit int) CheckFunc {
	return func(_ context.Context) error {
		if n := runtime.NumGoroutine(); n > limit {
			return errors.Errorf("goroutine count %d exceeds threshold %d", n, limit)
		}
		return nil
	}
}

// Pinger is implemented by *pgxpool.Pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingCheck fails when p cannot be reached.
func PingCheck(p Pinger) CheckFunc {
	return func(ctx context.Context) error {
		if err := p.Ping(ctx); err != nil {
			return errors.Wrap(err, "ping")
		}
		return nil
	}
}

// LastSuccessFunc returns when work last completed successfully. ok is false
// when nothing has completed yet.
type LastSuccessFunc func(ctx context.Context) (t time.Time, ok bool, err error)

// FreshnessCheck fails when the last success is older than maxAge. Having
// no success recorded yet is not a failure.
func FreshnessCheck(maxAge time.Duration, now func() time.Time, last LastSuccessFunc) CheckFunc {
	return func(ctx context.Context) error {
		t, ok, err := last(ctx)
		if err != nil {
			return errors.Wrap(err, "last success")
		}
		if !ok {
			return nil
		}
		if age := now().Sub(t); age > maxAge {
			return errors.Errorf("last success %s ago exceeds %s", age.Round(time.Second), maxAge)
		}
		return nil
	}
}
