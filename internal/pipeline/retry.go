package pipeline

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"
)

// RetryConfig bounds retries of remote calls (catalog fetch, order fetch,
// upsert).
type RetryConfig struct {
	MaxTries        uint          `default:"3"     usage:"Attempts per remote call, including the first"`
	InitialInterval time.Duration `default:"500ms" usage:"Delay before the first retry" flag:"retry-initial-interval"`
	MaxInterval     time.Duration `default:"10s"   usage:"Upper bound for the delay between retries" flag:"retry-max-interval"`
}

func (c RetryConfig) withDefaults() RetryConfig {
	if c.MaxTries == 0 {
		c.MaxTries = 3
	}
	if c.InitialInterval <= 0 {
		c.InitialInterval = 500 * time.Millisecond
	}
	if c.MaxInterval < c.InitialInterval {
		c.MaxInterval = c.InitialInterval
	}
	return c
}

// retry runs fn until it succeeds, the attempts are exhausted or ctx is done.
// Errors observed after ctx is done are returned without further attempts.
func retry[T any](ctx context.Context, cfg RetryConfig, lg *zap.Logger, op string, fn func() (T, error)) (T, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = cfg.InitialInterval
	b.MaxInterval = cfg.MaxInterval

	return backoff.Retry(ctx, func() (T, error) {
		v, err := fn()
		if err != nil && ctx.Err() != nil {
			return v, backoff.Permanent(err)
		}
		return v, err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(cfg.MaxTries),
		backoff.WithNotify(func(err error, next time.Duration) {
			lg.Warn("Retrying",
				zap.String("op", op),
				zap.Duration("backoff", next),
				zap.Error(err),
			)
		}),
	)
}
