package resilience

import (
	"context"
	"errors"
	"time"
)

// SleepOn returns a copy of cfg whose backoff sleeps end when ctx is done,
// whatever context the attempts themselves run on.
func (cfg RetryConfig) SleepOn(ctx context.Context) RetryConfig {
	sleep := cfg.Sleep
	if sleep == nil {
		sleep = SleepContext
	}
	cfg.Sleep = func(_ context.Context, d time.Duration) error { return sleep(ctx, d) }
	return cfg
}

// WithTimeout runs fn under a per-request timeout. A call cut short by the
// timeout is reported as transient so the retry policy picks it up.
func WithTimeout[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	val, err := fn(reqCtx)
	if err != nil && errors.Is(reqCtx.Err(), context.DeadlineExceeded) {
		return val, NewTransientError(err, 0)
	}
	return val, err
}
