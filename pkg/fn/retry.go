package fn

import (
	"context"
	"math/rand"
	"time"
)

// RetryOpts controls Retry. The wait doubles after each failure, capped at
// MaxWait when that is set.
type RetryOpts struct {
	MaxAttempts int
	InitialWait time.Duration
	MaxWait     time.Duration
	Jitter      bool
	// Retryable, when set, reports whether a failure is worth another
	// attempt. A nil Retryable retries every failure.
	Retryable func(error) bool
}

// DefaultRetry waits 10s between attempts, the pause the NVD API asks for
// after a failed page.
var DefaultRetry = RetryOpts{
	MaxAttempts: 3,
	InitialWait: 10 * time.Second,
	MaxWait:     30 * time.Second,
}

func (o RetryOpts) capped(wait time.Duration) time.Duration {
	if o.MaxWait > 0 && wait > o.MaxWait {
		return o.MaxWait
	}
	return wait
}

func (o RetryOpts) sleepFor(wait time.Duration) time.Duration {
	if o.Jitter {
		wait = time.Duration(float64(wait) * (0.5 + rand.Float64()))
	}
	return o.capped(wait)
}

// Retry calls f until it succeeds, the attempts run out, a failure is not
// retryable, or ctx is done. It returns the last Result, or ctx.Err() when
// cancelled while waiting.
func Retry[T any](ctx context.Context, opts RetryOpts, f func(context.Context) Result[T]) Result[T] {
	attempts := max(opts.MaxAttempts, 1)
	wait := opts.InitialWait

	for n := 1; ; n++ {
		res := f(ctx)
		if res.ok || n == attempts {
			return res
		}
		if opts.Retryable != nil && !opts.Retryable(res.err) {
			return res
		}

		t := time.NewTimer(opts.sleepFor(wait))
		select {
		case <-ctx.Done():
			t.Stop()
			return Err[T](ctx.Err())
		case <-t.C:
		}
		wait = opts.capped(wait * 2)
	}
}
