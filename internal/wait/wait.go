// Package wait holds the polling and retry primitives the form driver
// waits with.
package wait

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"
)

// ErrTimeout is returned by Until when the condition did not hold before the deadline.
var ErrTimeout = errors.New("condition not met before timeout")

// DefaultInterval is used by Until when a non-positive interval is given.
const DefaultInterval = 100 * time.Millisecond

// Condition reports whether the awaited state has been reached. A non-nil
// error aborts the wait.
type Condition func(ctx context.Context) (bool, error)

// Until evaluates cond immediately and then at most once per interval until it
// returns true. A zero timeout waits until ctx is done. It returns nil on
// success, ErrTimeout when the timeout elapses, ctx.Err() when the parent
// context ends, or the condition's own error.
func Until(ctx context.Context, interval, timeout time.Duration, cond Condition) error {
	parent := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	if interval <= 0 {
		interval = DefaultInterval
	}

	limiter := rate.NewLimiter(rate.Every(interval), 1)
	for {
		if err := limiter.Wait(ctx); err != nil {
			// The limiter refuses up front when the next slot lies past the
			// deadline; let the deadline pass so the parent's state is settled.
			<-ctx.Done()
			return expired(parent)
		}
		ok, err := cond(ctx)
		if ok {
			return nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return expired(parent)
			}
			return err
		}
	}
}

func expired(parent context.Context) error {
	if err := parent.Err(); err != nil {
		return err
	}
	return ErrTimeout
}

// Operation is one attempt of a retried action. attempt starts at 1.
type Operation func(ctx context.Context, attempt int) error

// Retry runs op up to attempts times, pausing delay between failures. It
// stops early when op succeeds, when op returns an error wrapped with
// Permanent, or when ctx ends. The last error is returned.
func Retry(ctx context.Context, attempts int, delay time.Duration, op Operation) error {
	if attempts < 1 {
		attempts = 1
	}
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(delay), uint64(attempts-1)),
		ctx,
	)

	attempt := 0
	return backoff.Retry(func() error {
		attempt++
		return op(ctx, attempt)
	}, policy)
}

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// Sleep pauses for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
