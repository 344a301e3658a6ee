package wait

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestUntil(t *testing.T) {
	t.Run("returns immediately when the condition already holds", func(t *testing.T) {
		var calls int32
		start := time.Now()
		err := Until(context.Background(), time.Hour, time.Minute, func(context.Context) (bool, error) {
			atomic.AddInt32(&calls, 1)
			return true, nil
		})
		require.NoError(t, err)
		assert.EqualValues(t, 1, calls)
		assert.Less(t, time.Since(start), time.Second)
	})

	t.Run("polls until the condition holds", func(t *testing.T) {
		var calls int32
		err := Until(context.Background(), 5*time.Millisecond, 2*time.Second, func(context.Context) (bool, error) {
			return atomic.AddInt32(&calls, 1) >= 3, nil
		})
		require.NoError(t, err)
		assert.EqualValues(t, 3, calls)
	})

	t.Run("times out", func(t *testing.T) {
		err := Until(context.Background(), 5*time.Millisecond, 30*time.Millisecond, func(context.Context) (bool, error) {
			return false, nil
		})
		assert.ErrorIs(t, err, ErrTimeout)
	})

	t.Run("parent cancellation wins over timeout", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		go func() {
			time.Sleep(20 * time.Millisecond)
			cancel()
		}()
		err := Until(ctx, 5*time.Millisecond, time.Minute, func(context.Context) (bool, error) {
			return false, nil
		})
		assert.ErrorIs(t, err, context.Canceled)
		assert.NotErrorIs(t, err, ErrTimeout)
	})

	t.Run("condition error aborts the wait", func(t *testing.T) {
		boom := errors.New("boom")
		err := Until(context.Background(), 5*time.Millisecond, time.Minute, func(context.Context) (bool, error) {
			return false, boom
		})
		assert.ErrorIs(t, err, boom)
	})

	t.Run("condition error after the deadline reads as timeout", func(t *testing.T) {
		err := Until(context.Background(), time.Millisecond, 20*time.Millisecond, func(ctx context.Context) (bool, error) {
			<-ctx.Done()
			return false, ctx.Err()
		})
		assert.ErrorIs(t, err, ErrTimeout)
	})
}

func TestRetry(t *testing.T) {
	t.Run("stops on first success", func(t *testing.T) {
		var seen []int
		err := Retry(context.Background(), 5, time.Millisecond, func(_ context.Context, attempt int) error {
			seen = append(seen, attempt)
			if attempt < 2 {
				return errors.New("not yet")
			}
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, []int{1, 2}, seen)
	})

	t.Run("returns the last error after all attempts", func(t *testing.T) {
		calls := 0
		err := Retry(context.Background(), 3, time.Millisecond, func(_ context.Context, attempt int) error {
			calls++
			return errors.New("attempt failed")
		})
		require.Error(t, err)
		assert.Equal(t, "attempt failed", err.Error())
		assert.Equal(t, 3, calls)
	})

	t.Run("permanent errors are not retried", func(t *testing.T) {
		fatal := errors.New("fatal")
		calls := 0
		err := Retry(context.Background(), 5, time.Millisecond, func(context.Context, int) error {
			calls++
			return Permanent(fatal)
		})
		assert.ErrorIs(t, err, fatal)
		assert.Equal(t, 1, calls)
	})

	t.Run("non-positive attempts run once", func(t *testing.T) {
		calls := 0
		_ = Retry(context.Background(), 0, time.Millisecond, func(context.Context, int) error {
			calls++
			return errors.New("x")
		})
		assert.Equal(t, 1, calls)
	})

	t.Run("cancelled context stops retries", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		calls := 0
		err := Retry(ctx, 10, time.Hour, func(context.Context, int) error {
			calls++
			cancel()
			return errors.New("x")
		})
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 1, calls)
	})
}

func TestSleep(t *testing.T) {
	require.NoError(t, Sleep(context.Background(), time.Millisecond))
	require.NoError(t, Sleep(context.Background(), 0))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, Sleep(ctx, time.Hour), context.Canceled)
}

func TestUntilParentDeadline(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	err := Until(ctx, 7*time.Millisecond, time.Minute, func(context.Context) (bool, error) {
		return false, nil
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.NotErrorIs(t, err, ErrTimeout)
}
