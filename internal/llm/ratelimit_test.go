package llm

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateLimiter(t *testing.T) {
	t.Run("allows burst up to capacity", func(t *testing.T) {
		rl := newRateLimiter(10)
		ctx := context.Background()

		for i := 0; i < 10; i++ {
			require.NoError(t, rl.wait(ctx))
		}

		ok, retry := rl.tryAcquire()
		assert.False(t, ok)
		assert.Greater(t, retry, time.Duration(0))
	})

	t.Run("context cancellation", func(t *testing.T) {
		rl := newRateLimiter(1)
		require.NoError(t, rl.wait(context.Background()))

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() {
			done <- rl.wait(ctx)
		}()

		time.Sleep(10 * time.Millisecond)
		cancel()

		err := <-done
		require.Error(t, err)
		assert.Contains(t, err.Error(), "rate limiter canceled")
	})

	t.Run("reset refills the bucket", func(t *testing.T) {
		rl := newRateLimiter(3)
		for i := 0; i < 3; i++ {
			ok, _ := rl.tryAcquire()
			require.True(t, ok)
		}

		ok, _ := rl.tryAcquire()
		assert.False(t, ok)

		rl.reset()

		ok, _ = rl.tryAcquire()
		assert.True(t, ok)
	})

	t.Run("default rate limit", func(t *testing.T) {
		rl := newRateLimiter(0)
		for i := 0; i < 50; i++ {
			ok, _ := rl.tryAcquire()
			require.True(t, ok, "expected default rate limit to allow many requests")
		}
	})

	t.Run("tokens replenish over time", func(t *testing.T) {
		rl := newRateLimiter(6000) // 100 per second
		for {
			ok, _ := rl.tryAcquire()
			if !ok {
				break
			}
		}

		time.Sleep(50 * time.Millisecond)

		ok, _ := rl.tryAcquire()
		assert.True(t, ok, "expected refill after waiting")
	})
}
