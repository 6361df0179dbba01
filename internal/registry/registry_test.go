package registry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastSettings() Settings {
	return Settings{
		Breaker: BreakerSettings{FailureThreshold: 3, RecoveryTimeout: 50 * time.Millisecond},
		Limiter: LimiterSettings{Rate: 1000, Burst: 1000},
		Pool:    PoolSettings{Size: 2, AcquireTimeout: 20 * time.Millisecond},
	}
}

func TestRegistry_SameKeySameTriple(t *testing.T) {
	reg := New(fastSettings())

	a := reg.Get("data", "key-1")
	b := reg.Get("data", "key-1")
	c := reg.Get("data", "key-2")

	assert.Same(t, a, b)
	assert.NotSame(t, a, c)
}

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	reg := New(fastSettings())
	triple := reg.Get("venue", "k")
	ctx := context.Background()

	boom := errors.New("venue 500")
	for i := 0; i < 3; i++ {
		_, err := triple.Breaker.Execute(ctx, func() (interface{}, error) {
			return nil, boom
		})
		require.Error(t, err)
	}

	assert.Equal(t, gobreaker.StateOpen, triple.Breaker.State())

	_, err := triple.Breaker.Execute(ctx, func() (interface{}, error) {
		t.Fatal("call should not be admitted while open")
		return nil, nil
	})

	var open *CircuitOpenError
	require.ErrorAs(t, err, &open)
	assert.Equal(t, boom, open.LastErr)
	assert.Equal(t, uint32(3), open.Failures)
	assert.False(t, open.OpenedAt.IsZero())
}

func TestBreaker_HalfOpenSingleProbe(t *testing.T) {
	reg := New(fastSettings())
	triple := reg.Get("venue", "probe")
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		triple.Breaker.Execute(ctx, func() (interface{}, error) {
			return nil, errors.New("down")
		})
	}
	require.Equal(t, gobreaker.StateOpen, triple.Breaker.State())

	time.Sleep(60 * time.Millisecond)

	t.Run("probe failure reopens", func(t *testing.T) {
		_, err := triple.Breaker.Execute(ctx, func() (interface{}, error) {
			return nil, errors.New("still down")
		})
		require.Error(t, err)
		assert.Equal(t, gobreaker.StateOpen, triple.Breaker.State())
	})

	time.Sleep(60 * time.Millisecond)

	t.Run("probe success closes", func(t *testing.T) {
		res, err := triple.Breaker.Execute(ctx, func() (interface{}, error) {
			return "ok", nil
		})
		require.NoError(t, err)
		assert.Equal(t, "ok", res)
		assert.Equal(t, gobreaker.StateClosed, triple.Breaker.State())
	})
}

func TestBreaker_SuccessResetsFailures(t *testing.T) {
	reg := New(fastSettings())
	triple := reg.Get("venue", "reset")
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		triple.Breaker.Execute(ctx, func() (interface{}, error) {
			return nil, errors.New("flaky")
		})
	}
	_, err := triple.Breaker.Execute(ctx, func() (interface{}, error) {
		return "ok", nil
	})
	require.NoError(t, err)

	// Two more failures should not trip a threshold of three.
	for i := 0; i < 2; i++ {
		triple.Breaker.Execute(ctx, func() (interface{}, error) {
			return nil, errors.New("flaky")
		})
	}
	assert.Equal(t, gobreaker.StateClosed, triple.Breaker.State())
}

func TestLimiter_Wait(t *testing.T) {
	reg := New(Settings{
		Breaker: DefaultBreakerSettings(),
		Limiter: LimiterSettings{Rate: 1, Burst: 1},
		Pool:    DefaultPoolSettings(),
	})
	triple := reg.Get("data", "slow")

	require.NoError(t, triple.Limiter.Wait(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := triple.Limiter.Wait(ctx)
	var limited *RateLimitedError
	require.ErrorAs(t, err, &limited)
	assert.Greater(t, limited.RetryAfter, time.Duration(0))
}

func TestConnPool_Exhaustion(t *testing.T) {
	reg := New(fastSettings())
	triple := reg.Get("venue", "pool")
	ctx := context.Background()

	require.NoError(t, triple.Pool.Acquire(ctx))
	require.NoError(t, triple.Pool.Acquire(ctx))

	err := triple.Pool.Acquire(ctx)
	var exhausted *PoolExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, int64(2), exhausted.Size)

	triple.Pool.Release()
	assert.NoError(t, triple.Pool.Acquire(ctx))
}
