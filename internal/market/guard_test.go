package market

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helmsman-trade/helmsman/internal/registry"
)

var guardInstrument = Instrument{Symbol: "BTC/USDT", Class: AssetCrypto, Venue: "binance"}

type flakyFeed struct {
	calls int
	err   error
}

func (f *flakyFeed) Quote(_ context.Context, inst Instrument) (Quote, error) {
	f.calls++
	if f.err != nil {
		return Quote{}, f.err
	}
	return Quote{
		Instrument: inst,
		Bid:        99,
		Ask:        101,
		Timestamp:  time.Now().UTC(),
		Session:    SessionOpen,
	}, nil
}

func (f *flakyFeed) Candles(_ context.Context, _ Instrument, _ string, n int) ([]Candle, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return make([]Candle, n), nil
}

func guardSettings() registry.Settings {
	return registry.Settings{
		Breaker: registry.BreakerSettings{FailureThreshold: 2, RecoveryTimeout: time.Minute},
		Limiter: registry.LimiterSettings{Rate: 1000, Burst: 1000},
		Pool:    registry.PoolSettings{Size: 2, AcquireTimeout: 50 * time.Millisecond},
	}
}

func TestGuardedProvider_PassesThrough(t *testing.T) {
	feed := &flakyFeed{}
	g := NewGuardedProvider(feed, registry.New(guardSettings()), "default")

	q, err := g.Quote(context.Background(), guardInstrument)
	require.NoError(t, err)
	assert.InDelta(t, 100, q.Mid(), 1e-9)

	candles, err := g.Candles(context.Background(), guardInstrument, "1h", 5)
	require.NoError(t, err)
	assert.Len(t, candles, 5)
}

func TestGuardedProvider_RepeatedFailuresOpenCircuit(t *testing.T) {
	feed := &flakyFeed{err: errors.New("feed down")}
	g := NewGuardedProvider(feed, registry.New(guardSettings()), "default")

	for i := 0; i < 2; i++ {
		_, err := g.Quote(context.Background(), guardInstrument)
		require.Error(t, err)
	}
	calls := feed.calls

	_, err := g.Quote(context.Background(), guardInstrument)
	var open *registry.CircuitOpenError
	require.ErrorAs(t, err, &open)
	assert.Equal(t, calls, feed.calls, "open circuit must fail fast without touching the feed")
}

func TestGuardedProvider_QuoteAndCandlesShareOneBreaker(t *testing.T) {
	feed := &flakyFeed{err: errors.New("feed down")}
	g := NewGuardedProvider(feed, registry.New(guardSettings()), "default")

	for i := 0; i < 2; i++ {
		_, err := g.Candles(context.Background(), guardInstrument, "1h", 10)
		require.Error(t, err)
	}

	_, err := g.Quote(context.Background(), guardInstrument)
	var open *registry.CircuitOpenError
	assert.ErrorAs(t, err, &open, "candle failures must open the circuit quote calls observe")
}

func TestGuardedProvider_PoolBoundsConcurrentFetches(t *testing.T) {
	feed := &flakyFeed{}
	reg := registry.New(registry.Settings{
		Breaker: registry.BreakerSettings{FailureThreshold: 3, RecoveryTimeout: time.Minute},
		Limiter: registry.LimiterSettings{Rate: 1000, Burst: 1000},
		Pool:    registry.PoolSettings{Size: 1, AcquireTimeout: 10 * time.Millisecond},
	})
	g := NewGuardedProvider(feed, reg, "default")

	triple := reg.Get(DataService, "default")
	require.NoError(t, triple.Pool.Acquire(context.Background()))
	defer triple.Pool.Release()

	_, err := g.Quote(context.Background(), guardInstrument)
	var exhausted *registry.PoolExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, 0, feed.calls, "an exhausted pool must not reach the feed")
}
