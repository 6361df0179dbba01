package market

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeProvider counts calls so tests can observe cache hits.
type fakeProvider struct {
	mu     sync.Mutex
	quotes int
	quote  Quote
	err    error
}

func (f *fakeProvider) Quote(ctx context.Context, inst Instrument) (Quote, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.quotes++
	if f.err != nil {
		return Quote{}, f.err
	}
	q := f.quote
	q.Instrument = inst
	return q, nil
}

func (f *fakeProvider) Candles(ctx context.Context, inst Instrument, tf string, n int) ([]Candle, error) {
	return nil, nil
}

func (f *fakeProvider) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.quotes
}

func TestCachedProvider_Quote(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	inst := Instrument{Symbol: "BTCUSDT", Class: AssetCrypto, Venue: "paper"}
	inner := &fakeProvider{quote: Quote{Bid: 50000, Ask: 50010, Timestamp: time.Now().UTC(), Session: SessionOpen}}
	cached := NewCachedProvider(inner, client, time.Minute)

	ctx := context.Background()

	q1, err := cached.Quote(ctx, inst)
	require.NoError(t, err)
	assert.Equal(t, 1, inner.calls())

	q2, err := cached.Quote(ctx, inst)
	require.NoError(t, err)
	assert.Equal(t, 1, inner.calls(), "second quote should come from cache")
	assert.Equal(t, q1.Bid, q2.Bid)
	assert.Equal(t, q1.Ask, q2.Ask)

	t.Run("expired entry falls through", func(t *testing.T) {
		mr.FastForward(2 * time.Minute)
		_, err := cached.Quote(ctx, inst)
		require.NoError(t, err)
		assert.Equal(t, 2, inner.calls())
	})
}

func TestCachedProvider_NilClient(t *testing.T) {
	inner := &fakeProvider{quote: Quote{Bid: 1.1, Ask: 1.2, Timestamp: time.Now().UTC()}}
	cached := NewCachedProvider(inner, nil, time.Minute)

	_, err := cached.Quote(context.Background(), Instrument{Symbol: "EURUSD", Class: AssetForex, Venue: "paper"})
	require.NoError(t, err)
	assert.Equal(t, 1, inner.calls())
}

func TestCachedProvider_ProviderError(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	inner := &fakeProvider{err: errors.New("provider down")}
	cached := NewCachedProvider(inner, client, time.Minute)

	_, err := cached.Quote(context.Background(), Instrument{Symbol: "BTCUSDT", Class: AssetCrypto, Venue: "paper"})
	assert.Error(t, err)
}
