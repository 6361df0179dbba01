package market

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSimulatedFeed_QuoteIsFreshAndSpreadPositive(t *testing.T) {
	feed := NewSimulatedFeed(100)
	inst := Instrument{Symbol: "BTC/USDT", Class: AssetCrypto, Venue: "sim"}

	q, err := feed.Quote(context.Background(), inst)
	require.NoError(t, err)

	assert.Greater(t, q.Ask, q.Bid)
	assert.InDelta(t, 100, q.Mid(), 5)
	assert.Equal(t, SessionOpen, q.Session)
	assert.False(t, q.Timestamp.IsZero())
}

func TestSimulatedFeed_WalkIsDeterministicPerInstrument(t *testing.T) {
	inst := Instrument{Symbol: "ETH/USDT", Class: AssetCrypto, Venue: "sim"}

	a := NewSimulatedFeed(100)
	b := NewSimulatedFeed(100)
	for i := 0; i < 5; i++ {
		qa, err := a.Quote(context.Background(), inst)
		require.NoError(t, err)
		qb, err := b.Quote(context.Background(), inst)
		require.NoError(t, err)
		assert.Equal(t, qa.Mid(), qb.Mid())
	}
}

func TestSimulatedFeed_CandlesContinuous(t *testing.T) {
	feed := NewSimulatedFeed(100)
	inst := Instrument{Symbol: "BTC/USDT", Class: AssetCrypto, Venue: "sim"}

	candles, err := feed.Candles(context.Background(), inst, "1h", 50)
	require.NoError(t, err)
	require.Len(t, candles, 50)

	for i := 1; i < len(candles); i++ {
		assert.Equal(t, candles[i-1].Close, candles[i].Open, "bars must chain")
		assert.True(t, candles[i].OpenTime.After(candles[i-1].OpenTime))
	}
}
