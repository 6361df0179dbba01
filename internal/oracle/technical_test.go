package oracle

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helmsman-trade/helmsman/internal/market"
)

func candlesFromCloses(closes []float64) []market.Candle {
	out := make([]market.Candle, len(closes))
	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	for i, c := range closes {
		out[i] = market.Candle{
			Open:     c,
			High:     c * 1.001,
			Low:      c * 0.999,
			Close:    c,
			OpenTime: base.Add(time.Duration(i) * time.Hour),
		}
	}
	return out
}

func TestTechnicalOracle_AbstainsWithoutHistory(t *testing.T) {
	o := NewTechnicalOracle("technical", DefaultTechnicalConfig())
	prompt := testPrompt()
	prompt.Candles = candlesFromCloses([]float64{100, 101, 102})

	rec, err := o.Query(context.Background(), prompt)
	require.NoError(t, err)
	assert.Equal(t, ActionNoDecision, rec.Action)
	assert.NoError(t, Validate(rec))
}

func TestTechnicalOracle_SellOnOverboughtDowntrend(t *testing.T) {
	// A long rally drives RSI overbought; the quote is pinned below the EMA
	// so the downtrend condition holds.
	closes := make([]float64, 40)
	price := 100.0
	for i := range closes {
		price += 2
		closes[i] = price
	}

	o := NewTechnicalOracle("technical", DefaultTechnicalConfig())
	prompt := testPrompt()
	prompt.Candles = candlesFromCloses(closes)
	prompt.Quote.Bid = 100
	prompt.Quote.Ask = 100

	rec, err := o.Query(context.Background(), prompt)
	require.NoError(t, err)
	assert.Equal(t, ActionSell, rec.Action)
	assert.GreaterOrEqual(t, rec.Confidence, 55)
	assert.LessOrEqual(t, rec.Confidence, 95)
	assert.NoError(t, Validate(rec))
}

func TestTechnicalOracle_HoldOnNeutral(t *testing.T) {
	// Flat series: RSI hovers near 50, no threshold crossed.
	closes := make([]float64, 40)
	for i := range closes {
		closes[i] = 100 + float64(i%2)
	}

	o := NewTechnicalOracle("technical", DefaultTechnicalConfig())
	prompt := testPrompt()
	prompt.Candles = candlesFromCloses(closes)

	rec, err := o.Query(context.Background(), prompt)
	require.NoError(t, err)
	assert.Equal(t, ActionHold, rec.Action)
	assert.Equal(t, 50, rec.Confidence)
}

func TestTechnicalOracle_RespectsCancellation(t *testing.T) {
	o := NewTechnicalOracle("technical", DefaultTechnicalConfig())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := o.Query(ctx, testPrompt())
	assert.ErrorIs(t, err, context.Canceled)
}
