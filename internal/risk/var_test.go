package risk

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/helmsman-trade/helmsman/internal/market"
)

// volatileReturns yields a deterministic alternating return series.
func volatileReturns(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		if i%2 == 0 {
			out[i] = 0.03
		} else {
			out[i] = -0.025
		}
	}
	return out
}

func TestVaR_BootstrapWithHistory(t *testing.T) {
	id := uuid.MustParse("11111111-2222-3333-4444-555555555555")
	v := VaR(volatileReturns(60), market.AssetCrypto, id)

	assert.Greater(t, v, 0.0)
	// The worst observed loss bounds the bootstrap estimate.
	assert.LessOrEqual(t, v, 0.025)
}

func TestVaR_SeededByDecisionID(t *testing.T) {
	id := uuid.MustParse("11111111-2222-3333-4444-555555555555")
	returns := volatileReturns(60)

	first := VaR(returns, market.AssetCrypto, id)
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, VaR(returns, market.AssetCrypto, id))
	}
}

func TestVaR_HeuristicFallbackWithThinHistory(t *testing.T) {
	id := uuid.New()

	crypto := VaR(volatileReturns(10), market.AssetCrypto, id)
	forex := VaR(nil, market.AssetForex, id)
	equity := VaR(nil, market.AssetEquity, id)

	assert.InDelta(t, 0.04*1.645, crypto, 1e-9)
	assert.InDelta(t, 0.007*1.645, forex, 1e-9)
	assert.InDelta(t, 0.015*1.645, equity, 1e-9)
}

func TestVaR_StrictlyPositiveOnAllGainHistory(t *testing.T) {
	gains := make([]float64, 40)
	for i := range gains {
		gains[i] = 0.01
	}

	v := VaR(gains, market.AssetCrypto, uuid.New())
	assert.Greater(t, v, 0.0)
}
