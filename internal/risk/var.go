package risk

import (
	"encoding/binary"
	"math"
	"math/rand"
	"sort"

	"github.com/google/uuid"

	"github.com/helmsman-trade/helmsman/internal/market"
)

// Bootstrap parameters. The sample count satisfies the Monte-Carlo floor;
// minReturns is the history below which the volatility heuristic is used.
const (
	bootstrapSamples = 10_000
	minReturns       = 30
	varConfidence    = 0.95
)

// Daily volatility priors by asset class, used when return history is thin.
var volatilityPriors = map[market.AssetClass]float64{
	market.AssetCrypto: 0.04,
	market.AssetForex:  0.007,
	market.AssetEquity: 0.015,
}

// VaR estimates the one-period 95% value-at-risk as a positive fraction of
// notional. With at least minReturns observations it bootstraps the
// empirical distribution, seeded from the decision id so the same decision
// always produces the same estimate; otherwise it falls back to the
// asset-class volatility prior. The result is always strictly positive.
func VaR(returns []float64, class market.AssetClass, decisionID uuid.UUID) float64 {
	if len(returns) >= minReturns {
		return bootstrapVaR(returns, seedFrom(decisionID))
	}
	return heuristicVaR(class)
}

func bootstrapVaR(returns []float64, seed int64) float64 {
	rng := rand.New(rand.NewSource(seed))

	losses := make([]float64, bootstrapSamples)
	for i := range losses {
		losses[i] = -returns[rng.Intn(len(returns))]
	}
	sort.Float64s(losses)

	idx := int(varConfidence * float64(bootstrapSamples))
	if idx >= bootstrapSamples {
		idx = bootstrapSamples - 1
	}
	v := losses[idx]
	if v <= 0 {
		// All-gain history still carries risk; floor at the prior scale.
		return 1e-4
	}
	return v
}

func heuristicVaR(class market.AssetClass) float64 {
	prior, ok := volatilityPriors[class]
	if !ok {
		prior = volatilityPriors[market.AssetEquity]
	}
	// One-sided 95% normal quantile.
	return math.Max(prior*1.645, 1e-6)
}

func seedFrom(id uuid.UUID) int64 {
	return int64(binary.BigEndian.Uint64(id[:8]))
}
