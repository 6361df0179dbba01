package memory

import (
	"math"
	"sort"
	"time"

	"github.com/helmsman-trade/helmsman/internal/market"
	"github.com/helmsman-trade/helmsman/internal/monitor"
)

// indexEntry is one remembered trading context.
type indexEntry struct {
	PositionID string    `json:"position_id"`
	DecisionID string    `json:"decision_id"`
	Instrument string    `json:"instrument"`
	RegimeTag  string    `json:"regime_tag"`
	PnLPct     float64   `json:"pnl_pct"`
	ExitReason string    `json:"exit_reason"`
	Vector     []float64 `json:"vector"`
	ClosedAt   time.Time `json:"closed_at"`
}

// Similar is one past context returned by a lookup.
type Similar struct {
	PositionID string  `json:"position_id"`
	DecisionID string  `json:"decision_id"`
	Instrument string  `json:"instrument"`
	RegimeTag  string  `json:"regime_tag"`
	PnLPct     float64 `json:"pnl_pct"`
	ExitReason string  `json:"exit_reason"`
	Similarity float64 `json:"similarity"`
}

// embedOutcome featurizes a closed trade for similarity lookup. The vector
// captures the instrument class, trade shape, and time of day so future
// lookups surface trades made under comparable conditions.
func embedOutcome(o monitor.TradeOutcome, inst market.Instrument) []float64 {
	v := make([]float64, 8)
	v[classDim(inst.Class)] = 1
	v[3] = math.Tanh(o.PnLPct * 10)
	v[4] = math.Tanh(o.Duration.Hours() / 24)
	v[5] = timeOfDay(o.ClosedAt)
	if o.ExitReason == monitor.ExitTakeProfit {
		v[6] = 1
	}
	if o.ExitReason == monitor.ExitStopLoss {
		v[7] = 1
	}
	return v
}

// embedQuery featurizes a lookup request the same way, leaving outcome
// dimensions neutral.
func embedQuery(inst market.Instrument, now time.Time) []float64 {
	v := make([]float64, 8)
	v[classDim(inst.Class)] = 1
	v[5] = timeOfDay(now)
	return v
}

func classDim(class market.AssetClass) int {
	switch class {
	case market.AssetCrypto:
		return 0
	case market.AssetForex:
		return 1
	default:
		return 2
	}
}

func timeOfDay(t time.Time) float64 {
	t = t.UTC()
	return float64(t.Hour()*60+t.Minute()) / (24 * 60)
}

func cosine(a, b []float64) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// topK returns the k entries most similar to the query vector.
func topK(entries []indexEntry, query []float64, k int) []Similar {
	scored := make([]Similar, 0, len(entries))
	for _, e := range entries {
		scored = append(scored, Similar{
			PositionID: e.PositionID,
			DecisionID: e.DecisionID,
			Instrument: e.Instrument,
			RegimeTag:  e.RegimeTag,
			PnLPct:     e.PnLPct,
			ExitReason: e.ExitReason,
			Similarity: cosine(e.Vector, query),
		})
	}
	sort.Slice(scored, func(i, j int) bool {
		if scored[i].Similarity != scored[j].Similarity {
			return scored[i].Similarity > scored[j].Similarity
		}
		return scored[i].PositionID < scored[j].PositionID
	})
	if len(scored) > k {
		scored = scored[:k]
	}
	return scored
}
