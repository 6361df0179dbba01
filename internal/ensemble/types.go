// Package ensemble combines per-oracle recommendations into a single
// Decision through a ladder of voting strategies, with confidence scaled by
// oracle availability and quorum.
package ensemble

import (
	"time"

	"github.com/google/uuid"

	"github.com/helmsman-trade/helmsman/internal/market"
	"github.com/helmsman-trade/helmsman/internal/oracle"
)

// Strategy selects the primary voting tier.
type Strategy string

const (
	StrategyWeighted Strategy = "weighted"
	StrategyMajority Strategy = "majority"
	StrategyStacking Strategy = "stacking"
)

// Tier is the rung of the fallback ladder that produced a decision.
type Tier string

const (
	TierPrimary  Tier = "primary"
	TierMajority Tier = "majority"
	TierAverage  Tier = "average"
	TierSingle   Tier = "single"
)

// EnsembleMeta records how a decision was assembled. Adjusted weights cover
// only the oracles that responded and always sum to 1.0 within 1e-6.
type EnsembleMeta struct {
	ProvidersUsed              []string                        `json:"providers_used"`
	ProvidersFailed            map[string]oracle.FailureReason `json:"providers_failed"`
	OriginalWeights            map[string]float64              `json:"original_weights"`
	AdjustedWeights            map[string]float64              `json:"adjusted_weights"`
	FallbackTier               Tier                            `json:"fallback_tier"`
	ConfidenceAdjustmentFactor float64                         `json:"confidence_adjustment_factor"`
	QuorumMet                  bool                            `json:"quorum_met"`
}

// Decision is the aggregated, immutable output of one REASONING pass.
// Corrections are new decisions that supersede; the id doubles as the
// execution idempotency key.
type Decision struct {
	ID              uuid.UUID         `json:"id"`
	Instrument      market.Instrument `json:"instrument"`
	Action          oracle.Action     `json:"action"`
	Confidence      int               `json:"confidence"`
	RecommendedSize *float64          `json:"recommended_size,omitempty"`
	Entry           float64           `json:"entry"`
	StopLoss        float64           `json:"stop_loss"`
	TakeProfit      float64           `json:"take_profit"`
	Meta            EnsembleMeta      `json:"ensemble_meta"`
	SignalOnly      bool              `json:"signal_only"`
	CreatedAt       time.Time         `json:"created_at"`
}

// No-decision reasons reported on the outcome.
const (
	ReasonNoActiveOracles  = "no_active_oracles"
	ReasonEnsembleAbstain  = "ensemble_no_decision"
	ReasonQuorumNotMet     = "quorum_not_met"
	ReasonStaleQuote       = "stale_quote"
	ReasonCircuitOpen      = "circuit_open"
	ReasonAssetFaulted     = "asset_faulted"
	ReasonAnalysisDeadline = "analysis_deadline"
)

// Outcome distinguishes an actionable decision from a reasoned refusal.
// Quorum failure and freshness rejection are values here, never errors and
// never coerced to HOLD.
type Outcome struct {
	Decision *Decision `json:"decision,omitempty"`
	Reason   string    `json:"reason,omitempty"`
}

// Actionable reports whether the outcome carries a decision.
func (o Outcome) Actionable() bool {
	return o.Decision != nil
}

// NoDecision constructs a refusal outcome.
func NoDecision(reason string) Outcome {
	return Outcome{Reason: reason}
}
