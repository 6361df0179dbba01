package ensemble

import (
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/helmsman-trade/helmsman/internal/market"
	"github.com/helmsman-trade/helmsman/internal/oracle"
)

// Config parameterizes aggregation. BaseWeights keys are the configured
// oracle set and must sum to 1.0; QuorumMin below which the quorum penalty
// applies defaults to 3.
type Config struct {
	BaseWeights map[string]float64
	QuorumMin   int
	Strategy    Strategy
	// StrictQuorum refuses a decision outright when only the single tier
	// is reachable and quorum is not met.
	StrictQuorum bool
}

// DefaultConfig returns weighted voting with a quorum of three.
func DefaultConfig(baseWeights map[string]float64) Config {
	return Config{
		BaseWeights: baseWeights,
		QuorumMin:   3,
		Strategy:    StrategyWeighted,
	}
}

// Aggregator turns a fan-out result into at most one Decision.
type Aggregator struct {
	cfg    Config
	logger zerolog.Logger
}

// New creates an aggregator.
func New(cfg Config) *Aggregator {
	if cfg.QuorumMin <= 0 {
		cfg.QuorumMin = 3
	}
	return &Aggregator{
		cfg:    cfg,
		logger: log.With().Str("component", "ensemble").Logger(),
	}
}

// tally is a tier's raw verdict before confidence adjustment.
type tally struct {
	action     oracle.Action
	confidence float64
	amount     *float64
	stopLoss   *float64
	takeProfit *float64
}

// Aggregate runs the fallback ladder over the fan-out results. Weights are
// renormalized over the responding set; confidence is scaled by the
// availability factor 0.7+0.3*|A|/|base| and a further 0.7 when quorum is
// not met.
func (a *Aggregator) Aggregate(inst market.Instrument, quote market.Quote, res oracle.Results) Outcome {
	active := sortedIDs(res.OK)
	if len(active) == 0 {
		a.logger.Warn().Str("instrument", inst.Key()).Msg("No oracle responded")
		return NoDecision(ReasonNoActiveOracles)
	}

	adjusted := renormalize(a.cfg.BaseWeights, active)

	verdict, tier := a.ladder(active, adjusted, res.OK)
	if verdict == nil || verdict.action == oracle.ActionNoDecision {
		return NoDecision(ReasonEnsembleAbstain)
	}

	baseCount := len(a.cfg.BaseWeights)
	if baseCount == 0 {
		baseCount = len(active)
	}
	factor := 0.7 + 0.3*float64(len(active))/float64(baseCount)

	quorumMet := len(active) >= a.cfg.QuorumMin
	final := verdict.confidence * factor
	if !quorumMet {
		final *= 0.7
	}
	confidence := clampConfidence(int(math.Round(final)))

	if tier == TierSingle && a.cfg.StrictQuorum && !quorumMet {
		return NoDecision(ReasonQuorumNotMet)
	}

	failed := make(map[string]oracle.FailureReason, len(res.Failed))
	for id, f := range res.Failed {
		failed[id] = f.Reason
	}

	d := &Decision{
		ID:         uuid.New(),
		Instrument: inst,
		Action:     verdict.action,
		Confidence: confidence,
		Entry:      quote.Mid(),
		Meta: EnsembleMeta{
			ProvidersUsed:              active,
			ProvidersFailed:            failed,
			OriginalWeights:            copyWeights(a.cfg.BaseWeights),
			AdjustedWeights:            adjusted,
			FallbackTier:               tier,
			ConfidenceAdjustmentFactor: factor,
			QuorumMet:                  quorumMet,
		},
		CreatedAt: time.Now().UTC(),
	}
	d.RecommendedSize = verdict.amount
	if verdict.stopLoss != nil {
		d.StopLoss = *verdict.stopLoss
	}
	if verdict.takeProfit != nil {
		d.TakeProfit = *verdict.takeProfit
	}

	a.logger.Info().
		Str("instrument", inst.Key()).
		Str("decision_id", d.ID.String()).
		Str("action", string(d.Action)).
		Int("confidence", d.Confidence).
		Str("tier", string(tier)).
		Bool("quorum_met", quorumMet).
		Msg("Ensemble decision")
	return Outcome{Decision: d}
}

// ladder tries tiers in order. The primary tier needs a defined strategy;
// stacking has no standalone algorithm and falls through to majority.
func (a *Aggregator) ladder(active []string, adjusted map[string]float64, ok map[string]oracle.Recommendation) (*tally, Tier) {
	if len(active) == 1 {
		return singleVote(active, ok), TierSingle
	}
	if a.cfg.Strategy == StrategyWeighted {
		if v := weightedVote(active, adjusted, ok); v != nil {
			return v, TierPrimary
		}
	}
	if a.cfg.Strategy == StrategyMajority {
		if v := majorityVote(active, ok); v != nil {
			return v, TierPrimary
		}
	}
	if len(active) >= 2 {
		if v := majorityVote(active, ok); v != nil {
			return v, TierMajority
		}
		if v := averageVote(active, ok); v != nil {
			return v, TierAverage
		}
	}
	return singleVote(active, ok), TierSingle
}

// renormalize scales base weights over the responding set so they sum to
// one. Non-positive totals fall back to equal weights.
func renormalize(base map[string]float64, active []string) map[string]float64 {
	adjusted := make(map[string]float64, len(active))
	var sum float64
	for _, id := range active {
		sum += base[id]
	}
	if sum <= 0 {
		eq := 1.0 / float64(len(active))
		for _, id := range active {
			adjusted[id] = eq
		}
		return adjusted
	}
	for _, id := range active {
		adjusted[id] = base[id] / sum
	}
	return adjusted
}

func weightedVote(active []string, adjusted map[string]float64, ok map[string]oracle.Recommendation) *tally {
	scores := map[oracle.Action]float64{}
	var confidence float64
	var amount float64
	var hasAmount bool
	for _, id := range active {
		rec := ok[id]
		w := adjusted[id]
		scores[rec.Action] += w
		confidence += w * float64(rec.Confidence)
		if rec.Amount != nil {
			amount += w * *rec.Amount
			hasAmount = true
		}
	}

	action := bestAction(scores)
	v := &tally{action: action, confidence: confidence}
	if hasAmount {
		v.amount = &amount
	}
	v.stopLoss, v.takeProfit = supporterLevels(active, ok, action)
	return v
}

func majorityVote(active []string, ok map[string]oracle.Recommendation) *tally {
	votes := map[oracle.Action]float64{}
	for _, id := range active {
		votes[ok[id].Action]++
	}

	action, tied := modeAction(votes)
	if tied {
		action = oracle.ActionHold
	}
	return supporterMeans(active, ok, action)
}

func averageVote(active []string, ok map[string]oracle.Recommendation) *tally {
	votes := map[oracle.Action]float64{}
	for _, id := range active {
		votes[ok[id].Action]++
	}
	action, tied := modeAction(votes)
	if tied {
		action = oracle.ActionHold
	}

	var confidence float64
	for _, id := range active {
		confidence += float64(ok[id].Confidence)
	}
	v := supporterMeans(active, ok, action)
	v.confidence = confidence / float64(len(active))
	return v
}

func singleVote(active []string, ok map[string]oracle.Recommendation) *tally {
	best := ok[active[0]]
	for _, id := range active[1:] {
		if ok[id].Confidence > best.Confidence {
			best = ok[id]
		}
	}
	return &tally{
		action:     best.Action,
		confidence: float64(best.Confidence),
		amount:     best.Amount,
		stopLoss:   best.StopLoss,
		takeProfit: best.TakeProfit,
	}
}

// supporterMeans averages confidence, amount, and levels over the oracles
// that voted for action.
func supporterMeans(active []string, ok map[string]oracle.Recommendation, action oracle.Action) *tally {
	var confidence, amount float64
	var n, amounts int
	for _, id := range active {
		rec := ok[id]
		if rec.Action != action {
			continue
		}
		n++
		confidence += float64(rec.Confidence)
		if rec.Amount != nil {
			amount += *rec.Amount
			amounts++
		}
	}

	v := &tally{action: action}
	if n > 0 {
		v.confidence = confidence / float64(n)
	}
	if amounts > 0 {
		mean := amount / float64(amounts)
		v.amount = &mean
	}
	v.stopLoss, v.takeProfit = supporterLevels(active, ok, action)
	return v
}

func supporterLevels(active []string, ok map[string]oracle.Recommendation, action oracle.Action) (*float64, *float64) {
	var sl, tp float64
	var sls, tps int
	for _, id := range active {
		rec := ok[id]
		if rec.Action != action {
			continue
		}
		if rec.StopLoss != nil {
			sl += *rec.StopLoss
			sls++
		}
		if rec.TakeProfit != nil {
			tp += *rec.TakeProfit
			tps++
		}
	}

	var slOut, tpOut *float64
	if sls > 0 {
		mean := sl / float64(sls)
		slOut = &mean
	}
	if tps > 0 {
		mean := tp / float64(tps)
		tpOut = &mean
	}
	return slOut, tpOut
}

// tiePreference orders actions for tie-breaking: HOLD beats BUY beats SELL.
var tiePreference = map[oracle.Action]int{
	oracle.ActionHold:       3,
	oracle.ActionBuy:        2,
	oracle.ActionSell:       1,
	oracle.ActionNoDecision: 0,
}

// bestAction picks the highest-scoring action, breaking ties by preference.
func bestAction(scores map[oracle.Action]float64) oracle.Action {
	var best oracle.Action
	bestScore := math.Inf(-1)
	for action, score := range scores {
		if score > bestScore+1e-9 ||
			(math.Abs(score-bestScore) <= 1e-9 && tiePreference[action] > tiePreference[best]) {
			best = action
			bestScore = score
		}
	}
	return best
}

// modeAction returns the most common action and whether the top count is
// shared by more than one action.
func modeAction(votes map[oracle.Action]float64) (oracle.Action, bool) {
	var best oracle.Action
	bestScore := math.Inf(-1)
	tied := false
	for action, score := range votes {
		switch {
		case score > bestScore+1e-9:
			best = action
			bestScore = score
			tied = false
		case math.Abs(score-bestScore) <= 1e-9:
			tied = true
			if tiePreference[action] > tiePreference[best] {
				best = action
			}
		}
	}
	return best, tied
}

func sortedIDs(ok map[string]oracle.Recommendation) []string {
	ids := make([]string, 0, len(ok))
	for id := range ok {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func copyWeights(w map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(w))
	for k, v := range w {
		out[k] = v
	}
	return out
}

func clampConfidence(c int) int {
	if c < 0 {
		return 0
	}
	if c > 100 {
		return 100
	}
	return c
}
