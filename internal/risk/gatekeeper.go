package risk

import (
	"fmt"
	"math"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/helmsman-trade/helmsman/internal/ensemble"
	"github.com/helmsman-trade/helmsman/internal/market"
)

// Gatekeeper validates decisions against limits. It is stateless and
// deterministic: the same (decision, context) pair yields the same verdict,
// so a rejection can be replayed and audited. Checks short-circuit in a
// fixed order; execution never re-queries a verdict.
type Gatekeeper struct {
	limits Limits
	logger zerolog.Logger
}

// NewGatekeeper creates a gatekeeper over the given limits.
func NewGatekeeper(limits Limits) *Gatekeeper {
	return &Gatekeeper{
		limits: limits,
		logger: log.With().Str("component", "risk_gatekeeper").Logger(),
	}
}

// Limits returns the configured thresholds.
func (g *Gatekeeper) Limits() Limits {
	return g.limits
}

// Check returns nil when the decision may execute, or a *Reject naming the
// first violated limit.
func (g *Gatekeeper) Check(d *ensemble.Decision, rctx Context) error {
	reject := g.evaluate(d, rctx)
	if reject != nil {
		g.logger.Warn().
			Str("decision_id", d.ID.String()).
			Str("instrument", d.Instrument.Key()).
			Str("reason", string(reject.Reason)).
			Str("detail", reject.Detail).
			Msg("Decision rejected")
		return reject
	}

	g.logger.Debug().
		Str("decision_id", d.ID.String()).
		Str("instrument", d.Instrument.Key()).
		Msg("Decision approved")
	return nil
}

func (g *Gatekeeper) evaluate(d *ensemble.Decision, rctx Context) *Reject {
	// Freshness was checked before REASONING; revalidate for the race
	// window between analysis and risk check.
	if !rctx.Freshness.Fresh {
		return &Reject{Reason: RejectStaleData, Detail: rctx.Freshness.Reason}
	}

	if d.Instrument.Class != market.AssetCrypto &&
		rctx.Session != market.SessionOpen &&
		!g.limits.AllowClosedSessions {
		return &Reject{
			Reason: RejectSessionClosed,
			Detail: fmt.Sprintf("%s session is %s", d.Instrument.Class, rctx.Session),
		}
	}

	if killFloor := -g.limits.KillSwitchPct * rctx.Equity; rctx.DayPnL <= killFloor {
		return &Reject{
			Reason: RejectKillSwitch,
			Detail: fmt.Sprintf("day pnl %.2f breaches floor %.2f", rctx.DayPnL, killFloor),
		}
	}

	if g.limits.MaxDailyTrades > 0 && rctx.DailyTrades >= g.limits.MaxDailyTrades {
		return &Reject{
			Reason: RejectDailyCap,
			Detail: fmt.Sprintf("%d trades today, cap %d", rctx.DailyTrades, g.limits.MaxDailyTrades),
		}
	}

	if rctx.Drawdown > g.limits.MaxDrawdown {
		return &Reject{
			Reason: RejectDrawdown,
			Detail: fmt.Sprintf("drawdown %.4f exceeds %.4f", rctx.Drawdown, g.limits.MaxDrawdown),
		}
	}

	notional := proposedNotional(d)
	if notional > 0 && rctx.Equity > 0 {
		varFrac := VaR(rctx.Returns, d.Instrument.Class, d.ID)
		varQuote := varFrac * notional
		if limit := g.limits.MaxVaR * rctx.Equity; varQuote > limit {
			return &Reject{
				Reason: RejectVaR,
				Detail: fmt.Sprintf("VaR %.2f exceeds limit %.2f", varQuote, limit),
			}
		}
	}

	if notional > 0 && rctx.Equity > 0 {
		exposure := notional
		for _, h := range rctx.Holdings {
			if h.Instrument.Symbol == d.Instrument.Symbol {
				exposure += math.Abs(h.Exposure)
			}
		}
		if limit := g.limits.MaxSinglePosition * rctx.Equity; exposure > limit {
			return &Reject{
				Reason: RejectConcentration,
				Detail: fmt.Sprintf("exposure %.2f exceeds cap %.2f", exposure, limit),
			}
		}
	}

	if correlated := g.countCorrelated(d, rctx); correlated > g.limits.MaxCorrelated {
		return &Reject{
			Reason: RejectCorrelation,
			Detail: fmt.Sprintf("%d holdings correlate above %.2f, max %d",
				correlated, g.limits.CorrelationThreshold, g.limits.MaxCorrelated),
		}
	}

	if d.RecommendedSize == nil && !d.SignalOnly {
		return &Reject{
			Reason: RejectUnsized,
			Detail: "executable decision carries no size",
		}
	}

	return nil
}

// countCorrelated counts held symbols whose pairwise correlation with the
// decision's instrument meets the threshold.
func (g *Gatekeeper) countCorrelated(d *ensemble.Decision, rctx Context) int {
	row := rctx.Correlations[d.Instrument.Symbol]
	if row == nil {
		return 0
	}
	seen := make(map[string]struct{})
	count := 0
	for _, h := range rctx.Holdings {
		sym := h.Instrument.Symbol
		if sym == d.Instrument.Symbol {
			continue
		}
		if _, dup := seen[sym]; dup {
			continue
		}
		seen[sym] = struct{}{}
		if math.Abs(row[sym]) >= g.limits.CorrelationThreshold {
			count++
		}
	}
	return count
}

func proposedNotional(d *ensemble.Decision) float64 {
	if d.RecommendedSize == nil {
		return 0
	}
	return *d.RecommendedSize * d.Entry
}
