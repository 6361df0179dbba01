// Package risk holds the stateless gatekeeper that validates decisions
// against portfolio limits, the VaR estimators behind it, and the position
// sizer.
package risk

import (
	"fmt"
	"time"

	"github.com/helmsman-trade/helmsman/internal/market"
)

// Limits are the process-wide risk thresholds. Fractions are of portfolio
// equity.
type Limits struct {
	MaxDrawdown          float64 `json:"max_drawdown"`
	MaxVaR               float64 `json:"max_var"`
	MaxSinglePosition    float64 `json:"max_single_position"`
	MaxCorrelated        int     `json:"max_correlated"`
	CorrelationThreshold float64 `json:"correlation_threshold"`
	MaxDailyTrades       int     `json:"max_daily_trades"`
	KillSwitchPct        float64 `json:"kill_switch_pct"`
	// AllowClosedSessions permits forex/equity orders outside trading hours.
	AllowClosedSessions bool `json:"allow_closed_sessions"`
}

// DefaultLimits returns conservative defaults.
func DefaultLimits() Limits {
	return Limits{
		MaxDrawdown:          0.15,
		MaxVaR:               0.05,
		MaxSinglePosition:    0.25,
		MaxCorrelated:        2,
		CorrelationThreshold: 0.7,
		MaxDailyTrades:       10,
		KillSwitchPct:        0.05,
	}
}

// Holding summarizes one open position for exposure accounting. Exposure is
// signed, in quote units.
type Holding struct {
	Instrument market.Instrument `json:"instrument"`
	Side       string            `json:"side"`
	Exposure   float64           `json:"exposure"`
}

// Context is the portfolio snapshot a decision is validated against. The
// gatekeeper holds no state of its own; callers assemble the context so the
// same (decision, context) pair always yields the same verdict.
type Context struct {
	Equity       float64
	DayPnL       float64
	Drawdown     float64 // running drawdown, fraction of peak equity
	DailyTrades  int
	Holdings     []Holding
	Correlations map[string]map[string]float64 // symbol -> symbol -> rho
	Returns      []float64                     // recent per-period returns of the instrument
	Freshness    market.Freshness
	Session      market.SessionState
	Now          time.Time
}

// RejectReason classifies a gatekeeper refusal.
type RejectReason string

const (
	RejectStaleData     RejectReason = "stale_data"
	RejectSessionClosed RejectReason = "session_closed"
	RejectKillSwitch    RejectReason = "kill_switch"
	RejectDailyCap      RejectReason = "daily_trade_cap"
	RejectDrawdown      RejectReason = "max_drawdown"
	RejectVaR           RejectReason = "var_limit"
	RejectConcentration RejectReason = "concentration"
	RejectCorrelation   RejectReason = "correlation"
	RejectUnsized       RejectReason = "unsized_executable_decision"
)

// Reject is a structured gatekeeper refusal. It is an error so callers can
// propagate it, but it is recoverable: the decision is simply not executed.
type Reject struct {
	Reason RejectReason
	Detail string
}

func (r *Reject) Error() string {
	return fmt.Sprintf("risk reject %s: %s", r.Reason, r.Detail)
}
