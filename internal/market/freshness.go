package market

import (
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

// Freshness is the gate's verdict on a quote's age.
type Freshness struct {
	Fresh  bool          `json:"fresh"`
	Age    time.Duration `json:"age"`
	Reason string        `json:"reason"`
}

const (
	// FreshnessOK means the quote age is within the soft limit.
	FreshnessOK = "ok"
	// FreshnessWarn means the quote is older than the soft limit but
	// still usable for the current session.
	FreshnessWarn = "warn"
	// FreshnessStale means the quote must not be used for analysis.
	FreshnessStale = "stale"
)

// GateConfig holds the max-age thresholds by asset class and session state.
// Soft is the age above which the gate still passes but flags a warning;
// the per-session value is the hard limit at which the quote is stale.
type GateConfig struct {
	Soft    time.Duration
	Crypto  SessionLimits
	Forex   SessionLimits
	Equity  SessionLimits
	Default SessionLimits
}

// SessionLimits holds the hard max-age per session state.
type SessionLimits struct {
	Open    time.Duration
	Closed  time.Duration
	Weekend time.Duration
}

// DefaultGateConfig returns the standard freshness thresholds.
func DefaultGateConfig() GateConfig {
	return GateConfig{
		Soft: 5 * time.Minute,
		Crypto: SessionLimits{
			Open:    5 * time.Minute,
			Closed:  5 * time.Minute,
			Weekend: 5 * time.Minute,
		},
		Forex: SessionLimits{
			Open:    15 * time.Minute,
			Closed:  24 * time.Hour,
			Weekend: 72 * time.Hour,
		},
		// Equity defaults are the intraday row. Daily-bar workflows swap
		// in DailyEquityLimits, where an overnight close is still usable.
		Equity: SessionLimits{
			Open:    5 * time.Minute,
			Closed:  15 * time.Minute,
			Weekend: 15 * time.Minute,
		},
		Default: SessionLimits{
			Open:    5 * time.Minute,
			Closed:  5 * time.Minute,
			Weekend: 5 * time.Minute,
		},
	}
}

// DailyEquityLimits returns the equity hard limits for daily-bar trading.
func DailyEquityLimits() SessionLimits {
	return SessionLimits{
		Open:    5 * time.Minute,
		Closed:  24 * time.Hour,
		Weekend: 72 * time.Hour,
	}
}

// Gate checks quote ages against asset- and session-aware limits.
type Gate struct {
	cfg GateConfig
}

// NewGate creates a freshness gate.
func NewGate(cfg GateConfig) *Gate {
	return &Gate{cfg: cfg}
}

// Check evaluates the quote age at the given instant. An age exactly at the
// hard limit is stale; the interval is half-open on the upper bound.
func (g *Gate) Check(q Quote, now time.Time) Freshness {
	age := now.Sub(q.Timestamp)
	hard := g.hardLimit(q.Instrument.Class, q.Session)

	if age >= hard {
		log.Debug().
			Str("instrument", q.Instrument.Key()).
			Dur("age", age).
			Dur("limit", hard).
			Msg("Quote rejected as stale")
		return Freshness{
			Fresh:  false,
			Age:    age,
			Reason: fmt.Sprintf("%s: age %s >= limit %s", FreshnessStale, age.Round(time.Second), hard),
		}
	}

	if age > g.cfg.Soft && hard > g.cfg.Soft {
		return Freshness{
			Fresh:  true,
			Age:    age,
			Reason: fmt.Sprintf("%s: age %s exceeds soft limit %s", FreshnessWarn, age.Round(time.Second), g.cfg.Soft),
		}
	}

	return Freshness{Fresh: true, Age: age, Reason: FreshnessOK}
}

func (g *Gate) hardLimit(class AssetClass, session SessionState) time.Duration {
	var limits SessionLimits
	switch class {
	case AssetCrypto:
		limits = g.cfg.Crypto
	case AssetForex:
		limits = g.cfg.Forex
	case AssetEquity:
		limits = g.cfg.Equity
	default:
		limits = g.cfg.Default
	}

	switch session {
	case SessionOpen:
		return limits.Open
	case SessionClosed:
		return limits.Closed
	case SessionWeekend:
		return limits.Weekend
	default:
		return limits.Open
	}
}
