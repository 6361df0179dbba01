package risk

import (
	"math"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// SizerConfig tunes position sizing.
type SizerConfig struct {
	RiskPerTrade       float64 // fraction of equity risked per trade
	DefaultStopLossPct float64 // applied when a decision carries no stop
	EquityFloor        float64 // below this, decisions go signal-only
	VenueMinimum       float64 // smallest order the venue accepts, base units
	// MaxSinglePosition caps the sized notional as a fraction of equity.
	MaxSinglePosition float64
	// SignalOnlyDefault forces signal-only when equity is unknown.
	SignalOnlyDefault bool
}

// DefaultSizerConfig returns the standard sizing parameters.
func DefaultSizerConfig() SizerConfig {
	return SizerConfig{
		RiskPerTrade:       0.01,
		DefaultStopLossPct: 0.02,
		EquityFloor:        100,
		MaxSinglePosition:  0.25,
	}
}

// Sizer converts a decision's risk budget into an order size.
type Sizer struct {
	cfg    SizerConfig
	logger zerolog.Logger
}

// NewSizer creates a sizer.
func NewSizer(cfg SizerConfig) *Sizer {
	return &Sizer{
		cfg:    cfg,
		logger: log.With().Str("component", "position_sizer").Logger(),
	}
}

// Size is the sizing verdict. SignalOnly decisions carry no size and may be
// published for human action but never auto-executed.
type Size struct {
	Units      *float64
	StopLoss   float64
	SignalOnly bool
	Reason     string
}

// Compute sizes an order as (equity * risk_per_trade) / |entry - stop|,
// floored at the venue minimum and capped by the concentration limit. Any
// degenerate input flips the decision to signal-only instead of guessing.
func (s *Sizer) Compute(equity, entry, stopLoss float64) Size {
	if stopLoss <= 0 && entry > 0 && s.cfg.DefaultStopLossPct > 0 {
		stopLoss = entry * (1 - s.cfg.DefaultStopLossPct)
	}

	switch {
	case equity <= 0 && s.cfg.SignalOnlyDefault:
		return Size{SignalOnly: true, StopLoss: stopLoss, Reason: "equity unknown"}
	case equity <= s.cfg.EquityFloor:
		return Size{SignalOnly: true, StopLoss: stopLoss, Reason: "equity below floor"}
	case entry <= 0 || stopLoss <= 0:
		return Size{SignalOnly: true, StopLoss: stopLoss, Reason: "non-positive price input"}
	case entry == stopLoss:
		return Size{SignalOnly: true, StopLoss: stopLoss, Reason: "entry equals stop"}
	}

	riskBudget := equity * s.cfg.RiskPerTrade
	units := riskBudget / math.Abs(entry-stopLoss)

	if s.cfg.MaxSinglePosition > 0 {
		maxUnits := s.cfg.MaxSinglePosition * equity / entry
		if units > maxUnits {
			units = maxUnits
		}
	}
	if s.cfg.VenueMinimum > 0 && units < s.cfg.VenueMinimum {
		units = s.cfg.VenueMinimum
	}

	s.logger.Debug().
		Float64("equity", equity).
		Float64("entry", entry).
		Float64("stop_loss", stopLoss).
		Float64("units", units).
		Msg("Position sized")
	return Size{Units: &units, StopLoss: stopLoss}
}
