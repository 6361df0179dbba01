// Package monitor watches the venue for position opens and closes, tracks
// live P&L for a bounded set of positions, and emits one TradeOutcome per
// closed position.
package monitor

import (
	"encoding/hex"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/helmsman-trade/helmsman/internal/market"
	"github.com/helmsman-trade/helmsman/internal/platform"
)

// PositionState is the lifecycle stage of a tracked position.
type PositionState string

const (
	StateOpening PositionState = "opening"
	StateOpen    PositionState = "open"
	StateClosing PositionState = "closing"
	StateClosed  PositionState = "closed"
)

// ExitReason explains why a position closed. When several causes coincide
// the precedence is explicit close, take profit, stop loss, disappearance,
// timeout.
type ExitReason string

const (
	ExitTakeProfit ExitReason = "take_profit"
	ExitStopLoss   ExitReason = "stop_loss"
	ExitManual     ExitReason = "manual"
	ExitTimeout    ExitReason = "timeout"
	ExitError      ExitReason = "error"
)

// RecoveryDecisionID marks positions adopted at startup rather than opened
// by a decision, so provenance stays explicit in the outcome log.
const RecoveryDecisionID = "recovery"

// Position is the monitor's view of one trade. The monitor is the only
// writer; once State reaches closed the record is frozen.
type Position struct {
	ID               string            `json:"id"`
	VenueID          string            `json:"venue_id"`
	DecisionID       string            `json:"decision_id"`
	Instrument       market.Instrument `json:"instrument"`
	Side             platform.Side     `json:"side"`
	EntryPrice       float64           `json:"entry_price"`
	Size             float64           `json:"size"`
	OpenedAt         time.Time         `json:"opened_at"`
	StopLoss         float64           `json:"stop_loss,omitempty"`
	TakeProfit       float64           `json:"take_profit,omitempty"`
	PeakUnrealized   float64           `json:"peak_unrealised"`
	TroughUnrealized float64           `json:"trough_unrealised"`
	State            PositionState     `json:"state"`
	OracleIDs        []string          `json:"oracle_ids,omitempty"`
}

// TradeOutcome is the learning record written once per closed position.
type TradeOutcome struct {
	PositionID string        `json:"position_id"`
	DecisionID string        `json:"decision_id"`
	PnL        float64       `json:"pnl"`
	PnLPct     float64       `json:"pnl_pct"`
	Duration   time.Duration `json:"duration"`
	ExitReason ExitReason    `json:"exit_reason"`
	OracleIDs  []string      `json:"oracle_ids,omitempty"`
	RegimeTag  string        `json:"regime_tag,omitempty"`
	ClosedAt   time.Time     `json:"closed_at"`
}

// StableKey derives a position id that survives monitor restarts: the same
// venue position always hashes to the same id, so re-detection after a
// restart does not produce a new identity.
func StableKey(venue, symbol string, side platform.Side, entryPrice float64) string {
	h := fnv.New128a()
	fmt.Fprintf(h, "%s|%s|%s|%.8f", venue, symbol, side, entryPrice)
	return hex.EncodeToString(h.Sum(nil))
}
