// Package oracle defines the decision-provider port and the pool that fans
// a prompt out to every configured oracle, collecting validated
// recommendations and classified failures for the ensemble aggregator.
package oracle

import (
	"context"
	"time"

	"github.com/helmsman-trade/helmsman/internal/market"
)

// Action is an oracle's trading verdict.
type Action string

const (
	ActionBuy        Action = "BUY"
	ActionSell       Action = "SELL"
	ActionHold       Action = "HOLD"
	ActionNoDecision Action = "NO_DECISION"
)

// Defined reports whether a is one of the known actions.
func (a Action) Defined() bool {
	switch a {
	case ActionBuy, ActionSell, ActionHold, ActionNoDecision:
		return true
	}
	return false
}

// Prompt is the analysis request sent to every oracle in a fan-out. Memory
// holds the similar-past summary supplied by the memory engine; oracles may
// ignore it.
type Prompt struct {
	Instrument market.Instrument
	Quote      market.Quote
	Candles    []market.Candle
	Memory     string
}

// Recommendation is one oracle's answer to a prompt. Amount, StopLoss, and
// TakeProfit are optional; Confidence is an integer percentage.
type Recommendation struct {
	OracleID   string    `json:"oracle_id"`
	Action     Action    `json:"action"`
	Confidence int       `json:"confidence"`
	Reasoning  string    `json:"reasoning"`
	Amount     *float64  `json:"amount,omitempty"`
	StopLoss   *float64  `json:"stop_loss,omitempty"`
	TakeProfit *float64  `json:"take_profit,omitempty"`
	ProducedAt time.Time `json:"produced_at"`
}

// FailureReason classifies why an oracle produced no usable recommendation.
type FailureReason string

const (
	FailTimeout     FailureReason = "timeout"
	FailInvalid     FailureReason = "invalid"
	FailRateLimited FailureReason = "rate_limited"
	FailTransport   FailureReason = "transport"
	FailCircuitOpen FailureReason = "circuit_open"
)

// Failure records one oracle's exclusion from a cycle.
type Failure struct {
	OracleID string        `json:"oracle_id"`
	Reason   FailureReason `json:"reason"`
	Err      error         `json:"-"`
}

func (f Failure) Error() string {
	msg := f.OracleID + ": " + string(f.Reason)
	if f.Err != nil {
		msg += ": " + f.Err.Error()
	}
	return msg
}

func (f Failure) Unwrap() error {
	return f.Err
}

// Provider is the decision-provider port. Query must respect ctx
// cancellation; the pool enforces the per-call timeout through it.
type Provider interface {
	ID() string
	Query(ctx context.Context, prompt Prompt) (Recommendation, error)
}
