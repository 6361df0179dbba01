// Package approval routes signal-only decisions to humans. The contract is
// publish-ack: a decision counts as delivered only when at least one
// transport acknowledges it, and a missing transport is a hard error.
package approval

import (
	"context"
	"fmt"
	"time"

	"github.com/helmsman-trade/helmsman/internal/ensemble"
)

// Verdict is a human's later response to a published decision.
type Verdict string

const (
	VerdictApproved Verdict = "approved"
	VerdictRejected Verdict = "rejected"
)

// Response is an approval callback recorded for reconciliation.
type Response struct {
	DecisionID string    `json:"decision_id"`
	Verdict    Verdict   `json:"verdict"`
	Responder  string    `json:"responder"`
	At         time.Time `json:"at"`
}

// Transport delivers a decision for human action. Publish must return only
// after the transport has accepted the message; the later approve/reject
// callback is reported on Responses.
type Transport interface {
	Name() string
	Publish(ctx context.Context, d *ensemble.Decision) error
	Responses() <-chan Response
}

// DeliveryError reports that no transport acknowledged a publish.
type DeliveryError struct {
	DecisionID string
	Attempted  int
	LastErr    error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("no delivery channel for decision %s after %d transports: %v",
		e.DecisionID, e.Attempted, e.LastErr)
}

func (e *DeliveryError) Unwrap() error {
	return e.LastErr
}
