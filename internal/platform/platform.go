// Package platform defines the venue port the executor and monitor trade
// through, plus the error taxonomy that separates retryable venue failures
// from permanent ones.
package platform

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/helmsman-trade/helmsman/internal/market"
)

// Side of an order or position.
type Side string

const (
	SideLong  Side = "long"
	SideShort Side = "short"
)

// Balance is the account snapshot used for sizing and kill-switch checks.
type Balance struct {
	Equity    float64   `json:"equity"`
	Available float64   `json:"available"`
	Currency  string    `json:"currency"`
	FetchedAt time.Time `json:"fetched_at"`
}

// VenuePosition is an open position as the venue reports it. The venue is
// the source of truth for fills and balances; the monitor reconciles
// against this snapshot.
type VenuePosition struct {
	VenueID       string            `json:"venue_id"`
	Instrument    market.Instrument `json:"instrument"`
	Side          Side              `json:"side"`
	EntryPrice    float64           `json:"entry_price"`
	Size          float64           `json:"size"`
	UnrealizedPnL float64           `json:"unrealized_pnl"`
	OpenedAt      time.Time         `json:"opened_at"`
}

// Breakdown is the full portfolio view fetched during startup recovery.
type Breakdown struct {
	Balance   Balance         `json:"balance"`
	Positions []VenuePosition `json:"positions"`
	DayPnL    float64         `json:"day_pnl"`
}

// OrderRequest opens a position. ClientOrderID carries the decision id so
// the venue can deduplicate replays.
type OrderRequest struct {
	Instrument    market.Instrument `json:"instrument"`
	Side          Side              `json:"side"`
	Size          float64           `json:"size"`
	StopLoss      float64           `json:"stop_loss,omitempty"`
	TakeProfit    float64           `json:"take_profit,omitempty"`
	ClientOrderID string            `json:"client_order_id"`
}

// OrderAck is the venue's answer to an open.
type OrderAck struct {
	VenueOrderID string    `json:"venue_order_id"`
	FilledSize   float64   `json:"filled_size"`
	FillPrice    float64   `json:"fill_price"`
	Partial      bool      `json:"partial"`
	PlacedAt     time.Time `json:"placed_at"`
}

// Port is the venue adapter contract. Implementations must respect ctx and
// return PermanentError for failures that retrying cannot fix.
type Port interface {
	Balance(ctx context.Context) (Balance, error)
	Positions(ctx context.Context) ([]VenuePosition, error)
	PortfolioBreakdown(ctx context.Context) (Breakdown, error)
	Open(ctx context.Context, req OrderRequest) (OrderAck, error)
	Close(ctx context.Context, venueID string) error
}

// PermanentError marks a venue failure that must not be retried:
// validation, auth, insufficient funds. Everything else is treated as
// transient.
type PermanentError struct {
	Code string
	Err  error
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("permanent venue error %s: %v", e.Code, e.Err)
}

func (e *PermanentError) Unwrap() error {
	return e.Err
}

// IsPermanent reports whether err carries a PermanentError.
func IsPermanent(err error) bool {
	var perm *PermanentError
	return errors.As(err, &perm)
}
