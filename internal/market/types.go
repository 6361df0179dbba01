// Package market defines the instrument and quote model shared by the
// trading pipeline, the per-asset session calendar, and the data freshness
// gate that guards analysis against stale quotes.
package market

import (
	"fmt"
	"time"
)

// AssetClass identifies the market an instrument trades in.
type AssetClass string

const (
	AssetCrypto AssetClass = "crypto"
	AssetForex  AssetClass = "forex"
	AssetEquity AssetClass = "equity"
)

// SessionState describes whether an instrument's venue is currently trading.
type SessionState string

const (
	SessionOpen    SessionState = "open"
	SessionClosed  SessionState = "closed"
	SessionWeekend SessionState = "weekend"
)

// Instrument is a tradable symbol on a venue. Instruments are immutable
// after creation and used as routing keys throughout the pipeline.
type Instrument struct {
	Symbol string     `json:"symbol"`
	Class  AssetClass `json:"asset_class"`
	Venue  string     `json:"venue"`
}

// Key returns the routing key for the instrument.
func (i Instrument) Key() string {
	return fmt.Sprintf("%s:%s", i.Venue, i.Symbol)
}

func (i Instrument) String() string {
	return i.Key()
}

// Quote is a point-in-time bid/ask snapshot for an instrument.
type Quote struct {
	Instrument Instrument   `json:"instrument"`
	Bid        float64      `json:"bid"`
	Ask        float64      `json:"ask"`
	Timestamp  time.Time    `json:"ts"`
	Session    SessionState `json:"session_state"`
}

// Mid returns the quote midpoint.
func (q Quote) Mid() float64 {
	return (q.Bid + q.Ask) / 2
}

// Candle is a single OHLCV bar.
type Candle struct {
	Open     float64   `json:"open"`
	High     float64   `json:"high"`
	Low      float64   `json:"low"`
	Close    float64   `json:"close"`
	Volume   float64   `json:"volume"`
	OpenTime time.Time `json:"open_time"`
}

// SessionFor derives the session state for an asset class at a UTC instant.
// Crypto trades continuously. Forex closes from Friday 22:00 UTC until
// Sunday 22:00 UTC. Equity trades 14:30-21:00 UTC on weekdays.
func SessionFor(class AssetClass, at time.Time) SessionState {
	at = at.UTC()
	switch class {
	case AssetCrypto:
		return SessionOpen
	case AssetForex:
		switch at.Weekday() {
		case time.Saturday:
			return SessionWeekend
		case time.Friday:
			if at.Hour() >= 22 {
				return SessionWeekend
			}
			return SessionOpen
		case time.Sunday:
			if at.Hour() >= 22 {
				return SessionOpen
			}
			return SessionWeekend
		default:
			return SessionOpen
		}
	case AssetEquity:
		switch at.Weekday() {
		case time.Saturday, time.Sunday:
			return SessionWeekend
		}
		minutes := at.Hour()*60 + at.Minute()
		if minutes >= 14*60+30 && minutes < 21*60 {
			return SessionOpen
		}
		return SessionClosed
	default:
		return SessionClosed
	}
}
