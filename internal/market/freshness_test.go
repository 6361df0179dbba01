package market

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func quoteAt(class AssetClass, session SessionState, age time.Duration, now time.Time) Quote {
	return Quote{
		Instrument: Instrument{Symbol: "TEST", Class: class, Venue: "paper"},
		Bid:        99.0,
		Ask:        101.0,
		Timestamp:  now.Add(-age),
		Session:    session,
	}
}

func TestGate_CryptoThresholds(t *testing.T) {
	gate := NewGate(DefaultGateConfig())
	now := time.Now().UTC()

	t.Run("fresh quote passes", func(t *testing.T) {
		res := gate.Check(quoteAt(AssetCrypto, SessionOpen, 1*time.Minute, now), now)
		assert.True(t, res.Fresh)
		assert.Equal(t, FreshnessOK, res.Reason)
	})

	t.Run("exactly at limit is stale", func(t *testing.T) {
		res := gate.Check(quoteAt(AssetCrypto, SessionOpen, 5*time.Minute, now), now)
		assert.False(t, res.Fresh)
		assert.Contains(t, res.Reason, FreshnessStale)
	})

	t.Run("just under limit passes", func(t *testing.T) {
		res := gate.Check(quoteAt(AssetCrypto, SessionOpen, 5*time.Minute-time.Second, now), now)
		assert.True(t, res.Fresh)
	})
}

func TestGate_ForexThresholds(t *testing.T) {
	gate := NewGate(DefaultGateConfig())
	now := time.Now().UTC()

	t.Run("open session warns between soft and hard limit", func(t *testing.T) {
		res := gate.Check(quoteAt(AssetForex, SessionOpen, 10*time.Minute, now), now)
		assert.True(t, res.Fresh)
		assert.Contains(t, res.Reason, FreshnessWarn)
	})

	t.Run("open session stale at 20 minutes", func(t *testing.T) {
		res := gate.Check(quoteAt(AssetForex, SessionOpen, 20*time.Minute, now), now)
		assert.False(t, res.Fresh)
	})

	t.Run("closed session allows hours-old quotes", func(t *testing.T) {
		res := gate.Check(quoteAt(AssetForex, SessionClosed, 6*time.Hour, now), now)
		assert.True(t, res.Fresh)
	})

	t.Run("weekend allows up to 72 hours", func(t *testing.T) {
		res := gate.Check(quoteAt(AssetForex, SessionWeekend, 48*time.Hour, now), now)
		assert.True(t, res.Fresh)

		res = gate.Check(quoteAt(AssetForex, SessionWeekend, 72*time.Hour, now), now)
		assert.False(t, res.Fresh)
	})
}

func TestGate_EquityThresholds(t *testing.T) {
	gate := NewGate(DefaultGateConfig())
	now := time.Now().UTC()

	t.Run("intraday stale after 5 minutes", func(t *testing.T) {
		res := gate.Check(quoteAt(AssetEquity, SessionOpen, 6*time.Minute, now), now)
		assert.False(t, res.Fresh)
	})

	t.Run("closed session allows the last quarter hour", func(t *testing.T) {
		res := gate.Check(quoteAt(AssetEquity, SessionClosed, 10*time.Minute, now), now)
		assert.True(t, res.Fresh)
	})

	t.Run("closed session stale past fifteen minutes", func(t *testing.T) {
		res := gate.Check(quoteAt(AssetEquity, SessionClosed, 20*time.Minute, now), now)
		assert.False(t, res.Fresh)
	})

	t.Run("daily limits accept overnight quotes", func(t *testing.T) {
		cfg := DefaultGateConfig()
		cfg.Equity = DailyEquityLimits()
		res := NewGate(cfg).Check(quoteAt(AssetEquity, SessionClosed, 12*time.Hour, now), now)
		assert.True(t, res.Fresh)
	})
}

func TestSessionFor(t *testing.T) {
	tests := []struct {
		name  string
		class AssetClass
		at    time.Time
		want  SessionState
	}{
		{"crypto always open", AssetCrypto, time.Date(2026, 8, 22, 3, 0, 0, 0, time.UTC), SessionOpen},
		{"forex saturday is weekend", AssetForex, time.Date(2026, 8, 22, 12, 0, 0, 0, time.UTC), SessionWeekend},
		{"forex friday evening closes", AssetForex, time.Date(2026, 8, 21, 23, 0, 0, 0, time.UTC), SessionWeekend},
		{"forex sunday reopens at 22", AssetForex, time.Date(2026, 8, 23, 22, 30, 0, 0, time.UTC), SessionOpen},
		{"forex midweek open", AssetForex, time.Date(2026, 8, 19, 9, 0, 0, 0, time.UTC), SessionOpen},
		{"equity weekday in hours", AssetEquity, time.Date(2026, 8, 19, 15, 0, 0, 0, time.UTC), SessionOpen},
		{"equity weekday after hours", AssetEquity, time.Date(2026, 8, 19, 22, 0, 0, 0, time.UTC), SessionClosed},
		{"equity sunday is weekend", AssetEquity, time.Date(2026, 8, 23, 15, 0, 0, 0, time.UTC), SessionWeekend},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SessionFor(tt.class, tt.at))
		})
	}
}
