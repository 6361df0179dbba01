package risk

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSizer_RiskBudgetFormula(t *testing.T) {
	s := NewSizer(DefaultSizerConfig())

	// 10000 * 0.01 / |100 - 98| = 50 units, but the concentration cap
	// limits notional to 2500, i.e. 25 units.
	size := s.Compute(10_000, 100, 98)
	require.NotNil(t, size.Units)
	assert.False(t, size.SignalOnly)
	assert.InDelta(t, 25, *size.Units, 1e-9)
}

func TestSizer_UncappedWhenWithinConcentration(t *testing.T) {
	cfg := DefaultSizerConfig()
	cfg.RiskPerTrade = 0.005
	s := NewSizer(cfg)

	// 10000 * 0.005 / |100 - 90| = 5 units, notional 500 well under cap.
	size := s.Compute(10_000, 100, 90)
	require.NotNil(t, size.Units)
	assert.InDelta(t, 5, *size.Units, 1e-9)
}

func TestSizer_VenueMinimumFloor(t *testing.T) {
	cfg := DefaultSizerConfig()
	cfg.VenueMinimum = 0.01
	cfg.RiskPerTrade = 0.0001
	s := NewSizer(cfg)

	// 200 * 0.0001 / 2 = 0.01 risk units round down to the venue minimum.
	size := s.Compute(200, 100, 98)
	require.NotNil(t, size.Units)
	assert.Equal(t, 0.01, *size.Units)
}

func TestSizer_SignalOnlyGuards(t *testing.T) {
	cases := []struct {
		name                string
		equity, entry, stop float64
	}{
		{"equity at floor", 100, 100, 98},
		{"equity below floor", 50, 100, 98},
		{"entry equals stop", 10_000, 100, 100},
		{"non-positive entry", 10_000, 0, 98},
	}

	s := NewSizer(DefaultSizerConfig())
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			size := s.Compute(tc.equity, tc.entry, tc.stop)
			assert.True(t, size.SignalOnly)
			assert.Nil(t, size.Units)
			assert.NotEmpty(t, size.Reason)
		})
	}
}

func TestSizer_DefaultStopApplied(t *testing.T) {
	s := NewSizer(DefaultSizerConfig())

	size := s.Compute(10_000, 100, 0)
	require.NotNil(t, size.Units)
	assert.InDelta(t, 98, size.StopLoss, 1e-9)
}

func TestSizer_SignalOnlyDefaultWhenEquityUnknown(t *testing.T) {
	cfg := DefaultSizerConfig()
	cfg.SignalOnlyDefault = true
	s := NewSizer(cfg)

	size := s.Compute(0, 100, 98)
	assert.True(t, size.SignalOnly)
	assert.Equal(t, "equity unknown", size.Reason)
}
