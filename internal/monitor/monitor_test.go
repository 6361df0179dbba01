package monitor

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helmsman-trade/helmsman/internal/market"
	"github.com/helmsman-trade/helmsman/internal/platform"
	"github.com/helmsman-trade/helmsman/internal/registry"
)

type staticQuotes struct {
	price float64
}

func (s *staticQuotes) Quote(_ context.Context, inst market.Instrument) (market.Quote, error) {
	return market.Quote{
		Instrument: inst,
		Bid:        s.price,
		Ask:        s.price,
		Timestamp:  time.Now().UTC(),
		Session:    market.SessionOpen,
	}, nil
}

func (s *staticQuotes) Candles(context.Context, market.Instrument, string, int) ([]market.Candle, error) {
	return nil, nil
}

func monitorRegistry() *registry.Registry {
	return registry.New(registry.Settings{
		Breaker: registry.BreakerSettings{FailureThreshold: 3, RecoveryTimeout: time.Minute},
		Limiter: registry.LimiterSettings{Rate: 1000, Burst: 1000},
		Pool:    registry.PoolSettings{Size: 5, AcquireTimeout: time.Second},
	})
}

func btc() market.Instrument {
	return market.Instrument{Symbol: "BTC/USDT", Class: market.AssetCrypto, Venue: "binance"}
}

func newTestMonitor(t *testing.T, port *platform.MockPort) *Monitor {
	t.Helper()
	cfg := DefaultConfig()
	cfg.StatePath = filepath.Join(t.TempDir(), "known.json")
	m, err := New(port, &staticQuotes{price: 100}, monitorRegistry(), cfg)
	require.NoError(t, err)
	return m
}

func TestStableKey_Deterministic(t *testing.T) {
	a := StableKey("binance", "BTC/USDT", platform.SideLong, 65000.5)
	b := StableKey("binance", "BTC/USDT", platform.SideLong, 65000.5)
	c := StableKey("binance", "BTC/USDT", platform.SideShort, 65000.5)
	d := StableKey("kraken", "BTC/USDT", platform.SideLong, 65000.5)

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.NotEqual(t, a, d)
	assert.Len(t, a, 32) // 128-bit hex
}

func TestMonitor_DetectsNewPosition(t *testing.T) {
	port := platform.NewMockPort(10_000)
	m := newTestMonitor(t, port)

	m.ExpectPosition(btc(), platform.SideLong, "decision-1", 98, 110, []string{"alpha"})
	port.SeedPosition(platform.VenuePosition{
		Instrument: btc(),
		Side:       platform.SideLong,
		EntryPrice: 100,
		Size:       1,
		OpenedAt:   time.Now().UTC(),
	})

	require.NoError(t, m.Poll(context.Background()))

	select {
	case pos := <-m.Opens():
		assert.Equal(t, "decision-1", pos.DecisionID)
		assert.Equal(t, 110.0, pos.TakeProfit)
		assert.Equal(t, []string{"alpha"}, pos.OracleIDs)
	default:
		t.Fatal("expected an open event")
	}
}

func TestMonitor_RestartYieldsNoSpuriousOutcomes(t *testing.T) {
	port := platform.NewMockPort(10_000)
	statePath := filepath.Join(t.TempDir(), "known.json")

	port.SeedPosition(platform.VenuePosition{
		Instrument: btc(),
		Side:       platform.SideLong,
		EntryPrice: 100,
		Size:       1,
		OpenedAt:   time.Now().UTC(),
	})

	cfg := DefaultConfig()
	cfg.StatePath = statePath
	first, err := New(port, &staticQuotes{price: 100}, monitorRegistry(), cfg)
	require.NoError(t, err)
	require.NoError(t, first.Poll(context.Background()))
	<-first.Opens()

	// Restart with the same state file and unchanged exchange.
	second, err := New(port, &staticQuotes{price: 100}, monitorRegistry(), cfg)
	require.NoError(t, err)
	require.NoError(t, second.Poll(context.Background()))

	select {
	case <-second.Opens():
		t.Fatal("restart must not re-detect an existing position")
	default:
	}
	select {
	case <-second.Outcomes():
		t.Fatal("restart must not emit spurious outcomes")
	default:
	}
	assert.Len(t, second.Tracked(), 1)
}

func TestMonitor_DisappearanceEmitsManualOutcome(t *testing.T) {
	port := platform.NewMockPort(10_000)
	m := newTestMonitor(t, port)

	port.SeedPosition(platform.VenuePosition{
		VenueID:    "v1",
		Instrument: btc(),
		Side:       platform.SideLong,
		EntryPrice: 100,
		Size:       1,
		OpenedAt:   time.Now().UTC(),
	})
	require.NoError(t, m.Poll(context.Background()))
	<-m.Opens()

	port.DropPosition("v1")
	require.NoError(t, m.Poll(context.Background()))

	select {
	case outcome := <-m.Outcomes():
		assert.Equal(t, ExitManual, outcome.ExitReason)
		assert.Equal(t, RecoveryDecisionID, outcome.DecisionID)
	default:
		t.Fatal("expected an outcome")
	}
}

func TestMonitor_ExplicitClosePrecedence(t *testing.T) {
	port := platform.NewMockPort(10_000)
	m := newTestMonitor(t, port)

	port.SeedPosition(platform.VenuePosition{
		VenueID:    "v1",
		Instrument: btc(),
		Side:       platform.SideLong,
		EntryPrice: 100,
		Size:       1,
		OpenedAt:   time.Now().UTC(),
	})
	require.NoError(t, m.Poll(context.Background()))
	pos := <-m.Opens()

	m.NotifyClose(pos.ID)
	port.DropPosition("v1")
	require.NoError(t, m.Poll(context.Background()))

	outcome := <-m.Outcomes()
	assert.Equal(t, ExitManual, outcome.ExitReason)
}

func TestMonitor_OutcomeEmittedOnce(t *testing.T) {
	port := platform.NewMockPort(10_000)
	m := newTestMonitor(t, port)

	port.SeedPosition(platform.VenuePosition{
		VenueID:    "v1",
		Instrument: btc(),
		Side:       platform.SideLong,
		EntryPrice: 100,
		Size:       1,
		OpenedAt:   time.Now().UTC(),
	})
	require.NoError(t, m.Poll(context.Background()))
	<-m.Opens()

	port.DropPosition("v1")
	require.NoError(t, m.Poll(context.Background()))
	require.NoError(t, m.Poll(context.Background()))

	<-m.Outcomes()
	select {
	case <-m.Outcomes():
		t.Fatal("closure must emit exactly one outcome")
	default:
	}
}

func TestMonitor_Recover(t *testing.T) {
	port := platform.NewMockPort(10_000)
	m := newTestMonitor(t, port)

	port.SeedPosition(platform.VenuePosition{
		Instrument: btc(),
		Side:       platform.SideLong,
		EntryPrice: 100,
		Size:       2,
		OpenedAt:   time.Now().UTC().Add(-time.Hour),
	})

	require.False(t, m.StartupComplete())
	adopted, err := m.Recover(context.Background(), 3)
	require.NoError(t, err)

	require.Len(t, adopted, 1)
	assert.Equal(t, RecoveryDecisionID, adopted[0].DecisionID)
	assert.True(t, m.StartupComplete())

	// The recovered position is known; the next poll is quiet.
	require.NoError(t, m.Poll(context.Background()))
	select {
	case <-m.Opens():
		t.Fatal("recovered position must not re-open")
	default:
	}
}

func TestKnownStore_PersistsAcrossReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "known.json")

	s, err := newKnownStore(path)
	require.NoError(t, err)
	require.NoError(t, s.add("abc"))
	require.NoError(t, s.add("def"))
	require.NoError(t, s.remove("abc"))

	reloaded, err := newKnownStore(path)
	require.NoError(t, err)
	assert.False(t, reloaded.has("abc"))
	assert.True(t, reloaded.has("def"))
	assert.Equal(t, []string{"def"}, reloaded.snapshot())
}
