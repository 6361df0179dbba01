package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helmsman-trade/helmsman/internal/market"
	"github.com/helmsman-trade/helmsman/internal/registry"
)

const minimalYAML = `
app:
  name: helmsman
instruments:
  - symbol: BTC/USDT
    asset_class: crypto
    venue: binance
  - symbol: EUR/USD
    asset_class: forex
    venue: oanda
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_DefaultsApplied(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalYAML))
	require.NoError(t, err)

	assert.Equal(t, "helmsman", cfg.App.Name)
	assert.Equal(t, time.Minute, cfg.Agent.CycleInterval)
	assert.Equal(t, 90*time.Second, cfg.Agent.AnalysisDeadline)
	assert.Equal(t, 3, cfg.Ensemble.QuorumMin)
	assert.Equal(t, "weighted", cfg.Ensemble.Strategy)
	assert.Equal(t, 0.05, cfg.Risk.KillSwitchPct)
	assert.Equal(t, 0.01, cfg.Sizing.RiskPerTrade)
	assert.Equal(t, 500*time.Millisecond, cfg.Executor.RetryBase)
	assert.Equal(t, 8080, cfg.API.Port)
	assert.False(t, cfg.Vault.Enabled)
}

func TestLoad_OverridesFromFile(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalYAML+`
agent:
  cycle_interval: 30s
risk:
  max_daily_trades: 5
ensemble:
  strategy: majority
  strict_quorum: true
`))
	require.NoError(t, err)

	assert.Equal(t, 30*time.Second, cfg.Agent.CycleInterval)
	assert.Equal(t, 5, cfg.Risk.MaxDailyTrades)
	assert.Equal(t, "majority", cfg.Ensemble.Strategy)
	assert.True(t, cfg.Ensemble.StrictQuorum)
}

func TestLoad_RegistrySettings(t *testing.T) {
	t.Run("defaults match the free tier", func(t *testing.T) {
		cfg, err := Load(writeConfig(t, minimalYAML))
		require.NoError(t, err)

		s := cfg.Registry.Settings()
		assert.Equal(t, registry.DefaultSettings(), s)
	})

	t.Run("paid tier and overrides apply", func(t *testing.T) {
		cfg, err := Load(writeConfig(t, minimalYAML+`
registry:
  rate_tier: paid
  failure_threshold: 5
  recovery_timeout: 30s
  pool_size: 12
`))
		require.NoError(t, err)

		s := cfg.Registry.Settings()
		assert.Equal(t, registry.PaidTierLimiter(), s.Limiter)
		assert.Equal(t, uint32(5), s.Breaker.FailureThreshold)
		assert.Equal(t, 30*time.Second, s.Breaker.RecoveryTimeout)
		assert.Equal(t, int64(12), s.Pool.Size)
	})
}

func TestLoad_FreshnessTable(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalYAML+`
freshness:
  soft: 2m
  crypto:
    open: 1m
  equity:
    closed: 10m
  equity_daily:
    closed: 48h
`))
	require.NoError(t, err)

	t.Run("intraday timeframe uses the intraday equity row", func(t *testing.T) {
		gc := cfg.Freshness.GateConfig("1h")
		assert.Equal(t, 2*time.Minute, gc.Soft)
		assert.Equal(t, time.Minute, gc.Crypto.Open)
		assert.Equal(t, 10*time.Minute, gc.Equity.Closed)
		assert.Equal(t, 15*time.Minute, gc.Forex.Open, "untouched rows keep their defaults")
	})

	t.Run("daily timeframe swaps in the daily equity row", func(t *testing.T) {
		gc := cfg.Freshness.GateConfig("1d")
		assert.Equal(t, 48*time.Hour, gc.Equity.Closed)
		assert.Equal(t, 72*time.Hour, gc.Equity.Weekend)
	})
}

func TestLoad_ProviderWeights(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalYAML+`
ensemble:
  provider_weights:
    momentum: 0.5
    swing: 0.3
    scalper: 0.2
`))
	require.NoError(t, err)
	assert.InDelta(t, 0.5, cfg.Ensemble.ProviderWeights["momentum"], 1e-9)
	assert.Len(t, cfg.Ensemble.ProviderWeights, 3)
}

func TestLoad_ValidationFailures(t *testing.T) {
	cases := []struct {
		name string
		yaml string
	}{
		{"no instruments", "app:\n  name: helmsman\n"},
		{"bad asset class", `
app:
  name: helmsman
instruments:
  - symbol: GOLD
    asset_class: commodity
    venue: comex
`},
		{"drawdown out of range", minimalYAML + "risk:\n  max_drawdown: 1.5\n"},
		{"bad strategy", minimalYAML + "ensemble:\n  strategy: quantum\n"},
		{"telegram without token", minimalYAML + "telegram:\n  enabled: true\n"},
		{"provider weights not normalized", minimalYAML + `
ensemble:
  provider_weights:
    momentum: 0.9
    swing: 0.9
`},
		{"unknown rate tier", minimalYAML + "registry:\n  rate_tier: enterprise\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tc.yaml))
			assert.Error(t, err)
		})
	}
}

func TestMarketInstruments(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalYAML))
	require.NoError(t, err)

	insts := cfg.MarketInstruments()
	require.Len(t, insts, 2)
	assert.Equal(t, market.Instrument{Symbol: "BTC/USDT", Class: market.AssetCrypto, Venue: "binance"}, insts[0])
	assert.Equal(t, market.AssetForex, insts[1].Class)
}

func TestFingerprint_DistinguishesConfigs(t *testing.T) {
	a, err := Load(writeConfig(t, minimalYAML))
	require.NoError(t, err)
	b, err := Load(writeConfig(t, minimalYAML+"risk:\n  max_daily_trades: 7\n"))
	require.NoError(t, err)

	assert.NotZero(t, a.Fingerprint())
	assert.Equal(t, a.Fingerprint(), a.Fingerprint(), "fingerprint must be stable")
	assert.NotEqual(t, a.Fingerprint(), b.Fingerprint())
}
