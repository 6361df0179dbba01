package oracle

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helmsman-trade/helmsman/internal/market"
	"github.com/helmsman-trade/helmsman/internal/registry"
)

type stubProvider struct {
	id    string
	rec   Recommendation
	err   error
	delay time.Duration
}

func (s *stubProvider) ID() string { return s.id }

func (s *stubProvider) Query(ctx context.Context, _ Prompt) (Recommendation, error) {
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return Recommendation{}, ctx.Err()
		}
	}
	if s.err != nil {
		return Recommendation{}, s.err
	}
	return s.rec, nil
}

func testRegistry() *registry.Registry {
	return registry.New(registry.Settings{
		Breaker: registry.BreakerSettings{FailureThreshold: 3, RecoveryTimeout: time.Minute},
		Limiter: registry.LimiterSettings{Rate: 1000, Burst: 1000},
		Pool:    registry.PoolSettings{Size: 10, AcquireTimeout: time.Second},
	})
}

func testPrompt() Prompt {
	inst := market.Instrument{Symbol: "BTC/USDT", Class: market.AssetCrypto, Venue: "binance"}
	return Prompt{
		Instrument: inst,
		Quote: market.Quote{
			Instrument: inst,
			Bid:        64999,
			Ask:        65001,
			Timestamp:  time.Now().UTC(),
			Session:    market.SessionOpen,
		},
	}
}

func goodRec(action Action, conf int) Recommendation {
	return Recommendation{Action: action, Confidence: conf, Reasoning: "momentum shift"}
}

func TestPool_FanOutCollectsOKAndFailed(t *testing.T) {
	providers := []Provider{
		&stubProvider{id: "alpha", rec: goodRec(ActionBuy, 80)},
		&stubProvider{id: "beta", rec: goodRec(ActionHold, 60)},
		&stubProvider{id: "gamma", err: errors.New("upstream 502")},
	}
	pool := NewPool(providers, testRegistry(), DefaultPoolConfig())

	res := pool.FanOut(context.Background(), testPrompt())

	require.Len(t, res.OK, 2)
	require.Len(t, res.Failed, 1)
	assert.Equal(t, ActionBuy, res.OK["alpha"].Action)
	assert.Equal(t, "alpha", res.OK["alpha"].OracleID)
	assert.Equal(t, FailTransport, res.Failed["gamma"].Reason)
}

func TestPool_InvalidOutputMovedToFailed(t *testing.T) {
	cases := []struct {
		name string
		rec  Recommendation
	}{
		{"undefined action", Recommendation{Action: "MAYBE", Confidence: 50, Reasoning: "x"}},
		{"confidence out of range", Recommendation{Action: ActionBuy, Confidence: 120, Reasoning: "x"}},
		{"empty reasoning", Recommendation{Action: ActionSell, Confidence: 50, Reasoning: "  "}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			pool := NewPool([]Provider{&stubProvider{id: "alpha", rec: tc.rec}}, testRegistry(), DefaultPoolConfig())

			res := pool.FanOut(context.Background(), testPrompt())

			assert.Empty(t, res.OK)
			require.Contains(t, res.Failed, "alpha")
			assert.Equal(t, FailInvalid, res.Failed["alpha"].Reason)
		})
	}
}

func TestPool_SlowProviderTimesOut(t *testing.T) {
	cfg := DefaultPoolConfig()
	cfg.CallTimeout = 30 * time.Millisecond

	providers := []Provider{
		&stubProvider{id: "fast", rec: goodRec(ActionSell, 70)},
		&stubProvider{id: "slow", rec: goodRec(ActionBuy, 90), delay: 500 * time.Millisecond},
	}
	pool := NewPool(providers, testRegistry(), cfg)

	start := time.Now()
	res := pool.FanOut(context.Background(), testPrompt())

	assert.Less(t, time.Since(start), 400*time.Millisecond, "straggler must be cancelled")
	require.Contains(t, res.OK, "fast")
	require.Contains(t, res.Failed, "slow")
	assert.Equal(t, FailTimeout, res.Failed["slow"].Reason)
}

func TestPool_OpenCircuitExcludesOracle(t *testing.T) {
	reg := testRegistry()
	failing := &stubProvider{id: "flaky", err: errors.New("down")}
	pool := NewPool([]Provider{failing}, reg, DefaultPoolConfig())

	for i := 0; i < 3; i++ {
		res := pool.FanOut(context.Background(), testPrompt())
		assert.Equal(t, FailTransport, res.Failed["flaky"].Reason)
	}

	res := pool.FanOut(context.Background(), testPrompt())
	require.Contains(t, res.Failed, "flaky")
	assert.Equal(t, FailCircuitOpen, res.Failed["flaky"].Reason)
}

func TestValidate(t *testing.T) {
	assert.NoError(t, Validate(goodRec(ActionHold, 0)))
	assert.NoError(t, Validate(goodRec(ActionBuy, 100)))
	assert.Error(t, Validate(goodRec(ActionBuy, -1)))
	assert.Error(t, Validate(goodRec(ActionBuy, 101)))
	assert.Error(t, Validate(Recommendation{Action: ActionBuy, Confidence: 50}))
	assert.Error(t, Validate(Recommendation{Action: "SHRUG", Confidence: 50, Reasoning: "x"}))
}
