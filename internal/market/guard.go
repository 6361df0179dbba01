package market

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/helmsman-trade/helmsman/internal/registry"
)

// DataService is the registry service name for the market-data feed. Every
// consumer of quotes and candles shares the (DataService, credential)
// triple, so a feed outage observed on one call site fails fast on all.
const DataService = "market-data"

// GuardedProvider routes every data fetch through the shared resource
// triple: rate limiter, bounded connection pool, then circuit breaker.
type GuardedProvider struct {
	inner  DataProvider
	triple *registry.Triple
	logger zerolog.Logger
}

// NewGuardedProvider wraps a data provider with the registry triple for
// the given credential. An empty credential maps to "default".
func NewGuardedProvider(inner DataProvider, reg *registry.Registry, credential string) *GuardedProvider {
	if credential == "" {
		credential = "default"
	}
	return &GuardedProvider{
		inner:  inner,
		triple: reg.Get(DataService, credential),
		logger: log.With().Str("component", "market_data").Logger(),
	}
}

// Quote fetches the latest quote through the guard chain.
func (g *GuardedProvider) Quote(ctx context.Context, inst Instrument) (Quote, error) {
	v, err := g.call(ctx, func() (interface{}, error) {
		return g.inner.Quote(ctx, inst)
	})
	if err != nil {
		return Quote{}, err
	}
	return v.(Quote), nil
}

// Candles fetches recent bars through the guard chain.
func (g *GuardedProvider) Candles(ctx context.Context, inst Instrument, timeframe string, n int) ([]Candle, error) {
	v, err := g.call(ctx, func() (interface{}, error) {
		return g.inner.Candles(ctx, inst, timeframe, n)
	})
	if err != nil {
		return nil, err
	}
	return v.([]Candle), nil
}

func (g *GuardedProvider) call(ctx context.Context, fn func() (interface{}, error)) (interface{}, error) {
	if err := g.triple.Limiter.Wait(ctx); err != nil {
		return nil, err
	}
	if err := g.triple.Pool.Acquire(ctx); err != nil {
		return nil, err
	}
	defer g.triple.Pool.Release()
	return g.triple.Breaker.Execute(ctx, fn)
}
