package market

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

// SimulatedFeed is a deterministic random-walk data provider for paper
// trading and local development. Each instrument walks independently from
// a seed derived from its key, so runs are reproducible.
type SimulatedFeed struct {
	mu     sync.Mutex
	prices map[string]float64
	rngs   map[string]*rand.Rand
	spread float64
	vol    float64
	base   float64
}

// NewSimulatedFeed creates a feed starting every instrument at basePrice.
func NewSimulatedFeed(basePrice float64) *SimulatedFeed {
	if basePrice <= 0 {
		basePrice = 100
	}
	return &SimulatedFeed{
		prices: map[string]float64{},
		rngs:   map[string]*rand.Rand{},
		spread: 0.0005,
		vol:    0.002,
		base:   basePrice,
	}
}

func (s *SimulatedFeed) rng(key string) *rand.Rand {
	r, ok := s.rngs[key]
	if !ok {
		var seed int64
		for _, c := range key {
			seed = seed*31 + int64(c)
		}
		r = rand.New(rand.NewSource(seed))
		s.rngs[key] = r
	}
	return r
}

func (s *SimulatedFeed) step(key string) float64 {
	p, ok := s.prices[key]
	if !ok {
		p = s.base
	}
	p *= 1 + s.vol*(s.rng(key).Float64()*2-1)
	s.prices[key] = p
	return p
}

// Quote returns a fresh synthetic quote around the instrument's walk.
func (s *SimulatedFeed) Quote(_ context.Context, inst Instrument) (Quote, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	mid := s.step(inst.Key())
	half := mid * s.spread / 2
	now := time.Now().UTC()
	return Quote{
		Instrument: inst,
		Bid:        mid - half,
		Ask:        mid + half,
		Timestamp:  now,
		Session:    SessionFor(inst.Class, now),
	}, nil
}

// Candles synthesizes n bars ending at the current walk position.
func (s *SimulatedFeed) Candles(_ context.Context, inst Instrument, timeframe string, n int) ([]Candle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	step, err := time.ParseDuration(normalizeTimeframe(timeframe))
	if err != nil {
		step = time.Hour
	}
	key := inst.Key()
	now := time.Now().UTC()

	candles := make([]Candle, n)
	for i := range candles {
		open := s.prices[key]
		if open == 0 {
			open = s.base
		}
		last := s.step(key)
		high, low := open, last
		if last > open {
			high = last
			low = open
		}
		candles[i] = Candle{
			Open:     open,
			High:     high * 1.001,
			Low:      low * 0.999,
			Close:    last,
			Volume:   10 + s.rng(key).Float64()*90,
			OpenTime: now.Add(-time.Duration(n-i) * step),
		}
	}
	return candles, nil
}

// normalizeTimeframe maps exchange-style timeframes onto Go durations.
func normalizeTimeframe(tf string) string {
	switch tf {
	case "1d":
		return "24h"
	case "4h", "1h", "30m", "15m", "5m", "1m":
		return tf
	default:
		return "1h"
	}
}
