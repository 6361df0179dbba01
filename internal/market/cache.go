package market

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// CachedProvider wraps a DataProvider with a Redis quote cache. Cache
// failures are never fatal: a miss or a Redis error falls through to the
// inner provider. Candles are not cached; they are only requested by the
// rule oracle at analysis time.
type CachedProvider struct {
	inner  DataProvider
	client *redis.Client
	ttl    time.Duration
}

// NewCachedProvider creates a caching layer in front of a data provider.
// If client is nil the inner provider is used directly.
func NewCachedProvider(inner DataProvider, client *redis.Client, ttl time.Duration) *CachedProvider {
	if ttl == 0 {
		ttl = 30 * time.Second
	}
	return &CachedProvider{inner: inner, client: client, ttl: ttl}
}

// Quote returns a cached quote when present and fresh enough, otherwise
// fetches from the inner provider and populates the cache.
func (c *CachedProvider) Quote(ctx context.Context, inst Instrument) (Quote, error) {
	if q, ok := c.get(ctx, inst); ok {
		return q, nil
	}

	q, err := c.inner.Quote(ctx, inst)
	if err != nil {
		return Quote{}, err
	}

	c.set(ctx, q)
	return q, nil
}

// Candles passes through to the inner provider.
func (c *CachedProvider) Candles(ctx context.Context, inst Instrument, timeframe string, n int) ([]Candle, error) {
	return c.inner.Candles(ctx, inst, timeframe, n)
}

func (c *CachedProvider) get(ctx context.Context, inst Instrument) (Quote, bool) {
	if c.client == nil {
		return Quote{}, false
	}

	cacheCtx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cancel()

	cached, err := c.client.Get(cacheCtx, c.key(inst)).Result()
	if err != nil {
		if err != redis.Nil {
			log.Debug().Err(err).Str("instrument", inst.Key()).Msg("Redis get error - treating as cache miss")
		}
		return Quote{}, false
	}

	var q Quote
	if err := json.Unmarshal([]byte(cached), &q); err != nil {
		log.Warn().Err(err).Str("instrument", inst.Key()).Msg("Failed to unmarshal cached quote")
		return Quote{}, false
	}

	return q, true
}

func (c *CachedProvider) set(ctx context.Context, q Quote) {
	if c.client == nil {
		return
	}

	data, err := json.Marshal(q)
	if err != nil {
		return
	}

	cacheCtx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cancel()

	if err := c.client.Set(cacheCtx, c.key(q.Instrument), data, c.ttl).Err(); err != nil {
		log.Debug().Err(err).Str("instrument", q.Instrument.Key()).Msg("Failed to cache quote")
	}
}

func (c *CachedProvider) key(inst Instrument) string {
	return fmt.Sprintf("quote:%s", inst.Key())
}
