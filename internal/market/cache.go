package market

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// CachedFetcher wraps a Fetcher with a short-TTL Redis cache so a fan-out
// of a dozen agents against the same symbol, or a DriftMonitor tick across
// many active analyses, does not multiply provider load.
type CachedFetcher struct {
	inner      Fetcher
	redis      *redis.Client
	quoteTTL   time.Duration
	historyTTL time.Duration
}

// NewCachedFetcher wraps inner with Redis-backed memoization.
func NewCachedFetcher(inner Fetcher, client *redis.Client, quoteTTL, historyTTL time.Duration) *CachedFetcher {
	if quoteTTL <= 0 {
		quoteTTL = 15 * time.Second
	}
	if historyTTL <= 0 {
		historyTTL = 5 * time.Minute
	}
	return &CachedFetcher{inner: inner, redis: client, quoteTTL: quoteTTL, historyTTL: historyTTL}
}

func (c *CachedFetcher) Quote(ctx context.Context, symbol string) (*Quote, error) {
	key := fmt.Sprintf("market:quote:%s", symbol)
	var cached Quote
	if c.getCached(ctx, key, &cached) {
		return &cached, nil
	}

	result, err := c.inner.Quote(ctx, symbol)
	if err != nil {
		return nil, err
	}
	c.setCached(ctx, key, result, c.quoteTTL)
	return result, nil
}

func (c *CachedFetcher) History(ctx context.Context, symbol, period, interval string) ([]OHLCV, error) {
	key := fmt.Sprintf("market:history:%s:%s:%s", symbol, period, interval)
	var cached []OHLCV
	if c.getCached(ctx, key, &cached) {
		return cached, nil
	}

	result, err := c.inner.History(ctx, symbol, period, interval)
	if err != nil {
		return nil, err
	}
	c.setCached(ctx, key, result, c.historyTTL)
	return result, nil
}

func (c *CachedFetcher) Fundamentals(ctx context.Context, symbol string) (*Fundamentals, error) {
	key := fmt.Sprintf("market:fundamentals:%s", symbol)
	var cached Fundamentals
	if c.getCached(ctx, key, &cached) {
		return &cached, nil
	}

	result, err := c.inner.Fundamentals(ctx, symbol)
	if err != nil {
		return nil, err
	}
	// Fundamentals change slowly; cache for the same window as history.
	c.setCached(ctx, key, result, c.historyTTL)
	return result, nil
}

func (c *CachedFetcher) getCached(ctx context.Context, key string, out interface{}) bool {
	raw, err := c.redis.Get(ctx, key).Result()
	if err != nil {
		if err != redis.Nil {
			log.Debug().Err(err).Str("key", key).Msg("market cache lookup failed")
		}
		return false
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("market cache entry corrupt, refetching")
		return false
	}
	return true
}

func (c *CachedFetcher) setCached(ctx context.Context, key string, value interface{}, ttl time.Duration) {
	data, err := json.Marshal(value)
	if err != nil {
		log.Warn().Err(err).Str("key", key).Msg("failed to marshal market cache entry")
		return
	}
	if err := c.redis.Set(ctx, key, data, ttl).Err(); err != nil {
		log.Debug().Err(err).Str("key", key).Msg("failed to write market cache entry")
	}
}
