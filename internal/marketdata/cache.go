package marketdata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/ajitpratap0/stratlab/pkg/backtest"
)

// RedisBarCache caches loaded bar series in Redis so that worker processes
// of a run share one database read
type RedisBarCache struct {
	client *redis.Client
	ttl    time.Duration
}

// barCacheEntry is the cached form of a series
type barCacheEntry struct {
	Query    string                  `json:"query"`
	Bars     []*backtest.Candlestick `json:"bars"`
	CachedAt time.Time               `json:"cached_at"`
}

// NewRedisBarCache creates a new Redis-based bar cache.
// If client is nil, returns nil (optional Redis support)
func NewRedisBarCache(client *redis.Client, ttl time.Duration) *RedisBarCache {
	if client == nil {
		return nil
	}

	if ttl == 0 {
		ttl = time.Hour
	}

	return &RedisBarCache{
		client: client,
		ttl:    ttl,
	}
}

// Get retrieves a series from cache.
// Returns the bars and true if found, or nil and false if not found or on error
func (c *RedisBarCache) Get(ctx context.Context, q Query) ([]*backtest.Candlestick, bool) {
	if c == nil || c.client == nil {
		return nil, false
	}

	key := c.buildKey(q)

	cacheCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	cached, err := c.client.Get(cacheCtx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			log.Debug().
				Err(err).
				Str("key", key).
				Msg("Redis get error - treating as cache miss")
		}
		return nil, false
	}

	var entry barCacheEntry
	if err := json.Unmarshal(cached, &entry); err != nil {
		log.Warn().
			Err(err).
			Str("key", key).
			Msg("Failed to unmarshal cached bars")
		return nil, false
	}

	log.Debug().
		Str("query", entry.Query).
		Int("bars", len(entry.Bars)).
		Time("cached_at", entry.CachedAt).
		Msg("Cache hit for bars")

	return entry.Bars, true
}

// Set stores a series in cache with the configured TTL
func (c *RedisBarCache) Set(ctx context.Context, q Query, bars []*backtest.Candlestick) error {
	if c == nil || c.client == nil {
		return fmt.Errorf("cache not initialized")
	}

	key := c.buildKey(q)

	data, err := json.Marshal(barCacheEntry{
		Query:    q.String(),
		Bars:     bars,
		CachedAt: time.Now(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal bars: %w", err)
	}

	cacheCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := c.client.Set(cacheCtx, key, data, c.ttl).Err(); err != nil {
		log.Warn().
			Err(err).
			Str("key", key).
			Msg("Failed to cache bars")
		return err
	}

	log.Debug().
		Str("query", q.String()).
		Int("bars", len(bars)).
		Dur("ttl", c.ttl).
		Msg("Cached bars")

	return nil
}

// Delete removes a series from cache
func (c *RedisBarCache) Delete(ctx context.Context, q Query) error {
	if c == nil || c.client == nil {
		return fmt.Errorf("cache not initialized")
	}

	cacheCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := c.client.Del(cacheCtx, c.buildKey(q)).Err(); err != nil {
		return fmt.Errorf("failed to delete cache key: %w", err)
	}
	return nil
}

// Health checks if the Redis connection is healthy
func (c *RedisBarCache) Health(ctx context.Context) error {
	if c == nil || c.client == nil {
		return fmt.Errorf("cache not initialized")
	}

	cacheCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := c.client.Ping(cacheCtx).Err(); err != nil {
		return fmt.Errorf("redis health check failed: %w", err)
	}
	return nil
}

// buildKey creates a Redis key for a query
func (c *RedisBarCache) buildKey(q Query) string {
	return "stratlab:bars:" + q.String()
}

// CachedLoader serves loads from a bar cache, falling back to the inner loader
type CachedLoader struct {
	inner Loader
	cache *RedisBarCache
}

// WithCache wraps a loader with a bar cache. A nil cache returns the loader unchanged.
func WithCache(inner Loader, cache *RedisBarCache) Loader {
	if cache == nil {
		return inner
	}
	return &CachedLoader{inner: inner, cache: cache}
}

// Load implements Loader
func (l *CachedLoader) Load(ctx context.Context, q Query) ([]*backtest.Candlestick, error) {
	if bars, ok := l.cache.Get(ctx, q); ok {
		return bars, nil
	}

	bars, err := l.inner.Load(ctx, q)
	if err != nil {
		return nil, err
	}

	// A cache failure never fails the load
	_ = l.cache.Set(ctx, q, bars)
	return bars, nil
}
