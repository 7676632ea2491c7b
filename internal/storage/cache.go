package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"sync/atomic"
	"time"

	"github.com/alqutdigital/funding-crawler/pkg/logger"
)

// RedisClient is the subset of Redis the page cache needs.
type RedisClient interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value any, expiration time.Duration) error
	Del(ctx context.Context, keys ...string) error
	Ping(ctx context.Context) error
	Close() error
}

// PageCache stores fetched HTML by URL. Implementations never fail a fetch:
// errors count as misses.
type PageCache interface {
	Get(ctx context.Context, url string) (string, bool)
	Set(ctx context.Context, url, html string)
}

// NopPageCache caches nothing.
type NopPageCache struct{}

func (NopPageCache) Get(context.Context, string) (string, bool) { return "", false }
func (NopPageCache) Set(context.Context, string, string)        {}

// PageCacheConfig holds configuration for the Redis page cache.
type PageCacheConfig struct {
	Prefix string
	TTL    time.Duration
	// Pages shorter than MinSize are not cached; error pages tend to be tiny.
	MinSize int
}

// DefaultPageCacheConfig returns the default page cache configuration.
func DefaultPageCacheConfig() PageCacheConfig {
	return PageCacheConfig{
		Prefix:  "crawler:page",
		TTL:     6 * time.Hour,
		MinSize: 512,
	}
}

// CacheMetrics tracks page cache statistics.
type CacheMetrics struct {
	Hits   uint64
	Misses uint64
	Writes uint64
	Errors uint64
}

// RedisPageCache is a PageCache backed by Redis. It disables itself when Redis
// is unreachable at construction.
type RedisPageCache struct {
	client  RedisClient
	config  PageCacheConfig
	log     *logger.Logger
	metrics CacheMetrics
	healthy atomic.Bool
}

// NewRedisPageCache creates a page cache on client.
func NewRedisPageCache(client RedisClient, cfg PageCacheConfig, log *logger.Logger) *RedisPageCache {
	if log == nil {
		log = logger.Default()
	}
	c := &RedisPageCache{
		client: client,
		config: cfg,
		log:    log.WithComponent("page-cache"),
	}

	if client == nil {
		return c
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx); err != nil {
		c.log.WithError(err).Warn("Redis connection failed, page cache disabled")
		return c
	}
	c.healthy.Store(true)
	return c
}

// IsHealthy reports whether the cache is operational.
func (c *RedisPageCache) IsHealthy() bool {
	return c.client != nil && c.healthy.Load()
}

// Metrics returns a snapshot of the cache counters.
func (c *RedisPageCache) Metrics() CacheMetrics {
	return CacheMetrics{
		Hits:   atomic.LoadUint64(&c.metrics.Hits),
		Misses: atomic.LoadUint64(&c.metrics.Misses),
		Writes: atomic.LoadUint64(&c.metrics.Writes),
		Errors: atomic.LoadUint64(&c.metrics.Errors),
	}
}

func (c *RedisPageCache) Get(ctx context.Context, url string) (string, bool) {
	if !c.IsHealthy() {
		return "", false
	}

	html, err := c.client.Get(ctx, c.key(url))
	if err != nil {
		atomic.AddUint64(&c.metrics.Misses, 1)
		if !errors.Is(err, ErrCacheMiss) {
			atomic.AddUint64(&c.metrics.Errors, 1)
			c.log.WithError(err).Debug("page cache read failed", "url", url)
		}
		return "", false
	}

	atomic.AddUint64(&c.metrics.Hits, 1)
	c.log.Debug("page cache hit", "url", url)
	return html, true
}

func (c *RedisPageCache) Set(ctx context.Context, url, html string) {
	if !c.IsHealthy() || len(html) < c.config.MinSize {
		return
	}
	if err := c.client.Set(ctx, c.key(url), html, c.config.TTL); err != nil {
		atomic.AddUint64(&c.metrics.Errors, 1)
		c.log.WithError(err).Warn("failed to cache page", "url", url)
		return
	}
	atomic.AddUint64(&c.metrics.Writes, 1)
}

// Invalidate drops the cached copy of url.
func (c *RedisPageCache) Invalidate(ctx context.Context, url string) error {
	if !c.IsHealthy() {
		return nil
	}
	return c.client.Del(ctx, c.key(url))
}

func (c *RedisPageCache) key(url string) string {
	return c.config.Prefix + ":" + HashURL(url)
}

// HashURL returns the hex sha256 of url.
func HashURL(url string) string {
	sum := sha256.Sum256([]byte(url))
	return hex.EncodeToString(sum[:])
}
