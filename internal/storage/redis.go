package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrCacheMiss is returned by RedisClient.Get when no page is stored under the key.
var ErrCacheMiss = errors.New("page not cached")

// RedisConfig holds the connection settings of the page cache backend.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	// PoolSize should be at least the scrape concurrency.
	PoolSize int
	// DialTimeout bounds connecting; CommandTimeout bounds each read or write.
	DialTimeout    time.Duration
	CommandTimeout time.Duration
}

// DefaultRedisConfig returns connection defaults sized for a full scrape run.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		PoolSize:       40,
		DialTimeout:    2 * time.Second,
		CommandTimeout: 500 * time.Millisecond,
	}
}

// RedisPageStore is the go-redis connection behind RedisPageCache.
type RedisPageStore struct {
	client *redis.Client
	addr   string
}

// DialRedis connects to Redis and pings it within ctx. Zero fields in cfg
// take their defaults.
func DialRedis(ctx context.Context, cfg RedisConfig) (*RedisPageStore, error) {
	def := DefaultRedisConfig()
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = def.PoolSize
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = def.DialTimeout
	}
	if cfg.CommandTimeout <= 0 {
		cfg.CommandTimeout = def.CommandTimeout
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		ClientName:   "funding-crawler",
		PoolSize:     cfg.PoolSize,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.CommandTimeout,
		WriteTimeout: cfg.CommandTimeout,
		MaxRetries:   1,
	})

	pingCtx, cancel := context.WithTimeout(ctx, cfg.DialTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to page cache at %s: %w", cfg.Addr, err)
	}

	return &RedisPageStore{client: client, addr: cfg.Addr}, nil
}

// Addr returns the Redis address the store is connected to.
func (r *RedisPageStore) Addr() string { return r.addr }

func (r *RedisPageStore) Get(ctx context.Context, key string) (string, error) {
	html, err := r.client.Get(ctx, key).Result()
	switch {
	case errors.Is(err, redis.Nil):
		return "", ErrCacheMiss
	case err != nil:
		return "", fmt.Errorf("failed to read cached page: %w", err)
	}
	return html, nil
}

func (r *RedisPageStore) Set(ctx context.Context, key string, value any, expiration time.Duration) error {
	return r.client.Set(ctx, key, value, expiration).Err()
}

func (r *RedisPageStore) Del(ctx context.Context, keys ...string) error {
	return r.client.Del(ctx, keys...).Err()
}

func (r *RedisPageStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisPageStore) Close() error {
	return r.client.Close()
}
