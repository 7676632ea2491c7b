package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDialRedisUnreachable(t *testing.T) {
	start := time.Now()
	store, err := DialRedis(context.Background(), RedisConfig{Addr: "127.0.0.1:1", DialTimeout: 200 * time.Millisecond})

	assert.Nil(t, store)
	assert.ErrorContains(t, err, "failed to connect to page cache at 127.0.0.1:1")
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestDefaultRedisConfig(t *testing.T) {
	cfg := DefaultRedisConfig()
	assert.GreaterOrEqual(t, cfg.PoolSize, 35)
	assert.Equal(t, 500*time.Millisecond, cfg.CommandTimeout)
}
