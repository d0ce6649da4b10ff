package redis

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeys(t *testing.T) {
	assert.Equal(t, "lock:enroll:u1:c1", LockKey("enroll:u1:c1"))
	assert.Equal(t, "recs:u1", RecommendationsKey("u1"))
	assert.Equal(t, "pubsub:notifications", PubSubChannel("notifications"))
}

func TestConfigOptions(t *testing.T) {
	cfg := DefaultConfig()
	opts, err := cfg.Options()
	require.NoError(t, err)
	assert.Equal(t, "localhost:6379", opts.Addr)
	assert.Equal(t, 10, opts.PoolSize)

	cfg.URL = "redis://:secret@cache:6380/2"
	opts, err = cfg.Options()
	require.NoError(t, err)
	assert.Equal(t, "cache:6380", opts.Addr)
	assert.Equal(t, "secret", opts.Password)
	assert.Equal(t, 2, opts.DB)
	assert.Equal(t, 3*time.Second, opts.ReadTimeout)

	cfg.URL = "http://nope"
	_, err = cfg.Options()
	assert.ErrorIs(t, err, ErrCacheConnection)
}

// unreachable returns a cache whose server refuses connections.
func unreachable() *Cache {
	return NewCacheFromClient(redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	}))
}

func TestCache_EmptyKey(t *testing.T) {
	c := unreachable()
	defer c.Close()
	ctx := context.Background()

	assert.ErrorIs(t, c.Set(ctx, "", 1, time.Minute), ErrCacheKeyEmpty)
	assert.ErrorIs(t, c.Get(ctx, "", new(int)), ErrCacheKeyEmpty)
	assert.ErrorIs(t, c.Publish(ctx, "", 1), ErrCacheKeyEmpty)
	assert.NoError(t, c.Delete(ctx))
}

func TestCache_Serialization(t *testing.T) {
	c := unreachable()
	defer c.Close()
	err := c.Set(context.Background(), "k", make(chan int), time.Minute)
	assert.ErrorIs(t, err, ErrCacheSerialization)
}

func TestLocker_Unavailable(t *testing.T) {
	c := unreachable()
	defer c.Close()
	l := NewLocker(c, WithWait(0))

	_, err := l.Acquire(context.Background(), "enroll:u1:c1", time.Second)
	assert.ErrorIs(t, err, ErrCacheConnection)

	_, err = l.Acquire(context.Background(), "", time.Second)
	assert.ErrorIs(t, err, ErrCacheKeyEmpty)
}

func TestRecommendationCache_Unavailable(t *testing.T) {
	c := unreachable()
	defer c.Close()
	rc := NewRecommendationCache(c)

	_, ok, err := rc.Get(context.Background(), "u1")
	assert.Error(t, err)
	assert.False(t, ok)
}
