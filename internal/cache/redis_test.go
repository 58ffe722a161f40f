package cache

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	// Create a mock Redis server
	mr := miniredis.RunT(t)

	client := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})

	cache := NewRedisCacheWithClient(client, DefaultConfig())
	t.Cleanup(func() { _ = cache.Close() })
	return cache, mr
}

func TestNewRedisCache(t *testing.T) {
	mr := miniredis.RunT(t)

	cache, err := NewRedisCache(context.Background(), RedisConfig{Addr: mr.Addr()}, DefaultConfig())
	require.NoError(t, err)
	assert.NotNil(t, cache)
	defer cache.Close()
}

func TestNewRedisCache_ConnectionError(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, err := NewRedisCache(context.Background(), RedisConfig{Addr: addr}, DefaultConfig())
	require.Error(t, err)
	assert.Contains(t, err.Error(), addr)
}

func TestRedisCache_SetAndGet(t *testing.T) {
	cache, mr := setupTestRedis(t)
	ctx := context.Background()

	id := "https://nexus.example.org/v0/data/core/subject/v0.1.0/x"
	doc := []byte(`{"@id": "` + id + `", "name": "mouse-1"}`)
	require.NoError(t, cache.Set(ctx, id, doc, time.Minute))

	got, err := cache.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, doc, got)

	// documents are keyed by resource id under the prefix
	assert.True(t, mr.Exists("nexus:"+id))
	assert.Equal(t, time.Minute, mr.TTL("nexus:"+id))
}

func TestRedisCache_GetMiss(t *testing.T) {
	cache, _ := setupTestRedis(t)

	_, err := cache.Get(context.Background(), "missing")
	assert.True(t, IsCacheMiss(err))
}

func TestRedisCache_Expiration(t *testing.T) {
	cache, mr := setupTestRedis(t)
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, "short", []byte("a"), time.Second))
	require.NoError(t, cache.Set(ctx, "default", []byte("b"), 0))
	assert.Equal(t, DefaultConfig().DefaultTTL, mr.TTL("nexus:default"))

	mr.FastForward(2 * time.Second)
	_, err := cache.Get(ctx, "short")
	assert.True(t, IsCacheMiss(err))
	_, err = cache.Get(ctx, "default")
	assert.NoError(t, err)
}

func TestRedisCache_DeleteAndClear(t *testing.T) {
	cache, mr := setupTestRedis(t)
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, "a", []byte("a"), 0))
	require.NoError(t, cache.Set(ctx, "b", []byte("b"), 0))
	require.NoError(t, mr.Set("unrelated", "keep"))

	require.NoError(t, cache.Delete(ctx, "a"))
	_, err := cache.Get(ctx, "a")
	assert.True(t, IsCacheMiss(err))

	require.NoError(t, cache.Clear(ctx))
	_, err = cache.Get(ctx, "b")
	assert.True(t, IsCacheMiss(err))
	assert.True(t, mr.Exists("unrelated"), "clear only touches prefixed keys")
}

func TestOpen_Redis(t *testing.T) {
	mr := miniredis.RunT(t)

	c, err := Open(context.Background(), Options{
		Driver: DriverRedis,
		Redis:  RedisConfig{Addr: mr.Addr()},
	})
	require.NoError(t, err)
	defer c.Close()

	rc, ok := c.(*RedisCache)
	require.True(t, ok)
	assert.Equal(t, DefaultConfig().Prefix, rc.prefix)
	assert.Equal(t, DefaultConfig().DefaultTTL, rc.ttl)
}

func TestRedisCache_ClearInBatches(t *testing.T) {
	cache, mr := setupTestRedis(t)
	ctx := context.Background()

	for i := 0; i < 2*scanBatch+7; i++ {
		require.NoError(t, cache.Set(ctx, fmt.Sprintf("doc-%d", i), []byte("{}"), 0))
	}
	require.NoError(t, mr.Set("other:doc-0", "keep"))

	require.NoError(t, cache.Clear(ctx))
	assert.Equal(t, []string{"other:doc-0"}, mr.Keys())
}
