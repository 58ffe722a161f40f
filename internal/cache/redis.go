package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	dialTimeout = 5 * time.Second
	// scanBatch is the SCAN hint and the number of keys removed per DEL
	scanBatch = 100
)

// RedisCache keeps fetched JSON-LD documents in Redis, so every process
// talking to the same store reuses them. A document lives under the
// configured prefix followed by its resource identifier.
type RedisCache struct {
	rdb    redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// RedisConfig locates the Redis server
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// NewRedisCache dials Redis and fails when the server does not answer a PING
func NewRedisCache(ctx context.Context, rc RedisConfig, cfg Config) (*RedisCache, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     rc.Addr,
		Password: rc.Password,
		DB:       rc.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis document cache at %s: %w", rc.Addr, err)
	}
	return NewRedisCacheWithClient(rdb, cfg), nil
}

// NewRedisCacheWithClient wraps an existing client, single node or cluster
func NewRedisCacheWithClient(rdb redis.UniversalClient, cfg Config) *RedisCache {
	return &RedisCache{rdb: rdb, prefix: cfg.Prefix, ttl: cfg.DefaultTTL}
}

func (r *RedisCache) key(id string) string {
	return r.prefix + id
}

// Get returns the cached document for id
func (r *RedisCache) Get(ctx context.Context, id string) ([]byte, error) {
	doc, err := r.rdb.Get(ctx, r.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss{Key: id}
	}
	return doc, err
}

// Set caches doc for id. Redis expires it after ttl, or after the default
// TTL when ttl is zero.
func (r *RedisCache) Set(ctx context.Context, id string, doc []byte, ttl time.Duration) error {
	if ttl == 0 {
		ttl = r.ttl
	}
	return r.rdb.Set(ctx, r.key(id), doc, ttl).Err()
}

// Delete drops the document for id, typically after an update or deprecation
func (r *RedisCache) Delete(ctx context.Context, id string) error {
	return r.rdb.Del(ctx, r.key(id)).Err()
}

// Clear drops every document under the prefix. Other keys in the database
// are left alone.
func (r *RedisCache) Clear(ctx context.Context) error {
	iter := r.rdb.Scan(ctx, 0, r.prefix+"*", scanBatch).Iterator()
	batch := make([]string, 0, scanBatch)
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == scanBatch {
			if err := r.rdb.Del(ctx, batch...).Err(); err != nil {
				return err
			}
			batch = batch[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(batch) > 0 {
		return r.rdb.Del(ctx, batch...).Err()
	}
	return nil
}

// Close closes the client
func (r *RedisCache) Close() error {
	return r.rdb.Close()
}
