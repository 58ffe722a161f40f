// Package cache provides document caches for the store client: an
// in-process map and a Redis-backed cache shared between processes.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Drivers accepted by Open
const (
	DriverNone   = "none"
	DriverMemory = "memory"
	DriverRedis  = "redis"
)

// Cache stores raw JSON-LD documents keyed by resource identifier
type Cache interface {
	// Get retrieves a document; a missing or expired key is an ErrCacheMiss
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores a document with a TTL; zero selects the default TTL
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes a document
	Delete(ctx context.Context, key string) error

	// Clear removes every document written through this cache
	Clear(ctx context.Context) error

	// Close releases background resources
	Close() error
}

// Config holds common configuration for cache backends
type Config struct {
	// DefaultTTL is the lifetime of documents stored without a TTL
	DefaultTTL time.Duration
	// Prefix is prepended to all keys
	Prefix string
}

// DefaultConfig returns a default cache configuration
func DefaultConfig() Config {
	return Config{
		DefaultTTL: 5 * time.Minute,
		Prefix:     "nexus:",
	}
}

// ErrCacheMiss is returned when a key is not found in the cache
type ErrCacheMiss struct {
	Key string
}

func (e ErrCacheMiss) Error() string {
	return "cache miss: " + e.Key
}

// IsCacheMiss checks if an error is a cache miss
func IsCacheMiss(err error) bool {
	var miss ErrCacheMiss
	return errors.As(err, &miss)
}

// Options select and configure a backend for Open
type Options struct {
	Driver string
	Config Config
	Redis  RedisConfig
	// MaxEntries bounds the memory cache; zero means unbounded
	MaxEntries int
}

// Open creates the cache selected by opts.Driver. The none driver returns
// a nil Cache and no error.
func Open(ctx context.Context, opts Options) (Cache, error) {
	cfg := opts.Config
	if cfg.Prefix == "" {
		cfg.Prefix = DefaultConfig().Prefix
	}
	if cfg.DefaultTTL == 0 {
		cfg.DefaultTTL = DefaultConfig().DefaultTTL
	}

	switch opts.Driver {
	case "", DriverNone:
		return nil, nil
	case DriverMemory:
		return NewMemoryCache(cfg, opts.MaxEntries), nil
	case DriverRedis:
		rcache, err := NewRedisCache(ctx, opts.Redis, cfg)
		if err != nil {
			return nil, err
		}
		return rcache, nil
	}
	return nil, fmt.Errorf("unknown cache driver %q", opts.Driver)
}
