package cache

import (
	"context"
	"sync"
	"time"
)

// MemoryCache is an in-process cache with TTL support and an optional
// entry bound. When the bound is reached the entry closest to expiry is
// evicted.
type MemoryCache struct {
	mu         sync.Mutex
	items      map[string]item
	config     Config
	maxEntries int
	now        func() time.Time
	cancel     context.CancelFunc
}

type item struct {
	value      []byte
	expiration time.Time
}

func (i item) expired(now time.Time) bool {
	return !i.expiration.IsZero() && now.After(i.expiration)
}

// NewMemoryCache creates an in-process cache. A background goroutine drops
// expired entries until Close is called.
func NewMemoryCache(config Config, maxEntries int) *MemoryCache {
	ctx, cancel := context.WithCancel(context.Background())
	mc := &MemoryCache{
		items:      make(map[string]item),
		config:     config,
		maxEntries: maxEntries,
		now:        time.Now,
		cancel:     cancel,
	}
	go mc.cleanupExpired(ctx)
	return mc
}

// Get retrieves a document
func (m *MemoryCache) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	fullKey := m.config.Prefix + key

	m.mu.Lock()
	defer m.mu.Unlock()

	it, ok := m.items[fullKey]
	if !ok {
		return nil, ErrCacheMiss{Key: key}
	}
	if it.expired(m.now()) {
		delete(m.items, fullKey)
		return nil, ErrCacheMiss{Key: key}
	}

	out := make([]byte, len(it.value))
	copy(out, it.value)
	return out, nil
}

// Set stores a document
func (m *MemoryCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if ttl == 0 {
		ttl = m.config.DefaultTTL
	}
	it := item{value: append([]byte(nil), value...)}
	if ttl > 0 {
		it.expiration = m.now().Add(ttl)
	}

	fullKey := m.config.Prefix + key

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.items[fullKey]; !exists && m.maxEntries > 0 && len(m.items) >= m.maxEntries {
		m.evictLocked()
	}
	m.items[fullKey] = it
	return nil
}

// Delete removes a document
func (m *MemoryCache) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	delete(m.items, m.config.Prefix+key)
	m.mu.Unlock()
	return nil
}

// Clear removes every document
func (m *MemoryCache) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	m.items = make(map[string]item)
	m.mu.Unlock()
	return nil
}

// Len returns the number of stored entries, expired ones included
func (m *MemoryCache) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}

// Close stops the background cleanup goroutine
func (m *MemoryCache) Close() error {
	if m.cancel != nil {
		m.cancel()
	}
	return nil
}

// evictLocked drops expired entries, or the one expiring first
func (m *MemoryCache) evictLocked() {
	now := m.now()
	var victim string
	var soonest time.Time
	for k, it := range m.items {
		if it.expired(now) {
			delete(m.items, k)
			continue
		}
		if victim == "" || (!it.expiration.IsZero() && (soonest.IsZero() || it.expiration.Before(soonest))) {
			victim, soonest = k, it.expiration
		}
	}
	if len(m.items) >= m.maxEntries && victim != "" {
		delete(m.items, victim)
	}
}

func (m *MemoryCache) cleanupExpired(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.mu.Lock()
			now := m.now()
			for k, it := range m.items {
				if it.expired(now) {
					delete(m.items, k)
				}
			}
			m.mu.Unlock()
		}
	}
}
