package cache

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/lysyi3m/trend-comb/app/content"
	"github.com/lysyi3m/trend-comb/app/store"
)

const (
	freshPrefix = "cache:fresh:"
	stalePrefix = "cache:stale:"

	DefaultStaleWindow = 6 * time.Hour
)

type entry struct {
	Items     []content.Item `json:"items"`
	StoredAt  time.Time      `json:"stored_at"`
	ExpiresAt time.Time      `json:"expires_at"`
}

func (e *entry) expired(now time.Time) bool {
	return !now.Before(e.ExpiresAt)
}

// ResponseCache holds normalized provider results keyed by source and
// query. Fresh entries honour their TTL; every Set also refreshes a
// last-known-good copy kept for the stale window. Entries live in process
// and are written through to the store so they survive restarts. Store
// failures degrade to a miss.
type ResponseCache struct {
	store       store.Store
	fresh       sync.Map
	stale       sync.Map
	staleWindow time.Duration
	now         func() time.Time
}

func NewResponseCache(s store.Store, staleWindow time.Duration) *ResponseCache {
	return NewResponseCacheWithClock(s, staleWindow, time.Now)
}

func NewResponseCacheWithClock(s store.Store, staleWindow time.Duration, now func() time.Time) *ResponseCache {
	if staleWindow <= 0 {
		staleWindow = DefaultStaleWindow
	}
	return &ResponseCache{
		store:       s,
		staleWindow: staleWindow,
		now:         now,
	}
}

func Key(source, query string) string {
	return source + ":" + query
}

// Get returns unexpired items for key. Expired entries are evicted on read.
func (c *ResponseCache) Get(ctx context.Context, key string) ([]content.Item, bool) {
	return c.lookup(ctx, &c.fresh, freshPrefix+key)
}

// LastKnownGood returns the most recent items stored under key, even when
// the fresh entry has expired, as long as the stale window has not passed.
func (c *ResponseCache) LastKnownGood(ctx context.Context, key string) ([]content.Item, bool) {
	return c.lookup(ctx, &c.stale, stalePrefix+key)
}

func (c *ResponseCache) Set(ctx context.Context, key string, items []content.Item, ttl time.Duration) {
	if ttl <= 0 {
		return
	}

	now := c.now()
	fresh := &entry{Items: items, StoredAt: now, ExpiresAt: now.Add(ttl)}
	stale := &entry{Items: items, StoredAt: now, ExpiresAt: now.Add(max(ttl, c.staleWindow))}

	c.fresh.Store(freshPrefix+key, fresh)
	c.stale.Store(stalePrefix+key, stale)

	if c.store == nil {
		return
	}
	if err := store.SetJSON(ctx, c.store, freshPrefix+key, fresh, ttl); err != nil {
		slog.Warn("Failed to write cache entry through to store", "key", key, "error", err)
	}
	if err := store.SetJSON(ctx, c.store, stalePrefix+key, stale, max(ttl, c.staleWindow)); err != nil {
		slog.Warn("Failed to write last-known-good entry through to store", "key", key, "error", err)
	}
}

// Invalidate drops the fresh entry for key; the last-known-good copy stays.
func (c *ResponseCache) Invalidate(ctx context.Context, key string) {
	c.fresh.Delete(freshPrefix + key)
	if c.store == nil {
		return
	}
	if err := c.store.Delete(ctx, freshPrefix+key); err != nil {
		slog.Warn("Failed to invalidate cache entry in store", "key", key, "error", err)
	}
}

func (c *ResponseCache) lookup(ctx context.Context, m *sync.Map, storeKey string) ([]content.Item, bool) {
	now := c.now()

	if v, ok := m.Load(storeKey); ok {
		e := v.(*entry)
		if !e.expired(now) {
			return e.Items, true
		}
		m.CompareAndDelete(storeKey, e)
		return nil, false
	}

	if c.store == nil {
		return nil, false
	}

	var e entry
	if err := store.GetJSON(ctx, c.store, storeKey, &e); err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			slog.Warn("Cache store read failed, treating as miss", "key", storeKey, "error", err)
		}
		return nil, false
	}
	if e.expired(now) {
		return nil, false
	}

	m.LoadOrStore(storeKey, &e)
	return e.Items, true
}
