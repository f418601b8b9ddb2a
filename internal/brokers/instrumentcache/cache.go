// Package instrumentcache provides a TTL-cached lookup in front of a
// broker's instrument-info endpoint, adapted from the teacher's
// internal/binance/exchange_info.go ExchangeInfoCache so
// GetInstrumentInfo doesn't hit the network on every signal.
package instrumentcache

import (
	"context"
	"sync"
	"time"

	"signaldispatcher/internal/broker"
)

// Fetch retrieves a fresh InstrumentInfo for id from the broker,
// returning nil (not an error) if the instrument doesn't exist.
type Fetch func(ctx context.Context, id string) (*broker.InstrumentInfo, error)

type entry struct {
	info     *broker.InstrumentInfo
	cachedAt time.Time
}

// Cache memoizes InstrumentInfo per instrument ID for ttl, independent
// per-entry expiry (unlike the teacher's single whole-cache timestamp,
// since instruments here are looked up individually rather than
// fetched as one exchange-wide snapshot).
type Cache struct {
	fetch Fetch
	ttl   time.Duration

	mu      sync.RWMutex
	entries map[string]entry
}

func New(fetch Fetch, ttl time.Duration) *Cache {
	return &Cache{
		fetch:   fetch,
		ttl:     ttl,
		entries: make(map[string]entry),
	}
}

// Get returns the cached InstrumentInfo for id, refreshing it via
// Fetch when absent or expired. A nil, nil result means the broker
// reports no such instrument.
func (c *Cache) Get(ctx context.Context, id string) (*broker.InstrumentInfo, error) {
	c.mu.RLock()
	e, ok := c.entries[id]
	c.mu.RUnlock()
	if ok && time.Since(e.cachedAt) < c.ttl {
		return e.info, nil
	}

	info, err := c.fetch(ctx, id)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.entries[id] = entry{info: info, cachedAt: time.Now()}
	c.mu.Unlock()
	return info, nil
}

// Invalidate drops a cached entry, forcing the next Get to refetch.
func (c *Cache) Invalidate(id string) {
	c.mu.Lock()
	delete(c.entries, id)
	c.mu.Unlock()
}
