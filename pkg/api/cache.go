package api

import (
	"context"
	"sync"
	"time"

	"github.com/openspot/openspot/pkg/core"
	"github.com/openspot/openspot/pkg/util"
)

const allMarketsKey = "all"

// BookCache holds short-lived orderbook snapshots. The snapshot is a
// read-only aggregate outside the integrity-critical path: it is rebuilt at
// most once per TTL and invalidated eagerly when an order is created,
// matched, or cancelled.
type BookCache struct {
	ttl   time.Duration
	clock util.Clock

	mu      sync.Mutex
	entries map[string]cachedBook
}

type cachedBook struct {
	snapshot OrderbookSnapshot
	expires  time.Time
}

func NewBookCache(ttl time.Duration, clock util.Clock) *BookCache {
	return &BookCache{
		ttl:     ttl,
		clock:   clock,
		entries: make(map[string]cachedBook),
	}
}

// Get returns the cached snapshot for symbol, rebuilding it via build when
// missing or expired.
func (c *BookCache) Get(symbol string, build func() (OrderbookSnapshot, error)) (OrderbookSnapshot, error) {
	key := cacheKey(symbol)
	now := c.clock.Now()

	c.mu.Lock()
	if entry, ok := c.entries[key]; ok && now.Before(entry.expires) {
		c.mu.Unlock()
		return entry.snapshot, nil
	}
	c.mu.Unlock()

	snapshot, err := build()
	if err != nil {
		return OrderbookSnapshot{}, err
	}

	c.mu.Lock()
	c.entries[key] = cachedBook{snapshot: snapshot, expires: now.Add(c.ttl)}
	c.mu.Unlock()
	return snapshot, nil
}

// Invalidate drops the symbol's snapshot and the all-markets snapshot.
func (c *BookCache) Invalidate(symbol string) {
	c.mu.Lock()
	delete(c.entries, cacheKey(symbol))
	delete(c.entries, allMarketsKey)
	c.mu.Unlock()
}

// Publish implements core.EventSink so the cache drops stale snapshots as
// soon as the order pool changes.
func (c *BookCache) Publish(_ context.Context, ev core.Event) error {
	c.Invalidate(ev.Symbol())
	return nil
}

func cacheKey(symbol string) string {
	if symbol == "" {
		return allMarketsKey
	}
	return symbol
}
