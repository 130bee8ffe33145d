// Package pricecache holds the latest top-of-book tick per trading pair.
//
// The cache is the only piece of state shared between the stream connections
// (writers) and the detection pass (reader). Synchronization is per pair:
// each pair owns a slot with its own mutex, so writers for different pairs
// never contend. Entries are never deleted; staleness is decided at read
// time against a window, which avoids any race between eviction and an
// in-flight detection pass.
package pricecache

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/arbiterlabs/triarb/internal/domain"
)

// Cache maps pair symbol → latest accepted tick.
type Cache struct {
	mu    sync.RWMutex
	slots map[string]*slot

	accepted atomic.Uint64
	dropped  atomic.Uint64 // out-of-order or duplicate ticks
	clock    func() time.Time
}

type slot struct {
	mu    sync.Mutex
	entry domain.CacheEntry
	set   bool
}

// Stats is a point-in-time counter snapshot for health reporting.
type Stats struct {
	Pairs    int    `json:"pairs"`
	Accepted uint64 `json:"accepted"`
	Dropped  uint64 `json:"dropped"`
}

// Option configures a Cache.
type Option func(*Cache)

// WithClock injects a clock for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.clock = now }
}

// New creates an empty Cache.
func New(opts ...Option) *Cache {
	c := &Cache{
		slots: make(map[string]*slot),
		clock: time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Put offers a tick to the cache. It is a compare-and-swap on the exchange
// event time: ticks at or before the currently stored ObservedAt for the same
// pair are dropped, never overwrite. This makes the cache order-independent
// under out-of-order delivery across reconnects or duplicate streams.
// It returns true when the tick was accepted.
func (c *Cache) Put(tick domain.PriceTick) bool {
	s := c.slot(tick.Pair.Symbol())

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.set && !tick.ObservedAt.After(s.entry.Latest.ObservedAt) {
		c.dropped.Add(1)
		return false
	}

	now := c.clock()
	// ReceivedAt is monotonically non-decreasing per pair.
	if s.set && now.Before(s.entry.ReceivedAt) {
		now = s.entry.ReceivedAt
	}
	s.entry = domain.CacheEntry{Latest: tick, ReceivedAt: now}
	s.set = true
	c.accepted.Add(1)
	return true
}

// Get returns the latest entry for a pair symbol (e.g. "BTCUSDT").
func (c *Cache) Get(symbol string) (domain.CacheEntry, bool) {
	c.mu.RLock()
	s, ok := c.slots[symbol]
	c.mu.RUnlock()
	if !ok {
		return domain.CacheEntry{}, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.set {
		return domain.CacheEntry{}, false
	}
	return s.entry, true
}

// Snapshot returns the entries for the requested pair symbols. The view is
// per-entry consistent, not globally atomic: each entry individually reflects
// the latest tick received at or before the call, which is sufficient for a
// detection pass.
func (c *Cache) Snapshot(symbols []string) map[string]domain.CacheEntry {
	out := make(map[string]domain.CacheEntry, len(symbols))
	for _, sym := range symbols {
		if e, ok := c.Get(sym); ok {
			out[sym] = e
		}
	}
	return out
}

// Stats returns current counters.
func (c *Cache) Stats() Stats {
	c.mu.RLock()
	pairs := len(c.slots)
	c.mu.RUnlock()
	return Stats{
		Pairs:    pairs,
		Accepted: c.accepted.Load(),
		Dropped:  c.dropped.Load(),
	}
}

// slot returns the slot for a symbol, creating it on first use.
func (c *Cache) slot(symbol string) *slot {
	c.mu.RLock()
	s, ok := c.slots[symbol]
	c.mu.RUnlock()
	if ok {
		return s
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok = c.slots[symbol]; ok {
		return s
	}
	s = &slot{}
	c.slots[symbol] = s
	return s
}
