package cache

import (
	"time"

	"github.com/shubham-shewale/market-cache/pkg/models"
)

const (
	DefaultOrderBookTTL = 60 * time.Second
	DefaultDepthLevels  = 20
)

// OrderBookCache keeps the latest depth snapshot per instrument for a short TTL.
type OrderBookCache struct {
	clock   Clock
	ttl     time.Duration
	entries map[string]*Entry[models.OrderBookSnapshot]
}

func NewOrderBookCache(clock Clock, ttl time.Duration) *OrderBookCache {
	if ttl <= 0 {
		ttl = DefaultOrderBookTTL
	}
	return &OrderBookCache{
		clock:   clock,
		ttl:     ttl,
		entries: make(map[string]*Entry[models.OrderBookSnapshot]),
	}
}

// Get returns the snapshot unless it is missing or expired.
func (c *OrderBookCache) Get(instrument string) (models.OrderBookSnapshot, bool) {
	e, ok := c.entries[instrument]
	if !ok {
		return models.OrderBookSnapshot{}, false
	}
	now := c.clock.Now()
	if e.Age(now) > c.ttl {
		return models.OrderBookSnapshot{}, false
	}
	e.LastAccessed = now
	e.AccessCount++
	return e.Value.Clone(), true
}

// Put stores a validated snapshot. A rejected snapshot keeps the previous one.
func (c *OrderBookCache) Put(instrument string, book models.OrderBookSnapshot, src Source) error {
	if err := book.Validate(); err != nil {
		return err
	}
	now := c.clock.Now()
	c.entries[instrument] = &Entry[models.OrderBookSnapshot]{
		Value:        book.Clone(),
		CachedAt:     now,
		LastAccessed: now,
		Source:       src,
	}
	return nil
}

// ApplyDelta merges an incremental update onto the current book (an empty
// book when none is held) and stores the result if it is still valid.
func (c *OrderBookCache) ApplyDelta(instrument string, delta models.OrderBookSnapshot, depth int) (models.OrderBookSnapshot, error) {
	var base models.OrderBookSnapshot
	if e, ok := c.entries[instrument]; ok && e.Age(c.clock.Now()) <= c.ttl {
		base = e.Value
	}
	merged := base.Merge(delta, depth)
	if err := c.Put(instrument, merged, SourceFeed); err != nil {
		return models.OrderBookSnapshot{}, err
	}
	return merged.Clone(), nil
}

// Expire drops snapshots older than the TTL.
func (c *OrderBookCache) Expire() int {
	now := c.clock.Now()
	removed := 0
	for k, e := range c.entries {
		if e.Age(now) > c.ttl {
			delete(c.entries, k)
			removed++
		}
	}
	return removed
}

func (c *OrderBookCache) Len() int { return len(c.entries) }
