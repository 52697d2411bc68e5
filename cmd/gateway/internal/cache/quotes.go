package cache

import (
	"sort"
	"time"

	"github.com/shubham-shewale/market-cache/pkg/models"
)

// QuoteCache keeps the latest quote per instrument.
type QuoteCache struct {
	clock   Clock
	entries map[string]*Entry[models.Quote]
}

func NewQuoteCache(clock Clock) *QuoteCache {
	return &QuoteCache{
		clock:   clock,
		entries: make(map[string]*Entry[models.Quote]),
	}
}

// Get returns the cached quote and counts the access.
func (c *QuoteCache) Get(instrument string) (models.Quote, bool) {
	e, ok := c.entries[instrument]
	if !ok {
		return models.Quote{}, false
	}
	e.LastAccessed = c.clock.Now()
	e.AccessCount++
	return e.Value, true
}

// Entry returns a copy of the entry without touching access metadata.
func (c *QuoteCache) Entry(instrument string) (Entry[models.Quote], bool) {
	e, ok := c.entries[instrument]
	if !ok {
		return Entry[models.Quote]{}, false
	}
	return *e, true
}

// Put validates and stores a quote. Invalid quotes leave the cache unchanged.
func (c *QuoteCache) Put(instrument string, q models.Quote, src Source) error {
	if err := q.Validate(); err != nil {
		return err
	}
	now := c.clock.Now()
	e, ok := c.entries[instrument]
	if !ok {
		e = &Entry[models.Quote]{LastAccessed: now}
		c.entries[instrument] = e
	}
	e.Value = q
	e.CachedAt = now
	e.Source = src
	return nil
}

// ApplyTrade folds a trade into an existing quote. It reports false when
// there is no quote to update.
func (c *QuoteCache) ApplyTrade(instrument string, t models.Trade) (models.Quote, bool, error) {
	e, ok := c.entries[instrument]
	if !ok {
		return models.Quote{}, false, nil
	}
	if err := t.Validate(); err != nil {
		return models.Quote{}, false, err
	}
	q := e.Value.ApplyTrade(t)
	if err := q.Validate(); err != nil {
		return models.Quote{}, false, err
	}
	e.Value = q
	e.CachedAt = c.clock.Now()
	e.Source = SourceFeed
	return q, true, nil
}

// IsStale is true when the instrument is missing or older than maxAge.
func (c *QuoteCache) IsStale(instrument string, maxAge time.Duration) bool {
	e, ok := c.entries[instrument]
	if !ok {
		return true
	}
	return e.Age(c.clock.Now()) > maxAge
}

func (c *QuoteCache) Len() int { return len(c.entries) }

// EvictLRU removes least-recently-accessed entries until at most max remain.
func (c *QuoteCache) EvictLRU(max int) []string {
	if max < 0 || len(c.entries) <= max {
		return nil
	}

	keys := make([]string, 0, len(c.entries))
	for k := range c.entries {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, b := c.entries[keys[i]], c.entries[keys[j]]
		if a.LastAccessed.Equal(b.LastAccessed) {
			return keys[i] < keys[j]
		}
		return a.LastAccessed.Before(b.LastAccessed)
	})

	evicted := keys[:len(keys)-max]
	for _, k := range evicted {
		delete(c.entries, k)
	}
	return evicted
}

// QuoteStats summarises the cache contents.
type QuoteStats struct {
	Entries       int            `json:"entries"`
	TotalAccesses uint64         `json:"total_accesses"`
	BySource      map[Source]int `json:"by_source"`
}

func (c *QuoteCache) Stats() QuoteStats {
	s := QuoteStats{Entries: len(c.entries), BySource: make(map[Source]int)}
	for _, e := range c.entries {
		s.TotalAccesses += e.AccessCount
		s.BySource[e.Source]++
	}
	return s
}
