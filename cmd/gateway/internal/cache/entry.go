// Package cache holds the quote, candle and order-book stores of the gateway.
//
// None of the stores lock. They are owned by the engine goroutine, which is
// the only writer; values handed out are copies.
package cache

import "time"

// Source records where a cached value came from.
type Source string

const (
	SourceFeed      Source = "feed"
	SourceRefresh   Source = "refresh"
	SourceSynthetic Source = "synthetic"
)

// Entry wraps a cached value with freshness and access metadata.
type Entry[T any] struct {
	Value        T
	CachedAt     time.Time
	LastAccessed time.Time
	AccessCount  uint64
	Source       Source
}

// Age is how long ago the value was stored.
func (e Entry[T]) Age(now time.Time) time.Duration {
	return now.Sub(e.CachedAt)
}

// Clock lets tests control time.
type Clock interface {
	Now() time.Time
}

type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }
