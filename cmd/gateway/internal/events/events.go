// Package events carries cache-update notifications from the engine to
// consumers such as the WebSocket hub.
package events

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/shubham-shewale/market-cache/pkg/models"
)

type Kind string

const (
	QuoteUpdated           Kind = "quote_updated"
	TradeReceived          Kind = "trade_received"
	OrderBookUpdated       Kind = "order_book_updated"
	HistoricalDataReceived Kind = "historical_data_received"
	SubscriptionChanged    Kind = "subscription_changed"
	CleanupCompleted       Kind = "cleanup_completed"
	ErrorOccurred          Kind = "error_occurred"
)

// CleanupReport lists what one cleanup pass removed.
type CleanupReport struct {
	QuotesEvicted     int `json:"quotes_evicted"`
	CandlesTrimmed    int `json:"candles_trimmed"`
	OrderBooksExpired int `json:"order_books_expired"`
	SequencesPruned   int `json:"sequences_pruned"`
}

// Event is a single notification. Only the fields relevant to Kind are set.
// Every subscriber receives its own copy of the payload.
type Event struct {
	Kind       Kind                      `json:"kind"`
	Instrument string                    `json:"instrument,omitempty"`
	At         time.Time                 `json:"at"`
	Source     string                    `json:"source,omitempty"`
	Quote      *models.Quote             `json:"quote,omitempty"`
	Trade      *models.Trade             `json:"trade,omitempty"`
	OrderBook  *models.OrderBookSnapshot `json:"order_book,omitempty"`
	Timeframe  models.Timeframe          `json:"timeframe,omitempty"`
	Candles    []models.Candle           `json:"candles,omitempty"`
	// Subscribers is the reference count after a subscription change.
	Subscribers int            `json:"subscribers,omitempty"`
	Cleanup     *CleanupReport `json:"cleanup,omitempty"`
	Error       string         `json:"error,omitempty"`
	Degraded    bool           `json:"degraded,omitempty"`
}

func (e Event) clone() Event {
	if e.Quote != nil {
		q := *e.Quote
		e.Quote = &q
	}
	if e.Trade != nil {
		t := *e.Trade
		e.Trade = &t
	}
	if e.OrderBook != nil {
		b := e.OrderBook.Clone()
		e.OrderBook = &b
	}
	if e.Candles != nil {
		e.Candles = append([]models.Candle(nil), e.Candles...)
	}
	if e.Cleanup != nil {
		r := *e.Cleanup
		e.Cleanup = &r
	}
	return e
}

// Bus fans events out to subscribers in publish order. A subscriber whose
// buffer is full misses the event rather than stalling the publisher.
type Bus struct {
	mu      sync.RWMutex
	subs    map[int]chan Event
	nextID  int
	dropped atomic.Uint64
}

func NewBus() *Bus {
	return &Bus{subs: make(map[int]chan Event)}
}

// Subscribe returns a channel of events and a cancel func that closes it.
func (b *Bus) Subscribe(buffer int) (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	ch := make(chan Event, buffer)
	b.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if _, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(ch)
			}
		})
	}
}

func (b *Bus) Publish(e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subs {
		select {
		case ch <- e.clone():
		default:
			b.dropped.Add(1)
		}
	}
}

// Dropped counts deliveries skipped because a subscriber was full.
func (b *Bus) Dropped() uint64 { return b.dropped.Load() }

// Close closes every subscriber channel.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, ch := range b.subs {
		close(ch)
		delete(b.subs, id)
	}
}
