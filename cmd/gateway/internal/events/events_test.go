package events_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shubham-shewale/market-cache/cmd/gateway/internal/events"
	"github.com/shubham-shewale/market-cache/pkg/models"
)

func TestBus_DeliversInOrder(t *testing.T) {
	bus := events.NewBus()
	ch, cancel := bus.Subscribe(10)
	defer cancel()

	bus.Publish(events.Event{Kind: events.QuoteUpdated, Instrument: "A"})
	bus.Publish(events.Event{Kind: events.QuoteUpdated, Instrument: "B"})

	require.Equal(t, "A", (<-ch).Instrument)
	require.Equal(t, "B", (<-ch).Instrument)
}

func TestBus_SlowSubscriberDoesNotBlock(t *testing.T) {
	bus := events.NewBus()
	slow, cancelSlow := bus.Subscribe(1)
	defer cancelSlow()
	fast, cancelFast := bus.Subscribe(4)
	defer cancelFast()

	for i := 0; i < 3; i++ {
		bus.Publish(events.Event{Kind: events.CleanupCompleted})
	}

	assert.Len(t, slow, 1)
	assert.Len(t, fast, 3)
	assert.Equal(t, uint64(2), bus.Dropped())
}

func TestBus_CancelAndClose(t *testing.T) {
	bus := events.NewBus()
	ch, cancel := bus.Subscribe(1)

	cancel()
	_, open := <-ch
	assert.False(t, open)

	ch2, cancel2 := bus.Subscribe(1)
	bus.Close()
	_, open = <-ch2
	assert.False(t, open)
	cancel2() // must not panic after Close

	bus.Publish(events.Event{Kind: events.ErrorOccurred})
}

func TestBus_SubscribersGetIndependentCopies(t *testing.T) {
	bus := events.NewBus()
	a, cancelA := bus.Subscribe(1)
	defer cancelA()
	b, cancelB := bus.Subscribe(1)
	defer cancelB()

	bus.Publish(events.Event{
		Kind:      events.OrderBookUpdated,
		Quote:     &models.Quote{Last: 100, Bid: 99, Ask: 101},
		OrderBook: &models.OrderBookSnapshot{Bids: []models.Level{{Price: 99, Size: 1}}},
		Candles:   []models.Candle{{Close: 100}},
	})

	first := <-a
	first.Quote.Bid = 1
	first.OrderBook.Bids[0].Size = 1000
	first.Candles[0].Close = 1

	second := <-b
	assert.Equal(t, 99.0, second.Quote.Bid)
	assert.Equal(t, 1.0, second.OrderBook.Bids[0].Size)
	assert.Equal(t, 100.0, second.Candles[0].Close)
}
