package repository_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/shubham-shewale/market-cache/cmd/gateway/internal/repository"
	"github.com/shubham-shewale/market-cache/pkg/keys"
	"github.com/shubham-shewale/market-cache/pkg/models"
)

func setup(t *testing.T) (*miniredis.Miniredis, *repository.RedisStore) {
	t.Helper()
	mr := miniredis.RunT(t)
	store := repository.NewRedisStore(redis.NewClient(&redis.Options{Addr: mr.Addr()}), zap.NewNop())
	t.Cleanup(func() { store.Close() })
	return mr, store
}

func mustJSON(t *testing.T, v any) string {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return string(b)
}

func TestRedisStore_FetchQuoteAndBook(t *testing.T) {
	mr, store := setup(t)
	ctx := context.Background()

	_, err := store.FetchQuote(ctx, "AAPL")
	assert.True(t, errors.Is(err, models.ErrNotFound))

	require.NoError(t, mr.Set(keys.Quote("AAPL"), mustJSON(t, models.Quote{Last: 150, Bid: 149.99, Ask: 150.01})))
	q, err := store.FetchQuote(ctx, "AAPL")
	require.NoError(t, err)
	assert.Equal(t, 149.99, q.Bid)

	book := models.OrderBookSnapshot{
		Bids: []models.Level{{Price: 100, Size: 1}},
		Asks: []models.Level{{Price: 101, Size: 2}},
	}
	require.NoError(t, mr.Set(keys.Depth("AAPL"), mustJSON(t, book)))
	got, err := store.FetchOrderBook(ctx, "AAPL")
	require.NoError(t, err)
	assert.Equal(t, book.Asks, got.Asks)

	require.NoError(t, mr.Set(keys.Quote("BAD"), "{not json"))
	_, err = store.FetchQuote(ctx, "BAD")
	assert.True(t, errors.Is(err, models.ErrValidation))
}

func TestRedisStore_FetchCandlesHonoursRange(t *testing.T) {
	mr, store := setup(t)
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 14, 0, 0, 0, time.UTC)
	key := keys.Candles("AAPL", models.Timeframe1m)

	for i := 0; i < 5; i++ {
		start := base.Add(time.Duration(i) * time.Minute)
		c := models.Candle{Timeframe: models.Timeframe1m, Start: start, Open: 1, High: 2, Low: 1, Close: 2}
		_, err := mr.ZAdd(key, float64(start.Unix()), mustJSON(t, c))
		require.NoError(t, err)
	}

	candles, err := store.FetchCandles(ctx, "AAPL", models.Timeframe1m, models.Range{
		From: base.Add(time.Minute),
		To:   base.Add(4 * time.Minute),
	})
	require.NoError(t, err)
	require.Len(t, candles, 3)
	assert.True(t, candles[0].Start.Equal(base.Add(time.Minute)))
	assert.True(t, candles[2].Start.Equal(base.Add(3*time.Minute)))

	_, err = store.FetchCandles(ctx, "MSFT", models.Timeframe1m, models.LastPeriods(models.Timeframe1m, 10, base))
	assert.True(t, errors.Is(err, models.ErrNotFound))
}

func TestRedisStore_RunDeliversFeedMessages(t *testing.T) {
	mr, store := setup(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	var got []models.FeedMessage
	go store.Run(ctx, func(m models.FeedMessage) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, m)
	})

	require.NoError(t, store.Subscribe(ctx, "AAPL"))

	payload := mustJSON(t, models.FeedMessage{
		Kind:     models.KindQuote,
		Sequence: 7,
		Quote:    &models.Quote{Last: 150},
	})
	require.Eventually(t, func() bool {
		mr.Publish(keys.Channel("AAPL"), payload)
		mr.Publish(keys.Channel("AAPL"), "{garbage")
		mu.Lock()
		defer mu.Unlock()
		return len(got) > 0
	}, 2*time.Second, 20*time.Millisecond)

	mu.Lock()
	assert.Equal(t, "AAPL", got[0].Instrument, "instrument taken from the channel name")
	assert.Equal(t, int64(7), got[0].Sequence)
	mu.Unlock()

	require.NoError(t, store.Unsubscribe(ctx, "AAPL"))
}
