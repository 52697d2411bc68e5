package models_test

import (
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/shubham-shewale/market-cache/pkg/models"
)

func TestQuote_Validate_RandomPairs(t *testing.T) {
	r := rand.New(rand.NewSource(42))

	for i := 0; i < 1000; i++ {
		bid := r.Float64() * 200
		ask := r.Float64() * 200
		q := models.Quote{Last: (bid + ask) / 2, Bid: bid, Ask: ask}

		err := q.Validate()
		if bid <= ask && err != nil {
			t.Fatalf("bid %v <= ask %v should be valid, got %v", bid, ask, err)
		}
		if bid > ask && err == nil {
			t.Fatalf("bid %v > ask %v should be rejected", bid, ask)
		}
		if err != nil && !errors.Is(err, models.ErrValidation) {
			t.Fatalf("Expected ErrValidation, got %v", err)
		}
	}
}

func TestQuote_Validate_Edges(t *testing.T) {
	tests := []struct {
		name  string
		quote models.Quote
		ok    bool
	}{
		{"locked market", models.Quote{Last: 10, Bid: 10, Ask: 10}, true},
		{"bid only", models.Quote{Last: 10, Bid: 11}, true},
		{"negative last", models.Quote{Last: -1}, false},
		{"negative ask", models.Quote{Last: 1, Ask: -2}, false},
		{"high below low", models.Quote{Last: 1, DayHigh: 1, DayLow: 2}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.quote.Validate()
			if tt.ok && err != nil {
				t.Errorf("Expected valid, got %v", err)
			}
			if !tt.ok && err == nil {
				t.Error("Expected validation error")
			}
		})
	}
}

func TestQuote_SpreadAndTrade(t *testing.T) {
	q := models.Quote{Last: 150, Bid: 150.00, Ask: 150.05, Volume: 10}

	if s := q.Spread(); s < 0.0499 || s > 0.0501 {
		t.Errorf("Expected spread 0.05, got %v", s)
	}

	ts := time.Unix(100, 0)
	q = q.ApplyTrade(models.Trade{Price: 151, Size: 5, Timestamp: ts})
	if q.Last != 151 || q.Volume != 15 || q.DayHigh != 151 || !q.Timestamp.Equal(ts) {
		t.Errorf("Unexpected quote after trade: %+v", q)
	}
}

func TestCandle_Validate(t *testing.T) {
	start := time.Date(2024, 1, 2, 9, 30, 0, 0, time.UTC)
	good := models.Candle{Timeframe: models.Timeframe1m, Start: start, Open: 10, High: 12, Low: 9, Close: 11, Volume: 100}
	if err := good.Validate(); err != nil {
		t.Fatalf("Expected valid candle, got %v", err)
	}

	bad := good
	bad.High = 10.5
	if err := bad.Validate(); err == nil {
		t.Error("High below close should be rejected")
	}

	bad = good
	bad.Low = 10.5
	if err := bad.Validate(); err == nil {
		t.Error("Low above open should be rejected")
	}

	bad = good
	bad.Timeframe = "3m"
	if err := bad.Validate(); err == nil {
		t.Error("Unknown timeframe should be rejected")
	}
}

func TestTimeframe_Truncate(t *testing.T) {
	ts := time.Date(2024, 5, 15, 13, 47, 31, 0, time.UTC) // Wednesday

	cases := map[models.Timeframe]time.Time{
		models.Timeframe1m:  time.Date(2024, 5, 15, 13, 47, 0, 0, time.UTC),
		models.Timeframe15m: time.Date(2024, 5, 15, 13, 45, 0, 0, time.UTC),
		models.Timeframe1h:  time.Date(2024, 5, 15, 13, 0, 0, 0, time.UTC),
		models.Timeframe1d:  time.Date(2024, 5, 15, 0, 0, 0, 0, time.UTC),
		models.Timeframe1w:  time.Date(2024, 5, 13, 0, 0, 0, 0, time.UTC),
		models.Timeframe1M:  time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
	}
	for tf, want := range cases {
		if got := tf.Truncate(ts); !got.Equal(want) {
			t.Errorf("%s: got %v, want %v", tf, got, want)
		}
	}

	if _, err := models.ParseTimeframe("2h"); err == nil {
		t.Error("Expected error for unsupported timeframe")
	}
}

func TestOrderBook_ValidateAndMerge(t *testing.T) {
	book := models.OrderBookSnapshot{
		Bids: []models.Level{{Price: 100, Size: 1}, {Price: 99, Size: 2}},
		Asks: []models.Level{{Price: 101, Size: 1}, {Price: 102, Size: 3}},
	}
	if err := book.Validate(); err != nil {
		t.Fatalf("Expected valid book, got %v", err)
	}

	crossed := book.Clone()
	crossed.Bids[0].Price = 101
	if err := crossed.Validate(); err == nil {
		t.Error("Crossed book should be rejected")
	}

	unsorted := book.Clone()
	unsorted.Asks = []models.Level{{Price: 102, Size: 1}, {Price: 101, Size: 1}}
	if err := unsorted.Validate(); err == nil {
		t.Error("Unsorted asks should be rejected")
	}

	merged := book.Merge(models.OrderBookSnapshot{
		Bids:     []models.Level{{Price: 100, Size: 0}, {Price: 100.5, Size: 4}},
		Asks:     []models.Level{{Price: 103, Size: 1}},
		Sequence: 7,
	}, 2)

	if len(merged.Bids) != 2 || merged.Bids[0].Price != 100.5 || merged.Bids[1].Price != 99 {
		t.Errorf("Unexpected bids after merge: %+v", merged.Bids)
	}
	if len(merged.Asks) != 2 || merged.Asks[1].Price != 102 {
		t.Errorf("Expected asks truncated to depth 2: %+v", merged.Asks)
	}
	if merged.Sequence != 7 {
		t.Errorf("Expected sequence 7, got %d", merged.Sequence)
	}
}

func TestFeedMessage_Validate(t *testing.T) {
	msg := models.FeedMessage{Kind: models.KindQuote, Instrument: "AAPL", Sequence: 1}
	if err := msg.Validate(); err == nil {
		t.Error("Quote message without payload should be rejected")
	}

	msg.Quote = &models.Quote{Last: 150, Bid: 150, Ask: 150.05}
	if err := msg.Validate(); err != nil {
		t.Errorf("Expected valid message, got %v", err)
	}

	msg.Kind = "heartbeat"
	if err := msg.Validate(); err == nil {
		t.Error("Unknown kind should be rejected")
	}
}
