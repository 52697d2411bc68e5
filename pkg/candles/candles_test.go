package candles_test

import (
	"testing"
	"time"

	"github.com/shubham-shewale/market-cache/pkg/candles"
	"github.com/shubham-shewale/market-cache/pkg/models"
)

var base = time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)

func TestAggregator_AddOpensAndExtends(t *testing.T) {
	a := candles.NewAggregator([]models.Timeframe{models.Timeframe1m, models.Timeframe5m})

	out := a.Add("AAPL", models.Trade{Price: 100, Size: 1}, base.Add(10*time.Second))
	if len(out) != 2 {
		t.Fatalf("Expected one candle per timeframe, got %d", len(out))
	}
	out = a.Add("AAPL", models.Trade{Price: 98, Size: 2}, base.Add(20*time.Second))
	c := out[0]
	if c.Open != 100 || c.Low != 98 || c.High != 100 || c.Close != 98 || c.Volume != 3 {
		t.Errorf("Unexpected 1m candle: %+v", c)
	}

	out = a.Add("AAPL", models.Trade{Price: 101, Size: 1}, base.Add(70*time.Second))
	if !out[0].Start.Equal(base.Add(time.Minute)) || out[0].Open != 101 {
		t.Errorf("Expected a new 1m candle, got %+v", out[0])
	}
	if !out[1].Start.Equal(base) || out[1].Volume != 4 {
		t.Errorf("Expected the 5m candle to keep accumulating, got %+v", out[1])
	}
}

func TestAggregator_IgnoresOlderTrades(t *testing.T) {
	a := candles.NewAggregator(nil)

	if _, ok := a.Fold("AAPL", models.Timeframe1m, models.Trade{Price: 100, Size: 1}, base.Add(time.Minute)); !ok {
		t.Fatal("First trade should open a candle")
	}
	if _, ok := a.Fold("AAPL", models.Timeframe1m, models.Trade{Price: 50, Size: 1}, base); ok {
		t.Error("A trade older than the open candle should be ignored")
	}
}

func TestAggregator_SeedExtendsFetchedCandle(t *testing.T) {
	a := candles.NewAggregator(nil)
	fetched := models.Candle{Timeframe: models.Timeframe1m, Start: base, Open: 100, High: 105, Low: 99, Close: 104, Volume: 50}

	a.Seed("AAPL", fetched)
	if !a.Open("AAPL", models.Timeframe1m) {
		t.Fatal("Seed should open the series")
	}
	c, ok := a.Fold("AAPL", models.Timeframe1m, models.Trade{Price: 106, Size: 1}, base.Add(30*time.Second))
	if !ok {
		t.Fatal("Trade in the seeded period should fold")
	}
	if c.Open != 100 || c.High != 106 || c.Low != 99 || c.Close != 106 || c.Volume != 51 {
		t.Errorf("Unexpected candle after seed: %+v", c)
	}

	older := fetched
	older.Start = base.Add(-time.Minute)
	a.Seed("AAPL", older)
	c, _ = a.Fold("AAPL", models.Timeframe1m, models.Trade{Price: 107, Size: 1}, base.Add(40*time.Second))
	if c.Volume != 52 {
		t.Errorf("An older seed must not replace the open candle, got %+v", c)
	}
}
