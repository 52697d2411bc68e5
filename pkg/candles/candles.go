// Package candles folds trades into OHLCV candles. The processor uses it to
// build the Redis series and the gateway engine to keep cached series live.
package candles

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/shubham-shewale/market-cache/pkg/models"
)

type seriesKey struct {
	instrument string
	tf         models.Timeframe
}

// bar is an open candle. Sums stay in decimal so volume does not drift.
type bar struct {
	start                  time.Time
	open, high, low, close decimal.Decimal
	volume                 decimal.Decimal
}

func (b *bar) candle(tf models.Timeframe) models.Candle {
	return models.Candle{
		Timeframe: tf,
		Start:     b.start,
		Open:      b.open.InexactFloat64(),
		High:      b.high.InexactFloat64(),
		Low:       b.low.InexactFloat64(),
		Close:     b.close.InexactFloat64(),
		Volume:    b.volume.InexactFloat64(),
	}
}

// Aggregator keeps one open candle per instrument and timeframe.
// It is not safe for concurrent use.
type Aggregator struct {
	timeframes []models.Timeframe
	open       map[seriesKey]*bar
}

// NewAggregator returns an Aggregator whose Add covers timeframes. Fold and
// Seed work on any timeframe.
func NewAggregator(timeframes []models.Timeframe) *Aggregator {
	return &Aggregator{
		timeframes: timeframes,
		open:       make(map[seriesKey]*bar),
	}
}

// Add applies a trade and returns the updated candle of every configured
// timeframe.
func (a *Aggregator) Add(instrument string, t models.Trade, at time.Time) []models.Candle {
	var out []models.Candle
	for _, tf := range a.timeframes {
		if c, ok := a.Fold(instrument, tf, t, at); ok {
			out = append(out, c)
		}
	}
	return out
}

// Fold applies a trade made at `at` to one series. A trade in a later period
// opens a new candle; one older than the open candle is ignored and ok is false.
func (a *Aggregator) Fold(instrument string, tf models.Timeframe, t models.Trade, at time.Time) (c models.Candle, ok bool) {
	price := decimal.NewFromFloat(t.Price)
	size := decimal.NewFromFloat(t.Size)
	start := tf.Truncate(at)
	key := seriesKey{instrument, tf}
	b, exists := a.open[key]

	switch {
	case !exists || start.After(b.start):
		b = &bar{start: start, open: price, high: price, low: price, close: price, volume: size}
		a.open[key] = b
	case start.Equal(b.start):
		b.high = decimal.Max(b.high, price)
		b.low = decimal.Min(b.low, price)
		b.close = price
		b.volume = b.volume.Add(size)
	default:
		return models.Candle{}, false
	}
	return b.candle(tf), true
}

// Seed makes c the open candle of its series unless a later one is open.
// Trades in c's period then extend c instead of starting over.
func (a *Aggregator) Seed(instrument string, c models.Candle) {
	key := seriesKey{instrument, c.Timeframe}
	if b, ok := a.open[key]; ok && b.start.After(c.Start) {
		return
	}
	a.open[key] = &bar{
		start:  c.Start,
		open:   decimal.NewFromFloat(c.Open),
		high:   decimal.NewFromFloat(c.High),
		low:    decimal.NewFromFloat(c.Low),
		close:  decimal.NewFromFloat(c.Close),
		volume: decimal.NewFromFloat(c.Volume),
	}
}

// Open reports whether the series has an open candle.
func (a *Aggregator) Open(instrument string, tf models.Timeframe) bool {
	_, ok := a.open[seriesKey{instrument, tf}]
	return ok
}
