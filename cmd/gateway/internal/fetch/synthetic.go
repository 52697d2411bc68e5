package fetch

import (
	"context"
	"hash/fnv"
	"math/rand"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/shubham-shewale/market-cache/pkg/models"
)

// Synthetic makes up plausible market data with a seeded random walk per
// instrument. It stands in for a live upstream during development.
type Synthetic struct {
	mu     sync.Mutex
	now    func() time.Time
	tick   decimal.Decimal
	base   map[string]float64
	walks  map[string]*walk
	levels int
}

type walk struct {
	rnd *rand.Rand
	mid float64
}

var _ Source = (*Synthetic)(nil)

// NewSynthetic returns a source whose prices start at base (or a value derived
// from the instrument name) and are rounded to tickSize.
func NewSynthetic(base map[string]float64, tickSize decimal.Decimal, now func() time.Time) *Synthetic {
	if tickSize.Sign() <= 0 {
		tickSize = decimal.New(1, -2)
	}
	if now == nil {
		now = time.Now
	}
	return &Synthetic{
		now:    now,
		tick:   tickSize,
		base:   base,
		walks:  make(map[string]*walk),
		levels: 5,
	}
}

func (s *Synthetic) Synthetic() bool { return true }

func (s *Synthetic) walkFor(instrument string) *walk {
	w, ok := s.walks[instrument]
	if ok {
		return w
	}
	h := fnv.New64a()
	h.Write([]byte(instrument))
	seed := int64(h.Sum64())
	w = &walk{rnd: rand.New(rand.NewSource(seed))}
	if p, ok := s.base[instrument]; ok {
		w.mid = p
	} else {
		w.mid = 50 + float64(seed&0x3ff)
	}
	s.walks[instrument] = w
	return w
}

// round snaps a price to the tick grid.
func (s *Synthetic) round(p float64) float64 {
	return decimal.NewFromFloat(p).Div(s.tick).Round(0).Mul(s.tick).InexactFloat64()
}

func (s *Synthetic) step(w *walk) float64 {
	w.mid *= 1 + (w.rnd.Float64()-0.5)*0.002
	return w.mid
}

func (s *Synthetic) FetchQuote(ctx context.Context, instrument string) (models.Quote, error) {
	if err := ctx.Err(); err != nil {
		return models.Quote{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	w := s.walkFor(instrument)
	mid := s.step(w)
	half := s.tick.InexactFloat64()
	last := s.round(mid)
	return models.Quote{
		Last:      last,
		Bid:       s.round(mid - half),
		Ask:       s.round(mid + half),
		DayHigh:   s.round(mid * 1.01),
		DayLow:    s.round(mid * 0.99),
		Volume:    float64(w.rnd.Intn(1_000_000)),
		Timestamp: s.now(),
	}, nil
}

func (s *Synthetic) FetchCandles(ctx context.Context, instrument string, tf models.Timeframe, r models.Range) ([]models.Candle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if tf.Duration() == 0 {
		return nil, &models.ValidationError{Field: "timeframe", Reason: "unknown timeframe " + string(tf)}
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	w := s.walkFor(instrument)
	var out []models.Candle
	for start := tf.Truncate(r.From); start.Before(r.To); start = tf.Truncate(start.Add(tf.Duration())) {
		open := s.round(w.mid)
		a, b := s.step(w), s.step(w)
		closeP := s.round(s.step(w))
		high := s.round(max(open, closeP, a, b))
		low := s.round(min(open, closeP, a, b))
		out = append(out, models.Candle{
			Timeframe: tf,
			Start:     start,
			Open:      open,
			High:      high,
			Low:       low,
			Close:     closeP,
			Volume:    float64(w.rnd.Intn(100_000)),
		})
	}
	return out, nil
}

func (s *Synthetic) FetchOrderBook(ctx context.Context, instrument string) (models.OrderBookSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return models.OrderBookSnapshot{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	w := s.walkFor(instrument)
	mid := s.step(w)
	tick := s.tick.InexactFloat64()
	book := models.OrderBookSnapshot{Timestamp: s.now()}
	for i := 1; i <= s.levels; i++ {
		book.Bids = append(book.Bids, models.Level{Price: s.round(mid - float64(i)*tick), Size: float64(1 + w.rnd.Intn(500))})
		book.Asks = append(book.Asks, models.Level{Price: s.round(mid + float64(i)*tick), Size: float64(1 + w.rnd.Intn(500))})
	}
	return book, nil
}
