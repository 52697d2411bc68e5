package generator

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/shubham-shewale/market-cache/pkg/models"
)

// Settings shapes the synthetic feed.
type Settings struct {
	Tickers    []string
	BasePrices map[string]float64
	TickSize   decimal.Decimal
	Interval   time.Duration
	// BookLevels is the number of price levels per side in depth snapshots.
	BookLevels int
	// MaxDriftTicks bounds how far the mid strays from the base price.
	MaxDriftTicks int
	// LotSize is the unit of trade and book sizes.
	LotSize int
}

const (
	maxTradeLots = 10
	maxLevelLots = 20
)

// FeedGenerator publishes a random-walk quote, trade and depth snapshot
// per tick, keyed by instrument so partition ordering holds.
type FeedGenerator struct {
	logger      *zap.Logger
	writer      Publisher
	settings    Settings
	rand        Rand
	clock       Clock
	seqCounters map[string]int64
}

func NewFeedGenerator(logger *zap.Logger, writer Publisher, settings Settings, rnd Rand, clock Clock) *FeedGenerator {
	if settings.TickSize.IsZero() {
		settings.TickSize = decimal.New(1, -2)
	}
	if settings.Interval <= 0 {
		settings.Interval = 100 * time.Millisecond
	}
	if settings.BookLevels <= 0 {
		settings.BookLevels = 5
	}
	if settings.MaxDriftTicks <= 0 {
		settings.MaxDriftTicks = 500
	}
	if settings.LotSize <= 0 {
		settings.LotSize = 100
	}
	return &FeedGenerator{
		logger:      logger,
		writer:      writer,
		settings:    settings,
		rand:        rnd,
		clock:       clock,
		seqCounters: make(map[string]int64),
	}
}

func (g *FeedGenerator) Run(ctx context.Context) {
	g.logger.Info("Generator Started", zap.Strings("tickers", g.settings.Tickers))

	for {
		select {
		case <-ctx.Done():
			return
		default:
			if len(g.settings.Tickers) == 0 {
				g.clock.Sleep(1 * time.Second)
				continue
			}

			symbol := g.settings.Tickers[g.rand.Pick(len(g.settings.Tickers))]
			mid := g.mid(symbol)

			msgs := g.tick(symbol, mid, g.clock.Now())
			if err := g.writer.WriteMessages(ctx, msgs...); err != nil {
				g.logger.Error("Kafka Write Error", zap.Error(err))
			} else {
				g.logger.Debug("Sent tick", zap.String("instrument", symbol), zap.String("mid", mid.String()))
			}

			g.clock.Sleep(g.settings.Interval)
		}
	}
}

// tick builds one quote, trade and depth message around mid.
func (g *FeedGenerator) tick(symbol string, mid decimal.Decimal, now time.Time) []kafka.Message {
	tick := g.settings.TickSize
	bid := mid.Sub(tick)
	ask := mid.Add(tick)
	last := mid.InexactFloat64()

	book := models.OrderBookSnapshot{Timestamp: now}
	for i := 0; i < g.settings.BookLevels; i++ {
		step := tick.Mul(decimal.NewFromInt(int64(i)))
		if p := bid.Sub(step); p.IsPositive() {
			book.Bids = append(book.Bids, models.Level{Price: p.InexactFloat64(), Size: g.size(maxLevelLots)})
		}
		book.Asks = append(book.Asks, models.Level{Price: ask.Add(step).InexactFloat64(), Size: g.size(maxLevelLots)})
	}

	quote := &models.Quote{Last: last, Ask: ask.InexactFloat64(), Timestamp: now}
	if bid.IsPositive() {
		quote.Bid = bid.InexactFloat64()
	}

	out := []models.FeedMessage{
		{Kind: models.KindQuote, Quote: quote},
		{Kind: models.KindTrade, Trade: &models.Trade{Price: last, Size: g.size(maxTradeLots), Side: g.side(), Timestamp: now}},
		{Kind: models.KindDepth, Depth: &models.DepthUpdate{Snapshot: true, Book: book}},
	}

	msgs := make([]kafka.Message, 0, len(out))
	for _, m := range out {
		g.seqCounters[symbol]++
		m.Instrument = symbol
		m.Sequence = g.seqCounters[symbol]
		m.ObservedAt = now.UnixMicro()
		if m.Depth != nil {
			m.Depth.Book.Sequence = m.Sequence
		}

		payload, err := json.Marshal(m)
		if err != nil {
			g.logger.Error("JSON Marshal Error", zap.Error(err))
			continue
		}
		msgs = append(msgs, kafka.Message{Key: []byte(symbol), Value: payload})
	}
	return msgs
}

func (g *FeedGenerator) side() models.Side {
	if g.rand.BuyerInitiated() {
		return models.SideBuy
	}
	return models.SideSell
}

func (g *FeedGenerator) size(maxLots int) float64 {
	return float64(g.rand.Lots(maxLots) * g.settings.LotSize)
}

// mid drifts the base price by whole ticks and snaps it to the tick grid,
// never below one tick.
func (g *FeedGenerator) mid(symbol string) decimal.Decimal {
	tick := g.settings.TickSize
	drift := tick.Mul(decimal.NewFromInt(int64(g.rand.Drift(g.settings.MaxDriftTicks))))
	p := decimal.NewFromFloat(g.settings.BasePrices[symbol]).Div(tick).Round(0).Mul(tick).Add(drift)
	if p.LessThan(tick) {
		return tick
	}
	return p
}
