package processor_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/shubham-shewale/market-cache/cmd/processor/internal/processor"
	"github.com/shubham-shewale/market-cache/cmd/processor/internal/testutils"
	"github.com/shubham-shewale/market-cache/pkg/config"
	"github.com/shubham-shewale/market-cache/pkg/models"
)

var base = time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)

func quoteMsg(inst string, seq int64, bid, ask float64) models.FeedMessage {
	return models.FeedMessage{
		Kind:       models.KindQuote,
		Instrument: inst,
		Sequence:   seq,
		ObservedAt: base.UnixMicro(),
		Quote:      &models.Quote{Last: bid, Bid: bid, Ask: ask, Timestamp: base},
	}
}

func tradeMsg(inst string, seq int64, price, size float64, at time.Time) models.FeedMessage {
	return models.FeedMessage{
		Kind:       models.KindTrade,
		Instrument: inst,
		Sequence:   seq,
		ObservedAt: at.UnixMicro(),
		Trade:      &models.Trade{Price: price, Size: size, Timestamp: at},
	}
}

func toKafka(msgs ...models.FeedMessage) []kafka.Message {
	var out []kafka.Message
	for _, m := range msgs {
		val, _ := json.Marshal(m)
		out = append(out, kafka.Message{Key: []byte(m.Instrument), Value: val})
	}
	return out
}

func run(t *testing.T, cfg *config.Config, msgs []kafka.Message) *testutils.MockPipeline {
	t.Helper()
	mockReader := &testutils.MockKafkaReader{Messages: msgs}
	mockRedis := testutils.NewMockRedisClient()

	proc := processor.NewProcessor(cfg, zap.NewNop(), mockRedis, mockReader)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	if err := proc.Run(ctx); err != nil {
		t.Logf("Processor stopped: %v", err)
	}
	return mockRedis.PipelineSpy
}

func TestProcessor_WorkerLogic(t *testing.T) {
	cfg := &config.Config{}
	cfg.Processor.NumWorkers = 2

	pipeline := run(t, cfg, toKafka(
		quoteMsg("AAPL", 1, 100.0, 100.1),
		quoteMsg("AAPL", 1, 100.0, 100.1),
		quoteMsg("aapl", 2, 101.0, 101.1),
		quoteMsg("TSLA", 1, 900.0, 900.5),
	))

	pipeline.Mu.Lock()
	execs := pipeline.ExecCount
	pipeline.Mu.Unlock()

	if execs != 3 {
		t.Errorf("Expected 3 pipeline executions, got %d", execs)
	}
	if n := pipeline.Count("SET quote:AAPL"); n != 2 {
		t.Errorf("Expected 2 quote writes for AAPL, got %d", n)
	}
	if n := pipeline.Count("SET quote:TSLA"); n != 1 {
		t.Errorf("Expected 1 quote write for TSLA, got %d", n)
	}
	if n := pipeline.Count("PUBLISH prices.AAPL"); n != 2 {
		t.Errorf("Expected 2 publishes for AAPL, got %d", n)
	}
}

func TestProcessor_InvalidJSON(t *testing.T) {
	cfg := &config.Config{Processor: config.ProcessorConfig{NumWorkers: 1}}
	pipeline := run(t, cfg, []kafka.Message{
		{Key: []byte("AAPL"), Value: []byte("{broken-json")},
	})

	if pipeline.ExecCount > 0 {
		t.Error("Should not execute Redis commands for invalid JSON")
	}
}

func TestProcessor_InvalidQuoteDiscarded(t *testing.T) {
	cfg := &config.Config{Processor: config.ProcessorConfig{NumWorkers: 1}}
	pipeline := run(t, cfg, toKafka(quoteMsg("AAPL", 1, -5, 10)))

	if pipeline.ExecCount > 0 {
		t.Errorf("Invalid quote must not reach Redis, got %v", pipeline.RecordedCmds)
	}
}

func TestProcessor_TradesBuildCandles(t *testing.T) {
	cfg := &config.Config{}
	cfg.Processor.NumWorkers = 1
	cfg.Processor.CandleTimeframes = []string{"1m", "bogus"}
	cfg.Cache.HistoryRetention = 100

	pipeline := run(t, cfg, toKafka(
		tradeMsg("AAPL", 1, 150.0, 10, base.Add(5*time.Second)),
		tradeMsg("AAPL", 2, 151.0, 5, base.Add(20*time.Second)),
	))

	key := "candles:AAPL:1m"
	if n := pipeline.Count("ZADD " + key); n != 2 {
		t.Fatalf("Expected 2 candle upserts, got %d (%v)", n, pipeline.RecordedCmds)
	}
	if n := pipeline.Count("ZREMRANGEBYRANK " + key + " 0 -101"); n != 2 {
		t.Errorf("Expected retention trim on every upsert, got %d", n)
	}

	var c models.Candle
	if err := json.Unmarshal(pipeline.Values[key], &c); err != nil {
		t.Fatalf("Bad candle JSON: %v", err)
	}
	if c.Open != 150.0 || c.High != 151.0 || c.Close != 151.0 || c.Volume != 15 {
		t.Errorf("Unexpected candle: %+v", c)
	}
	if !c.Start.Equal(base) {
		t.Errorf("Expected candle start %v, got %v", base, c.Start)
	}
}

func TestProcessor_DepthDeltaMerged(t *testing.T) {
	cfg := &config.Config{}
	cfg.Processor.NumWorkers = 1
	cfg.Cache.DepthLevels = 10

	snapshot := models.FeedMessage{
		Kind: models.KindDepth, Instrument: "AAPL", Sequence: 1, ObservedAt: base.UnixMicro(),
		Depth: &models.DepthUpdate{Snapshot: true, Book: models.OrderBookSnapshot{
			Bids: []models.Level{{Price: 99, Size: 1}},
			Asks: []models.Level{{Price: 101, Size: 1}},
		}},
	}
	delta := models.FeedMessage{
		Kind: models.KindDepth, Instrument: "AAPL", Sequence: 2, ObservedAt: base.UnixMicro(),
		Depth: &models.DepthUpdate{Book: models.OrderBookSnapshot{
			Bids: []models.Level{{Price: 100, Size: 2}},
		}},
	}

	pipeline := run(t, cfg, toKafka(snapshot, delta))

	if n := pipeline.Count("SET depth:AAPL"); n != 2 {
		t.Fatalf("Expected 2 depth writes, got %d", n)
	}
	var book models.OrderBookSnapshot
	if err := json.Unmarshal(pipeline.Values["depth:AAPL"], &book); err != nil {
		t.Fatalf("Bad book JSON: %v", err)
	}
	if len(book.Bids) != 2 || book.Bids[0].Price != 100 || len(book.Asks) != 1 {
		t.Errorf("Expected delta merged onto snapshot, got %+v", book)
	}
}
