package tests

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/shubham-shewale/market-cache/cmd/processor/internal/processor"
	"github.com/shubham-shewale/market-cache/cmd/processor/internal/testutils"
	"github.com/shubham-shewale/market-cache/pkg/config"
	"github.com/shubham-shewale/market-cache/pkg/keys"
	"github.com/shubham-shewale/market-cache/pkg/models"
)

func TestProcessor_EndToEnd_Flow(t *testing.T) {
	mr := miniredis.RunT(t)
	defer mr.Close()

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	now := time.Date(2024, 1, 1, 10, 0, 30, 0, time.UTC)
	quote := models.FeedMessage{
		Kind: models.KindQuote, Instrument: "GOOG", Sequence: 100, ObservedAt: now.UnixMicro(),
		Quote: &models.Quote{Last: 1500.50, Bid: 1500.25, Ask: 1500.75, Timestamp: now},
	}
	trade := models.FeedMessage{
		Kind: models.KindTrade, Instrument: "GOOG", Sequence: 101, ObservedAt: now.UnixMicro(),
		Trade: &models.Trade{Price: 1500.50, Size: 3, Timestamp: now},
	}

	var msgs []kafka.Message
	for _, m := range []models.FeedMessage{quote, trade} {
		val, _ := json.Marshal(m)
		msgs = append(msgs, kafka.Message{Key: []byte(m.Instrument), Value: val})
	}
	// Use Mock Reader because spinning up real Kafka is heavy/complex for unit tests
	mockReader := &testutils.MockKafkaReader{Messages: msgs}

	cfg := &config.Config{}
	cfg.Processor.NumWorkers = 1
	cfg.Processor.CandleTimeframes = []string{"1m"}
	cfg.Processor.SnapshotTTL = time.Hour
	cfg.Cache.HistoryRetention = 10

	proc := processor.NewProcessor(cfg, zap.NewNop(), rdb, mockReader)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	done := make(chan struct{})
	go func() {
		proc.Run(ctx)
		close(done)
	}()

	candleKey := keys.Candles("GOOG", models.Timeframe1m)

	// Poll until both writes land (since processor is async)
	success := false
	for i := 0; i < 10; i++ {
		if mr.Exists(keys.Quote("GOOG")) && mr.Exists(candleKey) {
			success = true
			break
		}
		time.Sleep(100 * time.Millisecond)
	}

	if !success {
		t.Fatal("Processor did not write the GOOG snapshots to Redis")
	}

	savedVal, _ := mr.Get(keys.Quote("GOOG"))
	var saved models.Quote
	if err := json.Unmarshal([]byte(savedVal), &saved); err != nil || saved.Bid != 1500.25 {
		t.Errorf("Redis quote mismatch: %s", savedVal)
	}
	if ttl := mr.TTL(keys.Quote("GOOG")); ttl != time.Hour {
		t.Errorf("Expected 1h snapshot TTL, got %v", ttl)
	}

	members, err := mr.ZMembers(candleKey)
	if err != nil || len(members) != 1 {
		t.Fatalf("Expected one candle member, got %v (%v)", members, err)
	}
	score, _ := mr.ZScore(candleKey, members[0])
	if int64(score) != now.Truncate(time.Minute).Unix() {
		t.Errorf("Candle scored at %v, want period start", score)
	}

	cancel()
	<-done
}
