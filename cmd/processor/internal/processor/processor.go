package processor

import (
	"context"
	"encoding/json"
	"errors"
	"hash/fnv"
	"strconv"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/shubham-shewale/market-cache/pkg/candles"
	"github.com/shubham-shewale/market-cache/pkg/config"
	"github.com/shubham-shewale/market-cache/pkg/dedup"
	"github.com/shubham-shewale/market-cache/pkg/keys"
	"github.com/shubham-shewale/market-cache/pkg/models"
)

type Processor struct {
	cfg        *config.Config
	logger     Logger
	rdb        RedisClient
	reader     KafkaReader
	numWorkers int
	timeframes []models.Timeframe
}

func NewProcessor(cfg *config.Config, logger Logger, rdb RedisClient, reader KafkaReader) *Processor {
	var timeframes []models.Timeframe
	for _, name := range cfg.Processor.CandleTimeframes {
		tf, err := models.ParseTimeframe(name)
		if err != nil {
			logger.Warn("Ignoring candle timeframe", zap.String("timeframe", name), zap.Error(err))
			continue
		}
		timeframes = append(timeframes, tf)
	}

	numWorkers := cfg.Processor.NumWorkers
	if numWorkers <= 0 {
		numWorkers = 1
	}
	return &Processor{
		cfg:        cfg,
		logger:     logger,
		rdb:        rdb,
		reader:     reader,
		numWorkers: numWorkers,
		timeframes: timeframes,
	}
}

func (p *Processor) Run(ctx context.Context) error {
	workerChans := make([]chan []byte, p.numWorkers)
	var wg sync.WaitGroup

	for i := 0; i < p.numWorkers; i++ {
		workerChans[i] = make(chan []byte, 100)
		wg.Add(1)
		go p.worker(i, workerChans[i], &wg)
	}

	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		p.logger.Info("Processor Started", zap.Int("workers", p.numWorkers))
		for {
			m, err := p.reader.ReadMessage(ctx)
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return
				}
				p.logger.Error("Kafka Read Error", zap.Error(err))
				continue
			}

			// Deterministic Sharding: Same instrument always goes to same worker
			workerID := getWorkerID(m.Key, p.numWorkers)

			select {
			case workerChans[workerID] <- m.Value:
			case <-ctx.Done():
				return
			default:
				p.logger.Warn("Dropping slow packet", zap.String("key", string(m.Key)), zap.Int("worker_id", workerID))
			}
		}
	}()

	<-ctx.Done()
	p.logger.Info("Shutdown signal received, stopping processor...")

	// The reader must stop before its channels close
	<-readerDone

	for _, ch := range workerChans {
		close(ch)
	}
	p.logger.Info("Waiting for workers to drain...")
	wg.Wait()

	return nil
}

// workerState is owned by one worker goroutine; sharding makes it complete
// for the instruments that worker sees.
type workerState struct {
	seen    *dedup.Deduplicator
	candles *candles.Aggregator
	books   map[string]models.OrderBookSnapshot
}

func (p *Processor) worker(id int, msgs <-chan []byte, wg *sync.WaitGroup) {
	defer wg.Done()
	ctx := context.Background()

	st := &workerState{
		seen:    dedup.New(p.cfg.Dedup.Window),
		candles: candles.NewAggregator(p.timeframes),
		books:   make(map[string]models.OrderBookSnapshot),
	}

	for payload := range msgs {
		var msg models.FeedMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			p.logger.Error("JSON Unmarshal Error", zap.Error(err))
			continue
		}
		msg.Instrument = models.NormalizeInstrument(msg.Instrument)

		if !st.seen.ShouldProcess(msg.Instrument, msg.Sequence, msg.Observed()) {
			p.logger.Debug("Skipping duplicate update", zap.String("instrument", msg.Instrument), zap.Int64("seq_id", msg.Sequence))
			continue
		}
		if err := msg.Validate(); err != nil {
			p.logger.Warn("Discarding invalid update", zap.String("instrument", msg.Instrument), zap.Error(err))
			continue
		}

		pipe := p.rdb.Pipeline()
		if !p.stage(ctx, pipe, st, msg) {
			continue
		}
		// Atomic Update via Pipeline: snapshot write and fan-out together
		pipe.Publish(ctx, keys.Channel(msg.Instrument), payload)

		if _, err := pipe.Exec(ctx); err != nil {
			p.logger.Error("Redis Pipeline Error", zap.Error(err), zap.String("instrument", msg.Instrument))
		} else {
			p.logger.Debug("Processed", zap.String("instrument", msg.Instrument), zap.String("kind", string(msg.Kind)), zap.Int("worker_id", id))
		}
	}
}

// stage queues the snapshot writes for msg. It reports false when the
// message leaves nothing to write.
func (p *Processor) stage(ctx context.Context, pipe Pipeliner, st *workerState, msg models.FeedMessage) bool {
	ttl := p.cfg.Processor.SnapshotTTL
	inst := msg.Instrument

	switch msg.Kind {
	case models.KindQuote:
		b, _ := json.Marshal(msg.Quote)
		pipe.Set(ctx, keys.Quote(inst), b, ttl)

	case models.KindTrade:
		at := msg.Trade.Timestamp
		if at.IsZero() {
			at = msg.Observed()
		}
		for _, c := range st.candles.Add(inst, *msg.Trade, at) {
			p.stageCandle(ctx, pipe, inst, c)
		}

	case models.KindDepth:
		book := msg.Depth.Book
		if !msg.Depth.Snapshot {
			book = st.books[inst].Merge(msg.Depth.Book, p.cfg.Cache.DepthLevels)
		}
		if err := book.Validate(); err != nil {
			p.logger.Warn("Discarding invalid book", zap.String("instrument", inst), zap.Error(err))
			return false
		}
		st.books[inst] = book
		b, _ := json.Marshal(book)
		pipe.Set(ctx, keys.Depth(inst), b, ttl)
	}
	return true
}

// stageCandle replaces the member scored at the candle start and trims the
// series to the retention limit.
func (p *Processor) stageCandle(ctx context.Context, pipe Pipeliner, inst string, c models.Candle) {
	key := keys.Candles(inst, c.Timeframe)
	score := strconv.FormatInt(c.Start.Unix(), 10)
	b, _ := json.Marshal(c)

	pipe.ZRemRangeByScore(ctx, key, score, score)
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(c.Start.Unix()), Member: b})
	if n := p.cfg.Cache.HistoryRetention; n > 0 {
		pipe.ZRemRangeByRank(ctx, key, 0, int64(-n-1))
	}
}

func getWorkerID(key []byte, numWorkers int) int {
	h := fnv.New32a()
	h.Write(key)
	return int(h.Sum32()) % numWorkers
}
