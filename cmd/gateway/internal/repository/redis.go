package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/shubham-shewale/market-cache/pkg/keys"
	"github.com/shubham-shewale/market-cache/pkg/models"
)

// Compile-time check to ensure RedisStore implements MarketStore
var _ MarketStore = (*RedisStore)(nil)

type RedisStore struct {
	client *redis.Client
	pubsub *redis.PubSub
	logger *zap.Logger
	mu     sync.Mutex // Protects access to pubsub
}

func NewRedisStore(client *redis.Client, logger *zap.Logger) *RedisStore {
	ps := client.Subscribe(context.Background())
	return &RedisStore{
		client: client,
		pubsub: ps,
		logger: logger,
	}
}

// Subscribe tells Redis we want to listen to the instrument's channel
func (r *RedisStore) Subscribe(ctx context.Context, instrument string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pubsub.Subscribe(ctx, keys.Channel(instrument))
}

// Unsubscribe tells Redis to stop sending messages for the instrument
func (r *RedisStore) Unsubscribe(ctx context.Context, instrument string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pubsub.Unsubscribe(ctx, keys.Channel(instrument))
}

// Run reads pub/sub messages until ctx is done and hands each decoded
// FeedMessage to onMessage. Undecodable payloads are skipped.
func (r *RedisStore) Run(ctx context.Context, onMessage func(models.FeedMessage)) error {
	ch := r.pubsub.Channel()

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return errors.New("redis pubsub channel closed")
			}
			inst, ok := keys.InstrumentFromChannel(msg.Channel)
			if !ok {
				continue
			}

			var fm models.FeedMessage
			if err := json.Unmarshal([]byte(msg.Payload), &fm); err != nil {
				r.logger.Debug("JSON Unmarshal Error", zap.String("channel", msg.Channel), zap.Error(err))
				continue
			}
			if fm.Instrument == "" {
				fm.Instrument = inst
			}
			onMessage(fm)
		}
	}
}

func (r *RedisStore) FetchQuote(ctx context.Context, instrument string) (models.Quote, error) {
	var q models.Quote
	if err := r.getJSON(ctx, keys.Quote(instrument), &q); err != nil {
		return models.Quote{}, err
	}
	return q, nil
}

func (r *RedisStore) FetchOrderBook(ctx context.Context, instrument string) (models.OrderBookSnapshot, error) {
	var b models.OrderBookSnapshot
	if err := r.getJSON(ctx, keys.Depth(instrument), &b); err != nil {
		return models.OrderBookSnapshot{}, err
	}
	return b, nil
}

// FetchCandles reads the half-open range from the instrument's sorted set.
func (r *RedisStore) FetchCandles(ctx context.Context, instrument string, tf models.Timeframe, rng models.Range) ([]models.Candle, error) {
	members, err := r.client.ZRangeByScore(ctx, keys.Candles(instrument, tf), &redis.ZRangeBy{
		Min: strconv.FormatInt(rng.From.Unix(), 10),
		Max: "(" + strconv.FormatInt(rng.To.Unix(), 10),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("zrangebyscore %s: %w", instrument, err)
	}
	if len(members) == 0 {
		return nil, models.ErrNotFound
	}

	out := make([]models.Candle, 0, len(members))
	for _, m := range members {
		var c models.Candle
		if err := json.Unmarshal([]byte(m), &c); err != nil {
			r.logger.Debug("Skipping undecodable candle", zap.String("instrument", instrument), zap.Error(err))
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

func (r *RedisStore) getJSON(ctx context.Context, key string, v any) error {
	payload, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return models.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("get %s: %w", key, err)
	}
	if err := json.Unmarshal(payload, v); err != nil {
		return &models.ValidationError{Field: key, Reason: err.Error()}
	}
	return nil
}

func (r *RedisStore) Close() error {
	if err := r.pubsub.Close(); err != nil {
		return err
	}
	return r.client.Close()
}
