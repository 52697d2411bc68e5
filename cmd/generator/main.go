package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/shubham-shewale/market-cache/cmd/generator/internal/generator"
	"github.com/shubham-shewale/market-cache/pkg/config"
)

var basePrices = map[string]float64{
	"AAPL": 150.0, "GOOG": 2800.0, "TSLA": 700.0, "AMZN": 3400.0, "MSFT": 300.0,
}

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	logger, err := config.NewLogger(cfg.Logger)
	if err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer logger.Sync()

	tick, err := decimal.NewFromString(cfg.Generator.TickSize)
	if err != nil {
		logger.Fatal("Invalid generator.tick_size", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Ensure the topic exists before the writer starts
	creator := generator.NewTopicCreator(logger, generator.BrokerDialer{Dialer: kafka.DefaultDialer}, generator.SystemClock{})
	if err := creator.Create(ctx, cfg.Kafka.Brokers, kafka.TopicConfig{
		Topic:             cfg.Kafka.Topic,
		NumPartitions:     4,
		ReplicationFactor: 1,
	}); err != nil {
		logger.Warn("Topic setup incomplete", zap.Error(err))
	}

	writer := &kafka.Writer{
		Addr:     kafka.TCP(cfg.Kafka.Brokers...),
		Topic:    cfg.Kafka.Topic,
		Balancer: &kafka.Hash{}, // same instrument, same partition
		// Optimization: Send batches to reduce network IO
		BatchSize:    100,
		BatchTimeout: 10 * time.Millisecond,
		Async:        true,
	}

	prices := make(map[string]float64, len(cfg.Generator.Tickers))
	for _, t := range cfg.Generator.Tickers {
		prices[t] = basePrices[t]
		if prices[t] == 0 {
			prices[t] = 100.0
		}
	}

	gen := generator.NewFeedGenerator(logger, writer, generator.Settings{
		Tickers:    cfg.Generator.Tickers,
		BasePrices: prices,
		TickSize:   tick,
		Interval:   cfg.Generator.Interval,
	}, generator.NewRand(time.Now().UnixNano()), generator.SystemClock{})

	gen.Run(ctx)
	logger.Info("Shutdown signal received")

	// Flush Kafka Buffer (CRITICAL)
	if err := writer.Close(); err != nil {
		logger.Error("Error closing Kafka writer", zap.Error(err))
	} else {
		logger.Info("Kafka writer closed cleanly")
	}
}
