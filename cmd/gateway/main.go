package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gobwas/ws"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/shubham-shewale/market-cache/cmd/gateway/internal/engine"
	"github.com/shubham-shewale/market-cache/cmd/gateway/internal/events"
	"github.com/shubham-shewale/market-cache/cmd/gateway/internal/fetch"
	"github.com/shubham-shewale/market-cache/cmd/gateway/internal/gateway"
	"github.com/shubham-shewale/market-cache/cmd/gateway/internal/hub"
	"github.com/shubham-shewale/market-cache/cmd/gateway/internal/repository"
	"github.com/shubham-shewale/market-cache/cmd/gateway/internal/scheduler"
	"github.com/shubham-shewale/market-cache/pkg/config"
)

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

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		logger.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	repo := repository.NewRedisStore(rdb, logger)
	defer repo.Close()

	source, err := newFetchSource(cfg, repo)
	if err != nil {
		logger.Fatal("Invalid fetch source", zap.Error(err))
	}
	fetcher := fetch.NewRetrying(source, fetch.RetryConfig{
		MaxAttempts: cfg.Fetch.MaxAttempts,
		BaseBackoff: cfg.Fetch.BaseBackoff,
		MaxBackoff:  cfg.Fetch.MaxBackoff,
		RatePerSec:  cfg.Fetch.RatePerSec,
		Burst:       cfg.Fetch.Burst,
	}, logger)

	bus := events.NewBus()
	defer bus.Close()

	// Dependency Injection: the engine owns the caches, everything else holds a reference
	eng := engine.New(engine.Config{
		MaxQuotes:        cfg.Cache.MaxQuotes,
		HistoryRetention: cfg.Cache.HistoryRetention,
		OrderBookTTL:     cfg.Cache.OrderBookTTL,
		DepthLevels:      cfg.Cache.DepthLevels,
		QuoteStaleAfter:  cfg.Cache.QuoteStaleAfter,
		DedupWindow:      cfg.Dedup.Window,
		SequenceIdleTTL:  cfg.Dedup.IdleTTL,
		FetchTimeout:     cfg.Fetch.Timeout,
		FeedSilenceAfter: cfg.Refresh.FeedSilenceAfter,
		MaxSubscriptions: cfg.Cache.MaxSubscriptions,
	}, repo, fetcher, bus, logger)
	sched := scheduler.New(eng, cfg.Refresh.Interval, cfg.Refresh.CleanupInterval, logger)
	wsHub := hub.NewHub(eng, logger, cfg.Fetch.Timeout)
	stream, stopStream := eng.Events(1024)
	defer stopStream()

	validTickers := make(map[string]bool)
	for _, t := range cfg.Gateway.ValidTickers {
		validTickers[t] = true
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, _, _, err := ws.UpgradeHTTP(r, w)
		if err != nil {
			return
		}

		client := gateway.NewClient(conn, wsHub, logger, validTickers)
		client.Start()
	})

	srv := &http.Server{Addr: cfg.App.Port, Handler: mux}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return eng.Run(ctx) })
	g.Go(func() error { return sched.Run(ctx) })
	g.Go(func() error {
		wsHub.Run(ctx, stream)
		return nil
	})
	g.Go(func() error {
		logger.Info("Server Started", zap.String("port", cfg.App.Port), zap.String("fetch_source", cfg.Fetch.Source))
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("Gateway stopped with error", zap.Error(err))
	}
	logger.Info("Shutdown Complete")
}

func newFetchSource(cfg *config.Config, repo *repository.RedisStore) (fetch.Source, error) {
	switch cfg.Fetch.Source {
	case "synthetic":
		tick, err := decimal.NewFromString(cfg.Generator.TickSize)
		if err != nil {
			return nil, fmt.Errorf("generator.tick_size: %w", err)
		}
		return fetch.NewSynthetic(nil, tick, time.Now), nil
	default:
		return repo, nil
	}
}
