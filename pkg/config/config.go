package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logger    LoggerConfig    `mapstructure:"logger"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	Gateway   GatewayConfig   `mapstructure:"gateway"`
	Processor ProcessorConfig `mapstructure:"processor"`
	Generator GeneratorConfig `mapstructure:"generator"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Dedup     DedupConfig     `mapstructure:"dedup"`
	Refresh   RefreshConfig   `mapstructure:"refresh"`
	Fetch     FetchConfig     `mapstructure:"fetch"`
}

type AppConfig struct {
	Port string `mapstructure:"port"`
	Env  string `mapstructure:"env"` // e.g., "local", "prod"
}

type LoggerConfig struct {
	Level    string `mapstructure:"level"`    // debug, info, warn, error
	Encoding string `mapstructure:"encoding"` // json, console
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
	GroupID string   `mapstructure:"group_id"`
}

type GatewayConfig struct {
	ValidTickers []string `mapstructure:"valid_tickers"`
}

type ProcessorConfig struct {
	NumWorkers int `mapstructure:"num_workers"`
	// CandleTimeframes are aggregated from trades and written to Redis.
	CandleTimeframes []string `mapstructure:"candle_timeframes"`
	// SnapshotTTL bounds the lifetime of snapshot keys in Redis.
	SnapshotTTL time.Duration `mapstructure:"snapshot_ttl"`
}

type GeneratorConfig struct {
	Tickers  []string      `mapstructure:"tickers"`
	Interval time.Duration `mapstructure:"interval"`
	TickSize string        `mapstructure:"tick_size"`
}

type CacheConfig struct {
	MaxQuotes        int           `mapstructure:"max_quotes"`
	HistoryRetention int           `mapstructure:"history_retention"`
	OrderBookTTL     time.Duration `mapstructure:"order_book_ttl"`
	DepthLevels      int           `mapstructure:"depth_levels"`
	QuoteStaleAfter  time.Duration `mapstructure:"quote_stale_after"`
	MaxSubscriptions int           `mapstructure:"max_subscriptions"`
}

type DedupConfig struct {
	Window  time.Duration `mapstructure:"window"`
	IdleTTL time.Duration `mapstructure:"idle_ttl"`
}

type RefreshConfig struct {
	Interval        time.Duration `mapstructure:"interval"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
	// FeedSilenceAfter marks the gateway degraded when the feed is quiet
	// this long while instruments are watched.
	FeedSilenceAfter time.Duration `mapstructure:"feed_silence_after"`
}

type FetchConfig struct {
	Source      string        `mapstructure:"source"` // "redis" or "synthetic"
	Timeout     time.Duration `mapstructure:"timeout"`
	MaxAttempts int           `mapstructure:"max_attempts"`
	BaseBackoff time.Duration `mapstructure:"base_backoff"`
	MaxBackoff  time.Duration `mapstructure:"max_backoff"`
	RatePerSec  float64       `mapstructure:"rate_per_sec"`
	Burst       int           `mapstructure:"burst"`
}

// LoadConfig reads configuration from .env file, environment variables, and defaults.
func LoadConfig() (*Config, error) {
	v := viper.New()

	// Load .env into the process environment so APP_PORT etc. behave like real env vars
	if err := godotenv.Load(); err != nil {
		log.Println("Note: No .env file found, relying on System Env Vars")
	}

	setDefaults(v)

	// "app.port" -> "APP_PORT"
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Viper only maps flat env vars onto nested keys it already knows about
	for _, key := range v.AllKeys() {
		bindEnv(v, key)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.port", ":8080")
	v.SetDefault("app.env", "local")

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.encoding", "json")

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topic", "market_feed")
	v.SetDefault("kafka.group_id", "market-processor-group")

	v.SetDefault("gateway.valid_tickers", []string{"AAPL", "GOOG", "TSLA", "AMZN", "MSFT"})

	v.SetDefault("processor.num_workers", 4)
	v.SetDefault("processor.candle_timeframes", []string{"1m", "5m", "1h"})
	v.SetDefault("processor.snapshot_ttl", time.Hour)

	v.SetDefault("generator.tickers", []string{"AAPL", "GOOG", "TSLA", "AMZN"})
	v.SetDefault("generator.interval", 100*time.Millisecond)
	v.SetDefault("generator.tick_size", "0.01")

	v.SetDefault("cache.max_quotes", 1000)
	v.SetDefault("cache.history_retention", 1000)
	v.SetDefault("cache.order_book_ttl", 60*time.Second)
	v.SetDefault("cache.depth_levels", 20)
	v.SetDefault("cache.quote_stale_after", 60*time.Second)
	v.SetDefault("cache.max_subscriptions", 100)

	v.SetDefault("dedup.window", 5*time.Second)
	v.SetDefault("dedup.idle_ttl", time.Hour)

	v.SetDefault("refresh.interval", 30*time.Second)
	v.SetDefault("refresh.cleanup_interval", 5*time.Minute)
	v.SetDefault("refresh.feed_silence_after", 90*time.Second)

	v.SetDefault("fetch.source", "redis")
	v.SetDefault("fetch.timeout", 30*time.Second)
	v.SetDefault("fetch.max_attempts", 3)
	v.SetDefault("fetch.base_backoff", time.Second)
	v.SetDefault("fetch.max_backoff", 30*time.Second)
	v.SetDefault("fetch.rate_per_sec", 100.0/60.0)
	v.SetDefault("fetch.burst", 10)
}

// Validate rejects settings the services cannot run with.
func (c *Config) Validate() error {
	if len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka brokers cannot be empty")
	}
	if c.Processor.NumWorkers <= 0 {
		return fmt.Errorf("processor.num_workers must be positive, got %d", c.Processor.NumWorkers)
	}
	if c.Cache.MaxQuotes <= 0 {
		return fmt.Errorf("cache.max_quotes must be positive, got %d", c.Cache.MaxQuotes)
	}
	if c.Cache.HistoryRetention <= 0 {
		return fmt.Errorf("cache.history_retention must be positive, got %d", c.Cache.HistoryRetention)
	}
	if c.Cache.QuoteStaleAfter <= 0 {
		return fmt.Errorf("cache.quote_stale_after must be positive, got %v", c.Cache.QuoteStaleAfter)
	}
	if c.Cache.MaxSubscriptions <= 0 {
		return fmt.Errorf("cache.max_subscriptions must be positive, got %d", c.Cache.MaxSubscriptions)
	}
	if c.Dedup.IdleTTL <= 0 {
		return fmt.Errorf("dedup.idle_ttl must be positive, got %v", c.Dedup.IdleTTL)
	}
	if c.Refresh.Interval <= 0 || c.Refresh.CleanupInterval <= 0 || c.Refresh.FeedSilenceAfter <= 0 {
		return fmt.Errorf("refresh intervals must be positive")
	}
	if c.Fetch.MaxAttempts <= 0 {
		return fmt.Errorf("fetch.max_attempts must be positive, got %d", c.Fetch.MaxAttempts)
	}
	switch c.Fetch.Source {
	case "redis", "synthetic":
	default:
		return fmt.Errorf("unknown fetch.source %q", c.Fetch.Source)
	}
	return nil
}

// bindEnv is a helper to bind multiple keys at once
func bindEnv(v *viper.Viper, keys ...string) {
	for _, key := range keys {
		if err := v.BindEnv(key); err != nil {
			log.Printf("Could not bind env var for key %s: %v", key, err)
		}
	}
}
