package config_test

import (
	"testing"
	"time"

	"github.com/shubham-shewale/market-cache/pkg/config"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := config.LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	if cfg.Refresh.Interval != 30*time.Second {
		t.Errorf("Expected 30s refresh interval, got %v", cfg.Refresh.Interval)
	}
	if cfg.Refresh.CleanupInterval != 5*time.Minute {
		t.Errorf("Expected 5m cleanup interval, got %v", cfg.Refresh.CleanupInterval)
	}
	if cfg.Dedup.Window != 5*time.Second {
		t.Errorf("Expected 5s dedup window, got %v", cfg.Dedup.Window)
	}
	if cfg.Cache.MaxQuotes != 1000 {
		t.Errorf("Expected 1000 max quotes, got %d", cfg.Cache.MaxQuotes)
	}
	if cfg.Cache.OrderBookTTL != time.Minute {
		t.Errorf("Expected 60s order book ttl, got %v", cfg.Cache.OrderBookTTL)
	}
}

func TestLoadConfig_EnvOverride(t *testing.T) {
	t.Setenv("REFRESH_INTERVAL", "10s")
	t.Setenv("CACHE_MAX_QUOTES", "50")
	t.Setenv("FETCH_SOURCE", "synthetic")

	cfg, err := config.LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	if cfg.Refresh.Interval != 10*time.Second {
		t.Errorf("Expected env override 10s, got %v", cfg.Refresh.Interval)
	}
	if cfg.Cache.MaxQuotes != 50 {
		t.Errorf("Expected env override 50, got %d", cfg.Cache.MaxQuotes)
	}
	if cfg.Fetch.Source != "synthetic" {
		t.Errorf("Expected synthetic fetch source, got %s", cfg.Fetch.Source)
	}
}

func TestLoadConfig_RejectsUnknownFetchSource(t *testing.T) {
	t.Setenv("FETCH_SOURCE", "carrier-pigeon")

	if _, err := config.LoadConfig(); err == nil {
		t.Error("Expected an error for unknown fetch source")
	}
}

func TestLoadConfig_RejectsZeroThresholds(t *testing.T) {
	for _, env := range []string{"CACHE_QUOTE_STALE_AFTER", "DEDUP_IDLE_TTL", "CACHE_MAX_SUBSCRIPTIONS", "REFRESH_FEED_SILENCE_AFTER"} {
		t.Run(env, func(t *testing.T) {
			t.Setenv(env, "0")

			if _, err := config.LoadConfig(); err == nil {
				t.Errorf("Expected an error for %s=0", env)
			}
		})
	}
}

func TestLoadConfig_FeedHealthDefaults(t *testing.T) {
	cfg, err := config.LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Cache.MaxSubscriptions != 100 {
		t.Errorf("Expected 100 max subscriptions, got %d", cfg.Cache.MaxSubscriptions)
	}
	if cfg.Refresh.FeedSilenceAfter != 90*time.Second {
		t.Errorf("Expected 90s feed silence window, got %v", cfg.Refresh.FeedSilenceAfter)
	}
}

func TestNewLogger_InvalidLevel(t *testing.T) {
	if _, err := config.NewLogger(config.LoggerConfig{Level: "loud"}); err == nil {
		t.Error("Expected an error for invalid level")
	}

	logger, err := config.NewLogger(config.LoggerConfig{Level: "debug", Encoding: "console"})
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	logger.Debug("logger ok")
}
