package fetch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/shubham-shewale/market-cache/pkg/models"
)

type RetryConfig struct {
	MaxAttempts int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
	// RatePerSec <= 0 disables rate limiting.
	RatePerSec float64
	Burst      int
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		BaseBackoff: time.Second,
		MaxBackoff:  30 * time.Second,
		RatePerSec:  100.0 / 60.0,
		Burst:       10,
	}
}

// Backoff returns base * 2^attempt capped at max. Negative attempts yield base.
func Backoff(attempt int, base, max time.Duration) time.Duration {
	if attempt < 0 {
		return base
	}
	// 2^30 seconds is far beyond any sane cap
	if attempt > 30 {
		return max
	}
	d := base * time.Duration(1<<attempt)
	if d > max || d <= 0 {
		return max
	}
	return d
}

// Retrying wraps a Source with bounded retries, exponential backoff and a
// token-bucket rate limit shared by all requests.
type Retrying struct {
	src     Source
	cfg     RetryConfig
	limiter *rate.Limiter
	logger  *zap.Logger
	sleep   func(ctx context.Context, d time.Duration) error
}

var _ Source = (*Retrying)(nil)

func NewRetrying(src Source, cfg RetryConfig, logger *zap.Logger) *Retrying {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	limit := rate.Inf
	if cfg.RatePerSec > 0 {
		limit = rate.Limit(cfg.RatePerSec)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &Retrying{
		src:     src,
		cfg:     cfg,
		limiter: rate.NewLimiter(limit, burst),
		logger:  logger,
		sleep:   sleepCtx,
	}
}

// WithSleep replaces the backoff sleep, for tests.
func (r *Retrying) WithSleep(fn func(ctx context.Context, d time.Duration) error) *Retrying {
	r.sleep = fn
	return r
}

func (r *Retrying) Synthetic() bool { return IsSynthetic(r.src) }

func (r *Retrying) FetchQuote(ctx context.Context, instrument string) (models.Quote, error) {
	return retry(ctx, r, "fetch_quote", instrument, func(ctx context.Context) (models.Quote, error) {
		return r.src.FetchQuote(ctx, instrument)
	})
}

func (r *Retrying) FetchCandles(ctx context.Context, instrument string, tf models.Timeframe, rng models.Range) ([]models.Candle, error) {
	return retry(ctx, r, "fetch_candles", instrument, func(ctx context.Context) ([]models.Candle, error) {
		return r.src.FetchCandles(ctx, instrument, tf, rng)
	})
}

func (r *Retrying) FetchOrderBook(ctx context.Context, instrument string) (models.OrderBookSnapshot, error) {
	return retry(ctx, r, "fetch_order_book", instrument, func(ctx context.Context) (models.OrderBookSnapshot, error) {
		return r.src.FetchOrderBook(ctx, instrument)
	})
}

func retry[T any](ctx context.Context, r *Retrying, op, instrument string, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr error
	attempts := 0

	for attempt := 0; attempt < r.cfg.MaxAttempts; attempt++ {
		if err := r.limiter.Wait(ctx); err != nil {
			lastErr = ctxErr(ctx, err)
			break
		}

		attempts++
		v, err := fn(ctx)
		if err == nil {
			return v, nil
		}
		lastErr = err

		if errors.Is(err, models.ErrNotFound) || errors.Is(err, models.ErrValidation) {
			return zero, err
		}
		if ctx.Err() != nil {
			lastErr = ctxErr(ctx, err)
			break
		}
		if attempt == r.cfg.MaxAttempts-1 {
			break
		}

		delay := Backoff(attempt, r.cfg.BaseBackoff, r.cfg.MaxBackoff)
		r.logger.Debug("Retrying fetch",
			zap.String("op", op),
			zap.String("instrument", instrument),
			zap.Int("attempt", attempts),
			zap.Duration("backoff", delay),
			zap.Error(err))

		if err := r.sleep(ctx, delay); err != nil {
			lastErr = ctxErr(ctx, lastErr)
			break
		}
	}

	return zero, &models.FetchError{Op: op, Instrument: instrument, Attempts: attempts, Err: lastErr}
}

// ctxErr tags deadline expiry with models.ErrTimeout.
func ctxErr(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", models.ErrTimeout, err)
	}
	return err
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
