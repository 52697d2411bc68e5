// Package fetch provides request/response access to market data and the
// retry policy around it.
package fetch

import (
	"context"

	"github.com/shubham-shewale/market-cache/pkg/models"
)

// Source is an upstream that can be asked for current or historical data.
// Implementations return models.ErrNotFound when they hold nothing.
type Source interface {
	FetchQuote(ctx context.Context, instrument string) (models.Quote, error)
	FetchCandles(ctx context.Context, instrument string, tf models.Timeframe, r models.Range) ([]models.Candle, error)
	FetchOrderBook(ctx context.Context, instrument string) (models.OrderBookSnapshot, error)
}

// Origin is implemented by sources that make data up rather than read it.
type Origin interface {
	Synthetic() bool
}

// IsSynthetic reports whether values from src should be tagged synthetic.
func IsSynthetic(src Source) bool {
	o, ok := src.(Origin)
	return ok && o.Synthetic()
}
