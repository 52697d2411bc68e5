package repository

import (
	"github.com/shubham-shewale/market-cache/cmd/gateway/internal/engine"
	"github.com/shubham-shewale/market-cache/cmd/gateway/internal/fetch"
)

// MarketStore is both halves of the upstream: the live feed and the
// snapshot store queried on a miss.
type MarketStore interface {
	engine.FeedSource
	fetch.Source
	Close() error
}
