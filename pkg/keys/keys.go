// Package keys names the Redis keys and channels shared by the processor
// (writer) and the gateway (reader).
package keys

import "github.com/shubham-shewale/market-cache/pkg/models"

const (
	quotePrefix   = "quote:"
	depthPrefix   = "depth:"
	candlePrefix  = "candles:"
	ChannelPrefix = "prices."
)

// Quote holds the latest quote as JSON.
func Quote(instrument string) string { return quotePrefix + instrument }

// Depth holds the latest order book snapshot as JSON.
func Depth(instrument string) string { return depthPrefix + instrument }

// Candles is a sorted set of candle JSON scored by period start (unix seconds).
func Candles(instrument string, tf models.Timeframe) string {
	return candlePrefix + instrument + ":" + string(tf)
}

// Channel carries every accepted FeedMessage for the instrument.
func Channel(instrument string) string { return ChannelPrefix + instrument }

// InstrumentFromChannel is the inverse of Channel.
func InstrumentFromChannel(channel string) (string, bool) {
	if len(channel) <= len(ChannelPrefix) || channel[:len(ChannelPrefix)] != ChannelPrefix {
		return "", false
	}
	return channel[len(ChannelPrefix):], true
}
