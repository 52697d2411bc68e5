package models

import (
	"time"
)

// MessageKind tags the payload of a FeedMessage.
type MessageKind string

const (
	KindQuote MessageKind = "quote"
	KindTrade MessageKind = "trade"
	KindDepth MessageKind = "depth"
)

// DepthUpdate is either a full book snapshot or an incremental delta.
type DepthUpdate struct {
	Snapshot bool              `json:"snapshot"`
	Book     OrderBookSnapshot `json:"book"`
}

// FeedMessage is a single real-time market data message.
// It travels as JSON on the Kafka topic and on the Redis price channels.
type FeedMessage struct {
	Kind       MessageKind  `json:"kind"`
	Instrument string       `json:"instrument"`
	Sequence   int64        `json:"seq_id"`    // monotonic counter per instrument
	ObservedAt int64        `json:"timestamp"` // unix micro
	Quote      *Quote       `json:"quote,omitempty"`
	Trade      *Trade       `json:"trade,omitempty"`
	Depth      *DepthUpdate `json:"depth,omitempty"`
}

// Observed returns the capture time.
func (m FeedMessage) Observed() time.Time {
	return time.UnixMicro(m.ObservedAt)
}

// Validate checks the envelope and the payload matching Kind.
func (m FeedMessage) Validate() error {
	if m.Instrument == "" {
		return invalid("instrument", "empty instrument key")
	}
	switch m.Kind {
	case KindQuote:
		if m.Quote == nil {
			return invalid("quote", "missing payload")
		}
		return m.Quote.Validate()
	case KindTrade:
		if m.Trade == nil {
			return invalid("trade", "missing payload")
		}
		return m.Trade.Validate()
	case KindDepth:
		if m.Depth == nil {
			return invalid("depth", "missing payload")
		}
		if m.Depth.Snapshot {
			return m.Depth.Book.Validate()
		}
		return nil
	default:
		return invalid("kind", "unknown message kind %q", m.Kind)
	}
}
