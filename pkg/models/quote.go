package models

import (
	"math"
	"strings"
	"time"
)

// NormalizeInstrument upper-cases and trims an instrument key.
func NormalizeInstrument(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

// Quote is the latest top-of-book view of an instrument.
// A zero Bid or Ask means that side is not quoted.
type Quote struct {
	Last      float64   `json:"last"`
	Bid       float64   `json:"bid,omitempty"`
	Ask       float64   `json:"ask,omitempty"`
	DayHigh   float64   `json:"day_high,omitempty"`
	DayLow    float64   `json:"day_low,omitempty"`
	Volume    float64   `json:"volume"`
	Timestamp time.Time `json:"timestamp"`
}

// Validate checks prices are non-negative and the quote is not crossed.
func (q Quote) Validate() error {
	for _, p := range []struct {
		name string
		v    float64
	}{
		{"last", q.Last}, {"bid", q.Bid}, {"ask", q.Ask},
		{"day_high", q.DayHigh}, {"day_low", q.DayLow}, {"volume", q.Volume},
	} {
		if math.IsNaN(p.v) || math.IsInf(p.v, 0) {
			return invalid(p.name, "not a finite number")
		}
		if p.v < 0 {
			return invalid(p.name, "negative value %v", p.v)
		}
	}
	if q.Bid > 0 && q.Ask > 0 && q.Bid > q.Ask {
		return invalid("bid", "bid %v above ask %v", q.Bid, q.Ask)
	}
	if q.DayHigh > 0 && q.DayLow > 0 && q.DayHigh < q.DayLow {
		return invalid("day_high", "day high %v below day low %v", q.DayHigh, q.DayLow)
	}
	return nil
}

// Spread is Ask-Bid, or 0 when either side is missing.
func (q Quote) Spread() float64 {
	if q.Bid <= 0 || q.Ask <= 0 {
		return 0
	}
	return q.Ask - q.Bid
}

// SpreadPercent is the spread relative to the bid.
func (q Quote) SpreadPercent() float64 {
	if q.Bid <= 0 {
		return 0
	}
	return q.Spread() / q.Bid * 100
}

// Side of a trade aggressor.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Trade is a single execution print.
type Trade struct {
	Price     float64   `json:"price"`
	Size      float64   `json:"size"`
	Side      Side      `json:"side,omitempty"`
	TradeID   string    `json:"trade_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func (t Trade) Validate() error {
	if math.IsNaN(t.Price) || t.Price <= 0 {
		return invalid("price", "must be positive, got %v", t.Price)
	}
	if math.IsNaN(t.Size) || t.Size <= 0 {
		return invalid("size", "must be positive, got %v", t.Size)
	}
	return nil
}

// ApplyTrade folds a trade print into the quote.
func (q Quote) ApplyTrade(t Trade) Quote {
	q.Last = t.Price
	q.Volume += t.Size
	if q.DayHigh == 0 || t.Price > q.DayHigh {
		q.DayHigh = t.Price
	}
	if q.DayLow == 0 || t.Price < q.DayLow {
		q.DayLow = t.Price
	}
	if t.Timestamp.After(q.Timestamp) {
		q.Timestamp = t.Timestamp
	}
	return q
}
