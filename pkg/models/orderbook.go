package models

import (
	"math"
	"sort"
	"time"
)

// Level is one price level of a book side.
type Level struct {
	Price float64 `json:"price"`
	Size  float64 `json:"size"`
}

// OrderBookSnapshot holds bids in descending and asks in ascending price order.
type OrderBookSnapshot struct {
	Bids      []Level   `json:"bids"`
	Asks      []Level   `json:"asks"`
	Sequence  int64     `json:"sequence"`
	Timestamp time.Time `json:"timestamp"`
}

// Validate rejects unsorted sides, non-positive levels and crossed books.
func (b OrderBookSnapshot) Validate() error {
	if err := validateSide("bids", b.Bids, func(prev, cur float64) bool { return cur < prev }); err != nil {
		return err
	}
	if err := validateSide("asks", b.Asks, func(prev, cur float64) bool { return cur > prev }); err != nil {
		return err
	}
	if len(b.Bids) > 0 && len(b.Asks) > 0 && b.Bids[0].Price >= b.Asks[0].Price {
		return invalid("book", "crossed: best bid %v >= best ask %v", b.Bids[0].Price, b.Asks[0].Price)
	}
	return nil
}

func validateSide(name string, levels []Level, ordered func(prev, cur float64) bool) error {
	for i, l := range levels {
		if math.IsNaN(l.Price) || l.Price <= 0 {
			return invalid(name, "level %d has price %v", i, l.Price)
		}
		if math.IsNaN(l.Size) || l.Size <= 0 {
			return invalid(name, "level %d has size %v", i, l.Size)
		}
		if i > 0 && !ordered(levels[i-1].Price, l.Price) {
			return invalid(name, "level %d out of order", i)
		}
	}
	return nil
}

// BestBid returns the top bid, if any.
func (b OrderBookSnapshot) BestBid() (Level, bool) {
	if len(b.Bids) == 0 {
		return Level{}, false
	}
	return b.Bids[0], true
}

// BestAsk returns the top ask, if any.
func (b OrderBookSnapshot) BestAsk() (Level, bool) {
	if len(b.Asks) == 0 {
		return Level{}, false
	}
	return b.Asks[0], true
}

// Clone deep-copies the level slices.
func (b OrderBookSnapshot) Clone() OrderBookSnapshot {
	b.Bids = append([]Level(nil), b.Bids...)
	b.Asks = append([]Level(nil), b.Asks...)
	return b
}

// Merge applies an incremental update: a zero-size level removes the price,
// any other size replaces it. Each side is re-sorted and cut to depth levels
// (depth <= 0 keeps every level).
func (b OrderBookSnapshot) Merge(delta OrderBookSnapshot, depth int) OrderBookSnapshot {
	out := OrderBookSnapshot{
		Bids:      mergeSide(b.Bids, delta.Bids, func(x, y float64) bool { return x > y }, depth),
		Asks:      mergeSide(b.Asks, delta.Asks, func(x, y float64) bool { return x < y }, depth),
		Sequence:  delta.Sequence,
		Timestamp: delta.Timestamp,
	}
	return out
}

func mergeSide(base, delta []Level, better func(x, y float64) bool, depth int) []Level {
	byPrice := make(map[float64]float64, len(base)+len(delta))
	for _, l := range base {
		byPrice[l.Price] = l.Size
	}
	for _, l := range delta {
		if l.Size == 0 {
			delete(byPrice, l.Price)
			continue
		}
		byPrice[l.Price] = l.Size
	}

	out := make([]Level, 0, len(byPrice))
	for p, s := range byPrice {
		out = append(out, Level{Price: p, Size: s})
	}
	sort.Slice(out, func(i, j int) bool { return better(out[i].Price, out[j].Price) })
	if depth > 0 && len(out) > depth {
		out = out[:depth]
	}
	return out
}
