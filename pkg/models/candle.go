package models

import (
	"fmt"
	"math"
	"time"
)

// Timeframe is the period a candle covers.
type Timeframe string

const (
	Timeframe1m  Timeframe = "1m"
	Timeframe5m  Timeframe = "5m"
	Timeframe15m Timeframe = "15m"
	Timeframe1h  Timeframe = "1h"
	Timeframe1d  Timeframe = "1d"
	Timeframe1w  Timeframe = "1w"
	Timeframe1M  Timeframe = "1M"
)

var timeframeDurations = map[Timeframe]time.Duration{
	Timeframe1m:  time.Minute,
	Timeframe5m:  5 * time.Minute,
	Timeframe15m: 15 * time.Minute,
	Timeframe1h:  time.Hour,
	Timeframe1d:  24 * time.Hour,
	Timeframe1w:  7 * 24 * time.Hour,
	Timeframe1M:  30 * 24 * time.Hour,
}

// ParseTimeframe validates a timeframe string.
func ParseTimeframe(s string) (Timeframe, error) {
	tf := Timeframe(s)
	if _, ok := timeframeDurations[tf]; !ok {
		return "", invalid("timeframe", "unknown timeframe %q", s)
	}
	return tf, nil
}

// Duration is the nominal length of one period. 1M is approximated as 30 days.
func (tf Timeframe) Duration() time.Duration {
	return timeframeDurations[tf]
}

// Truncate returns the start of the period containing t, in UTC.
// Weeks start on Monday, months on the first day.
func (tf Timeframe) Truncate(t time.Time) time.Time {
	t = t.UTC()
	switch tf {
	case Timeframe1d:
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	case Timeframe1w:
		day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
		offset := (int(day.Weekday()) + 6) % 7
		return day.AddDate(0, 0, -offset)
	case Timeframe1M:
		return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	default:
		return t.Truncate(tf.Duration())
	}
}

// Candle is one OHLCV bar.
type Candle struct {
	Timeframe Timeframe `json:"timeframe"`
	Start     time.Time `json:"start"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
}

// Validate enforces High >= max(Open, Close, Low) and Low <= min(Open, Close, High).
func (c Candle) Validate() error {
	if _, ok := timeframeDurations[c.Timeframe]; !ok {
		return invalid("timeframe", "unknown timeframe %q", c.Timeframe)
	}
	if c.Start.IsZero() {
		return invalid("start", "period start is required")
	}
	for _, p := range []float64{c.Open, c.High, c.Low, c.Close, c.Volume} {
		if math.IsNaN(p) || math.IsInf(p, 0) || p < 0 {
			return invalid("price", "value %v out of range", p)
		}
	}
	if c.High < math.Max(math.Max(c.Open, c.Close), c.Low) {
		return invalid("high", "high %v below open/close/low", c.High)
	}
	if c.Low > math.Min(math.Min(c.Open, c.Close), c.High) {
		return invalid("low", "low %v above open/close/high", c.Low)
	}
	return nil
}

// Range is a half-open time window [From, To).
type Range struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// LastPeriods returns the window covering the n most recent periods ending at now.
func LastPeriods(tf Timeframe, n int, now time.Time) Range {
	end := tf.Truncate(now).Add(tf.Duration())
	return Range{From: end.Add(-time.Duration(n) * tf.Duration()), To: end}
}

func (r Range) String() string {
	return fmt.Sprintf("[%s, %s)", r.From.Format(time.RFC3339), r.To.Format(time.RFC3339))
}
