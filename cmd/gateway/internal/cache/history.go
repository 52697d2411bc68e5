package cache

import (
	"sort"
	"time"

	"github.com/shubham-shewale/market-cache/pkg/models"
)

// DefaultRetention is the number of candles kept per series.
const DefaultRetention = 1000

type seriesKey struct {
	instrument string
	timeframe  models.Timeframe
}

// HistoricalStore keeps ascending candle series per (instrument, timeframe).
type HistoricalStore struct {
	retention int
	series    map[seriesKey][]models.Candle
	fetchedAt map[seriesKey]time.Time
}

func NewHistoricalStore(retention int) *HistoricalStore {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &HistoricalStore{
		retention: retention,
		series:    make(map[seriesKey][]models.Candle),
		fetchedAt: make(map[seriesKey]time.Time),
	}
}

// Get returns a copy of the series, oldest first.
func (s *HistoricalStore) Get(instrument string, tf models.Timeframe) []models.Candle {
	return append([]models.Candle(nil), s.series[seriesKey{instrument, tf}]...)
}

// Last returns the newest candle of a series.
func (s *HistoricalStore) Last(instrument string, tf models.Timeframe) (models.Candle, bool) {
	series := s.series[seriesKey{instrument, tf}]
	if len(series) == 0 {
		return models.Candle{}, false
	}
	return series[len(series)-1], true
}

// Timeframes lists the non-empty series held for an instrument.
func (s *HistoricalStore) Timeframes(instrument string) []models.Timeframe {
	var out []models.Timeframe
	for k, series := range s.series {
		if k.instrument == instrument && len(series) > 0 {
			out = append(out, k.timeframe)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Duration() < out[j].Duration() })
	return out
}

// MarkFetched records when a series was last loaded from the upstream.
func (s *HistoricalStore) MarkFetched(instrument string, tf models.Timeframe, at time.Time) {
	s.fetchedAt[seriesKey{instrument, tf}] = at
}

// FetchedAt returns when a series was last loaded from the upstream.
func (s *HistoricalStore) FetchedAt(instrument string, tf models.Timeframe) (time.Time, bool) {
	at, ok := s.fetchedAt[seriesKey{instrument, tf}]
	return at, ok
}

// Append inserts a candle, replacing any candle with the same period start,
// then drops the oldest candles beyond the retention limit.
func (s *HistoricalStore) Append(instrument string, tf models.Timeframe, c models.Candle) error {
	if c.Timeframe == "" {
		c.Timeframe = tf
	}
	if c.Timeframe != tf {
		return &models.ValidationError{Field: "timeframe", Reason: "candle timeframe " + string(c.Timeframe) + " does not match series " + string(tf)}
	}
	if err := c.Validate(); err != nil {
		return err
	}

	key := seriesKey{instrument, tf}
	s.series[key] = s.insert(s.series[key], c)
	return nil
}

// Merge appends many candles. Invalid ones are skipped and counted.
func (s *HistoricalStore) Merge(instrument string, tf models.Timeframe, candles []models.Candle) (rejected int) {
	for _, c := range candles {
		if err := s.Append(instrument, tf, c); err != nil {
			rejected++
		}
	}
	return rejected
}

func (s *HistoricalStore) insert(series []models.Candle, c models.Candle) []models.Candle {
	i := sort.Search(len(series), func(i int) bool { return !series[i].Start.Before(c.Start) })
	switch {
	case i < len(series) && series[i].Start.Equal(c.Start):
		series[i] = c
	case i == len(series):
		series = append(series, c)
	default:
		series = append(series, models.Candle{})
		copy(series[i+1:], series[i:])
		series[i] = c
	}
	return trimOldest(series, s.retention)
}

func trimOldest(series []models.Candle, n int) []models.Candle {
	if len(series) <= n {
		return series
	}
	return append(series[:0:0], series[len(series)-n:]...)
}

// Trim cuts every series to at most n candles and returns how many were dropped.
func (s *HistoricalStore) Trim(n int) int {
	if n <= 0 {
		n = s.retention
	}
	dropped := 0
	for k, series := range s.series {
		if len(series) > n {
			dropped += len(series) - n
			s.series[k] = trimOldest(series, n)
		}
	}
	return dropped
}

// Len is the number of series held.
func (s *HistoricalStore) Len() int { return len(s.series) }
