// Package dedup drops duplicate and reordered real-time messages using
// per-instrument sequence numbers.
//
// A Deduplicator favours monotonic progress but heals itself after a quiet
// period: once the last accepted message for an instrument is older than the
// window, the next message is accepted whatever its sequence number, so a
// restarted upstream counter cannot wedge the instrument forever.
//
// A Deduplicator is not safe for concurrent use. Each owner (the cache engine,
// or one processor worker) keeps its own.
package dedup

import "time"

// DefaultWindow is the gap after which any sequence number is accepted.
const DefaultWindow = 5 * time.Second

// Record is the last accepted sequence for one instrument. LastSeen is the
// message's own timestamp; Touched is the owner's clock when it was accepted.
type Record struct {
	LastSequence int64
	LastSeen     time.Time
	Touched      time.Time
}

type Deduplicator struct {
	window  time.Duration
	now     func() time.Time
	records map[string]Record
}

// New returns a Deduplicator. A non-positive window falls back to DefaultWindow.
func New(window time.Duration) *Deduplicator {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Deduplicator{
		window:  window,
		now:     time.Now,
		records: make(map[string]Record),
	}
}

// WithClock sets the clock used for idle tracking.
func (d *Deduplicator) WithClock(now func() time.Time) *Deduplicator {
	d.now = now
	return d
}

// ShouldProcess reports whether the message should be applied, recording it if so.
func (d *Deduplicator) ShouldProcess(instrument string, sequence int64, observedAt time.Time) bool {
	rec, ok := d.records[instrument]
	if ok && sequence <= rec.LastSequence && observedAt.Sub(rec.LastSeen) <= d.window {
		return false
	}
	d.records[instrument] = Record{LastSequence: sequence, LastSeen: observedAt, Touched: d.now()}
	return true
}

// Lookup returns the record for an instrument.
func (d *Deduplicator) Lookup(instrument string) (Record, bool) {
	rec, ok := d.records[instrument]
	return rec, ok
}

// Prune forgets instruments with no accepted message for longer than idle,
// measured on the Deduplicator's clock, and returns how many were dropped.
func (d *Deduplicator) Prune(now time.Time, idle time.Duration) int {
	removed := 0
	for inst, rec := range d.records {
		if now.Sub(rec.Touched) > idle {
			delete(d.records, inst)
			removed++
		}
	}
	return removed
}

// Len is the number of tracked instruments.
func (d *Deduplicator) Len() int { return len(d.records) }
