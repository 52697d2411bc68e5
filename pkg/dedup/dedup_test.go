package dedup_test

import (
	"testing"
	"time"

	"github.com/shubham-shewale/market-cache/pkg/dedup"
)

func TestDeduplicator_AcceptancePattern(t *testing.T) {
	d := dedup.New(5 * time.Second)
	now := time.Unix(1_700_000_000, 0)

	seqs := []int64{5, 3, 7, 7, 8}
	want := []bool{true, false, true, false, true}

	for i, seq := range seqs {
		got := d.ShouldProcess("AAPL", seq, now.Add(time.Duration(i)*time.Millisecond))
		if got != want[i] {
			t.Errorf("seq %d (index %d): got %v, want %v", seq, i, got, want[i])
		}
	}

	rec, ok := d.Lookup("AAPL")
	if !ok || rec.LastSequence != 8 {
		t.Errorf("Expected last sequence 8, got %+v", rec)
	}
}

func TestDeduplicator_InstrumentsAreIndependent(t *testing.T) {
	d := dedup.New(time.Second)
	now := time.Unix(0, 0)

	if !d.ShouldProcess("AAPL", 10, now) {
		t.Fatal("First AAPL message should be accepted")
	}
	if !d.ShouldProcess("TSLA", 1, now) {
		t.Error("TSLA must not be affected by the AAPL sequence")
	}
}

func TestDeduplicator_SelfHealsAfterWindow(t *testing.T) {
	d := dedup.New(5 * time.Second)
	now := time.Unix(0, 0)

	d.ShouldProcess("AAPL", 100, now)

	if d.ShouldProcess("AAPL", 3, now.Add(5*time.Second)) {
		t.Error("Lower sequence at exactly the window edge should still be rejected")
	}
	if !d.ShouldProcess("AAPL", 3, now.Add(6*time.Second)) {
		t.Error("Lower sequence after the window should be accepted")
	}
	if d.ShouldProcess("AAPL", 3, now.Add(6*time.Second)) {
		t.Error("Duplicate after self-heal should be rejected again")
	}
}

func TestDeduplicator_Prune(t *testing.T) {
	now := time.Unix(10_000, 0)
	clock := now.Add(-2 * time.Hour)
	d := dedup.New(0).WithClock(func() time.Time { return clock })

	d.ShouldProcess("OLD", 1, now)
	clock = now.Add(-time.Minute)
	d.ShouldProcess("NEW", 1, now)

	if removed := d.Prune(now, time.Hour); removed != 1 {
		t.Errorf("Expected 1 pruned record, got %d", removed)
	}
	if _, ok := d.Lookup("OLD"); ok {
		t.Error("OLD should have been pruned")
	}
	if d.Len() != 1 {
		t.Errorf("Expected 1 record left, got %d", d.Len())
	}
}

func TestDeduplicator_PruneIgnoresProducerClock(t *testing.T) {
	now := time.Unix(10_000, 0)
	d := dedup.New(0).WithClock(func() time.Time { return now })

	// The producer's clock runs a day behind the owner's.
	d.ShouldProcess("AAPL", 1, now.Add(-24*time.Hour))

	if removed := d.Prune(now.Add(time.Minute), time.Hour); removed != 0 {
		t.Errorf("A record accepted a minute ago must survive, %d pruned", removed)
	}
	rec, _ := d.Lookup("AAPL")
	if !rec.Touched.Equal(now) || !rec.LastSeen.Equal(now.Add(-24*time.Hour)) {
		t.Errorf("Unexpected record: %+v", rec)
	}
}
