package scheduler_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/shubham-shewale/market-cache/cmd/gateway/internal/engine"
	"github.com/shubham-shewale/market-cache/cmd/gateway/internal/events"
	"github.com/shubham-shewale/market-cache/cmd/gateway/internal/scheduler"
)

type countingTarget struct {
	refreshes atomic.Int32
	cleanups  atomic.Int32
	block     chan struct{}
}

func (c *countingTarget) RefreshStale(ctx context.Context) (engine.RefreshReport, error) {
	c.refreshes.Add(1)
	if c.block != nil {
		select {
		case <-c.block:
		case <-ctx.Done():
		}
	}
	return engine.RefreshReport{}, nil
}

func (c *countingTarget) Cleanup(ctx context.Context) (events.CleanupReport, error) {
	c.cleanups.Add(1)
	return events.CleanupReport{}, nil
}

func TestScheduler_TicksBothPasses(t *testing.T) {
	target := &countingTarget{}
	s := scheduler.New(target, 10*time.Millisecond, 25*time.Millisecond, zap.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	if err := s.Run(ctx); err != nil {
		t.Fatalf("Run returned %v", err)
	}

	if r := target.refreshes.Load(); r < 3 {
		t.Errorf("Expected several refresh passes, got %d", r)
	}
	if c := target.cleanups.Load(); c < 2 {
		t.Errorf("Expected several cleanup passes, got %d", c)
	}
	if target.refreshes.Load() <= target.cleanups.Load() {
		t.Error("Refresh should tick more often than cleanup")
	}
}

func TestScheduler_SlowRefreshDoesNotDelayCleanup(t *testing.T) {
	target := &countingTarget{block: make(chan struct{})}
	s := scheduler.New(target, 5*time.Millisecond, 10*time.Millisecond, zap.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()
	_ = s.Run(ctx)

	if r := target.refreshes.Load(); r != 1 {
		t.Errorf("Expected the blocked refresh to run once, got %d", r)
	}
	if c := target.cleanups.Load(); c < 3 {
		t.Errorf("Cleanup should keep ticking, got %d", c)
	}
}
