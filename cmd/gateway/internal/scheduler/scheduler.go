// Package scheduler drives the engine's periodic refresh and cleanup passes.
package scheduler

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/shubham-shewale/market-cache/cmd/gateway/internal/engine"
	"github.com/shubham-shewale/market-cache/cmd/gateway/internal/events"
)

const (
	DefaultRefreshInterval = 30 * time.Second
	DefaultCleanupInterval = 5 * time.Minute
)

// Target is what the scheduler ticks.
type Target interface {
	RefreshStale(ctx context.Context) (engine.RefreshReport, error)
	Cleanup(ctx context.Context) (events.CleanupReport, error)
}

type Scheduler struct {
	target       Target
	refreshEvery time.Duration
	cleanupEvery time.Duration
	logger       *zap.Logger
}

func New(target Target, refreshEvery, cleanupEvery time.Duration, logger *zap.Logger) *Scheduler {
	if refreshEvery <= 0 {
		refreshEvery = DefaultRefreshInterval
	}
	if cleanupEvery <= 0 {
		cleanupEvery = DefaultCleanupInterval
	}
	return &Scheduler{
		target:       target,
		refreshEvery: refreshEvery,
		cleanupEvery: cleanupEvery,
		logger:       logger,
	}
}

// Run ticks refresh and cleanup independently until ctx is done. A slow
// refresh pass delays the next refresh, never a cleanup.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("Scheduler Started",
		zap.Duration("refresh_every", s.refreshEvery),
		zap.Duration("cleanup_every", s.cleanupEvery))

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		every(ctx, s.refreshEvery, func() {
			report, err := s.target.RefreshStale(ctx)
			if err != nil {
				if ctx.Err() == nil {
					s.logger.Warn("Refresh pass failed", zap.Error(err))
				}
				return
			}
			if report.Attempted > 0 {
				s.logger.Debug("Refresh pass",
					zap.Int("attempted", report.Attempted),
					zap.Int("refreshed", report.Refreshed),
					zap.Int("failed", report.Failed))
			}
		})
		return nil
	})
	g.Go(func() error {
		every(ctx, s.cleanupEvery, func() {
			if _, err := s.target.Cleanup(ctx); err != nil && ctx.Err() == nil {
				s.logger.Warn("Cleanup pass failed", zap.Error(err))
			}
		})
		return nil
	})
	return g.Wait()
}

func every(ctx context.Context, d time.Duration, fn func()) {
	ticker := time.NewTicker(d)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn()
		}
	}
}
