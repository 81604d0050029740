package engine

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/leadflow/acquire"
	"github.com/BaSui01/leadflow/ghost"
	"github.com/BaSui01/leadflow/store"
)

// Scheduler drives the periodic work: sequence ticks, ghost scans, and
// lead acquisition, each on its own interval. It owns no state beyond
// the tickers; stopping it is cancelling the context passed to Run.
type Scheduler struct {
	engine   *Engine
	detector *ghost.Detector
	pipeline *acquire.Pipeline
	store    *store.Store
	logger   *zap.Logger
}

func NewScheduler(e *Engine, detector *ghost.Detector, pipeline *acquire.Pipeline, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		engine:   e,
		detector: detector,
		pipeline: pipeline,
		store:    e.store,
		logger:   logger.With(zap.String("component", "scheduler")),
	}
}

// Run blocks until ctx is cancelled. Each loop fires immediately on
// start so a fresh process does not wait a full interval before its
// first pass.
func (s *Scheduler) Run(ctx context.Context) error {
	cfg := s.engine.cfg

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return s.loop(ctx, "tick", cfg.TickInterval, func(ctx context.Context, now time.Time) error {
			return s.engine.Tick(ctx, now)
		})
	})

	if s.detector != nil {
		g.Go(func() error {
			return s.loop(ctx, "ghost_scan", cfg.GhostScanInterval, s.scanGhosts)
		})
	}

	if s.pipeline != nil {
		g.Go(func() error {
			return s.loop(ctx, "acquire", cfg.AcquireInterval, s.acquireLeads)
		})
	}

	err := g.Wait()
	if err != nil && err != context.Canceled {
		return err
	}
	return nil
}

func (s *Scheduler) loop(ctx context.Context, name string, interval time.Duration, fn func(context.Context, time.Time) error) error {
	if interval <= 0 {
		s.logger.Warn("loop disabled", zap.String("loop", name))
		<-ctx.Done()
		return ctx.Err()
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := fn(ctx, time.Now().UTC()); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.logger.Error("loop pass failed", zap.String("loop", name), zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) scanGhosts(ctx context.Context, now time.Time) error {
	return s.forEachActiveTenant(ctx, func(tenant *store.Tenant) error {
		return s.detector.Scan(ctx, tenant, now)
	})
}

func (s *Scheduler) acquireLeads(ctx context.Context, now time.Time) error {
	return s.forEachActiveTenant(ctx, func(tenant *store.Tenant) error {
		return s.pipeline.Run(ctx, tenant, now)
	})
}

// forEachActiveTenant visits every active tenant; one tenant's failure
// is logged and does not block the rest.
func (s *Scheduler) forEachActiveTenant(ctx context.Context, fn func(*store.Tenant) error) error {
	tenants, err := s.store.Tenants.ListActive(ctx)
	if err != nil {
		return err
	}
	for i := range tenants {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(&tenants[i]); err != nil {
			s.logger.Error("tenant pass failed",
				zap.String("tenant_id", tenants[i].ID.String()),
				zap.Error(err))
		}
	}
	return nil
}
