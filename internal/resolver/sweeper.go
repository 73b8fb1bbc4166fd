package resolver

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/netsight/reconciled/internal/config"
	"github.com/netsight/reconciled/internal/model"
	"github.com/netsight/reconciled/internal/store"
)

// Sweeper periodically resolves pending conflicts with a configured
// automatic strategy. Manual-only operation is supported by disabling it.
type Sweeper struct {
	engine *Engine
	store  store.Store
	cfg    config.SweepConfig
	log    *zap.Logger
}

func NewSweeper(engine *Engine, st store.Store, cfg config.SweepConfig) *Sweeper {
	return &Sweeper{
		engine: engine,
		store:  st,
		cfg:    cfg,
		log:    zap.L().Named("sweeper"),
	}
}

// Run starts the sweep loop. It blocks until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	interval := s.cfg.Interval()
	if interval <= 0 {
		interval = 30 * time.Second
	}

	s.log.Info("starting conflict sweeper",
		zap.Duration("interval", interval),
		zap.String("strategy", string(s.cfg.Strategy)),
		zap.Int("batch_size", s.cfg.BatchSize),
	)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("conflict sweeper stopped")
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep resolves one batch of pending conflicts. Conflicts resolved or
// ignored by a concurrent operator between listing and resolving are
// skipped, not errors.
func (s *Sweeper) Sweep(ctx context.Context) {
	if !model.AutomaticStrategy(s.cfg.Strategy) {
		s.log.Error("sweep strategy is not automatic, skipping",
			zap.String("strategy", string(s.cfg.Strategy)))
		return
	}

	batch := s.cfg.BatchSize
	if batch <= 0 {
		batch = 100
	}
	pending, err := s.store.ListConflicts(ctx, store.ConflictFilter{
		Status: model.ConflictPending,
		Limit:  batch,
	})
	if err != nil {
		s.log.Error("sweep: list pending conflicts", zap.Error(err))
		return
	}
	if len(pending) == 0 {
		s.log.Debug("sweep: no pending conflicts")
		return
	}

	var resolved, lost, failed int
	for _, c := range pending {
		if ctx.Err() != nil {
			return
		}
		_, err := s.engine.Resolve(ctx, Request{
			ConflictID: c.ID,
			Strategy:   s.cfg.Strategy,
		})
		switch {
		case err == nil:
			resolved++
		case model.IsAlreadyResolved(err):
			lost++
		default:
			failed++
			s.log.Error("sweep: resolve conflict failed",
				zap.String("conflict_id", c.ID),
				zap.Error(err),
			)
		}
	}

	s.log.Info("sweep complete",
		zap.Int("pending", len(pending)),
		zap.Int("resolved", resolved),
		zap.Int("lost_races", lost),
		zap.Int("failed", failed),
	)
}
