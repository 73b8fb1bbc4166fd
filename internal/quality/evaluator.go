package quality

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/netsight/reconciled/internal/config"
)

// Evaluator runs the calculator on a fixed schedule.
type Evaluator struct {
	calc *Calculator
	cfg  config.QualityConfig
	log  *zap.Logger
}

func NewEvaluator(calc *Calculator, cfg config.QualityConfig) *Evaluator {
	return &Evaluator{
		calc: calc,
		cfg:  cfg,
		log:  zap.L().Named("quality.evaluator"),
	}
}

// Run starts the evaluation loop. It blocks until ctx is cancelled.
func (e *Evaluator) Run(ctx context.Context) {
	interval := e.cfg.Interval()
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	e.log.Info("starting quality evaluator",
		zap.Duration("interval", interval),
		zap.Int("lookback_hours", e.cfg.LookbackHours),
	)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.log.Info("quality evaluator stopped")
			return
		case <-ticker.C:
			e.evaluate(ctx)
		}
	}
}

func (e *Evaluator) evaluate(ctx context.Context) {
	metrics, err := e.calc.EvaluateAll(ctx)
	if err != nil {
		e.log.Error("quality evaluation failed", zap.Error(err))
		return
	}
	e.log.Info("quality evaluation complete", zap.Int("metrics", len(metrics)))
}
