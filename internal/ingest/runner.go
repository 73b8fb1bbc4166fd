// Package ingest feeds observation streams into the conflict detector with
// bounded concurrency and per-source rate limiting.
package ingest

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"sync/atomic"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/netsight/reconciled/internal/config"
	"github.com/netsight/reconciled/internal/detector"
	"github.com/netsight/reconciled/internal/model"
	"github.com/netsight/reconciled/internal/resilience"
)

// Stats summarizes one ingestion run.
type Stats struct {
	Committed        int64 `json:"committed"`
	ConflictsOpened  int64 `json:"conflicts_opened"`
	ConflictsUpdated int64 `json:"conflicts_updated"`
	Quarantined      int64 `json:"quarantined"`
	Duplicates       int64 `json:"duplicates"`
	Invalid          int64 `json:"invalid"`
	Failed           int64 `json:"failed"`
}

// Total returns the number of observations processed.
func (s Stats) Total() int64 {
	return s.Committed + s.ConflictsOpened + s.ConflictsUpdated +
		s.Quarantined + s.Duplicates + s.Invalid + s.Failed
}

// Runner drives concurrent ingestion. One logical stream per collector is
// modeled as a per-source token bucket so a flooding source cannot starve
// the others.
type Runner struct {
	detector *detector.Detector
	cfg      config.IngestConfig
	retry    resilience.RetryConfig
	dlq      *resilience.DeadLetterLog
	log      *zap.Logger

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewRunner creates a Runner. dlq may be nil to disable dead-lettering.
func NewRunner(det *detector.Detector, cfg config.IngestConfig, dlq *resilience.DeadLetterLog) *Runner {
	retry := resilience.FromRetryConfig(cfg.RetryAttempts, cfg.RetryBackoffMS)
	retry.OnRetry = resilience.RetryLogger("ingest", "ingest_observation")
	return &Runner{
		detector: det,
		cfg:      cfg,
		retry:    retry,
		dlq:      dlq,
		log:      zap.L().Named("ingest"),
		limiters: map[string]*rate.Limiter{},
	}
}

func (r *Runner) limiterFor(sourceID string) *rate.Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.limiters[sourceID]
	if !ok {
		rps := r.cfg.SourceRate
		if rps <= 0 {
			rps = 100
		}
		burst := r.cfg.SourceBurst
		if burst <= 0 {
			burst = int(rps)
		}
		l = rate.NewLimiter(rate.Limit(rps), burst)
		r.limiters[sourceID] = l
	}
	return l
}

// Run consumes observations from the channel until it closes or ctx is
// cancelled. Per-observation failures are counted (and dead-lettered), not
// returned; the error reports infrastructure-level aborts only.
func (r *Runner) Run(ctx context.Context, observations <-chan model.Observation) (Stats, error) {
	workers := r.cfg.Workers
	if workers <= 0 {
		workers = 4
	}

	var stats struct {
		committed, opened, updated, quarantined, duplicates, invalid, failed atomic.Int64
	}

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < workers; i++ {
		g.Go(func() error {
			for {
				select {
				case <-gctx.Done():
					return gctx.Err()
				case obs, ok := <-observations:
					if !ok {
						return nil
					}
					switch status := r.ingestOne(gctx, obs); status {
					case detector.StatusCommitted:
						stats.committed.Add(1)
					case detector.StatusConflictOpened:
						stats.opened.Add(1)
					case detector.StatusConflictUpdated:
						stats.updated.Add(1)
					case detector.StatusQuarantined:
						stats.quarantined.Add(1)
					case detector.StatusDuplicate:
						stats.duplicates.Add(1)
					case statusInvalid:
						stats.invalid.Add(1)
					default:
						stats.failed.Add(1)
					}
				}
			}
		})
	}

	err := g.Wait()
	out := Stats{
		Committed:        stats.committed.Load(),
		ConflictsOpened:  stats.opened.Load(),
		ConflictsUpdated: stats.updated.Load(),
		Quarantined:      stats.quarantined.Load(),
		Duplicates:       stats.duplicates.Load(),
		Invalid:          stats.invalid.Load(),
		Failed:           stats.failed.Load(),
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		return out, err
	}
	return out, nil
}

// Sentinel statuses for outcomes the detector does not produce.
const (
	statusInvalid detector.Status = "invalid"
	statusFailed  detector.Status = "failed"
)

func (r *Runner) ingestOne(ctx context.Context, obs model.Observation) detector.Status {
	if err := r.limiterFor(obs.SourceID).Wait(ctx); err != nil {
		return statusFailed
	}

	result, err := resilience.DoVal(ctx, r.retry, func(ctx context.Context) (detector.Result, error) {
		return r.detector.Ingest(ctx, obs)
	})
	if err == nil {
		return result.Status
	}

	if model.IsValidation(err) {
		r.log.Warn("invalid observation rejected",
			zap.String("entity_id", obs.EntityID),
			zap.String("field_name", obs.FieldName),
			zap.String("source_id", obs.SourceID),
			zap.Error(err),
		)
		return statusInvalid
	}

	r.log.Error("observation ingest failed",
		zap.String("entity_id", obs.EntityID),
		zap.String("field_name", obs.FieldName),
		zap.String("source_id", obs.SourceID),
		zap.Error(err),
	)
	if r.dlq != nil {
		if dlqErr := r.dlq.Record(obs, err, r.retry.MaxAttempts); dlqErr != nil {
			r.log.Error("dead-letter write failed", zap.Error(dlqErr))
		}
	}
	return statusFailed
}

// RunReader decodes a JSONL observation stream and ingests it. Malformed
// lines count as invalid; decoding stops at the first reader error.
func (r *Runner) RunReader(ctx context.Context, reader io.Reader) (Stats, error) {
	observations := make(chan model.Observation, 64)
	var invalidLines atomic.Int64

	decodeErr := make(chan error, 1)
	go func() {
		defer close(observations)
		scanner := bufio.NewScanner(reader)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Bytes()
			if len(line) == 0 {
				continue
			}
			var obs model.Observation
			if err := json.Unmarshal(line, &obs); err != nil {
				invalidLines.Add(1)
				r.log.Warn("skipping malformed observation line", zap.Error(err))
				continue
			}
			select {
			case observations <- obs:
			case <-ctx.Done():
				decodeErr <- ctx.Err()
				return
			}
		}
		decodeErr <- eris.Wrap(scanner.Err(), "ingest: read stream")
	}()

	stats, err := r.Run(ctx, observations)
	stats.Invalid += invalidLines.Load()
	if err != nil {
		return stats, err
	}
	if derr := <-decodeErr; derr != nil && !errors.Is(derr, context.Canceled) {
		return stats, derr
	}
	return stats, nil
}
