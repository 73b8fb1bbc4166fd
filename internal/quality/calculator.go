// Package quality scores each source's data quality from lineage, conflict,
// and resolution history. Evaluation is read-only: it never touches
// resolution state.
package quality

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/netsight/reconciled/internal/catalog"
	"github.com/netsight/reconciled/internal/config"
	"github.com/netsight/reconciled/internal/model"
	"github.com/netsight/reconciled/internal/store"
)

// maxWindowEntries bounds how much per-source history one evaluation reads.
const maxWindowEntries = 10000

// Calculator computes per-source quality metrics over a time window.
type Calculator struct {
	store   store.Store
	catalog *catalog.Catalog
	cfg     config.QualityConfig
	log     *zap.Logger
	now     func() time.Time
}

func NewCalculator(st store.Store, cat *catalog.Catalog, cfg config.QualityConfig) *Calculator {
	return &Calculator{
		store:   st,
		catalog: cat,
		cfg:     cfg,
		log:     zap.L().Named("quality"),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Evaluate scores one source over the lookback window ending now. Metrics
// whose denominator is zero are omitted rather than reported as 0 or 100.
func (c *Calculator) Evaluate(ctx context.Context, sourceID string) ([]model.QualityMetric, error) {
	now := c.now()
	since := now.Add(-c.cfg.Lookback())

	entries, err := c.store.ListSourceLineage(ctx, sourceID, since, maxWindowEntries)
	if err != nil {
		return nil, eris.Wrapf(err, "quality: load window for %s", sourceID)
	}
	// Synthetic entries are the engine's own writes, not source output.
	observations := entries[:0:0]
	for _, e := range entries {
		if !e.Synthetic {
			observations = append(observations, e)
		}
	}

	var metrics []model.QualityMetric
	add := func(t model.MetricType, value float64, metadata map[string]any) {
		metrics = append(metrics, model.QualityMetric{
			SourceID:     sourceID,
			Type:         t,
			Value:        model.ClampScore(value),
			CalculatedAt: now,
			Metadata:     metadata,
		})
	}

	if m, ok := c.completeness(observations); ok {
		add(model.MetricCompleteness, m.score, m.metadata)
	}
	if m, ok, err := c.consistency(ctx, sourceID, observations, since); err != nil {
		return nil, err
	} else if ok {
		add(model.MetricConsistency, m.score, m.metadata)
	}
	if m, ok, err := c.accuracy(ctx, sourceID, since); err != nil {
		return nil, err
	} else if ok {
		add(model.MetricAccuracy, m.score, m.metadata)
	}
	if m, ok := c.timeliness(sourceID, observations); ok {
		add(model.MetricTimeliness, m.score, m.metadata)
	}
	if m, ok := c.validity(observations); ok {
		add(model.MetricValidity, m.score, m.metadata)
	}

	return metrics, nil
}

// EvaluateAll scores every known source and persists the results as one
// batch of the metric time series.
func (c *Calculator) EvaluateAll(ctx context.Context) ([]model.QualityMetric, error) {
	sources, err := c.store.ListSources(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "quality: list sources")
	}

	var all []model.QualityMetric
	for _, id := range sources {
		if id == model.EngineSourceID {
			continue
		}
		metrics, err := c.Evaluate(ctx, id)
		if err != nil {
			return nil, err
		}
		all = append(all, metrics...)
	}
	if len(all) == 0 {
		return nil, nil
	}
	if err := c.store.InsertQualityMetrics(ctx, all); err != nil {
		return nil, eris.Wrap(err, "quality: persist metrics")
	}
	return all, nil
}

type score struct {
	score    float64
	metadata map[string]any
}

// completeness: fields the source reported per entity over the fields that
// entity's type expects.
func (c *Calculator) completeness(observations []model.LineageEntry) (score, bool) {
	seen := map[string]map[string]bool{}
	for _, e := range observations {
		if e.Quarantined {
			continue
		}
		obs := e.Observation
		if seen[obs.EntityID] == nil {
			seen[obs.EntityID] = map[string]bool{}
		}
		seen[obs.EntityID][obs.FieldName] = true
	}

	var observed, expected int
	for entityID, fields := range seen {
		expectedFields := c.catalog.ExpectedFields(entityID)
		expected += len(expectedFields)
		for _, f := range expectedFields {
			if fields[f] {
				observed++
			}
		}
	}
	if expected == 0 {
		return score{}, false
	}
	return score{
		score: float64(observed) / float64(expected) * 100,
		metadata: map[string]any{
			"observed_fields": observed,
			"expected_fields": expected,
			"entities":        len(seen),
		},
	}, true
}

// consistency: share of the source's observations that did not land it in a
// conflict within the window.
func (c *Calculator) consistency(ctx context.Context, sourceID string, observations []model.LineageEntry, since time.Time) (score, bool, error) {
	if len(observations) == 0 {
		return score{}, false, nil
	}

	conflicts, err := c.store.ListConflicts(ctx, store.ConflictFilter{CreatedAfter: since})
	if err != nil {
		return score{}, false, eris.Wrap(err, "quality: list window conflicts")
	}
	involved := 0
	for i := range conflicts {
		if conflicts[i].Involves(sourceID) {
			involved++
		}
	}

	total := len(observations)
	return score{
		score: 100 - float64(involved)/float64(total)*100,
		metadata: map[string]any{
			"conflicts_involved": involved,
			"observations":       total,
		},
	}, true, nil
}

// accuracy: of the window's resolutions where the source was a candidate,
// the share where it was chosen.
func (c *Calculator) accuracy(ctx context.Context, sourceID string, since time.Time) (score, bool, error) {
	resolutions, err := c.store.ListResolutions(ctx, since, 0)
	if err != nil {
		return score{}, false, eris.Wrap(err, "quality: list window resolutions")
	}

	var candidate, chosen int
	for _, res := range resolutions {
		conflict, err := c.store.GetConflict(ctx, res.ConflictID)
		if err != nil {
			return score{}, false, err
		}
		if !conflict.Involves(sourceID) {
			continue
		}
		candidate++
		if res.ChosenSource == sourceID {
			chosen++
		}
	}
	if candidate == 0 {
		return score{}, false, nil
	}
	return score{
		score: float64(chosen) / float64(candidate) * 100,
		metadata: map[string]any{
			"chosen":    chosen,
			"candidate": candidate,
		},
	}, true, nil
}

// timeliness: share of observations that arrived within the configured
// per-source lag threshold.
func (c *Calculator) timeliness(sourceID string, observations []model.LineageEntry) (score, bool) {
	if len(observations) == 0 {
		return score{}, false
	}
	maxLag := c.cfg.MaxLagFor(sourceID)

	onTime := 0
	for _, e := range observations {
		lag := e.ReceivedAt.Sub(e.Observation.ObservedAt)
		if lag <= maxLag {
			onTime++
		}
	}
	return score{
		score: float64(onTime) / float64(len(observations)) * 100,
		metadata: map[string]any{
			"on_time":      onTime,
			"observations": len(observations),
			"max_lag_secs": int(maxLag.Seconds()),
		},
	}, true
}

// validity: schema conformance rate, i.e. the share of observations that
// were not quarantined.
func (c *Calculator) validity(observations []model.LineageEntry) (score, bool) {
	if len(observations) == 0 {
		return score{}, false
	}
	quarantined := 0
	for _, e := range observations {
		if e.Quarantined {
			quarantined++
		}
	}
	total := len(observations)
	return score{
		score: float64(total-quarantined) / float64(total) * 100,
		metadata: map[string]any{
			"quarantined":  quarantined,
			"observations": total,
		},
	}, true
}
