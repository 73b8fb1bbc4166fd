// Package detector implements conflict detection at the ingestion boundary.
// Every observation lands in the lineage ledger; the detector decides whether
// it becomes the authoritative value directly or opens (or joins) a conflict.
package detector

import (
	"context"
	"hash/fnv"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/netsight/reconciled/internal/catalog"
	"github.com/netsight/reconciled/internal/config"
	"github.com/netsight/reconciled/internal/lineage"
	"github.com/netsight/reconciled/internal/model"
	"github.com/netsight/reconciled/internal/priority"
	"github.com/netsight/reconciled/internal/store"
)

// Status is the outcome of ingesting one observation.
type Status string

const (
	StatusCommitted       Status = "committed"
	StatusConflictOpened  Status = "conflict_opened"
	StatusConflictUpdated Status = "conflict_updated"
	StatusQuarantined     Status = "quarantined"
	StatusDuplicate       Status = "duplicate"
)

// Result reports what happened to an ingested observation.
type Result struct {
	Status     Status `json:"status"`
	Seq        int64  `json:"seq"`
	ConflictID string `json:"conflict_id,omitempty"`
}

const lockStripes = 256

// Detector serializes ingestion per (entity_id, field_name) so conflict
// detection always sees a consistent active set. Different keys proceed in
// parallel on independent lock stripes.
type Detector struct {
	store    store.Store
	ledger   *lineage.Ledger
	registry *priority.Registry
	catalog  *catalog.Catalog
	cfg      config.DetectorConfig
	log      *zap.Logger
	locks    [lockStripes]sync.Mutex
	now      func() time.Time
}

func New(st store.Store, ledger *lineage.Ledger, registry *priority.Registry, cat *catalog.Catalog, cfg config.DetectorConfig) *Detector {
	return &Detector{
		store:    st,
		ledger:   ledger,
		registry: registry,
		catalog:  cat,
		cfg:      cfg,
		log:      zap.L().Named("detector"),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (d *Detector) lockFor(entityID, fieldName string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(entityID))  //nolint:errcheck
	h.Write([]byte{0})         //nolint:errcheck
	h.Write([]byte(fieldName)) //nolint:errcheck
	return &d.locks[h.Sum32()%lockStripes]
}

// Ingest processes one observation. The observation is appended to lineage
// regardless of outcome; a conflict never suppresses lineage recording.
func (d *Detector) Ingest(ctx context.Context, obs model.Observation) (Result, error) {
	now := d.now()
	if err := obs.Validate(now, d.cfg.ClockSkew()); err != nil {
		return Result{}, err
	}

	mu := d.lockFor(obs.EntityID, obs.FieldName)
	mu.Lock()
	defer mu.Unlock()

	// Values that violate the declared field schema are recorded but never
	// participate in the active set.
	if !d.catalog.CheckValue(obs.EntityID, obs.FieldName, obs.Value) {
		entry, _, err := d.ledger.Append(ctx, model.LineageEntry{
			Observation: obs,
			Quarantined: true,
			ReceivedAt:  now,
		})
		if err != nil {
			return Result{}, err
		}
		d.log.Warn("observation quarantined",
			zap.String("entity_id", obs.EntityID),
			zap.String("field_name", obs.FieldName),
			zap.String("source_id", obs.SourceID),
			zap.String("kind", string(obs.Value.Kind())),
		)
		return Result{Status: StatusQuarantined, Seq: entry.Seq}, nil
	}

	entry, inserted, err := d.ledger.Append(ctx, model.LineageEntry{
		Observation: obs,
		ReceivedAt:  now,
	})
	if err != nil {
		return Result{}, err
	}
	if !inserted {
		return Result{Status: StatusDuplicate, Seq: entry.Seq}, nil
	}

	// While a conflict is pending the authoritative value is frozen; the new
	// observation joins the candidate set instead of committing.
	pending, err := d.store.GetPendingConflict(ctx, obs.EntityID, obs.FieldName)
	if err != nil {
		return Result{}, err
	}
	if pending != nil {
		candidates := mergeCandidate(pending.Candidates, candidateFrom(obs))
		// The merged set can demand a more specific type, e.g. a value of a
		// different kind turns a value mismatch into a schema conflict.
		conflictType, err := d.classify(ctx, obs.EntityID, obs.FieldName, candidates, now)
		if err != nil {
			return Result{}, err
		}
		if err := d.store.UpdateConflictCandidates(ctx, pending.ID, conflictType, candidates); err != nil {
			return Result{}, err
		}
		d.log.Info("conflict updated",
			zap.String("conflict_id", pending.ID),
			zap.String("source_id", obs.SourceID),
			zap.String("conflict_type", string(conflictType)),
			zap.Int("candidates", len(candidates)),
		)
		return Result{Status: StatusConflictUpdated, Seq: entry.Seq, ConflictID: pending.ID}, nil
	}

	active, err := d.store.ListActiveObservations(ctx, obs.EntityID, obs.FieldName)
	if err != nil {
		return Result{}, err
	}

	if agreesWithAll(obs, active, d.cfg.NumericEpsilon) {
		_, err := d.store.SetCurrentValue(ctx, model.AuthoritativeValue{
			EntityID:   obs.EntityID,
			FieldName:  obs.FieldName,
			Value:      obs.Value,
			SourceID:   obs.SourceID,
			ObservedAt: obs.ObservedAt,
			UpdatedAt:  now,
		})
		if err != nil {
			return Result{}, err
		}
		return Result{Status: StatusCommitted, Seq: entry.Seq}, nil
	}

	conflictID, err := d.openConflict(ctx, obs, active, now)
	if err != nil {
		return Result{}, err
	}
	return Result{Status: StatusConflictOpened, Seq: entry.Seq, ConflictID: conflictID}, nil
}

func (d *Detector) openConflict(ctx context.Context, obs model.Observation, active []model.Observation, now time.Time) (string, error) {
	candidates := make([]model.CandidateValue, 0, len(active))
	for _, a := range active {
		candidates = append(candidates, candidateFrom(a))
	}
	model.SortCandidates(candidates)

	conflictType, err := d.classify(ctx, obs.EntityID, obs.FieldName, candidates, now)
	if err != nil {
		return "", err
	}

	c := model.Conflict{
		ID:         uuid.NewString(),
		EntityID:   obs.EntityID,
		FieldName:  obs.FieldName,
		Type:       conflictType,
		Candidates: candidates,
		Status:     model.ConflictPending,
		CreatedAt:  now,
	}
	if err := d.store.CreateConflict(ctx, c); err != nil {
		return "", eris.Wrap(err, "detector: open conflict")
	}

	d.log.Info("conflict opened",
		zap.String("conflict_id", c.ID),
		zap.String("entity_id", c.EntityID),
		zap.String("field_name", c.FieldName),
		zap.String("conflict_type", string(c.Type)),
		zap.Int("candidates", len(c.Candidates)),
	)
	return c.ID, nil
}

// classify picks the most specific conflict type. Order matters: a schema
// disagreement trumps thrashing, which trumps priority disagreement.
func (d *Detector) classify(ctx context.Context, entityID, fieldName string, candidates []model.CandidateValue, now time.Time) (model.ConflictType, error) {
	if kindsDiffer(candidates) {
		return model.ConflictSchema, nil
	}

	changes, err := d.store.CountValueChanges(ctx, entityID, fieldName, now.Add(-d.cfg.ThrashWindow()))
	if err != nil {
		return "", eris.Wrap(err, "detector: count value changes")
	}
	if d.cfg.ThrashThreshold > 0 && changes >= d.cfg.ThrashThreshold {
		return model.ConflictTimestamp, nil
	}

	topTwoDisagree, err := d.topPriorityDisagreement(ctx, fieldName, candidates)
	if err != nil {
		return "", err
	}
	if topTwoDisagree {
		return model.ConflictSourcePriority, nil
	}

	return model.ConflictValueMismatch, nil
}

// topPriorityDisagreement reports whether the two highest-priority candidate
// sources disagree on the value.
func (d *Detector) topPriorityDisagreement(ctx context.Context, fieldName string, candidates []model.CandidateValue) (bool, error) {
	if len(candidates) < 2 {
		return false, nil
	}
	ids := make([]string, len(candidates))
	for i, c := range candidates {
		ids[i] = c.SourceID
	}
	priorities, err := d.registry.GetAll(ctx, ids)
	if err != nil {
		return false, err
	}

	ranked := make([]model.CandidateValue, len(candidates))
	copy(ranked, candidates)
	sort.SliceStable(ranked, func(i, j int) bool {
		pi := priorities[ranked[i].SourceID].PriorityLevel
		pj := priorities[ranked[j].SourceID].PriorityLevel
		if pi != pj {
			return pi > pj
		}
		return ranked[i].SourceID < ranked[j].SourceID
	})

	a, b := ranked[0], ranked[1]
	if priorities[a.SourceID].PriorityLevel == priorities[b.SourceID].PriorityLevel {
		// Equal trust levels cannot produce a priority disagreement.
		return false, nil
	}
	return !model.ValuesEqualTolerant(a.Value, b.Value, d.cfg.NumericEpsilon), nil
}

func candidateFrom(obs model.Observation) model.CandidateValue {
	return model.CandidateValue{
		SourceID:   obs.SourceID,
		Value:      obs.Value,
		Confidence: obs.Confidence,
		ObservedAt: obs.ObservedAt,
	}
}

// mergeCandidate replaces an existing candidate from the same source or adds
// a new one, keeping the deterministic source_id ordering.
func mergeCandidate(candidates []model.CandidateValue, c model.CandidateValue) []model.CandidateValue {
	out := make([]model.CandidateValue, 0, len(candidates)+1)
	replaced := false
	for _, existing := range candidates {
		if existing.SourceID == c.SourceID {
			out = append(out, c)
			replaced = true
			continue
		}
		out = append(out, existing)
	}
	if !replaced {
		out = append(out, c)
	}
	model.SortCandidates(out)
	return out
}

// agreesWithAll reports whether obs matches every other active source's
// latest value under the per-kind tolerance rules.
func agreesWithAll(obs model.Observation, active []model.Observation, epsilon float64) bool {
	for _, a := range active {
		if a.SourceID == obs.SourceID {
			continue
		}
		if !model.ValuesEqualTolerant(obs.Value, a.Value, epsilon) {
			return false
		}
	}
	return true
}

func kindsDiffer(candidates []model.CandidateValue) bool {
	if len(candidates) == 0 {
		return false
	}
	first := candidates[0].Value.Kind()
	for _, c := range candidates[1:] {
		if c.Value.Kind() != first {
			return true
		}
	}
	return false
}
