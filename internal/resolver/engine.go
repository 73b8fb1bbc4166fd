// Package resolver arbitrates pending conflicts and maintains the
// authoritative value projection.
package resolver

import (
	"context"
	"sort"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/netsight/reconciled/internal/model"
	"github.com/netsight/reconciled/internal/priority"
	"github.com/netsight/reconciled/internal/store"
)

// Request carries one resolution attempt.
type Request struct {
	ConflictID  string
	Strategy    model.Strategy
	ChosenValue model.Value // required for manual, ignored otherwise
	ResolvedBy  string      // operator id; defaults to the engine id for automatic strategies
}

// Engine applies resolution strategies to conflicts. The pending→resolved
// transition is a compare-and-set in the store, so concurrent attempts on
// the same conflict cannot both win.
type Engine struct {
	store    store.Store
	registry *priority.Registry
	log      *zap.Logger
	now      func() time.Time
}

func NewEngine(st store.Store, registry *priority.Registry) *Engine {
	return &Engine{
		store:    st,
		registry: registry,
		log:      zap.L().Named("resolver"),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Resolve arbitrates one conflict. On success the resolution is recorded,
// the authoritative value is updated, and a synthetic lineage entry marks
// the field as resolved.
func (e *Engine) Resolve(ctx context.Context, req Request) (*model.Resolution, error) {
	if !model.ValidStrategy(req.Strategy) {
		return nil, model.NewValidationError("strategy", "unknown resolution strategy")
	}

	c, err := e.store.GetConflict(ctx, req.ConflictID)
	if err != nil {
		return nil, err
	}
	if c.Status != model.ConflictPending {
		return nil, &model.AlreadyResolvedError{ConflictID: c.ID, Status: c.Status}
	}
	if len(c.Candidates) == 0 {
		return nil, eris.Errorf("resolver: conflict %s has no candidates", c.ID)
	}

	winner, err := e.pickWinner(ctx, c, req)
	if err != nil {
		return nil, err
	}

	now := e.now()
	resolvedBy := req.ResolvedBy
	if resolvedBy == "" {
		resolvedBy = model.EngineSourceID
	}
	res := model.Resolution{
		ConflictID:   c.ID,
		ChosenValue:  winner.Value,
		ChosenSource: winner.SourceID,
		Strategy:     req.Strategy,
		ResolvedAt:   now,
		ResolvedBy:   resolvedBy,
	}

	av := model.AuthoritativeValue{
		EntityID:   c.EntityID,
		FieldName:  c.FieldName,
		Value:      winner.Value,
		SourceID:   winner.SourceID,
		ObservedAt: winner.ObservedAt,
		UpdatedAt:  now,
	}
	// Synthetic ledger entry: the resolution itself is part of the field's
	// history.
	entry := model.LineageEntry{
		Observation: model.Observation{
			EntityID:   c.EntityID,
			FieldName:  c.FieldName,
			SourceID:   model.EngineSourceID,
			Value:      winner.Value,
			ObservedAt: now,
			Confidence: 1.0,
		},
		Synthetic:  true,
		ReceivedAt: now,
	}

	// CAS on status == pending, with the authoritative value and the
	// synthetic entry committed in the same transaction. A concurrent
	// winner surfaces as AlreadyResolvedError and nothing is written;
	// a storage failure rolls all three writes back so the conflict
	// stays pending and the attempt can be retried.
	if err := e.store.ResolveConflict(ctx, res, av, entry); err != nil {
		return nil, err
	}

	e.log.Info("conflict resolved",
		zap.String("conflict_id", c.ID),
		zap.String("entity_id", c.EntityID),
		zap.String("field_name", c.FieldName),
		zap.String("strategy", string(req.Strategy)),
		zap.String("chosen_source", winner.SourceID),
		zap.String("resolved_by", resolvedBy),
	)
	return &res, nil
}

// Ignore marks a pending conflict as noise. Terminal; no resolution is
// recorded and the authoritative value is untouched.
func (e *Engine) Ignore(ctx context.Context, conflictID string) error {
	if err := e.store.IgnoreConflict(ctx, conflictID); err != nil {
		return err
	}
	e.log.Info("conflict ignored", zap.String("conflict_id", conflictID))
	return nil
}

func (e *Engine) pickWinner(ctx context.Context, c *model.Conflict, req Request) (model.CandidateValue, error) {
	switch req.Strategy {
	case model.StrategyManual:
		return pickManual(c, req.ChosenValue)
	case model.StrategyTimestamp:
		return pickLatest(c.Candidates), nil
	case model.StrategyPriority, model.StrategyConfidence:
		ids := make([]string, len(c.Candidates))
		for i, cand := range c.Candidates {
			ids[i] = cand.SourceID
		}
		priorities, err := e.registry.GetAll(ctx, ids)
		if err != nil {
			return model.CandidateValue{}, err
		}
		if req.Strategy == model.StrategyPriority {
			return pickByPriority(c.Candidates, priorities), nil
		}
		return pickByConfidence(c.FieldName, c.Candidates, priorities), nil
	default:
		return model.CandidateValue{}, model.NewValidationError("strategy", "unknown resolution strategy")
	}
}

// pickManual validates that the supplied value is present among the
// candidates and returns the matching candidate.
func pickManual(c *model.Conflict, chosen model.Value) (model.CandidateValue, error) {
	if chosen == nil {
		return model.CandidateValue{}, model.NewValidationError("chosen_value", "required for manual resolution")
	}
	for _, cand := range c.Candidates {
		if model.ValuesEqual(cand.Value, chosen) {
			return cand, nil
		}
	}
	return model.CandidateValue{}, model.NewValidationError("chosen_value", "not among the conflict's candidate values")
}

// pickByPriority selects the candidate from the highest-priority source.
// Ties break by higher confidence multiplier, then source_id ascending.
func pickByPriority(candidates []model.CandidateValue, priorities map[string]model.SourcePriority) model.CandidateValue {
	best := candidates[0]
	for _, cand := range candidates[1:] {
		pb, pc := priorities[best.SourceID], priorities[cand.SourceID]
		switch {
		case pc.PriorityLevel != pb.PriorityLevel:
			if pc.PriorityLevel > pb.PriorityLevel {
				best = cand
			}
		case pc.ConfidenceMultiplier != pb.ConfidenceMultiplier:
			if pc.ConfidenceMultiplier > pb.ConfidenceMultiplier {
				best = cand
			}
		case cand.SourceID < best.SourceID:
			best = cand
		}
	}
	return best
}

// pickLatest selects the most recently observed candidate, ties broken by
// source_id ascending.
func pickLatest(candidates []model.CandidateValue) model.CandidateValue {
	sorted := make([]model.CandidateValue, len(candidates))
	copy(sorted, candidates)
	sort.SliceStable(sorted, func(i, j int) bool {
		if !sorted[i].ObservedAt.Equal(sorted[j].ObservedAt) {
			return sorted[i].ObservedAt.After(sorted[j].ObservedAt)
		}
		return sorted[i].SourceID < sorted[j].SourceID
	})
	return sorted[0]
}

// pickByConfidence selects the candidate with the highest effective score:
// confidence_score * source multiplier * per-field override multiplier.
// Ties break by source_id ascending.
func pickByConfidence(fieldName string, candidates []model.CandidateValue, priorities map[string]model.SourcePriority) model.CandidateValue {
	best := candidates[0]
	bestScore := effectiveScore(fieldName, best, priorities)
	for _, cand := range candidates[1:] {
		score := effectiveScore(fieldName, cand, priorities)
		if score > bestScore || (score == bestScore && cand.SourceID < best.SourceID) {
			best = cand
			bestScore = score
		}
	}
	return best
}

func effectiveScore(fieldName string, cand model.CandidateValue, priorities map[string]model.SourcePriority) float64 {
	sp := priorities[cand.SourceID]
	return cand.Confidence * sp.ConfidenceMultiplier * sp.FieldMultiplier(fieldName)
}
