// Package priority manages per-source trust configuration used during
// conflict resolution.
package priority

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/netsight/reconciled/internal/model"
	"github.com/netsight/reconciled/internal/store"
)

// Registry reads and writes source trust configuration. Reads for
// unregistered sources fall back to defaults without persisting a row.
type Registry struct {
	store store.Store
	log   *zap.Logger
}

func NewRegistry(st store.Store) *Registry {
	return &Registry{
		store: st,
		log:   zap.L().Named("priority"),
	}
}

// Get returns the trust configuration for sourceID, or the documented
// defaults when the source was never registered.
func (r *Registry) Get(ctx context.Context, sourceID string) (model.SourcePriority, error) {
	sp, err := r.store.GetSourcePriority(ctx, sourceID)
	if model.IsNotFound(err) {
		return model.DefaultSourcePriority(sourceID), nil
	}
	if err != nil {
		return model.SourcePriority{}, eris.Wrapf(err, "priority: get %s", sourceID)
	}
	return *sp, nil
}

// GetAll resolves trust configuration for every source, keyed by source ID.
func (r *Registry) GetAll(ctx context.Context, sourceIDs []string) (map[string]model.SourcePriority, error) {
	out := make(map[string]model.SourcePriority, len(sourceIDs))
	for _, id := range sourceIDs {
		sp, err := r.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		out[id] = sp
	}
	return out, nil
}

// Set validates and persists trust configuration. Out-of-range values are
// rejected, never clamped.
func (r *Registry) Set(ctx context.Context, sp model.SourcePriority) error {
	if err := sp.Validate(); err != nil {
		return err
	}
	if sp.UpdatedAt.IsZero() {
		sp.UpdatedAt = time.Now().UTC()
	}
	if err := r.store.UpsertSourcePriority(ctx, sp); err != nil {
		return eris.Wrapf(err, "priority: set %s", sp.SourceID)
	}
	r.log.Info("source priority updated",
		zap.String("source_id", sp.SourceID),
		zap.Int("priority_level", sp.PriorityLevel),
		zap.Float64("confidence_multiplier", sp.ConfidenceMultiplier),
		zap.Int("field_overrides", len(sp.FieldPriorities)),
	)
	return nil
}
