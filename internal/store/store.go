package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"

	"github.com/netsight/reconciled/internal/model"
)

// LineageQuery selects a restartable page of the observation ledger for one
// entity, optionally narrowed to one field. Results are ordered by sequence
// ascending; pass the last seen seq as AfterSeq to continue.
type LineageQuery struct {
	EntityID  string `json:"entity_id"`
	FieldName string `json:"field_name,omitempty"`
	AfterSeq  int64  `json:"after_seq,omitempty"`
	Limit     int    `json:"limit,omitempty"`
}

// ConflictFilter specifies criteria for listing conflicts.
type ConflictFilter struct {
	Status       model.ConflictStatus `json:"status,omitempty"`
	EntityID     string               `json:"entity_id,omitempty"`
	CreatedAfter time.Time            `json:"created_after,omitempty"`
	Limit        int                  `json:"limit,omitempty"`
	Offset       int                  `json:"offset,omitempty"`
}

// MetricFilter specifies criteria for listing quality metrics.
type MetricFilter struct {
	SourceID string           `json:"source_id,omitempty"`
	Type     model.MetricType `json:"metric_type,omitempty"`
	Since    time.Time        `json:"since,omitempty"`
	Limit    int              `json:"limit,omitempty"`
}

// Store defines the persistence interface for the reconciliation engine.
type Store interface {
	// Lineage ledger (append-only).
	AppendLineage(ctx context.Context, entry model.LineageEntry) (seq int64, inserted bool, err error)
	QueryLineage(ctx context.Context, q LineageQuery) ([]model.LineageEntry, error)
	ListSourceLineage(ctx context.Context, sourceID string, since time.Time, limit int) ([]model.LineageEntry, error)
	ListActiveObservations(ctx context.Context, entityID, fieldName string) ([]model.Observation, error)
	ListSources(ctx context.Context) ([]string, error)

	// Authoritative value projection.
	GetCurrentValue(ctx context.Context, entityID, fieldName string) (*model.AuthoritativeValue, error)
	SetCurrentValue(ctx context.Context, av model.AuthoritativeValue) (changed bool, err error)
	CountValueChanges(ctx context.Context, entityID, fieldName string, since time.Time) (int, error)

	// Conflicts and resolutions.
	CreateConflict(ctx context.Context, c model.Conflict) error
	GetConflict(ctx context.Context, id string) (*model.Conflict, error)
	GetPendingConflict(ctx context.Context, entityID, fieldName string) (*model.Conflict, error)
	UpdateConflictCandidates(ctx context.Context, id string, conflictType model.ConflictType, candidates []model.CandidateValue) error
	ListConflicts(ctx context.Context, filter ConflictFilter) ([]model.Conflict, error)
	// ResolveConflict transitions the conflict pending -> resolved and, in the
	// same transaction, records the resolution, updates the authoritative
	// projection and appends the synthetic lineage entry. A lost race rolls
	// everything back and surfaces as AlreadyResolvedError.
	ResolveConflict(ctx context.Context, res model.Resolution, av model.AuthoritativeValue, entry model.LineageEntry) error
	IgnoreConflict(ctx context.Context, id string) error
	GetResolution(ctx context.Context, conflictID string) (*model.Resolution, error)
	ListResolutions(ctx context.Context, since time.Time, limit int) ([]model.Resolution, error)

	// Source trust configuration.
	GetSourcePriority(ctx context.Context, sourceID string) (*model.SourcePriority, error)
	UpsertSourcePriority(ctx context.Context, sp model.SourcePriority) error

	// Quality metric time series (append-only).
	InsertQualityMetrics(ctx context.Context, metrics []model.QualityMetric) error
	ListQualityMetrics(ctx context.Context, filter MetricFilter) ([]model.QualityMetric, error)

	// Lifecycle.
	Migrate(ctx context.Context) error
	Close() error
}

// encodeValue serializes a value envelope for a TEXT column.
func encodeValue(v model.Value) (string, error) {
	raw, err := model.MarshalValue(v)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func decodeValue(raw string) (model.Value, error) {
	return model.UnmarshalValue([]byte(raw))
}

func encodeCandidates(candidates []model.CandidateValue) (string, error) {
	data, err := json.Marshal(candidates)
	if err != nil {
		return "", eris.Wrap(err, "store: marshal candidates")
	}
	return string(data), nil
}

func decodeCandidates(raw string) ([]model.CandidateValue, error) {
	var candidates []model.CandidateValue
	if err := json.Unmarshal([]byte(raw), &candidates); err != nil {
		return nil, eris.Wrap(err, "store: unmarshal candidates")
	}
	return candidates, nil
}

func encodeFieldPriorities(fp map[string]float64) (string, error) {
	if fp == nil {
		fp = map[string]float64{}
	}
	data, err := json.Marshal(fp)
	if err != nil {
		return "", eris.Wrap(err, "store: marshal field priorities")
	}
	return string(data), nil
}

func decodeFieldPriorities(raw string) (map[string]float64, error) {
	if raw == "" {
		return nil, nil
	}
	var fp map[string]float64
	if err := json.Unmarshal([]byte(raw), &fp); err != nil {
		return nil, eris.Wrap(err, "store: unmarshal field priorities")
	}
	if len(fp) == 0 {
		return nil, nil
	}
	return fp, nil
}

func encodeMetadata(md map[string]any) (string, error) {
	if md == nil {
		return "", nil
	}
	data, err := json.Marshal(md)
	if err != nil {
		return "", eris.Wrap(err, "store: marshal metric metadata")
	}
	return string(data), nil
}

func decodeMetadata(raw string) (map[string]any, error) {
	if raw == "" {
		return nil, nil
	}
	var md map[string]any
	if err := json.Unmarshal([]byte(raw), &md); err != nil {
		return nil, eris.Wrap(err, "store: unmarshal metric metadata")
	}
	return md, nil
}
