// Package lineage exposes the append-only observation ledger.
package lineage

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/netsight/reconciled/internal/model"
	"github.com/netsight/reconciled/internal/store"
)

// DefaultPageSize bounds unpaginated history reads.
const DefaultPageSize = 500

// Ledger records every observation the engine has seen, including
// quarantined input and synthetic entries written by automatic resolution.
// Entries are never updated or deleted.
type Ledger struct {
	store store.Store
	log   *zap.Logger
}

func NewLedger(st store.Store) *Ledger {
	return &Ledger{
		store: st,
		log:   zap.L().Named("lineage"),
	}
}

// Append records one observation. Re-appending an identical observation is
// a no-op that returns the original sequence number.
func (l *Ledger) Append(ctx context.Context, entry model.LineageEntry) (model.LineageEntry, bool, error) {
	if entry.ReceivedAt.IsZero() {
		entry.ReceivedAt = time.Now().UTC()
	}
	seq, inserted, err := l.store.AppendLineage(ctx, entry)
	if err != nil {
		return model.LineageEntry{}, false, eris.Wrap(err, "lineage: append")
	}
	entry.Seq = seq
	if !inserted {
		l.log.Debug("duplicate observation dropped",
			zap.String("entity_id", entry.Observation.EntityID),
			zap.String("field_name", entry.Observation.FieldName),
			zap.String("source_id", entry.Observation.SourceID),
			zap.Int64("seq", seq),
		)
	}
	return entry, inserted, nil
}

// History returns lineage for an entity in ledger order, optionally scoped
// to a single field. AfterSeq pages through long histories.
func (l *Ledger) History(ctx context.Context, q store.LineageQuery) ([]model.LineageEntry, error) {
	if q.Limit <= 0 {
		q.Limit = DefaultPageSize
	}
	entries, err := l.store.QueryLineage(ctx, q)
	if err != nil {
		return nil, eris.Wrapf(err, "lineage: history for %s", q.EntityID)
	}
	return entries, nil
}

// SourceActivity returns entries contributed by one source since a cutoff,
// in ledger order. Quality evaluation reads its per-source windows here.
func (l *Ledger) SourceActivity(ctx context.Context, sourceID string, since time.Time, limit int) ([]model.LineageEntry, error) {
	if limit <= 0 {
		limit = DefaultPageSize
	}
	entries, err := l.store.ListSourceLineage(ctx, sourceID, since, limit)
	if err != nil {
		return nil, eris.Wrapf(err, "lineage: activity for %s", sourceID)
	}
	return entries, nil
}
