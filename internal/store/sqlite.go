package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/netsight/reconciled/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS lineage (
	seq         INTEGER PRIMARY KEY AUTOINCREMENT,
	natural_key TEXT NOT NULL UNIQUE,
	entity_id   TEXT NOT NULL,
	field_name  TEXT NOT NULL,
	source_id   TEXT NOT NULL,
	value       TEXT NOT NULL,
	observed_at DATETIME NOT NULL,
	confidence  REAL NOT NULL,
	quarantined INTEGER NOT NULL DEFAULT 0,
	synthetic   INTEGER NOT NULL DEFAULT 0,
	received_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS current_values (
	entity_id   TEXT NOT NULL,
	field_name  TEXT NOT NULL,
	value       TEXT NOT NULL,
	source_id   TEXT NOT NULL,
	observed_at DATETIME NOT NULL,
	updated_at  DATETIME NOT NULL,
	PRIMARY KEY (entity_id, field_name)
);

CREATE TABLE IF NOT EXISTS value_changes (
	entity_id  TEXT NOT NULL,
	field_name TEXT NOT NULL,
	changed_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS conflicts (
	id            TEXT PRIMARY KEY,
	entity_id     TEXT NOT NULL,
	field_name    TEXT NOT NULL,
	conflict_type TEXT NOT NULL,
	candidates    TEXT NOT NULL,
	status        TEXT NOT NULL DEFAULT 'pending',
	created_at    DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS resolutions (
	conflict_id   TEXT PRIMARY KEY REFERENCES conflicts(id),
	chosen_value  TEXT NOT NULL,
	chosen_source TEXT NOT NULL,
	strategy      TEXT NOT NULL,
	resolved_at   DATETIME NOT NULL,
	resolved_by   TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS source_priorities (
	source_id             TEXT PRIMARY KEY,
	priority_level        INTEGER NOT NULL,
	confidence_multiplier REAL NOT NULL,
	field_priorities      TEXT NOT NULL DEFAULT '{}',
	updated_at            DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS quality_metrics (
	id            TEXT PRIMARY KEY,
	source_id     TEXT NOT NULL,
	metric_type   TEXT NOT NULL,
	value         REAL NOT NULL,
	calculated_at DATETIME NOT NULL,
	metadata      TEXT
);

CREATE INDEX IF NOT EXISTS idx_lineage_entity_field ON lineage(entity_id, field_name, seq);
CREATE INDEX IF NOT EXISTS idx_lineage_source ON lineage(source_id, received_at);
CREATE INDEX IF NOT EXISTS idx_value_changes_key ON value_changes(entity_id, field_name, changed_at);
CREATE UNIQUE INDEX IF NOT EXISTS idx_conflicts_one_pending ON conflicts(entity_id, field_name) WHERE status = 'pending';
CREATE INDEX IF NOT EXISTS idx_conflicts_status ON conflicts(status, created_at);
CREATE INDEX IF NOT EXISTS idx_resolutions_resolved_at ON resolutions(resolved_at);
CREATE INDEX IF NOT EXISTS idx_quality_source ON quality_metrics(source_id, calculated_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// sqliteExecer is satisfied by both *sql.DB and *sql.Tx, so the write
// helpers below can run standalone or inside a larger transaction.
type sqliteExecer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *SQLiteStore) AppendLineage(ctx context.Context, entry model.LineageEntry) (int64, bool, error) {
	return sqliteAppendLineage(ctx, s.db, entry)
}

func sqliteAppendLineage(ctx context.Context, q sqliteExecer, entry model.LineageEntry) (int64, bool, error) {
	obs := entry.Observation
	valueJSON, err := encodeValue(obs.Value)
	if err != nil {
		return 0, false, err
	}
	receivedAt := entry.ReceivedAt
	if receivedAt.IsZero() {
		receivedAt = time.Now().UTC()
	}

	res, err := q.ExecContext(ctx,
		`INSERT INTO lineage (natural_key, entity_id, field_name, source_id, value, observed_at, confidence, quarantined, synthetic, received_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(natural_key) DO NOTHING`,
		obs.NaturalKey(), obs.EntityID, obs.FieldName, obs.SourceID, valueJSON,
		obs.ObservedAt.UTC(), obs.Confidence, boolToInt(entry.Quarantined), boolToInt(entry.Synthetic), receivedAt,
	)
	if err != nil {
		return 0, false, eris.Wrap(err, "sqlite: append lineage")
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, false, eris.Wrap(err, "sqlite: append lineage rows affected")
	}
	if n == 0 {
		// Duplicate natural key, append-once: return the existing seq.
		var seq int64
		err := q.QueryRowContext(ctx,
			`SELECT seq FROM lineage WHERE natural_key = ?`, obs.NaturalKey(),
		).Scan(&seq)
		if err != nil {
			return 0, false, eris.Wrap(err, "sqlite: lookup duplicate lineage")
		}
		return seq, false, nil
	}

	seq, err := res.LastInsertId()
	if err != nil {
		return 0, false, eris.Wrap(err, "sqlite: lineage seq")
	}
	return seq, true, nil
}

func (s *SQLiteStore) QueryLineage(ctx context.Context, q LineageQuery) ([]model.LineageEntry, error) {
	b := sq.Select("seq", "entity_id", "field_name", "source_id", "value", "observed_at", "confidence", "quarantined", "synthetic", "received_at").
		From("lineage").
		Where(sq.Eq{"entity_id": q.EntityID}).
		OrderBy("seq ASC")
	if q.FieldName != "" {
		b = b.Where(sq.Eq{"field_name": q.FieldName})
	}
	if q.AfterSeq > 0 {
		b = b.Where(sq.Gt{"seq": q.AfterSeq})
	}
	if q.Limit > 0 {
		b = b.Limit(uint64(q.Limit))
	}

	query, args, err := b.ToSql()
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: build lineage query")
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: query lineage")
	}
	defer rows.Close()

	return scanLineageRows(rows)
}

func (s *SQLiteStore) ListSourceLineage(ctx context.Context, sourceID string, since time.Time, limit int) ([]model.LineageEntry, error) {
	b := sq.Select("seq", "entity_id", "field_name", "source_id", "value", "observed_at", "confidence", "quarantined", "synthetic", "received_at").
		From("lineage").
		Where(sq.Eq{"source_id": sourceID}).
		Where(sq.GtOrEq{"received_at": since.UTC()}).
		OrderBy("seq ASC")
	if limit > 0 {
		b = b.Limit(uint64(limit))
	}

	query, args, err := b.ToSql()
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: build source lineage query")
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list lineage for source %s", sourceID)
	}
	defer rows.Close()

	return scanLineageRows(rows)
}

func (s *SQLiteStore) ListActiveObservations(ctx context.Context, entityID, fieldName string) ([]model.Observation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT l.seq, l.entity_id, l.field_name, l.source_id, l.value, l.observed_at, l.confidence, l.quarantined, l.synthetic, l.received_at
		 FROM lineage l
		 JOIN (
			SELECT source_id, MAX(seq) AS max_seq FROM lineage
			WHERE entity_id = ? AND field_name = ? AND quarantined = 0 AND synthetic = 0
			GROUP BY source_id
		 ) m ON l.seq = m.max_seq
		 ORDER BY l.source_id ASC`,
		entityID, fieldName,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list active observations")
	}
	defer rows.Close()

	entries, err := scanLineageRows(rows)
	if err != nil {
		return nil, err
	}
	obs := make([]model.Observation, len(entries))
	for i, e := range entries {
		obs[i] = e.Observation
	}
	return obs, nil
}

func (s *SQLiteStore) ListSources(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT source_id FROM lineage WHERE synthetic = 0
		 UNION
		 SELECT source_id FROM source_priorities
		 ORDER BY source_id ASC`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list sources")
	}
	defer rows.Close()

	var sources []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan source id")
		}
		sources = append(sources, id)
	}
	return sources, rows.Err()
}

func (s *SQLiteStore) GetCurrentValue(ctx context.Context, entityID, fieldName string) (*model.AuthoritativeValue, error) {
	var (
		av        model.AuthoritativeValue
		valueJSON string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT entity_id, field_name, value, source_id, observed_at, updated_at
		 FROM current_values WHERE entity_id = ? AND field_name = ?`,
		entityID, fieldName,
	).Scan(&av.EntityID, &av.FieldName, &valueJSON, &av.SourceID, &av.ObservedAt, &av.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &model.NotFoundError{Kind: "field", ID: entityID + "/" + fieldName}
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get current value")
	}
	av.Value, err = decodeValue(valueJSON)
	if err != nil {
		return nil, err
	}
	return &av, nil
}

func (s *SQLiteStore) SetCurrentValue(ctx context.Context, av model.AuthoritativeValue) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, eris.Wrap(err, "sqlite: begin set current value")
	}
	defer tx.Rollback() //nolint:errcheck

	changed, err := sqliteSetCurrentValue(ctx, tx, av)
	if err != nil {
		return false, err
	}

	if err := tx.Commit(); err != nil {
		return false, eris.Wrap(err, "sqlite: commit set current value")
	}
	return changed, nil
}

func sqliteSetCurrentValue(ctx context.Context, q sqliteExecer, av model.AuthoritativeValue) (bool, error) {
	valueJSON, err := encodeValue(av.Value)
	if err != nil {
		return false, err
	}
	now := av.UpdatedAt
	if now.IsZero() {
		now = time.Now().UTC()
	}

	var existing string
	err = q.QueryRowContext(ctx,
		`SELECT value FROM current_values WHERE entity_id = ? AND field_name = ?`,
		av.EntityID, av.FieldName,
	).Scan(&existing)

	changed := true
	switch {
	case errors.Is(err, sql.ErrNoRows):
		// First value for this field.
	case err != nil:
		return false, eris.Wrap(err, "sqlite: read current value")
	default:
		prev, decErr := decodeValue(existing)
		if decErr == nil && model.ValuesEqual(prev, av.Value) {
			changed = false
		}
	}

	_, err = q.ExecContext(ctx,
		`INSERT INTO current_values (entity_id, field_name, value, source_id, observed_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(entity_id, field_name) DO UPDATE SET
			value = excluded.value,
			source_id = excluded.source_id,
			observed_at = excluded.observed_at,
			updated_at = excluded.updated_at`,
		av.EntityID, av.FieldName, valueJSON, av.SourceID, av.ObservedAt.UTC(), now,
	)
	if err != nil {
		return false, eris.Wrap(err, "sqlite: upsert current value")
	}

	if changed {
		_, err = q.ExecContext(ctx,
			`INSERT INTO value_changes (entity_id, field_name, changed_at) VALUES (?, ?, ?)`,
			av.EntityID, av.FieldName, now,
		)
		if err != nil {
			return false, eris.Wrap(err, "sqlite: record value change")
		}
	}

	return changed, nil
}

func (s *SQLiteStore) CountValueChanges(ctx context.Context, entityID, fieldName string, since time.Time) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM value_changes WHERE entity_id = ? AND field_name = ? AND changed_at >= ?`,
		entityID, fieldName, since.UTC(),
	).Scan(&n)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: count value changes")
	}
	return n, nil
}

func (s *SQLiteStore) CreateConflict(ctx context.Context, c model.Conflict) error {
	candidatesJSON, err := encodeCandidates(c.Candidates)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO conflicts (id, entity_id, field_name, conflict_type, candidates, status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.EntityID, c.FieldName, string(c.Type), candidatesJSON, string(c.Status), c.CreatedAt.UTC(),
	)
	return eris.Wrap(err, "sqlite: insert conflict")
}

func (s *SQLiteStore) GetConflict(ctx context.Context, id string) (*model.Conflict, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, entity_id, field_name, conflict_type, candidates, status, created_at
		 FROM conflicts WHERE id = ?`, id,
	)
	c, err := scanConflict(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &model.NotFoundError{Kind: "conflict", ID: id}
	}
	return c, err
}

func (s *SQLiteStore) GetPendingConflict(ctx context.Context, entityID, fieldName string) (*model.Conflict, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, entity_id, field_name, conflict_type, candidates, status, created_at
		 FROM conflicts WHERE entity_id = ? AND field_name = ? AND status = 'pending'`,
		entityID, fieldName,
	)
	c, err := scanConflict(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return c, err
}

func (s *SQLiteStore) UpdateConflictCandidates(ctx context.Context, id string, conflictType model.ConflictType, candidates []model.CandidateValue) error {
	candidatesJSON, err := encodeCandidates(candidates)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE conflicts SET conflict_type = ?, candidates = ? WHERE id = ? AND status = 'pending'`,
		string(conflictType), candidatesJSON, id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update conflict candidates %s", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: update candidates rows affected")
	}
	if n == 0 {
		return &model.NotFoundError{Kind: "pending conflict", ID: id}
	}
	return nil
}

func (s *SQLiteStore) ListConflicts(ctx context.Context, filter ConflictFilter) ([]model.Conflict, error) {
	b := sq.Select("id", "entity_id", "field_name", "conflict_type", "candidates", "status", "created_at").
		From("conflicts").
		OrderBy("created_at ASC", "id ASC")
	if filter.Status != "" {
		b = b.Where(sq.Eq{"status": string(filter.Status)})
	}
	if filter.EntityID != "" {
		b = b.Where(sq.Eq{"entity_id": filter.EntityID})
	}
	if !filter.CreatedAfter.IsZero() {
		b = b.Where(sq.GtOrEq{"created_at": filter.CreatedAfter.UTC()})
	}
	if filter.Limit > 0 {
		b = b.Limit(uint64(filter.Limit))
	}
	if filter.Offset > 0 {
		b = b.Offset(uint64(filter.Offset))
	}

	query, args, err := b.ToSql()
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: build conflicts query")
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list conflicts")
	}
	defer rows.Close()

	var conflicts []model.Conflict
	for rows.Next() {
		c, err := scanConflict(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan conflict row")
		}
		conflicts = append(conflicts, *c)
	}
	return conflicts, rows.Err()
}

func (s *SQLiteStore) ResolveConflict(ctx context.Context, res model.Resolution, av model.AuthoritativeValue, entry model.LineageEntry) error {
	chosenJSON, err := encodeValue(res.ChosenValue)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin resolve")
	}
	defer tx.Rollback() //nolint:errcheck

	if err := casConflictStatus(ctx, tx, res.ConflictID, model.ConflictResolved); err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO resolutions (conflict_id, chosen_value, chosen_source, strategy, resolved_at, resolved_by)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		res.ConflictID, chosenJSON, res.ChosenSource, string(res.Strategy), res.ResolvedAt.UTC(), res.ResolvedBy,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: insert resolution %s", res.ConflictID)
	}

	// The authoritative projection and the synthetic lineage entry commit or
	// roll back with the status transition.
	if _, err := sqliteSetCurrentValue(ctx, tx, av); err != nil {
		return err
	}
	if _, _, err := sqliteAppendLineage(ctx, tx, entry); err != nil {
		return err
	}

	return eris.Wrap(tx.Commit(), "sqlite: commit resolve")
}

func (s *SQLiteStore) IgnoreConflict(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin ignore")
	}
	defer tx.Rollback() //nolint:errcheck

	if err := casConflictStatus(ctx, tx, id, model.ConflictIgnored); err != nil {
		return err
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit ignore")
}

// casConflictStatus performs the compare-and-set transition pending → target.
// Losing a race surfaces as AlreadyResolvedError; an unknown id as NotFound.
func casConflictStatus(ctx context.Context, tx *sql.Tx, id string, target model.ConflictStatus) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE conflicts SET status = ? WHERE id = ? AND status = 'pending'`,
		string(target), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: transition conflict %s", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: transition rows affected")
	}
	if n == 1 {
		return nil
	}

	var status string
	err = tx.QueryRowContext(ctx, `SELECT status FROM conflicts WHERE id = ?`, id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return &model.NotFoundError{Kind: "conflict", ID: id}
	}
	if err != nil {
		return eris.Wrapf(err, "sqlite: read conflict status %s", id)
	}
	return &model.AlreadyResolvedError{ConflictID: id, Status: model.ConflictStatus(status)}
}

func (s *SQLiteStore) GetResolution(ctx context.Context, conflictID string) (*model.Resolution, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT conflict_id, chosen_value, chosen_source, strategy, resolved_at, resolved_by
		 FROM resolutions WHERE conflict_id = ?`, conflictID,
	)
	r, err := scanResolution(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &model.NotFoundError{Kind: "resolution", ID: conflictID}
	}
	return r, err
}

func (s *SQLiteStore) ListResolutions(ctx context.Context, since time.Time, limit int) ([]model.Resolution, error) {
	b := sq.Select("conflict_id", "chosen_value", "chosen_source", "strategy", "resolved_at", "resolved_by").
		From("resolutions").
		OrderBy("resolved_at ASC", "conflict_id ASC")
	if !since.IsZero() {
		b = b.Where(sq.GtOrEq{"resolved_at": since.UTC()})
	}
	if limit > 0 {
		b = b.Limit(uint64(limit))
	}

	query, args, err := b.ToSql()
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: build resolutions query")
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list resolutions")
	}
	defer rows.Close()

	var resolutions []model.Resolution
	for rows.Next() {
		r, err := scanResolution(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan resolution row")
		}
		resolutions = append(resolutions, *r)
	}
	return resolutions, rows.Err()
}

func (s *SQLiteStore) GetSourcePriority(ctx context.Context, sourceID string) (*model.SourcePriority, error) {
	var (
		sp     model.SourcePriority
		fpJSON string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT source_id, priority_level, confidence_multiplier, field_priorities, updated_at
		 FROM source_priorities WHERE source_id = ?`, sourceID,
	).Scan(&sp.SourceID, &sp.PriorityLevel, &sp.ConfidenceMultiplier, &fpJSON, &sp.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &model.NotFoundError{Kind: "source priority", ID: sourceID}
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get source priority")
	}
	sp.FieldPriorities, err = decodeFieldPriorities(fpJSON)
	if err != nil {
		return nil, err
	}
	return &sp, nil
}

func (s *SQLiteStore) UpsertSourcePriority(ctx context.Context, sp model.SourcePriority) error {
	fpJSON, err := encodeFieldPriorities(sp.FieldPriorities)
	if err != nil {
		return err
	}
	now := sp.UpdatedAt
	if now.IsZero() {
		now = time.Now().UTC()
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO source_priorities (source_id, priority_level, confidence_multiplier, field_priorities, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(source_id) DO UPDATE SET
			priority_level = excluded.priority_level,
			confidence_multiplier = excluded.confidence_multiplier,
			field_priorities = excluded.field_priorities,
			updated_at = excluded.updated_at`,
		sp.SourceID, sp.PriorityLevel, sp.ConfidenceMultiplier, fpJSON, now,
	)
	return eris.Wrapf(err, "sqlite: upsert source priority %s", sp.SourceID)
}

func (s *SQLiteStore) InsertQualityMetrics(ctx context.Context, metrics []model.QualityMetric) error {
	if len(metrics) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin insert metrics")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO quality_metrics (id, source_id, metric_type, value, calculated_at, metadata)
		 VALUES (?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return eris.Wrap(err, "sqlite: prepare insert metric")
	}
	defer stmt.Close()

	for _, m := range metrics {
		mdJSON, err := encodeMetadata(m.Metadata)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx, newID(), m.SourceID, string(m.Type), m.Value, m.CalculatedAt.UTC(), mdJSON); err != nil {
			return eris.Wrapf(err, "sqlite: insert metric %s/%s", m.SourceID, m.Type)
		}
	}

	return eris.Wrap(tx.Commit(), "sqlite: commit insert metrics")
}

func (s *SQLiteStore) ListQualityMetrics(ctx context.Context, filter MetricFilter) ([]model.QualityMetric, error) {
	b := sq.Select("source_id", "metric_type", "value", "calculated_at", "metadata").
		From("quality_metrics").
		OrderBy("calculated_at ASC", "source_id ASC", "metric_type ASC")
	if filter.SourceID != "" {
		b = b.Where(sq.Eq{"source_id": filter.SourceID})
	}
	if filter.Type != "" {
		b = b.Where(sq.Eq{"metric_type": string(filter.Type)})
	}
	if !filter.Since.IsZero() {
		b = b.Where(sq.GtOrEq{"calculated_at": filter.Since.UTC()})
	}
	if filter.Limit > 0 {
		b = b.Limit(uint64(filter.Limit))
	}

	query, args, err := b.ToSql()
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: build metrics query")
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list quality metrics")
	}
	defer rows.Close()

	var metrics []model.QualityMetric
	for rows.Next() {
		var (
			m      model.QualityMetric
			mdJSON sql.NullString
		)
		if err := rows.Scan(&m.SourceID, &m.Type, &m.Value, &m.CalculatedAt, &mdJSON); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan quality metric")
		}
		if mdJSON.Valid {
			m.Metadata, err = decodeMetadata(mdJSON.String)
			if err != nil {
				return nil, err
			}
		}
		metrics = append(metrics, m)
	}
	return metrics, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
