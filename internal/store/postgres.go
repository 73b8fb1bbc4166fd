package store

import (
	"context"
	"errors"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/netsight/reconciled/internal/db"
	"github.com/netsight/reconciled/internal/model"
)

// pgQuerier is satisfied by both db.Pool and pgx.Tx, so the write helpers
// below can run standalone or inside a larger transaction.
type pgQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// psql builds queries with $1-style placeholders.
var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the hot ingestion path.
var preparedStatements = map[string]string{
	"append_lineage": `INSERT INTO lineage (natural_key, entity_id, field_name, source_id, value, observed_at, confidence, quarantined, synthetic, received_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10) ON CONFLICT (natural_key) DO NOTHING RETURNING seq`,
	"lineage_seq_by_key": `SELECT seq FROM lineage WHERE natural_key = $1`,
	"get_current_value": `SELECT entity_id, field_name, value, source_id, observed_at, updated_at
		FROM current_values WHERE entity_id = $1 AND field_name = $2`,
	"get_pending_conflict": `SELECT id, entity_id, field_name, conflict_type, candidates, status, created_at
		FROM conflicts WHERE entity_id = $1 AND field_name = $2 AND status = 'pending'`,
	"count_value_changes": `SELECT COUNT(*) FROM value_changes WHERE entity_id = $1 AND field_name = $2 AND changed_at >= $3`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}

	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresWithPool wraps an existing pool, used by tests with pgxmock.
func NewPostgresWithPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool, closeFn: pool.Close}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS lineage (
	seq         BIGSERIAL PRIMARY KEY,
	natural_key TEXT NOT NULL UNIQUE,
	entity_id   TEXT NOT NULL,
	field_name  TEXT NOT NULL,
	source_id   TEXT NOT NULL,
	value       JSONB NOT NULL,
	observed_at TIMESTAMPTZ NOT NULL,
	confidence  DOUBLE PRECISION NOT NULL,
	quarantined BOOLEAN NOT NULL DEFAULT FALSE,
	synthetic   BOOLEAN NOT NULL DEFAULT FALSE,
	received_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS current_values (
	entity_id   TEXT NOT NULL,
	field_name  TEXT NOT NULL,
	value       JSONB NOT NULL,
	source_id   TEXT NOT NULL,
	observed_at TIMESTAMPTZ NOT NULL,
	updated_at  TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (entity_id, field_name)
);

CREATE TABLE IF NOT EXISTS value_changes (
	entity_id  TEXT NOT NULL,
	field_name TEXT NOT NULL,
	changed_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS conflicts (
	id            TEXT PRIMARY KEY,
	entity_id     TEXT NOT NULL,
	field_name    TEXT NOT NULL,
	conflict_type TEXT NOT NULL,
	candidates    JSONB NOT NULL,
	status        TEXT NOT NULL DEFAULT 'pending',
	created_at    TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS resolutions (
	conflict_id   TEXT PRIMARY KEY REFERENCES conflicts(id),
	chosen_value  JSONB NOT NULL,
	chosen_source TEXT NOT NULL,
	strategy      TEXT NOT NULL,
	resolved_at   TIMESTAMPTZ NOT NULL,
	resolved_by   TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS source_priorities (
	source_id             TEXT PRIMARY KEY,
	priority_level        INTEGER NOT NULL,
	confidence_multiplier DOUBLE PRECISION NOT NULL,
	field_priorities      JSONB NOT NULL DEFAULT '{}',
	updated_at            TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS quality_metrics (
	id            TEXT PRIMARY KEY,
	source_id     TEXT NOT NULL,
	metric_type   TEXT NOT NULL,
	value         DOUBLE PRECISION NOT NULL,
	calculated_at TIMESTAMPTZ NOT NULL,
	metadata      JSONB
);

CREATE INDEX IF NOT EXISTS idx_lineage_entity_field ON lineage(entity_id, field_name, seq);
CREATE INDEX IF NOT EXISTS idx_lineage_source ON lineage(source_id, received_at);
CREATE INDEX IF NOT EXISTS idx_value_changes_key ON value_changes(entity_id, field_name, changed_at);
CREATE UNIQUE INDEX IF NOT EXISTS idx_conflicts_one_pending ON conflicts(entity_id, field_name) WHERE status = 'pending';
CREATE INDEX IF NOT EXISTS idx_conflicts_status ON conflicts(status, created_at);
CREATE INDEX IF NOT EXISTS idx_resolutions_resolved_at ON resolutions(resolved_at);
CREATE INDEX IF NOT EXISTS idx_quality_source ON quality_metrics(source_id, calculated_at);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) AppendLineage(ctx context.Context, entry model.LineageEntry) (int64, bool, error) {
	return pgAppendLineage(ctx, s.pool, entry)
}

func pgAppendLineage(ctx context.Context, q pgQuerier, entry model.LineageEntry) (int64, bool, error) {
	obs := entry.Observation
	valueJSON, err := encodeValue(obs.Value)
	if err != nil {
		return 0, false, err
	}
	receivedAt := entry.ReceivedAt
	if receivedAt.IsZero() {
		receivedAt = time.Now().UTC()
	}

	var seq int64
	err = q.QueryRow(ctx,
		`INSERT INTO lineage (natural_key, entity_id, field_name, source_id, value, observed_at, confidence, quarantined, synthetic, received_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10) ON CONFLICT (natural_key) DO NOTHING RETURNING seq`,
		obs.NaturalKey(), obs.EntityID, obs.FieldName, obs.SourceID, valueJSON,
		obs.ObservedAt.UTC(), obs.Confidence, entry.Quarantined, entry.Synthetic, receivedAt,
	).Scan(&seq)
	if err == nil {
		return seq, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, false, eris.Wrap(err, "postgres: append lineage")
	}

	// Duplicate natural key, append-once: return the existing seq.
	err = q.QueryRow(ctx, `SELECT seq FROM lineage WHERE natural_key = $1`, obs.NaturalKey()).Scan(&seq)
	if err != nil {
		return 0, false, eris.Wrap(err, "postgres: lookup duplicate lineage")
	}
	return seq, false, nil
}

func (s *PostgresStore) QueryLineage(ctx context.Context, q LineageQuery) ([]model.LineageEntry, error) {
	b := psql.Select("seq", "entity_id", "field_name", "source_id", "value", "observed_at", "confidence", "quarantined", "synthetic", "received_at").
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
		return nil, eris.Wrap(err, "postgres: build lineage query")
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: query lineage")
	}
	defer rows.Close()

	return scanPgLineageRows(rows)
}

func (s *PostgresStore) ListSourceLineage(ctx context.Context, sourceID string, since time.Time, limit int) ([]model.LineageEntry, error) {
	b := psql.Select("seq", "entity_id", "field_name", "source_id", "value", "observed_at", "confidence", "quarantined", "synthetic", "received_at").
		From("lineage").
		Where(sq.Eq{"source_id": sourceID}).
		Where(sq.GtOrEq{"received_at": since.UTC()}).
		OrderBy("seq ASC")
	if limit > 0 {
		b = b.Limit(uint64(limit))
	}

	query, args, err := b.ToSql()
	if err != nil {
		return nil, eris.Wrap(err, "postgres: build source lineage query")
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list lineage for source %s", sourceID)
	}
	defer rows.Close()

	return scanPgLineageRows(rows)
}

func (s *PostgresStore) ListActiveObservations(ctx context.Context, entityID, fieldName string) ([]model.Observation, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT DISTINCT ON (source_id) seq, entity_id, field_name, source_id, value, observed_at, confidence, quarantined, synthetic, received_at
		 FROM lineage
		 WHERE entity_id = $1 AND field_name = $2 AND NOT quarantined AND NOT synthetic
		 ORDER BY source_id ASC, seq DESC`,
		entityID, fieldName,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list active observations")
	}
	defer rows.Close()

	entries, err := scanPgLineageRows(rows)
	if err != nil {
		return nil, err
	}
	obs := make([]model.Observation, len(entries))
	for i, e := range entries {
		obs[i] = e.Observation
	}
	return obs, nil
}

func (s *PostgresStore) ListSources(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT DISTINCT source_id FROM lineage WHERE NOT synthetic
		 UNION
		 SELECT source_id FROM source_priorities
		 ORDER BY source_id ASC`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list sources")
	}
	defer rows.Close()

	var sources []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, eris.Wrap(err, "postgres: scan source id")
		}
		sources = append(sources, id)
	}
	return sources, rows.Err()
}

func (s *PostgresStore) GetCurrentValue(ctx context.Context, entityID, fieldName string) (*model.AuthoritativeValue, error) {
	var (
		av        model.AuthoritativeValue
		valueJSON string
	)
	err := s.pool.QueryRow(ctx,
		`SELECT entity_id, field_name, value, source_id, observed_at, updated_at
		 FROM current_values WHERE entity_id = $1 AND field_name = $2`,
		entityID, fieldName,
	).Scan(&av.EntityID, &av.FieldName, &valueJSON, &av.SourceID, &av.ObservedAt, &av.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &model.NotFoundError{Kind: "field", ID: entityID + "/" + fieldName}
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get current value")
	}
	av.Value, err = decodeValue(valueJSON)
	if err != nil {
		return nil, err
	}
	return &av, nil
}

func (s *PostgresStore) SetCurrentValue(ctx context.Context, av model.AuthoritativeValue) (bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, eris.Wrap(err, "postgres: begin set current value")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	changed, err := pgSetCurrentValue(ctx, tx, av)
	if err != nil {
		return false, err
	}
	if err := tx.Commit(ctx); err != nil {
		return false, eris.Wrap(err, "postgres: commit set current value")
	}
	return changed, nil
}

func pgSetCurrentValue(ctx context.Context, q pgQuerier, av model.AuthoritativeValue) (bool, error) {
	valueJSON, err := encodeValue(av.Value)
	if err != nil {
		return false, err
	}
	now := av.UpdatedAt
	if now.IsZero() {
		now = time.Now().UTC()
	}

	var existing string
	err = q.QueryRow(ctx,
		`SELECT value FROM current_values WHERE entity_id = $1 AND field_name = $2 FOR UPDATE`,
		av.EntityID, av.FieldName,
	).Scan(&existing)

	changed := true
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		// First value for this field.
	case err != nil:
		return false, eris.Wrap(err, "postgres: read current value")
	default:
		prev, decErr := decodeValue(existing)
		if decErr == nil && model.ValuesEqual(prev, av.Value) {
			changed = false
		}
	}

	_, err = q.Exec(ctx,
		`INSERT INTO current_values (entity_id, field_name, value, source_id, observed_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (entity_id, field_name) DO UPDATE SET
			value = EXCLUDED.value,
			source_id = EXCLUDED.source_id,
			observed_at = EXCLUDED.observed_at,
			updated_at = EXCLUDED.updated_at`,
		av.EntityID, av.FieldName, valueJSON, av.SourceID, av.ObservedAt.UTC(), now,
	)
	if err != nil {
		return false, eris.Wrap(err, "postgres: upsert current value")
	}

	if changed {
		_, err = q.Exec(ctx,
			`INSERT INTO value_changes (entity_id, field_name, changed_at) VALUES ($1, $2, $3)`,
			av.EntityID, av.FieldName, now,
		)
		if err != nil {
			return false, eris.Wrap(err, "postgres: record value change")
		}
	}
	return changed, nil
}

func (s *PostgresStore) CountValueChanges(ctx context.Context, entityID, fieldName string, since time.Time) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM value_changes WHERE entity_id = $1 AND field_name = $2 AND changed_at >= $3`,
		entityID, fieldName, since.UTC(),
	).Scan(&n)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: count value changes")
	}
	return n, nil
}

func (s *PostgresStore) CreateConflict(ctx context.Context, c model.Conflict) error {
	candidatesJSON, err := encodeCandidates(c.Candidates)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO conflicts (id, entity_id, field_name, conflict_type, candidates, status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		c.ID, c.EntityID, c.FieldName, string(c.Type), candidatesJSON, string(c.Status), c.CreatedAt.UTC(),
	)
	return eris.Wrap(err, "postgres: insert conflict")
}

func (s *PostgresStore) GetConflict(ctx context.Context, id string) (*model.Conflict, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, entity_id, field_name, conflict_type, candidates, status, created_at
		 FROM conflicts WHERE id = $1`, id,
	)
	c, err := scanConflict(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &model.NotFoundError{Kind: "conflict", ID: id}
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get conflict %s", id)
	}
	return c, nil
}

func (s *PostgresStore) GetPendingConflict(ctx context.Context, entityID, fieldName string) (*model.Conflict, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, entity_id, field_name, conflict_type, candidates, status, created_at
		 FROM conflicts WHERE entity_id = $1 AND field_name = $2 AND status = 'pending'`,
		entityID, fieldName,
	)
	c, err := scanConflict(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get pending conflict")
	}
	return c, nil
}

func (s *PostgresStore) UpdateConflictCandidates(ctx context.Context, id string, conflictType model.ConflictType, candidates []model.CandidateValue) error {
	candidatesJSON, err := encodeCandidates(candidates)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE conflicts SET conflict_type = $1, candidates = $2 WHERE id = $3 AND status = 'pending'`,
		string(conflictType), candidatesJSON, id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update conflict candidates %s", id)
	}
	if tag.RowsAffected() == 0 {
		return &model.NotFoundError{Kind: "pending conflict", ID: id}
	}
	return nil
}

func (s *PostgresStore) ListConflicts(ctx context.Context, filter ConflictFilter) ([]model.Conflict, error) {
	b := psql.Select("id", "entity_id", "field_name", "conflict_type", "candidates", "status", "created_at").
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
		return nil, eris.Wrap(err, "postgres: build conflicts query")
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list conflicts")
	}
	defer rows.Close()

	var conflicts []model.Conflict
	for rows.Next() {
		c, err := scanConflict(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan conflict row")
		}
		conflicts = append(conflicts, *c)
	}
	return conflicts, rows.Err()
}

func (s *PostgresStore) ResolveConflict(ctx context.Context, res model.Resolution, av model.AuthoritativeValue, entry model.LineageEntry) error {
	chosenJSON, err := encodeValue(res.ChosenValue)
	if err != nil {
		return err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin resolve")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if err := s.casConflictStatus(ctx, tx, res.ConflictID, model.ConflictResolved); err != nil {
		return err
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO resolutions (conflict_id, chosen_value, chosen_source, strategy, resolved_at, resolved_by)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		res.ConflictID, chosenJSON, res.ChosenSource, string(res.Strategy), res.ResolvedAt.UTC(), res.ResolvedBy,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: insert resolution %s", res.ConflictID)
	}

	// The authoritative projection and the synthetic lineage entry commit
	// or roll back with the status transition.
	if _, err := pgSetCurrentValue(ctx, tx, av); err != nil {
		return err
	}
	if _, _, err := pgAppendLineage(ctx, tx, entry); err != nil {
		return err
	}

	return eris.Wrap(tx.Commit(ctx), "postgres: commit resolve")
}

func (s *PostgresStore) IgnoreConflict(ctx context.Context, id string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin ignore")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if err := s.casConflictStatus(ctx, tx, id, model.ConflictIgnored); err != nil {
		return err
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: commit ignore")
}

func (s *PostgresStore) casConflictStatus(ctx context.Context, tx pgx.Tx, id string, target model.ConflictStatus) error {
	tag, err := tx.Exec(ctx,
		`UPDATE conflicts SET status = $1 WHERE id = $2 AND status = 'pending'`,
		string(target), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: transition conflict %s", id)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var status string
	err = tx.QueryRow(ctx, `SELECT status FROM conflicts WHERE id = $1`, id).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return &model.NotFoundError{Kind: "conflict", ID: id}
	}
	if err != nil {
		return eris.Wrapf(err, "postgres: read conflict status %s", id)
	}
	return &model.AlreadyResolvedError{ConflictID: id, Status: model.ConflictStatus(status)}
}

func (s *PostgresStore) GetResolution(ctx context.Context, conflictID string) (*model.Resolution, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT conflict_id, chosen_value, chosen_source, strategy, resolved_at, resolved_by
		 FROM resolutions WHERE conflict_id = $1`, conflictID,
	)
	r, err := scanResolution(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &model.NotFoundError{Kind: "resolution", ID: conflictID}
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get resolution %s", conflictID)
	}
	return r, nil
}

func (s *PostgresStore) ListResolutions(ctx context.Context, since time.Time, limit int) ([]model.Resolution, error) {
	b := psql.Select("conflict_id", "chosen_value", "chosen_source", "strategy", "resolved_at", "resolved_by").
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
		return nil, eris.Wrap(err, "postgres: build resolutions query")
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list resolutions")
	}
	defer rows.Close()

	var resolutions []model.Resolution
	for rows.Next() {
		r, err := scanResolution(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan resolution row")
		}
		resolutions = append(resolutions, *r)
	}
	return resolutions, rows.Err()
}

func (s *PostgresStore) GetSourcePriority(ctx context.Context, sourceID string) (*model.SourcePriority, error) {
	var (
		sp     model.SourcePriority
		fpJSON string
	)
	err := s.pool.QueryRow(ctx,
		`SELECT source_id, priority_level, confidence_multiplier, field_priorities, updated_at
		 FROM source_priorities WHERE source_id = $1`, sourceID,
	).Scan(&sp.SourceID, &sp.PriorityLevel, &sp.ConfidenceMultiplier, &fpJSON, &sp.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &model.NotFoundError{Kind: "source priority", ID: sourceID}
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get source priority")
	}
	sp.FieldPriorities, err = decodeFieldPriorities(fpJSON)
	if err != nil {
		return nil, err
	}
	return &sp, nil
}

func (s *PostgresStore) UpsertSourcePriority(ctx context.Context, sp model.SourcePriority) error {
	fpJSON, err := encodeFieldPriorities(sp.FieldPriorities)
	if err != nil {
		return err
	}
	now := sp.UpdatedAt
	if now.IsZero() {
		now = time.Now().UTC()
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO source_priorities (source_id, priority_level, confidence_multiplier, field_priorities, updated_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (source_id) DO UPDATE SET
			priority_level = EXCLUDED.priority_level,
			confidence_multiplier = EXCLUDED.confidence_multiplier,
			field_priorities = EXCLUDED.field_priorities,
			updated_at = EXCLUDED.updated_at`,
		sp.SourceID, sp.PriorityLevel, sp.ConfidenceMultiplier, fpJSON, now,
	)
	return eris.Wrapf(err, "postgres: upsert source priority %s", sp.SourceID)
}

func (s *PostgresStore) InsertQualityMetrics(ctx context.Context, metrics []model.QualityMetric) error {
	if len(metrics) == 0 {
		return nil
	}

	rows := make([][]any, 0, len(metrics))
	for _, m := range metrics {
		mdJSON, err := encodeMetadata(m.Metadata)
		if err != nil {
			return err
		}
		var md any
		if mdJSON != "" {
			md = mdJSON
		}
		rows = append(rows, []any{newID(), m.SourceID, string(m.Type), m.Value, m.CalculatedAt.UTC(), md})
	}

	_, err := db.CopyFrom(ctx, s.pool, "quality_metrics",
		[]string{"id", "source_id", "metric_type", "value", "calculated_at", "metadata"}, rows)
	return err
}

func (s *PostgresStore) ListQualityMetrics(ctx context.Context, filter MetricFilter) ([]model.QualityMetric, error) {
	b := psql.Select("source_id", "metric_type", "value", "calculated_at", "metadata").
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
		return nil, eris.Wrap(err, "postgres: build metrics query")
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list quality metrics")
	}
	defer rows.Close()

	var result []model.QualityMetric
	for rows.Next() {
		var (
			m      model.QualityMetric
			mdJSON *string
		)
		if err := rows.Scan(&m.SourceID, &m.Type, &m.Value, &m.CalculatedAt, &mdJSON); err != nil {
			return nil, eris.Wrap(err, "postgres: scan quality metric")
		}
		if mdJSON != nil {
			m.Metadata, err = decodeMetadata(*mdJSON)
			if err != nil {
				return nil, err
			}
		}
		result = append(result, m)
	}
	return result, rows.Err()
}

func scanPgLineageRows(rows pgx.Rows) ([]model.LineageEntry, error) {
	var entries []model.LineageEntry
	for rows.Next() {
		var (
			entry     model.LineageEntry
			valueJSON string
		)
		err := rows.Scan(
			&entry.Seq,
			&entry.Observation.EntityID,
			&entry.Observation.FieldName,
			&entry.Observation.SourceID,
			&valueJSON,
			&entry.Observation.ObservedAt,
			&entry.Observation.Confidence,
			&entry.Quarantined,
			&entry.Synthetic,
			&entry.ReceivedAt,
		)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan lineage row")
		}
		entry.Observation.Value, err = decodeValue(valueJSON)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}
