package store

import (
	"database/sql"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/netsight/reconciled/internal/model"
)

// scannable covers both *sql.Row and *sql.Rows.
type scannable interface {
	Scan(dest ...any) error
}

func newID() string {
	return uuid.New().String()
}

func scanLineage(row scannable) (*model.LineageEntry, error) {
	var (
		entry                  model.LineageEntry
		valueJSON              string
		quarantined, synthetic int
	)
	err := row.Scan(
		&entry.Seq,
		&entry.Observation.EntityID,
		&entry.Observation.FieldName,
		&entry.Observation.SourceID,
		&valueJSON,
		&entry.Observation.ObservedAt,
		&entry.Observation.Confidence,
		&quarantined,
		&synthetic,
		&entry.ReceivedAt,
	)
	if err != nil {
		return nil, err
	}
	entry.Quarantined = quarantined != 0
	entry.Synthetic = synthetic != 0
	entry.Observation.Value, err = decodeValue(valueJSON)
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

func scanLineageRows(rows *sql.Rows) ([]model.LineageEntry, error) {
	var entries []model.LineageEntry
	for rows.Next() {
		e, err := scanLineage(rows)
		if err != nil {
			return nil, eris.Wrap(err, "store: scan lineage row")
		}
		entries = append(entries, *e)
	}
	return entries, rows.Err()
}

func scanConflict(row scannable) (*model.Conflict, error) {
	var (
		c              model.Conflict
		candidatesJSON string
	)
	err := row.Scan(&c.ID, &c.EntityID, &c.FieldName, &c.Type, &candidatesJSON, &c.Status, &c.CreatedAt)
	if err != nil {
		return nil, err
	}
	c.Candidates, err = decodeCandidates(candidatesJSON)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func scanResolution(row scannable) (*model.Resolution, error) {
	var (
		r          model.Resolution
		chosenJSON string
	)
	err := row.Scan(&r.ConflictID, &chosenJSON, &r.ChosenSource, &r.Strategy, &r.ResolvedAt, &r.ResolvedBy)
	if err != nil {
		return nil, err
	}
	r.ChosenValue, err = decodeValue(chosenJSON)
	if err != nil {
		return nil, err
	}
	return &r, nil
}
