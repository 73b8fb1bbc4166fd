package model

import (
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
)

// EngineSourceID marks lineage entries written by the resolution engine
// itself rather than by a collector.
const EngineSourceID = "reconciliation-engine"

// Observation is one fact reported by one source about one entity field.
// Immutable once written.
type Observation struct {
	EntityID   string    `json:"entity_id"`
	FieldName  string    `json:"field_name"`
	SourceID   string    `json:"source_id"`
	Value      Value     `json:"-"`
	ObservedAt time.Time `json:"observed_at"`
	Confidence float64   `json:"confidence_score"`
}

// observationJSON is the wire form of an Observation with the value envelope
// inlined under "value".
type observationJSON struct {
	EntityID   string          `json:"entity_id"`
	FieldName  string          `json:"field_name"`
	SourceID   string          `json:"source_id"`
	Value      json.RawMessage `json:"value"`
	ObservedAt time.Time       `json:"observed_at"`
	Confidence float64         `json:"confidence_score"`
}

func (o Observation) MarshalJSON() ([]byte, error) {
	raw, err := MarshalValue(o.Value)
	if err != nil {
		return nil, err
	}
	return json.Marshal(observationJSON{
		EntityID:   o.EntityID,
		FieldName:  o.FieldName,
		SourceID:   o.SourceID,
		Value:      raw,
		ObservedAt: o.ObservedAt,
		Confidence: o.Confidence,
	})
}

func (o *Observation) UnmarshalJSON(data []byte) error {
	var oj observationJSON
	if err := json.Unmarshal(data, &oj); err != nil {
		return eris.Wrap(err, "model: unmarshal observation")
	}
	val, err := UnmarshalValue(oj.Value)
	if err != nil {
		return err
	}
	*o = Observation{
		EntityID:   oj.EntityID,
		FieldName:  oj.FieldName,
		SourceID:   oj.SourceID,
		Value:      val,
		ObservedAt: oj.ObservedAt,
		Confidence: oj.Confidence,
	}
	return nil
}

// Validate checks structural constraints on an observation. maxSkew bounds
// how far in the future observed_at may sit before the observation is
// rejected (slow collector clocks are expected; broken ones are not).
func (o Observation) Validate(now time.Time, maxSkew time.Duration) error {
	if o.EntityID == "" {
		return NewValidationError("entity_id", "must not be empty")
	}
	if o.FieldName == "" {
		return NewValidationError("field_name", "must not be empty")
	}
	if o.SourceID == "" {
		return NewValidationError("source_id", "must not be empty")
	}
	if o.Value == nil {
		return NewValidationError("value", "must not be empty")
	}
	if o.ObservedAt.IsZero() {
		return NewValidationError("observed_at", "must be set")
	}
	if o.ObservedAt.After(now.Add(maxSkew)) {
		return NewValidationError("observed_at", "timestamp is in the future beyond clock-skew tolerance")
	}
	if o.Confidence < 0 || o.Confidence > 1 {
		return NewValidationError("confidence_score", "must be within [0.0, 1.0]")
	}
	return nil
}

// NaturalKey returns the deduplication key for lineage append-once
// semantics: same entity/field/source/value/timestamp is the same fact.
func (o Observation) NaturalKey() string {
	return o.EntityID + "|" + o.FieldName + "|" + o.SourceID + "|" +
		o.ObservedAt.UTC().Format(time.RFC3339Nano) + "|" + Digest(o.Value)
}

// LineageEntry is one row of the append-only observation ledger.
type LineageEntry struct {
	Seq         int64       `json:"seq"`
	Observation Observation `json:"observation"`
	Quarantined bool        `json:"quarantined,omitempty"`
	Synthetic   bool        `json:"synthetic,omitempty"`
	ReceivedAt  time.Time   `json:"received_at"`
}

// AuthoritativeValue is the current value for an entity field as exposed to
// consumers. It is either a directly committed single-source observation or
// the chosen value of the most recent resolution.
type AuthoritativeValue struct {
	EntityID   string    `json:"entity_id"`
	FieldName  string    `json:"field_name"`
	Value      Value     `json:"-"`
	SourceID   string    `json:"source_id"`
	ObservedAt time.Time `json:"observed_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

type authoritativeValueJSON struct {
	EntityID   string          `json:"entity_id"`
	FieldName  string          `json:"field_name"`
	Value      json.RawMessage `json:"value"`
	SourceID   string          `json:"source_id"`
	ObservedAt time.Time       `json:"observed_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

func (a AuthoritativeValue) MarshalJSON() ([]byte, error) {
	raw, err := MarshalValue(a.Value)
	if err != nil {
		return nil, err
	}
	return json.Marshal(authoritativeValueJSON{
		EntityID:   a.EntityID,
		FieldName:  a.FieldName,
		Value:      raw,
		SourceID:   a.SourceID,
		ObservedAt: a.ObservedAt,
		UpdatedAt:  a.UpdatedAt,
	})
}

func (a *AuthoritativeValue) UnmarshalJSON(data []byte) error {
	var aj authoritativeValueJSON
	if err := json.Unmarshal(data, &aj); err != nil {
		return eris.Wrap(err, "model: unmarshal authoritative value")
	}
	val, err := UnmarshalValue(aj.Value)
	if err != nil {
		return err
	}
	*a = AuthoritativeValue{
		EntityID:   aj.EntityID,
		FieldName:  aj.FieldName,
		Value:      val,
		SourceID:   aj.SourceID,
		ObservedAt: aj.ObservedAt,
		UpdatedAt:  aj.UpdatedAt,
	}
	return nil
}
