package model

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/rotisserie/eris"
)

// ConflictType classifies why sources disagree.
type ConflictType string

const (
	ConflictValueMismatch  ConflictType = "value_mismatch"
	ConflictSchema         ConflictType = "schema_conflict"
	ConflictTimestamp      ConflictType = "timestamp_conflict"
	ConflictSourcePriority ConflictType = "source_priority_conflict"
)

// ConflictStatus is the lifecycle state of a conflict. Resolved and ignored
// are terminal.
type ConflictStatus string

const (
	ConflictPending  ConflictStatus = "pending"
	ConflictResolved ConflictStatus = "resolved"
	ConflictIgnored  ConflictStatus = "ignored"
)

// Strategy identifies how a conflict was (or should be) arbitrated.
type Strategy string

const (
	StrategyManual     Strategy = "manual"
	StrategyPriority   Strategy = "priority_based"
	StrategyTimestamp  Strategy = "timestamp_based"
	StrategyConfidence Strategy = "confidence_based"
)

// ValidStrategy reports whether s names a known resolution strategy.
func ValidStrategy(s Strategy) bool {
	switch s {
	case StrategyManual, StrategyPriority, StrategyTimestamp, StrategyConfidence:
		return true
	}
	return false
}

// AutomaticStrategy reports whether s may be applied by the background sweep.
func AutomaticStrategy(s Strategy) bool {
	return ValidStrategy(s) && s != StrategyManual
}

// CandidateValue is one disagreeing source's entry in a conflict.
type CandidateValue struct {
	SourceID   string    `json:"source_id"`
	Value      Value     `json:"-"`
	Confidence float64   `json:"confidence_score"`
	ObservedAt time.Time `json:"observed_at"`
}

type candidateValueJSON struct {
	SourceID   string          `json:"source_id"`
	Value      json.RawMessage `json:"value"`
	Confidence float64         `json:"confidence_score"`
	ObservedAt time.Time       `json:"observed_at"`
}

func (c CandidateValue) MarshalJSON() ([]byte, error) {
	raw, err := MarshalValue(c.Value)
	if err != nil {
		return nil, err
	}
	return json.Marshal(candidateValueJSON{
		SourceID:   c.SourceID,
		Value:      raw,
		Confidence: c.Confidence,
		ObservedAt: c.ObservedAt,
	})
}

func (c *CandidateValue) UnmarshalJSON(data []byte) error {
	var cj candidateValueJSON
	if err := json.Unmarshal(data, &cj); err != nil {
		return eris.Wrap(err, "model: unmarshal candidate value")
	}
	val, err := UnmarshalValue(cj.Value)
	if err != nil {
		return err
	}
	*c = CandidateValue{
		SourceID:   cj.SourceID,
		Value:      val,
		Confidence: cj.Confidence,
		ObservedAt: cj.ObservedAt,
	}
	return nil
}

// SortCandidates orders candidates by source_id ascending. Candidate order
// is part of the tie-break contract, so it must be deterministic.
func SortCandidates(candidates []CandidateValue) {
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].SourceID < candidates[j].SourceID
	})
}

// Conflict is a detected disagreement on one entity field.
type Conflict struct {
	ID         string           `json:"id"`
	EntityID   string           `json:"entity_id"`
	FieldName  string           `json:"field_name"`
	Type       ConflictType     `json:"conflict_type"`
	Candidates []CandidateValue `json:"candidate_values"`
	Status     ConflictStatus   `json:"status"`
	CreatedAt  time.Time        `json:"created_at"`
}

// Involves reports whether sourceID appears among the conflict's candidates.
func (c *Conflict) Involves(sourceID string) bool {
	for _, cand := range c.Candidates {
		if cand.SourceID == sourceID {
			return true
		}
	}
	return false
}

// Resolution is the recorded outcome of arbitrating one conflict. Created
// exactly once, immutable thereafter.
type Resolution struct {
	ConflictID   string    `json:"conflict_id"`
	ChosenValue  Value     `json:"-"`
	ChosenSource string    `json:"chosen_source"`
	Strategy     Strategy  `json:"strategy"`
	ResolvedAt   time.Time `json:"resolved_at"`
	ResolvedBy   string    `json:"resolved_by"`
}

type resolutionJSON struct {
	ConflictID   string          `json:"conflict_id"`
	ChosenValue  json.RawMessage `json:"chosen_value"`
	ChosenSource string          `json:"chosen_source"`
	Strategy     Strategy        `json:"strategy"`
	ResolvedAt   time.Time       `json:"resolved_at"`
	ResolvedBy   string          `json:"resolved_by"`
}

func (r Resolution) MarshalJSON() ([]byte, error) {
	raw, err := MarshalValue(r.ChosenValue)
	if err != nil {
		return nil, err
	}
	return json.Marshal(resolutionJSON{
		ConflictID:   r.ConflictID,
		ChosenValue:  raw,
		ChosenSource: r.ChosenSource,
		Strategy:     r.Strategy,
		ResolvedAt:   r.ResolvedAt,
		ResolvedBy:   r.ResolvedBy,
	})
}

func (r *Resolution) UnmarshalJSON(data []byte) error {
	var rj resolutionJSON
	if err := json.Unmarshal(data, &rj); err != nil {
		return eris.Wrap(err, "model: unmarshal resolution")
	}
	val, err := UnmarshalValue(rj.ChosenValue)
	if err != nil {
		return err
	}
	*r = Resolution{
		ConflictID:   rj.ConflictID,
		ChosenValue:  val,
		ChosenSource: rj.ChosenSource,
		Strategy:     rj.Strategy,
		ResolvedAt:   rj.ResolvedAt,
		ResolvedBy:   rj.ResolvedBy,
	}
	return nil
}
