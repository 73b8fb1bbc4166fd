package model

import (
	"fmt"
	"time"
)

// Priority and multiplier bounds. Out-of-range input is rejected at write
// time, never clamped.
const (
	MinPriorityLevel           = 1
	MaxPriorityLevel           = 10
	MinConfidenceMultiplier    = 0.0
	MaxConfidenceMultiplier    = 2.0
	MaxFieldPriorityMultiplier = 3.0

	DefaultPriorityLevel        = 5
	DefaultConfidenceMultiplier = 1.0
)

// SourcePriority is the trust configuration for one source.
type SourcePriority struct {
	SourceID             string             `json:"source_id"`
	PriorityLevel        int                `json:"priority_level"`
	ConfidenceMultiplier float64            `json:"confidence_multiplier"`
	FieldPriorities      map[string]float64 `json:"field_priorities,omitempty"`
	UpdatedAt            time.Time          `json:"updated_at,omitempty"`
}

// DefaultSourcePriority returns the documented defaults for an unregistered
// source. No row is persisted; registration is explicit.
func DefaultSourcePriority(sourceID string) SourcePriority {
	return SourcePriority{
		SourceID:             sourceID,
		PriorityLevel:        DefaultPriorityLevel,
		ConfidenceMultiplier: DefaultConfidenceMultiplier,
	}
}

// FieldMultiplier returns the per-field override multiplier for fieldName,
// defaulting to 1.0 when none is configured.
func (sp SourcePriority) FieldMultiplier(fieldName string) float64 {
	if m, ok := sp.FieldPriorities[fieldName]; ok {
		return m
	}
	return 1.0
}

// Validate rejects out-of-range trust configuration.
func (sp SourcePriority) Validate() error {
	if sp.SourceID == "" {
		return NewValidationError("source_id", "must not be empty")
	}
	if sp.PriorityLevel < MinPriorityLevel || sp.PriorityLevel > MaxPriorityLevel {
		return NewValidationError("priority_level",
			fmt.Sprintf("must be within [%d, %d]", MinPriorityLevel, MaxPriorityLevel))
	}
	if sp.ConfidenceMultiplier < MinConfidenceMultiplier || sp.ConfidenceMultiplier > MaxConfidenceMultiplier {
		return NewValidationError("confidence_multiplier",
			fmt.Sprintf("must be within [%.1f, %.1f]", MinConfidenceMultiplier, MaxConfidenceMultiplier))
	}
	for field, m := range sp.FieldPriorities {
		if m < MinConfidenceMultiplier || m > MaxFieldPriorityMultiplier {
			return NewValidationError("field_priorities."+field,
				fmt.Sprintf("must be within [%.1f, %.1f]", MinConfidenceMultiplier, MaxFieldPriorityMultiplier))
		}
	}
	return nil
}
