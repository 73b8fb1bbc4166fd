package model

import "time"

// MetricType names one dimension of source quality.
type MetricType string

const (
	MetricAccuracy     MetricType = "accuracy"
	MetricCompleteness MetricType = "completeness"
	MetricConsistency  MetricType = "consistency"
	MetricTimeliness   MetricType = "timeliness"
	MetricValidity     MetricType = "validity"
)

// ValidMetricType reports whether t names a known quality dimension.
func ValidMetricType(t MetricType) bool {
	switch t {
	case MetricAccuracy, MetricCompleteness, MetricConsistency, MetricTimeliness, MetricValidity:
		return true
	}
	return false
}

// QualityMetric is one periodic score for one source. Metrics form an
// append-only time series; prior values are retained for trend queries.
type QualityMetric struct {
	SourceID     string         `json:"source_id"`
	Type         MetricType     `json:"metric_type"`
	Value        float64        `json:"value"`
	CalculatedAt time.Time      `json:"calculated_at"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// ClampScore bounds a computed quality score into [0, 100].
func ClampScore(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
