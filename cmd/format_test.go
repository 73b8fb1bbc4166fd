package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/netsight/reconciled/internal/ingest"
	"github.com/netsight/reconciled/internal/model"
)

func TestFormatIngestStats(t *testing.T) {
	var buf bytes.Buffer
	formatIngestStats(&buf, ingest.Stats{
		Committed:       10,
		ConflictsOpened: 2,
		Duplicates:      1,
		Invalid:         3,
	})

	out := buf.String()
	assert.Contains(t, out, "total")
	assert.Contains(t, out, "16")
	assert.Contains(t, out, "committed")
	assert.Contains(t, out, "conflicts opened")
}

func TestFormatConflictsList(t *testing.T) {
	var buf bytes.Buffer
	formatConflictsList(&buf, []model.Conflict{
		{
			ID:        "c-1",
			EntityID:  "device:core-1",
			FieldName: "ip_address",
			Type:      model.ConflictValueMismatch,
			Status:    model.ConflictPending,
			Candidates: []model.CandidateValue{
				{SourceID: "nmap", Value: model.StringValue("10.0.0.1")},
				{SourceID: "netbox", Value: model.StringValue("10.0.0.2")},
			},
			CreatedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		},
	})

	out := buf.String()
	lines := strings.Split(strings.TrimSpace(out), "\n")
	assert.Len(t, lines, 2)
	assert.Contains(t, lines[0], "ENTITY")
	assert.Contains(t, lines[1], "device:core-1")
	assert.Contains(t, lines[1], "value_mismatch")
}

func TestFormatLineage_Flags(t *testing.T) {
	var buf bytes.Buffer
	formatLineage(&buf, []model.LineageEntry{
		{
			Seq: 1,
			Observation: model.Observation{
				FieldName:  "ip_address",
				SourceID:   "nmap",
				Value:      model.StringValue("10.0.0.1"),
				ObservedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
				Confidence: 0.9,
			},
		},
		{
			Seq: 2,
			Observation: model.Observation{
				FieldName:  "ip_address",
				SourceID:   model.EngineSourceID,
				Value:      model.StringValue("10.0.0.1"),
				ObservedAt: time.Date(2026, 3, 1, 12, 5, 0, 0, time.UTC),
				Confidence: 1.0,
			},
			Synthetic: true,
		},
	})

	out := buf.String()
	assert.Contains(t, out, "nmap")
	assert.Contains(t, out, "synthetic")
}

func TestFormatMetrics(t *testing.T) {
	var buf bytes.Buffer
	formatMetrics(&buf, []model.QualityMetric{
		{SourceID: "nmap", Type: model.MetricCompleteness, Value: 80,
			CalculatedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)},
	})

	out := buf.String()
	assert.Contains(t, out, "completeness")
	assert.Contains(t, out, "80.0")
}
