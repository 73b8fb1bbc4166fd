package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/netsight/reconciled/internal/catalog"
	"github.com/netsight/reconciled/internal/config"
	"github.com/netsight/reconciled/internal/detector"
	"github.com/netsight/reconciled/internal/lineage"
	"github.com/netsight/reconciled/internal/model"
	"github.com/netsight/reconciled/internal/priority"
	"github.com/netsight/reconciled/internal/store"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestRunner(t *testing.T) (*Runner, store.Store) {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))

	cat := catalog.New(map[string]catalog.EntityType{
		"device": {Fields: map[string]catalog.FieldSchema{
			"ip_address": {Kind: model.KindString},
		}},
	}, "device")

	det := detector.New(st, lineage.NewLedger(st), priority.NewRegistry(st), cat, config.DetectorConfig{
		NumericEpsilon:   1e-6,
		ClockSkewSecs:    300,
		ThrashWindowSecs: 600,
		ThrashThreshold:  3,
	})

	r := NewRunner(det, config.IngestConfig{
		Workers:        4,
		SourceRate:     1000,
		SourceBurst:    1000,
		RetryAttempts:  2,
		RetryBackoffMS: 1,
	}, nil)
	return r, st
}

func obsLine(t *testing.T, source, entity, field string, v model.Value, at time.Time) []byte {
	t.Helper()
	data, err := json.Marshal(model.Observation{
		EntityID:   entity,
		FieldName:  field,
		SourceID:   source,
		Value:      v,
		ObservedAt: at,
		Confidence: 0.9,
	})
	require.NoError(t, err)
	return data
}

func TestRun_ChannelStream(t *testing.T) {
	r, st := newTestRunner(t)
	ctx := context.Background()

	observations := make(chan model.Observation, 8)
	for i := 0; i < 5; i++ {
		observations <- model.Observation{
			EntityID:   "device:sw-" + string(rune('a'+i)),
			FieldName:  "ip_address",
			SourceID:   "nmap",
			Value:      model.StringValue("10.0.0.5"),
			ObservedAt: testNow,
			Confidence: 0.9,
		}
	}
	close(observations)

	stats, err := r.Run(ctx, observations)
	require.NoError(t, err)
	assert.Equal(t, int64(5), stats.Committed)
	assert.Equal(t, int64(5), stats.Total())

	entries, err := st.QueryLineage(ctx, store.LineageQuery{EntityID: "device:sw-a"})
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestRunReader_JSONL(t *testing.T) {
	r, st := newTestRunner(t)
	ctx := context.Background()

	var buf bytes.Buffer
	buf.Write(obsLine(t, "netbox", "device:core-1", "ip_address", model.StringValue("10.0.0.5"), testNow))
	buf.WriteByte('\n')
	// Same fact twice: deduplicated.
	buf.Write(obsLine(t, "netbox", "device:core-1", "ip_address", model.StringValue("10.0.0.5"), testNow))
	buf.WriteByte('\n')
	// Disagreeing source: opens a conflict.
	buf.Write(obsLine(t, "nmap", "device:core-1", "ip_address", model.StringValue("10.0.0.6"), testNow.Add(time.Minute)))
	buf.WriteByte('\n')
	// Wrong kind for a declared field: quarantined.
	buf.Write(obsLine(t, "siem", "device:core-1", "ip_address", model.NumberValue(5), testNow))
	buf.WriteByte('\n')
	// Malformed line: skipped as invalid.
	buf.WriteString("{not json}\n")
	// Missing required field: rejected by validation.
	buf.Write(obsLine(t, "", "device:core-1", "ip_address", model.StringValue("10.0.0.9"), testNow))
	buf.WriteByte('\n')

	// Sequential so the conflict ordering is deterministic.
	r.cfg.Workers = 1

	stats, err := r.RunReader(ctx, &buf)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Committed)
	assert.Equal(t, int64(1), stats.Duplicates)
	assert.Equal(t, int64(1), stats.ConflictsOpened)
	assert.Equal(t, int64(1), stats.Quarantined)
	assert.Equal(t, int64(2), stats.Invalid)
	assert.Equal(t, int64(0), stats.Failed)

	conflicts, err := st.ListConflicts(ctx, store.ConflictFilter{Status: model.ConflictPending})
	require.NoError(t, err)
	assert.Len(t, conflicts, 1)
}

func TestRun_CancelledContext(t *testing.T) {
	r, _ := newTestRunner(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	observations := make(chan model.Observation)
	stats, err := r.Run(ctx, observations)
	require.NoError(t, err)
	assert.Equal(t, int64(0), stats.Total())
}
