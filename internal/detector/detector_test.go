package detector

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/netsight/reconciled/internal/catalog"
	"github.com/netsight/reconciled/internal/config"
	"github.com/netsight/reconciled/internal/lineage"
	"github.com/netsight/reconciled/internal/model"
	"github.com/netsight/reconciled/internal/priority"
	"github.com/netsight/reconciled/internal/store"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	detector *Detector
	store    store.Store
	registry *priority.Registry
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))

	cat := catalog.New(map[string]catalog.EntityType{
		"device": {Fields: map[string]catalog.FieldSchema{
			"ip_address": {Kind: model.KindString},
			"port_count": {Kind: model.KindNumber},
		}},
	}, "device")

	reg := priority.NewRegistry(st)
	cfg := config.DetectorConfig{
		NumericEpsilon:   1e-6,
		ClockSkewSecs:    300,
		ThrashWindowSecs: 600,
		ThrashThreshold:  3,
	}
	d := New(st, lineage.NewLedger(st), reg, cat, cfg)
	d.now = func() time.Time { return testNow }

	return &fixture{detector: d, store: st, registry: reg}
}

func obs(source, field string, v model.Value, at time.Time) model.Observation {
	return model.Observation{
		EntityID:   "device:core-1",
		FieldName:  field,
		SourceID:   source,
		Value:      v,
		ObservedAt: at,
		Confidence: 0.9,
	}
}

func TestIngest_RejectsInvalidObservation(t *testing.T) {
	f := newFixture(t)

	bad := obs("nmap", "ip_address", model.StringValue("10.0.0.1"), testNow)
	bad.EntityID = ""
	_, err := f.detector.Ingest(context.Background(), bad)
	assert.True(t, model.IsValidation(err))

	// Future timestamp beyond the skew tolerance.
	late := obs("nmap", "ip_address", model.StringValue("10.0.0.1"), testNow.Add(10*time.Minute))
	_, err = f.detector.Ingest(context.Background(), late)
	assert.True(t, model.IsValidation(err))

	// Within skew tolerance is accepted.
	ok := obs("nmap", "ip_address", model.StringValue("10.0.0.1"), testNow.Add(time.Minute))
	res, err := f.detector.Ingest(context.Background(), ok)
	require.NoError(t, err)
	assert.Equal(t, StatusCommitted, res.Status)
}

func TestIngest_SingleSourceCommitsDirectly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.detector.Ingest(ctx, obs("nmap", "ip_address", model.StringValue("10.0.0.5"), testNow))
	require.NoError(t, err)
	assert.Equal(t, StatusCommitted, res.Status)
	assert.Positive(t, res.Seq)

	av, err := f.store.GetCurrentValue(ctx, "device:core-1", "ip_address")
	require.NoError(t, err)
	assert.True(t, model.ValuesEqual(model.StringValue("10.0.0.5"), av.Value))
	assert.Equal(t, "nmap", av.SourceID)
}

func TestIngest_DuplicateIsNoOp(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := obs("nmap", "ip_address", model.StringValue("10.0.0.5"), testNow)

	first, err := f.detector.Ingest(ctx, o)
	require.NoError(t, err)
	require.Equal(t, StatusCommitted, first.Status)

	second, err := f.detector.Ingest(ctx, o)
	require.NoError(t, err)
	assert.Equal(t, StatusDuplicate, second.Status)
	assert.Equal(t, first.Seq, second.Seq)

	conflicts, err := f.store.ListConflicts(ctx, store.ConflictFilter{})
	require.NoError(t, err)
	assert.Empty(t, conflicts)
}

func TestIngest_AgreeingSourcesCommit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.detector.Ingest(ctx, obs("netbox", "port_count", model.NumberValue(48), testNow))
	require.NoError(t, err)

	// Within epsilon of the first source's value.
	res, err := f.detector.Ingest(ctx, obs("snmp", "port_count", model.NumberValue(48.00000001), testNow.Add(time.Minute)))
	require.NoError(t, err)
	assert.Equal(t, StatusCommitted, res.Status)

	conflicts, err := f.store.ListConflicts(ctx, store.ConflictFilter{})
	require.NoError(t, err)
	assert.Empty(t, conflicts)
}

func TestIngest_DisagreementOpensConflict(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.detector.Ingest(ctx, obs("nmap", "ip_address", model.StringValue("10.0.0.5"), testNow))
	require.NoError(t, err)

	res, err := f.detector.Ingest(ctx, obs("netbox", "ip_address", model.StringValue("10.0.0.6"), testNow.Add(time.Minute)))
	require.NoError(t, err)
	assert.Equal(t, StatusConflictOpened, res.Status)
	require.NotEmpty(t, res.ConflictID)

	c, err := f.store.GetConflict(ctx, res.ConflictID)
	require.NoError(t, err)
	assert.Equal(t, model.ConflictValueMismatch, c.Type)
	assert.Equal(t, model.ConflictPending, c.Status)
	require.Len(t, c.Candidates, 2)
	// Deterministic candidate order.
	assert.Equal(t, "netbox", c.Candidates[0].SourceID)
	assert.Equal(t, "nmap", c.Candidates[1].SourceID)

	// The authoritative value is frozen at the pre-conflict commit.
	av, err := f.store.GetCurrentValue(ctx, "device:core-1", "ip_address")
	require.NoError(t, err)
	assert.True(t, model.ValuesEqual(model.StringValue("10.0.0.5"), av.Value))
	assert.Equal(t, "nmap", av.SourceID)
}

func TestIngest_PendingConflictAbsorbsNewObservation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.detector.Ingest(ctx, obs("nmap", "ip_address", model.StringValue("10.0.0.5"), testNow))
	require.NoError(t, err)
	opened, err := f.detector.Ingest(ctx, obs("netbox", "ip_address", model.StringValue("10.0.0.6"), testNow.Add(time.Minute)))
	require.NoError(t, err)
	require.Equal(t, StatusConflictOpened, opened.Status)

	// A third source joins the candidate set.
	joined, err := f.detector.Ingest(ctx, obs("siem", "ip_address", model.StringValue("10.0.0.7"), testNow.Add(2*time.Minute)))
	require.NoError(t, err)
	assert.Equal(t, StatusConflictUpdated, joined.Status)
	assert.Equal(t, opened.ConflictID, joined.ConflictID)

	// A newer value from an existing candidate replaces that candidate.
	updated, err := f.detector.Ingest(ctx, obs("netbox", "ip_address", model.StringValue("10.0.0.8"), testNow.Add(3*time.Minute)))
	require.NoError(t, err)
	assert.Equal(t, StatusConflictUpdated, updated.Status)

	c, err := f.store.GetConflict(ctx, opened.ConflictID)
	require.NoError(t, err)
	require.Len(t, c.Candidates, 3)
	assert.Equal(t, "netbox", c.Candidates[0].SourceID)
	assert.True(t, model.ValuesEqual(model.StringValue("10.0.0.8"), c.Candidates[0].Value))

	// Still exactly one pending conflict for the key.
	pending, err := f.store.ListConflicts(ctx, store.ConflictFilter{Status: model.ConflictPending})
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestIngest_AbsorbedObservationReclassifiesConflict(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// "location" is undeclared, so a number value passes the schema check.
	_, err := f.detector.Ingest(ctx, obs("netbox", "location", model.StringValue("rack-4"), testNow))
	require.NoError(t, err)
	opened, err := f.detector.Ingest(ctx, obs("cmdb", "location", model.StringValue("rack-5"), testNow.Add(time.Minute)))
	require.NoError(t, err)
	require.Equal(t, StatusConflictOpened, opened.Status)

	c, err := f.store.GetConflict(ctx, opened.ConflictID)
	require.NoError(t, err)
	require.Equal(t, model.ConflictValueMismatch, c.Type)

	// A candidate of a different kind joins: the pending conflict is now a
	// schema conflict, not just a value mismatch.
	joined, err := f.detector.Ingest(ctx, obs("siem", "location", model.NumberValue(4), testNow.Add(2*time.Minute)))
	require.NoError(t, err)
	require.Equal(t, StatusConflictUpdated, joined.Status)
	assert.Equal(t, opened.ConflictID, joined.ConflictID)

	c, err = f.store.GetConflict(ctx, opened.ConflictID)
	require.NoError(t, err)
	assert.Equal(t, model.ConflictSchema, c.Type)
	assert.Len(t, c.Candidates, 3)
}

func TestIngest_SchemaViolationQuarantines(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// ip_address is declared as a string field.
	res, err := f.detector.Ingest(ctx, obs("siem", "ip_address", model.NumberValue(167772165), testNow))
	require.NoError(t, err)
	assert.Equal(t, StatusQuarantined, res.Status)
	assert.Positive(t, res.Seq)

	// Recorded in lineage but never part of the active set.
	entries, err := f.store.QueryLineage(ctx, store.LineageQuery{EntityID: "device:core-1", FieldName: "ip_address"})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, entries[0].Quarantined)

	active, err := f.store.ListActiveObservations(ctx, "device:core-1", "ip_address")
	require.NoError(t, err)
	assert.Empty(t, active)

	_, err = f.store.GetCurrentValue(ctx, "device:core-1", "ip_address")
	assert.True(t, model.IsNotFound(err))
}

func TestIngest_UndeclaredFieldKindMismatchIsSchemaConflict(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// "location" is not declared in the catalog, so both kinds pass the
	// schema check, and the cross-source kind disagreement classifies as a
	// schema conflict.
	_, err := f.detector.Ingest(ctx, obs("netbox", "location", model.StringValue("rack-4"), testNow))
	require.NoError(t, err)

	res, err := f.detector.Ingest(ctx, obs("cmdb", "location", model.NumberValue(4), testNow.Add(time.Minute)))
	require.NoError(t, err)
	require.Equal(t, StatusConflictOpened, res.Status)

	c, err := f.store.GetConflict(ctx, res.ConflictID)
	require.NoError(t, err)
	assert.Equal(t, model.ConflictSchema, c.Type)
}

func TestIngest_TopPriorityDisagreementClassification(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.registry.Set(ctx, model.SourcePriority{
		SourceID: "netbox", PriorityLevel: 8, ConfidenceMultiplier: 1.0,
	}))
	require.NoError(t, f.registry.Set(ctx, model.SourcePriority{
		SourceID: "nmap", PriorityLevel: 3, ConfidenceMultiplier: 1.0,
	}))

	_, err := f.detector.Ingest(ctx, obs("netbox", "ip_address", model.StringValue("10.0.0.5"), testNow))
	require.NoError(t, err)
	res, err := f.detector.Ingest(ctx, obs("nmap", "ip_address", model.StringValue("10.0.0.6"), testNow.Add(time.Minute)))
	require.NoError(t, err)
	require.Equal(t, StatusConflictOpened, res.Status)

	c, err := f.store.GetConflict(ctx, res.ConflictID)
	require.NoError(t, err)
	assert.Equal(t, model.ConflictSourcePriority, c.Type)
}

func TestIngest_EqualPrioritiesFallBackToValueMismatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Both sources sit at the default priority level.
	_, err := f.detector.Ingest(ctx, obs("netbox", "ip_address", model.StringValue("10.0.0.5"), testNow))
	require.NoError(t, err)
	res, err := f.detector.Ingest(ctx, obs("nmap", "ip_address", model.StringValue("10.0.0.6"), testNow.Add(time.Minute)))
	require.NoError(t, err)

	c, err := f.store.GetConflict(ctx, res.ConflictID)
	require.NoError(t, err)
	assert.Equal(t, model.ConflictValueMismatch, c.Type)
}

func TestIngest_ThrashingClassifiesAsTimestampConflict(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.detector.cfg.ThrashThreshold = 2

	// A single source flapping commits directly and racks up value changes.
	for i, v := range []string{"10.0.0.1", "10.0.0.2"} {
		res, err := f.detector.Ingest(ctx, obs("dhcp", "ip_address", model.StringValue(v), testNow.Add(time.Duration(i)*time.Minute)))
		require.NoError(t, err)
		require.Equal(t, StatusCommitted, res.Status)
	}

	res, err := f.detector.Ingest(ctx, obs("netbox", "ip_address", model.StringValue("10.0.0.9"), testNow.Add(5*time.Minute)))
	require.NoError(t, err)
	require.Equal(t, StatusConflictOpened, res.Status)

	c, err := f.store.GetConflict(ctx, res.ConflictID)
	require.NoError(t, err)
	assert.Equal(t, model.ConflictTimestamp, c.Type)
}

func TestIngest_ConflictNeverSuppressesLineage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.detector.Ingest(ctx, obs("nmap", "ip_address", model.StringValue("10.0.0.5"), testNow))
	require.NoError(t, err)
	_, err = f.detector.Ingest(ctx, obs("netbox", "ip_address", model.StringValue("10.0.0.6"), testNow.Add(time.Minute)))
	require.NoError(t, err)
	_, err = f.detector.Ingest(ctx, obs("siem", "ip_address", model.StringValue("10.0.0.7"), testNow.Add(2*time.Minute)))
	require.NoError(t, err)

	entries, err := f.store.QueryLineage(ctx, store.LineageQuery{EntityID: "device:core-1", FieldName: "ip_address"})
	require.NoError(t, err)
	assert.Len(t, entries, 3)
}

func TestIngest_ConcurrentDisagreementsOpenOneConflict(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Disagreeing sources racing on the same entity/field serialize on the
	// key's lock stripe, so only one of them opens the conflict and the rest
	// join its candidate set.
	const sources = 8
	results := make([]Result, sources)
	errs := make([]error, sources)
	var wg sync.WaitGroup
	for i := 0; i < sources; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			o := obs(fmt.Sprintf("scanner-%d", i), "ip_address", model.StringValue(fmt.Sprintf("10.0.0.%d", i)), testNow)
			results[i], errs[i] = f.detector.Ingest(ctx, o)
		}(i)
	}
	wg.Wait()

	var committed, opened, updated int
	for i := range results {
		require.NoError(t, errs[i])
		switch results[i].Status {
		case StatusCommitted:
			committed++
		case StatusConflictOpened:
			opened++
		case StatusConflictUpdated:
			updated++
		default:
			t.Fatalf("unexpected status: %s", results[i].Status)
		}
	}
	assert.Equal(t, 1, committed)
	assert.Equal(t, 1, opened)
	assert.Equal(t, sources-2, updated)

	pending, err := f.store.ListConflicts(ctx, store.ConflictFilter{Status: model.ConflictPending})
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Len(t, pending[0].Candidates, sources)

	entries, err := f.store.QueryLineage(ctx, store.LineageQuery{EntityID: "device:core-1", FieldName: "ip_address"})
	require.NoError(t, err)
	assert.Len(t, entries, sources)
}
