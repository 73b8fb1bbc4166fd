package model

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validObservation() Observation {
	return Observation{
		EntityID:   "device:core-sw-01",
		FieldName:  "ip_address",
		SourceID:   "nmap-scanner",
		Value:      StringValue("10.0.0.5"),
		ObservedAt: time.Now().Add(-time.Minute),
		Confidence: 0.9,
	}
}

func TestObservationValidate_OK(t *testing.T) {
	obs := validObservation()
	assert.NoError(t, obs.Validate(time.Now(), 5*time.Minute))
}

func TestObservationValidate_MissingKeys(t *testing.T) {
	now := time.Now()
	for _, mutate := range []func(*Observation){
		func(o *Observation) { o.EntityID = "" },
		func(o *Observation) { o.FieldName = "" },
		func(o *Observation) { o.SourceID = "" },
		func(o *Observation) { o.Value = nil },
	} {
		obs := validObservation()
		mutate(&obs)
		err := obs.Validate(now, 5*time.Minute)
		assert.True(t, IsValidation(err), "expected validation error, got %v", err)
	}
}

func TestObservationValidate_FutureTimestamp(t *testing.T) {
	now := time.Now()
	obs := validObservation()

	// Within skew tolerance: accepted.
	obs.ObservedAt = now.Add(2 * time.Minute)
	assert.NoError(t, obs.Validate(now, 5*time.Minute))

	// Beyond tolerance: rejected.
	obs.ObservedAt = now.Add(10 * time.Minute)
	assert.True(t, IsValidation(obs.Validate(now, 5*time.Minute)))
}

func TestObservationValidate_ConfidenceRange(t *testing.T) {
	obs := validObservation()
	obs.Confidence = 1.5
	assert.True(t, IsValidation(obs.Validate(time.Now(), 5*time.Minute)))

	obs.Confidence = -0.1
	assert.True(t, IsValidation(obs.Validate(time.Now(), 5*time.Minute)))
}

func TestObservationJSON_RoundTrip(t *testing.T) {
	obs := validObservation()

	data, err := json.Marshal(obs)
	require.NoError(t, err)

	var back Observation
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, obs.EntityID, back.EntityID)
	assert.Equal(t, obs.SourceID, back.SourceID)
	assert.True(t, ValuesEqual(obs.Value, back.Value))
}

func TestNaturalKey_IdenticalObservations(t *testing.T) {
	a := validObservation()
	b := a
	assert.Equal(t, a.NaturalKey(), b.NaturalKey())

	b.Value = StringValue("10.0.0.6")
	assert.NotEqual(t, a.NaturalKey(), b.NaturalKey())
}

func TestSourcePriorityValidate(t *testing.T) {
	sp := SourcePriority{SourceID: "siem-feed", PriorityLevel: 8, ConfidenceMultiplier: 1.2}
	assert.NoError(t, sp.Validate())

	sp.PriorityLevel = 11
	assert.True(t, IsValidation(sp.Validate()))

	sp.PriorityLevel = 5
	sp.ConfidenceMultiplier = -0.1
	assert.True(t, IsValidation(sp.Validate()))

	sp.ConfidenceMultiplier = 1.0
	sp.FieldPriorities = map[string]float64{"ip_address": 3.5}
	assert.True(t, IsValidation(sp.Validate()))
}

func TestDefaultSourcePriority(t *testing.T) {
	sp := DefaultSourcePriority("unknown-agent")
	assert.Equal(t, 5, sp.PriorityLevel)
	assert.Equal(t, 1.0, sp.ConfidenceMultiplier)
	assert.Empty(t, sp.FieldPriorities)
	assert.Equal(t, 1.0, sp.FieldMultiplier("anything"))
}

func TestSortCandidates(t *testing.T) {
	cands := []CandidateValue{
		{SourceID: "zeta", Value: StringValue("a")},
		{SourceID: "alpha", Value: StringValue("b")},
		{SourceID: "mid", Value: StringValue("c")},
	}
	SortCandidates(cands)
	assert.Equal(t, []string{"alpha", "mid", "zeta"},
		[]string{cands[0].SourceID, cands[1].SourceID, cands[2].SourceID})
}

func TestClampScore(t *testing.T) {
	assert.Equal(t, 0.0, ClampScore(-5))
	assert.Equal(t, 100.0, ClampScore(250))
	assert.Equal(t, 80.0, ClampScore(80))
}
