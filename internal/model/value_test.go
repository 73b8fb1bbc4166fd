package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValueRoundTrip_String(t *testing.T) {
	data, err := MarshalValue(StringValue("10.0.0.5"))
	require.NoError(t, err)

	v, err := UnmarshalValue(data)
	require.NoError(t, err)
	assert.Equal(t, StringValue("10.0.0.5"), v)
}

func TestValueRoundTrip_Number(t *testing.T) {
	data, err := MarshalValue(NumberValue(42.5))
	require.NoError(t, err)

	v, err := UnmarshalValue(data)
	require.NoError(t, err)
	assert.Equal(t, NumberValue(42.5), v)
}

func TestValueRoundTrip_Structured(t *testing.T) {
	data, err := MarshalValue(StructuredValue(`{"ports":[80,443]}`))
	require.NoError(t, err)

	v, err := UnmarshalValue(data)
	require.NoError(t, err)
	assert.Equal(t, KindStructured, v.Kind())
}

func TestUnmarshalValue_UnknownKind(t *testing.T) {
	_, err := UnmarshalValue([]byte(`{"kind":"tensor"}`))
	assert.Error(t, err)
}

func TestValuesEqual_DifferentKinds(t *testing.T) {
	// "443" as a string is not the number 443: that is a schema conflict,
	// not equality.
	assert.False(t, ValuesEqual(StringValue("443"), NumberValue(443)))
}

func TestValuesEqual_NFCNormalization(t *testing.T) {
	// U+00E9 vs e + combining acute accent.
	assert.True(t, ValuesEqual(StringValue("café"), StringValue("café")))
}

func TestValuesEqualTolerant_Epsilon(t *testing.T) {
	assert.True(t, ValuesEqualTolerant(NumberValue(100.0), NumberValue(100.00000001), 1e-6))
	assert.False(t, ValuesEqualTolerant(NumberValue(100.0), NumberValue(101.0), 1e-6))
}

func TestValuesEqualTolerant_ZeroEpsilonIsExact(t *testing.T) {
	assert.False(t, ValuesEqualTolerant(NumberValue(1.0), NumberValue(1.0000001), 0))
	assert.True(t, ValuesEqualTolerant(NumberValue(1.0), NumberValue(1.0), 0))
}

func TestValuesEqual_StructuredIgnoresWhitespace(t *testing.T) {
	a := StructuredValue(`{"a": 1, "b": 2}`)
	b := StructuredValue(`{"a":1,"b":2}`)
	assert.True(t, ValuesEqual(a, b))
}

func TestDigest_StableAcrossEquivalentValues(t *testing.T) {
	assert.Equal(t, Digest(StringValue("café")), Digest(StringValue("café")))
	assert.NotEqual(t, Digest(StringValue("a")), Digest(StringValue("b")))
	assert.NotEqual(t, Digest(StringValue("1")), Digest(NumberValue(1)))
}
