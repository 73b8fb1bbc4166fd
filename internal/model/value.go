package model

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"strconv"

	"github.com/rotisserie/eris"
	"golang.org/x/text/unicode/norm"
)

// ValueKind identifies the variant of an observation value.
type ValueKind string

const (
	KindString     ValueKind = "string"
	KindNumber     ValueKind = "number"
	KindBool       ValueKind = "bool"
	KindStructured ValueKind = "structured"
)

// Value is a closed union over the types a source can report for a field.
// Keeping the variants closed lets comparison and schema checks be
// exhaustive instead of reflecting over arbitrary JSON.
type Value interface {
	Kind() ValueKind
	isValue()
}

// StringValue holds a textual field value.
type StringValue string

// NumberValue holds a numeric field value.
type NumberValue float64

// BoolValue holds a boolean field value.
type BoolValue bool

// StructuredValue holds a nested JSON object or array, kept opaque.
type StructuredValue json.RawMessage

func (StringValue) Kind() ValueKind     { return KindString }
func (NumberValue) Kind() ValueKind     { return KindNumber }
func (BoolValue) Kind() ValueKind       { return KindBool }
func (StructuredValue) Kind() ValueKind { return KindStructured }

func (StringValue) isValue()     {}
func (NumberValue) isValue()     {}
func (BoolValue) isValue()       {}
func (StructuredValue) isValue() {}

// valueEnvelope is the wire form of a Value.
type valueEnvelope struct {
	Kind       ValueKind       `json:"kind"`
	String     *string         `json:"string,omitempty"`
	Number     *float64        `json:"number,omitempty"`
	Bool       *bool           `json:"bool,omitempty"`
	Structured json.RawMessage `json:"structured,omitempty"`
}

// MarshalValue encodes a Value into its tagged JSON envelope.
func MarshalValue(v Value) ([]byte, error) {
	if v == nil {
		return nil, eris.New("model: marshal nil value")
	}
	env := valueEnvelope{Kind: v.Kind()}
	switch val := v.(type) {
	case StringValue:
		s := string(val)
		env.String = &s
	case NumberValue:
		n := float64(val)
		env.Number = &n
	case BoolValue:
		b := bool(val)
		env.Bool = &b
	case StructuredValue:
		env.Structured = json.RawMessage(val)
	default:
		return nil, eris.Errorf("model: unknown value kind %T", v)
	}
	return json.Marshal(env)
}

// UnmarshalValue decodes a tagged JSON envelope into a Value.
func UnmarshalValue(data []byte) (Value, error) {
	var env valueEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, eris.Wrap(err, "model: unmarshal value")
	}
	switch env.Kind {
	case KindString:
		if env.String == nil {
			return nil, eris.New("model: string value missing payload")
		}
		return StringValue(*env.String), nil
	case KindNumber:
		if env.Number == nil {
			return nil, eris.New("model: number value missing payload")
		}
		return NumberValue(*env.Number), nil
	case KindBool:
		if env.Bool == nil {
			return nil, eris.New("model: bool value missing payload")
		}
		return BoolValue(*env.Bool), nil
	case KindStructured:
		if len(env.Structured) == 0 {
			return nil, eris.New("model: structured value missing payload")
		}
		return StructuredValue(env.Structured), nil
	default:
		return nil, eris.Errorf("model: unknown value kind %q", env.Kind)
	}
}

// ValuesEqual reports exact equality between two values. Strings are
// compared after NFC normalization so byte-different but canonically equal
// text from different collectors does not register as disagreement.
func ValuesEqual(a, b Value) bool {
	return ValuesEqualTolerant(a, b, 0)
}

// ValuesEqualTolerant compares two values with a relative epsilon applied to
// numeric comparisons. Values of different kinds are never equal.
func ValuesEqualTolerant(a, b Value, epsilon float64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if a.Kind() != b.Kind() {
		return false
	}
	switch av := a.(type) {
	case StringValue:
		bv := b.(StringValue)
		return norm.NFC.String(string(av)) == norm.NFC.String(string(bv))
	case NumberValue:
		bv := b.(NumberValue)
		return numbersEqual(float64(av), float64(bv), epsilon)
	case BoolValue:
		return av == b.(BoolValue)
	case StructuredValue:
		return structuredEqual(json.RawMessage(av), json.RawMessage(b.(StructuredValue)))
	default:
		return false
	}
}

func numbersEqual(a, b, epsilon float64) bool {
	if a == b {
		return true
	}
	if epsilon <= 0 {
		return false
	}
	diff := math.Abs(a - b)
	scale := math.Max(math.Abs(a), math.Abs(b))
	if scale == 0 {
		return diff <= epsilon
	}
	return diff/scale <= epsilon
}

func structuredEqual(a, b json.RawMessage) bool {
	var ca, cb bytes.Buffer
	if err := json.Compact(&ca, a); err != nil {
		return bytes.Equal(a, b)
	}
	if err := json.Compact(&cb, b); err != nil {
		return false
	}
	return bytes.Equal(ca.Bytes(), cb.Bytes())
}

// Digest returns a stable hex digest of a value, used as part of the
// lineage natural key for append-once deduplication.
func Digest(v Value) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s:", v.Kind())
	switch val := v.(type) {
	case StringValue:
		h.Write([]byte(norm.NFC.String(string(val))))
	case NumberValue:
		h.Write([]byte(strconv.FormatFloat(float64(val), 'g', -1, 64)))
	case BoolValue:
		h.Write([]byte(strconv.FormatBool(bool(val))))
	case StructuredValue:
		var c bytes.Buffer
		if err := json.Compact(&c, json.RawMessage(val)); err == nil {
			h.Write(c.Bytes())
		} else {
			h.Write([]byte(val))
		}
	}
	return hex.EncodeToString(h.Sum(nil))
}

// FormatValue renders a value for logs and CLI output.
func FormatValue(v Value) string {
	if v == nil {
		return "<nil>"
	}
	switch val := v.(type) {
	case StringValue:
		return string(val)
	case NumberValue:
		return strconv.FormatFloat(float64(val), 'g', -1, 64)
	case BoolValue:
		return strconv.FormatBool(bool(val))
	case StructuredValue:
		return string(val)
	default:
		return fmt.Sprintf("%v", v)
	}
}
