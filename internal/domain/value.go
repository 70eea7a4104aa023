package domain

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ValueKind is the scalar type of a parameter value.
type ValueKind uint8

// Value kinds.
const (
	KindFloat ValueKind = iota
	KindInt
	KindString
)

// Value is a scalar parameter value produced by the optimizer.
type Value struct {
	kind ValueKind
	f    float64
	i    int64
	s    string
}

// Float creates a floating-point value.
func Float(f float64) Value { return Value{kind: KindFloat, f: f} }

// Int creates an integer value.
func Int(i int64) Value { return Value{kind: KindInt, i: i} }

// String creates a string value.
func String(s string) Value { return Value{kind: KindString, s: s} }

// Kind returns the scalar type.
func (v Value) Kind() ValueKind { return v.kind }

// Float64 returns the numeric value. ok is false for strings.
func (v Value) Float64() (f float64, ok bool) {
	switch v.kind {
	case KindFloat:
		return v.f, true
	case KindInt:
		return float64(v.i), true
	default:
		return 0, false
	}
}

// String renders the value the way it appears on a command line.
// Floats use the shortest representation that round-trips, integral floats keep a
// trailing ".0" and very small or very large magnitudes switch to exponent form.
func (v Value) String() string {
	switch v.kind {
	case KindInt:
		return strconv.FormatInt(v.i, 10)
	case KindString:
		return v.s
	default:
		return formatFloat(v.f)
	}
}

// Equal reports whether both values have the same kind and content.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindInt:
		return v.i == o.i
	case KindString:
		return v.s == o.s
	default:
		return v.f == o.f || (math.IsNaN(v.f) && math.IsNaN(o.f))
	}
}

func formatFloat(f float64) string {
	switch {
	case math.IsInf(f, 1):
		return "inf"
	case math.IsInf(f, -1):
		return "-inf"
	case math.IsNaN(f):
		return "nan"
	case f == 0:
		if math.Signbit(f) {
			return "-0.0"
		}
		return "0.0"
	}

	e := strconv.FormatFloat(f, 'e', -1, 64)
	exp, _ := strconv.Atoi(e[strings.IndexByte(e, 'e')+1:])
	if exp < -4 || exp >= 16 {
		return e
	}
	s := strconv.FormatFloat(f, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}

// MarshalJSON encodes the value as a JSON number or string. Floats always carry a
// fraction or exponent so the kind survives a round trip.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindString:
		return json.Marshal(v.s)
	case KindInt:
		return []byte(strconv.FormatInt(v.i, 10)), nil
	default:
		if math.IsNaN(v.f) || math.IsInf(v.f, 0) {
			return nil, fmt.Errorf("value %v is not representable in JSON", v.f)
		}
		return []byte(formatFloat(v.f)), nil
	}
}

// UnmarshalJSON decodes a JSON number or string.
func (v *Value) UnmarshalJSON(data []byte) error {
	data = []byte(strings.TrimSpace(string(data)))
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*v = String(s)
		return nil
	}

	raw := string(data)
	if !strings.ContainsAny(raw, ".eE") {
		i, err := strconv.ParseInt(raw, 10, 64)
		if err == nil {
			*v = Int(i)
			return nil
		}
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fmt.Errorf("invalid value %s: %w", raw, err)
	}
	*v = Float(f)
	return nil
}
