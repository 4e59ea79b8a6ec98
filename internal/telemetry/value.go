package telemetry

import (
	"encoding/json"
	"math"
)

// Kind is the decoded representation of a field value.
type Kind uint8

const (
	KindInt Kind = iota + 1
	KindUint
	KindFloat
	KindText
	KindArray
)

func (k Kind) String() string {
	switch k {
	case KindInt:
		return "int"
	case KindUint:
		return "uint"
	case KindFloat:
		return "float"
	case KindText:
		return "text"
	case KindArray:
		return "array"
	default:
		return "unknown"
	}
}

// Value is a single typed scalar decoded from a log record.
type Value struct {
	Kind  Kind
	Int   int64
	Uint  uint64
	Float float64
	Text  string
	Array []int16
}

func IntValue(v int64) Value     { return Value{Kind: KindInt, Int: v} }
func UintValue(v uint64) Value   { return Value{Kind: KindUint, Uint: v} }
func FloatValue(v float64) Value { return Value{Kind: KindFloat, Float: v} }
func TextValue(v string) Value   { return Value{Kind: KindText, Text: v} }

// Float64 returns the value as a float64. ok is false for text and array values.
func (v Value) Float64() (float64, bool) {
	switch v.Kind {
	case KindInt:
		return float64(v.Int), true
	case KindUint:
		return float64(v.Uint), true
	case KindFloat:
		return v.Float, true
	default:
		return 0, false
	}
}

// Numeric reports whether the value has a numeric reading.
func (v Value) Numeric() bool {
	_, ok := v.Float64()
	return ok
}

// Interface returns the natural Go value. Non-finite floats become nil.
func (v Value) Interface() any {
	switch v.Kind {
	case KindInt:
		return v.Int
	case KindUint:
		return v.Uint
	case KindFloat:
		if math.IsNaN(v.Float) || math.IsInf(v.Float, 0) {
			return nil
		}
		return v.Float
	case KindText:
		return v.Text
	case KindArray:
		return v.Array
	default:
		return nil
	}
}

func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.Interface())
}
