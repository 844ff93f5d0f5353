package sim

import (
	"fmt"
	"math"
	"slices"
)

// Value is the scalar-or-array currency exchanged between the beam line, the model
// and the server. The variants are Float, Int, String and Array.
type Value interface {
	isValue()
	fmt.Stringer
}

// Float is a double precision scalar.
type Float float64

// Int is an integer scalar (enums, commands, counts).
type Int int64

// String is a text value (char-array PVs, status strings).
type String string

// Array is a waveform of doubles.
type Array []float64

func (Float) isValue()  {}
func (Int) isValue()    {}
func (String) isValue() {}
func (Array) isValue()  {}

func (f Float) String() string  { return fmt.Sprintf("%g", float64(f)) }
func (i Int) String() string    { return fmt.Sprintf("%d", int64(i)) }
func (s String) String() string { return string(s) }
func (a Array) String() string  { return fmt.Sprintf("%v", []float64(a)) }

// Params maps parameter keys to values for a single element or device.
type Params map[string]Value

// ElementMap maps model element names to their parameter dictionaries. It is the
// format of both optics fragments and measurement dumps.
type ElementMap map[string]Params

// Merge copies every key of other into m, overwriting existing keys of the same element.
func (m ElementMap) Merge(other ElementMap) {
	for name, params := range other {
		dst, ok := m[name]
		if !ok {
			dst = make(Params, len(params))
			m[name] = dst
		}
		for k, v := range params {
			dst[k] = v
		}
	}
}

// AsFloat returns the numeric value of scalar variants.
func AsFloat(v Value) (float64, bool) {
	switch x := v.(type) {
	case Float:
		return float64(x), true
	case Int:
		return float64(x), true
	default:
		return 0, false
	}
}

// MustFloat returns the numeric value of v, or 0 for non-numeric variants.
func MustFloat(v Value) float64 {
	f, _ := AsFloat(v)
	return f
}

// FromAny converts decoded JSON / YAML values into a Value.
// Returns an error for shapes that have no Value representation.
func FromAny(x any) (Value, error) {
	switch v := x.(type) {
	case Value:
		return v, nil
	case float64:
		return Float(v), nil
	case float32:
		return Float(v), nil
	case int:
		return Int(v), nil
	case int64:
		return Int(v), nil
	case bool:
		if v {
			return Int(1), nil
		}
		return Int(0), nil
	case string:
		return String(v), nil
	case []float64:
		return Array(slices.Clone(v)), nil
	case []any:
		out := make(Array, len(v))
		for i, e := range v {
			f, ok := e.(float64)
			if !ok {
				return nil, fmt.Errorf("array element %d has type %T, want number", i, e)
			}
			out[i] = f
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported value type %T", x)
	}
}

// ToAny converts v into plain Go values suitable for JSON encoding. Non-finite floats
// are rendered as strings since JSON has no representation for them.
func ToAny(v Value) any {
	switch x := v.(type) {
	case Float:
		f := float64(x)
		if math.IsInf(f, 0) || math.IsNaN(f) {
			return x.String()
		}
		return f
	case Int:
		return int64(x)
	case String:
		return string(x)
	case Array:
		return []float64(x)
	default:
		return nil
	}
}

// Equal reports whether a and b hold the same variant and value.
func Equal(a, b Value) bool {
	switch x := a.(type) {
	case Array:
		y, ok := b.(Array)
		return ok && slices.Equal(x, y)
	default:
		return a == b
	}
}

// Definition describes how a parameter is presented on the wire. It is opaque to the
// core and interpreted by the server.
type Definition struct {
	Type  string   `json:"type"`
	Count int      `json:"count,omitempty"`
	Prec  int      `json:"prec,omitempty"`
	Low   *float64 `json:"low,omitempty"`
	High  *float64 `json:"high,omitempty"`
}

// Wire types understood by servers.
const (
	TypeFloat  = "float"
	TypeInt    = "int"
	TypeChar   = "char"
	TypeString = "string"
)

// DefaultDefinition is a scalar double with three digits of display precision.
func DefaultDefinition() Definition {
	return Definition{Type: TypeFloat, Prec: 3}
}

// ArrayDefinition is a waveform of count doubles.
func ArrayDefinition(count int) Definition {
	return Definition{Type: TypeFloat, Count: count}
}

// ParameterDefinition is a Definition with the initial wire value attached.
type ParameterDefinition struct {
	Definition
	Value Value `json:"-"`
}
