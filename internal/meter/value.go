package meter

import (
	"math"
	"strconv"
)

// Value is an optional measurement. The zero Value is unknown.
type Value struct {
	v  float64
	ok bool
}

// Known returns a Value holding x.
func Known(x float64) Value {
	return Value{v: x, ok: true}
}

// Unknown returns a Value that holds nothing.
func Unknown() Value {
	return Value{}
}

// Get returns the value and whether it is known.
func (v Value) Get() (float64, bool) {
	return v.v, v.ok
}

// IsKnown reports whether v holds a value.
func (v Value) IsKnown() bool {
	return v.ok
}

// Rounded returns v rounded to two decimals. Unknown stays unknown.
func (v Value) Rounded() Value {
	if !v.ok {
		return v
	}
	return Known(math.Round(v.v*100) / 100)
}

// String formats v for logs. Unknown renders as "unknown".
func (v Value) String() string {
	if !v.ok {
		return "unknown"
	}
	return strconv.FormatFloat(v.v, 'f', -1, 64)
}

// MarshalJSON encodes a known value as a number and unknown as null.
func (v Value) MarshalJSON() ([]byte, error) {
	if !v.ok {
		return []byte("null"), nil
	}
	return strconv.AppendFloat(nil, v.v, 'f', -1, 64), nil
}
