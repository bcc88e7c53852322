package heap

import (
	"fmt"
	"math"
)

// Tag discriminates the variants of a Value.
type Tag int

const (
	TNil Tag = iota
	TBool
	TNumber
	TObject
)

func (t Tag) String() string {
	switch t {
	case TNil:
		return "nil"
	case TBool:
		return "bool"
	case TNumber:
		return "number"
	case TObject:
		return "object"
	default:
		return "unknown"
	}
}

// Value is a dynamically tagged slot. Scalars are stored inline and
// are invisible to the collector; only TObject values carry an edge
// into the heap. Value is comparable, so it can key a Go map: object
// values compare by identity, which matches reference semantics.
type Value struct {
	Tag Tag
	B   bool
	N   float64
	Obj Object
}

// Nil is the zero Value.
var Nil = Value{Tag: TNil}

func NewBool(b bool) Value      { return Value{Tag: TBool, B: b} }
func NewNumber(n float64) Value { return Value{Tag: TNumber, N: n} }

// NewObject wraps a heap object. A nil object yields Nil so that
// optional references collapse to the absent value.
func NewObject(o Object) Value {
	if o == nil {
		return Nil
	}
	return Value{Tag: TObject, Obj: o}
}

func (v Value) IsNil() bool    { return v.Tag == TNil }
func (v Value) IsBool() bool   { return v.Tag == TBool }
func (v Value) IsNumber() bool { return v.Tag == TNumber }
func (v Value) IsObject() bool { return v.Tag == TObject }

// IsNaN reports whether the value is a floating point NaN. NaN is not
// equal to itself, so it can never be located again as a table key and
// is rejected on insert.
func (v Value) IsNaN() bool { return v.Tag == TNumber && math.IsNaN(v.N) }

// Truthy follows the usual dynamic-language rule: nil and false are
// falsy, everything else is truthy.
func (v Value) Truthy() bool {
	switch v.Tag {
	case TNil:
		return false
	case TBool:
		return v.B
	default:
		return true
	}
}

// Equal compares two values. Scalars compare by content, objects by
// identity.
func (v Value) Equal(w Value) bool { return v == w }

func (v Value) String() string {
	switch v.Tag {
	case TNil:
		return "nil"
	case TBool:
		return fmt.Sprintf("%t", v.B)
	case TNumber:
		return fmt.Sprintf("%g", v.N)
	case TObject:
		if s, ok := v.Obj.(*String); ok {
			return fmt.Sprintf("%q", s.Val)
		}
		return fmt.Sprintf("%s@%p", v.Obj.GCHeader().Kind(), v.Obj)
	default:
		return "?"
	}
}
