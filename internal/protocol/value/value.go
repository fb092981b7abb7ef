package value

import (
	"encoding/binary"
	"strconv"
)

// Kind is the wire type tag of a value. Tags match the scripting runtime's
// own type ids so both sides agree without a translation table.
type Kind int8

const (
	KindNone   Kind = -1 // table terminator, never a value
	KindNil    Kind = 0
	KindBool   Kind = 1
	KindHandle Kind = 2
	KindNumber Kind = 3
	KindString Kind = 4
	KindTable  Kind = 5
)

// Fixed widths of the native fields.
const (
	NumberSize = 8
	LengthSize = 8
	HandleSize = 8
)

// MaxDepth bounds table nesting on both encode and decode.
const MaxDepth = 256

// byteOrder is the host order. Both endpoints come from the same build on the
// same machine; see DESIGN.md before changing it.
var byteOrder = binary.NativeEndian

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindNil:
		return "nil"
	case KindBool:
		return "boolean"
	case KindHandle:
		return "handle"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindTable:
		return "table"
	default:
		return "kind(" + strconv.Itoa(int(k)) + ")"
	}
}

func (k Kind) tag() byte {
	return byte(k)
}

// Value is one serializable dynamic value. The set of implementations is
// closed: Nil, Bool, Number, String, Handle and *Table.
type Value interface {
	Kind() Kind
	isValue()
}

type Nil struct{}

type Bool bool

type Number float64

// String holds arbitrary bytes; it is not required to be UTF-8.
type String string

// Handle is an opaque capability token minted by the producing process. The
// receiver must only pass it back, never interpret it.
type Handle uint64

func (Nil) Kind() Kind    { return KindNil }
func (Bool) Kind() Kind   { return KindBool }
func (Number) Kind() Kind { return KindNumber }
func (String) Kind() Kind { return KindString }
func (Handle) Kind() Kind { return KindHandle }

func (Nil) isValue()    {}
func (Bool) isValue()   {}
func (Number) isValue() {}
func (String) isValue() {}
func (Handle) isValue() {}

func (Nil) String() string { return "nil" }

func (h Handle) String() string {
	return "handle(0x" + strconv.FormatUint(uint64(h), 16) + ")"
}

// KindOf reports the kind of v, treating a nil interface as Nil.
func KindOf(v Value) Kind {
	if v == nil {
		return KindNil
	}
	return v.Kind()
}
