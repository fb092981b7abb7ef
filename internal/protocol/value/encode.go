package value

import (
	"fmt"
	"math"
	"strconv"
)

// Encode serializes v into a new buffer.
func Encode(v Value) ([]byte, error) {
	return AppendEncode(nil, v)
}

// AppendEncode appends the serialization of v to dst. On error dst is
// returned unchanged, so a rejected value never leaves partial bytes behind.
func AppendEncode(dst []byte, v Value) ([]byte, error) {
	out, err := appendValue(dst, v, 0)
	if err != nil {
		return dst, err
	}
	return out, nil
}

// EncodeRange serializes vs back to back. Any failing element rejects the
// whole range.
func EncodeRange(vs ...Value) ([]byte, error) {
	var out []byte
	for i, v := range vs {
		next, err := appendValue(out, v, 0)
		if err != nil {
			if ee, ok := err.(*EncodeError); ok {
				return nil, ee.within("[" + strconv.Itoa(i) + "]")
			}
			return nil, err
		}
		out = next
	}
	return out, nil
}

func appendValue(dst []byte, v Value, depth int) ([]byte, error) {
	switch tv := v.(type) {
	case nil, Nil:
		return append(dst, KindNil.tag()), nil
	case Bool:
		b := byte(0)
		if tv {
			b = 1
		}
		return append(dst, KindBool.tag(), b), nil
	case Number:
		dst = append(dst, KindNumber.tag())
		return byteOrder.AppendUint64(dst, math.Float64bits(float64(tv))), nil
	case String:
		dst = append(dst, KindString.tag())
		dst = byteOrder.AppendUint64(dst, uint64(len(tv)))
		dst = append(dst, tv...)
		return append(dst, 0), nil
	case Handle:
		dst = append(dst, KindHandle.tag())
		return byteOrder.AppendUint64(dst, uint64(tv)), nil
	case *Table:
		return appendTable(dst, tv, depth)
	default:
		return dst, encodeErr(fmt.Sprintf("%T", v), ErrUnsupportedType)
	}
}

func appendTable(dst []byte, t *Table, depth int) ([]byte, error) {
	if depth >= MaxDepth {
		return dst, encodeErr("table", ErrMaxDepthExceeded)
	}
	dst = append(dst, KindTable.tag())
	var err error
	t.Range(func(k, v Value) bool {
		if dst, err = appendValue(dst, k, depth+1); err != nil {
			return false
		}
		if dst, err = appendValue(dst, v, depth+1); err != nil {
			if ee, ok := err.(*EncodeError); ok {
				err = ee.within(pathSegment(k))
			}
			return false
		}
		return true
	})
	if err != nil {
		return dst, err
	}
	return append(dst, KindNone.tag()), nil
}

func pathSegment(k Value) string {
	switch kv := k.(type) {
	case String:
		return "." + string(kv)
	case Number:
		return "[" + strconv.FormatFloat(float64(kv), 'g', -1, 64) + "]"
	default:
		return "[" + KindOf(k).String() + "]"
	}
}
