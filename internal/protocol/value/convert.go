package value

import (
	"fmt"
	"reflect"
	"sort"
	"strconv"
)

// Valuer lets a native type opt in to serialization. Types that do not
// implement it are rejected unless they map onto a primitive kind.
type Valuer interface {
	ToValue() (Value, error)
}

// FromGo converts a native Go value into a Value.
//
// Mapping: nil and nil pointers -> Nil; bool -> Bool; every integer and float
// type -> Number; string and []byte -> String; maps -> Table; slices and
// arrays -> sequence Table with 1-based keys; pointers are followed.
// Functions, channels, unsafe pointers, complex numbers and structs that do
// not implement Valuer fail with an *EncodeError.
func FromGo(x any) (Value, error) {
	return fromGo(x, 0)
}

// MustFromGo is FromGo for literals in tests and fixed tables.
func MustFromGo(x any) Value {
	v, err := FromGo(x)
	if err != nil {
		panic(err)
	}
	return v
}

func fromGo(x any, depth int) (Value, error) {
	switch tx := x.(type) {
	case nil:
		return Nil{}, nil
	case Value:
		return tx, nil
	case Valuer:
		v, err := tx.ToValue()
		if err != nil {
			return nil, &EncodeError{Path: "$", Type: fmt.Sprintf("%T", x), Err: err}
		}
		if v == nil {
			return Nil{}, nil
		}
		return v, nil
	case bool:
		return Bool(tx), nil
	case string:
		return String(tx), nil
	case []byte:
		return String(tx), nil
	case float64:
		return Number(tx), nil
	case int:
		return Number(tx), nil
	}
	return fromReflect(reflect.ValueOf(x), depth)
}

func fromReflect(rv reflect.Value, depth int) (Value, error) {
	if depth >= MaxDepth {
		return nil, encodeErr(rv.Type().String(), ErrMaxDepthExceeded)
	}
	switch rv.Kind() {
	case reflect.Bool:
		return Bool(rv.Bool()), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return Number(rv.Int()), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return Number(rv.Uint()), nil
	case reflect.Float32, reflect.Float64:
		return Number(rv.Float()), nil
	case reflect.String:
		return String(rv.String()), nil
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return Nil{}, nil
		}
		return fromGo(rv.Elem().Interface(), depth+1)
	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice && rv.Type().Elem().Kind() == reflect.Uint8 {
			return String(rv.Bytes()), nil
		}
		t := &Table{}
		for i := 0; i < rv.Len(); i++ {
			v, err := fromGo(rv.Index(i).Interface(), depth+1)
			if err != nil {
				return nil, nested(err, "["+strconv.Itoa(i+1)+"]")
			}
			_ = t.Set(Number(i+1), v)
		}
		return t, nil
	case reflect.Map:
		t := &Table{}
		iter := rv.MapRange()
		for iter.Next() {
			k, err := fromGo(iter.Key().Interface(), depth+1)
			if err != nil {
				return nil, err
			}
			v, err := fromGo(iter.Value().Interface(), depth+1)
			if err != nil {
				return nil, nested(err, pathSegment(k))
			}
			if err := t.Set(k, v); err != nil {
				return nil, encodeErr(KindOf(k).String()+" key", err).within(pathSegment(k))
			}
		}
		return t, nil
	default:
		return nil, encodeErr(rv.Type().String(), ErrUnsupportedType)
	}
}

func nested(err error, segment string) error {
	if ee, ok := err.(*EncodeError); ok {
		return ee.within(segment)
	}
	return err
}

// ToGo converts v into plain Go values: Nil -> nil, Bool -> bool, Number ->
// float64, String -> string, Handle -> Handle, Table -> map[any]any. Table
// keys that are themselves tables stay *Table so the map key is hashable.
func ToGo(v Value) any {
	switch tv := v.(type) {
	case nil, Nil:
		return nil
	case Bool:
		return bool(tv)
	case Number:
		return float64(tv)
	case String:
		return string(tv)
	case Handle:
		return tv
	case *Table:
		out := make(map[any]any, tv.Len())
		tv.Range(func(k, val Value) bool {
			var key any = k
			if k.Kind() != KindTable {
				key = ToGo(k)
			}
			out[key] = ToGo(val)
			return true
		})
		return out
	default:
		return nil
	}
}

// Keys returns the string keys of t in sorted order. Non-string keys are
// skipped.
func Keys(t *Table) []string {
	keys := make([]string, 0, t.Len())
	t.Range(func(k, _ Value) bool {
		if s, ok := k.(String); ok {
			keys = append(keys, string(s))
		}
		return true
	})
	sort.Strings(keys)
	return keys
}
