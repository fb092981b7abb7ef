package value

import "math"

// Equal reports structural equality. Tables are equal when they hold the same
// keys with equal values, in any order. Table-valued keys match structurally.
func Equal(a, b Value) bool {
	ka, kb := KindOf(a), KindOf(b)
	if ka != kb {
		return false
	}
	switch ka {
	case KindNil:
		return true
	case KindBool:
		return a.(Bool) == b.(Bool)
	case KindNumber:
		x, y := float64(a.(Number)), float64(b.(Number))
		return x == y || (math.IsNaN(x) && math.IsNaN(y))
	case KindString:
		return a.(String) == b.(String)
	case KindHandle:
		return a.(Handle) == b.(Handle)
	case KindTable:
		return tablesEqual(a.(*Table), b.(*Table))
	default:
		return false
	}
}

func tablesEqual(a, b *Table) bool {
	if a == b {
		return true
	}
	if a.Len() != b.Len() {
		return false
	}
	equal := true
	a.Range(func(k, v Value) bool {
		if k.Kind() == KindTable {
			equal = hasStructuralPair(b, k, v)
			return equal
		}
		other, ok := b.Get(k)
		equal = ok && Equal(v, other)
		return equal
	})
	return equal
}

func hasStructuralPair(t *Table, k, v Value) bool {
	found := false
	t.Range(func(ok, ov Value) bool {
		if Equal(k, ok) && Equal(v, ov) {
			found = true
			return false
		}
		return true
	})
	return found
}
