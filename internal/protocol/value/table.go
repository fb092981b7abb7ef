package value

import "math"

// Pair is one key/value entry of a table.
type Pair struct {
	Key   Value
	Value Value
}

// Table is an insertion-ordered associative table with unique keys. Setting
// an existing key replaces its value in place; setting a key to Nil removes
// it. The zero value is an empty table; a nil *Table reads as empty.
type Table struct {
	pairs []Pair
	index map[tableKey]int
	live  int
}

// tableKey is the comparable identity of a key. Tables are keyed by pointer,
// everything else by value.
type tableKey struct {
	kind Kind
	num  float64
	bits uint64
	str  string
	tbl  *Table
}

func (*Table) Kind() Kind { return KindTable }
func (*Table) isValue()   {}

// NewTable builds a table from pairs applying Set semantics in order.
func NewTable(pairs ...Pair) (*Table, error) {
	t := &Table{}
	for _, p := range pairs {
		if err := t.Set(p.Key, p.Value); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// Record builds a table from string keys. It never fails because string keys
// are always valid.
func Record(fields map[string]Value) *Table {
	t := &Table{}
	for k, v := range fields {
		_ = t.Set(String(k), v)
	}
	return t
}

// List builds a sequence table with 1-based Number keys.
func List(items ...Value) *Table {
	t := &Table{}
	for i, v := range items {
		_ = t.Set(Number(i+1), v)
	}
	return t
}

func keyOf(k Value) (tableKey, error) {
	switch kv := k.(type) {
	case nil, Nil:
		return tableKey{}, ErrInvalidKey
	case Bool:
		n := 0.0
		if kv {
			n = 1
		}
		return tableKey{kind: KindBool, num: n}, nil
	case Number:
		f := float64(kv)
		if math.IsNaN(f) {
			return tableKey{}, ErrInvalidKey
		}
		if f == 0 {
			f = 0 // fold -0 into +0
		}
		return tableKey{kind: KindNumber, num: f}, nil
	case String:
		return tableKey{kind: KindString, str: string(kv)}, nil
	case Handle:
		return tableKey{kind: KindHandle, bits: uint64(kv)}, nil
	case *Table:
		if kv == nil {
			return tableKey{}, ErrInvalidKey
		}
		return tableKey{kind: KindTable, tbl: kv}, nil
	default:
		return tableKey{}, ErrUnsupportedType
	}
}

// Len returns the number of live pairs.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return t.live
}

// Get returns the value stored under k.
func (t *Table) Get(k Value) (Value, bool) {
	if t == nil || t.index == nil {
		return nil, false
	}
	key, err := keyOf(k)
	if err != nil {
		return nil, false
	}
	i, ok := t.index[key]
	if !ok {
		return nil, false
	}
	return t.pairs[i].Value, true
}

// Field is Get with a string key.
func (t *Table) Field(name string) (Value, bool) {
	return t.Get(String(name))
}

// Set stores v under k. A Nil value deletes k. Nil and NaN keys are rejected
// with ErrInvalidKey.
func (t *Table) Set(k, v Value) error {
	key, err := keyOf(k)
	if err != nil {
		return err
	}
	if v == nil || v.Kind() == KindNil {
		t.delete(key)
		return nil
	}
	if t.index == nil {
		t.index = make(map[tableKey]int)
	}
	if i, ok := t.index[key]; ok {
		t.pairs[i].Value = v
		return nil
	}
	t.index[key] = len(t.pairs)
	t.pairs = append(t.pairs, Pair{Key: k, Value: v})
	t.live++
	return nil
}

// Delete removes k and reports whether it was present.
func (t *Table) Delete(k Value) bool {
	key, err := keyOf(k)
	if err != nil {
		return false
	}
	return t.delete(key)
}

func (t *Table) delete(key tableKey) bool {
	if t.index == nil {
		return false
	}
	i, ok := t.index[key]
	if !ok {
		return false
	}
	delete(t.index, key)
	t.pairs[i] = Pair{}
	t.live--
	if len(t.pairs)-t.live > t.live {
		t.compact()
	}
	return true
}

func (t *Table) compact() {
	out := t.pairs[:0]
	for _, p := range t.pairs {
		if p.Key == nil {
			continue
		}
		out = append(out, p)
	}
	for i := len(out); i < len(t.pairs); i++ {
		t.pairs[i] = Pair{}
	}
	t.pairs = out
	for i, p := range t.pairs {
		key, _ := keyOf(p.Key)
		t.index[key] = i
	}
}

// Range calls fn for each live pair in insertion order until fn returns false.
func (t *Table) Range(fn func(k, v Value) bool) {
	if t == nil {
		return
	}
	for _, p := range t.pairs {
		if p.Key == nil {
			continue
		}
		if !fn(p.Key, p.Value) {
			return
		}
	}
}

// Pairs returns a copy of the live pairs in insertion order.
func (t *Table) Pairs() []Pair {
	out := make([]Pair, 0, t.Len())
	t.Range(func(k, v Value) bool {
		out = append(out, Pair{Key: k, Value: v})
		return true
	})
	return out
}
