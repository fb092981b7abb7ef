package value

import (
	"errors"
	"math"
	"testing"

	"github.com/danmuck/webext/internal/testutil/testlog"
)

func keysOf(t *Table) []Value {
	out := make([]Value, 0, t.Len())
	t.Range(func(k, _ Value) bool {
		out = append(out, k)
		return true
	})
	return out
}

func TestTableSetReplacesInPlace(t *testing.T) {
	testlog.Start(t)

	tbl := &Table{}
	for _, k := range []string{"a", "b", "c"} {
		if err := tbl.Set(String(k), String(k)); err != nil {
			t.Fatalf("set %s: %v", k, err)
		}
	}
	if err := tbl.Set(String("a"), Number(9)); err != nil {
		t.Fatalf("replace: %v", err)
	}
	if tbl.Len() != 3 {
		t.Fatalf("expected 3 pairs, got %d", tbl.Len())
	}
	keys := keysOf(tbl)
	if keys[0] != String("a") || keys[2] != String("c") {
		t.Fatalf("insertion order changed: %v", keys)
	}
	v, ok := tbl.Field("a")
	if !ok || v != Number(9) {
		t.Fatalf("expected replaced value, got=%v ok=%v", v, ok)
	}
}

func TestTableNilValueDeletes(t *testing.T) {
	testlog.Start(t)

	tbl := List(String("a"), String("b"), String("c"))
	if err := tbl.Set(Number(2), Nil{}); err != nil {
		t.Fatalf("set nil: %v", err)
	}
	if _, ok := tbl.Get(Number(2)); ok {
		t.Fatalf("expected key 2 removed")
	}
	if tbl.Len() != 2 {
		t.Fatalf("expected 2 pairs, got %d", tbl.Len())
	}
	if tbl.Delete(Number(2)) {
		t.Fatalf("second delete should report absent")
	}
}

func TestTableCompactKeepsOrder(t *testing.T) {
	testlog.Start(t)

	tbl := &Table{}
	for i := 1; i <= 64; i++ {
		_ = tbl.Set(Number(float64(i)), Number(float64(i*10)))
	}
	for i := 1; i <= 64; i++ {
		if i%4 != 0 {
			tbl.Delete(Number(float64(i)))
		}
	}
	if tbl.Len() != 16 {
		t.Fatalf("expected 16 live pairs, got %d", tbl.Len())
	}
	prev := 0.0
	tbl.Range(func(k, v Value) bool {
		n := float64(k.(Number))
		if n <= prev {
			t.Fatalf("order broken at %v after %v", n, prev)
		}
		if v != Number(n*10) {
			t.Fatalf("value mismatch for %v: %v", n, v)
		}
		prev = n
		return true
	})
	if v, ok := tbl.Get(Number(64)); !ok || v != Number(640) {
		t.Fatalf("lookup after compact failed: %v %v", v, ok)
	}
}

func TestTableKeyRules(t *testing.T) {
	testlog.Start(t)

	tbl := &Table{}
	if err := tbl.Set(Nil{}, Bool(true)); !errors.Is(err, ErrInvalidKey) {
		t.Fatalf("nil key: expected ErrInvalidKey, got %v", err)
	}
	if err := tbl.Set(nil, Bool(true)); !errors.Is(err, ErrInvalidKey) {
		t.Fatalf("nil interface key: expected ErrInvalidKey, got %v", err)
	}
	if err := tbl.Set(Number(math.NaN()), Bool(true)); !errors.Is(err, ErrInvalidKey) {
		t.Fatalf("NaN key: expected ErrInvalidKey, got %v", err)
	}

	_ = tbl.Set(Number(math.Copysign(0, -1)), String("neg"))
	if v, ok := tbl.Get(Number(0)); !ok || v != String("neg") {
		t.Fatalf("-0 and +0 must share a slot, got %v %v", v, ok)
	}

	_ = tbl.Set(Number(1), String("number"))
	_ = tbl.Set(Bool(true), String("bool"))
	_ = tbl.Set(String("1"), String("string"))
	_ = tbl.Set(Handle(1), String("handle"))
	if tbl.Len() != 5 {
		t.Fatalf("distinct kinds must not collide, len=%d", tbl.Len())
	}

	a, b := List(Number(1)), List(Number(1))
	_ = tbl.Set(a, String("a"))
	_ = tbl.Set(b, String("b"))
	if v, _ := tbl.Get(a); v != String("a") {
		t.Fatalf("table keys compare by identity, got %v", v)
	}
}

func TestEqualIgnoresTableOrder(t *testing.T) {
	testlog.Start(t)

	a, _ := NewTable(Pair{Key: String("x"), Value: Number(1)}, Pair{Key: String("y"), Value: Number(2)})
	b, _ := NewTable(Pair{Key: String("y"), Value: Number(2)}, Pair{Key: String("x"), Value: Number(1)})
	if !Equal(a, b) {
		t.Fatalf("expected order-insensitive equality")
	}
	_ = b.Set(String("y"), Number(3))
	if Equal(a, b) {
		t.Fatalf("expected inequality after value change")
	}
	if !Equal(Number(math.NaN()), Number(math.NaN())) {
		t.Fatalf("NaN should equal NaN structurally")
	}
	if Equal(Number(1), Bool(true)) {
		t.Fatalf("different kinds must not be equal")
	}
}
