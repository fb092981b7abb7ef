package value

import (
	"errors"
	"testing"

	"github.com/danmuck/webext/internal/testutil/testlog"
)

type point struct{ x, y float64 }

func (p point) ToValue() (Value, error) {
	return Record(map[string]Value{"x": Number(p.x), "y": Number(p.y)}), nil
}

func TestFromGoMapsNativeValues(t *testing.T) {
	testlog.Start(t)

	v, err := FromGo(map[string]any{
		"name":  "tab",
		"id":    uint16(4),
		"ratio": float32(0.5),
		"tags":  []string{"a", "b"},
		"raw":   []byte("bytes"),
		"gone":  nil,
		"at":    point{1, 2},
		"ptr":   new(int),
	})
	if err != nil {
		t.Fatalf("from go: %v", err)
	}
	tbl, ok := v.(*Table)
	if !ok {
		t.Fatalf("expected table, got %T", v)
	}
	if _, ok := tbl.Field("gone"); ok {
		t.Fatalf("nil map value must not be stored")
	}
	if got, _ := tbl.Field("id"); got != Number(4) {
		t.Fatalf("id mismatch: %v", got)
	}
	if got, _ := tbl.Field("raw"); got != String("bytes") {
		t.Fatalf("raw mismatch: %v", got)
	}
	if got, _ := tbl.Field("ptr"); got != Number(0) {
		t.Fatalf("pointer should be followed: %v", got)
	}
	tags, _ := tbl.Field("tags")
	if second, _ := tags.(*Table).Get(Number(2)); second != String("b") {
		t.Fatalf("list must use 1-based keys, got %v", second)
	}
	at, _ := tbl.Field("at")
	if y, _ := at.(*Table).Field("y"); y != Number(2) {
		t.Fatalf("valuer not used: %v", y)
	}
	want := []string{"at", "id", "name", "ptr", "ratio", "raw", "tags"}
	got := Keys(tbl)
	if len(got) != len(want) {
		t.Fatalf("keys mismatch: got=%v want=%v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("keys mismatch: got=%v want=%v", got, want)
		}
	}
}

func TestFromGoRejectsUnserializable(t *testing.T) {
	testlog.Start(t)

	cases := []struct {
		name string
		in   any
		path string
	}{
		{name: "func", in: func() {}, path: "$"},
		{name: "nested func", in: map[string]any{"handler": func() {}}, path: "$.handler"},
		{name: "chan in list", in: []any{1, make(chan int)}, path: "$[2]"},
		{name: "complex", in: complex(1, 2), path: "$"},
		{name: "plain struct", in: struct{ A int }{1}, path: "$"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := FromGo(tc.in)
			if !errors.Is(err, ErrEncode) || !errors.Is(err, ErrUnsupportedType) {
				t.Fatalf("expected unsupported encode error, got %v", err)
			}
			var ee *EncodeError
			if !errors.As(err, &ee) {
				t.Fatalf("expected *EncodeError, got %T", err)
			}
			if ee.Path != tc.path {
				t.Fatalf("path mismatch: got=%q want=%q", ee.Path, tc.path)
			}
		})
	}
}

func TestToGoRoundTrip(t *testing.T) {
	testlog.Start(t)

	v := MustFromGo(map[string]any{"n": 1, "s": "x", "b": true, "l": []any{"a"}})
	out, ok := ToGo(v).(map[any]any)
	if !ok {
		t.Fatalf("expected map, got %T", ToGo(v))
	}
	if out["n"] != float64(1) || out["s"] != "x" || out["b"] != true {
		t.Fatalf("scalar mismatch: %#v", out)
	}
	l, ok := out["l"].(map[any]any)
	if !ok || l[float64(1)] != "a" {
		t.Fatalf("list mismatch: %#v", out["l"])
	}
	if ToGo(Nil{}) != nil {
		t.Fatalf("nil must map to nil")
	}
}
