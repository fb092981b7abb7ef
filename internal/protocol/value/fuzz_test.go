package value

import "testing"

// FuzzDecode checks arbitrary input never panics and that anything accepted
// re-encodes to an equal value.
func FuzzDecode(f *testing.F) {
	f.Add([]byte{0x05, 0xFF})
	f.Add([]byte{0x01, 0x01})
	f.Add([]byte{0x07})
	if b, err := Encode(Record(map[string]Value{"x": Number(1), "y": Bool(true)})); err == nil {
		f.Add(b)
	}
	if b, err := EncodeRange(String("ch"), List(Handle(3), Nil{})); err == nil {
		f.Add(b)
	}

	f.Fuzz(func(t *testing.T, data []byte) {
		v, n, err := Decode(data)
		if err != nil {
			return
		}
		if n > len(data) {
			t.Fatalf("consumed %d past input of %d", n, len(data))
		}
		b, err := Encode(v)
		if err != nil {
			t.Fatalf("re-encode accepted value: %v", err)
		}
		again, _, err := Decode(b)
		if err != nil {
			t.Fatalf("decode re-encoded value: %v", err)
		}
		if !Equal(v, again) {
			t.Fatalf("re-encoded value differs")
		}
	})
}

func FuzzDecodeRange(f *testing.F) {
	f.Add([]byte{})
	f.Add([]byte{0x00, 0x00, 0x05, 0xFF})

	f.Fuzz(func(t *testing.T, data []byte) {
		_, _ = DecodeRange(data)
	})
}
