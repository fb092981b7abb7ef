package frame

import "testing"

// FuzzSplit checks arbitrary bytes never panic the splitter and that any
// accepted frame is consistent with its reported size.
func FuzzSplit(f *testing.F) {
	f.Add([]byte{})
	f.Add(EncodeHeader(Header{Kind: KindExtensionInit}))
	f.Add(append(EncodeHeader(Header{Kind: KindEvent, Length: 2}), 0x05, 0xFF))

	f.Fuzz(func(t *testing.T, data []byte) {
		m, n, err := Split(data, Limits{MaxPayloadBytes: 1 << 16})
		if err != nil || n == 0 {
			return
		}
		if n != HeaderLen+len(m.Payload) || n > len(data) {
			t.Fatalf("inconsistent split: n=%d payload=%d input=%d", n, len(m.Payload), len(data))
		}
		_, _ = m.Values()
	})
}
