package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/danmuck/webext/internal/protocol/value"
)

// HeaderLen is the fixed wire header: kind(1) + target(4) + length(4).
const HeaderLen = 9

var byteOrder = binary.NativeEndian

var (
	ErrShortHeader     = errors.New("frame: short header")
	ErrHeaderLength    = errors.New("frame: invalid header length")
	ErrPayloadTooLarge = errors.New("frame: payload too large")
	ErrUnknownKind     = errors.New("frame: unknown message kind")
)

// Header is the fixed wire header.
type Header struct {
	Kind   Kind
	Target uint32
	Length uint32
}

// Message is one complete wire message. Target 0 addresses nobody in
// particular.
type Message struct {
	Kind    Kind
	Target  uint32
	Payload []byte
}

// Limits constrains frame decode/encode memory use.
type Limits struct {
	MaxPayloadBytes uint32
}

func DefaultLimits() Limits {
	return Limits{MaxPayloadBytes: 16 * 1024 * 1024}
}

func (l Limits) check(h Header) error {
	if !h.Kind.Valid() {
		return fmt.Errorf("%w: %d", ErrUnknownKind, uint8(h.Kind))
	}
	if h.Length > l.MaxPayloadBytes {
		return fmt.Errorf("%w: %d > %d", ErrPayloadTooLarge, h.Length, l.MaxPayloadBytes)
	}
	return nil
}

// NewMessage encodes values as a back-to-back payload.
func NewMessage(kind Kind, target uint32, values ...value.Value) (Message, error) {
	payload, err := value.EncodeRange(values...)
	if err != nil {
		return Message{}, err
	}
	return Message{Kind: kind, Target: target, Payload: payload}, nil
}

// Values decodes the payload. Decoding is deferred until a handler asks.
func (m Message) Values() ([]value.Value, error) {
	return value.DecodeRange(m.Payload)
}

func (m Message) header() Header {
	return Header{Kind: m.Kind, Target: m.Target, Length: uint32(len(m.Payload))}
}

// Append appends the framed message to dst. dst is returned unchanged on
// error.
func Append(dst []byte, m Message, limits Limits) ([]byte, error) {
	if uint64(len(m.Payload)) > math.MaxUint32 {
		return dst, ErrPayloadTooLarge
	}
	h := m.header()
	if err := limits.check(h); err != nil {
		return dst, err
	}
	dst = appendHeader(dst, h)
	return append(dst, m.Payload...), nil
}

// Split extracts one message from the front of buf. It returns n == 0 with a
// nil error when buf does not yet hold a complete frame. The returned payload
// does not alias buf.
func Split(buf []byte, limits Limits) (Message, int, error) {
	if len(buf) < HeaderLen {
		return Message{}, 0, nil
	}
	h, err := DecodeHeader(buf[:HeaderLen])
	if err != nil {
		return Message{}, 0, err
	}
	if err := limits.check(h); err != nil {
		return Message{}, 0, err
	}
	total := HeaderLen + int(h.Length)
	if len(buf) < total {
		return Message{}, 0, nil
	}
	payload := make([]byte, h.Length)
	copy(payload, buf[HeaderLen:total])
	return Message{Kind: h.Kind, Target: h.Target, Payload: payload}, total, nil
}

func ReadMessage(r io.Reader, limits Limits) (Message, error) {
	var fixed [HeaderLen]byte
	if _, err := io.ReadFull(r, fixed[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return Message{}, ErrShortHeader
		}
		return Message{}, err
	}

	h, err := DecodeHeader(fixed[:])
	if err != nil {
		return Message{}, err
	}
	if err := limits.check(h); err != nil {
		return Message{}, err
	}

	payload := make([]byte, h.Length)
	if h.Length > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			if errors.Is(err, io.EOF) {
				return Message{}, io.ErrUnexpectedEOF
			}
			return Message{}, err
		}
	}
	return Message{Kind: h.Kind, Target: h.Target, Payload: payload}, nil
}

func WriteMessage(w io.Writer, m Message, limits Limits) error {
	buf, err := Append(make([]byte, 0, HeaderLen+len(m.Payload)), m, limits)
	if err != nil {
		return err
	}
	_, err = w.Write(buf)
	return err
}

func EncodeHeader(h Header) []byte {
	return appendHeader(make([]byte, 0, HeaderLen), h)
}

func appendHeader(dst []byte, h Header) []byte {
	dst = append(dst, byte(h.Kind))
	dst = byteOrder.AppendUint32(dst, h.Target)
	return byteOrder.AppendUint32(dst, h.Length)
}

func DecodeHeader(b []byte) (Header, error) {
	if len(b) != HeaderLen {
		return Header{}, fmt.Errorf("%w: %d", ErrHeaderLength, len(b))
	}
	return Header{
		Kind:   Kind(b[0]),
		Target: byteOrder.Uint32(b[1:5]),
		Length: byteOrder.Uint32(b[5:9]),
	}, nil
}
