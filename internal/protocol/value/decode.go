package value

import "math"

// Decode reads one value from the front of b and reports how many bytes it
// consumed. It never reads past len(b).
func Decode(b []byte) (Value, int, error) {
	d := decoder{buf: b}
	v, err := d.top()
	if err != nil {
		return nil, 0, err
	}
	return v, d.pos, nil
}

// DecodeRange decodes values back to back until b is exhausted.
func DecodeRange(b []byte) ([]Value, error) {
	d := decoder{buf: b}
	out := make([]Value, 0, 4)
	for d.pos < len(d.buf) {
		v, err := d.top()
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

type decoder struct {
	buf   []byte
	pos   int
	depth int
}

func (d *decoder) fail(at int, err error) error {
	return &DecodeError{Offset: at, Err: err}
}

func (d *decoder) top() (Value, error) {
	start := d.pos
	v, end, err := d.next()
	if err != nil {
		return nil, err
	}
	if end {
		return nil, d.fail(start, ErrUnexpectedSentinel)
	}
	return v, nil
}

func (d *decoder) take(n int) ([]byte, error) {
	if n < 0 || len(d.buf)-d.pos < n {
		return nil, d.fail(d.pos, ErrTruncated)
	}
	b := d.buf[d.pos : d.pos+n]
	d.pos += n
	return b, nil
}

// next decodes one value or reports the table terminator.
func (d *decoder) next() (Value, bool, error) {
	start := d.pos
	tagByte, err := d.take(1)
	if err != nil {
		return nil, false, err
	}
	switch Kind(int8(tagByte[0])) {
	case KindNone:
		return nil, true, nil
	case KindNil:
		return Nil{}, false, nil
	case KindBool:
		b, err := d.take(1)
		if err != nil {
			return nil, false, err
		}
		switch b[0] {
		case 0:
			return Bool(false), false, nil
		case 1:
			return Bool(true), false, nil
		default:
			return nil, false, d.fail(d.pos-1, ErrInvalidBool)
		}
	case KindNumber:
		b, err := d.take(NumberSize)
		if err != nil {
			return nil, false, err
		}
		return Number(math.Float64frombits(byteOrder.Uint64(b))), false, nil
	case KindString:
		s, err := d.str()
		if err != nil {
			return nil, false, err
		}
		return s, false, nil
	case KindHandle:
		b, err := d.take(HandleSize)
		if err != nil {
			return nil, false, err
		}
		return Handle(byteOrder.Uint64(b)), false, nil
	case KindTable:
		t, err := d.table()
		if err != nil {
			return nil, false, err
		}
		return t, false, nil
	default:
		return nil, false, d.fail(start, ErrUnknownTag)
	}
}

func (d *decoder) str() (String, error) {
	lb, err := d.take(LengthSize)
	if err != nil {
		return "", err
	}
	n := byteOrder.Uint64(lb)
	// length plus the uncounted terminator must fit in what is left
	if n >= uint64(len(d.buf)-d.pos) {
		return "", d.fail(d.pos, ErrTruncated)
	}
	b, _ := d.take(int(n))
	term, _ := d.take(1)
	if term[0] != 0 {
		return "", d.fail(d.pos-1, ErrMissingTerminator)
	}
	return String(b), nil
}

func (d *decoder) table() (*Table, error) {
	if d.depth >= MaxDepth {
		return nil, d.fail(d.pos-1, ErrMaxDepthExceeded)
	}
	d.depth++
	defer func() { d.depth-- }()

	t := &Table{}
	for {
		keyAt := d.pos
		k, end, err := d.next()
		if err != nil {
			return nil, err
		}
		if end {
			return t, nil
		}
		valAt := d.pos
		v, end, err := d.next()
		if err != nil {
			return nil, err
		}
		if end {
			return nil, d.fail(valAt, ErrUnexpectedSentinel)
		}
		if err := t.Set(k, v); err != nil {
			return nil, d.fail(keyAt, err)
		}
	}
}
