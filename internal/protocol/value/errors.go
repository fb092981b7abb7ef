package value

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrEncode classifies every encode-side failure. The message is never
	// sent; the caller may recover.
	ErrEncode = errors.New("value: cannot encode")
	// ErrFrame classifies every decode-side failure. The input stream is
	// desynchronized and cannot be resumed.
	ErrFrame = errors.New("value: malformed input")

	ErrUnsupportedType    = errors.New("value: unsupported type")
	ErrInvalidKey         = errors.New("value: invalid table key")
	ErrMaxDepthExceeded   = errors.New("value: nesting too deep")
	ErrTruncated          = errors.New("value: truncated data")
	ErrUnknownTag         = errors.New("value: unknown type tag")
	ErrUnexpectedSentinel = errors.New("value: unexpected table terminator")
	ErrInvalidBool        = errors.New("value: invalid boolean byte")
	ErrMissingTerminator  = errors.New("value: string terminator missing")
)

// EncodeError reports a value that could not be serialized. Path locates it
// inside the argument, e.g. `$[2].handler`.
type EncodeError struct {
	Path string
	Type string
	Err  error
}

func (e *EncodeError) Error() string {
	if e.Type != "" {
		return fmt.Sprintf("value: cannot encode %s at %s: %v", e.Type, e.Path, e.Err)
	}
	return fmt.Sprintf("value: cannot encode at %s: %v", e.Path, e.Err)
}

func (e *EncodeError) Unwrap() []error {
	return []error{ErrEncode, e.Err}
}

func encodeErr(typ string, err error) *EncodeError {
	return &EncodeError{Path: "$", Type: typ, Err: err}
}

// within prefixes the path with a parent segment while unwinding.
func (e *EncodeError) within(segment string) *EncodeError {
	e.Path = "$" + segment + strings.TrimPrefix(e.Path, "$")
	return e
}

// DecodeError reports malformed input and the offset where it was found.
type DecodeError struct {
	Offset int
	Err    error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("value: decode at offset %d: %v", e.Offset, e.Err)
}

func (e *DecodeError) Unwrap() []error {
	return []error{ErrFrame, e.Err}
}
