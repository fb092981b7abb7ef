package endpoint

import (
	"errors"
	"fmt"

	"github.com/danmuck/webext/internal/protocol/value"
)

var (
	ErrClosed = errors.New("endpoint: closed")
	// ErrFrame marks an unparseable frame, an undecodable payload or a
	// protocol violation. Fatal to the connection.
	ErrFrame = errors.New("endpoint: frame error")
	// ErrTransport marks a failed read or write on the stream. Fatal to the
	// connection.
	ErrTransport = errors.New("endpoint: transport error")
	// ErrEncode is returned by Send for values that cannot be serialized.
	// Nothing is queued and the endpoint stays usable.
	ErrEncode = value.ErrEncode
)

// Error is a fatal endpoint failure tagged with its class.
type Error struct {
	Class error
	Op    string
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%v: %s: %v", e.Class, e.Op, e.Err)
}

func (e *Error) Unwrap() []error {
	return []error{e.Class, e.Err}
}

func frameError(op string, err error) *Error {
	return &Error{Class: ErrFrame, Op: op, Err: err}
}

func transportError(op string, err error) *Error {
	return &Error{Class: ErrTransport, Op: op, Err: err}
}

// Class names the error class for logs and metric labels.
func Class(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, ErrFrame):
		return "frame"
	case errors.Is(err, ErrTransport):
		return "transport"
	case errors.Is(err, ErrEncode):
		return "encode"
	case errors.Is(err, ErrClosed):
		return "closed"
	default:
		return "other"
	}
}
