package endpoint

import (
	"github.com/danmuck/webext/internal/protocol/frame"
	"github.com/rs/zerolog"
)

const defaultReadChunk = 64 * 1024

// Observer receives per-frame accounting. Implementations must be safe for
// concurrent use.
type Observer interface {
	FrameIn(kind frame.Kind, bytes int)
	FrameOut(kind frame.Kind, bytes int)
	Disconnected(class string)
}

type nopObserver struct{}

func (nopObserver) FrameIn(frame.Kind, int)  {}
func (nopObserver) FrameOut(frame.Kind, int) {}
func (nopObserver) Disconnected(string)      {}

type Option func(*Endpoint)

func WithLimits(l frame.Limits) Option {
	return func(e *Endpoint) { e.limits = l }
}

func WithLogger(l zerolog.Logger) Option {
	return func(e *Endpoint) { e.log = l }
}

func WithObserver(o Observer) Option {
	return func(e *Endpoint) {
		if o != nil {
			e.obs = o
		}
	}
}

// WithReadChunk sets the size of one Pump read.
func WithReadChunk(n int) Option {
	return func(e *Endpoint) {
		if n > 0 {
			e.readChunk = n
		}
	}
}
