package endpoint

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"

	"github.com/danmuck/webext/internal/logging"
	"github.com/danmuck/webext/internal/protocol/frame"
	"github.com/danmuck/webext/internal/protocol/value"
	"github.com/rs/zerolog"
)

// Handler receives one reassembled message. The payload is owned by the
// handler. A non-nil return tears the connection down as a frame error.
type Handler func(m frame.Message) error

// Stats are cumulative counters for one endpoint.
type Stats struct {
	FramesIn  uint64
	FramesOut uint64
	BytesIn   uint64
	BytesOut  uint64
	Queued    int
}

type outgoing struct {
	kind frame.Kind
	buf  []byte
}

// Endpoint is one framed duplex connection. Send may be called from any
// goroutine. Feed and Pump are serialized internally, as is Flush.
type Endpoint struct {
	name      string
	stream    io.ReadWriteCloser
	limits    frame.Limits
	readChunk int
	log       zerolog.Logger
	obs       Observer

	readMu  sync.Mutex
	readBuf []byte
	chunk   []byte

	writeMu sync.Mutex

	mu           sync.Mutex
	queue        []outgoing
	kindHandlers map[frame.Kind][]Handler
	targets      map[uint32][]Handler
	anyHandlers  []Handler
	onDisconnect []func(error)
	closed       bool
	err          error

	wake chan struct{}
	done chan struct{}

	framesIn, framesOut atomic.Uint64
	bytesIn, bytesOut   atomic.Uint64
}

func New(name string, stream io.ReadWriteCloser, opts ...Option) *Endpoint {
	e := &Endpoint{
		name:         name,
		stream:       stream,
		limits:       frame.DefaultLimits(),
		readChunk:    defaultReadChunk,
		log:          logging.For("endpoint"),
		obs:          nopObserver{},
		kindHandlers: make(map[frame.Kind][]Handler),
		targets:      make(map[uint32][]Handler),
		wake:         make(chan struct{}, 1),
		done:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.log = e.log.With().Str("endpoint", name).Logger()
	return e
}

func (e *Endpoint) Name() string { return e.name }

// Done is closed once the endpoint is torn down.
func (e *Endpoint) Done() <-chan struct{} { return e.done }

func (e *Endpoint) Closed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

// Err returns the fatal error that closed the endpoint, or nil after an
// orderly close.
func (e *Endpoint) Err() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.err
}

func (e *Endpoint) Stats() Stats {
	e.mu.Lock()
	queued := len(e.queue)
	e.mu.Unlock()
	return Stats{
		FramesIn:  e.framesIn.Load(),
		FramesOut: e.framesOut.Load(),
		BytesIn:   e.bytesIn.Load(),
		BytesOut:  e.bytesOut.Load(),
		Queued:    queued,
	}
}

func (e *Endpoint) OnMessage(kind frame.Kind, h Handler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.kindHandlers[kind] = append(e.kindHandlers[kind], h)
}

// OnTarget registers h for messages addressed to target. Target handlers run
// before kind handlers.
func (e *Endpoint) OnTarget(target uint32, h Handler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.targets[target] = append(e.targets[target], h)
}

// OnAny registers h for every message, after target and kind handlers.
func (e *Endpoint) OnAny(h Handler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.anyHandlers = append(e.anyHandlers, h)
}

// OnDisconnect registers fn to run once at teardown with the fatal error, or
// nil for an orderly close. Registering after teardown runs fn immediately.
func (e *Endpoint) OnDisconnect(fn func(error)) {
	e.mu.Lock()
	if e.closed {
		err := e.err
		e.mu.Unlock()
		fn(err)
		return
	}
	e.onDisconnect = append(e.onDisconnect, fn)
	e.mu.Unlock()
}

// Send converts values, encodes and queues one message. It returns once the
// frame is queued. Values that cannot be serialized reject the whole message
// with an error matching ErrEncode and nothing is queued.
func (e *Endpoint) Send(target uint32, kind frame.Kind, values ...any) error {
	if e.Closed() {
		return ErrClosed
	}
	vals := make([]value.Value, len(values))
	for i, x := range values {
		v, err := value.FromGo(x)
		if err != nil {
			e.log.Debug().Err(err).Stringer("kind", kind).Int("arg", i).Msg("send rejected")
			return err
		}
		vals[i] = v
	}
	m, err := frame.NewMessage(kind, target, vals...)
	if err != nil {
		return err
	}
	return e.SendMessage(m)
}

// SendMessage queues a message whose payload is already encoded.
func (e *Endpoint) SendMessage(m frame.Message) error {
	buf, err := frame.Append(make([]byte, 0, frame.HeaderLen+len(m.Payload)), m, e.limits)
	if err != nil {
		return err
	}
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}
	e.queue = append(e.queue, outgoing{kind: m.Kind, buf: buf})
	e.mu.Unlock()

	select {
	case e.wake <- struct{}{}:
	default:
	}
	return nil
}

// Flush writes every queued frame in FIFO order. A write error tears the
// endpoint down.
func (e *Endpoint) Flush() error {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()
	for {
		e.mu.Lock()
		if e.closed {
			e.mu.Unlock()
			return ErrClosed
		}
		batch := e.queue
		e.queue = nil
		e.mu.Unlock()
		if len(batch) == 0 {
			return nil
		}
		for _, out := range batch {
			if _, err := e.stream.Write(out.buf); err != nil {
				return e.fail(transportError("write", err))
			}
			e.framesOut.Add(1)
			e.bytesOut.Add(uint64(len(out.buf)))
			e.obs.FrameOut(out.kind, len(out.buf))
		}
	}
}

// Feed appends p to the read buffer and dispatches every complete frame
// before returning. A trailing partial frame stays buffered.
func (e *Endpoint) Feed(p []byte) error {
	e.readMu.Lock()
	defer e.readMu.Unlock()
	return e.feedLocked(p)
}

func (e *Endpoint) feedLocked(p []byte) error {
	if e.Closed() {
		e.readBuf = nil
		return ErrClosed
	}
	e.readBuf = append(e.readBuf, p...)
	off := 0
	for {
		m, n, err := frame.Split(e.readBuf[off:], e.limits)
		if err != nil {
			e.readBuf = nil
			return e.fail(frameError("split", err))
		}
		if n == 0 {
			break
		}
		off += n
		e.framesIn.Add(1)
		e.bytesIn.Add(uint64(n))
		e.obs.FrameIn(m.Kind, n)
		if err := e.dispatch(m); err != nil {
			e.readBuf = nil
			return err
		}
	}
	rest := copy(e.readBuf, e.readBuf[off:])
	e.readBuf = e.readBuf[:rest]
	return nil
}

// Pump performs one blocking read and feeds the result. It returns io.EOF
// after the peer closed the stream cleanly.
func (e *Endpoint) Pump() error {
	e.readMu.Lock()
	defer e.readMu.Unlock()
	if e.chunk == nil {
		e.chunk = make([]byte, e.readChunk)
	}
	n, rerr := e.stream.Read(e.chunk)
	if n > 0 {
		if err := e.feedLocked(e.chunk[:n]); err != nil {
			return err
		}
	}
	if rerr == nil {
		return nil
	}
	e.chunk = nil
	switch {
	case e.Closed():
		e.readBuf = nil
		return ErrClosed
	case errors.Is(rerr, io.EOF) && len(e.readBuf) == 0:
		e.teardown(nil)
		return io.EOF
	case errors.Is(rerr, io.EOF):
		e.readBuf = nil
		return e.fail(frameError("read", io.ErrUnexpectedEOF))
	default:
		e.readBuf = nil
		return e.fail(transportError("read", rerr))
	}
}

func (e *Endpoint) dispatch(m frame.Message) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}
	var hs []Handler
	hs = append(hs, e.targets[m.Target]...)
	hs = append(hs, e.kindHandlers[m.Kind]...)
	hs = append(hs, e.anyHandlers...)
	e.mu.Unlock()

	if len(hs) == 0 {
		e.log.Debug().Stringer("kind", m.Kind).Uint32("target", m.Target).Msg("unhandled message")
		return nil
	}
	for _, h := range hs {
		if err := h(m); err != nil {
			var epErr *Error
			if errors.As(err, &epErr) {
				return e.fail(epErr)
			}
			return e.fail(frameError("dispatch "+m.Kind.String(), err))
		}
		if e.Closed() {
			return ErrClosed
		}
	}
	return nil
}

// Run drives the endpoint until teardown: a reader loop pumping the stream
// and a writer loop flushing whenever Send queues. It returns the fatal
// error, or nil after an orderly close, peer EOF or ctx cancellation.
func (e *Endpoint) Run(ctx context.Context) error {
	go func() {
		select {
		case <-ctx.Done():
			_ = e.Close()
		case <-e.done:
		}
	}()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)

		e.writeLoop()
	}()

	for {
		if err := e.Pump(); err != nil {
			break
		}
	}
	<-writerDone
	return e.Err()
}

func (e *Endpoint) writeLoop() {
	for {
		select {
		case <-e.done:
			return
		case <-e.wake:
			if err := e.Flush(); err != nil {
				return
			}
		}
	}
}

// Close tears the endpoint down without error. Frames still queued are
// discarded. Close is idempotent.
func (e *Endpoint) Close() error {
	e.teardown(nil)
	return nil
}

// Fail tears the endpoint down with err and returns the recorded error.
func (e *Endpoint) Fail(err error) error {
	var epErr *Error
	if !errors.As(err, &epErr) {
		epErr = frameError("protocol", err)
	}
	return e.fail(epErr)
}

func (e *Endpoint) fail(err *Error) error {
	if got := e.teardown(err); got != nil {
		return got
	}
	return ErrClosed
}

// teardown closes the stream once and fires disconnect callbacks once. It
// returns the error recorded by whichever call won.
func (e *Endpoint) teardown(cause error) error {
	e.mu.Lock()
	if e.closed {
		err := e.err
		e.mu.Unlock()
		return err
	}
	e.closed = true
	e.err = cause
	e.queue = nil
	callbacks := e.onDisconnect
	e.onDisconnect = nil
	close(e.done)
	e.mu.Unlock()

	if err := e.stream.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		e.log.Debug().Err(err).Msg("stream close")
	}
	e.obs.Disconnected(Class(cause))
	if cause != nil {
		e.log.Warn().Err(cause).Str("class", Class(cause)).Msg("endpoint failed")
	} else {
		e.log.Debug().Msg("endpoint closed")
	}
	for _, fn := range callbacks {
		fn(cause)
	}
	return cause
}
