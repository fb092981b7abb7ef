package endpoint

import (
	"bytes"
	"context"
	"errors"
	"io"
	"math/rand/v2"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/danmuck/webext/internal/protocol/frame"
	"github.com/danmuck/webext/internal/protocol/value"
	"github.com/danmuck/webext/internal/testutil/testlog"
)

// memStream reads from a fixed buffer and records writes.
type memStream struct {
	mu       sync.Mutex
	r        io.Reader
	w        bytes.Buffer
	writeErr error
	closes   atomic.Int32
}

func newMemStream(in []byte) *memStream {
	return &memStream{r: bytes.NewReader(in)}
}

func (s *memStream) Read(p []byte) (int, error) { return s.r.Read(p) }

func (s *memStream) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writeErr != nil {
		return 0, s.writeErr
	}
	return s.w.Write(p)
}

func (s *memStream) Close() error {
	s.closes.Add(1)
	return nil
}

func (s *memStream) written() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]byte(nil), s.w.Bytes()...)
}

func encodeFrames(t *testing.T, msgs ...frame.Message) []byte {
	t.Helper()
	var out []byte
	for _, m := range msgs {
		var err error
		out, err = frame.Append(out, m, frame.DefaultLimits())
		if err != nil {
			t.Fatalf("append frame: %v", err)
		}
	}
	return out
}

func channelMessage(t *testing.T, target uint32, name string) frame.Message {
	t.Helper()
	m, err := frame.NewMessage(frame.KindChannel, target, value.String(name))
	if err != nil {
		t.Fatalf("new message: %v", err)
	}
	return m
}

func firstString(t *testing.T, m frame.Message) string {
	t.Helper()
	vals, err := m.Values()
	if err != nil || len(vals) == 0 {
		t.Fatalf("values: %v %v", vals, err)
	}
	s, ok := vals[0].(value.String)
	if !ok {
		t.Fatalf("expected string, got %T", vals[0])
	}
	return string(s)
}

func TestFeedDeliversAllFramesFromOneRead(t *testing.T) {
	testlog.Start(t)

	ep := New("ui", newMemStream(nil))
	var got []string
	ep.OnMessage(frame.KindChannel, func(m frame.Message) error {
		got = append(got, firstString(t, m))
		return nil
	})
	in := encodeFrames(t,
		channelMessage(t, 0, "A"),
		channelMessage(t, 0, "B"),
		channelMessage(t, 0, "C"),
	)
	if err := ep.Feed(in); err != nil {
		t.Fatalf("feed: %v", err)
	}
	if len(got) != 3 || got[0] != "A" || got[1] != "B" || got[2] != "C" {
		t.Fatalf("expected A,B,C before Feed returned, got %v", got)
	}
	if st := ep.Stats(); st.FramesIn != 3 || st.BytesIn != uint64(len(in)) {
		t.Fatalf("stats mismatch: %+v", st)
	}
}

func TestFeedChunkSplitsAreIdempotent(t *testing.T) {
	testlog.Start(t)

	var msgs []frame.Message
	for i, name := range []string{"", "short", string(bytes.Repeat([]byte("x"), 5000)), "tail"} {
		msgs = append(msgs, channelMessage(t, uint32(i), name))
	}
	msgs = append(msgs, frame.Message{Kind: frame.KindExtensionInit})
	in := encodeFrames(t, msgs...)

	collect := func(chunks [][]byte) []frame.Message {
		ep := New("split", newMemStream(nil))
		var out []frame.Message
		ep.OnAny(func(m frame.Message) error {
			out = append(out, m)
			return nil
		})
		for _, c := range chunks {
			if err := ep.Feed(c); err != nil {
				t.Fatalf("feed: %v", err)
			}
		}
		return out
	}
	want := collect([][]byte{in})

	rng := rand.New(rand.NewPCG(3, 5))
	for trial := 0; trial < 50; trial++ {
		var chunks [][]byte
		for rest := in; len(rest) > 0; {
			n := 1 + rng.IntN(min(len(rest), 64))
			if trial%7 == 0 {
				n = 1
			}
			chunks = append(chunks, rest[:n])
			rest = rest[n:]
		}
		got := collect(chunks)
		if len(got) != len(want) {
			t.Fatalf("trial %d: got %d messages want %d", trial, len(got), len(want))
		}
		for i := range want {
			if got[i].Kind != want[i].Kind || got[i].Target != want[i].Target || !bytes.Equal(got[i].Payload, want[i].Payload) {
				t.Fatalf("trial %d message %d mismatch", trial, i)
			}
		}
	}
}

func TestSendEncodeErrorQueuesNothing(t *testing.T) {
	testlog.Start(t)

	stream := newMemStream(nil)
	ep := New("worker", stream)
	err := ep.Send(0, frame.KindEvent, "ok", map[string]any{"cb": func() {}})
	if !errors.Is(err, ErrEncode) {
		t.Fatalf("expected ErrEncode, got %v", err)
	}
	var ee *value.EncodeError
	if !errors.As(err, &ee) || ee.Path != "$.cb" {
		t.Fatalf("expected encode error at $.cb, got %v", err)
	}
	if st := ep.Stats(); st.Queued != 0 {
		t.Fatalf("nothing may be queued, got %d", st.Queued)
	}
	if ep.Closed() {
		t.Fatalf("encode errors must not close the endpoint")
	}

	if err := ep.Send(5, frame.KindEvent, "ok"); err != nil {
		t.Fatalf("send after rejection: %v", err)
	}
	if err := ep.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}
	m, err := frame.ReadMessage(bytes.NewReader(stream.written()), frame.DefaultLimits())
	if err != nil {
		t.Fatalf("read written frame: %v", err)
	}
	if m.Kind != frame.KindEvent || m.Target != 5 {
		t.Fatalf("unexpected frame %+v", m)
	}
}

func TestFlushWritesFIFO(t *testing.T) {
	testlog.Start(t)

	stream := newMemStream(nil)
	ep := New("ui", stream)
	for _, name := range []string{"one", "two", "three"} {
		if err := ep.Send(1, frame.KindChannel, name); err != nil {
			t.Fatalf("send %s: %v", name, err)
		}
	}
	if err := ep.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}
	r := bytes.NewReader(stream.written())
	for _, want := range []string{"one", "two", "three"} {
		m, err := frame.ReadMessage(r, frame.DefaultLimits())
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		if got := firstString(t, m); got != want {
			t.Fatalf("order mismatch: got=%q want=%q", got, want)
		}
	}
	if st := ep.Stats(); st.FramesOut != 3 || st.Queued != 0 {
		t.Fatalf("stats mismatch: %+v", st)
	}
}

func TestFrameErrorTearsDownOnce(t *testing.T) {
	testlog.Start(t)

	stream := newMemStream(nil)
	ep := New("ui", stream)
	var calls atomic.Int32
	var cause error
	ep.OnDisconnect(func(err error) {
		calls.Add(1)
		cause = err
	})

	bad := frame.EncodeHeader(frame.Header{Kind: frame.KindInvalid})
	err := ep.Feed(bad)
	if !errors.Is(err, ErrFrame) || !errors.Is(err, frame.ErrUnknownKind) {
		t.Fatalf("expected frame error, got %v", err)
	}
	if !ep.Closed() || stream.closes.Load() != 1 {
		t.Fatalf("stream must be closed once, closes=%d", stream.closes.Load())
	}
	if err := ep.Send(0, frame.KindEvent); !errors.Is(err, ErrClosed) {
		t.Fatalf("send after teardown: expected ErrClosed, got %v", err)
	}
	_ = ep.Close()
	_ = ep.Feed([]byte{1})
	if calls.Load() != 1 {
		t.Fatalf("disconnect must fire once, fired %d", calls.Load())
	}
	if !errors.Is(cause, ErrFrame) || !errors.Is(ep.Err(), ErrFrame) {
		t.Fatalf("disconnect cause mismatch: %v", cause)
	}

	late := make(chan error, 1)
	ep.OnDisconnect(func(err error) { late <- err })
	if err := <-late; !errors.Is(err, ErrFrame) {
		t.Fatalf("late registration should see the cause, got %v", err)
	}
}

func TestHandlerErrorIsFrameError(t *testing.T) {
	testlog.Start(t)

	ep := New("ui", newMemStream(nil))
	violation := errors.New("message before ready")
	ep.OnMessage(frame.KindEvalJS, func(frame.Message) error { return violation })
	err := ep.Feed(encodeFrames(t, frame.Message{Kind: frame.KindEvalJS}))
	if !errors.Is(err, ErrFrame) || !errors.Is(err, violation) {
		t.Fatalf("expected frame error wrapping violation, got %v", err)
	}
	if Class(ep.Err()) != "frame" {
		t.Fatalf("class mismatch: %s", Class(ep.Err()))
	}
}

func TestTargetHandlersRunFirst(t *testing.T) {
	testlog.Start(t)

	ep := New("ui", newMemStream(nil))
	var order []string
	ep.OnAny(func(frame.Message) error { order = append(order, "any"); return nil })
	ep.OnMessage(frame.KindScroll, func(frame.Message) error { order = append(order, "kind"); return nil })
	ep.OnTarget(9, func(frame.Message) error { order = append(order, "target"); return nil })

	if err := ep.Feed(encodeFrames(t, frame.Message{Kind: frame.KindScroll, Target: 9})); err != nil {
		t.Fatalf("feed: %v", err)
	}
	if len(order) != 3 || order[0] != "target" || order[1] != "kind" || order[2] != "any" {
		t.Fatalf("dispatch order mismatch: %v", order)
	}
}

func TestPumpEOF(t *testing.T) {
	testlog.Start(t)

	clean := New("clean", newMemStream(nil))
	if err := clean.Pump(); !errors.Is(err, io.EOF) {
		t.Fatalf("expected io.EOF, got %v", err)
	}
	if clean.Err() != nil || !clean.Closed() {
		t.Fatalf("clean EOF should close without error, err=%v", clean.Err())
	}

	full := encodeFrames(t, channelMessage(t, 0, "cut"))
	cut := New("cut", newMemStream(full[:len(full)-2]))
	var err error
	for err == nil {
		err = cut.Pump()
	}
	if !errors.Is(err, ErrFrame) || !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("expected truncated frame error, got %v", err)
	}
}

func TestWriteErrorIsTransportError(t *testing.T) {
	testlog.Start(t)

	stream := newMemStream(nil)
	stream.writeErr = errors.New("broken pipe")
	ep := New("ui", stream)
	done := make(chan error, 1)
	ep.OnDisconnect(func(err error) { done <- err })
	if err := ep.Send(0, frame.KindLog, "x"); err != nil {
		t.Fatalf("send: %v", err)
	}
	if err := ep.Flush(); !errors.Is(err, ErrTransport) {
		t.Fatalf("expected ErrTransport, got %v", err)
	}
	if err := <-done; Class(err) != "transport" {
		t.Fatalf("disconnect class mismatch: %v", err)
	}
}

func TestRunOverPipe(t *testing.T) {
	testlog.Start(t)

	a, b := net.Pipe()
	ui := New("ui", a)
	worker := New("worker", b)

	got := make(chan string, 3)
	ui.OnMessage(frame.KindChannel, func(m frame.Message) error {
		got <- firstString(t, m)
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	uiDone := make(chan error, 1)
	workerDone := make(chan error, 1)
	go func() { uiDone <- ui.Run(ctx) }()
	go func() { workerDone <- worker.Run(context.Background()) }()

	for _, name := range []string{"A", "B", "C"} {
		if err := worker.Send(0, frame.KindChannel, name); err != nil {
			t.Fatalf("send: %v", err)
		}
	}
	for _, want := range []string{"A", "B", "C"} {
		select {
		case s := <-got:
			if s != want {
				t.Fatalf("order mismatch: got=%q want=%q", s, want)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for %q", want)
		}
	}

	cancel()
	select {
	case err := <-uiDone:
		if err != nil {
			t.Fatalf("ui run after cancel: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("ui run did not stop")
	}
	select {
	case err := <-workerDone:
		if err != nil {
			t.Fatalf("worker run after peer close: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("worker run did not stop")
	}
}
