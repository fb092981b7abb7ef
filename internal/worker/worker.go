package worker

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/danmuck/webext/internal/handles"
	"github.com/danmuck/webext/internal/logging"
	"github.com/danmuck/webext/internal/observability"
	"github.com/danmuck/webext/internal/protocol/channel"
	"github.com/danmuck/webext/internal/protocol/endpoint"
	"github.com/danmuck/webext/internal/protocol/frame"
	"github.com/danmuck/webext/internal/protocol/session"
	"github.com/danmuck/webext/internal/protocol/value"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var (
	ErrSocketRequired = errors.New("worker: ipc socket path required")
	ErrNotReady       = errors.New("worker: not ready")
	ErrStarted        = errors.New("worker: already started")
)

// InitFunc runs after the connection is up and before the ready signal. A
// failing hook fails the handshake.
type InitFunc func(ctx context.Context, w *Worker) error

type Config struct {
	SocketPath string
	Name       string
	Session    session.Config
	Limits     frame.Limits
}

func DefaultConfig() Config {
	return Config{
		Name:    "worker",
		Session: session.DefaultConfig(),
		Limits:  frame.DefaultLimits(),
	}
}

// Worker is the worker-process side of one UI connection.
type Worker struct {
	cfg     Config
	life    session.Lifecycle
	hub     *channel.Hub
	handles *handles.Table
	log     zerolog.Logger
	tracer  trace.Tracer
	rng     *rand.Rand
	dial    func(ctx context.Context, path string) (net.Conn, error)

	mu       sync.Mutex
	ep       *endpoint.Endpoint
	ready    bool
	// early holds frames sent by init hooks; they go out after extension_init.
	early    []frame.Message
	inits    []InitFunc
	handlers map[frame.Kind][]endpoint.Handler
	started  bool
}

func New(cfg Config) (*Worker, error) {
	if strings.TrimSpace(cfg.SocketPath) == "" {
		return nil, ErrSocketRequired
	}
	if strings.TrimSpace(cfg.Name) == "" {
		cfg.Name = DefaultConfig().Name
	}
	if cfg.Limits.MaxPayloadBytes == 0 {
		cfg.Limits = frame.DefaultLimits()
	}
	if err := cfg.Session.Validate(); err != nil {
		return nil, err
	}
	w := &Worker{
		cfg:      cfg,
		hub:      channel.NewHub(),
		handles:  handles.New(),
		log:      logging.For("worker").With().Str("worker", cfg.Name).Logger(),
		tracer:   observability.Tracer("worker"),
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
		handlers: make(map[frame.Kind][]endpoint.Handler),
	}
	w.dial = w.dialUnix
	return w, nil
}

func (w *Worker) Hub() *channel.Hub          { return w.hub }
func (w *Worker) Handles() *handles.Table    { return w.handles }
func (w *Worker) State() session.WorkerState { return w.life.State() }

// Endpoint returns the live connection once the worker is Ready, nil before.
func (w *Worker) Endpoint() *endpoint.Endpoint {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.ready {
		return nil
	}
	return w.ep
}

// OnInit adds a local init hook. Hooks run in registration order.
func (w *Worker) OnInit(fn InitFunc) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.inits = append(w.inits, fn)
}

// Handle registers h for messages of kind from the UI process.
func (w *Worker) Handle(kind frame.Kind, h endpoint.Handler) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.handlers[kind] = append(w.handlers[kind], h)
	if w.ep != nil {
		w.ep.OnMessage(kind, h)
	}
}

// Start runs the bootstrap: connect, run init hooks, send the ready signal.
// Any failure moves the worker to Failed and returns an error matching
// session.ErrHandshake.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return ErrStarted
	}
	w.started = true
	w.mu.Unlock()

	ctx, span := w.tracer.Start(ctx, "worker.bootstrap", trace.WithAttributes(
		attribute.String("worker.name", w.cfg.Name),
		attribute.String("ipc.socket", w.cfg.SocketPath),
	))
	defer span.End()

	err := w.bootstrap(ctx)
	if err != nil {
		err = w.life.Fail(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "bootstrap failed")
		w.log.Error().Err(err).Msg("bootstrap failed")
		w.mu.Lock()
		ep := w.ep
		w.ep, w.early, w.ready = nil, nil, false
		w.mu.Unlock()
		if ep != nil {
			_ = ep.Close()
		}
		return err
	}
	span.SetStatus(codes.Ok, "ready")
	w.log.Info().Msg("worker ready")
	return nil
}

func (w *Worker) bootstrap(ctx context.Context) error {
	if err := w.life.Advance(session.StateConnecting); err != nil {
		return err
	}
	conn, err := w.connect(ctx)
	if err != nil {
		return err
	}
	ep := endpoint.New(w.cfg.Name, conn,
		endpoint.WithLimits(w.cfg.Limits),
		endpoint.WithLogger(w.log),
		endpoint.WithObserver(observability.EndpointObserver{}),
	)
	w.mu.Lock()
	w.ep = ep
	for kind, hs := range w.handlers {
		for _, h := range hs {
			ep.OnMessage(kind, h)
		}
	}
	inits := append([]InitFunc(nil), w.inits...)
	w.mu.Unlock()
	w.hub.Attach(ep)

	if err := w.life.Advance(session.StateInitializing); err != nil {
		return err
	}
	initCtx := ctx
	if d := w.cfg.Session.ReadyTimeout; d > 0 {
		var cancel context.CancelFunc
		initCtx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}
	for i, fn := range inits {
		if err := fn(initCtx, w); err != nil {
			return fmt.Errorf("init hook %d: %w", i, err)
		}
	}

	if err := ep.Send(0, frame.KindExtensionInit); err != nil {
		return err
	}
	w.mu.Lock()
	early := w.early
	w.early = nil
	for _, m := range early {
		if err := ep.SendMessage(m); err != nil {
			w.mu.Unlock()
			return err
		}
	}
	w.ready = true
	w.mu.Unlock()
	if err := ep.Flush(); err != nil {
		return err
	}
	return w.life.Advance(session.StateReady)
}

// connect dials the UI socket with bounded attempts and backoff.
func (w *Worker) connect(ctx context.Context) (net.Conn, error) {
	var attempt int
	for {
		attempt++
		dialCtx, cancel := context.WithTimeout(ctx, w.cfg.Session.ConnectTimeout)
		conn, err := w.dial(dialCtx, w.cfg.SocketPath)
		cancel()
		if err == nil {
			w.log.Debug().Int("attempt", attempt).Msg("connected")
			return conn, nil
		}
		w.log.Warn().Err(err).Int("attempt", attempt).Str("socket", w.cfg.SocketPath).Msg("dial failed")
		if attempt >= w.cfg.Session.ConnectAttempts {
			return nil, fmt.Errorf("dial %s after %d attempt(s): %w", w.cfg.SocketPath, attempt, err)
		}
		delay := session.NextBackoffDelay(w.cfg.Session.Backoff, attempt, w.rng)
		if err := session.Wait(ctx, delay); err != nil {
			return nil, err
		}
	}
}

func (w *Worker) dialUnix(ctx context.Context, path string) (net.Conn, error) {
	var d net.Dialer
	return d.DialContext(ctx, "unix", path)
}

// Serve drives the ready connection until it closes. A nil return means an
// orderly close or ctx cancellation.
func (w *Worker) Serve(ctx context.Context) error {
	ep := w.Endpoint()
	if ep == nil || w.State() != session.StateReady {
		return ErrNotReady
	}
	return ep.Run(ctx)
}

// Run is Start followed by Serve.
func (w *Worker) Run(ctx context.Context) error {
	if err := w.Start(ctx); err != nil {
		return err
	}
	return w.Serve(ctx)
}

// Send queues one message to the UI process. Messages sent by init hooks
// are held and written right after extension_init, so the UI never sees
// application traffic before the ready signal.
func (w *Worker) Send(target uint32, kind frame.Kind, values ...any) error {
	w.mu.Lock()
	ep, ready := w.ep, w.ready
	if ep == nil {
		w.mu.Unlock()
		return ErrNotReady
	}
	if ready {
		w.mu.Unlock()
		return ep.Send(target, kind, values...)
	}
	defer w.mu.Unlock()
	m, err := encodeMessage(target, kind, values)
	if err != nil {
		return err
	}
	w.early = append(w.early, m)
	return nil
}

// Emit sends on a named channel, held like Send during init.
func (w *Worker) Emit(name string, args ...any) error {
	if name == "" {
		return channel.ErrEmptyName
	}
	return w.Send(0, frame.KindChannel, append([]any{name}, args...)...)
}

func encodeMessage(target uint32, kind frame.Kind, values []any) (frame.Message, error) {
	vals := make([]value.Value, len(values))
	for i, x := range values {
		v, err := value.FromGo(x)
		if err != nil {
			return frame.Message{}, err
		}
		vals[i] = v
	}
	return frame.NewMessage(kind, target, vals...)
}

// Log forwards a log line to the UI process, which logs it at level.
func (w *Worker) Log(level zerolog.Level, msg string, fields map[string]any) error {
	extra, err := value.FromGo(fields)
	if err != nil {
		return err
	}
	return w.Send(0, frame.KindLog, level.String(), msg, extra)
}

// Crash reports a fatal worker condition to the UI process and flushes it
// so the report is on the wire before the process exits.
func (w *Worker) Crash(reason string) error {
	ep := w.Endpoint()
	if ep == nil {
		return ErrNotReady
	}
	if err := ep.Send(0, frame.KindCrash, reason); err != nil {
		return err
	}
	return ep.Flush()
}

// Main runs a worker to completion and returns the process exit status:
// 0 after an orderly close, 1 on handshake or connection failure.
func Main(ctx context.Context, cfg Config, inits ...InitFunc) int {
	w, err := New(cfg)
	if err != nil {
		l := logging.For("worker")
		l.Error().Err(err).Msg("invalid worker config")
		return 1
	}
	for _, fn := range inits {
		w.OnInit(fn)
	}
	if err := w.Run(ctx); err != nil {
		return 1
	}
	return 0
}
