package host

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/danmuck/webext/internal/logging"
	"github.com/danmuck/webext/internal/observability"
	"github.com/danmuck/webext/internal/protocol/channel"
	"github.com/danmuck/webext/internal/protocol/endpoint"
	"github.com/danmuck/webext/internal/protocol/frame"
	"github.com/danmuck/webext/internal/protocol/session"
	"github.com/danmuck/webext/internal/protocol/value"
	"github.com/danmuck/webext/internal/registry"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var (
	// ErrNotReady is the protocol violation for application traffic that
	// arrives before the worker's init signal.
	ErrNotReady     = errors.New("host: message before extension_init")
	ErrDisconnected = errors.New("host: worker disconnected")
)

// MessageHandler receives application messages from Ready workers.
type MessageHandler func(workerID uint32, m frame.Message) error

// workerConn is the host-side state of one accepted connection.
type workerConn struct {
	id         uint32
	ep         *endpoint.Endpoint
	acceptedAt time.Time
	span       trace.Span

	// gate orders pending flush and disconnect against concurrent Send calls.
	gate   sync.Mutex
	ready  bool
	closed bool
}

// Service accepts worker connections and runs the UI side of the handshake.
type Service struct {
	cfg    Config
	reg    *registry.Registry
	outbox *session.Outbox
	hub    *channel.Hub
	log    zerolog.Logger
	tracer trace.Tracer

	connsMu sync.Mutex
	conns   map[uint32]*workerConn

	changeMu sync.Mutex
	changeCh chan struct{}

	hooksMu      sync.RWMutex
	onAccept     []func(id uint32)
	onReady      []func(id uint32)
	onDisconnect []func(id uint32, err error)
	handlers     map[frame.Kind][]MessageHandler
}

func NewService() *Service {
	return NewServiceWithConfig(DefaultConfig())
}

func NewServiceWithConfig(cfg Config) *Service {
	if cfg.Limits.MaxPayloadBytes == 0 {
		cfg.Limits = frame.DefaultLimits()
	}
	observability.RegisterMetrics()
	return &Service{
		cfg:      cfg,
		reg:      registry.New(),
		outbox:   session.NewOutbox(cfg.PendingLimit),
		hub:      channel.NewHub(),
		log:      logging.For("host"),
		tracer:   observability.Tracer("host"),
		conns:    make(map[uint32]*workerConn),
		changeCh: make(chan struct{}),
		handlers: make(map[frame.Kind][]MessageHandler),
	}
}

func (s *Service) Registry() *registry.Registry { return s.reg }
func (s *Service) Hub() *channel.Hub            { return s.hub }
func (s *Service) Outbox() *session.Outbox      { return s.outbox }

// OnAccept registers fn to run when a connection is registered, before the
// worker is Ready.
func (s *Service) OnAccept(fn func(id uint32)) {
	s.hooksMu.Lock()
	defer s.hooksMu.Unlock()
	s.onAccept = append(s.onAccept, fn)
}

// OnReady registers fn to run exactly once per worker on its init signal.
func (s *Service) OnReady(fn func(id uint32)) {
	s.hooksMu.Lock()
	defer s.hooksMu.Unlock()
	s.onReady = append(s.onReady, fn)
}

func (s *Service) OnDisconnect(fn func(id uint32, err error)) {
	s.hooksMu.Lock()
	defer s.hooksMu.Unlock()
	s.onDisconnect = append(s.onDisconnect, fn)
}

// Handle registers h for one application message kind.
func (s *Service) Handle(kind frame.Kind, h MessageHandler) {
	s.hooksMu.Lock()
	defer s.hooksMu.Unlock()
	s.handlers[kind] = append(s.handlers[kind], h)
}

// Run listens on the configured socket and serves until SIGINT/SIGTERM.
func (s *Service) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return s.RunContext(ctx)
}

// RunContext listens, starts the admin surface and any configured workers,
// and serves until ctx is done.
func (s *Service) RunContext(ctx context.Context) error {
	if err := s.cfg.Validate(); err != nil {
		return err
	}
	ln, err := Listen(s.cfg.SocketPath)
	if err != nil {
		return err
	}
	s.log.Info().Str("socket", s.cfg.SocketPath).Msg("listening")

	adminErr := make(chan error, 1)
	if addr := strings.TrimSpace(s.cfg.AdminListenAddr); addr != "" {
		go func() {
			adminErr <- s.serveAdmin(ctx, addr)
		}()
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- s.Serve(ctx, ln)
	}()

	if s.cfg.Spawn.Count > 0 {
		go s.spawnWorkers(ctx)
	}

	select {
	case err := <-serveErr:
		return err
	case err := <-adminErr:
		if err != nil {
			return err
		}
		return <-serveErr
	}
}

func (s *Service) serveAdmin(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.AdminHandler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	s.log.Info().Str("addr", addr).Msg("admin listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Service) spawnWorkers(ctx context.Context) {
	sp := &Spawner{
		Command: s.cfg.Spawn.Command,
		Args:    s.cfg.Spawn.Args,
		Env:     s.cfg.Spawn.Env,
		Socket:  s.cfg.SocketPath,
	}
	for i := 0; i < s.cfg.Spawn.Count; i++ {
		p, err := sp.Spawn(ctx)
		if err != nil {
			s.log.Error().Err(err).Int("index", i).Msg("spawn worker")
			continue
		}
		go func() {
			waitCtx, cancel := context.WithTimeout(ctx, s.cfg.ReadyTimeout)
			defer cancel()
			id, err := s.WaitPID(waitCtx, p.PID)
			if err != nil {
				s.log.Warn().Err(err).Int("pid", p.PID).Msg("spawned worker not ready")
				return
			}
			s.log.Info().Uint32("worker", id).Int("pid", p.PID).Msg("spawned worker ready")
		}()
		go func() {
			err := p.Wait()
			s.log.Info().Int("pid", p.PID).Int("exit", p.ExitCode()).AnErr("err", err).Msg("worker exited")
		}()
	}
}

// Serve accepts worker connections on ln until ctx is done.
func (s *Service) Serve(ctx context.Context, ln net.Listener) error {
	defer ln.Close()
	go func() {
		<-ctx.Done()
		s.closeAllConns()
		_ = ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		if err := s.accept(ctx, conn); err != nil {
			s.log.Warn().Err(err).Msg("accept worker")
			_ = conn.Close()
		}
	}
}

func (s *Service) accept(ctx context.Context, conn net.Conn) error {
	id := s.reg.NextID()
	pid := peerPID(conn)
	ep := endpoint.New("worker-"+strconv.FormatUint(uint64(id), 10), conn,
		endpoint.WithLimits(s.cfg.Limits),
		endpoint.WithLogger(s.log.With().Uint32("worker", id).Logger()),
		endpoint.WithObserver(observability.EndpointObserver{}),
	)
	_, span := s.tracer.Start(ctx, "host.handshake", trace.WithAttributes(
		attribute.Int64("worker.id", int64(id)),
		attribute.Int("peer.pid", pid),
	))
	wc := &workerConn{id: id, ep: ep, acceptedAt: time.Now(), span: span}

	if err := s.reg.Register(id, ep); err != nil {
		span.RecordError(err)
		span.End()
		return err
	}
	s.reg.SetPeerPID(id, pid)
	s.connsMu.Lock()
	s.conns[id] = wc
	s.connsMu.Unlock()

	ep.OnAny(func(m frame.Message) error { return s.route(wc, m) })
	ep.OnDisconnect(func(err error) { s.dropConn(wc, err) })

	s.log.Info().Uint32("worker", id).Int("pid", pid).Int("active", s.reg.Len()).Msg("worker connected")
	s.publish()
	s.hooksMu.RLock()
	accepts := append([]func(uint32){}, s.onAccept...)
	s.hooksMu.RUnlock()
	for _, fn := range accepts {
		fn(id)
	}

	go func() {
		if err := ep.Run(ctx); err != nil {
			s.log.Debug().Err(err).Uint32("worker", id).Msg("endpoint run ended")
		}
	}()
	return nil
}

func (s *Service) route(wc *workerConn, m frame.Message) error {
	if m.Kind == frame.KindExtensionInit {
		s.markReady(wc)
		return nil
	}
	if !wc.isReady() {
		return fmt.Errorf("%w: got %s", ErrNotReady, m.Kind)
	}
	var (
		err     error
		builtin = true
	)
	switch m.Kind {
	case frame.KindLog:
		err = s.relayLog(wc.id, m)
	case frame.KindCrash:
		err = s.relayCrash(wc.id, m)
	case frame.KindChannel:
		err = s.hub.Deliver(channel.Source{Endpoint: wc.ep, Target: m.Target}, m)
	default:
		builtin = false
	}
	if err != nil {
		return err
	}

	s.hooksMu.RLock()
	hs := append([]MessageHandler(nil), s.handlers[m.Kind]...)
	s.hooksMu.RUnlock()
	if len(hs) == 0 && !builtin {
		s.log.Debug().Uint32("worker", wc.id).Stringer("kind", m.Kind).Msg("unhandled message")
	}
	for _, h := range hs {
		if err := h(wc.id, m); err != nil {
			return err
		}
	}
	return nil
}

func (wc *workerConn) isReady() bool {
	wc.gate.Lock()
	defer wc.gate.Unlock()
	return wc.ready
}

// markReady flushes the pending queue and marks the worker Ready. Pending
// messages are queued on the endpoint before the registry flips, so neither
// Send nor Broadcast can overtake them.
func (s *Service) markReady(wc *workerConn) {
	wc.gate.Lock()
	if wc.closed {
		wc.gate.Unlock()
		return
	}
	if wc.ready {
		wc.gate.Unlock()
		s.log.Warn().Uint32("worker", wc.id).Msg("duplicate extension_init ignored")
		return
	}
	pending := s.outbox.Drain(wc.id)
	for _, p := range pending {
		if err := wc.ep.SendMessage(p.Message); err != nil {
			s.log.Warn().Err(err).Uint32("worker", wc.id).Msg("flush pending")
			break
		}
	}
	wc.ready = true
	ok, err := s.reg.MarkReady(wc.id)
	wc.gate.Unlock()

	if err != nil || !ok {
		s.log.Warn().Err(err).Uint32("worker", wc.id).Msg("mark ready")
		return
	}
	elapsed := time.Since(wc.acceptedAt)
	observability.RecordHandshake("ready", elapsed)
	wc.span.SetStatus(codes.Ok, "ready")
	wc.span.End()
	s.log.Info().Uint32("worker", wc.id).Dur("elapsed", elapsed).Int("flushed", len(pending)).Msg("worker ready")
	s.publish()

	s.hooksMu.RLock()
	readies := append([]func(uint32){}, s.onReady...)
	s.hooksMu.RUnlock()
	for _, fn := range readies {
		fn(wc.id)
	}
}

func (s *Service) dropConn(wc *workerConn, cause error) {
	// Sends that already hold wc see closed and stop queueing before the
	// outbox is dropped below.
	wc.gate.Lock()
	wc.closed = true
	wc.gate.Unlock()

	s.connsMu.Lock()
	delete(s.conns, wc.id)
	s.connsMu.Unlock()

	entry, _ := s.reg.Remove(wc.id)
	dropped := s.outbox.Drop(wc.id)
	if entry.ReadyAt.IsZero() {
		observability.RecordHandshake("failed", time.Since(wc.acceptedAt))
		if cause != nil {
			wc.span.RecordError(cause)
		}
		wc.span.SetStatus(codes.Error, "disconnected before ready")
		wc.span.End()
	}
	s.log.Info().
		Uint32("worker", wc.id).
		Str("class", endpoint.Class(cause)).
		AnErr("cause", cause).
		Int("dropped", dropped).
		Int("active", s.reg.Len()).
		Msg("worker disconnected")
	s.publish()

	s.hooksMu.RLock()
	fns := append([]func(uint32, error){}, s.onDisconnect...)
	s.hooksMu.RUnlock()
	for _, fn := range fns {
		fn(wc.id, cause)
	}
}

func (s *Service) lookupConn(id uint32) (*workerConn, bool) {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	wc, ok := s.conns[id]
	return wc, ok
}

// Send delivers one message to worker id. Messages for a worker that is not
// Ready yet are queued and flushed, in order, on its init signal.
func (s *Service) Send(id uint32, kind frame.Kind, values ...any) error {
	wc, ok := s.lookupConn(id)
	if !ok {
		return fmt.Errorf("%w: %d", registry.ErrNotFound, id)
	}
	m, err := encodeMessage(id, kind, values)
	if err != nil {
		return err
	}
	return s.sendTo(wc, m)
}

func (s *Service) sendTo(wc *workerConn, m frame.Message) error {
	wc.gate.Lock()
	defer wc.gate.Unlock()
	if wc.closed {
		return fmt.Errorf("%w: %d", ErrDisconnected, wc.id)
	}
	if !wc.ready {
		return s.outbox.Push(wc.id, m, time.Now())
	}
	return wc.ep.SendMessage(m)
}

// Broadcast sends to every Ready worker. Workers still connecting are
// skipped.
func (s *Service) Broadcast(kind frame.Kind, values ...any) (int, error) {
	return s.reg.Broadcast(kind, values...)
}

// Emit sends on a named channel to worker id, queueing like Send.
func (s *Service) Emit(id uint32, name string, args ...any) error {
	if name == "" {
		return channel.ErrEmptyName
	}
	return s.Send(id, frame.KindChannel, append([]any{name}, args...)...)
}

// Disconnect closes the connection to worker id.
func (s *Service) Disconnect(id uint32) error {
	wc, ok := s.lookupConn(id)
	if !ok {
		return fmt.Errorf("%w: %d", registry.ErrNotFound, id)
	}
	return wc.ep.Close()
}

// WaitReady blocks until worker id is Ready, it disconnects, or ctx is done.
func (s *Service) WaitReady(ctx context.Context, id uint32) error {
	return s.waitFor(ctx, func() (bool, error) {
		e, ok := s.reg.Lookup(id)
		if !ok {
			return false, fmt.Errorf("%w: %d", ErrDisconnected, id)
		}
		return e.State == registry.StateReady, nil
	})
}

// WaitPID blocks until a Ready worker with the given peer pid is registered
// and returns its id. Peer pids are only known where the platform reports
// socket credentials.
func (s *Service) WaitPID(ctx context.Context, pid int) (uint32, error) {
	var id uint32
	err := s.waitFor(ctx, func() (bool, error) {
		for _, e := range s.reg.Ready() {
			if e.PeerPID == pid {
				id = e.ID
				return true, nil
			}
		}
		return false, nil
	})
	return id, err
}

func (s *Service) waitFor(ctx context.Context, cond func() (bool, error)) error {
	for {
		ch := s.changes()
		done, err := cond()
		if err != nil || done {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ch:
		}
	}
}

func (s *Service) changes() <-chan struct{} {
	s.changeMu.Lock()
	defer s.changeMu.Unlock()
	return s.changeCh
}

// publish wakes waiters and refreshes the registry gauges.
func (s *Service) publish() {
	s.changeMu.Lock()
	close(s.changeCh)
	s.changeCh = make(chan struct{})
	s.changeMu.Unlock()

	counts := s.reg.Counts()
	observability.SetWorkers(registry.StateConnecting.String(), counts[registry.StateConnecting])
	observability.SetWorkers(registry.StateReady.String(), counts[registry.StateReady])
}

func (s *Service) closeAllConns() {
	s.connsMu.Lock()
	conns := make([]*workerConn, 0, len(s.conns))
	for _, wc := range s.conns {
		conns = append(conns, wc)
	}
	s.connsMu.Unlock()
	for _, wc := range conns {
		_ = wc.ep.Close()
	}
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
