// Package channel multiplexes named application channels over KindChannel
// messages. A channel payload is the channel name followed by its arguments.
package channel

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/danmuck/webext/internal/logging"
	"github.com/danmuck/webext/internal/protocol/endpoint"
	"github.com/danmuck/webext/internal/protocol/frame"
	"github.com/danmuck/webext/internal/protocol/value"
	"github.com/rs/zerolog"
)

var (
	ErrMissingName = errors.New("channel: message has no channel name")
	ErrEmptyName   = errors.New("channel: empty channel name")
)

// Sender is the sending half of an endpoint.
type Sender interface {
	Name() string
	Send(target uint32, kind frame.Kind, values ...any) error
}

// Source identifies where a channel message came from so subscribers can
// reply on the same connection.
type Source struct {
	Endpoint Sender
	Target   uint32
}

// Reply emits on the originating connection.
func (s Source) Reply(name string, args ...any) error {
	return Emit(s.Endpoint, s.Target, name, args...)
}

type Subscriber func(from Source, args []value.Value)

// Hub routes channel messages from any number of endpoints to subscribers.
type Hub struct {
	mu   sync.RWMutex
	subs map[string][]Subscriber
	log  zerolog.Logger
}

func NewHub() *Hub {
	return &Hub{
		subs: make(map[string][]Subscriber),
		log:  logging.For("channel"),
	}
}

func (h *Hub) Subscribe(name string, fn Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.subs[name] = append(h.subs[name], fn)
}

// Names lists subscribed channels in sorted order.
func (h *Hub) Names() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]string, 0, len(h.subs))
	for name := range h.subs {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Attach routes ep's channel messages through the hub.
func (h *Hub) Attach(ep *endpoint.Endpoint) {
	ep.OnMessage(frame.KindChannel, func(m frame.Message) error {
		return h.Deliver(Source{Endpoint: ep, Target: m.Target}, m)
	})
}

// Deliver decodes one channel message and fans it out. Malformed payloads
// return an error so the endpoint tears the connection down; unknown names
// are dropped.
func (h *Hub) Deliver(from Source, m frame.Message) error {
	vals, err := m.Values()
	if err != nil {
		return err
	}
	if len(vals) == 0 {
		return ErrMissingName
	}
	name, ok := vals[0].(value.String)
	if !ok {
		return fmt.Errorf("%w: first value is %s", ErrMissingName, value.KindOf(vals[0]))
	}

	h.mu.RLock()
	subs := h.subs[string(name)]
	h.mu.RUnlock()
	if len(subs) == 0 {
		h.log.Debug().Str("channel", string(name)).Msg("no subscriber, dropped")
		return nil
	}
	args := vals[1:]
	for _, fn := range subs {
		fn(from, args)
	}
	return nil
}

// Emit sends args on channel name through ep.
func Emit(ep Sender, target uint32, name string, args ...any) error {
	if name == "" {
		return ErrEmptyName
	}
	values := make([]any, 0, len(args)+1)
	values = append(values, name)
	values = append(values, args...)
	return ep.Send(target, frame.KindChannel, values...)
}
