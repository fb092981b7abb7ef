package registry

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/danmuck/webext/internal/protocol/frame"
)

var (
	ErrExists      = errors.New("registry: worker id already registered")
	ErrNilEndpoint = errors.New("registry: endpoint is nil")
	ErrNotFound    = errors.New("registry: worker not found")
	ErrClosed      = errors.New("registry: worker closed")
	ErrReservedID  = errors.New("registry: worker id 0 is reserved")
)

// State is the registry view of a worker connection.
type State uint8

const (
	StateConnecting State = iota
	StateReady
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateReady:
		return "ready"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

// Conn is the part of an endpoint the registry needs.
type Conn interface {
	Send(target uint32, kind frame.Kind, values ...any) error
	Close() error
}

// Entry is one worker connection. Entries returned by the registry are
// copies.
type Entry struct {
	ID          uint32
	Endpoint    Conn
	State       State
	PeerPID     int
	ConnectedAt time.Time
	ReadyAt     time.Time
}

// Registry maps worker ids to live connections.
type Registry struct {
	mu     sync.RWMutex
	items  map[uint32]*Entry
	nextID uint32
	now    func() time.Time
}

func New() *Registry {
	return &Registry{
		items: make(map[uint32]*Entry),
		now:   time.Now,
	}
}

// NextID allocates a fresh worker id. Ids start at 1; 0 addresses no one.
func (r *Registry) NextID() uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	for {
		r.nextID++
		if r.nextID == 0 {
			continue
		}
		if _, taken := r.items[r.nextID]; !taken {
			return r.nextID
		}
	}
}

// Register adds a Connecting entry for id.
func (r *Registry) Register(id uint32, ep Conn) error {
	if ep == nil {
		return ErrNilEndpoint
	}
	if id == 0 {
		return ErrReservedID
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.items[id]; ok {
		return fmt.Errorf("%w: %d", ErrExists, id)
	}
	r.items[id] = &Entry{
		ID:          id,
		Endpoint:    ep,
		State:       StateConnecting,
		ConnectedAt: r.now(),
	}
	return nil
}

// SetPeerPID records the OS process id of the peer.
func (r *Registry) SetPeerPID(id uint32, pid int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.items[id]
	if !ok {
		return false
	}
	e.PeerPID = pid
	return true
}

func (r *Registry) Lookup(id uint32) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.items[id]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// MarkReady moves id from Connecting to Ready. It reports true only for the
// call that made the transition.
func (r *Registry) MarkReady(id uint32) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.items[id]
	if !ok {
		return false, fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	switch e.State {
	case StateReady:
		return false, nil
	case StateClosed:
		return false, fmt.Errorf("%w: %d", ErrClosed, id)
	}
	e.State = StateReady
	e.ReadyAt = r.now()
	return true, nil
}

// Remove deletes id and returns its last entry, marked Closed.
func (r *Registry) Remove(id uint32) (Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.items[id]
	if !ok {
		return Entry{}, false
	}
	delete(r.items, id)
	e.State = StateClosed
	return *e, true
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.items)
}

// Snapshot returns copies of every entry ordered by id.
func (r *Registry) Snapshot() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	list := make([]Entry, 0, len(r.items))
	for _, e := range r.items {
		list = append(list, *e)
	}
	sort.Slice(list, func(i, j int) bool {
		return list[i].ID < list[j].ID
	})
	return list
}

// Ready returns the Ready entries ordered by id.
func (r *Registry) Ready() []Entry {
	all := r.Snapshot()
	out := all[:0]
	for _, e := range all {
		if e.State == StateReady {
			out = append(out, e)
		}
	}
	return out
}

// Counts returns the number of entries per state.
func (r *Registry) Counts() map[State]int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := map[State]int{StateConnecting: 0, StateReady: 0}
	for _, e := range r.items {
		out[e.State]++
	}
	return out
}

// Broadcast sends one message to every Ready worker. Sends happen outside
// the lock on a snapshot, so a worker leaving mid-broadcast only shows up as
// one error in the joined result.
func (r *Registry) Broadcast(kind frame.Kind, values ...any) (int, error) {
	var (
		sent int
		errs []error
	)
	for _, e := range r.Ready() {
		if err := e.Endpoint.Send(0, kind, values...); err != nil {
			errs = append(errs, fmt.Errorf("worker %d: %w", e.ID, err))
			continue
		}
		sent++
	}
	return sent, errors.Join(errs...)
}
