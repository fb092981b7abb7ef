package session

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/danmuck/webext/internal/protocol/frame"
)

var ErrOutboxFull = errors.New("session: outbox full")

// Pending is one message held for a worker that is not Ready yet.
type Pending struct {
	Message  frame.Message
	QueuedAt time.Time
}

// PendingSummary describes the backlog for one worker.
type PendingSummary struct {
	WorkerID uint32
	Count    int
	Bytes    int
	Oldest   time.Time
}

// Outbox holds messages per worker id until the worker is Ready. Messages
// are released in the order they were queued.
type Outbox struct {
	mu       sync.RWMutex
	items    map[uint32][]Pending
	maxItems int
}

// NewOutbox caps each worker's backlog at maxItems; 0 means unbounded.
func NewOutbox(maxItems int) *Outbox {
	return &Outbox{
		items:    make(map[uint32][]Pending),
		maxItems: maxItems,
	}
}

func (o *Outbox) Push(workerID uint32, m frame.Message, at time.Time) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	q := o.items[workerID]
	if o.maxItems > 0 && len(q) >= o.maxItems {
		return ErrOutboxFull
	}
	o.items[workerID] = append(q, Pending{Message: m, QueuedAt: at})
	return nil
}

// Drain removes and returns the backlog for workerID in FIFO order.
func (o *Outbox) Drain(workerID uint32) []Pending {
	o.mu.Lock()
	defer o.mu.Unlock()
	q := o.items[workerID]
	delete(o.items, workerID)
	return q
}

// Drop discards the backlog and reports how many messages were lost.
func (o *Outbox) Drop(workerID uint32) int {
	return len(o.Drain(workerID))
}

func (o *Outbox) Len(workerID uint32) int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return len(o.items[workerID])
}

func (o *Outbox) List() []PendingSummary {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]PendingSummary, 0, len(o.items))
	for id, q := range o.items {
		s := PendingSummary{WorkerID: id, Count: len(q)}
		for i, p := range q {
			s.Bytes += len(p.Message.Payload)
			if i == 0 {
				s.Oldest = p.QueuedAt
			}
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].WorkerID < out[j].WorkerID
	})
	return out
}
