// Package handles maps opaque wire handles to process-local resources.
//
// A handle received from a peer is only a token. It means nothing until it
// is resolved against the table of the process that minted it, so a foreign
// or forged token simply fails to resolve.
package handles

import (
	"math/rand/v2"
	"sync"

	"github.com/danmuck/webext/internal/protocol/value"
)

// Table is a concurrency-safe handle table.
type Table struct {
	mu    sync.RWMutex
	items map[value.Handle]any
	rng   func() uint64
}

func New() *Table {
	return &Table{
		items: make(map[value.Handle]any),
		rng:   rand.Uint64,
	}
}

// Mint stores resource and returns a fresh nonzero token for it.
func (t *Table) Mint(resource any) value.Handle {
	t.mu.Lock()
	defer t.mu.Unlock()
	for {
		h := value.Handle(t.rng())
		if h == 0 {
			continue
		}
		if _, taken := t.items[h]; taken {
			continue
		}
		t.items[h] = resource
		return h
	}
}

func (t *Table) Resolve(h value.Handle) (any, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	r, ok := t.items[h]
	return r, ok
}

// Release forgets h and reports whether it was live.
func (t *Table) Release(h value.Handle) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.items[h]; !ok {
		return false
	}
	delete(t.items, h)
	return true
}

func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.items)
}
