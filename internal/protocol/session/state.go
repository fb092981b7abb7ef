package session

import (
	"errors"
	"fmt"
	"sync"
)

var (
	ErrLifecycleOrder = errors.New("session: illegal lifecycle transition")
	// ErrHandshake classifies failures that keep a worker from reaching Ready.
	// The worker process exits non-zero on it.
	ErrHandshake = errors.New("session: handshake failed")
)

// WorkerState is the bootstrap position of one worker process.
type WorkerState uint8

const (
	StateSpawned WorkerState = iota
	StateConnecting
	StateInitializing
	StateReady
	StateFailed
)

func (s WorkerState) String() string {
	switch s {
	case StateSpawned:
		return "spawned"
	case StateConnecting:
		return "connecting"
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

// CanTransition reports whether from -> to is a legal step. Any state except
// Failed may fail.
func CanTransition(from, to WorkerState) bool {
	if to == StateFailed {
		return from != StateFailed
	}
	return from != StateFailed && to == from+1 && to <= StateReady
}

// Lifecycle tracks one worker's state with validated transitions.
type Lifecycle struct {
	mu    sync.Mutex
	state WorkerState
	err   error
}

func (l *Lifecycle) State() WorkerState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Err returns the cause recorded by Fail.
func (l *Lifecycle) Err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.err
}

func (l *Lifecycle) Advance(to WorkerState) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !CanTransition(l.state, to) {
		return fmt.Errorf("%w: %s -> %s", ErrLifecycleOrder, l.state, to)
	}
	l.state = to
	return nil
}

// Fail moves to Failed and returns cause wrapped as a handshake error. A
// second Fail keeps the first cause.
func (l *Lifecycle) Fail(cause error) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state == StateFailed {
		return l.err
	}
	from := l.state
	l.state = StateFailed
	if errors.Is(cause, ErrHandshake) {
		l.err = cause
	} else {
		l.err = fmt.Errorf("%w: %s: %w", ErrHandshake, from, cause)
	}
	return l.err
}
