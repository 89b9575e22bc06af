// Package lifecycle provides the recording session state machine.
package lifecycle

import (
	"errors"
	"fmt"
	"sync"
)

// State represents the lifecycle state of a recording session.
type State int

const (
	// StateIdle - No upstream connection, ready to connect.
	StateIdle State = iota
	// StateConnecting - Upstream connection establishment in progress.
	StateConnecting
	// StateLive - Upstream connection open, audio is forwarded.
	StateLive
	// StateDraining - Upstream closed, pending chunks are being persisted.
	StateDraining
	// StateClosed - Session ended normally.
	StateClosed
	// StateFailed - Upstream connection could not be established.
	StateFailed
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateConnecting:
		return "CONNECTING"
	case StateLive:
		return "LIVE"
	case StateDraining:
		return "DRAINING"
	case StateClosed:
		return "CLOSED"
	case StateFailed:
		return "FAILED"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", s)
	}
}

// IsTerminal returns true if the state is terminal (CLOSED or FAILED).
func (s State) IsTerminal() bool {
	return s == StateClosed || s == StateFailed
}

// ErrInvalidTransition is returned when a transition is not allowed from the current state.
var ErrInvalidTransition = errors.New("invalid state transition")

// transitions lists the allowed non-failure moves.
//
//	IDLE → CONNECTING → LIVE → DRAINING → CLOSED
//	         │           └──────────────→ CLOSED
//	         └── IDLE (fallback retry)
//
// Any non-terminal state may move to FAILED.
var transitions = map[State][]State{
	StateIdle:       {StateConnecting, StateClosed},
	StateConnecting: {StateLive, StateIdle, StateClosed},
	StateLive:       {StateDraining, StateClosed},
	StateDraining:   {StateClosed},
}

// Lifecycle manages the state machine for a single session or controller.
// Thread-safe for concurrent access.
type Lifecycle struct {
	mu    sync.RWMutex
	name  string
	state State
}

// New creates a lifecycle in IDLE state.
func New(name string) *Lifecycle {
	return &Lifecycle{
		name:  name,
		state: StateIdle,
	}
}

// Name returns the identifier the lifecycle was created with.
func (l *Lifecycle) Name() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.name
}

// State returns the current state.
func (l *Lifecycle) State() State {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state
}

// Is reports whether the current state equals s.
func (l *Lifecycle) Is(s State) bool {
	return l.State() == s
}

// Transition moves to next if allowed and returns the previous state.
func (l *Lifecycle) Transition(next State) (State, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	prev := l.state
	if next == StateFailed {
		if prev.IsTerminal() {
			return prev, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, prev, next)
		}
		l.state = StateFailed
		return prev, nil
	}
	for _, allowed := range transitions[prev] {
		if allowed == next {
			l.state = next
			return prev, nil
		}
	}
	return prev, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, prev, next)
}

// Fail moves to FAILED from any non-terminal state.
// Returns true if the state changed.
func (l *Lifecycle) Fail() bool {
	_, err := l.Transition(StateFailed)
	return err == nil
}

// Close moves to CLOSED from any state except FAILED. Idempotent.
func (l *Lifecycle) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state != StateFailed {
		l.state = StateClosed
	}
}

// Reset returns the lifecycle to IDLE under a new name.
// Used when a new recording starts on the same session.
func (l *Lifecycle) Reset(name string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.name = name
	l.state = StateIdle
}
