package pipeline

import (
	"fmt"
	"sync"
)

// RunState is the lifecycle state of a pipeline run.
type RunState string

const (
	StateIdle       RunState = "Idle"
	StateScanning   RunState = "Scanning"
	StateProcessing RunState = "Processing"
	StateReporting  RunState = "Reporting"
	StateDone       RunState = "Done"
	StateFailed     RunState = "Failed"
)

// IsTerminal reports whether s ends a run.
func IsTerminal(s RunState) bool {
	return s == StateDone || s == StateFailed
}

func isAllowedTransition(from, to RunState) bool {
	switch from {
	case StateIdle:
		return to == StateScanning || to == StateFailed
	case StateScanning:
		return to == StateProcessing || to == StateFailed
	case StateProcessing:
		return to == StateReporting
	case StateReporting:
		return to == StateDone
	default:
		return false
	}
}

// Machine holds a run's state. Per-artifact failures never move it to
// Failed; only setup errors before processing do.
type Machine struct {
	mu      sync.Mutex
	state   RunState
	history []RunState
}

// NewMachine starts in Idle.
func NewMachine() *Machine {
	return &Machine{state: StateIdle, history: []RunState{StateIdle}}
}

// State returns the current state.
func (m *Machine) State() RunState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// History returns every state entered, in order.
func (m *Machine) History() []RunState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]RunState(nil), m.history...)
}

// Transition moves from -> to. The caller supplies the expected current
// state so that races are observable.
func (m *Machine) Transition(from, to RunState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != from {
		return fmt.Errorf("invalid run transition: expected %s, got %s", from, m.state)
	}
	if !isAllowedTransition(from, to) {
		return fmt.Errorf("disallowed run transition: %s -> %s", from, to)
	}
	m.state = to
	m.history = append(m.history, to)
	return nil
}
