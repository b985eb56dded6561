// Package engine drives the output and input devices: static stereo chirp
// playback and continuous mono capture.
package engine

import (
	"errors"
	"sync"
)

// ErrBusy is returned when an engine is asked to start while it is opening
// or stopping a device.
var ErrBusy = errors.New("engine busy")

// State is the device ownership state: Idle → Opening → Active → Stopping → Idle.
type State int32

const (
	StateIdle State = iota
	StateOpening
	StateActive
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateOpening:
		return "opening"
	case StateActive:
		return "active"
	case StateStopping:
		return "stopping"
	}
	return "unknown"
}

// machine guards state transitions.
type machine struct {
	mu    sync.Mutex
	state State
}

func (m *machine) get() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// transition moves from one of the allowed states to next and reports
// whether it happened.
func (m *machine) transition(next State, from ...State) (State, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur := m.state
	for _, f := range from {
		if cur == f {
			m.state = next
			return cur, true
		}
	}
	return cur, false
}

func (m *machine) set(s State) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}
