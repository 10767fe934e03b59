// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package tixnet implements the TIX connection lifecycle: the bidirectional
// packet connection over a reliable stream (§4.3) and the phase state
// machine with capability negotiation (§4.4).
package tixnet

import (
	"fmt"
	"sync"
	"time"

	"github.com/elcapor/tix/internal/protocol"
)

// Phase is a connection's lifecycle state.
type Phase int

const (
	PhaseDisconnected Phase = iota
	PhaseConnecting
	PhaseHandshaking
	PhaseConnected
	PhaseDisconnecting
)

func (p Phase) String() string {
	switch p {
	case PhaseDisconnected:
		return "Disconnected"
	case PhaseConnecting:
		return "Connecting"
	case PhaseHandshaking:
		return "Handshaking"
	case PhaseConnected:
		return "Connected"
	case PhaseDisconnecting:
		return "Disconnecting"
	default:
		return "Unknown"
	}
}

// allowedEdges enumerates the exact DAG in §4.4. Every transition not
// present here is rejected.
var allowedEdges = map[Phase]map[Phase]bool{
	PhaseDisconnected:  {PhaseConnecting: true},
	PhaseConnecting:    {PhaseHandshaking: true, PhaseDisconnected: true},
	PhaseHandshaking:   {PhaseConnected: true, PhaseDisconnecting: true, PhaseDisconnected: true},
	PhaseConnected:     {PhaseDisconnecting: true},
	PhaseDisconnecting: {PhaseDisconnected: true},
}

// PhaseMachine holds the current connection phase plus the instant it
// entered the Connected state, guarded for concurrent readers.
type PhaseMachine struct {
	mu    sync.Mutex
	phase Phase
	since time.Time
}

// NewPhaseMachine returns a machine starting in PhaseDisconnected.
func NewPhaseMachine() *PhaseMachine {
	return &PhaseMachine{phase: PhaseDisconnected}
}

// Current returns the current phase.
func (m *PhaseMachine) Current() Phase {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.phase
}

// ConnectedSince returns the instant the machine last entered PhaseConnected
// and true, or the zero time and false if it is not currently Connected.
func (m *PhaseMachine) ConnectedSince() (time.Time, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.phase != PhaseConnected {
		return time.Time{}, false
	}
	return m.since, true
}

// Transition attempts to move to next. Illegal transitions leave the state
// unchanged and return a ProtocolViolationError-shaped error.
func (m *PhaseMachine) Transition(next Phase) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if edges, ok := allowedEdges[m.phase]; !ok || !edges[next] {
		return &protocol.ProtocolViolationError{Reason: fmt.Sprintf("illegal phase transition %s -> %s", m.phase, next)}
	}
	m.phase = next
	if next == PhaseConnected {
		m.since = time.Now()
	} else {
		m.since = time.Time{}
	}
	return nil
}

// ForceDisconnect bypasses transition validation — the only sanctioned way
// to leave PhaseConnected abruptly, for unrecoverable I/O errors.
func (m *PhaseMachine) ForceDisconnect() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.phase = PhaseDisconnected
	m.since = time.Time{}
}
