// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package agentstate holds the agent side's connection phase, negotiated
// capabilities, and active-task registry (§4.6).
package agentstate

import (
	"sync"

	"github.com/elcapor/tix/internal/tixnet"
)

// State is the agent's view of one connection.
type State struct {
	Phase *tixnet.PhaseMachine

	mu           sync.Mutex
	local        tixnet.Capabilities
	negotiated   tixnet.Capabilities
	activeTasks  map[uint64]struct{}
}

// New returns a State starting in PhaseDisconnected with the given local
// capabilities.
func New(local tixnet.Capabilities) *State {
	return &State{
		Phase:       tixnet.NewPhaseMachine(),
		local:       local,
		activeTasks: make(map[uint64]struct{}),
	}
}

// SetNegotiated stores the capability set agreed during the Hello
// handshake.
func (s *State) SetNegotiated(c tixnet.Capabilities) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.negotiated = c
}

// Negotiated returns the capability set agreed during the Hello handshake.
func (s *State) Negotiated() tixnet.Capabilities {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.negotiated
}

// Local returns the agent's own advertised capabilities.
func (s *State) Local() tixnet.Capabilities {
	return s.local
}

// RegisterTask records id as active. It returns false if id is already
// present — the duplicate-spawn guard.
func (s *State) RegisterTask(id uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.activeTasks[id]; exists {
		return false
	}
	s.activeTasks[id] = struct{}{}
	return true
}

// CompleteTask removes id from the active set.
func (s *State) CompleteTask(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.activeTasks, id)
}

// HasTask reports whether id is currently registered as active.
func (s *State) HasTask(id uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.activeTasks[id]
	return ok
}

// ActiveTasks returns a snapshot of currently active task ids.
func (s *State) ActiveTasks() []uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]uint64, 0, len(s.activeTasks))
	for id := range s.activeTasks {
		ids = append(ids, id)
	}
	return ids
}
