// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package controller tracks the controller side's outstanding requests
// (§4.5): a mapping from request id to tracked request, with optional
// per-request deadlines reaped by a periodic scan the caller drives.
package controller

import (
	"sync"
	"time"

	"github.com/elcapor/tix/internal/protocol"
)

// TrackedRequest is one outstanding request awaiting a correlated
// response.
type TrackedRequest struct {
	Packet   protocol.Packet
	SentAt   time.Time
	Deadline *time.Duration
}

// State tracks outstanding requests by id. The zero value is not usable;
// construct with New.
type State struct {
	mu              sync.Mutex
	pending         map[uint64]TrackedRequest
	defaultDeadline *time.Duration
}

// New returns an empty State. defaultDeadline, if non-nil, is applied
// whenever Track is called without an explicit deadline.
func New(defaultDeadline *time.Duration) *State {
	return &State{
		pending:         make(map[uint64]TrackedRequest),
		defaultDeadline: defaultDeadline,
	}
}

// Track records a newly-sent request. deadline overrides the configured
// default; pass nil to fall back to it (nil default means "never
// expires").
func (s *State) Track(id uint64, p protocol.Packet, deadline *time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d := deadline
	if d == nil {
		d = s.defaultDeadline
	}
	s.pending[id] = TrackedRequest{Packet: p, SentAt: time.Now(), Deadline: d}
}

// Resolve removes and returns the tracked request for id, if any.
func (s *State) Resolve(id uint64) (TrackedRequest, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.pending[id]
	if ok {
		delete(s.pending, id)
	}
	return req, ok
}

// IsPending reports whether id is currently tracked.
func (s *State) IsPending(id uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.pending[id]
	return ok
}

// PendingCount reports how many requests are currently tracked.
func (s *State) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// CheckTimeouts returns the ids whose deadline has elapsed, without
// removing them. Expiry is not automatic: callers decide between retry,
// user notification, and drop.
func (s *State) CheckTimeouts() []uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	var expired []uint64
	for id, req := range s.pending {
		if req.Deadline != nil && now.Sub(req.SentAt) > *req.Deadline {
			expired = append(expired, id)
		}
	}
	return expired
}

// ExpiredRequest pairs a request id with the request that expired.
type ExpiredRequest struct {
	ID      uint64
	Request TrackedRequest
}

// DrainExpired removes and returns every expired tracked request.
func (s *State) DrainExpired() []ExpiredRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	var drained []ExpiredRequest
	for id, req := range s.pending {
		if req.Deadline != nil && now.Sub(req.SentAt) > *req.Deadline {
			drained = append(drained, ExpiredRequest{ID: id, Request: req})
			delete(s.pending, id)
		}
	}
	return drained
}
