// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package taskpool implements the agent-side cancellable, timed concurrent
// task spawner (§4.7). Each spawned task races its body's completion
// against a cancellation signal and an optional deadline, and emits
// exactly one terminal event.
package taskpool

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// EventKind classifies a terminal task event.
type EventKind int

const (
	EventFinished EventKind = iota
	EventCancelled
	EventTimeout
	EventFailed
)

func (k EventKind) String() string {
	switch k {
	case EventFinished:
		return "Finished"
	case EventCancelled:
		return "Cancelled"
	case EventTimeout:
		return "Timeout"
	case EventFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// Event is the terminal outcome of exactly one spawned task.
type Event struct {
	TaskID   uint64
	Kind     EventKind
	Err      error
	Duration time.Duration // populated for EventTimeout
}

// TaskFunc is a task body. It receives a context cancelled when the pool
// cancels the task or its deadline fires, so well-behaved bodies select on
// ctx.Done() to stop sub-work cleanly.
type TaskFunc func(ctx context.Context) error

// Options configures one spawn.
type Options struct {
	Name     string
	Deadline time.Duration // zero means no deadline
}

// handle tracks one in-flight task.
type handle struct {
	cancel   context.CancelFunc
	spawnAt  time.Time
	name     string
	deadline time.Duration
}

// Pool is a concurrent task spawner with per-task cancellation and
// timeouts. The zero value is not usable; construct with New.
type Pool struct {
	logger *slog.Logger

	mu      sync.Mutex
	active  map[uint64]*handle
	events  chan Event
	onFinished []func(Event)
}

// New returns a pool whose event channel can buffer up to eventBuffer
// pending events; once it is full, further events are logged and dropped
// rather than blocking the task goroutine. Pass 0 for a default of 256.
func New(logger *slog.Logger, eventBuffer int) *Pool {
	if logger == nil {
		logger = slog.Default()
	}
	if eventBuffer <= 0 {
		eventBuffer = 256
	}
	return &Pool{
		logger: logger,
		active: make(map[uint64]*handle),
		events: make(chan Event, eventBuffer),
	}
}

// Spawn starts fn under id with no deadline. It is shorthand for
// SpawnWithOptions(id, fn, Options{}).
func (p *Pool) Spawn(id uint64, fn TaskFunc) bool {
	return p.SpawnWithOptions(id, fn, Options{})
}

// SpawnWithOptions starts fn under id. It returns false, without starting
// fn, if id is already active in this pool.
func (p *Pool) SpawnWithOptions(id uint64, fn TaskFunc, opts Options) bool {
	ctx, cancel := context.WithCancel(context.Background())

	p.mu.Lock()
	if _, exists := p.active[id]; exists {
		p.mu.Unlock()
		cancel()
		return false
	}
	p.active[id] = &handle{
		cancel:   cancel,
		spawnAt:  time.Now(),
		name:     opts.Name,
		deadline: opts.Deadline,
	}
	p.mu.Unlock()

	go p.run(id, ctx, cancel, fn, opts.Deadline)
	return true
}

func (p *Pool) run(id uint64, ctx context.Context, cancel context.CancelFunc, fn TaskFunc, deadline time.Duration) {
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- fn(ctx)
	}()

	var timer *time.Timer
	var timerC <-chan time.Time
	if deadline > 0 {
		timer = time.NewTimer(deadline)
		timerC = timer.C
		defer timer.Stop()
	}

	select {
	case err := <-done:
		if ctx.Err() != nil {
			// The task observed cancellation cooperatively but still
			// returned through the normal path; cancellation still wins.
			p.emit(Event{TaskID: id, Kind: EventCancelled})
			return
		}
		if err != nil {
			p.emit(Event{TaskID: id, Kind: EventFailed, Err: err})
			return
		}
		p.emit(Event{TaskID: id, Kind: EventFinished})

	case <-timerC:
		// The race drops the work future: cancellation is only
		// cooperative, so the body goroutine may keep running, but the
		// terminal event fires immediately rather than waiting for it.
		cancel()
		p.emit(Event{TaskID: id, Kind: EventTimeout, Duration: deadline})

	case <-ctx.Done():
		p.emit(Event{TaskID: id, Kind: EventCancelled})
	}
}

func (p *Pool) emit(e Event) {
	p.mu.Lock()
	delete(p.active, e.TaskID)
	p.mu.Unlock()

	select {
	case p.events <- e:
	default:
		// Event buffer saturated: log and drop rather than block the task
		// goroutine indefinitely.
		p.logger.Warn("taskpool: event buffer full, dropping event", "task_id", e.TaskID, "kind", e.Kind.String())
	}

	p.mu.Lock()
	callbacks := append([]func(Event){}, p.onFinished...)
	p.mu.Unlock()
	for _, cb := range callbacks {
		cb(e)
	}
}

// OnFinished registers a callback fired for every terminal event, whether
// success or error, in addition to the event being delivered via Recv.
func (p *Pool) OnFinished(cb func(Event)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onFinished = append(p.onFinished, cb)
}

// Cancel requests cancellation of id. It returns false if id is not
// active.
func (p *Pool) Cancel(id uint64) bool {
	p.mu.Lock()
	h, ok := p.active[id]
	p.mu.Unlock()
	if !ok {
		return false
	}
	h.cancel()
	return true
}

// CancelAll requests cancellation of every currently active task.
func (p *Pool) CancelAll() {
	p.mu.Lock()
	handles := make([]*handle, 0, len(p.active))
	for _, h := range p.active {
		handles = append(handles, h)
	}
	p.mu.Unlock()
	for _, h := range handles {
		h.cancel()
	}
}

// IsActive reports whether id currently has a running task.
func (p *Pool) IsActive(id uint64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.active[id]
	return ok
}

// ActiveCount reports how many tasks are currently running.
func (p *Pool) ActiveCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.active)
}

// Recv blocks for the next terminal event. ok is false once the pool is
// closed and drained.
func (p *Pool) Recv() (Event, bool) {
	e, ok := <-p.events
	return e, ok
}

// Close closes the event channel. Callers must ensure no further Spawn
// calls occur afterwards.
func (p *Pool) Close() {
	close(p.events)
}
