// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package render implements the ordered, possibly-blocked task queue that
// serializes all drawing operations dispatched off the wire (§4.I).
//
// Instructions arrive one at a time but some of them — an img/jpeg/png draw
// that must wait on a decode, a put that must wait on a stream body — cannot
// run the instant they're parsed. The queue lets a handler submit a Task
// immediately and mark it blocked; the task only executes once something
// later calls Unblock on it. Frames preserve submission order: a frame with
// a still-blocked task never lets a later frame run ahead of it, and tasks
// inside one frame always run in the order they were scheduled.
package render

import "sync"

// Task is one scheduled unit of drawing work. Handler runs exactly once,
// when the queue reaches it and it is no longer blocked.
type Task struct {
	handler func()
	blocked bool

	queue *Queue
	frame *frame
}

// Unblock clears the task's blocked flag and re-drains the queue. Safe to
// call from any goroutine; safe to call more than once.
func (t *Task) Unblock() {
	t.queue.mu.Lock()
	defer t.queue.mu.Unlock()
	if !t.blocked {
		return
	}
	t.blocked = false
	t.queue.drainLocked()
}

type frame struct {
	tasks      []*Task
	onComplete func()
	ran        bool
}

func (f *frame) ready() bool {
	for _, t := range f.tasks {
		if t.blocked {
			return false
		}
	}
	return true
}

// Queue holds a linear pending task list plus a FIFO of sealed frames, and
// drains frames to completion in submission order.
type Queue struct {
	mu      sync.Mutex
	pending []*Task
	frames  []*frame
}

// New returns an empty Queue.
func New() *Queue {
	return &Queue{}
}

// Schedule appends a Task running handler to the pending list and returns
// it. If blocked is true the task will not run until its Unblock is called.
func (q *Queue) Schedule(handler func(), blocked bool) *Task {
	q.mu.Lock()
	defer q.mu.Unlock()

	t := &Task{handler: handler, blocked: blocked, queue: q}
	q.pending = append(q.pending, t)
	return t
}

// Flush seals the current pending list into a Frame carrying callback as
// its completion hook, empties pending, and drains.
func (q *Queue) Flush(callback func()) {
	q.mu.Lock()
	defer q.mu.Unlock()

	f := &frame{tasks: q.pending, onComplete: callback}
	q.pending = nil
	q.frames = append(q.frames, f)
	q.drainLocked()
}

// drainLocked executes every ready frame at the head of the queue in order,
// stopping at the first frame that still has a blocked task. Must be called
// with mu held.
func (q *Queue) drainLocked() {
	for len(q.frames) > 0 {
		head := q.frames[0]
		if !head.ready() {
			return
		}
		if !head.ran {
			for _, t := range head.tasks {
				t.handler()
			}
			head.ran = true
			if head.onComplete != nil {
				head.onComplete()
			}
		}
		q.frames = q.frames[1:]
	}
}

// Pending reports the number of tasks queued but not yet sealed into a
// frame by Flush.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Frames reports the number of sealed frames still waiting to drain
// (including a head frame blocked on an unready task).
func (q *Queue) Frames() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.frames)
}
