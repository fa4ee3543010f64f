// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package bridge

import "sync"

// Queue is an unbounded FIFO of pending messages. Any number of
// goroutines may Enqueue concurrently; exactly one consumer should
// call TryDequeue.
//
// There is no backpressure. If the consumer stalls, the queue grows
// without limit.
type Queue struct {
	mu      sync.Mutex
	entries []Message
	notify  chan struct{}
}

// NewQueue returns an empty queue.
func NewQueue() *Queue {
	return &Queue{notify: make(chan struct{}, 1)}
}

// Enqueue appends payload to the tail. It never blocks on the
// consumer and never fails.
func (q *Queue) Enqueue(payload string) {
	q.mu.Lock()
	q.entries = append(q.entries, Message{Payload: payload})
	q.mu.Unlock()

	// Non-blocking signal to the consumer.
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// TryDequeue removes and returns the head message. The boolean is
// false when the queue is empty; TryDequeue never waits.
func (q *Queue) TryDequeue() (Message, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.entries) == 0 {
		return Message{}, false
	}
	head := q.entries[0]
	q.entries[0] = Message{} // release payload for GC
	q.entries = q.entries[1:]
	if len(q.entries) == 0 {
		// Drop the drained backing array rather than letting the
		// slice creep forward through it forever.
		q.entries = nil
	}
	return head, true
}

// Peek returns the head message without removing it. Only the
// consumer may rely on the head staying in place until its next
// TryDequeue.
func (q *Queue) Peek() (Message, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.entries) == 0 {
		return Message{}, false
	}
	return q.entries[0], true
}

// Len returns the number of queued messages.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// Notify returns a channel that receives a signal (coalesced, at most
// one pending) after each Enqueue. The consumer selects on it while
// idle so new messages are picked up without waiting for the poll
// interval.
func (q *Queue) Notify() <-chan struct{} {
	return q.notify
}
