package engine

import (
	"sync"

	"github.com/hupe1980/genrelay/core"
)

// Queue is an unbounded FIFO of lifecycle events with many producers and a
// single consumer. Push never blocks; the consumer waits on Ready and then
// drains everything queued so far, preserving arrival order.
type Queue struct {
	mu     sync.Mutex
	items  []core.Event
	ready  chan struct{}
	closed bool
}

// NewQueue creates an empty queue.
func NewQueue() *Queue {
	return &Queue{ready: make(chan struct{}, 1)}
}

// Push appends an event. It reports false once the queue is closed.
func (q *Queue) Push(ev core.Event) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.items = append(q.items, ev)
	q.mu.Unlock()

	select {
	case q.ready <- struct{}{}:
	default:
	}
	return true
}

// Ready is signalled at least once after any Push.
func (q *Queue) Ready() <-chan struct{} { return q.ready }

// Drain removes and returns every queued event in FIFO order.
func (q *Queue) Drain() []core.Event {
	q.mu.Lock()
	defer q.mu.Unlock()

	items := q.items
	q.items = nil
	return items
}

// Len returns the number of queued events.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close rejects further pushes. Already queued events stay drainable.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
}
