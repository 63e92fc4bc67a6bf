// Package queue provides the in-memory submission queue that feeds the
// worker pool.
package queue

import (
	"context"
	"sync"
)

// Queue is an unbounded FIFO of job IDs. Submit never blocks; Next blocks
// until an ID is available or ctx is done. Duplicate IDs are not suppressed.
// Safe for concurrent use.
type Queue struct {
	mu    sync.Mutex
	items []string
	// ready is closed (and cleared) by the next Submit after a consumer
	// found the queue empty.
	ready chan struct{}
}

// New creates an empty queue.
func New() *Queue {
	return &Queue{}
}

// Submit appends id to the tail of the queue.
func (q *Queue) Submit(id string) {
	q.mu.Lock()
	q.items = append(q.items, id)
	q.wakeLocked()
	q.mu.Unlock()
}

// Next removes and returns the head of the queue, waiting without polling
// while the queue is empty.
func (q *Queue) Next(ctx context.Context) (string, error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			id := q.items[0]
			q.items[0] = ""
			q.items = q.items[1:]
			q.mu.Unlock()
			return id, nil
		}
		if q.ready == nil {
			q.ready = make(chan struct{})
		}
		ready := q.ready
		q.mu.Unlock()

		select {
		case <-ready:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
}

// Len returns the number of queued IDs.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *Queue) wakeLocked() {
	if q.ready != nil {
		close(q.ready)
		q.ready = nil
	}
}
