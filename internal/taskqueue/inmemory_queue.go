package taskqueue

import (
	"context"
)

// defaultCapacity bounds the channel when the caller does not size the queue.
const defaultCapacity = 1024

// InMemoryQueue is a channel-backed Queue for single-process deployments and
// tests. Tasks are delivered to workers in enqueue order; NotBefore is not
// honored here, a delayed task becomes eligible immediately (the SQLite queue
// implements the delay). Safe for concurrent producers and consumers.
type InMemoryQueue struct {
	ch chan Task
}

// NewInMemoryQueue creates a queue holding at most capacity pending tasks.
// Enqueue blocks once the queue is full; capacity <= 0 selects a default
// sized for local runner workloads.
func NewInMemoryQueue(capacity int) *InMemoryQueue {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	return &InMemoryQueue{
		ch: make(chan Task, capacity),
	}
}

var _ Queue = (*InMemoryQueue)(nil)

func (q *InMemoryQueue) Enqueue(ctx context.Context, t Task) error {
	select {
	case q.ch <- t:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Dequeue blocks until a task arrives or ctx is cancelled. Each task is
// delivered to exactly one consumer.
func (q *InMemoryQueue) Dequeue(ctx context.Context) (*Task, error) {
	select {
	case t := <-q.ch:
		return &t, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Len reports the number of pending tasks. The value is advisory; concurrent
// enqueues and dequeues can change it immediately.
func (q *InMemoryQueue) Len() int {
	return len(q.ch)
}
