// Package queue provides a bounded, multi-producer multi-consumer queue of
// deferred jobs. Enqueue blocks when the queue is full (backpressure, never
// drop); Dequeue blocks until a job arrives or the queue is shut down.
package queue

import (
	"context"
	"errors"
	"sync"
)

// DefaultCapacity bounds the queue when no capacity is configured. Sized to
// the expected concurrent-upload ceiling of one host.
const DefaultCapacity = 100

// ErrClosed is returned by Enqueue after Close.
var ErrClosed = errors.New("queue is shut down")

// Queue is a bounded FIFO of jobs. Safe for concurrent producers and
// consumers; delivery order follows submission order per queue.
type Queue[T any] struct {
	ch   chan T
	done chan struct{}
	once sync.Once
}

// New creates a queue with the given capacity (DefaultCapacity if <= 0).
func New[T any](capacity int) *Queue[T] {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Queue[T]{
		ch:   make(chan T, capacity),
		done: make(chan struct{}),
	}
}

// Enqueue submits a job, blocking while the queue is full. It fails only
// when the context is canceled or the queue has been shut down.
func (q *Queue[T]) Enqueue(ctx context.Context, job T) error {
	select {
	case <-q.done:
		return ErrClosed
	default:
	}
	select {
	case q.ch <- job:
		return nil
	case <-q.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Dequeue blocks until a job is available. The second return value is false
// when the queue is shut down or the context is canceled.
func (q *Queue[T]) Dequeue(ctx context.Context) (T, bool) {
	var zero T
	select {
	case job := <-q.ch:
		return job, true
	case <-q.done:
		return zero, false
	case <-ctx.Done():
		return zero, false
	}
}

// Close shuts the queue down. Blocked producers and consumers are released;
// jobs still buffered are dropped, consistent with the at-most-once promise.
func (q *Queue[T]) Close() {
	q.once.Do(func() { close(q.done) })
}

// Len reports the number of buffered jobs.
func (q *Queue[T]) Len() int {
	return len(q.ch)
}
