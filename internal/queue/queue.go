// Package queue provides an unbounded FIFO hand-off between producers that
// must never block (notification callbacks) and a consumer that waits for
// the next item.
package queue

import (
	"context"
	"sync"
)

// Queue is safe for concurrent use. The zero value is ready to use.
//
// At any moment either the buffer or the waiter list is empty: an arriving
// item goes straight to the oldest waiter when there is one.
type Queue[T any] struct {
	mu      sync.Mutex
	items   []T
	waiters []chan T
}

// New returns an empty queue.
func New[T any]() *Queue[T] {
	return &Queue[T]{}
}

// Enqueue hands item to the oldest waiting Dequeue, or buffers it.
func (q *Queue[T]) Enqueue(item T) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.waiters) > 0 {
		w := q.waiters[0]
		q.waiters[0] = nil
		q.waiters = q.waiters[1:]
		w <- item // buffered, never blocks
		return
	}
	q.items = append(q.items, item)
}

// Dequeue returns the oldest buffered item, or waits for the next Enqueue.
// If ctx ends first the waiter is withdrawn and ctx.Err() is returned.
func (q *Queue[T]) Dequeue(ctx context.Context) (T, error) {
	q.mu.Lock()
	if len(q.items) > 0 {
		item := q.items[0]
		var zero T
		q.items[0] = zero
		q.items = q.items[1:]
		q.mu.Unlock()
		return item, nil
	}
	w := make(chan T, 1)
	q.waiters = append(q.waiters, w)
	q.mu.Unlock()

	select {
	case item := <-w:
		return item, nil
	case <-ctx.Done():
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	for i, other := range q.waiters {
		if other == w {
			q.waiters = append(q.waiters[:i], q.waiters[i+1:]...)
			var zero T
			return zero, ctx.Err()
		}
	}
	// Enqueue handed us an item between ctx firing and re-locking; deliver it
	// rather than lose it.
	return <-w, nil
}

// Len reports the number of buffered items. Waiters are not counted.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// IsEmpty reports whether no items are buffered.
func (q *Queue[T]) IsEmpty() bool {
	return q.Len() == 0
}

// Drain discards all buffered items and returns how many were dropped.
func (q *Queue[T]) Drain() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.items)
	q.items = nil
	return n
}

// Waiting reports the number of suspended Dequeue calls.
func (q *Queue[T]) Waiting() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.waiters)
}
