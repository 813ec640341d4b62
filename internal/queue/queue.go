// Package queue provides a bounded FIFO that evicts its oldest item when
// full.
package queue

import "sync"

// Ring is a thread-safe bounded FIFO backed by a circular buffer.
type Ring[T any] struct {
	mu      sync.Mutex
	buf     []T
	head    int // index of the oldest item
	n       int
	evicted int64
}

// New creates a Ring holding at most capacity items. A capacity below 1 is
// treated as 1.
func New[T any](capacity int) *Ring[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring[T]{buf: make([]T, capacity)}
}

// Push appends items, evicting the oldest ones once the ring is full. It
// returns how many items this call evicted.
func (r *Ring[T]) Push(items ...T) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	evicted := 0
	for _, it := range items {
		if r.n == len(r.buf) {
			r.buf[r.head] = it
			r.head = (r.head + 1) % len(r.buf)
			evicted++
			continue
		}
		r.buf[(r.head+r.n)%len(r.buf)] = it
		r.n++
	}
	r.evicted += int64(evicted)
	return evicted
}

// Pop removes and returns the oldest item. ok is false when the ring is empty.
func (r *Ring[T]) Pop() (item T, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.n == 0 {
		return item, false
	}
	item = r.buf[r.head]
	var zero T
	r.buf[r.head] = zero
	r.head = (r.head + 1) % len(r.buf)
	r.n--
	return item, true
}

// Drain returns every item oldest first and empties the ring.
func (r *Ring[T]) Drain() []T {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]T, r.n)
	var zero T
	for i := range out {
		idx := (r.head + i) % len(r.buf)
		out[i] = r.buf[idx]
		r.buf[idx] = zero
	}
	r.head, r.n = 0, 0
	return out
}

// Len returns the number of items held.
func (r *Ring[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.n
}

// Cap returns the capacity.
func (r *Ring[T]) Cap() int {
	return len(r.buf)
}

// Evicted counts items pushed out by overflow since creation.
func (r *Ring[T]) Evicted() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.evicted
}
