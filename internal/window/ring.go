// Package window provides a fixed-capacity rolling window used to keep
// recent telemetry samples and breaker outcomes.
package window

// Ring is a bounded FIFO backed by a ring buffer. Pushing beyond capacity
// evicts the oldest element in O(1); the window never exceeds its capacity,
// not even transiently. Ring is not safe for concurrent use; owners guard
// it with their own mutex.
type Ring[T any] struct {
	buf  []T
	head int
	size int
}

// New creates a ring with the given capacity. Capacities below one are
// raised to one so the window always holds at least the latest element.
func New[T any](capacity int) *Ring[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring[T]{buf: make([]T, capacity)}
}

// Push appends v, evicting and returning the oldest element when full.
func (r *Ring[T]) Push(v T) (evicted T, ok bool) {
	if r.size == len(r.buf) {
		evicted = r.buf[r.head]
		r.buf[r.head] = v
		r.head = (r.head + 1) % len(r.buf)
		return evicted, true
	}
	r.buf[(r.head+r.size)%len(r.buf)] = v
	r.size++
	return evicted, false
}

// Len reports the number of elements currently held.
func (r *Ring[T]) Len() int { return r.size }

// Cap reports the fixed capacity.
func (r *Ring[T]) Cap() int { return len(r.buf) }

// At returns the element at position i, where 0 is the oldest.
func (r *Ring[T]) At(i int) T {
	return r.buf[(r.head+i)%len(r.buf)]
}

// Last returns up to n most recent elements in chronological order.
// The returned slice is a copy.
func (r *Ring[T]) Last(n int) []T {
	if n > r.size {
		n = r.size
	}
	if n <= 0 {
		return nil
	}
	out := make([]T, n)
	start := r.size - n
	for i := 0; i < n; i++ {
		out[i] = r.At(start + i)
	}
	return out
}

// Values returns all elements oldest first. The returned slice is a copy.
func (r *Ring[T]) Values() []T {
	return r.Last(r.size)
}

// Clear drops all elements while keeping the allocated capacity.
func (r *Ring[T]) Clear() {
	var zero T
	for i := range r.buf {
		r.buf[i] = zero
	}
	r.head = 0
	r.size = 0
}
