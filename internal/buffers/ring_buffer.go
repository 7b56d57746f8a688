// Package buffers provides a bounded ring buffer for the overlay call log.
package buffers

import "sync"

// RingBuffer is a generic fixed-capacity circular buffer.
// Entries are evicted in FIFO order when capacity is reached. Positions are
// monotonic so readers can resume from where they left off.
type RingBuffer[T any] struct {
	mu sync.RWMutex

	entries  []T
	capacity int

	totalAdded int64 // Monotonic counter of all entries ever added
	head       int   // Index where next write goes
}

// NewRingBuffer creates a new ring buffer with the given capacity.
// A non-positive capacity is treated as 1.
func NewRingBuffer[T any](capacity int) *RingBuffer[T] {
	if capacity <= 0 {
		capacity = 1
	}
	return &RingBuffer[T]{
		entries:  make([]T, 0, capacity),
		capacity: capacity,
	}
}

// WriteOne appends a single entry, evicting the oldest when full.
func (rb *RingBuffer[T]) WriteOne(entry T) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	if len(rb.entries) < rb.capacity {
		rb.entries = append(rb.entries, entry)
	} else {
		rb.entries[rb.head] = entry
	}
	rb.head = (rb.head + 1) % rb.capacity
	rb.totalAdded++
}

// ReadAll returns all entries currently in the buffer, oldest first.
func (rb *RingBuffer[T]) ReadAll() []T {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.lastLocked(len(rb.entries))
}

// ReadLast returns up to n of the newest entries, oldest first.
func (rb *RingBuffer[T]) ReadLast(n int) []T {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	if n > len(rb.entries) {
		n = len(rb.entries)
	}
	return rb.lastLocked(n)
}

// ReadFrom returns entries added at or after position and the position to
// resume from. Evicted positions are skipped.
func (rb *RingBuffer[T]) ReadFrom(position int64) ([]T, int64) {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	oldest := rb.totalAdded - int64(len(rb.entries))
	if position < oldest {
		position = oldest
	}
	available := rb.totalAdded - position
	if available <= 0 {
		return nil, rb.totalAdded
	}
	return rb.lastLocked(int(available)), rb.totalAdded
}

// lastLocked must be called with mu held and n <= len(entries).
func (rb *RingBuffer[T]) lastLocked(n int) []T {
	if n <= 0 {
		return nil
	}
	size := len(rb.entries)
	// Oldest entry sits at head once the buffer has wrapped, at 0 before.
	oldest := 0
	if size == rb.capacity {
		oldest = rb.head
	}
	start := oldest + size - n

	result := make([]T, 0, n)
	for i := 0; i < n; i++ {
		result = append(result, rb.entries[(start+i)%size])
	}
	return result
}

// Len returns the number of entries currently held.
func (rb *RingBuffer[T]) Len() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return len(rb.entries)
}

// TotalAdded returns the number of entries ever written.
func (rb *RingBuffer[T]) TotalAdded() int64 {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.totalAdded
}

// Clear removes all entries. Positions keep counting from where they were.
func (rb *RingBuffer[T]) Clear() {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	rb.entries = rb.entries[:0]
	rb.head = 0
}
