// Package logstream keeps the shell's bounded copy of the backend log stream and runs
// the long-poll loop that fills it.
package logstream

import (
	"sync"

	"nlink_desk/internal/shared/types"
)

const (
	// DefaultCapacity is the number of entries kept before the oldest are evicted.
	DefaultCapacity = 10000
	// DefaultTail is the number of entries returned when a reader does not ask for a count.
	DefaultTail = 100
)

// Buffer is a fixed-capacity FIFO of log entries. Appending to a full buffer evicts the
// oldest entries. It is safe for concurrent use.
type Buffer struct {
	mu    sync.RWMutex
	ring  []types.LogEntry
	start int // index of the oldest entry
	size  int
	total uint64
}

// NewBuffer creates a buffer holding at most capacity entries. A non-positive capacity
// selects DefaultCapacity.
func NewBuffer(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Buffer{ring: make([]types.LogEntry, capacity)}
}

// Append adds entries in order. Cost is proportional to the batch, not the buffer.
func (b *Buffer) Append(entries ...types.LogEntry) {
	if len(entries) == 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	b.total += uint64(len(entries))
	capacity := len(b.ring)
	// Only the last capacity entries of an oversized batch can survive.
	if len(entries) >= capacity {
		copy(b.ring, entries[len(entries)-capacity:])
		b.start = 0
		b.size = capacity
		return
	}
	for _, e := range entries {
		end := (b.start + b.size) % capacity
		b.ring[end] = e
		if b.size < capacity {
			b.size++
		} else {
			b.start = (b.start + 1) % capacity
		}
	}
}

// ReadTail returns the newest n entries in chronological order. n <= 0 selects
// DefaultTail.
func (b *Buffer) ReadTail(n int) []types.LogEntry {
	if n <= 0 {
		n = DefaultTail
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	if n > b.size {
		n = b.size
	}
	return b.copyRange(b.size-n, n)
}

// ReadHead returns the oldest n entries in chronological order. n <= 0 selects
// DefaultTail.
func (b *Buffer) ReadHead(n int) []types.LogEntry {
	if n <= 0 {
		n = DefaultTail
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	if n > b.size {
		n = b.size
	}
	return b.copyRange(0, n)
}

// copyRange copies n entries starting at logical offset from. Caller holds the lock.
func (b *Buffer) copyRange(from, n int) []types.LogEntry {
	out := make([]types.LogEntry, n)
	capacity := len(b.ring)
	first := (b.start + from) % capacity
	copied := copy(out, b.ring[first:min(first+n, capacity)])
	copy(out[copied:], b.ring[:n-copied])
	return out
}

// Len returns the number of entries currently held.
func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.size
}

// Cap returns the capacity.
func (b *Buffer) Cap() int {
	return len(b.ring)
}

// Total returns the number of entries ever appended, evicted ones included.
func (b *Buffer) Total() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.total
}
