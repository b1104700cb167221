package buffer

import (
	"fmt"
	"sync"

	"github.com/c360/oscbridge/errors"
)

// circularBuffer is a thread-safe ring with configurable overflow policy.
type circularBuffer[T any] struct {
	mu      sync.RWMutex
	items   []T
	size    int
	head    int // next write position
	tail    int // oldest item
	stats   *Statistics
	metrics *bufferMetrics
	opts    *bufferOptions[T]
	closed  bool
}

func newCircularBuffer[T any](capacity int, opts *bufferOptions[T]) (*circularBuffer[T], error) {
	if capacity <= 0 {
		return nil, errors.WrapInvalid(fmt.Errorf("capacity %d must be positive", capacity),
			"buffer", "newCircularBuffer", "capacity validation")
	}

	var metrics *bufferMetrics
	if opts.metricsReg != nil && opts.metricsPrefix != "" {
		var err error
		metrics, err = newBufferMetrics(opts.metricsReg, opts.metricsPrefix)
		if err != nil {
			return nil, errors.WrapTransient(err, "buffer", "newCircularBuffer", "metrics registration")
		}
	}

	return &circularBuffer[T]{
		items:   make([]T, capacity),
		stats:   NewStatistics(),
		metrics: metrics,
		opts:    opts,
	}, nil
}

// Write adds an item to the buffer according to the overflow policy.
func (cb *circularBuffer[T]) Write(item T) error {
	var dropped []T
	defer func() { cb.notifyDropped(dropped) }()

	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.closed {
		return errors.WrapInvalid(errors.ErrAlreadyStopped, "Buffer", "Write", "buffer closed")
	}

	if cb.size == len(cb.items) {
		cb.stats.Overflow()
		cb.stats.Drop()
		if cb.metrics != nil {
			cb.metrics.recordOverflow()
		}

		if cb.opts.overflowPolicy == DropNewest {
			dropped = append(dropped, item)
			return nil
		}
		dropped = append(dropped, cb.popOldest())
	}

	cb.items[cb.head] = item
	cb.head = (cb.head + 1) % len(cb.items)
	cb.size++

	cb.stats.Write()
	cb.stats.UpdateSize(int64(cb.size))
	if cb.metrics != nil {
		cb.metrics.recordWrite(cb.size, len(cb.items))
	}

	return nil
}

// popOldest removes the oldest item. Caller holds the lock and guarantees size > 0.
func (cb *circularBuffer[T]) popOldest() T {
	var zero T
	item := cb.items[cb.tail]
	cb.items[cb.tail] = zero
	cb.tail = (cb.tail + 1) % len(cb.items)
	cb.size--
	return item
}

// ReadBatch removes and returns up to max items, oldest first.
func (cb *circularBuffer[T]) ReadBatch(max int) []T {
	if max <= 0 {
		return nil
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.size == 0 {
		return nil
	}

	n := max
	if n > cb.size {
		n = cb.size
	}

	result := make([]T, n)
	for i := 0; i < n; i++ {
		result[i] = cb.popOldest()
		cb.stats.Read()
	}

	cb.stats.UpdateSize(int64(cb.size))
	if cb.metrics != nil {
		cb.metrics.recordRead(n, cb.size, len(cb.items))
	}

	return result
}

// Snapshot returns a copy of all stored items, oldest first.
func (cb *circularBuffer[T]) Snapshot() []T {
	cb.mu.RLock()
	defer cb.mu.RUnlock()

	result := make([]T, cb.size)
	for i := 0; i < cb.size; i++ {
		result[i] = cb.items[(cb.tail+i)%len(cb.items)]
	}
	return result
}

// Size returns the current number of items in the buffer.
func (cb *circularBuffer[T]) Size() int {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.size
}

// Capacity returns the maximum number of items the buffer can hold.
func (cb *circularBuffer[T]) Capacity() int {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return len(cb.items)
}

// IsFull returns true if the buffer is at maximum capacity.
func (cb *circularBuffer[T]) IsFull() bool {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.size == len(cb.items)
}

// IsEmpty returns true if the buffer contains no items.
func (cb *circularBuffer[T]) IsEmpty() bool {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.size == 0
}

// Resize re-allocates the ring. Items are kept in insertion order; when the new
// capacity is smaller than the current size the oldest items are dropped.
func (cb *circularBuffer[T]) Resize(capacity int) error {
	if capacity <= 0 {
		return errors.WrapInvalid(fmt.Errorf("capacity %d must be positive", capacity),
			"Buffer", "Resize", "capacity validation")
	}

	var dropped []T
	defer func() { cb.notifyDropped(dropped) }()

	cb.mu.Lock()
	defer cb.mu.Unlock()

	for cb.size > capacity {
		dropped = append(dropped, cb.popOldest())
		cb.stats.Drop()
	}

	items := make([]T, capacity)
	for i := 0; i < cb.size; i++ {
		items[i] = cb.items[(cb.tail+i)%len(cb.items)]
	}

	cb.items = items
	cb.tail = 0
	cb.head = cb.size % capacity

	cb.stats.UpdateSize(int64(cb.size))
	if cb.metrics != nil {
		cb.metrics.updateSize(cb.size, capacity)
	}

	return nil
}

// Clear removes all items from the buffer. Cleared items are not reported
// to the drop callback.
func (cb *circularBuffer[T]) Clear() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	var zero T
	for i := range cb.items {
		cb.items[i] = zero
	}

	cb.head = 0
	cb.tail = 0
	cb.size = 0

	cb.stats.UpdateSize(0)
	if cb.metrics != nil {
		cb.metrics.updateSize(0, len(cb.items))
	}
}

// Stats returns buffer statistics.
func (cb *circularBuffer[T]) Stats() *Statistics {
	return cb.stats
}

// Close rejects further writes. Stored items stay readable.
func (cb *circularBuffer[T]) Close() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.closed = true
	return nil
}

// notifyDropped runs the drop callback outside the lock.
func (cb *circularBuffer[T]) notifyDropped(items []T) {
	if len(items) == 0 {
		return
	}
	if cb.metrics != nil {
		cb.metrics.recordDrops(len(items))
	}
	if cb.opts.dropCallback == nil {
		return
	}
	for _, item := range items {
		cb.opts.dropCallback(item)
	}
}
