// Package buffer provides a generic, thread-safe circular buffer.
//
// The buffer backs each endpoint's message store and each stream client's send
// queue. Statistics are always collected; Prometheus metrics are optional via
// the WithMetrics functional option.
package buffer

// Buffer is a fixed-capacity FIFO container parameterized by item type T.
type Buffer[T any] interface {
	// Write adds an item. When the buffer is full the overflow policy decides
	// whether the oldest stored item or the new item is dropped.
	Write(item T) error

	// ReadBatch removes and returns up to max items, oldest first.
	ReadBatch(max int) []T

	// Snapshot returns all stored items, oldest first, without removing them.
	Snapshot() []T

	// Size returns the current number of items in the buffer.
	Size() int

	// Capacity returns the maximum number of items the buffer can hold.
	Capacity() int

	// IsFull returns true if the buffer is at maximum capacity.
	IsFull() bool

	// IsEmpty returns true if the buffer contains no items.
	IsEmpty() bool

	// Resize changes the capacity. Shrinking below the current size drops
	// the oldest-inserted items.
	Resize(capacity int) error

	// Clear removes all items from the buffer.
	Clear()

	// Stats returns buffer statistics.
	Stats() *Statistics

	// Close rejects further writes.
	Close() error
}

// OverflowPolicy defines how the buffer behaves when it reaches capacity.
type OverflowPolicy int

const (
	// DropOldest removes the oldest item to make room for new items.
	DropOldest OverflowPolicy = iota

	// DropNewest drops new items when the buffer is full.
	DropNewest
)

// String returns a human-readable representation of the overflow policy.
func (p OverflowPolicy) String() string {
	switch p {
	case DropOldest:
		return "DropOldest"
	case DropNewest:
		return "DropNewest"
	default:
		return "Unknown"
	}
}

// DropCallback is called with each item dropped by the overflow policy or by a
// shrinking Resize.
type DropCallback[T any] func(item T)

// NewCircularBuffer creates a new circular buffer with the specified capacity and options.
// Returns an error if capacity is not positive or metrics registration fails.
func NewCircularBuffer[T any](capacity int, options ...Option[T]) (Buffer[T], error) {
	opts := applyOptions(options...)
	return newCircularBuffer(capacity, opts)
}
