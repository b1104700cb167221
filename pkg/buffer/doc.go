// Package buffer provides a generic, thread-safe circular buffer.
//
// # Overview
//
// A circular buffer holds at most Capacity items. Writes into a full buffer follow
// the overflow policy:
//
//   - DropOldest (default): the oldest-inserted item is evicted to admit the new one
//   - DropNewest: the new item is discarded
//
// Dropped items are reported through an optional DropCallback, which always runs
// outside the buffer lock.
//
// # Usage
//
//	buf, err := buffer.NewCircularBuffer[*osc.Message](1000,
//	    buffer.WithOverflowPolicy[*osc.Message](buffer.DropOldest),
//	    buffer.WithMetrics[*osc.Message](registry, "store_endpoint_1"),
//	)
//
//	_ = buf.Write(msg)
//	all := buf.Snapshot() // oldest first, buffer unchanged
//
// Resize re-allocates the ring in place. Growing keeps every item; shrinking
// drops the oldest-inserted items. Callers that need a different survivor set
// (for example by timestamp) Clear the buffer, Resize it, and write the survivors
// back in the order they want preserved.
//
// # Statistics
//
// Statistics are always collected (writes, reads, overflows, drops, size, max
// size). Prometheus export is enabled with WithMetrics; registration failures are
// returned from NewCircularBuffer as transient errors.
package buffer
