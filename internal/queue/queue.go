// Package queue implements the Queue Runtime (QR) and Downstream Sync
// Enqueuer (DSE) surfaces from spec §2: a pluggable FIFO delivery
// queue selected by DSN scheme, generalized from the
// teacher's string-payload EnvelopeQueue/WritebackQueue into one
// generic interface so the same backends serve both the inbound
// SecretReplication queue and the outbound SyncSecrets queue.
package queue

import (
	"context"
	"errors"
)

var (
	ErrInvalidInput   = errors.New("queue: invalid input")
	ErrNotImplemented = errors.New("queue: backend not implemented")
	ErrQueueFull      = errors.New("queue: full")
)

// Queue is a FIFO delivery queue of items of type T. Every backend
// removes an item when Dequeue hands it out; there is no
// acknowledgement, so an item whose consumer stops before finishing
// it is not delivered again. A backend is free to persist items
// however it likes; callers only depend on this interface.
type Queue[T any] interface {
	// TryEnqueue enqueues item without blocking, returning false if
	// the queue is at capacity or unavailable.
	TryEnqueue(item T) bool

	// Enqueue blocks (honoring ctx) until item is enqueued or ctx is
	// done.
	Enqueue(ctx context.Context, item T) bool

	// Dequeue blocks until an item is available or ctx is done.
	// Returns (zero, false) on cancellation/close.
	Dequeue(ctx context.Context) (T, bool)

	Depth() int
	Capacity() int
	Close() error
}
