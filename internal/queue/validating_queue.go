package queue

import (
	"context"
	"encoding/json"
)

// validatingQueue wraps a Queue[T] and rejects enqueues whose
// JSON-marshaled form fails the given schema validator. Dequeue is
// passed through unchanged: a message already accepted onto the queue
// is delivered as-is.
type validatingQueue[T any] struct {
	inner    Queue[T]
	validate func([]byte) error
}

// NewValidatingQueue decorates inner with schema validation, used for
// the SecretReplication and SyncSecrets queues so malformed payloads
// never reach a worker.
func NewValidatingQueue[T any](inner Queue[T], validate func([]byte) error) Queue[T] {
	return &validatingQueue[T]{inner: inner, validate: validate}
}

func (q *validatingQueue[T]) valid(item T) bool {
	payload, err := json.Marshal(item)
	if err != nil {
		return false
	}
	return q.validate(payload) == nil
}

func (q *validatingQueue[T]) TryEnqueue(item T) bool {
	if !q.valid(item) {
		return false
	}
	return q.inner.TryEnqueue(item)
}

func (q *validatingQueue[T]) Enqueue(ctx context.Context, item T) bool {
	if !q.valid(item) {
		return false
	}
	return q.inner.Enqueue(ctx, item)
}

func (q *validatingQueue[T]) Dequeue(ctx context.Context) (T, bool) {
	return q.inner.Dequeue(ctx)
}

func (q *validatingQueue[T]) Depth() int {
	return q.inner.Depth()
}

func (q *validatingQueue[T]) Capacity() int {
	return q.inner.Capacity()
}

func (q *validatingQueue[T]) Close() error {
	return q.inner.Close()
}
