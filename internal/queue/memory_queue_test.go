package queue

import (
	"context"
	"testing"
	"time"
)

func TestMemoryQueueTryEnqueueRespectsCapacity(t *testing.T) {
	q := NewMemoryQueue[string](1)
	if !q.TryEnqueue("a") {
		t.Fatalf("expected first enqueue to succeed")
	}
	if q.TryEnqueue("b") {
		t.Fatalf("expected second enqueue to fail once at capacity")
	}
}

func TestMemoryQueueDequeueReturnsFIFOOrder(t *testing.T) {
	q := NewMemoryQueue[string](4)
	q.TryEnqueue("first")
	q.TryEnqueue("second")

	ctx := context.Background()
	got, ok := q.Dequeue(ctx)
	if !ok || got != "first" {
		t.Fatalf("expected first item dequeued, got %q ok=%v", got, ok)
	}
	got, ok = q.Dequeue(ctx)
	if !ok || got != "second" {
		t.Fatalf("expected second item dequeued, got %q ok=%v", got, ok)
	}
}

func TestMemoryQueueDequeueUnblocksOnContextCancel(t *testing.T) {
	q := NewMemoryQueue[string](4)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, ok := q.Dequeue(ctx)
	if ok {
		t.Fatalf("expected dequeue on an empty, cancelled queue to return false")
	}
}

func TestMemoryQueueCloseUnblocksDequeue(t *testing.T) {
	q := NewMemoryQueue[string](4)
	done := make(chan bool, 1)
	go func() {
		_, ok := q.Dequeue(context.Background())
		done <- ok
	}()

	time.Sleep(5 * time.Millisecond)
	q.Close()

	select {
	case ok := <-done:
		if ok {
			t.Fatalf("expected dequeue to report false after close")
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for dequeue to unblock after close")
	}
}
