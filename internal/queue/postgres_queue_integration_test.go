package queue

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	_ "github.com/lib/pq"
)

// postgresIntegrationDSN mirrors the teacher's postgresIntegrationDSN
// helper in postgres_backend_integration_test.go: tests that need a
// real Postgres instance skip cleanly when the DSN env var is unset.
func postgresIntegrationDSN(t *testing.T) string {
	t.Helper()
	dsn := strings.TrimSpace(os.Getenv("SECRETREPLICA_TEST_POSTGRES_DSN"))
	if dsn == "" {
		t.Skip("set SECRETREPLICA_TEST_POSTGRES_DSN to run Postgres integration tests")
	}
	return dsn
}

var postgresIntegrationCounter uint64

func postgresIntegrationTableName(prefix string) string {
	n := atomic.AddUint64(&postgresIntegrationCounter, 1)
	return fmt.Sprintf("%s_%d_%d", prefix, time.Now().UnixNano(), n)
}

func postgresIntegrationDropTable(t *testing.T, dsn, tableName string) {
	t.Helper()
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		t.Fatalf("open postgres for cleanup: %v", err)
	}
	defer db.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := db.ExecContext(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s", quoteIdentifier(tableName))); err != nil {
		t.Fatalf("drop cleanup table %q: %v", tableName, err)
	}
}

func TestPostgresIntegrationQueueFIFOAndCapacity(t *testing.T) {
	dsn := postgresIntegrationDSN(t)

	q, err := NewPostgresQueue[string](dsn, postgresIntegrationTableName("secretreplica_q_it"), 2)
	if err != nil {
		t.Fatalf("new postgres queue: %v", err)
	}
	pq, ok := q.(*postgresQueue[string])
	if !ok {
		t.Fatalf("expected *postgresQueue[string], got %T", q)
	}
	t.Cleanup(func() {
		_ = q.Close()
		postgresIntegrationDropTable(t, dsn, pq.core.tableName)
	})

	if !q.TryEnqueue("job_a") {
		t.Fatalf("expected enqueue job_a to succeed")
	}
	if !q.TryEnqueue("job_b") {
		t.Fatalf("expected enqueue job_b to succeed")
	}
	if q.TryEnqueue("job_c") {
		t.Fatalf("expected enqueue job_c to fail at capacity")
	}
	if depth := q.Depth(); depth != 2 {
		t.Fatalf("expected depth 2, got %d", depth)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	first, ok := q.Dequeue(ctx)
	if !ok || first != "job_a" {
		t.Fatalf("expected first dequeue job_a, got ok=%v value=%q", ok, first)
	}
	second, ok := q.Dequeue(ctx)
	if !ok || second != "job_b" {
		t.Fatalf("expected second dequeue job_b, got ok=%v value=%q", ok, second)
	}

	emptyCtx, emptyCancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer emptyCancel()
	if _, ok := q.Dequeue(emptyCtx); ok {
		t.Fatalf("expected empty dequeue to return false")
	}
}

func TestPostgresIntegrationQueueCapacityUnderConcurrentEnqueue(t *testing.T) {
	dsn := postgresIntegrationDSN(t)

	q, err := NewPostgresQueue[string](dsn, postgresIntegrationTableName("secretreplica_q_race_it"), 1)
	if err != nil {
		t.Fatalf("new postgres queue: %v", err)
	}
	pq, ok := q.(*postgresQueue[string])
	if !ok {
		t.Fatalf("expected *postgresQueue[string], got %T", q)
	}
	t.Cleanup(func() {
		_ = q.Close()
		postgresIntegrationDropTable(t, dsn, pq.core.tableName)
	})

	const producers = 16
	var successCount atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < producers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			if q.TryEnqueue(fmt.Sprintf("job_%d", n)) {
				successCount.Add(1)
			}
		}(i)
	}
	wg.Wait()

	if got := successCount.Load(); got != 1 {
		t.Fatalf("expected exactly 1 successful enqueue at capacity=1, got %d", got)
	}
	if depth := q.Depth(); depth != 1 {
		t.Fatalf("expected queue depth 1 after concurrent enqueue, got %d", depth)
	}
}

func TestPostgresIntegrationQueueRestartPersistence(t *testing.T) {
	dsn := postgresIntegrationDSN(t)
	tableName := postgresIntegrationTableName("secretreplica_q_restart_it")

	q, err := NewPostgresQueue[string](dsn, tableName, 2)
	if err != nil {
		t.Fatalf("new postgres queue: %v", err)
	}
	t.Cleanup(func() { postgresIntegrationDropTable(t, dsn, tableName) })

	if !q.TryEnqueue("job_a") {
		t.Fatalf("expected enqueue job_a to succeed")
	}
	if err := q.Close(); err != nil {
		t.Fatalf("close first queue: %v", err)
	}

	reopened, err := NewPostgresQueue[string](dsn, tableName, 2)
	if err != nil {
		t.Fatalf("reopen postgres queue: %v", err)
	}
	t.Cleanup(func() { _ = reopened.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	got, ok := reopened.Dequeue(ctx)
	if !ok || got != "job_a" {
		t.Fatalf("expected dequeued job_a after reopen, got ok=%v value=%q", ok, got)
	}
}
