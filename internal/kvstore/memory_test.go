package kvstore

import (
	"context"
	"testing"
	"time"

	"github.com/orgvault/secretreplica/internal/replication"
)

func TestMemoryKVAcquireLockSetExcludesSecondCaller(t *testing.T) {
	kv := NewMemoryKVStore()
	ctx := context.Background()

	release, _, err := kv.AcquireLockSet(ctx, []string{"a", "b"}, replication.TTL(1000))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer release(ctx)

	if _, _, err := kv.AcquireLockSet(ctx, []string{"b", "c"}, replication.TTL(1000)); err != replication.ErrLockUnavailable {
		t.Fatalf("expected ErrLockUnavailable for an overlapping key set, got %v", err)
	}
}

func TestMemoryKVAcquireLockSetReleaseFreesKeys(t *testing.T) {
	kv := NewMemoryKVStore()
	ctx := context.Background()

	release, _, err := kv.AcquireLockSet(ctx, []string{"a"}, replication.TTL(1000))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	release(ctx)

	if _, _, err := kv.AcquireLockSet(ctx, []string{"a"}, replication.TTL(1000)); err != nil {
		t.Fatalf("expected to re-acquire after release, got %v", err)
	}
}

func TestMemoryKVAcquireLockSetExpiresAfterTTL(t *testing.T) {
	kv := NewMemoryKVStore()
	ctx := context.Background()

	_, _, err := kv.AcquireLockSet(ctx, []string{"a"}, replication.TTL(5))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	time.Sleep(20 * time.Millisecond)

	if _, _, err := kv.AcquireLockSet(ctx, []string{"a"}, replication.TTL(1000)); err != nil {
		t.Fatalf("expected to acquire an expired lock, got %v", err)
	}
}

func TestMemoryKVRenewExtendsTTL(t *testing.T) {
	kv := NewMemoryKVStore()
	ctx := context.Background()

	release, renew, err := kv.AcquireLockSet(ctx, []string{"a"}, replication.TTL(20))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer release(ctx)

	time.Sleep(10 * time.Millisecond)
	if err := renew(ctx, replication.TTL(200)); err != nil {
		t.Fatalf("unexpected renew error: %v", err)
	}

	time.Sleep(15 * time.Millisecond)
	if _, _, err := kv.AcquireLockSet(ctx, []string{"a"}, replication.TTL(1000)); err != replication.ErrLockUnavailable {
		t.Fatalf("expected the renewed lock to still be held, got %v", err)
	}
}

func TestMemoryKVRenewFailsOnceLockIsGone(t *testing.T) {
	kv := NewMemoryKVStore()
	ctx := context.Background()

	_, renew, err := kv.AcquireLockSet(ctx, []string{"a"}, replication.TTL(5))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	time.Sleep(20 * time.Millisecond)

	if err := renew(ctx, replication.TTL(1000)); err != replication.ErrLockUnavailable {
		t.Fatalf("expected renew on an expired lock to fail, got %v", err)
	}
}

func TestMemoryKVSetIfAbsentOnlyStoresOnce(t *testing.T) {
	kv := NewMemoryKVStore()
	ctx := context.Background()

	stored, err := kv.SetIfAbsent(ctx, "k", "v1", replication.TTL(1000))
	if err != nil || !stored {
		t.Fatalf("expected first SetIfAbsent to store, stored=%v err=%v", stored, err)
	}
	stored, err = kv.SetIfAbsent(ctx, "k", "v2", replication.TTL(1000))
	if err != nil || stored {
		t.Fatalf("expected second SetIfAbsent to be a no-op, stored=%v err=%v", stored, err)
	}
}

func TestMemoryKVExistsReflectsExpiry(t *testing.T) {
	kv := NewMemoryKVStore()
	ctx := context.Background()

	if ok, _ := kv.Exists(ctx, "missing"); ok {
		t.Fatalf("expected missing key to not exist")
	}

	kv.SetIfAbsent(ctx, "k", "v", replication.TTL(5))
	if ok, _ := kv.Exists(ctx, "k"); !ok {
		t.Fatalf("expected freshly set key to exist")
	}

	time.Sleep(20 * time.Millisecond)
	if ok, _ := kv.Exists(ctx, "k"); ok {
		t.Fatalf("expected expired key to no longer exist")
	}
}
