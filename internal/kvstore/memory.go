package kvstore

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/orgvault/secretreplica/internal/replication"
)

type memoryEntry struct {
	value     string
	expiresAt time.Time
}

// memoryKV is an in-process KVStore used by tests and single-process
// deployments. It implements the same multi-key-mutex and
// idempotency-marker contract as the Redis backend, just without the
// network round trip, grounded on the teacher's InMemoryStateBackend
// pattern of keeping a trivial in-memory twin of every pluggable
// backend.
type memoryKV struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
}

func NewMemoryKVStore() replication.KVStore {
	return &memoryKV{entries: make(map[string]memoryEntry)}
}

func (kv *memoryKV) expiredLocked(key string) bool {
	entry, ok := kv.entries[key]
	if !ok {
		return true
	}
	if !entry.expiresAt.IsZero() && time.Now().After(entry.expiresAt) {
		delete(kv.entries, key)
		return true
	}
	return false
}

func (kv *memoryKV) AcquireLockSet(ctx context.Context, keys []string, ttl replication.TTL) (func(context.Context), func(context.Context, replication.TTL) error, error) {
	if len(keys) == 0 {
		return func(context.Context) {}, func(context.Context, replication.TTL) error { return nil }, nil
	}
	kv.mu.Lock()
	for _, key := range keys {
		if !kv.expiredLocked(key) {
			kv.mu.Unlock()
			return nil, nil, replication.ErrLockUnavailable
		}
	}
	token := uuid.NewString()
	expiresAt := time.Now().Add(time.Duration(ttl) * time.Millisecond)
	for _, key := range keys {
		kv.entries[key] = memoryEntry{value: token, expiresAt: expiresAt}
	}
	kv.mu.Unlock()

	release := func(context.Context) {
		kv.mu.Lock()
		defer kv.mu.Unlock()
		for _, key := range keys {
			if entry, ok := kv.entries[key]; ok && entry.value == token {
				delete(kv.entries, key)
			}
		}
	}
	renew := func(_ context.Context, newTTL replication.TTL) error {
		kv.mu.Lock()
		defer kv.mu.Unlock()
		newExpiry := time.Now().Add(time.Duration(newTTL) * time.Millisecond)
		for _, key := range keys {
			if kv.expiredLocked(key) || kv.entries[key].value != token {
				return replication.ErrLockUnavailable
			}
		}
		for _, key := range keys {
			entry := kv.entries[key]
			entry.expiresAt = newExpiry
			kv.entries[key] = entry
		}
		return nil
	}
	return release, renew, nil
}

func (kv *memoryKV) SetIfAbsent(ctx context.Context, key string, value string, ttl replication.TTL) (bool, error) {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	if !kv.expiredLocked(key) {
		return false, nil
	}
	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = time.Now().Add(time.Duration(ttl) * time.Millisecond)
	}
	kv.entries[key] = memoryEntry{value: value, expiresAt: expiresAt}
	return true, nil
}

func (kv *memoryKV) Exists(ctx context.Context, key string) (bool, error) {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	return !kv.expiredLocked(key), nil
}
