// Package kvstore implements the Key-Value Store collaborator (spec
// §2.2): the multi-key distributed mutex and idempotency markers the
// replication worker relies on. Backend selection by DSN scheme
// mirrors the teacher's BuildStateBackendFromDSN.
package kvstore

import (
	"fmt"
	"strings"

	"github.com/orgvault/secretreplica/internal/replication"
)

// BuildFromDSN dispatches on dsn's scheme: "memory://" for the
// in-process backend, "redis://" or "rediss://" for the production
// Redis backend.
func BuildFromDSN(dsn string) (replication.KVStore, error) {
	dsn = strings.TrimSpace(dsn)
	scheme := strings.ToLower(schemeOf(dsn))
	switch scheme {
	case "memory":
		return NewMemoryKVStore(), nil
	case "redis", "rediss":
		return NewRedisKVStoreFromDSN(dsn)
	default:
		return nil, fmt.Errorf("kvstore: unsupported scheme %q", scheme)
	}
}

func schemeOf(dsn string) string {
	idx := strings.Index(dsn, "://")
	if idx < 0 {
		return dsn
	}
	return dsn[:idx]
}
