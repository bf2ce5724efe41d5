// Package replication implements the secret replication worker: the
// state machine that fans a ReplicationJob out to every subscribed
// import, diffs the source set against each destination's reserved
// folder, and routes the result to either a direct write or an
// approval request.
package replication

import (
	"context"
	"time"

	"github.com/orgvault/secretreplica/internal/domain"
)

// PersistenceGateway is the abstracted read/write surface over
// secrets, secret versions, folders, imports, approval requests, and
// memberships. Implementations (internal/pgstore, and in-memory fakes
// for tests) must make Transaction atomic: writes issued against the
// TxGateway passed to fn are visible together or not at all.
type PersistenceGateway interface {
	// FindSubscribedImports returns every SecretImport with
	// IsReplication = true whose (ImportPath, ImportEnv) match the
	// job's source folder.
	FindSubscribedImports(ctx context.Context, importPath, importEnv string) ([]domain.SecretImport, error)

	// FindSecretVersions re-reads the current SecretVersion rows for
	// the given folder and secret ids.
	FindSecretVersions(ctx context.Context, folderID string, secretIDs []string) ([]domain.SecretVersion, error)

	// FindFolderPath resolves a folder's external-facing identity.
	FindFolderPath(ctx context.Context, projectID, folderID string) (domain.FolderPath, error)

	// FindReservedFolder looks up the reserved child of parentID whose
	// name is domain.ReplicationFolderPrefix+importID. Returns
	// (zero, false, nil) if absent.
	FindReservedFolder(ctx context.Context, parentID, importID string) (domain.Folder, bool, error)

	// CreateReservedFolder creates the reserved child described above
	// if one doesn't already exist (find-then-create is safe: the
	// gateway enforces a unique index on (parentId, name) over reserved
	// folders and re-selects on conflict), returning the folder either way.
	CreateReservedFolder(ctx context.Context, parentID, importID, envID string) (domain.Folder, error)

	// FindSecretsByBlindIndexes reads every shared secret in folderID
	// whose blind index is in the given set.
	FindSecretsByBlindIndexes(ctx context.Context, folderID string, blindIndexes []string) ([]domain.Secret, error)

	// FindLatestVersionsByLocalIDs batches a lookup of the latest
	// SecretVersion row per local secret id, keyed by local id.
	FindLatestVersionsByLocalIDs(ctx context.Context, folderID string, localSecretIDs []string) (map[string]domain.SecretVersion, error)

	// FindMembership returns the project membership for (projectID,
	// userID), or (zero, false, nil) if the user isn't a member.
	FindMembership(ctx context.Context, projectID, userID string) (domain.Membership, bool, error)

	// Transaction scopes a set of writes atomically.
	Transaction(ctx context.Context, fn func(ctx context.Context, tx TxGateway) error) error

	// MarkVersionsReplicated sets IsReplicated = true on every given
	// SecretVersion id.
	MarkVersionsReplicated(ctx context.Context, versionIDs []string) error

	// UpdateImportSuccess records a successful per-import attempt.
	UpdateImportSuccess(ctx context.Context, importID string, at time.Time) error

	// UpdateImportFailure records a failed per-import attempt with a
	// truncated error message.
	UpdateImportFailure(ctx context.Context, importID, truncatedError string, at time.Time) error
}

// TxGateway is the subset of PersistenceGateway's write operations
// usable inside a Transaction callback.
type TxGateway interface {
	// BulkCreateSecrets inserts new replicated secrets (with their
	// initial versions) into folderID and returns the created rows in
	// the same order as input.
	BulkCreateSecrets(ctx context.Context, folderID string, creates []NewSecret) ([]domain.Secret, error)

	// BulkUpdateSecrets overwrites the ciphertext/metadata fields of
	// existing local secrets (identified by local id) and appends a
	// new version each, returning the resulting (id, version) pairs.
	BulkUpdateSecrets(ctx context.Context, folderID string, updates []SecretUpdate) ([]domain.SecretVersion, error)

	// DeleteReplicatedSecrets deletes local secrets matching
	// id ∈ localIDs, isReplicated = true, folderId = folderID.
	DeleteReplicatedSecrets(ctx context.Context, folderID string, localIDs []string) error

	// CreateApprovalRequest inserts one ApprovalRequest row.
	CreateApprovalRequest(ctx context.Context, req domain.ApprovalRequest) (domain.ApprovalRequest, error)

	// InsertApprovalRequestSecrets inserts one ApprovalRequestSecret
	// per classified op.
	InsertApprovalRequestSecrets(ctx context.Context, secrets []domain.ApprovalRequestSecret) error
}

// NewSecret is the payload for a single secret creation; it mirrors
// domain.Secret minus the fields the gateway assigns (ID, Version=1).
type NewSecret struct {
	SecretBlindIndex      string
	Type                  domain.SecretType
	KeyEncoding           string
	Algorithm             string
	Metadata              map[string]string
	Ciphertexts           domain.SecretCiphertexts
	SkipMultilineEncoding bool
}

// SecretUpdate is the payload for updating one existing local secret.
type SecretUpdate struct {
	LocalSecretID         string
	KeyEncoding           string
	Algorithm             string
	Metadata              map[string]string
	Ciphertexts           domain.SecretCiphertexts
	SkipMultilineEncoding bool
}

// KVStore is the shared, process-external store providing the
// multi-key mutex and idempotency-marker capabilities described in
// spec §2.2.
type KVStore interface {
	// AcquireLockSet atomically acquires a lock over every key in
	// keys, or none, held for ttl. Returns a release func that must be
	// called on every exit path, a renew func that extends the same
	// held lock to a fresh ttl without losing ownership, and
	// ErrLockUnavailable if the set could not be fully acquired.
	AcquireLockSet(ctx context.Context, keys []string, ttl TTL) (release func(context.Context), renew func(context.Context, TTL) error, err error)

	// SetIfAbsent stores value under key with the given TTL iff key is
	// currently absent; returns true if it stored (i.e. the key was
	// absent), false if the key already existed.
	SetIfAbsent(ctx context.Context, key string, value string, ttl TTL) (stored bool, err error)

	// Exists reports whether key is currently present.
	Exists(ctx context.Context, key string) (bool, error)
}

// TTL is a duration in milliseconds, kept as its own type so call
// sites can't accidentally pass a time.Duration in the wrong unit to
// a KVStore backend that serializes it over the wire.
type TTL int64

// ApprovalPolicyOracle is consulted as a black box per spec §2.3.
type ApprovalPolicyOracle interface {
	// FindBoundPolicy returns the policy bound to (projectID,
	// environmentSlug, folderPath), or (zero, false, nil) if none is
	// bound.
	FindBoundPolicy(ctx context.Context, projectID, environmentSlug, folderPath string) (domain.ApprovalPolicy, bool, error)
}

// DownstreamSyncEnqueuer accepts a batch describing a folder that just
// received secret changes (spec §2.4).
type DownstreamSyncEnqueuer interface {
	Enqueue(ctx context.Context, msg domain.SyncSecretsMessage) error
}

// JobEnqueuer lets the worker (or any collaborator) push a new
// ReplicationJob onto the SecretReplication queue — used for the
// cascading-replication path when a DSE target is itself a
// replication source (spec §9, S7 in SPEC_FULL.md).
type JobEnqueuer interface {
	EnqueueReplicationJob(ctx context.Context, job domain.ReplicationJob) error
}
