// Package cascade implements the cascading-replication glue described
// in spec.md §9's design note: a destination folder materialized by
// the direct path may itself be a replication source for other
// imports. The generic "sync secrets" consumer that normally drains
// the SyncSecrets queue is out of scope (spec §1 Non-goals); this
// package is the one concrete consumer this repository does implement
// for that queue, turning a SyncSecretsMessage back into a
// ReplicationJob so the fan-out in SPEC_FULL.md's S7 actually happens.
package cascade

import (
	"context"

	"github.com/google/uuid"

	"github.com/orgvault/secretreplica/internal/domain"
	"github.com/orgvault/secretreplica/internal/logging"
	"github.com/orgvault/secretreplica/internal/queue"
	"github.com/orgvault/secretreplica/internal/replication"
)

// Bridge drains a SyncSecrets queue and re-enqueues each message as a
// ReplicationJob naming the synced folder as the new source, carrying
// the dedup hint sets through unchanged.
type Bridge struct {
	sync queue.Queue[domain.SyncSecretsMessage]
	jobs replication.JobEnqueuer
	log  logging.Logger
}

func NewBridge(sync queue.Queue[domain.SyncSecretsMessage], jobs replication.JobEnqueuer, log logging.Logger) *Bridge {
	if log == nil {
		log = logging.Noop{}
	}
	return &Bridge{sync: sync, jobs: jobs, log: log}
}

// Run drains the sync queue until ctx is cancelled, converting each
// message into a cascaded ReplicationJob. A message whose FolderID is
// already present in its own DeDupeReplicationQueue is dropped rather
// than re-enqueued, breaking diamond-shaped import graphs.
func (b *Bridge) Run(ctx context.Context) {
	for {
		msg, ok := b.sync.Dequeue(ctx)
		if !ok {
			return
		}
		if containsString(msg.DeDupeReplicationQueue, msg.FolderID) {
			b.log.Debug(ctx, "cascade: skipping already-visited folder", "folder_id", msg.FolderID)
			continue
		}

		job := b.toJob(msg)
		if err := b.jobs.EnqueueReplicationJob(ctx, job); err != nil {
			b.log.Warn(ctx, "cascade: failed to enqueue cascaded job", "folder_id", msg.FolderID, "error", err)
		}
	}
}

func (b *Bridge) toJob(msg domain.SyncSecretsMessage) domain.ReplicationJob {
	secrets := make([]domain.JobSecretOp, 0, len(msg.Secrets))
	for _, s := range msg.Secrets {
		secrets = append(secrets, domain.JobSecretOp{ID: s.ID, Operation: s.Operation})
	}
	return domain.ReplicationJob{
		JobID:                  uuid.NewString(),
		Secrets:                secrets,
		FolderID:               msg.FolderID,
		SecretPath:             msg.SecretPath,
		EnvironmentID:          msg.EnvironmentID,
		ProjectID:              msg.ProjectID,
		ActorID:                msg.ActorID,
		Actor:                  msg.Actor,
		DeDupeReplicationQueue: append(append([]string(nil), msg.DeDupeReplicationQueue...), msg.FolderID),
		DeDupeQueue:            msg.DeDupeQueue,
	}
}

func containsString(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}
