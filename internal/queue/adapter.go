package queue

import (
	"context"
	"fmt"

	"github.com/orgvault/secretreplica/internal/domain"
	"github.com/orgvault/secretreplica/internal/replication"
)

// SyncEnqueuer adapts a Queue[domain.SyncSecretsMessage] into the
// Downstream Sync Enqueuer contract the replication worker depends on.
type SyncEnqueuer struct {
	Queue Queue[domain.SyncSecretsMessage]
}

var _ replication.DownstreamSyncEnqueuer = SyncEnqueuer{}

func (e SyncEnqueuer) Enqueue(ctx context.Context, msg domain.SyncSecretsMessage) error {
	if !e.Queue.Enqueue(ctx, msg) {
		return fmt.Errorf("queue: sync secrets enqueue failed or cancelled")
	}
	return nil
}

// JobEnqueuer adapts a Queue[domain.ReplicationJob] into the
// JobEnqueuer contract used for cascading replication (spec §9).
type JobEnqueuer struct {
	Queue Queue[domain.ReplicationJob]
}

var _ replication.JobEnqueuer = JobEnqueuer{}

func (e JobEnqueuer) EnqueueReplicationJob(ctx context.Context, job domain.ReplicationJob) error {
	if !e.Queue.Enqueue(ctx, job) {
		return fmt.Errorf("queue: replication job enqueue failed or cancelled")
	}
	return nil
}
