package replication

import (
	"context"

	"github.com/orgvault/secretreplica/internal/domain"
)

// directPath and approvalPath both implement writePath: "record
// classified diff against destination", spec.md §9's design note that
// the two terminal routes share one capability. Mirrors the
// ProviderAdapter / ProviderWritebackAdapter split used for per-target
// writeback in the teacher's adapters.go, generalized to two routing
// strategies instead of two external providers.
type writePath interface {
	record(ctx context.Context, rc recordContext) error
}

// recordContext carries everything a writePath needs for one import's
// classified diff (spec §4.3/§4.4).
type recordContext struct {
	pg  PersistenceGateway
	dse DownstreamSyncEnqueuer

	job      domain.ReplicationJob
	imp      domain.SecretImport
	reserved domain.Folder
	ext      domain.FolderPath
	ops      []ClassifiedOp
}

type directPath struct{}

func (directPath) record(ctx context.Context, rc recordContext) error {
	var nested []domain.SyncedSecret

	err := rc.pg.Transaction(ctx, func(ctx context.Context, tx TxGateway) error {
		var creates []NewSecret
		var createSources []ClassifiedOp
		var updates []SecretUpdate
		var updateSources []ClassifiedOp

		for _, op := range rc.ops {
			switch op.Effective {
			case domain.OpCreate:
				creates = append(creates, NewSecret{
					SecretBlindIndex:      op.BlindIndex,
					Type:                  op.Source.Type,
					KeyEncoding:           op.Source.KeyEncoding,
					Algorithm:             op.Source.Algorithm,
					Metadata:              op.Source.Metadata,
					Ciphertexts:           op.Source.Ciphertexts,
					SkipMultilineEncoding: op.Source.SkipMultilineEncoding,
				})
				createSources = append(createSources, op)
			case domain.OpUpdate:
				updates = append(updates, SecretUpdate{
					LocalSecretID:         op.LocalSecret.ID,
					KeyEncoding:           op.Source.KeyEncoding,
					Algorithm:             op.Source.Algorithm,
					Metadata:              op.Source.Metadata,
					Ciphertexts:           op.Source.Ciphertexts,
					SkipMultilineEncoding: op.Source.SkipMultilineEncoding,
				})
				updateSources = append(updateSources, op)
			}
		}

		if len(creates) > 0 {
			created, err := tx.BulkCreateSecrets(ctx, rc.reserved.ID, creates)
			if err != nil {
				return err
			}
			for _, c := range created {
				nested = append(nested, domain.SyncedSecret{ID: c.ID, Version: c.Version, Operation: domain.OpCreate})
			}
		}

		if len(updates) > 0 {
			updated, err := tx.BulkUpdateSecrets(ctx, rc.reserved.ID, updates)
			if err != nil {
				return err
			}
			for _, v := range updated {
				nested = append(nested, domain.SyncedSecret{ID: v.SecretID, Version: v.Version, Operation: domain.OpUpdate})
			}
		}

		deleteIDs := localIDsForDeletes(rc.ops)
		if len(deleteIDs) > 0 {
			if err := tx.DeleteReplicatedSecrets(ctx, rc.reserved.ID, deleteIDs); err != nil {
				return err
			}
			for _, op := range rc.ops {
				if op.Effective != domain.OpDelete {
					continue
				}
				nested = append(nested, domain.SyncedSecret{ID: op.LocalSecret.ID, Version: op.LocalSecret.Version, Operation: domain.OpDelete})
			}
		}

		return nil
	})
	if err != nil {
		return ErrTransactionFailure
	}

	if len(nested) == 0 {
		return nil
	}

	return rc.dse.Enqueue(ctx, domain.SyncSecretsMessage{
		ProjectID:              rc.job.ProjectID,
		SecretPath:             rc.ext.Path,
		EnvironmentSlug:        rc.ext.EnvironmentSlug,
		EnvironmentID:          rc.reserved.EnvID,
		FolderID:               rc.reserved.ID,
		Secrets:                nested,
		Actor:                  rc.job.Actor,
		ActorID:                rc.job.ActorID,
		DeDupeReplicationQueue: rc.job.DeDupeReplicationQueue,
		DeDupeQueue:            rc.job.DeDupeQueue,
	})
}
