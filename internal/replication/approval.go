package replication

import (
	"context"
	"fmt"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/orgvault/secretreplica/internal/domain"
)

const approvalSlugAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"
const approvalSlugLength = 12

// approvalPath is the other half of writePath (see direct.go):
// instead of writing directly into the reserved folder, it opens an
// ApprovalRequest describing the classified diff. Spec §4.3.
type approvalPath struct {
	policyID string
}

func (p approvalPath) record(ctx context.Context, rc recordContext) error {
	membership, ok, err := rc.pg.FindMembership(ctx, rc.job.ProjectID, rc.job.ActorID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransientCollaboratorFailure, err)
	}
	if !ok {
		return ErrMembershipMissing
	}

	localIDs := make([]string, 0, len(rc.ops))
	for _, op := range rc.ops {
		if op.Effective == domain.OpCreate {
			continue
		}
		localIDs = append(localIDs, op.LocalSecret.ID)
	}
	var latestByLocalID map[string]domain.SecretVersion
	if len(localIDs) > 0 {
		latestByLocalID, err = rc.pg.FindLatestVersionsByLocalIDs(ctx, rc.reserved.ID, localIDs)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrTransientCollaboratorFailure, err)
		}
	}

	slug, err := gonanoid.Generate(approvalSlugAlphabet, approvalSlugLength)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransientCollaboratorFailure, err)
	}

	approvalReq := domain.ApprovalRequest{
		FolderID:     rc.reserved.ID,
		Slug:         slug,
		PolicyID:     p.policyID,
		Status:       domain.ApprovalOpen,
		HasMerged:    false,
		CommitterID:  membership.ID,
		IsReplicated: true,
	}

	err = rc.pg.Transaction(ctx, func(ctx context.Context, tx TxGateway) error {
		created, err := tx.CreateApprovalRequest(ctx, approvalReq)
		if err != nil {
			return err
		}

		secrets := make([]domain.ApprovalRequestSecret, 0, len(rc.ops))
		for _, op := range rc.ops {
			ars := domain.ApprovalRequestSecret{
				RequestID:        created.ID,
				Op:               op.Effective,
				Ciphertexts:      op.Source.Ciphertexts,
				SecretBlindIndex: op.BlindIndex,
				IsReplicated:     true,
			}
			if op.Effective != domain.OpCreate {
				localID := op.LocalSecret.ID
				ars.SecretID = &localID
				if latest, ok := latestByLocalID[localID]; ok {
					versionID := latest.ID
					ars.SecretVersionID = &versionID
				}
			}
			secrets = append(secrets, ars)
		}
		return tx.InsertApprovalRequestSecrets(ctx, secrets)
	})
	if err != nil {
		return ErrTransactionFailure
	}

	// No downstream sync is enqueued on the approval path: the sync
	// must wait until the approval is merged by an external workflow.
	return nil
}
