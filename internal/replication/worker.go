package replication

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/orgvault/secretreplica/internal/domain"
	"github.com/orgvault/secretreplica/internal/logging"
)

const (
	replicationLockPrefix = "replicationLock:"
	lockHoldTTL           = TTL(5000)
	successMarkerTTL      = TTL(10000)
	// renewEveryImports renews the held lock set partway through a long
	// per-import loop instead of letting lockHoldTTL lapse mid-job
	// (SPEC_FULL.md's supplemented lock-renewal feature).
	renewEveryImports = 5
)

func successKey(jobID, importID string) string {
	return fmt.Sprintf("successKey:%s:%s", jobID, importID)
}

// Worker is the Replication Worker (RW) described in spec §4: it
// consumes ReplicationJob messages and coordinates PG/KV/APO/DSE to
// produce replication effects. Grounded on the teacher's
// envelopeWorker/writebackWorker loop shape in store.go, generalized
// from one fixed provider-adapter call per envelope to the
// discover-then-per-import fan-out this domain requires.
type Worker struct {
	pg  PersistenceGateway
	kv  KVStore
	apo ApprovalPolicyOracle
	dse DownstreamSyncEnqueuer
	log logging.Logger
}

func NewWorker(pg PersistenceGateway, kv KVStore, apo ApprovalPolicyOracle, dse DownstreamSyncEnqueuer, log logging.Logger) *Worker {
	if log == nil {
		log = logging.Noop{}
	}
	return &Worker{pg: pg, kv: kv, apo: apo, dse: dse, log: log}
}

// HandleJob implements the top-level protocol of spec §4.1.
func (w *Worker) HandleJob(ctx context.Context, job domain.ReplicationJob) error {
	log := w.log.With("job_id", job.JobID)

	if len(job.Secrets) == 0 {
		return nil
	}

	imports, err := w.discoverSubscribers(ctx, job)
	if err != nil {
		w.logJobFailure(ctx, log, job, err)
		return err
	}
	if len(imports) == 0 {
		return nil
	}

	secretIDs := make([]string, 0, len(job.Secrets))
	for _, s := range job.Secrets {
		secretIDs = append(secretIDs, s.ID)
	}
	versions, err := w.pg.FindSecretVersions(ctx, job.FolderID, secretIDs)
	if err != nil {
		err = fmt.Errorf("%w: %v", ErrTransientCollaboratorFailure, err)
		w.logJobFailure(ctx, log, job, err)
		return err
	}

	var eligible []domain.SecretVersion
	for _, v := range versions {
		if eligibleVersion(v) {
			eligible = append(eligible, v)
		}
	}
	rByID := byFirst(eligible)

	sanitized := make([]domain.JobSecretOp, 0, len(job.Secrets))
	for _, s := range job.Secrets {
		if _, ok := rByID[s.ID]; ok {
			sanitized = append(sanitized, s)
		}
	}
	if len(sanitized) == 0 {
		return nil
	}

	lockKeys := make([]string, 0, len(rByID))
	for id := range rByID {
		lockKeys = append(lockKeys, replicationLockPrefix+id)
	}
	release, renew, err := w.kv.AcquireLockSet(ctx, lockKeys, lockHoldTTL)
	if err != nil {
		w.logJobFailure(ctx, log, job, err)
		return err
	}
	defer release(context.Background())

	jobErr := w.runImportLoop(ctx, log, job, imports, sanitized, rByID, renew)
	if jobErr != nil {
		w.logJobFailure(ctx, log, job, jobErr)
		return jobErr
	}

	versionIDs := make([]string, 0, len(eligible))
	for _, v := range eligible {
		versionIDs = append(versionIDs, v.ID)
	}
	if err := w.pg.MarkVersionsReplicated(ctx, versionIDs); err != nil {
		err = fmt.Errorf("%w: %v", ErrTransientCollaboratorFailure, err)
		w.logJobFailure(ctx, log, job, err)
		return err
	}

	log.Info(ctx, "replication job completed", "imports", len(imports))
	return nil
}

func (w *Worker) discoverSubscribers(ctx context.Context, job domain.ReplicationJob) ([]domain.SecretImport, error) {
	imports, err := w.pg.FindSubscribedImports(ctx, job.SecretPath, job.EnvironmentID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransientCollaboratorFailure, err)
	}
	if len(job.PickOnlyImportIDs) == 0 {
		return imports, nil
	}
	allowed := make(map[string]bool, len(job.PickOnlyImportIDs))
	for _, id := range job.PickOnlyImportIDs {
		allowed[id] = true
	}
	out := make([]domain.SecretImport, 0, len(imports))
	for _, imp := range imports {
		if allowed[imp.ID] {
			out = append(out, imp)
		}
	}
	return out, nil
}

// runImportLoop executes the per-import protocol sequentially across
// imports. It returns non-nil only for job-aborting errors
// (ErrMembershipMissing, or a failed lock renewal); all other
// per-import errors are caught,
// recorded on the import row, and the loop continues.
func (w *Worker) runImportLoop(ctx context.Context, log logging.Logger, job domain.ReplicationJob, imports []domain.SecretImport, sanitized []domain.JobSecretOp, rByID map[string]domain.SecretVersion, renew func(context.Context, TTL) error) error {
	for i, imp := range imports {
		if i > 0 && i%renewEveryImports == 0 {
			if err := renew(ctx, lockHoldTTL); err != nil {
				return err
			}
		}

		err := w.processImport(ctx, job, imp, sanitized, rByID)
		if err == nil {
			continue
		}
		impErr := newImportError(imp.ID, err)
		if errors.Is(impErr, ErrMembershipMissing) {
			log.Error(ctx, "actor has no project membership, aborting job", "import_id", impErr.ImportID)
			return impErr
		}

		now := time.Now()
		if updateErr := w.pg.UpdateImportFailure(ctx, impErr.ImportID, truncateMessage(impErr.Err, 500), now); updateErr != nil {
			log.Error(ctx, "failed to record import failure", "import_id", impErr.ImportID, "error", updateErr)
		}
		log.Warn(ctx, "import failed", "import_id", impErr.ImportID, "error", impErr)
	}
	return nil
}

// processImport implements spec §4.2, steps a-h.
func (w *Worker) processImport(ctx context.Context, job domain.ReplicationJob, imp domain.SecretImport, sanitized []domain.JobSecretOp, rByID map[string]domain.SecretVersion) error {
	key := successKey(job.JobID, imp.ID)
	done, err := w.kv.Exists(ctx, key)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransientCollaboratorFailure, err)
	}
	if done {
		return nil
	}

	ext, err := w.pg.FindFolderPath(ctx, job.ProjectID, imp.FolderID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrImportedFolderMissing, err)
	}

	reserved, ok, err := w.pg.FindReservedFolder(ctx, imp.FolderID, imp.ID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransientCollaboratorFailure, err)
	}
	if !ok {
		reserved, err = w.pg.CreateReservedFolder(ctx, imp.FolderID, imp.ID, ext.EnvID)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrTransientCollaboratorFailure, err)
		}
	}

	blindIndexes := make([]string, 0, len(sanitized))
	for _, s := range sanitized {
		if doc, ok := rByID[s.ID]; ok && doc.SecretBlindIndex != nil {
			blindIndexes = append(blindIndexes, *doc.SecretBlindIndex)
		}
	}
	localSecrets, err := w.pg.FindSecretsByBlindIndexes(ctx, reserved.ID, blindIndexes)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransientCollaboratorFailure, err)
	}
	localByBlindIndex := groupByBlindIndex(localSecrets)

	ops := classify(sanitized, rByID, localByBlindIndex)
	if len(ops) == 0 {
		return w.markImportSuccess(ctx, job, imp, key)
	}

	policy, hasPolicy, err := w.apo.FindBoundPolicy(ctx, job.ProjectID, ext.EnvironmentSlug, ext.Path)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransientCollaboratorFailure, err)
	}

	rc := recordContext{
		pg:       w.pg,
		dse:      w.dse,
		job:      job,
		imp:      imp,
		reserved: reserved,
		ext:      ext,
		ops:      ops,
	}

	var path writePath
	if hasPolicy && job.Actor == domain.ActorUser {
		path = approvalPath{policyID: policy.PolicyID}
	} else {
		path = directPath{}
	}

	if err := path.record(ctx, rc); err != nil {
		return err
	}

	return w.markImportSuccess(ctx, job, imp, key)
}

func (w *Worker) markImportSuccess(ctx context.Context, job domain.ReplicationJob, imp domain.SecretImport, key string) error {
	if _, err := w.kv.SetIfAbsent(ctx, key, job.JobID, successMarkerTTL); err != nil {
		return fmt.Errorf("%w: %v", ErrTransientCollaboratorFailure, err)
	}
	now := time.Now()
	if err := w.pg.UpdateImportSuccess(ctx, imp.ID, now); err != nil {
		return fmt.Errorf("%w: %v", ErrTransientCollaboratorFailure, err)
	}
	return nil
}

// logJobFailure implements the supplemented dead-letter surfacing
// feature: job-level failures (discovery, lock acquisition, version
// marking, or a job-aborting membership failure) are logged with the
// full job payload so operators can grep for job_id without a queue
// dashboard.
func (w *Worker) logJobFailure(ctx context.Context, log logging.Logger, job domain.ReplicationJob, err error) {
	log.Error(ctx, "replication job failed", "job", job, "error", err)
}
