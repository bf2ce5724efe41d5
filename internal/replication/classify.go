package replication

import (
	"github.com/orgvault/secretreplica/internal/domain"
)

// eligibleVersion reports whether a source SecretVersion passes the
// eligibility invariant (spec §8 invariant 1): a non-nil blind index,
// and either the first version or one at or past the watermark
// already replicated.
func eligibleVersion(v domain.SecretVersion) bool {
	if v.SecretBlindIndex == nil || *v.SecretBlindIndex == "" {
		return false
	}
	if v.Type == domain.SecretTypePersonal {
		return false
	}
	return v.Version == 1 || v.LatestReplicatedVersion <= v.Version
}

// byFirst groups SecretVersion rows by their SecretID, keeping only
// the first row seen per id (R_by_id in spec §4.1 step 3).
func byFirst(versions []domain.SecretVersion) map[string]domain.SecretVersion {
	out := make(map[string]domain.SecretVersion, len(versions))
	for _, v := range versions {
		if _, exists := out[v.SecretID]; !exists {
			out[v.SecretID] = v
		}
	}
	return out
}

// ClassifiedOp is one reconciled (source doc, effective operation,
// local match) triple produced by classify (spec §4.2e).
type ClassifiedOp struct {
	Source       domain.SecretVersion
	BlindIndex   string
	Effective    domain.Operation
	LocalSecret  domain.Secret
	HasLocal     bool
}

// classify reconciles the job's sanitized operations S against local
// replica state, producing the classified diff described in spec
// §4.2e. localByBlindIndex is L_by_bi; rByID is R_by_id.
func classify(jobSecrets []domain.JobSecretOp, rByID map[string]domain.SecretVersion, localByBlindIndex map[string][]domain.Secret) []ClassifiedOp {
	out := make([]ClassifiedOp, 0, len(jobSecrets))
	for _, s := range jobSecrets {
		doc, ok := rByID[s.ID]
		if !ok {
			continue
		}
		if doc.SecretBlindIndex == nil || *doc.SecretBlindIndex == "" {
			continue
		}
		bi := *doc.SecretBlindIndex
		locals, hasLocal := localByBlindIndex[bi]
		var local domain.Secret
		if hasLocal && len(locals) > 0 {
			local = locals[0]
		} else {
			hasLocal = false
		}

		var effective domain.Operation
		switch s.Operation {
		case domain.OpCreate, domain.OpUpdate:
			if hasLocal {
				effective = domain.OpUpdate
			} else {
				effective = domain.OpCreate
			}
		case domain.OpDelete:
			if !hasLocal {
				continue
			}
			effective = domain.OpDelete
		default:
			continue
		}

		out = append(out, ClassifiedOp{
			Source:      doc,
			BlindIndex:  bi,
			Effective:   effective,
			LocalSecret: local,
			HasLocal:    hasLocal,
		})
	}
	return out
}

// groupByBlindIndex is L_by_bi in spec §4.2d.
func groupByBlindIndex(secrets []domain.Secret) map[string][]domain.Secret {
	out := make(map[string][]domain.Secret, len(secrets))
	for _, s := range secrets {
		if s.SecretBlindIndex == nil {
			continue
		}
		out[*s.SecretBlindIndex] = append(out[*s.SecretBlindIndex], s)
	}
	return out
}

// localIDsForDeletes resolves the delete branch's id set the way
// spec.md §9 O1 says implementers should: through the local replica's
// own id (looked up by blind index), never the source secret id.
func localIDsForDeletes(ops []ClassifiedOp) []string {
	ids := make([]string, 0, len(ops))
	for _, op := range ops {
		if op.Effective != domain.OpDelete {
			continue
		}
		ids = append(ids, op.LocalSecret.ID)
	}
	return ids
}
