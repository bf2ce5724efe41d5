// Package policy implements the Approval Policy Oracle collaborator
// (spec §2.3): a lookup from (project, environment, folder path) to a
// bound ApprovalPolicy, consulted as a black box by the replication
// worker to decide whether a destination writes directly or through
// an approval request.
package policy

import (
	"context"
	"strings"

	"github.com/orgvault/secretreplica/internal/domain"
	"github.com/orgvault/secretreplica/internal/replication"
)

// Binding is one (project, environment, folder path) -> policy rule.
// FolderPath is matched as a prefix, so a binding on "/" covers an
// entire environment and a binding on "/prod/db" covers that folder
// and everything under it.
type Binding struct {
	ProjectID       string `json:"projectId"`
	EnvironmentSlug string `json:"environmentSlug"`
	FolderPath      string `json:"folderPath"`
	PolicyID        string `json:"policyId"`
}

// StaticOracle serves a fixed, in-memory set of bindings. Used in
// tests and for deployments that don't need hot reload.
type StaticOracle struct {
	bindings []Binding
}

func NewStaticOracle(bindings []Binding) *StaticOracle {
	return &StaticOracle{bindings: append([]Binding(nil), bindings...)}
}

func (o *StaticOracle) FindBoundPolicy(ctx context.Context, projectID, environmentSlug, folderPath string) (domain.ApprovalPolicy, bool, error) {
	binding, ok := bestMatch(o.bindings, projectID, environmentSlug, folderPath)
	if !ok {
		return domain.ApprovalPolicy{}, false, nil
	}
	return domain.ApprovalPolicy{PolicyID: binding.PolicyID}, true, nil
}

// bestMatch picks the binding with the longest matching FolderPath
// prefix, so a more specific rule always beats a broader one.
func bestMatch(bindings []Binding, projectID, environmentSlug, folderPath string) (Binding, bool) {
	var best Binding
	found := false
	for _, b := range bindings {
		if b.ProjectID != projectID || b.EnvironmentSlug != environmentSlug {
			continue
		}
		if !strings.HasPrefix(folderPath, b.FolderPath) {
			continue
		}
		if !found || len(b.FolderPath) > len(best.FolderPath) {
			best = b
			found = true
		}
	}
	return best, found
}

var _ replication.ApprovalPolicyOracle = (*StaticOracle)(nil)
