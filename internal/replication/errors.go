package replication

import (
	"errors"
	"fmt"
)

// Error kinds per spec §7. ImportedFolderMissing and
// TransactionFailure are per-import fatal; MembershipMissing and
// LockUnavailable abort the whole job; TransientCollaboratorFailure
// covers everything else raised by PG/KV/APO/DSE.
var (
	ErrImportedFolderMissing      = errors.New("replication: imported folder missing")
	ErrMembershipMissing          = errors.New("replication: actor has no project membership")
	ErrLockUnavailable            = errors.New("replication: lock acquisition timed out")
	ErrTransactionFailure         = errors.New("replication: transaction rolled back")
	ErrTransientCollaboratorFailure = errors.New("replication: collaborator call failed")
)

// ImportError wraps a per-import failure with the offending import id
// so the worker can attach replicationStatus without re-parsing error
// strings.
type ImportError struct {
	ImportID string
	Err      error
}

func (e *ImportError) Error() string {
	return fmt.Sprintf("import %s: %v", e.ImportID, e.Err)
}

func (e *ImportError) Unwrap() error {
	return e.Err
}

func newImportError(importID string, err error) *ImportError {
	if err == nil {
		return nil
	}
	return &ImportError{ImportID: importID, Err: err}
}

// truncateMessage returns the first n bytes of s's error message, per
// spec §4.2g ("truncate(error.message, 500)").
func truncateMessage(err error, n int) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	if len(msg) <= n {
		return msg
	}
	return msg[:n]
}
