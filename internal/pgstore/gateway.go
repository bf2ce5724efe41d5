// Package pgstore implements the Persistence Gateway collaborator
// (spec §2.1) against Postgres, grounded on the teacher's lib/pq
// backends (postgres_backend.go) and on dmitrijs2005-gophkeeper's
// dbx.WithTx transaction helper, generalized from a queue-table-only
// concern to the full secret/folder/import/approval schema.
package pgstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/orgvault/secretreplica/internal/domain"
	"github.com/orgvault/secretreplica/internal/replication"
)

type Gateway struct {
	db *sql.DB
}

func NewGateway(db *sql.DB) *Gateway {
	return &Gateway{db: db}
}

var _ replication.PersistenceGateway = (*Gateway)(nil)

func (g *Gateway) FindSubscribedImports(ctx context.Context, importPath, importEnv string) ([]domain.SecretImport, error) {
	rows, err := g.db.QueryContext(ctx, `
		SELECT id, folder_id, import_path, import_env, is_replication,
		       last_replicated, replication_status, is_replication_success
		FROM secret_imports
		WHERE is_replication AND import_path = $1 AND import_env = $2`,
		importPath, importEnv)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.SecretImport
	for rows.Next() {
		var imp domain.SecretImport
		if err := rows.Scan(&imp.ID, &imp.FolderID, &imp.ImportPath, &imp.ImportEnv, &imp.IsReplication,
			&imp.LastReplicated, &imp.ReplicationStatus, &imp.IsReplicationSuccess); err != nil {
			return nil, err
		}
		out = append(out, imp)
	}
	return out, rows.Err()
}

func (g *Gateway) FindSecretVersions(ctx context.Context, folderID string, secretIDs []string) ([]domain.SecretVersion, error) {
	if len(secretIDs) == 0 {
		return nil, nil
	}
	rows, err := g.db.QueryContext(ctx, `
		SELECT DISTINCT ON (sv.secret_id)
		       sv.id, sv.secret_id, sv.version, sv.latest_replicated_version, sv.is_replicated,
		       sv.secret_blind_index, sv.type, sv.key_encoding, sv.algorithm, sv.metadata,
		       sv.key_iv, sv.key_tag, sv.key_ciphertext,
		       sv.value_iv, sv.value_tag, sv.value_ciphertext,
		       sv.comment_iv, sv.comment_tag, sv.comment_ciphertext,
		       sv.skip_multiline_encoding
		FROM secret_versions sv
		JOIN secrets s ON s.id = sv.secret_id
		WHERE s.folder_id = $1 AND sv.secret_id = ANY($2)
		ORDER BY sv.secret_id, sv.version DESC`,
		folderID, pq.Array(secretIDs))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.SecretVersion
	for rows.Next() {
		v, err := scanSecretVersion(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (g *Gateway) FindFolderPath(ctx context.Context, projectID, folderID string) (domain.FolderPath, error) {
	var fp domain.FolderPath
	var path string
	err := g.db.QueryRowContext(ctx, `
		SELECT f.path, f.env_id, e.slug
		FROM folders f
		JOIN environments e ON e.id = f.env_id
		WHERE f.id = $1 AND e.project_id = $2`,
		folderID, projectID,
	).Scan(&path, &fp.EnvID, &fp.EnvironmentSlug)
	if err != nil {
		return domain.FolderPath{}, err
	}
	fp.Path = path
	return fp, nil
}

func (g *Gateway) FindReservedFolder(ctx context.Context, parentID, importID string) (domain.Folder, bool, error) {
	return g.findReservedFolder(ctx, g.db, parentID, importID)
}

func (g *Gateway) findReservedFolder(ctx context.Context, q dbtx, parentID, importID string) (domain.Folder, bool, error) {
	name := domain.ReplicationFolderPrefix + importID
	row := q.QueryRowContext(ctx, `
		SELECT id, env_id, parent_id, path, name, is_reserved
		FROM folders
		WHERE parent_id = $1 AND name = $2 AND is_reserved`,
		parentID, name)
	var f domain.Folder
	if err := row.Scan(&f.ID, &f.EnvID, &f.ParentID, &f.Path, &f.Name, &f.IsReserved); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Folder{}, false, nil
		}
		return domain.Folder{}, false, err
	}
	return f, true, nil
}

// CreateReservedFolder implements the O2 race fix: it inserts with
// ON CONFLICT DO NOTHING against the partial unique index on
// (parent_id, name) WHERE is_reserved, then re-selects regardless of
// whether this call's insert won, so two concurrent imports racing to
// materialize the same reserved folder both observe the same row.
func (g *Gateway) CreateReservedFolder(ctx context.Context, parentID, importID, envID string) (domain.Folder, error) {
	name := domain.ReplicationFolderPrefix + importID
	id := uuid.NewString()
	var parentPath string
	if err := g.db.QueryRowContext(ctx, `SELECT path FROM folders WHERE id = $1`, parentID).Scan(&parentPath); err != nil {
		return domain.Folder{}, err
	}
	path := parentPath + "/" + name

	_, err := g.db.ExecContext(ctx, `
		INSERT INTO folders (id, env_id, parent_id, path, name, is_reserved)
		VALUES ($1, $2, $3, $4, $5, TRUE)
		ON CONFLICT (parent_id, name) WHERE is_reserved DO NOTHING`,
		id, envID, parentID, path, name)
	if err != nil {
		return domain.Folder{}, err
	}

	folder, ok, err := g.findReservedFolder(ctx, g.db, parentID, importID)
	if err != nil {
		return domain.Folder{}, err
	}
	if !ok {
		return domain.Folder{}, fmt.Errorf("pgstore: reserved folder missing after insert for import %s", importID)
	}
	return folder, nil
}

func (g *Gateway) FindSecretsByBlindIndexes(ctx context.Context, folderID string, blindIndexes []string) ([]domain.Secret, error) {
	if len(blindIndexes) == 0 {
		return nil, nil
	}
	rows, err := g.db.QueryContext(ctx, `
		SELECT id, folder_id, secret_blind_index, type, version, is_replicated,
		       key_encoding, algorithm, metadata,
		       key_iv, key_tag, key_ciphertext,
		       value_iv, value_tag, value_ciphertext,
		       comment_iv, comment_tag, comment_ciphertext,
		       skip_multiline_encoding
		FROM secrets
		WHERE folder_id = $1 AND secret_blind_index = ANY($2) AND type = 'shared'`,
		folderID, pq.Array(blindIndexes))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Secret
	for rows.Next() {
		s, err := scanSecret(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (g *Gateway) FindLatestVersionsByLocalIDs(ctx context.Context, folderID string, localSecretIDs []string) (map[string]domain.SecretVersion, error) {
	if len(localSecretIDs) == 0 {
		return map[string]domain.SecretVersion{}, nil
	}
	rows, err := g.db.QueryContext(ctx, `
		SELECT DISTINCT ON (sv.secret_id)
		       sv.id, sv.secret_id, sv.version, sv.latest_replicated_version, sv.is_replicated,
		       sv.secret_blind_index, sv.type, sv.key_encoding, sv.algorithm, sv.metadata,
		       sv.key_iv, sv.key_tag, sv.key_ciphertext,
		       sv.value_iv, sv.value_tag, sv.value_ciphertext,
		       sv.comment_iv, sv.comment_tag, sv.comment_ciphertext,
		       sv.skip_multiline_encoding
		FROM secret_versions sv
		JOIN secrets s ON s.id = sv.secret_id
		WHERE s.folder_id = $1 AND sv.secret_id = ANY($2)
		ORDER BY sv.secret_id, sv.version DESC`,
		folderID, pq.Array(localSecretIDs))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]domain.SecretVersion, len(localSecretIDs))
	for rows.Next() {
		v, err := scanSecretVersion(rows)
		if err != nil {
			return nil, err
		}
		out[v.SecretID] = v
	}
	return out, rows.Err()
}

func (g *Gateway) FindMembership(ctx context.Context, projectID, userID string) (domain.Membership, bool, error) {
	var m domain.Membership
	err := g.db.QueryRowContext(ctx, `
		SELECT id, project_id, user_id FROM memberships WHERE project_id = $1 AND user_id = $2`,
		projectID, userID,
	).Scan(&m.ID, &m.ProjectID, &m.UserID)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Membership{}, false, nil
	}
	if err != nil {
		return domain.Membership{}, false, err
	}
	return m, true, nil
}

func (g *Gateway) Transaction(ctx context.Context, fn func(ctx context.Context, tx replication.TxGateway) error) error {
	return withTx(ctx, g.db, func(ctx context.Context, tx *sql.Tx) error {
		return fn(ctx, &txGateway{tx: tx})
	})
}

func (g *Gateway) MarkVersionsReplicated(ctx context.Context, versionIDs []string) error {
	if len(versionIDs) == 0 {
		return nil
	}
	_, err := g.db.ExecContext(ctx, `
		UPDATE secret_versions SET is_replicated = TRUE WHERE id = ANY($1)`,
		pq.Array(versionIDs))
	return err
}

func (g *Gateway) UpdateImportSuccess(ctx context.Context, importID string, at time.Time) error {
	_, err := g.db.ExecContext(ctx, `
		UPDATE secret_imports
		SET last_replicated = $2, replication_status = NULL, is_replication_success = TRUE
		WHERE id = $1`,
		importID, at)
	return err
}

func (g *Gateway) UpdateImportFailure(ctx context.Context, importID, truncatedError string, at time.Time) error {
	_, err := g.db.ExecContext(ctx, `
		UPDATE secret_imports
		SET last_replicated = $2, replication_status = $3, is_replication_success = FALSE
		WHERE id = $1`,
		importID, at, truncatedError)
	return err
}

// txGateway implements replication.TxGateway against a live *sql.Tx.
type txGateway struct {
	tx *sql.Tx
}

var _ replication.TxGateway = (*txGateway)(nil)

func (g *txGateway) BulkCreateSecrets(ctx context.Context, folderID string, creates []replication.NewSecret) ([]domain.Secret, error) {
	out := make([]domain.Secret, 0, len(creates))
	for _, c := range creates {
		id := uuid.NewString()
		metadata, err := marshalMetadata(c.Metadata)
		if err != nil {
			return nil, err
		}
		_, err = g.tx.ExecContext(ctx, `
			INSERT INTO secrets (
				id, folder_id, secret_blind_index, type, version, is_replicated,
				key_encoding, algorithm, metadata,
				key_iv, key_tag, key_ciphertext,
				value_iv, value_tag, value_ciphertext,
				comment_iv, comment_tag, comment_ciphertext,
				skip_multiline_encoding
			) VALUES ($1, $2, $3, $4, 1, TRUE, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
			id, folderID, c.SecretBlindIndex, string(c.Type),
			c.KeyEncoding, c.Algorithm, metadata,
			c.Ciphertexts.Key.IV, c.Ciphertexts.Key.Tag, c.Ciphertexts.Key.Ciphertext,
			c.Ciphertexts.Value.IV, c.Ciphertexts.Value.Tag, c.Ciphertexts.Value.Ciphertext,
			c.Ciphertexts.Comment.IV, c.Ciphertexts.Comment.Tag, c.Ciphertexts.Comment.Ciphertext,
			c.SkipMultilineEncoding)
		if err != nil {
			return nil, err
		}

		versionID := uuid.NewString()
		_, err = g.tx.ExecContext(ctx, `
			INSERT INTO secret_versions (
				id, secret_id, version, latest_replicated_version, is_replicated,
				secret_blind_index, type, key_encoding, algorithm, metadata,
				key_iv, key_tag, key_ciphertext,
				value_iv, value_tag, value_ciphertext,
				comment_iv, comment_tag, comment_ciphertext,
				skip_multiline_encoding
			) VALUES ($1, $2, 1, 1, TRUE, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
			versionID, id, c.SecretBlindIndex, string(c.Type), c.KeyEncoding, c.Algorithm, metadata,
			c.Ciphertexts.Key.IV, c.Ciphertexts.Key.Tag, c.Ciphertexts.Key.Ciphertext,
			c.Ciphertexts.Value.IV, c.Ciphertexts.Value.Tag, c.Ciphertexts.Value.Ciphertext,
			c.Ciphertexts.Comment.IV, c.Ciphertexts.Comment.Tag, c.Ciphertexts.Comment.Ciphertext,
			c.SkipMultilineEncoding)
		if err != nil {
			return nil, err
		}

		out = append(out, domain.Secret{
			ID:                    id,
			FolderID:              folderID,
			SecretBlindIndex:      strPtr(c.SecretBlindIndex),
			Type:                  c.Type,
			Version:               1,
			IsReplicated:          true,
			KeyEncoding:           c.KeyEncoding,
			Algorithm:             c.Algorithm,
			Metadata:              c.Metadata,
			Ciphertexts:           c.Ciphertexts,
			SkipMultilineEncoding: c.SkipMultilineEncoding,
		})
	}
	return out, nil
}

func (g *txGateway) BulkUpdateSecrets(ctx context.Context, folderID string, updates []replication.SecretUpdate) ([]domain.SecretVersion, error) {
	out := make([]domain.SecretVersion, 0, len(updates))
	for _, u := range updates {
		metadata, err := marshalMetadata(u.Metadata)
		if err != nil {
			return nil, err
		}

		var currentVersion int
		var blindIndex sql.NullString
		var secretType string
		err = g.tx.QueryRowContext(ctx, `
			SELECT version, secret_blind_index, type FROM secrets
			WHERE id = $1 AND folder_id = $2 FOR UPDATE`,
			u.LocalSecretID, folderID,
		).Scan(&currentVersion, &blindIndex, &secretType)
		if err != nil {
			return nil, err
		}
		nextVersion := currentVersion + 1

		_, err = g.tx.ExecContext(ctx, `
			UPDATE secrets SET
				version = $2, key_encoding = $3, algorithm = $4, metadata = $5,
				key_iv = $6, key_tag = $7, key_ciphertext = $8,
				value_iv = $9, value_tag = $10, value_ciphertext = $11,
				comment_iv = $12, comment_tag = $13, comment_ciphertext = $14,
				skip_multiline_encoding = $15
			WHERE id = $1`,
			u.LocalSecretID, nextVersion, u.KeyEncoding, u.Algorithm, metadata,
			u.Ciphertexts.Key.IV, u.Ciphertexts.Key.Tag, u.Ciphertexts.Key.Ciphertext,
			u.Ciphertexts.Value.IV, u.Ciphertexts.Value.Tag, u.Ciphertexts.Value.Ciphertext,
			u.Ciphertexts.Comment.IV, u.Ciphertexts.Comment.Tag, u.Ciphertexts.Comment.Ciphertext,
			u.SkipMultilineEncoding)
		if err != nil {
			return nil, err
		}

		versionID := uuid.NewString()
		_, err = g.tx.ExecContext(ctx, `
			INSERT INTO secret_versions (
				id, secret_id, version, latest_replicated_version, is_replicated,
				secret_blind_index, type, key_encoding, algorithm, metadata,
				key_iv, key_tag, key_ciphertext,
				value_iv, value_tag, value_ciphertext,
				comment_iv, comment_tag, comment_ciphertext,
				skip_multiline_encoding
			) VALUES ($1, $2, $3, $3, TRUE, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`,
			versionID, u.LocalSecretID, nextVersion, blindIndex, secretType, u.KeyEncoding, u.Algorithm, metadata,
			u.Ciphertexts.Key.IV, u.Ciphertexts.Key.Tag, u.Ciphertexts.Key.Ciphertext,
			u.Ciphertexts.Value.IV, u.Ciphertexts.Value.Tag, u.Ciphertexts.Value.Ciphertext,
			u.Ciphertexts.Comment.IV, u.Ciphertexts.Comment.Tag, u.Ciphertexts.Comment.Ciphertext,
			u.SkipMultilineEncoding)
		if err != nil {
			return nil, err
		}

		out = append(out, domain.SecretVersion{
			ID:                      versionID,
			SecretID:                u.LocalSecretID,
			Version:                 nextVersion,
			LatestReplicatedVersion: nextVersion,
			IsReplicated:            true,
			Type:                    domain.SecretType(secretType),
			KeyEncoding:             u.KeyEncoding,
			Algorithm:               u.Algorithm,
			Metadata:                u.Metadata,
			Ciphertexts:             u.Ciphertexts,
			SkipMultilineEncoding:   u.SkipMultilineEncoding,
		})
	}
	return out, nil
}

func (g *txGateway) DeleteReplicatedSecrets(ctx context.Context, folderID string, localIDs []string) error {
	if len(localIDs) == 0 {
		return nil
	}
	_, err := g.tx.ExecContext(ctx, `
		DELETE FROM secrets WHERE folder_id = $1 AND is_replicated AND id = ANY($2)`,
		folderID, pq.Array(localIDs))
	return err
}

func (g *txGateway) CreateApprovalRequest(ctx context.Context, req domain.ApprovalRequest) (domain.ApprovalRequest, error) {
	req.ID = uuid.NewString()
	_, err := g.tx.ExecContext(ctx, `
		INSERT INTO approval_requests (id, folder_id, slug, policy_id, status, has_merged, committer_id, is_replicated)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		req.ID, req.FolderID, req.Slug, req.PolicyID, string(req.Status), req.HasMerged, req.CommitterID, req.IsReplicated)
	if err != nil {
		return domain.ApprovalRequest{}, err
	}
	return req, nil
}

func (g *txGateway) InsertApprovalRequestSecrets(ctx context.Context, secrets []domain.ApprovalRequestSecret) error {
	for _, s := range secrets {
		id := uuid.NewString()
		_, err := g.tx.ExecContext(ctx, `
			INSERT INTO approval_request_secrets (
				id, request_id, op,
				key_iv, key_tag, key_ciphertext,
				value_iv, value_tag, value_ciphertext,
				comment_iv, comment_tag, comment_ciphertext,
				secret_blind_index, is_replicated, secret_id, secret_version_id
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
			id, s.RequestID, string(s.Op),
			s.Ciphertexts.Key.IV, s.Ciphertexts.Key.Tag, s.Ciphertexts.Key.Ciphertext,
			s.Ciphertexts.Value.IV, s.Ciphertexts.Value.Tag, s.Ciphertexts.Value.Ciphertext,
			s.Ciphertexts.Comment.IV, s.Ciphertexts.Comment.Tag, s.Ciphertexts.Comment.Ciphertext,
			s.SecretBlindIndex, s.IsReplicated, s.SecretID, s.SecretVersionID)
		if err != nil {
			return err
		}
	}
	return nil
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
