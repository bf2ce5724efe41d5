package pgstore

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
)

// postgresIntegrationDSN mirrors the teacher's postgresIntegrationDSN
// helper in postgres_backend_integration_test.go: tests that need a
// real Postgres instance skip cleanly when the DSN env var is unset.
func postgresIntegrationDSN(t *testing.T) string {
	t.Helper()
	dsn := strings.TrimSpace(os.Getenv("SECRETREPLICA_TEST_POSTGRES_DSN"))
	if dsn == "" {
		t.Skip("set SECRETREPLICA_TEST_POSTGRES_DSN to run Postgres integration tests")
	}
	return dsn
}

func openIntegrationGateway(t *testing.T, dsn string) (*Gateway, *sql.DB) {
	t.Helper()
	db, err := Open(dsn)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := RunMigrations(ctx, db); err != nil {
		t.Fatalf("run migrations: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return NewGateway(db), db
}

func seedFolder(t *testing.T, db *sql.DB) (envID, folderID string) {
	t.Helper()
	envID = uuid.NewString()
	folderID = uuid.NewString()
	ctx := context.Background()
	if _, err := db.ExecContext(ctx, `INSERT INTO environments (id, project_id, slug) VALUES ($1, $2, $3)`,
		envID, uuid.NewString(), "it-"+envID[:8]); err != nil {
		t.Fatalf("seed environment: %v", err)
	}
	if _, err := db.ExecContext(ctx, `INSERT INTO folders (id, env_id, parent_id, path, name, is_reserved) VALUES ($1, $2, NULL, $3, $4, FALSE)`,
		folderID, envID, "/it", "it"); err != nil {
		t.Fatalf("seed folder: %v", err)
	}
	return envID, folderID
}

func insertSecretVersionRow(t *testing.T, db *sql.DB, secretID string, version int) {
	t.Helper()
	_, err := db.ExecContext(context.Background(), `
		INSERT INTO secret_versions (
			id, secret_id, version, latest_replicated_version, is_replicated,
			secret_blind_index, type, key_encoding, algorithm, metadata,
			key_iv, key_tag, key_ciphertext,
			value_iv, value_tag, value_ciphertext,
			comment_iv, comment_tag, comment_ciphertext,
			skip_multiline_encoding
		) VALUES (
			$1, $2, $3, 0, FALSE,
			$4, 'shared', 'utf8', 'aes-256-gcm', '{}',
			'iv', 'tag', $5,
			'iv', 'tag', 'value-ct',
			'iv', 'tag', 'comment-ct',
			FALSE
		)`,
		uuid.NewString(), secretID, version, "bi-"+secretID, fmt.Sprintf("key-ct-v%d", version))
	if err != nil {
		t.Fatalf("insert secret_versions row version %d: %v", version, err)
	}
}

// TestIntegrationFindSecretVersionsReturnsLatestOnly is a regression
// test for the bug where FindSecretVersions returned every historical
// row ordered oldest-first, causing the worker to propagate a secret's
// original ciphertext forever instead of its current version.
func TestIntegrationFindSecretVersionsReturnsLatestOnly(t *testing.T) {
	dsn := postgresIntegrationDSN(t)
	gw, db := openIntegrationGateway(t, dsn)

	_, folderID := seedFolder(t, db)
	secretID := uuid.NewString()
	if _, err := db.ExecContext(context.Background(), `
		INSERT INTO secrets (
			id, folder_id, secret_blind_index, type, version, is_replicated,
			key_encoding, algorithm, metadata,
			key_iv, key_tag, key_ciphertext,
			value_iv, value_tag, value_ciphertext,
			comment_iv, comment_tag, comment_ciphertext,
			skip_multiline_encoding
		) VALUES (
			$1, $2, $3, 'shared', 3, FALSE,
			'utf8', 'aes-256-gcm', '{}',
			'iv', 'tag', 'key-ct-v3',
			'iv', 'tag', 'value-ct',
			'iv', 'tag', 'comment-ct',
			FALSE
		)`, secretID, folderID, "bi-"+secretID); err != nil {
		t.Fatalf("seed secret: %v", err)
	}
	insertSecretVersionRow(t, db, secretID, 1)
	insertSecretVersionRow(t, db, secretID, 2)
	insertSecretVersionRow(t, db, secretID, 3)

	versions, err := gw.FindSecretVersions(context.Background(), folderID, []string{secretID})
	if err != nil {
		t.Fatalf("FindSecretVersions: %v", err)
	}
	if len(versions) != 1 {
		t.Fatalf("expected exactly one row per secret id, got %d", len(versions))
	}
	if versions[0].Version != 3 {
		t.Fatalf("expected the latest version (3), got %d", versions[0].Version)
	}
	if versions[0].Ciphertexts.Key.Ciphertext != "key-ct-v3" {
		t.Fatalf("expected v3 ciphertext, got %q", versions[0].Ciphertexts.Key.Ciphertext)
	}
}

// TestIntegrationUpdateImportSuccessClearsStatus is a regression test
// for UpdateImportSuccess writing a 'success' sentinel string instead
// of clearing replication_status to NULL, which a failed-then-retried
// import needs to distinguish from a carried-over error message.
func TestIntegrationUpdateImportSuccessClearsStatus(t *testing.T) {
	dsn := postgresIntegrationDSN(t)
	gw, db := openIntegrationGateway(t, dsn)

	_, folderID := seedFolder(t, db)
	importID := uuid.NewString()
	if _, err := db.ExecContext(context.Background(), `
		INSERT INTO secret_imports (id, folder_id, import_path, import_env, is_replication)
		VALUES ($1, $2, '/it', 'prod', TRUE)`, importID, folderID); err != nil {
		t.Fatalf("seed secret_imports: %v", err)
	}

	if err := gw.UpdateImportFailure(context.Background(), importID, "boom", time.Now()); err != nil {
		t.Fatalf("UpdateImportFailure: %v", err)
	}
	var status sql.NullString
	if err := db.QueryRowContext(context.Background(), `SELECT replication_status FROM secret_imports WHERE id = $1`, importID).Scan(&status); err != nil {
		t.Fatalf("scan status after failure: %v", err)
	}
	if !status.Valid || status.String != "boom" {
		t.Fatalf("expected failure status %q, got %+v", "boom", status)
	}

	if err := gw.UpdateImportSuccess(context.Background(), importID, time.Now()); err != nil {
		t.Fatalf("UpdateImportSuccess: %v", err)
	}
	if err := db.QueryRowContext(context.Background(), `SELECT replication_status FROM secret_imports WHERE id = $1`, importID).Scan(&status); err != nil {
		t.Fatalf("scan status after success: %v", err)
	}
	if status.Valid {
		t.Fatalf("expected replication_status NULL after success, got %q", status.String)
	}
}
