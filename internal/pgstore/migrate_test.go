package pgstore

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/pressly/goose/v3"
)

func TestRunMigrationsInvokesGooseUpContext(t *testing.T) {
	original := gooseUpContext
	defer func() { gooseUpContext = original }()

	var calledDir string
	gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
		calledDir = dir
		return nil
	}

	if err := RunMigrations(context.Background(), nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calledDir != "." {
		t.Fatalf("expected migrations dir %q, got %q", ".", calledDir)
	}
}

func TestRunMigrationsWrapsGooseError(t *testing.T) {
	original := gooseUpContext
	defer func() { gooseUpContext = original }()

	boom := errors.New("boom")
	gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
		return boom
	}

	err := RunMigrations(context.Background(), nil)
	if err == nil || !errors.Is(err, boom) {
		t.Fatalf("expected wrapped goose error, got %v", err)
	}
}

func TestOpenRejectsMalformedDSN(t *testing.T) {
	if _, err := Open("host='unterminated"); err == nil {
		t.Fatalf("expected an error for a malformed dsn")
	}
}
