package pgstore

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"
	"github.com/pressly/goose/v3"

	"github.com/orgvault/secretreplica/internal/pgstore/migrations"
)

// gooseUpContext is a seam so tests can stub goose without a live
// database, same pattern as the teacher's gooseUpContext var.
var gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
	return goose.UpContext(ctx, db, dir, opts...)
}

// RunMigrations applies the embedded schema to db. Safe to call on
// every process start; goose tracks applied versions in its own table
// and is a no-op once the schema is current.
func RunMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("pgstore: set dialect: %w", err)
	}
	if err := gooseUpContext(ctx, db, "."); err != nil {
		return fmt.Errorf("pgstore: run migrations: %w", err)
	}
	return nil
}

// Open opens a lib/pq connection pool for dsn. The DSN is parsed up
// front, so a malformed one is rejected here rather than on first use.
func Open(dsn string) (*sql.DB, error) {
	connector, err := pq.NewConnector(dsn)
	if err != nil {
		return nil, fmt.Errorf("pgstore: open: %w", err)
	}
	return sql.OpenDB(connector), nil
}
