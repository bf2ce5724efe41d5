package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/orgvault/secretreplica/internal/pgstore"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the Postgres schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		dsn := envOrDefault("REPLICATOR_POSTGRES_DSN", "")
		if dsn == "" {
			return fmt.Errorf("REPLICATOR_POSTGRES_DSN is required")
		}
		db, err := pgstore.Open(dsn)
		if err != nil {
			return err
		}
		defer db.Close()
		return pgstore.RunMigrations(context.Background(), db)
	},
}
