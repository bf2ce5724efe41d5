package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/orgvault/secretreplica/internal/domain"
	"github.com/orgvault/secretreplica/internal/queue"
)

var enqueueJobFile string

var enqueueCmd = &cobra.Command{
	Use:   "enqueue",
	Short: "Enqueue a ReplicationJob onto the SecretReplication queue",
	RunE: func(cmd *cobra.Command, args []string) error {
		dsn := envOrDefault("REPLICATOR_REPLICATION_QUEUE_DSN", "memory://")

		var payload []byte
		var err error
		if enqueueJobFile != "" {
			payload, err = os.ReadFile(enqueueJobFile)
		} else {
			payload, err = io.ReadAll(os.Stdin)
		}
		if err != nil {
			return fmt.Errorf("read job payload: %w", err)
		}

		if err := queue.ValidateReplicationJob(payload); err != nil {
			return err
		}

		var job domain.ReplicationJob
		if err := json.Unmarshal(payload, &job); err != nil {
			return fmt.Errorf("decode job payload: %w", err)
		}

		q, err := queue.BuildFromDSN[domain.ReplicationJob](dsn)
		if err != nil {
			return err
		}
		defer q.Close()

		if !q.Enqueue(context.Background(), job) {
			return fmt.Errorf("enqueue failed")
		}
		fmt.Printf("enqueued job %s\n", job.JobID)
		return nil
	},
}

func init() {
	enqueueCmd.Flags().StringVar(&enqueueJobFile, "file", "", "path to a JSON-encoded ReplicationJob (defaults to stdin)")
}
