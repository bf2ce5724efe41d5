package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/orgvault/secretreplica/internal/cascade"
	"github.com/orgvault/secretreplica/internal/domain"
	"github.com/orgvault/secretreplica/internal/kvstore"
	"github.com/orgvault/secretreplica/internal/logging"
	"github.com/orgvault/secretreplica/internal/pgstore"
	"github.com/orgvault/secretreplica/internal/policy"
	"github.com/orgvault/secretreplica/internal/queue"
	"github.com/orgvault/secretreplica/internal/replication"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the replication worker",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log := logging.NewSlogLogger(slog.Default())

	postgresDSN := envOrDefault("REPLICATOR_POSTGRES_DSN", "")
	if postgresDSN == "" {
		return fmt.Errorf("REPLICATOR_POSTGRES_DSN is required")
	}
	db, err := pgstore.Open(postgresDSN)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := pgstore.RunMigrations(ctx, db); err != nil {
		return err
	}
	pg := pgstore.NewGateway(db)

	kv, err := kvstore.BuildFromDSN(envOrDefault("REPLICATOR_KV_DSN", "memory://"))
	if err != nil {
		return err
	}

	apo, err := buildPolicyOracle(log)
	if err != nil {
		return err
	}

	jobQueue, err := queue.BuildFromDSN[domain.ReplicationJob](envOrDefault("REPLICATOR_REPLICATION_QUEUE_DSN", "memory://"))
	if err != nil {
		return err
	}
	defer jobQueue.Close()
	jobQueue = queue.NewValidatingQueue(jobQueue, queue.ValidateReplicationJob)

	syncQueue, err := queue.BuildFromDSN[domain.SyncSecretsMessage](envOrDefault("REPLICATOR_SYNC_QUEUE_DSN", "memory://"))
	if err != nil {
		return err
	}
	defer syncQueue.Close()
	syncQueue = queue.NewValidatingQueue(syncQueue, queue.ValidateSyncSecretsMessage)

	dse := queue.SyncEnqueuer{Queue: syncQueue}
	jobEnqueuer := queue.JobEnqueuer{Queue: jobQueue}

	worker := replication.NewWorker(pg, kv, apo, dse, log)

	bridge := cascade.NewBridge(syncQueue, jobEnqueuer, log)
	go bridge.Run(ctx)

	concurrency := intEnv("REPLICATOR_WORKER_CONCURRENCY", 4)
	var wg sync.WaitGroup
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			runJobLoop(ctx, log, worker, jobQueue)
		}()
	}

	log.Info(ctx, "replicator serving", "concurrency", concurrency)
	<-ctx.Done()
	log.Info(ctx, "shutting down")
	wg.Wait()
	return nil
}

func runJobLoop(ctx context.Context, log logging.Logger, worker *replication.Worker, jobs queue.Queue[domain.ReplicationJob]) {
	for {
		job, ok := jobs.Dequeue(ctx)
		if !ok {
			return
		}
		if err := worker.HandleJob(ctx, job); err != nil {
			log.Error(ctx, "job failed on failed channel", "job_id", job.JobID, "error", err)
		}
	}
}

func buildPolicyOracle(log logging.Logger) (replication.ApprovalPolicyOracle, error) {
	path := envOrDefault("REPLICATOR_POLICY_FILE", "")
	if path == "" {
		return policy.NewStaticOracle(nil), nil
	}
	return policy.NewFileOracle(path, log)
}
