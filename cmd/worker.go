package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"avtranscribe/internal/app"
	"avtranscribe/internal/worker"

	"github.com/hibiken/asynq"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	workerConcurrency int
	workerNoJanitor   bool
)

// workerCmd represents the worker command
var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the background transcription worker",
	Long: `Starts the Asynq worker process that executes transcription jobs.
Unless --no-janitor is given, the same process sweeps stale files from the temp directory.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		appInstance, err := GetAppFromContext(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to get application context: %w", err)
		}

		if err := runWorker(cmd.Context(), appInstance); err != nil {
			log.WithError(err).Error("Worker exited with error")
			return err
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(workerCmd)
	workerCmd.Flags().IntVar(&workerConcurrency, "concurrency", 0, "Number of jobs processed in parallel (overrides worker.concurrency)")
	workerCmd.Flags().BoolVar(&workerNoJanitor, "no-janitor", false, "Do not run the periodic temp file sweep in this process")
}

// runWorker initializes and runs the Asynq worker server.
func runWorker(ctx context.Context, appInstance *app.App) error {
	cfg := appInstance.Config

	redisOpts, err := cfg.RedisOpt()
	if err != nil {
		return err
	}
	executor, err := appInstance.NewExecutor()
	if err != nil {
		return fmt.Errorf("failed to build executor: %w", err)
	}

	concurrency := cfg.Worker.Concurrency
	if workerConcurrency > 0 {
		concurrency = workerConcurrency
	}
	backoff := worker.BackoffPolicy{Base: cfg.Transcription.RetryBaseDelay}

	srv := asynq.NewServer(
		redisOpts,
		asynq.Config{
			Concurrency:     concurrency,
			Queues:          cfg.Worker.Queues,
			RetryDelayFunc:  worker.RetryDelayFunc(backoff),
			ShutdownTimeout: cfg.Worker.ShutdownTimeout,
			Logger:          log.StandardLogger(),
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				retried, _ := asynq.GetRetryCount(ctx)
				taskID, _ := asynq.GetTaskID(ctx)
				log.WithFields(log.Fields{
					"task_id": taskID,
					"type":    task.Type(),
					"retried": retried,
				}).WithError(err).Warn("Asynq task failed")
			}),
		},
	)

	// --- Register Job Handlers ---
	mux := asynq.NewServeMux()
	worker.RegisterHandlers(mux, executor)

	runCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Janitor.Enabled && !workerNoJanitor {
		if err := appInstance.Janitor.Start(runCtx); err != nil {
			return err
		}
	}

	// --- Start Server & Handle Shutdown ---
	log.Infof("Starting Asynq worker server (Concurrency: %d, Queues: %v)...", concurrency, cfg.Worker.Queues)
	if err := srv.Start(mux); err != nil {
		return fmt.Errorf("failed to start Asynq server: %w", err)
	}

	<-runCtx.Done()

	log.Info("Shutdown signal received. Initiating graceful shutdown...")
	srv.Stop()
	srv.Shutdown()
	appInstance.Janitor.Stop()

	log.Info("Worker shutdown complete.")
	return nil
}
