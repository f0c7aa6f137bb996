package store

import (
	"context"
	"fmt"
	"time"

	"avtranscribe/internal/tasks"

	"github.com/hibiken/asynq"
	log "github.com/sirupsen/logrus"
)

// taskEnqueuer is the subset of *asynq.Client used by AsynqJobClient.
type taskEnqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
	Close() error
}

// JobOptions controls how transcription tasks are enqueued.
type JobOptions struct {
	Queue      string
	MaxRetries int
	Timeout    time.Duration
	Retention  time.Duration
}

// AsynqJobClient is a concrete JobClient backed by Redis through asynq.
type AsynqJobClient struct {
	client taskEnqueuer
	opts   JobOptions
}

// Ensure AsynqJobClient implements JobClient
var _ JobClient = (*AsynqJobClient)(nil)

// NewAsynqJobClient connects an asynq client to Redis.
func NewAsynqJobClient(redisOpt asynq.RedisClientOpt, opts JobOptions) (*AsynqJobClient, error) {
	if redisOpt.Addr == "" {
		return nil, fmt.Errorf("redis address cannot be empty for AsynqJobClient")
	}
	return newJobClient(asynq.NewClient(redisOpt), opts), nil
}

func newJobClient(c taskEnqueuer, opts JobOptions) *AsynqJobClient {
	if opts.Queue == "" {
		opts.Queue = tasks.QueueTranscriptions
	}
	return &AsynqJobClient{client: c, opts: opts}
}

func (jc *AsynqJobClient) Close() error {
	return jc.client.Close()
}

// EnqueueTranscription schedules one execution of the transcription task.
// The job id doubles as the asynq task id, so enqueueing the same job twice
// fails with asynq.ErrTaskIDConflict instead of running it twice.
func (jc *AsynqJobClient) EnqueueTranscription(ctx context.Context, payload tasks.TranscriptionPayload) (*asynq.TaskInfo, error) {
	if jc.client == nil {
		return nil, fmt.Errorf("AsynqJobClient internal client is not initialized")
	}
	task, err := tasks.NewTranscriptionTask(payload)
	if err != nil {
		return nil, err
	}

	opts := []asynq.Option{
		asynq.Queue(jc.opts.Queue),
		asynq.TaskID(payload.JobID),
		asynq.MaxRetry(jc.opts.MaxRetries),
	}
	if jc.opts.Timeout > 0 {
		opts = append(opts, asynq.Timeout(jc.opts.Timeout))
	}
	if jc.opts.Retention > 0 {
		opts = append(opts, asynq.Retention(jc.opts.Retention))
	}

	info, err := jc.client.EnqueueContext(ctx, task, opts...)
	if err != nil {
		return nil, fmt.Errorf("enqueue transcription job %s: %w", payload.JobID, err)
	}
	log.WithFields(log.Fields{"job_id": payload.JobID, "queue": info.Queue}).Debug("Enqueued transcription task")
	return info, nil
}
