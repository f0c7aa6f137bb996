package store

import (
	"context"

	"avtranscribe/internal/models"
	"avtranscribe/internal/tasks"

	"github.com/hibiken/asynq"
)

// --- Job Client ---

// JobClient hands jobs to the asynchronous execution substrate.
type JobClient interface {
	EnqueueTranscription(ctx context.Context, payload tasks.TranscriptionPayload) (*asynq.TaskInfo, error)
	Close() error
}

// --- Job Store ---

// MutateFunc changes a record inside an UpdateJob transaction. Returning an
// error aborts the transaction and leaves the stored record untouched.
type MutateFunc func(j *models.Transcription) error

// JobStore is the durable record store for transcription jobs.
type JobStore interface {
	CreateJob(ctx context.Context, j *models.Transcription) error
	// GetJob returns ErrNotFound when no record exists for id.
	GetJob(ctx context.Context, id string) (*models.Transcription, error)
	// UpdateJob loads the record, applies fn and commits atomically. The
	// committed record is returned.
	UpdateJob(ctx context.Context, id string, fn MutateFunc) (*models.Transcription, error)
	ListJobs(ctx context.Context, limit, offset int) ([]*models.Transcription, error)

	Ping(ctx context.Context) error
	Close() error
}
