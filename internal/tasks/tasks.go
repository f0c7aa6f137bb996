package tasks

import (
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
)

// Defines constants for task types used in Asynq.

const (
	// TypeTranscriptionJob is the task type for running one transcription job.
	TypeTranscriptionJob = "transcription:run"

	// QueueTranscriptions is the queue transcription jobs are enqueued on.
	QueueTranscriptions = "transcriptions"
)

// TranscriptionPayload is the body of a TypeTranscriptionJob task.
type TranscriptionPayload struct {
	JobID    string `json:"job_id"`
	FilePath string `json:"file_path"`
	Language string `json:"language"`
	Format   string `json:"format"`
}

// NewTranscriptionTask encodes p into an asynq task.
func NewTranscriptionTask(p TranscriptionPayload, opts ...asynq.Option) (*asynq.Task, error) {
	if p.JobID == "" {
		return nil, fmt.Errorf("transcription task requires a job id")
	}
	b, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encode transcription payload: %w", err)
	}
	return asynq.NewTask(TypeTranscriptionJob, b, opts...), nil
}

// ParseTranscriptionPayload decodes the body of a TypeTranscriptionJob task.
func ParseTranscriptionPayload(b []byte) (TranscriptionPayload, error) {
	var p TranscriptionPayload
	if err := json.Unmarshal(b, &p); err != nil {
		return p, fmt.Errorf("decode transcription payload: %w", err)
	}
	if p.JobID == "" {
		return p, fmt.Errorf("transcription payload has no job_id")
	}
	return p, nil
}
