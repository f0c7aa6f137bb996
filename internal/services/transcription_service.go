package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"avtranscribe/internal/artifacts"
	"avtranscribe/internal/models"
	"avtranscribe/internal/store"
	"avtranscribe/internal/tasks"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

var (
	// ErrNotReady is returned when a result is requested before the job is done.
	ErrNotReady = errors.New("transcription not completed")
	// ErrInvalidKind is returned for a result kind other than text or csv.
	ErrInvalidKind = errors.New("invalid result format")
	// ErrResultMissing is returned when a result file is gone and cannot be rebuilt.
	ErrResultMissing = errors.New("result file not found")
)

// TranscriptionService accepts media files and reports on their jobs.
type TranscriptionService struct {
	jobs       store.JobStore
	queue      store.JobClient
	tempDir    string
	maxRetries int
	maxUpload  int64
	now        func() time.Time
}

// TranscriptionServiceDeps holds the dependencies of a TranscriptionService.
type TranscriptionServiceDeps struct {
	JobStore       store.JobStore
	JobClient      store.JobClient
	TempDir        string
	MaxRetries     int
	MaxUploadBytes int64
}

func NewTranscriptionService(deps TranscriptionServiceDeps) *TranscriptionService {
	if deps.TempDir == "" {
		deps.TempDir = os.TempDir()
	}
	if deps.MaxUploadBytes == 0 {
		deps.MaxUploadBytes = artifacts.DefaultMaxUploadBytes
	}
	return &TranscriptionService{
		jobs:       deps.JobStore,
		queue:      deps.JobClient,
		tempDir:    deps.TempDir,
		maxRetries: deps.MaxRetries,
		maxUpload:  deps.MaxUploadBytes,
		now:        time.Now,
	}
}

// SubmitParams describes an input file that is already on disk.
type SubmitParams struct {
	JobID    string // optional; generated when empty
	FilePath string
	Filename string
	Language string
	Format   string
}

// UploadParams describes an input file arriving as a stream.
type UploadParams struct {
	Filename    string
	ContentType string
	Size        int64 // -1 when unknown
	Body        io.Reader
	Language    string
	Format      string
}

// StatusView is what callers see of a job.
type StatusView struct {
	TaskID       string    `json:"task_id"`
	Status       string    `json:"status"`
	State        string    `json:"state"`
	Filename     string    `json:"filename"`
	Progress     int       `json:"progress"`
	RetryCount   int       `json:"retry_count"`
	Text         *string   `json:"text,omitempty"`
	ErrorMessage *string   `json:"error_message,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func newStatusView(j *models.Transcription) StatusView {
	return StatusView{
		TaskID:       j.ID,
		Status:       j.Status.String(),
		State:        string(j.Status.State),
		Filename:     j.Filename,
		Progress:     j.Progress,
		RetryCount:   j.RetryCount,
		Text:         j.Text,
		ErrorMessage: j.ErrorMessage,
		CreatedAt:    j.CreatedAt,
		UpdatedAt:    j.UpdatedAt,
	}
}

// Submit records a queued job for p and hands it to the queue.
// Nothing is enqueued when the record cannot be created. When the enqueue fails
// the record is marked failed so it does not stay queued forever.
func (s *TranscriptionService) Submit(ctx context.Context, p SubmitParams) (string, error) {
	if strings.TrimSpace(p.FilePath) == "" {
		return "", fmt.Errorf("%w: file path is required", models.ErrValidation)
	}
	id := p.JobID
	if id == "" {
		id = uuid.NewString()
	}
	language := normalizeOption(p.Language)
	format := normalizeOption(p.Format)
	filename := p.Filename
	if filename == "" {
		filename = p.FilePath
	}

	rec := models.NewTranscription(id, filename, language, format, p.FilePath, s.maxRetries, s.now())
	if err := s.jobs.CreateJob(ctx, rec); err != nil {
		return "", fmt.Errorf("failed to create transcription job: %w", err)
	}

	payload := tasks.TranscriptionPayload{JobID: id, FilePath: p.FilePath, Language: language, Format: format}
	if _, err := s.queue.EnqueueTranscription(ctx, payload); err != nil {
		msg := fmt.Sprintf("failed to enqueue: %v", err)
		if _, uerr := s.jobs.UpdateJob(ctx, id, func(j *models.Transcription) error {
			return j.MarkFailed(msg, s.now())
		}); uerr != nil {
			log.WithError(uerr).WithField("job_id", id).Error("Failed to mark unqueued job as failed")
		}
		if artifacts.IsStagedInput(s.tempDir, id, p.FilePath) {
			if rerr := artifacts.Remove(p.FilePath); rerr != nil {
				log.WithError(rerr).WithField("path", p.FilePath).Warn("Failed to remove input of unqueued job")
			}
		}
		return id, fmt.Errorf("failed to enqueue transcription job %s: %w", id, err)
	}

	log.WithFields(log.Fields{"job_id": id, "file": filename, "language": language}).Info("Transcription job queued")
	return id, nil
}

// SubmitUpload validates an upload, stores it as <temp_dir>/<uuid>_<name> and submits it.
func (s *TranscriptionService) SubmitUpload(ctx context.Context, u UploadParams) (string, error) {
	if err := artifacts.ValidateUpload(u.Filename, u.ContentType, u.Size, s.maxUpload); err != nil {
		return "", err
	}
	id := uuid.NewString()
	path := artifacts.InputPath(s.tempDir, id, u.Filename)

	if err := s.saveUpload(path, u.Body); err != nil {
		artifacts.Remove(path)
		return "", err
	}

	jobID, err := s.Submit(ctx, SubmitParams{JobID: id, FilePath: path, Filename: u.Filename, Language: u.Language, Format: u.Format})
	if err != nil && jobID == "" {
		// no record references the file
		artifacts.Remove(path)
	}
	return jobID, err
}

func (s *TranscriptionService) saveUpload(path string, body io.Reader) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to store upload: %w", err)
	}
	r := body
	if s.maxUpload > 0 {
		r = io.LimitReader(body, s.maxUpload+1)
	}
	n, err := io.Copy(f, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("failed to store upload: %w", err)
	}
	if s.maxUpload > 0 && n > s.maxUpload {
		return fmt.Errorf("%w: file exceeds %d bytes", artifacts.ErrInvalidUpload, s.maxUpload)
	}
	return nil
}

// GetStatus returns store.ErrNotFound for unknown ids.
func (s *TranscriptionService) GetStatus(ctx context.Context, id string) (StatusView, error) {
	j, err := s.jobs.GetJob(ctx, id)
	if err != nil {
		return StatusView{}, err
	}
	return newStatusView(j), nil
}

// ListJobs returns status views newest first.
func (s *TranscriptionService) ListJobs(ctx context.Context, limit, offset int) ([]StatusView, error) {
	jobs, err := s.jobs.ListJobs(ctx, limit, offset)
	if err != nil {
		return nil, err
	}
	views := make([]StatusView, 0, len(jobs))
	for _, j := range jobs {
		views = append(views, newStatusView(j))
	}
	return views, nil
}

// GetResult returns the path of the requested result file of a done job,
// rebuilding it from the record if it has been cleaned up.
func (s *TranscriptionService) GetResult(ctx context.Context, id, kind string) (string, error) {
	if kind != artifacts.KindText && kind != artifacts.KindCSV {
		return "", fmt.Errorf("%w: %q (use text or csv)", ErrInvalidKind, kind)
	}
	j, err := s.jobs.GetJob(ctx, id)
	if err != nil {
		return "", err
	}
	if j.Status.State != models.StateDone {
		return "", fmt.Errorf("%w: job %s is %s", ErrNotReady, id, j.Status.String())
	}

	if kind == artifacts.KindText {
		path := deref(j.TxtPath, artifacts.TextPath(s.tempDir, id))
		if !exists(path) {
			if err := artifacts.WriteText(path, deref(j.Text, "")); err != nil {
				return "", fmt.Errorf("failed to rebuild text result: %w", err)
			}
			log.WithFields(log.Fields{"job_id": id, "path": path}).Info("Rebuilt text result")
		}
		return path, nil
	}

	path := deref(j.CSVPath, artifacts.CSVPath(s.tempDir, id))
	if !exists(path) {
		if j.Segments == nil {
			return "", fmt.Errorf("%w: %s", ErrResultMissing, path)
		}
		if err := artifacts.WriteCSV(path, j.Segments); err != nil {
			return "", fmt.Errorf("failed to rebuild csv result: %w", err)
		}
		log.WithFields(log.Fields{"job_id": id, "path": path}).Info("Rebuilt csv result")
	}
	return path, nil
}

func normalizeOption(v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return "auto"
	}
	return v
}

func deref(s *string, fallback string) string {
	if s == nil || *s == "" {
		return fallback
	}
	return *s
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
