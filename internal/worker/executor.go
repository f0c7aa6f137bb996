// Package worker runs transcription jobs delivered by the queue.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"avtranscribe/internal/artifacts"
	"avtranscribe/internal/models"
	"avtranscribe/internal/store"
	"avtranscribe/internal/tasks"
	"avtranscribe/internal/transcriber"
	"avtranscribe/internal/util"

	log "github.com/sirupsen/logrus"
)

const (
	DefaultMaxAttempts = 3
	DefaultBaseDelay   = 60 * time.Second

	persistTimeout = 30 * time.Second
)

// AttemptContext says which delivery of a job this is.
// Attempt counts previous failed executions, starting at 0.
type AttemptContext struct {
	Attempt     int
	MaxAttempts int
}

// BackoffPolicy computes the wait before the next attempt: Base * 2^attempt.
type BackoffPolicy struct {
	Base time.Duration
}

func (b BackoffPolicy) Delay(attempt int) time.Duration {
	base := b.Base
	if base <= 0 {
		base = DefaultBaseDelay
	}
	if attempt < 0 {
		attempt = 0
	}
	if attempt > 20 {
		attempt = 20
	}
	return base * time.Duration(1<<attempt)
}

// RetryError asks the queue to run the job again after Delay.
type RetryError struct {
	JobID   string
	Attempt int
	Delay   time.Duration
	Err     error
}

func (e *RetryError) Error() string {
	return fmt.Sprintf("job %s attempt %d failed, retrying in %s: %v", e.JobID, e.Attempt+1, e.Delay, e.Err)
}

func (e *RetryError) Unwrap() error { return e.Err }

// TerminalError means the job reached failed and must not be retried.
type TerminalError struct {
	JobID string
	Err   error
}

func (e *TerminalError) Error() string {
	return fmt.Sprintf("job %s failed permanently: %v", e.JobID, e.Err)
}

func (e *TerminalError) Unwrap() error { return e.Err }

// Executor drives one job through the state machine.
type Executor struct {
	store       store.JobStore
	transcriber transcriber.Transcriber
	outputDir   string
	backoff     BackoffPolicy
	now         func() time.Time
	remove      func(string) error
}

// ExecutorConfig holds the dependencies of an Executor.
type ExecutorConfig struct {
	Store       store.JobStore
	Transcriber transcriber.Transcriber
	OutputDir   string
	Backoff     BackoffPolicy
}

func NewExecutor(cfg ExecutorConfig) *Executor {
	return &Executor{
		store:       cfg.Store,
		transcriber: cfg.Transcriber,
		outputDir:   cfg.OutputDir,
		backoff:     cfg.Backoff,
		now:         time.Now,
		remove:      artifacts.Remove,
	}
}

// Execute runs the job named by p. It returns nil when the job is done or has
// nothing left to do, a *RetryError when another attempt is scheduled and a
// *TerminalError when the job has been marked failed. Any other error means
// the record could not be read or written and the delivery should be retried.
func (e *Executor) Execute(ctx context.Context, p tasks.TranscriptionPayload, ac AttemptContext) error {
	logger := log.WithFields(log.Fields{"job_id": p.JobID, "attempt": ac.Attempt})

	rec, err := e.store.GetJob(ctx, p.JobID)
	if errors.Is(err, store.ErrNotFound) {
		logger.Error("Transcription job has no record; dropping task")
		e.cleanup(logger, p.JobID, p.FilePath)
		return nil
	}
	if err != nil {
		return fmt.Errorf("load job %s: %w", p.JobID, err)
	}
	if rec.Status.IsTerminal() {
		logger.WithField("status", rec.Status.String()).Info("Job already finished; skipping")
		return nil
	}

	attempt := max(ac.Attempt, rec.RetryCount)
	maxAttempts := ac.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = rec.MaxRetries
	}
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	logger = logger.WithField("attempt", attempt)

	_, err = e.store.UpdateJob(ctx, p.JobID, func(j *models.Transcription) error {
		return j.MarkProcessing(e.now())
	})
	if errors.Is(err, models.ErrInvalidTransition) {
		logger.WithError(err).Info("Job changed state before it could start; skipping")
		return nil
	}
	if err != nil {
		return fmt.Errorf("mark job %s processing: %w", p.JobID, err)
	}

	input := rec.FilePath
	if input == "" {
		input = p.FilePath
	}
	language := rec.Language
	if language == "auto" {
		language = ""
	}

	logger.WithField("path", input).Info("Transcribing")
	started := e.now()
	result, runErr := e.transcribe(ctx, p.JobID, input, language)
	if runErr == nil {
		return e.finish(ctx, logger, rec, result, started)
	}
	return e.fail(ctx, logger, rec, attempt, maxAttempts, runErr)
}

type jobOutput struct {
	transcript *transcriber.Transcript
	csvPath    string
	txtPath    string
}

// transcribe runs the backend and writes both result artifacts.
func (e *Executor) transcribe(ctx context.Context, jobID, input, language string) (*jobOutput, error) {
	tr, err := e.transcriber.Transcribe(ctx, input, language)
	if err != nil {
		return nil, err
	}
	if tr == nil {
		return nil, transcriber.ErrEmptyTranscript
	}
	tr.Text = util.CleanText(tr.Text)
	for i := range tr.Segments {
		tr.Segments[i].Text = util.CleanText(tr.Segments[i].Text)
	}
	out := &jobOutput{
		transcript: tr,
		csvPath:    artifacts.CSVPath(e.outputDir, jobID),
		txtPath:    artifacts.TextPath(e.outputDir, jobID),
	}
	if err := artifacts.WriteCSV(out.csvPath, tr.Segments); err != nil {
		return nil, err
	}
	if err := artifacts.WriteText(out.txtPath, tr.Text); err != nil {
		return nil, err
	}
	return out, nil
}

func (e *Executor) finish(ctx context.Context, logger *log.Entry, rec *models.Transcription, out *jobOutput, started time.Time) error {
	pctx, cancel := e.persistContext(ctx)
	defer cancel()

	_, err := e.store.UpdateJob(pctx, rec.ID, func(j *models.Transcription) error {
		return j.MarkDone(out.transcript.Text, out.csvPath, out.txtPath, out.transcript.Segments, e.now())
	})
	if err != nil {
		return fmt.Errorf("mark job %s done: %w", rec.ID, err)
	}
	logger.WithFields(log.Fields{
		"segments": len(out.transcript.Segments),
		"duration": e.now().Sub(started).Round(time.Millisecond),
	}).Info("Transcription complete")

	e.cleanup(logger, rec.ID, rec.FilePath)
	return nil
}

func (e *Executor) fail(ctx context.Context, logger *log.Entry, rec *models.Transcription, attempt, maxAttempts int, runErr error) error {
	pctx, cancel := e.persistContext(ctx)
	defer cancel()

	if attempt < maxAttempts {
		delay := e.backoff.Delay(attempt)
		_, err := e.store.UpdateJob(pctx, rec.ID, func(j *models.Transcription) error {
			return j.MarkRetrying(attempt+1, maxAttempts, e.now())
		})
		if err != nil {
			return errors.Join(runErr, fmt.Errorf("mark job %s retrying: %w", rec.ID, err))
		}
		logger.WithError(runErr).WithField("delay", delay).Warn("Transcription failed; will retry")
		return &RetryError{JobID: rec.ID, Attempt: attempt, Delay: delay, Err: runErr}
	}

	msg := fmt.Sprintf("failed after %d retries: %v", maxAttempts, runErr)
	_, err := e.store.UpdateJob(pctx, rec.ID, func(j *models.Transcription) error {
		return j.MarkFailed(msg, e.now())
	})
	if err != nil {
		return errors.Join(runErr, fmt.Errorf("mark job %s failed: %w", rec.ID, err))
	}
	logger.WithError(runErr).Error("Transcription failed permanently")
	e.cleanup(logger, rec.ID, rec.FilePath)
	return &TerminalError{JobID: rec.ID, Err: errors.New(msg)}
}

// persistContext survives the cancellation of the task context so a timed
// out attempt can still record its outcome.
func (e *Executor) persistContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
}

// cleanup removes the input of a finished job when it was staged by the
// service. Files submitted in place belong to the caller and are kept.
func (e *Executor) cleanup(logger *log.Entry, jobID, path string) {
	if !artifacts.IsStagedInput(e.outputDir, jobID, path) {
		if path != "" {
			logger.WithField("path", path).Debug("Input is not a staged upload; leaving it in place")
		}
		return
	}
	if err := e.remove(path); err != nil {
		logger.WithError(err).WithField("path", path).Warn("Failed to remove input file")
	}
}
