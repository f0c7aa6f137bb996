package worker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"avtranscribe/internal/artifacts"
	"avtranscribe/internal/models"
	"avtranscribe/internal/store"
	"avtranscribe/internal/store/sqlite"
	"avtranscribe/internal/tasks"
	"avtranscribe/internal/transcriber"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTranscriber struct {
	calls     int
	languages []string
	result    *transcriber.Transcript
	err       error
}

func (f *fakeTranscriber) Transcribe(ctx context.Context, path, language string) (*transcriber.Transcript, error) {
	f.calls++
	f.languages = append(f.languages, language)
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

type harness struct {
	store *sqlite.StoreImpl
	tr    *fakeTranscriber
	exec  *Executor
	dir   string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	s, err := sqlite.NewStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	dir := t.TempDir()
	tr := &fakeTranscriber{}
	exec := NewExecutor(ExecutorConfig{
		Store:       s,
		Transcriber: tr,
		OutputDir:   dir,
		Backoff:     BackoffPolicy{Base: 60 * time.Second},
	})
	return &harness{store: s, tr: tr, exec: exec, dir: dir}
}

// seed creates a queued record and its input file.
func (h *harness) seed(t *testing.T, id, language string) tasks.TranscriptionPayload {
	t.Helper()
	input := artifacts.InputPath(h.dir, id, "talk.mp3")
	require.NoError(t, os.WriteFile(input, []byte("media"), 0o644))
	rec := models.NewTranscription(id, "talk.mp3", language, "auto", input, 3, time.Now())
	require.NoError(t, h.store.CreateJob(context.Background(), rec))
	return tasks.TranscriptionPayload{JobID: id, FilePath: input, Language: language, Format: "auto"}
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func TestExecute_Success(t *testing.T) {
	h := newHarness(t)
	h.tr.result = &transcriber.Transcript{
		Text: "  Hello world This is a test ",
		Segments: []models.Segment{
			{Start: 0, End: 2, Text: "Hello world"},
			{Start: 2, End: 4, Text: "This is a test"},
		},
	}
	p := h.seed(t, "job-ok", "auto")

	err := h.exec.Execute(context.Background(), p, AttemptContext{Attempt: 0, MaxAttempts: 3})
	require.NoError(t, err)

	rec, err := h.store.GetJob(context.Background(), "job-ok")
	require.NoError(t, err)
	assert.Equal(t, models.StateDone, rec.Status.State)
	assert.Equal(t, "done", rec.Status.String())
	require.NotNil(t, rec.Text)
	assert.Equal(t, "Hello world This is a test", *rec.Text)
	assert.Nil(t, rec.ErrorMessage)
	assert.Equal(t, 2, rec.Progress)
	require.NotNil(t, rec.CSVPath)
	assert.Equal(t, filepath.Join(h.dir, "job-ok.csv"), *rec.CSVPath)

	f, err := os.Open(*rec.CSVPath)
	require.NoError(t, err)
	defer f.Close()
	segs, err := artifacts.ParseCSV(f)
	require.NoError(t, err)
	assert.Equal(t, h.tr.result.Segments, segs)

	assert.True(t, fileExists(filepath.Join(h.dir, "job-ok.txt")))
	assert.False(t, fileExists(p.FilePath), "input artifact removed after success")
	assert.Equal(t, []string{""}, h.tr.languages, "auto means no language hint")
}

func TestExecute_PassesLanguageHint(t *testing.T) {
	h := newHarness(t)
	h.tr.result = &transcriber.Transcript{Text: "hallo"}
	p := h.seed(t, "job-de", "de")

	require.NoError(t, h.exec.Execute(context.Background(), p, AttemptContext{MaxAttempts: 3}))
	assert.Equal(t, []string{"de"}, h.tr.languages)
}

func TestExecute_RetryThenFail(t *testing.T) {
	h := newHarness(t)
	h.tr.err = errors.New("model crashed")
	p := h.seed(t, "job-retry", "auto")
	ctx := context.Background()

	for attempt, want := range []time.Duration{60 * time.Second, 120 * time.Second, 240 * time.Second} {
		err := h.exec.Execute(ctx, p, AttemptContext{Attempt: attempt, MaxAttempts: 3})
		var re *RetryError
		require.ErrorAs(t, err, &re, "attempt %d", attempt)
		assert.Equal(t, want, re.Delay)
		assert.ErrorIs(t, err, h.tr.err)

		rec, err := h.store.GetJob(ctx, "job-retry")
		require.NoError(t, err)
		assert.Equal(t, models.StateRetrying, rec.Status.State)
		assert.Equal(t, fmt.Sprintf("retrying (attempt %d/3)", attempt+1), rec.Status.String())
		assert.Equal(t, attempt+1, rec.RetryCount)
		assert.Nil(t, rec.Text)
		assert.True(t, fileExists(p.FilePath), "input kept while retries remain")
	}

	err := h.exec.Execute(ctx, p, AttemptContext{Attempt: 3, MaxAttempts: 3})
	var te *TerminalError
	require.ErrorAs(t, err, &te)

	rec, err := h.store.GetJob(ctx, "job-retry")
	require.NoError(t, err)
	assert.Equal(t, models.StateFailed, rec.Status.State)
	require.NotNil(t, rec.ErrorMessage)
	assert.Equal(t, "failed after 3 retries: model crashed", *rec.ErrorMessage)
	assert.Nil(t, rec.Text)
	assert.False(t, fileExists(p.FilePath), "input removed on terminal failure")
	assert.Equal(t, 4, h.tr.calls)
}

func TestExecute_PersistedRetryCountWins(t *testing.T) {
	h := newHarness(t)
	h.tr.err = errors.New("boom")
	p := h.seed(t, "job-restart", "auto")
	ctx := context.Background()

	_, err := h.store.UpdateJob(ctx, p.JobID, func(j *models.Transcription) error {
		if err := j.MarkProcessing(time.Now()); err != nil {
			return err
		}
		return j.MarkRetrying(2, 3, time.Now())
	})
	require.NoError(t, err)

	// queue lost its counter and delivers as a first attempt
	err = h.exec.Execute(ctx, p, AttemptContext{Attempt: 0, MaxAttempts: 3})
	var re *RetryError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, 240*time.Second, re.Delay)

	rec, err := h.store.GetJob(ctx, p.JobID)
	require.NoError(t, err)
	assert.Equal(t, "retrying (attempt 3/3)", rec.Status.String())
}

func TestExecute_AbsentRecord(t *testing.T) {
	h := newHarness(t)
	input := artifacts.InputPath(h.dir, "ghost", "talk.mp3")
	require.NoError(t, os.WriteFile(input, []byte("media"), 0o644))

	err := h.exec.Execute(context.Background(), tasks.TranscriptionPayload{JobID: "ghost", FilePath: input}, AttemptContext{MaxAttempts: 3})
	require.NoError(t, err)
	assert.Equal(t, 0, h.tr.calls)
	assert.False(t, fileExists(input))

	_, err = h.store.GetJob(context.Background(), "ghost")
	assert.Error(t, err, "no record is created")
}

func TestExecute_TerminalRecordIsNoop(t *testing.T) {
	h := newHarness(t)
	h.tr.result = &transcriber.Transcript{Text: "once"}
	p := h.seed(t, "job-twice", "auto")
	ctx := context.Background()

	require.NoError(t, h.exec.Execute(ctx, p, AttemptContext{MaxAttempts: 3}))
	before, err := h.store.GetJob(ctx, p.JobID)
	require.NoError(t, err)

	h.tr.result = &transcriber.Transcript{Text: "twice"}
	require.NoError(t, h.exec.Execute(ctx, p, AttemptContext{MaxAttempts: 3}))

	after, err := h.store.GetJob(ctx, p.JobID)
	require.NoError(t, err)
	assert.Equal(t, 1, h.tr.calls)
	assert.Equal(t, *before.Text, *after.Text)
	assert.True(t, before.UpdatedAt.Equal(after.UpdatedAt))
}

func TestExecute_RedeliveryWhileProcessing(t *testing.T) {
	h := newHarness(t)
	h.tr.result = &transcriber.Transcript{Text: "recovered"}
	p := h.seed(t, "job-crash", "auto")
	ctx := context.Background()

	_, err := h.store.UpdateJob(ctx, p.JobID, func(j *models.Transcription) error {
		return j.MarkProcessing(time.Now())
	})
	require.NoError(t, err)

	require.NoError(t, h.exec.Execute(ctx, p, AttemptContext{MaxAttempts: 3}))
	rec, err := h.store.GetJob(ctx, p.JobID)
	require.NoError(t, err)
	assert.Equal(t, models.StateDone, rec.Status.State)
}

func TestExecute_InputCleanupFailureIsWarning(t *testing.T) {
	h := newHarness(t)
	h.tr.result = &transcriber.Transcript{Text: "ok"}
	h.exec.remove = func(string) error { return errors.New("permission denied") }
	p := h.seed(t, "job-cleanup", "auto")

	require.NoError(t, h.exec.Execute(context.Background(), p, AttemptContext{MaxAttempts: 3}))
	rec, err := h.store.GetJob(context.Background(), p.JobID)
	require.NoError(t, err)
	assert.Equal(t, models.StateDone, rec.Status.State)
}

func TestExecute_KeepsCallerOwnedInput(t *testing.T) {
	ctx := context.Background()
	for name, fail := range map[string]bool{"done": false, "failed": true} {
		t.Run(name, func(t *testing.T) {
			h := newHarness(t)
			h.tr.result = &transcriber.Transcript{Text: "vows"}
			if fail {
				h.tr.err = errors.New("decoder error")
			}

			own := filepath.Join(t.TempDir(), "wedding.mp3")
			require.NoError(t, os.WriteFile(own, []byte("media"), 0o644))
			rec := models.NewTranscription("job-own", "wedding.mp3", "auto", "auto", own, 3, time.Now())
			require.NoError(t, h.store.CreateJob(ctx, rec))

			_ = h.exec.Execute(ctx, tasks.TranscriptionPayload{JobID: "job-own", FilePath: own}, AttemptContext{Attempt: 3, MaxAttempts: 3})

			got, err := h.store.GetJob(ctx, "job-own")
			require.NoError(t, err)
			assert.True(t, got.Status.IsTerminal())
			assert.True(t, fileExists(own), "input outside the temp dir is never deleted")
		})
	}
}

func TestExecute_StoresTrimmedTextVerbatim(t *testing.T) {
	h := newHarness(t)
	h.tr.result = &transcriber.Transcript{
		Text:     "  Line one\nLine two \u201cquoted\u201d\u2026  ",
		Segments: []models.Segment{{Start: 0, End: 1, Text: " \u201cHi\u201d  there "}},
	}
	p := h.seed(t, "job-verbatim", "auto")
	ctx := context.Background()

	require.NoError(t, h.exec.Execute(ctx, p, AttemptContext{MaxAttempts: 3}))

	rec, err := h.store.GetJob(ctx, p.JobID)
	require.NoError(t, err)
	require.NotNil(t, rec.Text)
	assert.Equal(t, "Line one\nLine two \u201cquoted\u201d\u2026", *rec.Text)

	f, err := os.Open(*rec.CSVPath)
	require.NoError(t, err)
	defer f.Close()
	segs, err := artifacts.ParseCSV(f)
	require.NoError(t, err)
	require.Len(t, segs, 1)
	assert.Equal(t, "\u201cHi\u201d  there", segs[0].Text)

	txt, err := os.ReadFile(*rec.TxtPath)
	require.NoError(t, err)
	assert.Equal(t, "Line one\nLine two \u201cquoted\u201d\u2026", string(txt))
}

// processingObserver reads the record while the backend runs.
type processingObserver struct {
	store store.JobStore
	jobID string
	seen  []models.State
}

func (o *processingObserver) Transcribe(ctx context.Context, path, language string) (*transcriber.Transcript, error) {
	rec, err := o.store.GetJob(ctx, o.jobID)
	if err != nil {
		return nil, err
	}
	o.seen = append(o.seen, rec.Status.State)
	return &transcriber.Transcript{Text: "ok"}, nil
}

func TestExecute_ProcessingPersistedBeforeTranscribe(t *testing.T) {
	h := newHarness(t)
	obs := &processingObserver{store: h.store, jobID: "job-observe"}
	h.exec.transcriber = obs
	p := h.seed(t, "job-observe", "auto")

	require.NoError(t, h.exec.Execute(context.Background(), p, AttemptContext{MaxAttempts: 3}))
	assert.Equal(t, []models.State{models.StateProcessing}, obs.seen)
}

var errCommit = errors.New("commit failed")

// commitFailingStore rolls back the Nth UpdateJob as if its commit failed.
type commitFailingStore struct {
	store.JobStore
	failAt  int
	updates int
}

func (s *commitFailingStore) UpdateJob(ctx context.Context, id string, fn store.MutateFunc) (*models.Transcription, error) {
	s.updates++
	if s.updates != s.failAt {
		return s.JobStore.UpdateJob(ctx, id, fn)
	}
	return s.JobStore.UpdateJob(ctx, id, func(j *models.Transcription) error {
		if err := fn(j); err != nil {
			return err
		}
		return errCommit
	})
}

func TestExecute_CommitFailurePropagates(t *testing.T) {
	ctx := context.Background()
	for name, runErr := range map[string]error{"done": nil, "retrying": errors.New("model crashed")} {
		t.Run(name, func(t *testing.T) {
			h := newHarness(t)
			h.tr.result = &transcriber.Transcript{Text: "hello"}
			h.tr.err = runErr
			// update 1 marks processing, update 2 records the outcome
			h.exec.store = &commitFailingStore{JobStore: h.store, failAt: 2}
			p := h.seed(t, "job-commit", "auto")

			err := h.exec.Execute(ctx, p, AttemptContext{MaxAttempts: 3})
			require.Error(t, err)
			assert.ErrorIs(t, err, errCommit)
			var re *RetryError
			var te *TerminalError
			assert.False(t, errors.As(err, &re))
			assert.False(t, errors.As(err, &te))

			rec, err := h.store.GetJob(ctx, p.JobID)
			require.NoError(t, err)
			assert.Equal(t, models.StateProcessing, rec.Status.State)
			assert.Nil(t, rec.Text)
			assert.Nil(t, rec.ErrorMessage)
			assert.Equal(t, 0, rec.RetryCount)
			assert.True(t, fileExists(p.FilePath), "input kept until an outcome is committed")
		})
	}
}

func TestBackoffPolicy(t *testing.T) {
	b := BackoffPolicy{Base: 60 * time.Second}
	assert.Equal(t, 60*time.Second, b.Delay(0))
	assert.Equal(t, 120*time.Second, b.Delay(1))
	assert.Equal(t, 240*time.Second, b.Delay(2))
	assert.Equal(t, DefaultBaseDelay, BackoffPolicy{}.Delay(0))
}

func TestRetryDelayFunc(t *testing.T) {
	f := RetryDelayFunc(BackoffPolicy{Base: time.Second})
	task := asynq.NewTask(tasks.TypeTranscriptionJob, nil)

	assert.Equal(t, 7*time.Second, f(0, &RetryError{Delay: 7 * time.Second}, task))
	assert.Equal(t, 4*time.Second, f(2, errors.New("store down"), task))
}

func TestHandleTranscriptionJob_SkipsRetryOnTerminal(t *testing.T) {
	h := newHarness(t)
	h.tr.err = errors.New("corrupt media")
	p := h.seed(t, "job-skip", "auto")

	task, err := tasks.NewTranscriptionTask(p)
	require.NoError(t, err)

	// no asynq metadata in the context: attempt 0 of DefaultMaxAttempts
	err = h.exec.HandleTranscriptionJob(context.Background(), task)
	assert.False(t, errors.Is(err, asynq.SkipRetry))

	_, err = h.store.UpdateJob(context.Background(), p.JobID, func(j *models.Transcription) error {
		j.RetryCount = DefaultMaxAttempts
		return nil
	})
	require.NoError(t, err)

	err = h.exec.HandleTranscriptionJob(context.Background(), task)
	assert.True(t, errors.Is(err, asynq.SkipRetry))
}

func TestHandleTranscriptionJob_MalformedPayload(t *testing.T) {
	h := newHarness(t)
	err := h.exec.HandleTranscriptionJob(context.Background(), asynq.NewTask(tasks.TypeTranscriptionJob, []byte("{")))
	assert.True(t, errors.Is(err, asynq.SkipRetry))
}
