package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"avtranscribe/internal/tasks"

	"github.com/hibiken/asynq"
	log "github.com/sirupsen/logrus"
)

// AttemptFromContext reads the delivery count asynq attaches to the handler context.
func AttemptFromContext(ctx context.Context) AttemptContext {
	ac := AttemptContext{MaxAttempts: DefaultMaxAttempts}
	if n, ok := asynq.GetRetryCount(ctx); ok {
		ac.Attempt = n
	}
	if n, ok := asynq.GetMaxRetry(ctx); ok {
		ac.MaxAttempts = n
	}
	return ac
}

// HandleTranscriptionJob adapts Execute to an asynq handler.
func (e *Executor) HandleTranscriptionJob(ctx context.Context, t *asynq.Task) error {
	p, err := tasks.ParseTranscriptionPayload(t.Payload())
	if err != nil {
		log.WithError(err).Error("Dropping malformed transcription task")
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}

	err = e.Execute(ctx, p, AttemptFromContext(ctx))
	var terminal *TerminalError
	if errors.As(err, &terminal) {
		return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	}
	return err
}

// RegisterHandlers wires the executor into mux.
func RegisterHandlers(mux *asynq.ServeMux, e *Executor) {
	log.Infof("Registering transcription handler (%s)", tasks.TypeTranscriptionJob)
	mux.HandleFunc(tasks.TypeTranscriptionJob, e.HandleTranscriptionJob)
}

// RetryDelayFunc honours the delay carried by a RetryError and falls back to
// the same backoff for any other failure.
func RetryDelayFunc(b BackoffPolicy) asynq.RetryDelayFunc {
	return func(n int, err error, t *asynq.Task) time.Duration {
		var re *RetryError
		if errors.As(err, &re) {
			return re.Delay
		}
		return b.Delay(n)
	}
}
