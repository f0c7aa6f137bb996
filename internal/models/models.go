package models

import (
	"fmt"
	"strings"
	"time"
)

// Segment is one timed piece of a transcript.
type Segment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// Transcription mirrors the transcriptions table. It is the only persistent entity.
type Transcription struct {
	ID           string    `db:"id"            json:"id"`
	Status       Status    `db:"state"         json:"status"`
	Filename     string    `db:"filename"      json:"filename"`
	Language     string    `db:"language"      json:"language"`
	Format       string    `db:"format"        json:"format"`
	FilePath     string    `db:"file_path"     json:"-"` // input artifact
	Text         *string   `db:"text"          json:"text,omitempty"`
	CSVPath      *string   `db:"csv_path"      json:"csv_path,omitempty"`
	TxtPath      *string   `db:"txt_path"      json:"txt_path,omitempty"`
	Segments     []Segment `db:"segments"      json:"segments,omitempty"`
	ErrorMessage *string   `db:"error_message" json:"error_message,omitempty"`
	Progress     int       `db:"progress"      json:"progress"`
	RetryCount   int       `db:"retry_count"   json:"retry_count"`
	MaxRetries   int       `db:"max_retries"   json:"max_retries"`
	CreatedAt    time.Time `db:"created_at"    json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at"    json:"updated_at"`
}

// NewTranscription builds a queued record for a freshly uploaded file.
func NewTranscription(id, filename, language, format, filePath string, maxRetries int, now time.Time) *Transcription {
	return &Transcription{
		ID:         id,
		Status:     Queued(),
		Filename:   filename,
		Language:   language,
		Format:     format,
		FilePath:   filePath,
		MaxRetries: maxRetries,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// Clone returns a deep copy so a failed commit never leaks a mutation.
func (t *Transcription) Clone() *Transcription {
	c := *t
	c.Text = cloneString(t.Text)
	c.CSVPath = cloneString(t.CSVPath)
	c.TxtPath = cloneString(t.TxtPath)
	c.ErrorMessage = cloneString(t.ErrorMessage)
	if t.Segments != nil {
		c.Segments = append([]Segment(nil), t.Segments...)
	}
	return &c
}

func (t *Transcription) transition(next Status, now time.Time) error {
	if !t.Status.CanTransitionTo(next.State) {
		return fmt.Errorf("%w: %s -> %s (job %s)", ErrInvalidTransition, t.Status.State, next.State, t.ID)
	}
	t.Status = next
	t.UpdatedAt = now
	return nil
}

// MarkProcessing claims the job for execution.
func (t *Transcription) MarkProcessing(now time.Time) error {
	return t.transition(Processing(), now)
}

// MarkRetrying records a failed attempt that will be retried.
func (t *Transcription) MarkRetrying(attempt, max int, now time.Time) error {
	if err := t.transition(Retrying(attempt, max), now); err != nil {
		return err
	}
	t.RetryCount = attempt
	t.MaxRetries = max
	return nil
}

// MarkDone stores the result. Text and result artifacts only exist on done records.
func (t *Transcription) MarkDone(text, csvPath, txtPath string, segments []Segment, now time.Time) error {
	if err := t.transition(Done(), now); err != nil {
		return err
	}
	text = strings.TrimSpace(text)
	t.Text = &text
	t.CSVPath = &csvPath
	t.TxtPath = &txtPath
	t.Segments = segments
	t.ErrorMessage = nil
	if len(segments) > t.Progress {
		t.Progress = len(segments)
	}
	return nil
}

// MarkFailed moves the job to its terminal failure state.
func (t *Transcription) MarkFailed(msg string, now time.Time) error {
	if err := t.transition(Failed(), now); err != nil {
		return err
	}
	t.ErrorMessage = &msg
	t.Text = nil
	t.CSVPath = nil
	t.TxtPath = nil
	return nil
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
