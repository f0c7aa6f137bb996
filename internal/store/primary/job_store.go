package primary

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"avtranscribe/internal/models"
	"avtranscribe/internal/store"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// --- Job Store Implementation ---

const uniqueViolation = "23505"

const jobColumns = `id, state, retry_count, max_retries, filename, language, format, file_path,
	text, csv_path, txt_path, segments, error_message, progress, created_at, updated_at`

// CreateJob inserts a new record into the transcriptions table.
func (s *StoreImpl) CreateJob(ctx context.Context, j *models.Transcription) error {
	segments, err := encodeSegments(j.Segments)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO transcriptions
			(id, state, status, filename, language, format, file_path, text, csv_path, txt_path,
			 segments, error_message, progress, retry_count, max_retries, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
		j.ID, string(j.Status.State), j.Status.String(), j.Filename, j.Language, j.Format, j.FilePath,
		j.Text, j.CSVPath, j.TxtPath, segments, j.ErrorMessage,
		j.Progress, j.RetryCount, j.MaxRetries, j.CreatedAt, j.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return fmt.Errorf("create job %s: %w", j.ID, store.ErrDuplicate)
		}
		return fmt.Errorf("failed to create job %s: %w", j.ID, err)
	}
	return nil
}

// GetJob retrieves a job by id.
func (s *StoreImpl) GetJob(ctx context.Context, id string) (*models.Transcription, error) {
	j, err := scanJob(s.db.QueryRow(ctx, `SELECT `+jobColumns+` FROM transcriptions WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job %s: %w", id, err)
	}
	return j, nil
}

// UpdateJob locks the row with SELECT ... FOR UPDATE, applies fn to a copy and commits.
func (s *StoreImpl) UpdateJob(ctx context.Context, id string, fn store.MutateFunc) (*models.Transcription, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin update of job %s: %w", id, err)
	}
	defer tx.Rollback(ctx)

	current, err := scanJob(tx.QueryRow(ctx, `SELECT `+jobColumns+` FROM transcriptions WHERE id = $1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock job %s: %w", id, err)
	}

	next := current.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	if next.UpdatedAt.Equal(current.UpdatedAt) {
		next.UpdatedAt = time.Now()
	}

	segments, err := encodeSegments(next.Segments)
	if err != nil {
		return nil, err
	}
	_, err = tx.Exec(ctx, `
		UPDATE transcriptions SET
			state = $2, status = $3, text = $4, csv_path = $5, txt_path = $6, segments = $7,
			error_message = $8, progress = $9, retry_count = $10, max_retries = $11, updated_at = $12
		WHERE id = $1`,
		id, string(next.Status.State), next.Status.String(), next.Text, next.CSVPath, next.TxtPath, segments,
		next.ErrorMessage, next.Progress, next.RetryCount, next.MaxRetries, next.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to update job %s: %w", id, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit job %s: %w", id, err)
	}
	return next, nil
}

// ListJobs retrieves jobs newest first.
func (s *StoreImpl) ListJobs(ctx context.Context, limit, offset int) ([]*models.Transcription, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+jobColumns+` FROM transcriptions ORDER BY created_at DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*models.Transcription
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return jobs, fmt.Errorf("failed to scan job row: %w", err)
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return jobs, fmt.Errorf("error iterating job rows: %w", err)
	}
	return jobs, nil
}

// scanJob scans a single row into a models.Transcription.
// It expects the columns in the order of jobColumns.
func scanJob(row pgx.Row) (*models.Transcription, error) {
	j := &models.Transcription{}
	var state string
	var segments []byte
	err := row.Scan(
		&j.ID, &state, &j.RetryCount, &j.MaxRetries, &j.Filename, &j.Language, &j.Format, &j.FilePath,
		&j.Text, &j.CSVPath, &j.TxtPath, &segments, &j.ErrorMessage, &j.Progress, &j.CreatedAt, &j.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	st, err := models.ParseState(state)
	if err != nil {
		return nil, err
	}
	j.Status = models.Status{State: st}
	if st == models.StateRetrying {
		j.Status = models.Retrying(j.RetryCount, j.MaxRetries)
	}
	if len(segments) > 0 {
		if err := json.Unmarshal(segments, &j.Segments); err != nil {
			return nil, fmt.Errorf("decode segments: %w", err)
		}
	}
	return j, nil
}

func encodeSegments(segs []models.Segment) ([]byte, error) {
	if segs == nil {
		return nil, nil
	}
	b, err := json.Marshal(segs)
	if err != nil {
		return nil, fmt.Errorf("encode segments: %w", err)
	}
	return b, nil
}

// Ensure StoreImpl satisfies the JobStore interface
var _ store.JobStore = (*StoreImpl)(nil)
