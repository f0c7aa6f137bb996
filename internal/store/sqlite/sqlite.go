package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"avtranscribe/internal/models"
	"avtranscribe/internal/store"

	"github.com/mattn/go-sqlite3"
)

// StoreImpl is a SQLite-backed implementation of store.JobStore.
type StoreImpl struct {
	db *sql.DB
}

var _ store.JobStore = (*StoreImpl)(nil)

// NewStore opens (or creates) the SQLite database at path and creates the schema.
// Transactions start with BEGIN IMMEDIATE so two writers never both read
// the same row before one of them commits.
func NewStore(path string) (*StoreImpl, error) {
	if path == "" {
		return nil, errors.New("sqlite path cannot be empty")
	}
	dsn := path
	if !isMemory(path) {
		dsn = fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate", path)
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// one writer at a time; also keeps ":memory:" on a single database
	db.SetMaxOpenConns(1)

	s := &StoreImpl{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *StoreImpl) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS transcriptions (
			id            TEXT PRIMARY KEY,
			state         TEXT NOT NULL DEFAULT 'queued',
			status        TEXT NOT NULL DEFAULT 'queued',
			filename      TEXT NOT NULL DEFAULT '',
			language      TEXT NOT NULL DEFAULT 'auto',
			format        TEXT NOT NULL DEFAULT 'auto',
			file_path     TEXT NOT NULL DEFAULT '',
			text          TEXT,
			csv_path      TEXT,
			txt_path      TEXT,
			segments      TEXT,
			error_message TEXT,
			progress      INTEGER NOT NULL DEFAULT 0,
			retry_count   INTEGER NOT NULL DEFAULT 0,
			max_retries   INTEGER NOT NULL DEFAULT 3,
			created_at    DATETIME NOT NULL,
			updated_at    DATETIME NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_transcriptions_state      ON transcriptions(state);
		CREATE INDEX IF NOT EXISTS idx_transcriptions_created_at ON transcriptions(created_at);
	`)
	return err
}

// Ping checks the database connection.
func (s *StoreImpl) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *StoreImpl) Close() error {
	return s.db.Close()
}

func (s *StoreImpl) CreateJob(ctx context.Context, j *models.Transcription) error {
	segments, err := encodeSegments(j.Segments)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO transcriptions
			(id, state, status, filename, language, format, file_path, text, csv_path, txt_path,
			 segments, error_message, progress, retry_count, max_retries, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		j.ID, j.Status.State, j.Status.String(), j.Filename, j.Language, j.Format, j.FilePath,
		j.Text, j.CSVPath, j.TxtPath, segments, j.ErrorMessage,
		j.Progress, j.RetryCount, j.MaxRetries, j.CreatedAt.UTC(), j.UpdatedAt.UTC(),
	)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey {
			return fmt.Errorf("create job %s: %w", j.ID, store.ErrDuplicate)
		}
		return fmt.Errorf("create job %s: %w", j.ID, err)
	}
	return nil
}

const selectColumns = `id, state, retry_count, max_retries, filename, language, format, file_path,
	text, csv_path, txt_path, segments, error_message, progress, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*models.Transcription, error) {
	j := &models.Transcription{}
	var state string
	var text, csvPath, txtPath, segments, errMsg sql.NullString
	err := row.Scan(
		&j.ID, &state, &j.RetryCount, &j.MaxRetries, &j.Filename, &j.Language, &j.Format, &j.FilePath,
		&text, &csvPath, &txtPath, &segments, &errMsg, &j.Progress, &j.CreatedAt, &j.UpdatedAt,
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
	j.Text = nullable(text)
	j.CSVPath = nullable(csvPath)
	j.TxtPath = nullable(txtPath)
	j.ErrorMessage = nullable(errMsg)
	if segments.Valid && segments.String != "" {
		if err := json.Unmarshal([]byte(segments.String), &j.Segments); err != nil {
			return nil, fmt.Errorf("decode segments: %w", err)
		}
	}
	return j, nil
}

func (s *StoreImpl) GetJob(ctx context.Context, id string) (*models.Transcription, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM transcriptions WHERE id = ?`, id)
	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job %s: %w", id, err)
	}
	return j, nil
}

// UpdateJob applies fn to a copy of the record inside a single transaction.
func (s *StoreImpl) UpdateJob(ctx context.Context, id string, fn store.MutateFunc) (*models.Transcription, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin update of job %s: %w", id, err)
	}
	defer tx.Rollback()

	current, err := scanJob(tx.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM transcriptions WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load job %s: %w", id, err)
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
	_, err = tx.ExecContext(ctx, `
		UPDATE transcriptions SET
			state = ?, status = ?, text = ?, csv_path = ?, txt_path = ?, segments = ?,
			error_message = ?, progress = ?, retry_count = ?, max_retries = ?, updated_at = ?
		WHERE id = ?`,
		next.Status.State, next.Status.String(), next.Text, next.CSVPath, next.TxtPath, segments,
		next.ErrorMessage, next.Progress, next.RetryCount, next.MaxRetries, next.UpdatedAt.UTC(), id,
	)
	if err != nil {
		return nil, fmt.Errorf("update job %s: %w", id, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit job %s: %w", id, err)
	}
	return next, nil
}

// ListJobs returns a page of jobs ordered by created_at DESC.
func (s *StoreImpl) ListJobs(ctx context.Context, limit, offset int) ([]*models.Transcription, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+selectColumns+` FROM transcriptions ORDER BY created_at DESC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*models.Transcription
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return jobs, fmt.Errorf("scan job row: %w", err)
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

func encodeSegments(segs []models.Segment) (*string, error) {
	if segs == nil {
		return nil, nil
	}
	b, err := json.Marshal(segs)
	if err != nil {
		return nil, fmt.Errorf("encode segments: %w", err)
	}
	v := string(b)
	return &v, nil
}

func nullable(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}

// isMemory reports whether path points at a transient database.
func isMemory(path string) bool {
	return path == ":memory:" || strings.Contains(path, "mode=memory")
}
