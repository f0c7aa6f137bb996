package primary

import (
	"context"
	"errors"
	"testing"
	"time"

	"avtranscribe/internal/models"
	"avtranscribe/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupTestStore spins up a Postgres container, applies the migrations and returns a store.
func setupTestStore(t *testing.T) *StoreImpl {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("avtranscribe_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	if err != nil {
		t.Skipf("docker unavailable: %v", err)
	}
	t.Cleanup(func() {
		require.NoError(t, pgContainer.Terminate(ctx))
	})

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	require.NoError(t, RunMigrations(connStr))
	// second run is a no-op
	require.NoError(t, RunMigrations(connStr))

	s, err := NewPrimaryStore(ctx, connStr, PoolOptions{MaxConns: 4})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestMigrateURL(t *testing.T) {
	assert.Equal(t, "pgx5://u:p@host:5432/db", migrateURL("postgres://u:p@host:5432/db"))
	assert.Equal(t, "pgx5://u:p@host/db", migrateURL("postgresql://u:p@host/db"))
	assert.Equal(t, "pgx5://already", migrateURL("pgx5://already"))
}

func TestNewPrimaryStore_EmptyDSN(t *testing.T) {
	_, err := NewPrimaryStore(context.Background(), "", PoolOptions{})
	assert.Error(t, err)
}

func TestPrimaryStore_Lifecycle(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	job := models.NewTranscription("11111111-1111-1111-1111-111111111111", "talk.mp3", "en", "auto", "/tmp/x_talk.mp3", 3, now)
	require.NoError(t, s.CreateJob(ctx, job))
	assert.ErrorIs(t, s.CreateJob(ctx, job), store.ErrDuplicate)

	got, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StateQueued, got.Status.State)
	assert.Nil(t, got.Text)

	_, err = s.UpdateJob(ctx, job.ID, func(j *models.Transcription) error {
		return j.MarkProcessing(now.Add(time.Second))
	})
	require.NoError(t, err)

	updated, err := s.UpdateJob(ctx, job.ID, func(j *models.Transcription) error {
		return j.MarkRetrying(1, 3, now.Add(2*time.Second))
	})
	require.NoError(t, err)
	assert.Equal(t, "retrying (attempt 1/3)", updated.Status.String())

	got, err = s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.Retrying(1, 3), got.Status)
	assert.Equal(t, 1, got.RetryCount)

	segs := []models.Segment{{Start: 0, End: 2, Text: "Hello world"}}
	_, err = s.UpdateJob(ctx, job.ID, func(j *models.Transcription) error {
		if err := j.MarkProcessing(now.Add(3 * time.Second)); err != nil {
			return err
		}
		return j.MarkDone("Hello world", "/tmp/a.csv", "/tmp/a.txt", segs, now.Add(4*time.Second))
	})
	require.NoError(t, err)

	got, err = s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StateDone, got.Status.State)
	require.NotNil(t, got.Text)
	assert.Equal(t, "Hello world", *got.Text)
	assert.Equal(t, segs, got.Segments)
}

func TestPrimaryStore_UpdateRollsBack(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	job := models.NewTranscription("22222222-2222-2222-2222-222222222222", "a.wav", "auto", "auto", "/tmp/a.wav", 3, time.Now().UTC())
	require.NoError(t, s.CreateJob(ctx, job))

	boom := errors.New("boom")
	_, err := s.UpdateJob(ctx, job.ID, func(j *models.Transcription) error {
		_ = j.MarkProcessing(time.Now())
		return boom
	})
	assert.ErrorIs(t, err, boom)

	got, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StateQueued, got.Status.State)

	_, err = s.GetJob(ctx, "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}
