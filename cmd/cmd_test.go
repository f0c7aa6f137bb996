package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"avtranscribe/internal/models"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func runRoot(t *testing.T, args ...string) error {
	t.Helper()
	rootCmd.SetArgs(args)
	t.Cleanup(func() { rootCmd.SetArgs(nil) })
	return rootCmd.ExecuteContext(context.Background())
}

func TestJanitorRunCommand(t *testing.T) {
	dir := t.TempDir()
	stale := filepath.Join(dir, uuid.NewString()+"_talk.mp3")
	fresh := filepath.Join(dir, uuid.NewString()+".txt")
	for _, p := range []string{stale, fresh} {
		require.NoError(t, os.WriteFile(p, []byte("x"), 0o644))
	}
	old := time.Now().Add(-48 * time.Hour)
	require.NoError(t, os.Chtimes(stale, old, old))

	cfgPath := writeConfig(t, fmt.Sprintf("storage:\n  temp_dir: %s\njanitor:\n  retention: 24h\n", dir))
	require.NoError(t, runRoot(t, "--config", cfgPath, "janitor", "run"))

	_, err := os.Stat(stale)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(fresh)
	assert.NoError(t, err)
}

func TestMigrateCommand_SQLite(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "jobs.db")
	cfgPath := writeConfig(t, fmt.Sprintf("database:\n  driver: sqlite\n  sqlite:\n    path: %s\n", dbPath))

	require.NoError(t, runRoot(t, "--config", cfgPath, "migrate"))
	_, err := os.Stat(dbPath)
	assert.NoError(t, err)
}

func TestMissingConfigFile(t *testing.T) {
	err := runRoot(t, "--config", filepath.Join(t.TempDir(), "absent.yaml"), "janitor", "run")
	assert.Error(t, err)
}

func TestColorState(t *testing.T) {
	color.NoColor = true
	assert.Equal(t, "done", colorState(string(models.StateDone))("done"))
	assert.Equal(t, "retrying (attempt 2/3)", colorState(string(models.StateRetrying))("retrying (attempt 2/3)"))
	assert.Equal(t, "queued", colorState(string(models.StateQueued))("queued"))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short.mp3", truncate("short.mp3", 40))
	assert.Equal(t, "abcdefg...", truncate("abcdefghijklmnop", 10))
}
