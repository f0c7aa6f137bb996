package fileingest

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func touch(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
}

func TestDiscoverMediaFiles(t *testing.T) {
	root := t.TempDir()
	touch(t, filepath.Join(root, "b.mp3"))
	touch(t, filepath.Join(root, "a.WAV"))
	touch(t, filepath.Join(root, "notes.txt"))
	touch(t, filepath.Join(root, "talks", "keynote.mp4"))
	touch(t, filepath.Join(root, ".cache", "hidden.mov"))

	files, err := DiscoverMediaFiles(context.Background(), root)
	require.NoError(t, err)

	var names []string
	for _, f := range files {
		names = append(names, f.Name)
		assert.EqualValues(t, 1, f.Size)
	}
	assert.Equal(t, []string{"a.WAV", "b.mp3", "keynote.mp4"}, names)
}

func TestDiscoverMediaFiles_MissingRoot(t *testing.T) {
	_, err := DiscoverMediaFiles(context.Background(), filepath.Join(t.TempDir(), "nope"))
	assert.Error(t, err)
}

func TestDiscoverMediaFiles_Cancelled(t *testing.T) {
	root := t.TempDir()
	touch(t, filepath.Join(root, "a.mp3"))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := DiscoverMediaFiles(ctx, root)
	assert.ErrorIs(t, err, context.Canceled)
}
