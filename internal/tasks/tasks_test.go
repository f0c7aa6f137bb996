package tasks

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTranscriptionTask(t *testing.T) {
	task, err := NewTranscriptionTask(TranscriptionPayload{
		JobID:    "0b6b7f0e-2f65-4a53-9d4e-5c2a1a2b3c4d",
		FilePath: "/tmp/abc_talk.mp3",
		Language: "auto",
		Format:   "auto",
	})
	require.NoError(t, err)
	assert.Equal(t, TypeTranscriptionJob, task.Type())

	p, err := ParseTranscriptionPayload(task.Payload())
	require.NoError(t, err)
	assert.Equal(t, "/tmp/abc_talk.mp3", p.FilePath)
}

func TestNewTranscriptionTask_RequiresJobID(t *testing.T) {
	_, err := NewTranscriptionTask(TranscriptionPayload{FilePath: "/tmp/x.mp3"})
	assert.Error(t, err)
}

func TestParseTranscriptionPayload_Invalid(t *testing.T) {
	_, err := ParseTranscriptionPayload([]byte("not json"))
	assert.Error(t, err)

	_, err = ParseTranscriptionPayload([]byte(`{"file_path":"/tmp/x.mp3"}`))
	assert.Error(t, err)
}
