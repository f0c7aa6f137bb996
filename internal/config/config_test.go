package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "transcription:\n  openai_api_key: sk-test\n"))
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, 3, cfg.Transcription.MaxRetries)
	assert.Equal(t, 60*time.Second, cfg.Transcription.RetryBaseDelay)
	assert.Equal(t, 2*time.Hour, cfg.Transcription.Timeout)
	assert.Equal(t, time.Hour, cfg.Janitor.Interval)
	assert.Equal(t, 24*time.Hour, cfg.Janitor.Retention)
	assert.Equal(t, "/tmp", cfg.Storage.TempDir)
	assert.Equal(t, int64(100*1024*1024), cfg.Storage.MaxUploadBytes)
	assert.Equal(t, map[string]int{"transcriptions": 1}, cfg.Worker.Queues)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_FileAndEnv(t *testing.T) {
	t.Setenv("AVT_TRANSCRIPTION_MAX_RETRIES", "5")
	t.Setenv("OPENAI_API_KEY", "sk-env")
	t.Setenv("REDIS_URL", "redis://:secret@cache:6380/2")

	cfg, err := Load(writeConfig(t, `
database:
  driver: postgres
  primary:
    dsn: postgres://u:p@db/avt
transcription:
  retry_base_delay: 5s
janitor:
  interval: 10m
`))
	require.NoError(t, err)

	assert.Equal(t, 5, cfg.Transcription.MaxRetries)
	assert.Equal(t, "sk-env", cfg.Transcription.OpenaiApiKey)
	assert.Equal(t, 5*time.Second, cfg.Transcription.RetryBaseDelay)
	assert.Equal(t, 10*time.Minute, cfg.Janitor.Interval)
	assert.Equal(t, "postgres://u:p@db/avt", cfg.Database.Primary.DSN)

	opt, err := cfg.RedisOpt()
	require.NoError(t, err)
	assert.Equal(t, "cache:6380", opt.Addr)
	assert.Equal(t, "secret", opt.Password)
	assert.Equal(t, 2, opt.DB)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidate_ReportsEveryProblem(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
database:
  driver: mongo
transcription:
  provider: gemini
  timeout: 0s
log:
  format: xml
`))
	require.NoError(t, err)

	err = cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{"database.driver", "transcription.gemini_api_key", "transcription.timeout", "log.format"} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestModelName(t *testing.T) {
	var cfg Config
	cfg.Transcription.Provider = "whispercpp"
	assert.Equal(t, "base", cfg.ModelName())
	cfg.Transcription.Model = "small"
	assert.Equal(t, "small", cfg.ModelName())
}

func TestLoadPromptContent(t *testing.T) {
	got, err := LoadPromptContent("")
	require.NoError(t, err)
	assert.Empty(t, got)

	p := filepath.Join(t.TempDir(), "prompt.txt")
	require.NoError(t, os.WriteFile(p, []byte("transcribe please"), 0o644))
	got, err = LoadPromptContent(p)
	require.NoError(t, err)
	assert.Equal(t, "transcribe please", got)
}
