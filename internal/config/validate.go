package config

import (
	"errors"
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"
)

// Validate checks the fields every command depends on. Provider credentials
// are checked here too, so a worker fails at startup rather than on the first job.
func (c *Config) Validate() error {
	var errs []error

	// Database config
	switch c.Database.Driver {
	case "sqlite":
		if c.Database.SQLite.Path == "" {
			errs = append(errs, errors.New("database.sqlite.path is required when database.driver is sqlite"))
		}
	case "postgres":
		if c.Database.Primary.DSN == "" {
			errs = append(errs, errors.New("database.primary.dsn is required when database.driver is postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("database.driver must be sqlite or postgres, got %q", c.Database.Driver))
	}

	// Redis config
	if c.Redis.Address == "" && c.Redis.URL == "" {
		errs = append(errs, errors.New("redis.address or redis.url is required"))
	}
	if _, err := c.RedisOpt(); err != nil {
		errs = append(errs, err)
	}

	// Worker config
	if c.Worker.Concurrency <= 0 {
		errs = append(errs, errors.New("worker.concurrency must be a positive integer"))
	}
	if len(c.Worker.Queues) == 0 {
		errs = append(errs, errors.New("worker.queues must define at least one queue"))
	}
	for name, priority := range c.Worker.Queues {
		if name == "" {
			errs = append(errs, errors.New("worker.queues contains an empty queue name"))
		}
		if priority <= 0 {
			errs = append(errs, fmt.Errorf("worker.queues priority for queue '%s' must be positive", name))
		}
	}

	// Transcription config
	t := c.Transcription
	switch strings.ToLower(t.Provider) {
	case "openai":
		if t.OpenaiApiKey == "" && t.OpenaiBaseURL == "" {
			errs = append(errs, errors.New("transcription.openai_api_key is required when transcription.provider is openai"))
		}
	case "gemini":
		if t.GeminiApiKey == "" {
			errs = append(errs, errors.New("transcription.gemini_api_key is required when transcription.provider is gemini"))
		}
	case "whispercpp", "whisper.cpp":
		if t.WhisperCPP.ModelDir == "" && !strings.HasSuffix(t.Model, ".bin") {
			errs = append(errs, errors.New("transcription.whisper_cpp.model_dir is required unless transcription.model is a .bin path"))
		}
	default:
		errs = append(errs, fmt.Errorf("transcription.provider must be openai, gemini or whispercpp, got %q", t.Provider))
	}
	if t.MaxRetries < 0 {
		errs = append(errs, errors.New("transcription.max_retries must not be negative"))
	}
	if t.RetryBaseDelay <= 0 {
		errs = append(errs, errors.New("transcription.retry_base_delay must be positive"))
	}
	if t.Timeout <= 0 {
		errs = append(errs, errors.New("transcription.timeout must be positive"))
	}

	// Storage config
	if c.Storage.TempDir == "" {
		errs = append(errs, errors.New("storage.temp_dir is required"))
	}
	if c.Storage.MaxUploadBytes < 0 {
		errs = append(errs, errors.New("storage.max_upload_bytes must not be negative"))
	}

	// Janitor config
	if c.Janitor.Enabled {
		if c.Janitor.Interval <= 0 {
			errs = append(errs, errors.New("janitor.interval must be positive"))
		}
		if c.Janitor.Retention <= 0 {
			errs = append(errs, errors.New("janitor.retention must be positive"))
		}
	}

	// Server config
	switch c.Server.Mode {
	case "", "debug", "release", "test":
	default:
		errs = append(errs, fmt.Errorf("server.mode must be debug, release or test, got %q", c.Server.Mode))
	}

	// Log config
	if _, err := log.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		errs = append(errs, fmt.Errorf("log.format must be text or json, got %q", c.Log.Format))
	}

	return errors.Join(errs...)
}
