package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"avtranscribe/internal/config"
	"avtranscribe/internal/janitor"
	"avtranscribe/internal/services"
	"avtranscribe/internal/store"
	"avtranscribe/internal/store/primary"
	"avtranscribe/internal/store/sqlite"
	"avtranscribe/internal/transcriber"
	"avtranscribe/internal/worker"

	log "github.com/sirupsen/logrus" // Use logrus
)

// App holds the long-lived dependencies shared by every command.
type App struct {
	Config *config.Config

	JobStore  store.JobStore
	JobClient store.JobClient

	TranscriptionService *services.TranscriptionService
	Janitor              *janitor.Janitor

	models *transcriber.Cache
}

// ConfigureLogging applies log.level and log.format to the standard logrus logger.
func ConfigureLogging(cfg *config.Config) error {
	level, err := log.ParseLevel(cfg.Log.Level)
	if err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	log.SetLevel(level)
	if strings.EqualFold(cfg.Log.Format, "json") {
		log.SetFormatter(&log.JSONFormatter{})
	} else {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}
	log.SetOutput(os.Stderr)
	return nil
}

// NewApp opens the record store and the queue client and builds the services.
// Transcription backends are loaded lazily by Executor.
func NewApp(ctx context.Context, cfg *config.Config) (*App, error) {
	app := &App{Config: cfg}

	if err := app.initJobStore(ctx); err != nil {
		return nil, err
	}
	if err := app.initJobClient(); err != nil {
		app.cleanupPartialInit()
		return nil, err
	}

	app.TranscriptionService = services.NewTranscriptionService(services.TranscriptionServiceDeps{
		JobStore:       app.JobStore,
		JobClient:      app.JobClient,
		TempDir:        cfg.Storage.TempDir,
		MaxRetries:     cfg.Transcription.MaxRetries,
		MaxUploadBytes: cfg.Storage.MaxUploadBytes,
	})
	app.Janitor = janitor.New(janitor.Config{
		Dir:        cfg.Storage.TempDir,
		Retention:  cfg.Janitor.Retention,
		Interval:   cfg.Janitor.Interval,
		Extensions: cfg.Janitor.Extensions,
	})

	log.Debug("Application initialization complete.")
	return app, nil
}

// --- Private Helper Methods ---

func (a *App) initJobStore(ctx context.Context) error {
	switch a.Config.Database.Driver {
	case "postgres":
		if err := primary.RunMigrations(a.Config.Database.Primary.DSN); err != nil {
			return fmt.Errorf("init primary store: %w", err)
		}
		ps, err := primary.NewPrimaryStore(ctx, a.Config.Database.Primary.DSN, primary.PoolOptions{
			MaxConns: a.Config.Database.Primary.MaxConns,
		})
		if err != nil {
			return fmt.Errorf("init primary store: %w", err)
		}
		a.JobStore = ps
	default:
		ss, err := sqlite.NewStore(a.Config.Database.SQLite.Path)
		if err != nil {
			return fmt.Errorf("init sqlite store: %w", err)
		}
		a.JobStore = ss
	}
	return nil
}

func (a *App) initJobClient() error {
	redisOpt, err := a.Config.RedisOpt()
	if err != nil {
		return fmt.Errorf("init job client: %w", err)
	}
	jc, err := store.NewAsynqJobClient(redisOpt, store.JobOptions{
		MaxRetries: a.Config.Transcription.MaxRetries,
		Timeout:    a.Config.Transcription.Timeout,
		Retention:  a.Config.Transcription.Retention,
	})
	if err != nil {
		return fmt.Errorf("init job client: %w", err)
	}
	a.JobClient = jc
	return nil
}

// NewExecutor builds the worker side: the model cache and the job executor.
func (a *App) NewExecutor() (*worker.Executor, error) {
	cfg := a.Config
	prompt, err := config.LoadPromptContent(cfg.Transcription.Prompt)
	if err != nil {
		return nil, err
	}
	factory, err := transcriber.NewFactory(transcriber.Options{
		Provider:      cfg.Transcription.Provider,
		OpenAIAPIKey:  cfg.Transcription.OpenaiApiKey,
		OpenAIBaseURL: cfg.Transcription.OpenaiBaseURL,
		GeminiAPIKey:  cfg.Transcription.GeminiApiKey,
		Prompt:        prompt,
		WhisperCPP: transcriber.WhisperCPPOptions{
			Binary:   cfg.Transcription.WhisperCPP.Binary,
			FFmpeg:   cfg.Transcription.WhisperCPP.FFmpeg,
			ModelDir: cfg.Transcription.WhisperCPP.ModelDir,
			Threads:  cfg.Transcription.WhisperCPP.Threads,
			WorkDir:  cfg.Storage.TempDir,
		},
	})
	if err != nil {
		return nil, err
	}
	a.models = transcriber.NewCache(factory)

	return worker.NewExecutor(worker.ExecutorConfig{
		Store:       a.JobStore,
		Transcriber: a.models.For(cfg.ModelName()),
		OutputDir:   cfg.Storage.TempDir,
		Backoff:     worker.BackoffPolicy{Base: cfg.Transcription.RetryBaseDelay},
	}), nil
}

func (a *App) cleanupPartialInit() {
	if a.JobStore != nil {
		a.JobStore.Close()
	}
}

// Close releases everything NewApp and NewExecutor opened.
func (a *App) Close() error {
	var errs []error
	if a.Janitor != nil {
		a.Janitor.Stop()
	}
	if a.models != nil {
		errs = append(errs, a.models.Close())
	}
	if a.JobClient != nil {
		errs = append(errs, a.JobClient.Close())
	}
	if a.JobStore != nil {
		errs = append(errs, a.JobStore.Close())
	}
	return errors.Join(errs...)
}
