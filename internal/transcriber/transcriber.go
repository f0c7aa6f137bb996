// Package transcriber turns a media file into timed text.
package transcriber

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"avtranscribe/internal/models"

	log "github.com/sirupsen/logrus"
)

// Transcript is what a backend returns for one file.
type Transcript struct {
	Text     string
	Language string
	Segments []models.Segment
}

// Transcriber is a pure function of the input file as far as callers are concerned.
// An empty language means the backend should detect it.
type Transcriber interface {
	Transcribe(ctx context.Context, path, language string) (*Transcript, error)
}

// Factory builds a backend for one model. It is called at most once per model
// unless it fails.
type Factory func(ctx context.Context, model string) (Transcriber, error)

var (
	ErrUnknownProvider = errors.New("unknown transcription provider")
	// ErrEmptyTranscript is returned when a backend reports success without any text.
	ErrEmptyTranscript = errors.New("transcription produced no text")
	// ErrCacheClosed is returned for loads that lose the race with Close.
	ErrCacheClosed = errors.New("model cache closed")
)

// Cache loads backends lazily and shares them between concurrent jobs.
type Cache struct {
	factory Factory

	mu      sync.Mutex
	entries map[string]*cacheEntry
}

type cacheEntry struct {
	once sync.Once
	t    Transcriber
	err  error
}

func NewCache(factory Factory) *Cache {
	return &Cache{factory: factory, entries: make(map[string]*cacheEntry)}
}

// Get returns the backend for model, initialising it on first use.
// Concurrent callers for the same model wait for a single initialisation.
// A failed initialisation is forgotten so the next caller tries again.
func (c *Cache) Get(ctx context.Context, model string) (Transcriber, error) {
	c.mu.Lock()
	e, ok := c.entries[model]
	if !ok {
		e = &cacheEntry{}
		c.entries[model] = e
	}
	c.mu.Unlock()

	e.once.Do(func() {
		log.WithField("model", model).Info("Loading transcription model")
		e.t, e.err = c.factory(ctx, model)
	})
	if e.err != nil {
		c.mu.Lock()
		if c.entries[model] == e {
			delete(c.entries, model)
		}
		c.mu.Unlock()
		return nil, fmt.Errorf("load model %s: %w", model, e.err)
	}
	return e.t, nil
}

// For returns a Transcriber bound to model that resolves it through the cache per call.
func (c *Cache) For(model string) Transcriber {
	return &cachedModel{cache: c, model: model}
}

// Close releases every loaded backend that holds resources. A load still in
// progress is waited for and then closed.
func (c *Cache) Close() error {
	c.mu.Lock()
	entries := c.entries
	c.entries = make(map[string]*cacheEntry)
	c.mu.Unlock()

	var errs []error
	for model, e := range entries {
		// blocks until an in-flight load finishes; marks untouched entries closed
		e.once.Do(func() { e.err = ErrCacheClosed })
		if e.err != nil {
			continue
		}
		if closer, ok := e.t.(io.Closer); ok {
			if err := closer.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close %s: %w", model, err))
			}
		}
	}
	return errors.Join(errs...)
}

type cachedModel struct {
	cache *Cache
	model string
}

func (m *cachedModel) Transcribe(ctx context.Context, path, language string) (*Transcript, error) {
	t, err := m.cache.Get(ctx, m.model)
	if err != nil {
		return nil, err
	}
	return t.Transcribe(ctx, path, language)
}

// Options selects and configures a backend.
type Options struct {
	Provider      string // openai | gemini | whispercpp
	OpenAIAPIKey  string
	OpenAIBaseURL string
	GeminiAPIKey  string
	Prompt        string
	WhisperCPP    WhisperCPPOptions
}

// NewFactory returns the Factory for opts.Provider.
func NewFactory(opts Options) (Factory, error) {
	switch strings.ToLower(opts.Provider) {
	case "openai":
		return func(ctx context.Context, model string) (Transcriber, error) {
			return NewOpenAITranscriber(opts.OpenAIAPIKey, opts.OpenAIBaseURL, model)
		}, nil
	case "gemini":
		return func(ctx context.Context, model string) (Transcriber, error) {
			return NewGeminiTranscriber(ctx, opts.GeminiAPIKey, model, opts.Prompt)
		}, nil
	case "whispercpp", "whisper.cpp":
		return func(ctx context.Context, model string) (Transcriber, error) {
			return NewWhisperCPPTranscriber(opts.WhisperCPP, model)
		}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, opts.Provider)
	}
}

// newTranscript fills Text from the segments when the backend left it empty
// and rejects a result that carries no text at all.
func newTranscript(text, language string, segs []models.Segment) (*Transcript, error) {
	if strings.TrimSpace(text) == "" {
		text = joinSegments(segs)
	}
	if text == "" {
		return nil, ErrEmptyTranscript
	}
	return &Transcript{Text: text, Language: language, Segments: segs}, nil
}

// joinSegments builds the transcript text when a backend only reports segments.
func joinSegments(segs []models.Segment) string {
	parts := make([]string, 0, len(segs))
	for _, s := range segs {
		if t := strings.TrimSpace(s.Text); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, " ")
}
