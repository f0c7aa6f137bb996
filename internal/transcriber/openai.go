package transcriber

import (
	"context"
	"errors"
	"fmt"
	"os"

	"avtranscribe/internal/models"

	"github.com/sashabaranov/go-openai"
	log "github.com/sirupsen/logrus"
)

type audioClient interface {
	CreateTranscription(ctx context.Context, req openai.AudioRequest) (openai.AudioResponse, error)
}

// OpenAITranscriber calls the Whisper transcription endpoint of the OpenAI API
// or any server that implements it.
type OpenAITranscriber struct {
	client audioClient
	model  string
}

// NewOpenAITranscriber creates a Whisper API backend. baseURL is optional.
func NewOpenAITranscriber(apiKey, baseURL, model string) (*OpenAITranscriber, error) {
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY") // Fallback to env var
	}
	if apiKey == "" && baseURL == "" {
		return nil, errors.New("OpenAI API key not provided")
	}
	if model == "" {
		model = openai.Whisper1
	}

	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	log.Infof("OpenAI transcriber initialized with model %s", model)
	return &OpenAITranscriber{client: openai.NewClientWithConfig(cfg), model: model}, nil
}

func (t *OpenAITranscriber) Transcribe(ctx context.Context, path, language string) (*Transcript, error) {
	resp, err := t.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    t.model,
		FilePath: path,
		Language: language,
		Format:   openai.AudioResponseFormatVerboseJSON,
	})
	if err != nil {
		return nil, fmt.Errorf("OpenAI transcription of %s failed: %w", path, err)
	}

	segs := make([]models.Segment, 0, len(resp.Segments))
	for _, s := range resp.Segments {
		segs = append(segs, models.Segment{Start: s.Start, End: s.End, Text: s.Text})
	}
	tr, err := newTranscript(resp.Text, resp.Language, segs)
	if err != nil {
		return nil, fmt.Errorf("OpenAI transcription of %s: %w", path, err)
	}
	return tr, nil
}
