package transcriber

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"

	"avtranscribe/internal/models"

	"github.com/google/generative-ai-go/genai"
	log "github.com/sirupsen/logrus"
	"google.golang.org/api/option"
)

// DefaultGeminiPrompt asks for the transcript in the JSON shape parseGeminiTranscript expects.
const DefaultGeminiPrompt = `Transcribe the speech in the attached media file.
Respond with JSON only, in this shape:
{"language": "<ISO 639-1 code>", "segments": [{"start": <seconds>, "end": <seconds>, "text": "<spoken text>"}]}
Keep segments short (one sentence or less) and in chronological order.`

const geminiFilePollInterval = 2 * time.Second

// GeminiTranscriber uploads media through the Gemini Files API and asks a
// multimodal model for a timed transcript.
type GeminiTranscriber struct {
	client *genai.Client
	model  string
	prompt string
}

// NewGeminiTranscriber creates a Gemini backend. An empty prompt uses DefaultGeminiPrompt.
func NewGeminiTranscriber(ctx context.Context, apiKey, model, prompt string) (*GeminiTranscriber, error) {
	if apiKey == "" {
		apiKey = os.Getenv("GEMINI_API_KEY") // Fallback to env var
	}
	if apiKey == "" {
		return nil, errors.New("Gemini API key not provided")
	}
	if model == "" {
		model = "gemini-1.5-flash"
	}
	if strings.TrimSpace(prompt) == "" {
		prompt = DefaultGeminiPrompt
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	log.Infof("Gemini transcriber initialized with model %s", model)
	return &GeminiTranscriber{client: client, model: model, prompt: prompt}, nil
}

func (t *GeminiTranscriber) Close() error {
	return t.client.Close()
}

func (t *GeminiTranscriber) Transcribe(ctx context.Context, path, language string) (*Transcript, error) {
	mimeType := mime.TypeByExtension(strings.ToLower(filepath.Ext(path)))
	file, err := t.client.UploadFileFromPath(ctx, path, &genai.UploadFileOptions{MIMEType: mimeType})
	if err != nil {
		return nil, fmt.Errorf("Gemini upload of %s failed: %w", path, err)
	}
	defer func() {
		// the request context may already be gone
		delCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := t.client.DeleteFile(delCtx, file.Name); err != nil {
			log.WithError(err).WithField("file", file.Name).Warn("Failed to delete uploaded Gemini file")
		}
	}()

	file, err = t.waitActive(ctx, file)
	if err != nil {
		return nil, err
	}

	prompt := t.prompt
	if language != "" {
		prompt += fmt.Sprintf("\nThe spoken language is %q.", language)
	}

	model := t.client.GenerativeModel(t.model)
	model.ResponseMIMEType = "application/json"
	resp, err := model.GenerateContent(ctx,
		genai.FileData{MIMEType: file.MIMEType, URI: file.URI},
		genai.Text(prompt),
	)
	if err != nil {
		return nil, fmt.Errorf("Gemini API error transcribing %s: %w", path, err)
	}
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, errors.New("Gemini API returned no candidates")
	}

	var raw strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			raw.WriteString(string(txt))
		}
	}
	return parseGeminiTranscript(raw.String())
}

// waitActive polls until an uploaded video leaves the PROCESSING state.
func (t *GeminiTranscriber) waitActive(ctx context.Context, file *genai.File) (*genai.File, error) {
	for file.State == genai.FileStateProcessing {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(geminiFilePollInterval):
		}
		var err error
		file, err = t.client.GetFile(ctx, file.Name)
		if err != nil {
			return nil, fmt.Errorf("Gemini file status: %w", err)
		}
	}
	if file.State == genai.FileStateFailed {
		return nil, fmt.Errorf("Gemini could not process file %s", file.Name)
	}
	return file, nil
}

type geminiTranscript struct {
	Language string           `json:"language"`
	Text     string           `json:"text"`
	Segments []models.Segment `json:"segments"`
}

func parseGeminiTranscript(raw string) (*Transcript, error) {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")

	var gt geminiTranscript
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &gt); err != nil {
		return nil, fmt.Errorf("decode Gemini transcript: %w", err)
	}
	tr, err := newTranscript(gt.Text, gt.Language, gt.Segments)
	if err != nil {
		return nil, fmt.Errorf("Gemini transcript: %w", err)
	}
	return tr, nil
}
