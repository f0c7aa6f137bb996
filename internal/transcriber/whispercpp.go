package transcriber

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"avtranscribe/internal/models"

	log "github.com/sirupsen/logrus"
)

// WhisperCPPOptions locates the local toolchain.
type WhisperCPPOptions struct {
	Binary   string // whisper-cli
	FFmpeg   string // empty skips preprocessing
	ModelDir string // holds ggml-<model>.bin
	Threads  int
	WorkDir  string // scratch space; defaults to os.TempDir()
}

// StageError reports which step of the local pipeline failed.
type StageError struct {
	Stage  string
	Stderr string
	Err    error
}

func (e *StageError) Error() string {
	msg := fmt.Sprintf("%s: %v", e.Stage, e.Err)
	if s := strings.TrimSpace(e.Stderr); s != "" {
		msg += " (" + lastLine(s) + ")"
	}
	return msg
}

func (e *StageError) Unwrap() error { return e.Err }

type commandRunner interface {
	Run(ctx context.Context, name string, args ...string) (stderr string, err error)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stderr.String(), err
}

// WhisperCPPTranscriber runs whisper.cpp on the local machine, optionally after
// converting the input to 16 kHz mono WAV with ffmpeg.
type WhisperCPPTranscriber struct {
	opts      WhisperCPPOptions
	modelPath string
	runner    commandRunner
}

// NewWhisperCPPTranscriber resolves model ("base", "small", ... or a path to a ggml file).
func NewWhisperCPPTranscriber(opts WhisperCPPOptions, model string) (*WhisperCPPTranscriber, error) {
	if opts.Binary == "" {
		opts.Binary = "whisper-cli"
	}
	if opts.WorkDir == "" {
		opts.WorkDir = os.TempDir()
	}
	if model == "" {
		model = "base"
	}
	modelPath := model
	if !strings.ContainsRune(model, filepath.Separator) && !strings.HasSuffix(model, ".bin") {
		modelPath = filepath.Join(opts.ModelDir, "ggml-"+model+".bin")
	}
	if _, err := os.Stat(modelPath); err != nil {
		return nil, fmt.Errorf("whisper.cpp model %s: %w", modelPath, err)
	}
	log.Infof("whisper.cpp transcriber initialized with model %s", modelPath)
	return &WhisperCPPTranscriber{opts: opts, modelPath: modelPath, runner: execRunner{}}, nil
}

func (t *WhisperCPPTranscriber) Transcribe(ctx context.Context, path, language string) (*Transcript, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, &StageError{Stage: "preprocessing", Err: err}
	}
	work, err := os.MkdirTemp(t.opts.WorkDir, "whispercpp-*")
	if err != nil {
		return nil, &StageError{Stage: "preprocessing", Err: err}
	}
	defer os.RemoveAll(work)

	input := path
	if t.opts.FFmpeg != "" {
		input = filepath.Join(work, "input-16k-mono.wav")
		args := []string{"-hide_banner", "-loglevel", "error", "-y", "-i", path, "-ar", "16000", "-ac", "1", "-c:a", "pcm_s16le", input}
		if stderr, err := t.runner.Run(ctx, t.opts.FFmpeg, args...); err != nil {
			return nil, &StageError{Stage: "preprocessing", Stderr: stderr, Err: err}
		}
	}

	outBase := filepath.Join(work, "transcript")
	if stderr, err := t.runner.Run(ctx, t.opts.Binary, t.whisperArgs(input, outBase, language)...); err != nil {
		return nil, &StageError{Stage: "transcribing", Stderr: stderr, Err: err}
	}

	raw, err := os.ReadFile(outBase + ".json")
	if err != nil {
		return nil, &StageError{Stage: "exporting", Err: err}
	}
	tr, err := parseWhisperCPPJSON(raw)
	if err != nil {
		return nil, &StageError{Stage: "exporting", Err: err}
	}
	return tr, nil
}

func (t *WhisperCPPTranscriber) whisperArgs(input, outBase, language string) []string {
	if language == "" {
		language = "auto"
	}
	args := []string{"-m", t.modelPath, "-f", input, "-l", language, "-oj", "-of", outBase, "-np"}
	if t.opts.Threads > 0 {
		args = append(args, "-t", fmt.Sprint(t.opts.Threads))
	}
	return args
}

type whisperCPPOutput struct {
	Result struct {
		Language string `json:"language"`
	} `json:"result"`
	Transcription []struct {
		Offsets struct {
			From int64 `json:"from"`
			To   int64 `json:"to"`
		} `json:"offsets"`
		Text string `json:"text"`
	} `json:"transcription"`
}

// parseWhisperCPPJSON reads the -oj output; offsets are milliseconds.
func parseWhisperCPPJSON(raw []byte) (*Transcript, error) {
	var out whisperCPPOutput
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode whisper.cpp json: %w", err)
	}
	if out.Transcription == nil {
		return nil, errors.New("whisper.cpp json has no transcription")
	}
	segs := make([]models.Segment, 0, len(out.Transcription))
	for _, s := range out.Transcription {
		segs = append(segs, models.Segment{
			Start: float64(s.Offsets.From) / 1000,
			End:   float64(s.Offsets.To) / 1000,
			Text:  strings.TrimSpace(s.Text),
		})
	}
	tr, err := newTranscript("", out.Result.Language, segs)
	if err != nil {
		return nil, fmt.Errorf("whisper.cpp: %w", err)
	}
	return tr, nil
}

func lastLine(s string) string {
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}
