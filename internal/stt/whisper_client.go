package stt

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/valperai/valper-gateway/internal/audio"
	"github.com/valperai/valper-gateway/internal/health"
	"github.com/valperai/valper-gateway/internal/openaicompat"
)

// WhisperConfig configures a Whisper-compatible transcription endpoint
type WhisperConfig struct {
	APIKey   string
	BaseURL  string // a local server keeps recognition working offline
	Model    string
	Language string
	Timeout  time.Duration
}

// WhisperEngine transcribes audio through the OpenAI transcription API
type WhisperEngine struct {
	config WhisperConfig

	mu     sync.RWMutex
	client *openai.Client
}

// NewWhisperEngine creates a Whisper recognizer
func NewWhisperEngine(cfg WhisperConfig) *WhisperEngine {
	if cfg.Model == "" {
		cfg.Model = openai.Whisper1
	}
	return &WhisperEngine{config: cfg}
}

// Name implements Engine
func (w *WhisperEngine) Name() string {
	return "whisper"
}

// Init implements Engine
func (w *WhisperEngine) Init(ctx context.Context) error {
	if w.config.BaseURL == "" && w.config.APIKey == "" {
		return errors.New("WHISPER_BASE_URL or WHISPER_API_KEY must be set")
	}

	w.mu.Lock()
	w.client = openaicompat.NewClient(w.config.APIKey, w.config.BaseURL, w.config.Timeout)
	w.mu.Unlock()
	return nil
}

// Describe implements Engine
func (w *WhisperEngine) Describe() health.Metadata {
	return health.Metadata{
		"service":  "Whisper",
		"model":    w.config.Model,
		"language": w.config.Language,
		"endpoint": w.config.BaseURL,
	}
}

// Transcribe implements Engine
func (w *WhisperEngine) Transcribe(ctx context.Context, sample AudioSample) (string, error) {
	w.mu.RLock()
	client := w.client
	w.mu.RUnlock()
	if client == nil {
		return "", ErrNotInitialized
	}

	data, name := sample.Data, "audio."+fileExtension(sample.Encoding)
	// The endpoint identifies formats by container, so raw PCM gets a WAV header
	if sample.Encoding == audio.EncodingPCM16 {
		data = audio.EncodeWAV(sample.Data, sample.SampleRate, 1)
		name = "audio.wav"
	}

	resp, err := client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    w.config.Model,
		FilePath: name,
		Reader:   bytes.NewReader(data),
		Language: w.config.Language,
		Format:   openai.AudioResponseFormatJSON,
	})
	if err != nil {
		return "", openaicompat.WrapError("whisper", err)
	}

	text := strings.TrimSpace(resp.Text)
	if text == "" {
		return "", ErrUnintelligible
	}
	return text, nil
}

func fileExtension(encoding string) string {
	switch encoding {
	case audio.EncodingMP3, audio.EncodingOgg, audio.EncodingWebM, audio.EncodingWAV:
		return encoding
	case "":
		return "wav"
	}
	return "bin"
}
