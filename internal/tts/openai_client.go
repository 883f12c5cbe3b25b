package tts

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/valperai/valper-gateway/internal/audio"
	"github.com/valperai/valper-gateway/internal/health"
	"github.com/valperai/valper-gateway/internal/openaicompat"
	"github.com/valperai/valper-gateway/internal/resilience"
)

// openAIPCMRate is the fixed rate of the speech endpoint's pcm format
const openAIPCMRate = 24000

// OpenAIConfig configures the OpenAI speech synthesizer
type OpenAIConfig struct {
	APIKey       string
	BaseURL      string
	Model        string
	SampleRate   int
	DefaultVoice string
	Timeout      time.Duration
}

// OpenAISynthesizer synthesizes speech with the OpenAI audio/speech endpoint
type OpenAISynthesizer struct {
	config OpenAIConfig

	mu     sync.RWMutex
	client *openai.Client
}

// NewOpenAISynthesizer creates an OpenAI speech synthesizer
func NewOpenAISynthesizer(cfg OpenAIConfig) *OpenAISynthesizer {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = openAIPCMRate
	}
	if cfg.Model == "" {
		cfg.Model = string(openai.TTSModel1)
	}
	return &OpenAISynthesizer{config: cfg}
}

// Name implements Synthesizer
func (o *OpenAISynthesizer) Name() string {
	return "openai"
}

// Init implements Synthesizer
func (o *OpenAISynthesizer) Init(ctx context.Context) error {
	if o.config.APIKey == "" {
		return errors.New("OPENAI_TTS_API_KEY not set")
	}
	if _, err := openAIVoices.resolve("", o.config.DefaultVoice); err != nil {
		return fmt.Errorf("default voice: %w", err)
	}

	o.mu.Lock()
	o.client = openaicompat.NewClient(o.config.APIKey, o.config.BaseURL, o.config.Timeout)
	o.mu.Unlock()
	return nil
}

// Describe implements Synthesizer
func (o *OpenAISynthesizer) Describe() health.Metadata {
	return health.Metadata{
		"service":     "OpenAI speech",
		"model":       o.config.Model,
		"sample_rate": o.config.SampleRate,
		"voice":       o.config.DefaultVoice,
		"voices":      o.Voices(),
	}
}

// SampleRate implements Synthesizer
func (o *OpenAISynthesizer) SampleRate() int {
	return o.config.SampleRate
}

// Voices implements Synthesizer
func (o *OpenAISynthesizer) Voices() []string {
	return openAIVoices.names()
}

// Synthesize implements Synthesizer
func (o *OpenAISynthesizer) Synthesize(ctx context.Context, text, voice string) ([]byte, error) {
	o.mu.RLock()
	client := o.client
	o.mu.RUnlock()
	if client == nil {
		return nil, resilience.Unavailable(errors.New("openai synthesizer not initialized"))
	}
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyText
	}
	voiceID, err := openAIVoices.resolve(voice, o.config.DefaultVoice)
	if err != nil {
		return nil, err
	}

	resp, err := client.CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model:          openai.SpeechModel(o.config.Model),
		Input:          text,
		Voice:          openai.SpeechVoice(voiceID),
		ResponseFormat: openai.SpeechResponseFormatPcm,
	})
	if err != nil {
		return nil, openaicompat.WrapError("openai-tts", err)
	}
	defer resp.Close()

	pcm, err := io.ReadAll(resp)
	if err != nil {
		return nil, resilience.Unavailable(fmt.Errorf("reading openai audio: %w", err))
	}
	pcm = evenLength(pcm)
	if len(pcm) == 0 || o.config.SampleRate == openAIPCMRate {
		return pcm, nil
	}
	return audio.ResamplePCM(pcm, openAIPCMRate, o.config.SampleRate)
}
