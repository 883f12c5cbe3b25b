package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/valperai/valper-gateway/internal/health"
	"github.com/valperai/valper-gateway/internal/resilience"
)

// CartesiaConfig configures the Cartesia synthesizer
type CartesiaConfig struct {
	APIKey       string
	URL          string
	Version      string
	ModelID      string
	Language     string
	SampleRate   int
	DefaultVoice string
	Voices       map[string]string // voice name -> Cartesia voice id
	Timeout      time.Duration
}

// CartesiaSynthesizer synthesizes speech with Cartesia's bytes endpoint
type CartesiaSynthesizer struct {
	config     CartesiaConfig
	voices     voiceMap
	httpClient *http.Client
}

// CartesiaRequest represents the request payload for the Cartesia bytes API
type CartesiaRequest struct {
	ModelID      string               `json:"model_id"`
	Transcript   string               `json:"transcript"`
	Voice        CartesiaVoice        `json:"voice"`
	OutputFormat CartesiaOutputFormat `json:"output_format"`
	Language     string               `json:"language,omitempty"`
}

// CartesiaVoice selects a voice by id
type CartesiaVoice struct {
	Mode string `json:"mode"`
	ID   string `json:"id"`
}

// CartesiaOutputFormat requests raw PCM
type CartesiaOutputFormat struct {
	Container  string `json:"container"`
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sample_rate"`
}

// NewCartesiaSynthesizer creates a new Cartesia TTS client
func NewCartesiaSynthesizer(cfg CartesiaConfig) *CartesiaSynthesizer {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 24000 // Cartesia typically outputs at 24kHz
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &CartesiaSynthesizer{
		config: cfg,
		// Cartesia ids are opaque, so unmapped names are sent as ids
		voices: voiceMap{ids: cfg.Voices, passthrough: true},
		httpClient: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

// Name implements Synthesizer
func (c *CartesiaSynthesizer) Name() string {
	return "cartesia"
}

// Init implements Synthesizer
func (c *CartesiaSynthesizer) Init(ctx context.Context) error {
	if c.config.APIKey == "" {
		return errors.New("CARTESIA_API_KEY not set")
	}
	if c.config.URL == "" {
		return errors.New("CARTESIA_URL not set")
	}
	if _, err := c.voices.resolve("", c.config.DefaultVoice); err != nil {
		return fmt.Errorf("default voice: %w", err)
	}
	return nil
}

// Describe implements Synthesizer
func (c *CartesiaSynthesizer) Describe() health.Metadata {
	return health.Metadata{
		"service":     "Cartesia",
		"model":       c.config.ModelID,
		"sample_rate": c.config.SampleRate,
		"voice":       c.config.DefaultVoice,
		"voices":      c.Voices(),
	}
}

// SampleRate implements Synthesizer
func (c *CartesiaSynthesizer) SampleRate() int {
	return c.config.SampleRate
}

// Voices implements Synthesizer
func (c *CartesiaSynthesizer) Voices() []string {
	names := c.voices.names()
	if len(names) == 0 && c.config.DefaultVoice != "" {
		names = []string{c.config.DefaultVoice}
	}
	return names
}

// Synthesize implements Synthesizer
func (c *CartesiaSynthesizer) Synthesize(ctx context.Context, text, voice string) ([]byte, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyText
	}
	voiceID, err := c.voices.resolve(voice, c.config.DefaultVoice)
	if err != nil {
		return nil, err
	}

	reqBody := CartesiaRequest{
		ModelID:    c.config.ModelID,
		Transcript: text,
		Voice:      CartesiaVoice{Mode: "id", ID: voiceID},
		OutputFormat: CartesiaOutputFormat{
			Container:  "raw",
			Encoding:   "pcm_s16le",
			SampleRate: c.config.SampleRate,
		},
		Language: c.config.Language,
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.URL, bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", c.config.APIKey)
	if c.config.Version != "" {
		req.Header.Set("Cartesia-Version", c.config.Version)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, resilience.Unavailable(fmt.Errorf("cartesia request: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &resilience.StatusError{
			Service:    "cartesia",
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(body)),
		}
	}

	pcm, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resilience.Unavailable(fmt.Errorf("reading cartesia audio: %w", err))
	}
	return evenLength(pcm), nil
}

// evenLength drops a trailing odd byte so the payload holds whole samples
func evenLength(pcm []byte) []byte {
	return pcm[:len(pcm)-len(pcm)%2]
}
