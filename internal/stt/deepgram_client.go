package stt

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	api "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/rest"
	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	listenClient "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/listen"

	"github.com/valperai/valper-gateway/internal/audio"
	"github.com/valperai/valper-gateway/internal/health"
	"github.com/valperai/valper-gateway/internal/resilience"
)

// DeepgramConfig configures the Deepgram recognizer
type DeepgramConfig struct {
	APIKey   string
	Model    string // nova-2, enhanced, base
	Language string
}

// DeepgramEngine transcribes recorded audio with Deepgram's pre-recorded API
type DeepgramEngine struct {
	config DeepgramConfig

	mu     sync.RWMutex
	client *api.Client
}

// NewDeepgramEngine creates a Deepgram recognizer. No network calls are made
// until Init.
func NewDeepgramEngine(cfg DeepgramConfig) *DeepgramEngine {
	return &DeepgramEngine{config: cfg}
}

// Name implements Engine
func (d *DeepgramEngine) Name() string {
	return "deepgram"
}

// Init implements Engine
func (d *DeepgramEngine) Init(ctx context.Context) error {
	if d.config.APIKey == "" {
		return errors.New("DEEPGRAM_API_KEY not set")
	}

	listenClient.InitWithDefault()
	c := listenClient.NewREST(d.config.APIKey, &interfaces.ClientOptions{})
	if c == nil {
		return errors.New("failed to create Deepgram client")
	}

	d.mu.Lock()
	d.client = api.New(c)
	d.mu.Unlock()
	return nil
}

// Describe implements Engine
func (d *DeepgramEngine) Describe() health.Metadata {
	return health.Metadata{
		"service":  "Deepgram",
		"model":    d.config.Model,
		"language": d.config.Language,
	}
}

// Transcribe implements Engine
func (d *DeepgramEngine) Transcribe(ctx context.Context, sample AudioSample) (string, error) {
	d.mu.RLock()
	client := d.client
	d.mu.RUnlock()
	if client == nil {
		return "", ErrNotInitialized
	}

	options := &interfaces.PreRecordedTranscriptionOptions{
		Model:       d.config.Model,
		Language:    d.config.Language,
		Punctuate:   true,
		SmartFormat: true,
	}
	// Raw PCM has no header, so Deepgram needs the format spelled out
	if sample.Encoding == audio.EncodingPCM16 {
		options.Encoding = "linear16"
		options.SampleRate = sample.SampleRate
		options.Channels = 1
	}

	res, err := client.FromStream(ctx, bytes.NewReader(sample.Data), options)
	if err != nil {
		if ctx.Err() != nil {
			return "", resilience.Unavailable(fmt.Errorf("deepgram request: %w", ctx.Err()))
		}
		return "", wrapDeepgramError(err)
	}

	if res == nil || res.Results == nil || len(res.Results.Channels) == 0 ||
		len(res.Results.Channels[0].Alternatives) == 0 {
		return "", ErrUnintelligible
	}

	transcript := strings.TrimSpace(res.Results.Channels[0].Alternatives[0].Transcript)
	if transcript == "" {
		return "", ErrUnintelligible
	}
	return transcript, nil
}

// wrapDeepgramError carries the HTTP status of an SDK failure so outages are
// classified the same way as the other HTTP engines
func wrapDeepgramError(err error) error {
	var statusErr *interfaces.StatusError
	if errors.As(err, &statusErr) && statusErr.Resp != nil {
		body := ""
		if statusErr.DeepgramError != nil {
			body = statusErr.DeepgramError.ErrMsg
		}
		return fmt.Errorf("deepgram request: %w", &resilience.StatusError{
			Service:    "deepgram",
			StatusCode: statusErr.Resp.StatusCode,
			Body:       body,
		})
	}
	return fmt.Errorf("deepgram request: %w", err)
}
