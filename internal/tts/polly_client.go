package tts

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/polly"
	pollytypes "github.com/aws/aws-sdk-go-v2/service/polly/types"
	"github.com/aws/smithy-go"

	"github.com/valperai/valper-gateway/internal/audio"
	"github.com/valperai/valper-gateway/internal/health"
	"github.com/valperai/valper-gateway/internal/resilience"
)

// pollyPCMRate is the highest rate Polly offers for pcm output
const pollyPCMRate = 16000

type synthClient interface {
	SynthesizeSpeech(ctx context.Context, params *polly.SynthesizeSpeechInput, optFns ...func(*polly.Options)) (*polly.SynthesizeSpeechOutput, error)
}

// PollyConfig configures the Amazon Polly synthesizer
type PollyConfig struct {
	Region       string
	Engine       string // neural or standard
	SampleRate   int
	DefaultVoice string
}

// PollySynthesizer synthesizes speech with Amazon Polly
type PollySynthesizer struct {
	config PollyConfig

	mu     sync.RWMutex
	client synthClient
}

// NewPollySynthesizer creates a Polly synthesizer. AWS credentials are resolved
// by Init from the default chain.
func NewPollySynthesizer(cfg PollyConfig) *PollySynthesizer {
	return NewPollySynthesizerWithClient(cfg, nil)
}

// NewPollySynthesizerWithClient creates a Polly synthesizer backed by client
func NewPollySynthesizerWithClient(cfg PollyConfig, client synthClient) *PollySynthesizer {
	if strings.TrimSpace(cfg.Region) == "" {
		cfg.Region = "us-east-1"
	}
	if strings.TrimSpace(cfg.Engine) == "" {
		cfg.Engine = "neural"
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = pollyPCMRate
	}
	return &PollySynthesizer{config: cfg, client: client}
}

// Name implements Synthesizer
func (p *PollySynthesizer) Name() string {
	return "polly"
}

// Init implements Synthesizer
func (p *PollySynthesizer) Init(ctx context.Context) error {
	if _, err := pollyVoices.resolve("", p.config.DefaultVoice); err != nil {
		return fmt.Errorf("default voice: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.client != nil {
		return nil
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(p.config.Region))
	if err != nil {
		return fmt.Errorf("load aws config: %w", err)
	}
	if _, err := awsCfg.Credentials.Retrieve(ctx); err != nil {
		return fmt.Errorf("resolve aws credentials: %w", err)
	}
	p.client = polly.NewFromConfig(awsCfg)
	return nil
}

// Describe implements Synthesizer
func (p *PollySynthesizer) Describe() health.Metadata {
	return health.Metadata{
		"service":     "Amazon Polly",
		"region":      p.config.Region,
		"engine":      p.config.Engine,
		"sample_rate": p.config.SampleRate,
		"voice":       p.config.DefaultVoice,
		"voices":      p.Voices(),
	}
}

// SampleRate implements Synthesizer
func (p *PollySynthesizer) SampleRate() int {
	return p.config.SampleRate
}

// Voices implements Synthesizer
func (p *PollySynthesizer) Voices() []string {
	return pollyVoices.names()
}

// Synthesize implements Synthesizer
func (p *PollySynthesizer) Synthesize(ctx context.Context, text, voice string) ([]byte, error) {
	p.mu.RLock()
	client := p.client
	p.mu.RUnlock()
	if client == nil {
		return nil, resilience.Unavailable(errors.New("polly synthesizer not initialized"))
	}
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyText
	}
	voiceID, err := pollyVoices.resolve(voice, p.config.DefaultVoice)
	if err != nil {
		return nil, err
	}

	engine := pollytypes.EngineStandard
	if strings.EqualFold(p.config.Engine, "neural") {
		engine = pollytypes.EngineNeural
	}

	output, err := client.SynthesizeSpeech(ctx, &polly.SynthesizeSpeechInput{
		Engine:       engine,
		OutputFormat: pollytypes.OutputFormatPcm,
		SampleRate:   aws.String(fmt.Sprint(pollyPCMRate)),
		Text:         aws.String(text),
		TextType:     pollytypes.TextTypeText,
		VoiceId:      pollytypes.VoiceId(voiceID),
	})
	if err != nil {
		return nil, classifyPollyError(err)
	}
	if output == nil || output.AudioStream == nil {
		return nil, nil
	}
	defer output.AudioStream.Close()

	pcm, err := io.ReadAll(output.AudioStream)
	if err != nil {
		return nil, resilience.Unavailable(fmt.Errorf("reading polly audio: %w", err))
	}
	pcm = evenLength(pcm)
	if len(pcm) == 0 || p.config.SampleRate == pollyPCMRate {
		return pcm, nil
	}
	return audio.ResamplePCM(pcm, pollyPCMRate, p.config.SampleRate)
}

func classifyPollyError(err error) error {
	wrapped := fmt.Errorf("polly synthesize: %w", err)

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "InvalidSsmlException", "TextLengthExceededException", "LexiconNotFoundException",
			"MarksNotSupportedForFormatException", "InvalidSampleRateException":
			return wrapped
		default:
			// throttling and server faults
			return resilience.Unavailable(wrapped)
		}
	}
	if errors.Is(err, context.Canceled) {
		return wrapped
	}
	return resilience.Unavailable(wrapped)
}
