package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all configuration for the voice gateway service
type Config struct {
	// Server configuration
	Port              string   `envconfig:"PORT" default:"8000"`
	AllowedOrigins    []string `envconfig:"ALLOWED_ORIGINS" default:"*"`
	RateLimitPerMin   int      `envconfig:"RATE_LIMIT_PER_MINUTE" default:"120"` // Requests per IP per minute, 0 disables
	MaxUploadBytes    int64    `envconfig:"MAX_UPLOAD_BYTES" default:"26214400"` // 25 MiB
	ShutdownTimeout   int      `envconfig:"SHUTDOWN_TIMEOUT" default:"30"`       // seconds
	InitTimeout       int      `envconfig:"INIT_TIMEOUT" default:"60"`           // seconds allowed for engine initialization
	ConversationLimit int      `envconfig:"CONVERSATION_TIMEOUT" default:"120"`  // seconds allowed for one turn

	// Speech recognition (cascade in preference order)
	RecognitionEngines    []string `envconfig:"RECOGNITION_ENGINES" default:"deepgram,whisper"`
	RecognitionTimeout    int      `envconfig:"RECOGNITION_TIMEOUT_SECONDS" default:"15"` // per engine
	RecognitionSampleRate int      `envconfig:"RECOGNITION_SAMPLE_RATE" default:"16000"`
	RecognitionLanguage   string   `envconfig:"RECOGNITION_LANGUAGE" default:"en"`
	ResampleInput         bool     `envconfig:"RESAMPLE_INPUT" default:"true"`

	// Utterance detection for streamed WebSocket audio
	VADEnergyThreshold float64 `envconfig:"VAD_ENERGY_THRESHOLD" default:"500"` // RMS below this is silence
	VADSilenceMS       int     `envconfig:"VAD_SILENCE_MS" default:"800"`       // trailing silence that ends an utterance

	DeepgramAPIKey string `envconfig:"DEEPGRAM_API_KEY" default:""`
	DeepgramModel  string `envconfig:"DEEPGRAM_MODEL" default:"nova-2"` // nova-2, enhanced, base

	// Whisper-compatible endpoint; point WHISPER_BASE_URL at a local server for offline use
	WhisperAPIKey  string `envconfig:"WHISPER_API_KEY" default:""`
	WhisperBaseURL string `envconfig:"WHISPER_BASE_URL" default:"http://localhost:9000/v1"`
	WhisperModel   string `envconfig:"WHISPER_MODEL" default:"whisper-1"`

	// Reply generation
	GeneratorEngine  string  `envconfig:"GENERATOR_ENGINE" default:"openai"` // openai, grpc
	LLMAPIKey        string  `envconfig:"LLM_API_KEY" default:""`
	LLMBaseURL       string  `envconfig:"LLM_BASE_URL" default:"https://api.totalgpt.ai/v1"`
	LLMModel         string  `envconfig:"LLM_MODEL" default:"Sao10K-72B-Qwen2.5-Kunou-v1-FP8-Dynamic"`
	LLMMaxTokens     int     `envconfig:"LLM_MAX_TOKENS" default:"7000"`
	LLMTemperature   float32 `envconfig:"LLM_TEMPERATURE" default:"0.7"`
	LLMSystemPrompt  string  `envconfig:"LLM_SYSTEM_PROMPT" default:""`
	LLMTimeout       int     `envconfig:"LLM_TIMEOUT_SECONDS" default:"30"`
	HistoryLimit     int     `envconfig:"HISTORY_LIMIT" default:"5"`
	GeneratorGRPCURL string  `envconfig:"GENERATOR_GRPC_URL" default:"localhost:50051"`
	GeneratorGRPCTLS bool    `envconfig:"GENERATOR_GRPC_TLS" default:"false"`

	// Speech synthesis
	SynthesizerEngine   string `envconfig:"SYNTHESIZER_ENGINE" default:"cartesia"` // cartesia, openai, polly
	SynthesisSampleRate int    `envconfig:"SYNTHESIS_SAMPLE_RATE" default:"24000"`
	SynthesisVoice      string `envconfig:"SYNTHESIS_VOICE" default:"af_heart"`
	SynthesisTimeout    int    `envconfig:"SYNTHESIS_TIMEOUT_SECONDS" default:"30"` // per chunk
	SynthesisWorkers    int    `envconfig:"SYNTHESIS_WORKERS" default:"4"`
	MaxChunkLength      int    `envconfig:"MAX_CHUNK_LENGTH" default:"800"`
	EscalateAfter       int    `envconfig:"SYNTHESIS_ESCALATE_AFTER" default:"0"` // 0 = degraded turns never fail

	CartesiaAPIKey  string            `envconfig:"CARTESIA_API_KEY" default:""`
	CartesiaModelID string            `envconfig:"CARTESIA_MODEL_ID" default:"sonic"`
	CartesiaURL     string            `envconfig:"CARTESIA_URL" default:"https://api.cartesia.ai/tts/bytes"`
	CartesiaVersion string            `envconfig:"CARTESIA_VERSION" default:"2024-06-10"`
	CartesiaVoices  map[string]string `envconfig:"CARTESIA_VOICES" default:""` // voice name -> Cartesia voice id, e.g. af_heart:<uuid>

	OpenAITTSAPIKey  string `envconfig:"OPENAI_TTS_API_KEY" default:""`
	OpenAITTSBaseURL string `envconfig:"OPENAI_TTS_BASE_URL" default:"https://api.openai.com/v1"`
	OpenAITTSModel   string `envconfig:"OPENAI_TTS_MODEL" default:"tts-1"`

	PollyRegion string `envconfig:"POLLY_REGION" default:"us-east-1"`
	PollyEngine string `envconfig:"POLLY_ENGINE" default:"neural"`

	// Artifact storage
	TempAudioDir     string `envconfig:"TEMP_AUDIO_DIR" default:"temp/audio"`
	ArtifactTTL      int    `envconfig:"ARTIFACT_TTL_MINUTES" default:"15"`
	S3Endpoint       string `envconfig:"S3_ENDPOINT" default:""` // empty disables upload
	S3AccessKey      string `envconfig:"S3_ACCESS_KEY" default:""`
	S3SecretKey      string `envconfig:"S3_SECRET_KEY" default:""`
	S3Bucket         string `envconfig:"S3_BUCKET" default:""`
	S3Region         string `envconfig:"S3_REGION" default:""`
	S3Secure         bool   `envconfig:"S3_SECURE" default:"true"`
	S3PresignMinutes int    `envconfig:"S3_PRESIGN_MINUTES" default:"60"`

	// Resilience configuration
	CircuitBreakerMaxFailures  int `envconfig:"CIRCUIT_BREAKER_MAX_FAILURES" default:"5"`   // Failures before opening circuit
	CircuitBreakerResetTimeout int `envconfig:"CIRCUIT_BREAKER_RESET_TIMEOUT" default:"30"` // Seconds before attempting recovery

	// Observability configuration
	LogLevel       string `envconfig:"LOG_LEVEL" default:"info"`       // Log level: debug, info, warn, error
	LogPretty      bool   `envconfig:"LOG_PRETTY" default:"false"`     // Pretty print logs (for development)
	MetricsEnabled bool   `envconfig:"METRICS_ENABLED" default:"true"` // Enable Prometheus metrics
}

// Load reads configuration from environment variables
// It first attempts to load from .env file if it exists, then from environment
func Load() (*Config, error) {
	// Try to load .env file (ignore error if it doesn't exist)
	_ = godotenv.Load()

	return LoadFromEnv()
}

// LoadFromEnv loads configuration directly from environment variables
// without attempting to load .env file (useful for containerized deployments)
func LoadFromEnv() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks values that would make the pipeline unusable.
// Missing API keys are not errors: the affected engine simply never becomes ready.
func (c *Config) Validate() error {
	if len(c.RecognitionEngines) == 0 {
		return fmt.Errorf("RECOGNITION_ENGINES must list at least one engine")
	}
	for _, name := range c.RecognitionEngines {
		switch name {
		case "deepgram", "whisper":
		default:
			return fmt.Errorf("unknown recognition engine %q", name)
		}
	}

	switch c.GeneratorEngine {
	case "openai", "grpc":
	default:
		return fmt.Errorf("unknown GENERATOR_ENGINE %q", c.GeneratorEngine)
	}

	switch c.SynthesizerEngine {
	case "cartesia", "openai", "polly":
	default:
		return fmt.Errorf("unknown SYNTHESIZER_ENGINE %q", c.SynthesizerEngine)
	}

	if c.InitTimeout <= 0 {
		return fmt.Errorf("INIT_TIMEOUT must be positive, got %d", c.InitTimeout)
	}
	if c.ConversationLimit <= 0 {
		return fmt.Errorf("CONVERSATION_TIMEOUT must be positive, got %d", c.ConversationLimit)
	}
	if c.VADEnergyThreshold <= 0 {
		return fmt.Errorf("VAD_ENERGY_THRESHOLD must be positive, got %g", c.VADEnergyThreshold)
	}

	if c.MaxChunkLength <= 0 {
		return fmt.Errorf("MAX_CHUNK_LENGTH must be positive, got %d", c.MaxChunkLength)
	}
	if c.SynthesisWorkers <= 0 {
		return fmt.Errorf("SYNTHESIS_WORKERS must be positive, got %d", c.SynthesisWorkers)
	}
	if c.RecognitionTimeout <= 0 {
		return fmt.Errorf("RECOGNITION_TIMEOUT_SECONDS must be positive, got %d", c.RecognitionTimeout)
	}
	if c.HistoryLimit < 0 {
		return fmt.Errorf("HISTORY_LIMIT must not be negative, got %d", c.HistoryLimit)
	}
	if c.EscalateAfter < 0 {
		return fmt.Errorf("SYNTHESIS_ESCALATE_AFTER must not be negative, got %d", c.EscalateAfter)
	}
	if c.S3Endpoint != "" && c.S3Bucket == "" {
		return fmt.Errorf("S3_BUCKET is required when S3_ENDPOINT is set")
	}

	return nil
}

// UploadEnabled reports whether artifacts are also pushed to object storage
func (c *Config) UploadEnabled() bool {
	return c.S3Endpoint != ""
}

func (c *Config) normalize() {
	engines := make([]string, 0, len(c.RecognitionEngines))
	for _, name := range c.RecognitionEngines {
		name = strings.ToLower(strings.TrimSpace(name))
		if name != "" {
			engines = append(engines, name)
		}
	}
	c.RecognitionEngines = engines
	c.GeneratorEngine = strings.ToLower(strings.TrimSpace(c.GeneratorEngine))
	c.SynthesizerEngine = strings.ToLower(strings.TrimSpace(c.SynthesizerEngine))
}

// GetEnv returns the value of an environment variable or a default value
func GetEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
