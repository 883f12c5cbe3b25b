// Package app wires configuration into the engines, the conversation
// pipeline and the HTTP surface.
package app

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/valperai/valper-gateway/internal/api"
	"github.com/valperai/valper-gateway/internal/audio"
	"github.com/valperai/valper-gateway/internal/config"
	"github.com/valperai/valper-gateway/internal/health"
	"github.com/valperai/valper-gateway/internal/llm"
	"github.com/valperai/valper-gateway/internal/observability"
	"github.com/valperai/valper-gateway/internal/orchestrator"
	"github.com/valperai/valper-gateway/internal/session"
	"github.com/valperai/valper-gateway/internal/storage"
	"github.com/valperai/valper-gateway/internal/stt"
	"github.com/valperai/valper-gateway/internal/tts"
)

// Runtime owns every long-lived component. It is built once at startup and
// shared read-only by request handlers.
type Runtime struct {
	Config       *config.Config
	Gate         *health.Gate
	Cascade      *stt.Cascade
	Generator    llm.Generator
	Synthesizer  tts.Synthesizer
	Renderer     *tts.Renderer
	Store        *storage.Store
	Orchestrator *orchestrator.Orchestrator
	Sessions     *session.Handler

	logger zerolog.Logger
}

// New constructs the runtime. Engines start not-ready; call Start to
// initialize them. Only a broken artifact directory is fatal.
func New(ctx context.Context, cfg *config.Config) (*Runtime, error) {
	logger := observability.ComponentLogger("runtime")

	gate := health.NewGate()
	observability.TrackGate(gate)

	cascade := stt.NewCascade(recognitionEngines(cfg), stt.CascadeOptions{
		Timeout:                    seconds(cfg.RecognitionTimeout),
		CircuitBreakerMaxFailures:  cfg.CircuitBreakerMaxFailures,
		CircuitBreakerResetTimeout: seconds(cfg.CircuitBreakerResetTimeout),
		Logger:                     observability.ComponentLogger("recognition"),
	})

	generator := newGenerator(cfg)
	synth := newSynthesizer(cfg)
	renderer := tts.NewRenderer(synth, tts.RenderOptions{
		MaxChunkLength:             cfg.MaxChunkLength,
		Workers:                    cfg.SynthesisWorkers,
		Timeout:                    seconds(cfg.SynthesisTimeout),
		CircuitBreakerMaxFailures:  cfg.CircuitBreakerMaxFailures,
		CircuitBreakerResetTimeout: seconds(cfg.CircuitBreakerResetTimeout),
	})

	var uploader storage.Uploader
	if cfg.UploadEnabled() {
		s3, err := storage.NewS3Uploader(ctx, storage.S3Config{
			Endpoint:      cfg.S3Endpoint,
			AccessKey:     cfg.S3AccessKey,
			SecretKey:     cfg.S3SecretKey,
			Bucket:        cfg.S3Bucket,
			Region:        cfg.S3Region,
			Secure:        cfg.S3Secure,
			PresignExpiry: time.Duration(cfg.S3PresignMinutes) * time.Minute,
		})
		if err != nil {
			// artifacts are still served locally
			logger.Error().Err(err).Str("endpoint", cfg.S3Endpoint).Msg("Object storage unavailable, uploads disabled")
		} else {
			uploader = s3
		}
	}

	store, err := storage.NewStore(cfg.TempAudioDir, time.Duration(cfg.ArtifactTTL)*time.Minute, uploader, observability.GetLogger())
	if err != nil {
		return nil, err
	}

	orch := orchestrator.New(gate, cascade, generator, renderer, store, orchestrator.Config{
		HistoryLimit:      cfg.HistoryLimit,
		Voice:             cfg.SynthesisVoice,
		GenerationTimeout: seconds(cfg.LLMTimeout),
		EscalateAfter:     cfg.EscalateAfter,
	})

	vad := audio.DefaultVADConfig()
	vad.EnergyThreshold = cfg.VADEnergyThreshold
	if cfg.VADSilenceMS > 0 {
		vad.SilenceDuration = time.Duration(cfg.VADSilenceMS) * time.Millisecond
	}

	sessions := session.NewHandler(orch, store, session.Config{
		SampleRate:     cfg.RecognitionSampleRate,
		VAD:            vad,
		TurnTimeout:    seconds(cfg.ConversationLimit),
		MaxMessageSize: cfg.MaxUploadBytes,
		AllowedOrigins: cfg.AllowedOrigins,
	})

	return &Runtime{
		Config:       cfg,
		Gate:         gate,
		Cascade:      cascade,
		Generator:    generator,
		Synthesizer:  synth,
		Renderer:     renderer,
		Store:        store,
		Orchestrator: orch,
		Sessions:     sessions,
		logger:       logger,
	}, nil
}

// Start initializes the three subsystems concurrently and records each
// outcome in the gate. The returned channel closes once all have finished.
func (rt *Runtime) Start(ctx context.Context) <-chan struct{} {
	timeout := seconds(rt.Config.InitTimeout)

	inits := map[health.Subsystem]struct {
		start    func(context.Context) error
		describe func() health.Metadata
	}{
		health.Recognition: {rt.Cascade.Init, rt.Cascade.Describe},
		health.Generation:  {rt.Generator.Init, rt.Generator.Describe},
		health.Synthesis:   {rt.Synthesizer.Init, rt.Synthesizer.Describe},
	}

	var wg sync.WaitGroup
	for sub, engine := range inits {
		wg.Add(1)
		go func() {
			defer wg.Done()

			initCtx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			start := time.Now()
			if err := engine.start(initCtx); err != nil {
				rt.Gate.MarkFailed(sub, err)
				return
			}
			rt.Gate.MarkReady(sub, engine.describe())
			rt.logger.Debug().Str("subsystem", string(sub)).Dur("duration", time.Since(start)).Msg("Subsystem initialized")
		}()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	return done
}

// Handler builds the HTTP handler over the runtime
func (rt *Runtime) Handler() http.Handler {
	cfg := rt.Config
	server := api.NewServer(api.Deps{
		Gate:      rt.Gate,
		Pipeline:  rt.Orchestrator,
		Artifacts: rt.Store,
		Describers: map[health.Subsystem]func() health.Metadata{
			health.Recognition: rt.Cascade.Describe,
			health.Generation:  rt.Generator.Describe,
			health.Synthesis:   rt.describeSynthesis,
		},
		Voices:       rt.Synthesizer.Voices,
		DefaultVoice: cfg.SynthesisVoice,
		Checks:       rt.readinessChecks(),
		Sessions:     rt.Sessions,
	}, api.Options{
		AllowedOrigins:        cfg.AllowedOrigins,
		RateLimitPerMin:       cfg.RateLimitPerMin,
		MaxUploadBytes:        cfg.MaxUploadBytes,
		MetricsEnabled:        cfg.MetricsEnabled,
		TurnTimeout:           seconds(cfg.ConversationLimit),
		RecognitionSampleRate: cfg.RecognitionSampleRate,
		ResampleInput:         cfg.ResampleInput,
	})
	return server.Handler()
}

// Close ends open sessions and releases engine connections
func (rt *Runtime) Close() error {
	rt.Sessions.Shutdown()
	if closer, ok := rt.Generator.(interface{ Close() error }); ok {
		return closer.Close()
	}
	return nil
}

func (rt *Runtime) describeSynthesis() health.Metadata {
	meta := health.Metadata{}
	for k, v := range rt.Synthesizer.Describe() {
		meta[k] = v
	}
	meta["circuit"] = rt.Renderer.CircuitState().String()
	meta["degraded_streak"] = rt.Orchestrator.DegradedStreak()
	return meta
}

func (rt *Runtime) readinessChecks() map[string]observability.HealthCheckFunc {
	checks := map[string]observability.HealthCheckFunc{}
	if probe, ok := rt.Generator.(interface {
		HealthCheck(ctx context.Context) (bool, error)
	}); ok {
		checks["generator"] = probe.HealthCheck
	}
	return checks
}

func recognitionEngines(cfg *config.Config) []stt.Engine {
	engines := make([]stt.Engine, 0, len(cfg.RecognitionEngines))
	for _, name := range cfg.RecognitionEngines {
		switch name {
		case "deepgram":
			engines = append(engines, stt.NewDeepgramEngine(stt.DeepgramConfig{
				APIKey:   cfg.DeepgramAPIKey,
				Model:    cfg.DeepgramModel,
				Language: cfg.RecognitionLanguage,
			}))
		case "whisper":
			engines = append(engines, stt.NewWhisperEngine(stt.WhisperConfig{
				APIKey:   cfg.WhisperAPIKey,
				BaseURL:  cfg.WhisperBaseURL,
				Model:    cfg.WhisperModel,
				Language: cfg.RecognitionLanguage,
				Timeout:  seconds(cfg.RecognitionTimeout),
			}))
		}
	}
	return engines
}

func newGenerator(cfg *config.Config) llm.Generator {
	opts := llm.Options{
		Model:        cfg.LLMModel,
		SystemPrompt: cfg.LLMSystemPrompt,
		MaxTokens:    cfg.LLMMaxTokens,
		Temperature:  cfg.LLMTemperature,
	}
	if cfg.GeneratorEngine == "grpc" {
		return llm.NewGRPCGenerator(llm.GRPCConfig{
			Target:  cfg.GeneratorGRPCURL,
			TLS:     cfg.GeneratorGRPCTLS,
			Timeout: 5 * time.Second,
			Options: opts,
		})
	}
	return llm.NewOpenAIGenerator(llm.OpenAIConfig{
		APIKey:  cfg.LLMAPIKey,
		BaseURL: cfg.LLMBaseURL,
		Timeout: seconds(cfg.LLMTimeout),
		Options: opts,
	})
}

func newSynthesizer(cfg *config.Config) tts.Synthesizer {
	switch cfg.SynthesizerEngine {
	case "openai":
		return tts.NewOpenAISynthesizer(tts.OpenAIConfig{
			APIKey:       cfg.OpenAITTSAPIKey,
			BaseURL:      cfg.OpenAITTSBaseURL,
			Model:        cfg.OpenAITTSModel,
			SampleRate:   cfg.SynthesisSampleRate,
			DefaultVoice: cfg.SynthesisVoice,
			Timeout:      seconds(cfg.SynthesisTimeout),
		})
	case "polly":
		return tts.NewPollySynthesizer(tts.PollyConfig{
			Region:       cfg.PollyRegion,
			Engine:       cfg.PollyEngine,
			SampleRate:   cfg.SynthesisSampleRate,
			DefaultVoice: cfg.SynthesisVoice,
		})
	default:
		return tts.NewCartesiaSynthesizer(tts.CartesiaConfig{
			APIKey:       cfg.CartesiaAPIKey,
			URL:          cfg.CartesiaURL,
			Version:      cfg.CartesiaVersion,
			ModelID:      cfg.CartesiaModelID,
			Language:     cfg.RecognitionLanguage,
			SampleRate:   cfg.SynthesisSampleRate,
			DefaultVoice: cfg.SynthesisVoice,
			Voices:       cfg.CartesiaVoices,
			Timeout:      seconds(cfg.SynthesisTimeout),
		})
	}
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

// String summarizes the configured engines for the startup log
func (rt *Runtime) String() string {
	return fmt.Sprintf("recognition=%v generator=%s synthesizer=%s", rt.Config.RecognitionEngines, rt.Generator.Name(), rt.Synthesizer.Name())
}
