// Package api exposes the conversation pipeline over HTTP.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/valperai/valper-gateway/internal/health"
	"github.com/valperai/valper-gateway/internal/llm"
	"github.com/valperai/valper-gateway/internal/observability"
	"github.com/valperai/valper-gateway/internal/orchestrator"
	"github.com/valperai/valper-gateway/internal/stt"
	"github.com/valperai/valper-gateway/internal/tts"
)

// APIPrefix is where the versioned routes are mounted
const APIPrefix = "/api/v1"

// Pipeline runs the conversation stages
type Pipeline interface {
	Converse(ctx context.Context, sample stt.AudioSample, history llm.History) orchestrator.Result
	Transcribe(ctx context.Context, sample stt.AudioSample) (stt.TranscriptResult, error)
	Speak(ctx context.Context, text, voice string) (tts.Rendered, error)
}

// ArtifactSource serves stored reply audio once
type ArtifactSource interface {
	Take(id string) ([]byte, error)
}

// Deps are the collaborators the handlers use
type Deps struct {
	Gate      *health.Gate
	Pipeline  Pipeline
	Artifacts ArtifactSource
	// Describers supply live metadata for /services/status, overriding the
	// snapshot recorded in the gate
	Describers map[health.Subsystem]func() health.Metadata
	// Voices lists the synthesizer's voices; nil when none is configured
	Voices       func() []string
	DefaultVoice string
	Checks       map[string]observability.HealthCheckFunc
	// Sessions serves WebSocket conversations; nil disables the route
	Sessions http.Handler
}

// Options configures the HTTP surface
type Options struct {
	AllowedOrigins  []string
	RateLimitPerMin int
	MaxUploadBytes  int64
	MetricsEnabled  bool
	TurnTimeout     time.Duration

	RecognitionSampleRate int
	ResampleInput         bool
}

// Server holds the HTTP handlers
type Server struct {
	deps Deps
	opts Options
}

// NewServer creates the handler set
func NewServer(deps Deps, opts Options) *Server {
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = 25 << 20
	}
	if opts.TurnTimeout <= 0 {
		opts.TurnTimeout = 2 * time.Minute
	}
	if opts.RecognitionSampleRate <= 0 {
		opts.RecognitionSampleRate = 16000
	}
	if len(opts.AllowedOrigins) == 0 {
		opts.AllowedOrigins = []string{"*"}
	}
	return &Server{deps: deps, opts: opts}
}

// Handler builds the router
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.opts.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID"},
	}))

	r.Get("/", s.handleRoot)
	r.Get("/health", observability.HealthCheckHandler(s.deps.Gate))
	r.Get("/ready", observability.ReadinessHandler(s.deps.Gate, s.deps.Checks))
	if s.opts.MetricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	r.Group(s.pipelineRoutes)
	r.Route(APIPrefix, func(r chi.Router) {
		r.Get("/health", observability.HealthCheckHandler(s.deps.Gate))
		s.pipelineRoutes(r)
	})

	if s.deps.Sessions != nil {
		r.Handle("/ws/conversation", s.deps.Sessions)
	}

	return otelhttp.NewHandler(r, "valper-gateway")
}

func (s *Server) pipelineRoutes(r chi.Router) {
	r.Get("/services/status", s.handleServicesStatus)
	r.Get("/voices", s.handleVoices)
	r.Get("/audio/{id}", s.handleAudio)

	r.Group(func(r chi.Router) {
		if s.opts.RateLimitPerMin > 0 {
			r.Use(httprate.LimitByIP(s.opts.RateLimitPerMin, time.Minute))
		}
		r.Post("/stt", s.handleSTT)
		r.Post("/tts", s.handleTTS)
		r.Post("/conversation", s.handleConversation)
	})
}

// requestLogger attaches a correlation-scoped logger to every request
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = observability.NewCorrelationID()
		}
		w.Header().Set("X-Request-ID", id)

		ctx, logger := observability.ContextWithTurn(r.Context(), id)
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()

		next.ServeHTTP(ww, r.WithContext(ctx))

		var event *zerolog.Event
		switch {
		case ww.Status() >= http.StatusInternalServerError:
			event = logger.Error()
		case r.URL.Path == "/health" || r.URL.Path == "/metrics":
			event = logger.Debug()
		default:
			event = logger.Info()
		}
		event.Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration", time.Since(start)).
			Msg("HTTP request")
	})
}
