package stt

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/valperai/valper-gateway/internal/health"
	"github.com/valperai/valper-gateway/internal/observability"
	"github.com/valperai/valper-gateway/internal/resilience"
)

// CascadeOptions configures a Cascade
type CascadeOptions struct {
	// Timeout bounds each engine attempt
	Timeout time.Duration

	CircuitBreakerMaxFailures  int
	CircuitBreakerResetTimeout time.Duration

	Logger zerolog.Logger
}

// Cascade tries recognition engines in order until one yields a transcript.
// Attempts are sequential; engines after the first success are never called.
type Cascade struct {
	engines []*cascadeEngine
	timeout time.Duration
	logger  zerolog.Logger
}

type cascadeEngine struct {
	Engine
	breaker *resilience.CircuitBreaker
	ready   atomic.Bool
	initErr atomic.Pointer[string]
}

// Attempt records one engine call made by Recognize
type Attempt struct {
	Engine   string
	Outcome  Outcome
	Err      error
	Duration time.Duration
}

// NewCascade builds a cascade over engines in preference order.
// Engines are not ready until Init is called.
func NewCascade(engines []Engine, opts CascadeOptions) *Cascade {
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}

	c := &Cascade{
		timeout: opts.Timeout,
		logger:  opts.Logger.With().Str("component", "recognition").Logger(),
	}
	for _, e := range engines {
		breaker := resilience.NewCircuitBreaker(e.Name(), opts.CircuitBreakerMaxFailures, opts.CircuitBreakerResetTimeout)
		breaker.OnStateChange(func(name string, state resilience.CircuitState) {
			observability.UpdateCircuitBreakerState(name, int(state))
		})
		c.engines = append(c.engines, &cascadeEngine{Engine: e, breaker: breaker})
	}
	return c
}

// Init initializes every engine and returns an error only if none succeeded
func (c *Cascade) Init(ctx context.Context) error {
	if len(c.engines) == 0 {
		return errors.New("no recognition engines configured")
	}

	var failures []string
	for _, e := range c.engines {
		if err := e.Init(ctx); err != nil {
			msg := err.Error()
			e.initErr.Store(&msg)
			failures = append(failures, fmt.Sprintf("%s: %v", e.Name(), err))
			c.logger.Warn().Err(err).Str("engine", e.Name()).Msg("Recognition engine failed to initialize")
			continue
		}
		e.ready.Store(true)
		c.logger.Info().Str("engine", e.Name()).Msg("Recognition engine initialized")
	}

	if len(c.Ready()) == 0 {
		return fmt.Errorf("no recognition engine available: %s", strings.Join(failures, "; "))
	}
	return nil
}

// Ready returns the names of initialized engines in cascade order
func (c *Cascade) Ready() []string {
	var names []string
	for _, e := range c.engines {
		if e.ready.Load() {
			names = append(names, e.Name())
		}
	}
	return names
}

// Describe reports per-engine metadata and state
func (c *Cascade) Describe() health.Metadata {
	engines := make([]health.Metadata, 0, len(c.engines))
	for _, e := range c.engines {
		meta := health.Metadata{}
		for k, v := range e.Describe() {
			meta[k] = v
		}
		meta["name"] = e.Name()
		meta["ready"] = e.ready.Load()
		meta["circuit"] = e.breaker.GetState().String()
		if msg := e.initErr.Load(); msg != nil {
			meta["error"] = *msg
		}
		engines = append(engines, meta)
	}

	return health.Metadata{
		"service":         "recognition",
		"engines":         engines,
		"timeout_seconds": c.timeout.Seconds(),
	}
}

// Recognize runs the cascade over sample. It never returns an error: when
// every engine fails the result carries Success false and a summary of each
// engine's outcome.
func (c *Cascade) Recognize(ctx context.Context, sample AudioSample) TranscriptResult {
	result, _ := c.RecognizeWithAttempts(ctx, sample)
	return result
}

// RecognizeWithAttempts is Recognize that also returns every attempt made
func (c *Cascade) RecognizeWithAttempts(ctx context.Context, sample AudioSample) (TranscriptResult, []Attempt) {
	ctx, span := tracer.Start(ctx, "recognize speech")
	defer span.End()
	span.SetAttributes(
		attribute.Int("audio.bytes", len(sample.Data)),
		attribute.Int("audio.sample_rate", sample.SampleRate),
		attribute.String("audio.encoding", sample.Encoding),
	)

	logger := observability.LoggerFrom(ctx).With().Str("component", "recognition").Logger()

	if len(sample.Data) == 0 {
		return TranscriptResult{Error: "empty audio sample"}, nil
	}

	var attempts []Attempt
	for _, e := range c.engines {
		if ctx.Err() != nil {
			attempts = append(attempts, Attempt{Engine: e.Name(), Outcome: OutcomeUnavailable, Err: ctx.Err()})
			break
		}

		attempt := c.attempt(ctx, e, sample)
		attempts = append(attempts, attempt.Attempt)
		observability.RecordRecognitionAttempt(attempt.Engine, string(attempt.Outcome))

		event := logger.Debug()
		if attempt.Outcome != OutcomeSuccess {
			event = logger.Warn().AnErr("error", attempt.Err)
		}
		event.Str("engine", attempt.Engine).
			Str("outcome", string(attempt.Outcome)).
			Dur("duration", attempt.Duration).
			Msg("Recognition attempt")

		if attempt.Outcome == OutcomeSuccess {
			span.SetAttributes(attribute.String("recognition.engine", attempt.Engine))
			return TranscriptResult{
				Text:       attempt.text,
				EngineUsed: attempt.Engine,
				Success:    true,
			}, attempts
		}
	}

	summary := summarize(attempts)
	span.SetStatus(codes.Error, summary)
	return TranscriptResult{Error: summary}, attempts
}

type attemptResult struct {
	Attempt
	text string
}

func (c *Cascade) attempt(ctx context.Context, e *cascadeEngine, sample AudioSample) (res attemptResult) {
	res.Engine = e.Name()

	if !e.ready.Load() {
		res.Outcome = OutcomeUnavailable
		res.Err = ErrNotInitialized
		return res
	}
	if !e.breaker.Allow() {
		res.Outcome = OutcomeUnavailable
		res.Err = resilience.ErrCircuitOpen
		return res
	}

	actx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			res.Outcome = OutcomeError
			res.Err = fmt.Errorf("engine panicked: %v", r)
			res.text = ""
			e.breaker.RecordResult(false)
		}
		res.Duration = time.Since(start)
	}()

	text, err := e.Transcribe(actx, sample)
	res.Outcome, res.Err = classify(text, err)
	if res.Outcome == OutcomeSuccess {
		res.text = strings.TrimSpace(text)
	}
	// Only outcomes that say the engine itself is unhealthy trip the breaker
	e.breaker.RecordResult(res.Outcome != OutcomeUnavailable)
	return res
}

func classify(text string, err error) (Outcome, error) {
	switch {
	case err == nil && strings.TrimSpace(text) != "":
		return OutcomeSuccess, nil
	case err == nil:
		return OutcomeUnintelligible, ErrUnintelligible
	case errors.Is(err, ErrUnintelligible):
		return OutcomeUnintelligible, err
	case resilience.IsUnavailable(err):
		return OutcomeUnavailable, err
	}
	return OutcomeError, err
}

func summarize(attempts []Attempt) string {
	if len(attempts) == 0 {
		return "no recognition engines configured"
	}
	parts := make([]string, len(attempts))
	for i, a := range attempts {
		parts[i] = fmt.Sprintf("%s: %s", a.Engine, a.Outcome)
		if a.Err != nil {
			parts[i] += fmt.Sprintf(" (%v)", a.Err)
		}
	}
	return "all recognition engines failed: " + strings.Join(parts, "; ")
}
