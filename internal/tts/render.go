package tts

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"github.com/valperai/valper-gateway/internal/audio"
	"github.com/valperai/valper-gateway/internal/chunking"
	"github.com/valperai/valper-gateway/internal/observability"
	"github.com/valperai/valper-gateway/internal/resilience"
)

// RenderOptions configures a Renderer
type RenderOptions struct {
	MaxChunkLength int
	Workers        int
	// Timeout bounds each chunk's synthesis call
	Timeout time.Duration

	CircuitBreakerMaxFailures  int
	CircuitBreakerResetTimeout time.Duration
}

// Rendered is the stitched audio for one reply
type Rendered struct {
	PCM        []byte
	SampleRate int
	Chunks     int
	// Skipped lists the chunk indices that produced no audio
	Skipped []int
}

// Renderer splits reply text into chunks, synthesizes them concurrently and
// stitches the fragments back in chunk order
type Renderer struct {
	synth   Synthesizer
	breaker *resilience.CircuitBreaker
	opts    RenderOptions
}

// NewRenderer creates a renderer over synth
func NewRenderer(synth Synthesizer, opts RenderOptions) *Renderer {
	if opts.MaxChunkLength <= 0 {
		opts.MaxChunkLength = chunking.DefaultMaxLength
	}
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}

	breaker := resilience.NewCircuitBreaker(synth.Name(), opts.CircuitBreakerMaxFailures, opts.CircuitBreakerResetTimeout)
	breaker.OnStateChange(func(name string, state resilience.CircuitState) {
		observability.UpdateCircuitBreakerState(name, int(state))
	})
	return &Renderer{synth: synth, breaker: breaker, opts: opts}
}

// Synthesizer returns the engine the renderer drives
func (r *Renderer) Synthesizer() Synthesizer {
	return r.synth
}

// CircuitState reports the synthesizer breaker state
func (r *Renderer) CircuitState() resilience.CircuitState {
	return r.breaker.GetState()
}

// Render synthesizes text with voice. A chunk whose synthesis fails is
// logged and contributes no audio; audio.ErrNoAudioProduced is returned only
// when no chunk produced audio. Cancellation of ctx aborts the render.
func (r *Renderer) Render(ctx context.Context, text, voice string) (Rendered, error) {
	ctx, span := tracer.Start(ctx, "render speech")
	defer span.End()

	logger := observability.LoggerFrom(ctx).With().
		Str("component", "synthesis").
		Str("engine", r.synth.Name()).
		Logger()

	chunks := chunking.Split(text, r.opts.MaxChunkLength)
	span.SetAttributes(
		attribute.Int("text.length", len(text)),
		attribute.Int("synthesis.chunks", len(chunks)),
	)
	if len(chunks) == 0 {
		return Rendered{}, ErrEmptyText
	}

	fragments := make([]audio.Fragment, len(chunks))
	failures := make([]error, len(chunks))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.opts.Workers)

	for i, chunk := range chunks {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			pcm, err := r.synthesizeChunk(gctx, chunk.Text, voice)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				logger.Warn().Err(err).Int("chunk", chunk.Index).Msg("Chunk synthesis failed")
			}
			observability.RecordSynthesizedChunk(r.synth.Name(), err == nil && len(pcm) > 0)
			// each goroutine owns its slot
			fragments[i] = audio.Fragment{Index: chunk.Index, PCM: pcm}
			failures[i] = err
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "render cancelled")
		return Rendered{}, err
	}

	stitched, err := audio.NewStitcher(logger).Stitch(fragments)
	if err != nil {
		// a bad voice fails every chunk the same way; report it as such
		if errors.Is(failures[0], ErrUnknownVoice) {
			err = failures[0]
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Rendered{Chunks: len(chunks), Skipped: stitched.Skipped}, err
	}

	observability.RecordAudioBytes("out", len(stitched.PCM))
	return Rendered{
		PCM:        stitched.PCM,
		SampleRate: r.synth.SampleRate(),
		Chunks:     len(chunks),
		Skipped:    stitched.Skipped,
	}, nil
}

func (r *Renderer) synthesizeChunk(ctx context.Context, text, voice string) ([]byte, error) {
	var pcm []byte
	err := r.breaker.Call(func() (err error) {
		cctx, cancel := context.WithTimeout(ctx, r.opts.Timeout)
		defer cancel()

		defer func() {
			if rec := recover(); rec != nil {
				pcm, err = nil, fmt.Errorf("synthesizer panicked: %v", rec)
			}
		}()

		pcm, err = r.synth.Synthesize(cctx, text, voice)
		return err
	}, isSynthesisOutage)
	return pcm, err
}

// isSynthesisOutage reports whether err should count against the breaker;
// a caller hanging up says nothing about the engine
func isSynthesisOutage(err error) bool {
	return resilience.IsUnavailable(err) && !errors.Is(err, context.Canceled)
}
