// Package orchestrator runs one conversation turn through recognition,
// generation and synthesis.
//
// Recognition and generation failures end the turn. Synthesis failures
// degrade it: the caller still gets the text reply, flagged as degraded.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/valperai/valper-gateway/internal/audio"
	"github.com/valperai/valper-gateway/internal/health"
	"github.com/valperai/valper-gateway/internal/llm"
	"github.com/valperai/valper-gateway/internal/observability"
	"github.com/valperai/valper-gateway/internal/storage"
	"github.com/valperai/valper-gateway/internal/stt"
	"github.com/valperai/valper-gateway/internal/tts"
)

// Recognizer transcribes one audio sample
type Recognizer interface {
	Recognize(ctx context.Context, sample stt.AudioSample) stt.TranscriptResult
}

// Renderer turns reply text into stitched PCM
type Renderer interface {
	Render(ctx context.Context, text, voice string) (tts.Rendered, error)
}

// ArtifactStore keeps reply audio until the client fetches it
type ArtifactStore interface {
	Save(ctx context.Context, wav []byte) (storage.Artifact, error)
	Remove(id string) error
}

// Config holds turn policy
type Config struct {
	// HistoryLimit is how many prior messages reach the generator
	HistoryLimit int
	// Voice is used for conversation replies
	Voice string
	// GenerationTimeout bounds the generator call; zero leaves it to the client
	GenerationTimeout time.Duration
	// EscalateAfter turns a degraded turn into a synthesis failure once this
	// many degraded turns have happened in a row. Zero never escalates.
	EscalateAfter int
}

// Orchestrator runs conversation turns. It is safe for concurrent use;
// subsystem handles are shared read-only between turns.
type Orchestrator struct {
	gate       *health.Gate
	recognizer Recognizer
	generator  llm.Generator
	renderer   Renderer
	store      ArtifactStore
	config     Config

	degradedStreak atomic.Int64
}

// New creates an orchestrator. store may be nil, in which case reply audio
// is only returned in the Result.
func New(gate *health.Gate, recognizer Recognizer, generator llm.Generator, renderer Renderer, store ArtifactStore, cfg Config) *Orchestrator {
	if cfg.HistoryLimit < 0 {
		cfg.HistoryLimit = 0
	}
	if cfg.Voice == "" {
		cfg.Voice = tts.DefaultVoice
	}
	return &Orchestrator{
		gate:       gate,
		recognizer: recognizer,
		generator:  generator,
		renderer:   renderer,
		store:      store,
		config:     cfg,
	}
}

// Converse runs one turn: transcribe sample, generate a reply using the most
// recent history, and render the reply to audio.
func (o *Orchestrator) Converse(ctx context.Context, sample stt.AudioSample, history llm.History) Result {
	ctx, span := tracer.Start(ctx, "converse")
	defer span.End()

	metrics := observability.NewTurnMetrics()
	result := o.converse(ctx, sample, history, metrics)

	o.trackStreak(&result)
	metrics.RecordOutcome(string(result.Outcome), string(result.FailureStage))

	span.SetAttributes(
		attribute.String("turn.outcome", string(result.Outcome)),
		attribute.String("turn.failure_stage", string(result.FailureStage)),
	)
	if result.Err != nil {
		span.RecordError(result.Err)
	}
	if result.Outcome == OutcomeFailed {
		span.SetStatus(codes.Error, result.Err.Error())
	}

	logger := observability.LoggerFrom(ctx)
	event := logger.Info()
	if result.Outcome != OutcomeCompleted {
		event = logger.Warn().AnErr("error", result.Err)
	}
	event.Str("outcome", string(result.Outcome)).
		Str("failure_stage", string(result.FailureStage)).
		Int("audio_bytes", len(result.Audio)).
		Msg("Conversation turn finished")

	return result
}

func (o *Orchestrator) converse(ctx context.Context, sample stt.AudioSample, history llm.History, metrics *observability.TurnMetrics) Result {
	logger := observability.LoggerFrom(ctx).With().Str("component", "orchestrator").Logger()

	if len(sample.Data) == 0 {
		return failed(StageRecognition, "", fmt.Errorf("%w: empty audio", ErrInvalidInput))
	}

	// 1. recognizer gate
	if !o.gate.IsReady(health.Recognition) {
		return failed(StageRecognition, "", fmt.Errorf("%w: %s", ErrSubsystemNotReady, health.Recognition))
	}

	// 2. recognize
	metrics.StageStart(string(StageRecognition))
	transcript := o.recognizer.Recognize(ctx, sample)
	metrics.StageEnd(string(StageRecognition))
	if !transcript.Success {
		return failed(StageRecognition, "", fmt.Errorf("%w: %s", ErrRecognitionExhausted, transcript.Error))
	}
	userText := strings.TrimSpace(transcript.Text)
	if userText == "" {
		return failed(StageRecognition, "", ErrEmptyTranscript)
	}
	logger.Debug().
		Str("engine", transcript.EngineUsed).
		Int("chars", len(userText)).
		Float64("input_seconds", audio.Duration(len(sample.Data), sample.SampleRate)).
		Msg("Transcribed user turn")

	// 3. generator gate; the transcript survives from here on
	if !o.gate.IsReady(health.Generation) {
		return failed(StageGeneration, userText, fmt.Errorf("%w: %s", ErrSubsystemNotReady, health.Generation))
	}

	// 4. generate
	metrics.StageStart(string(StageGeneration))
	reply, err := o.generate(ctx, userText, history)
	metrics.StageEnd(string(StageGeneration))
	if err != nil {
		return failed(StageGeneration, userText, err)
	}

	// 5. synthesizer gate
	if !o.gate.IsReady(health.Synthesis) {
		return degraded(userText, reply, fmt.Errorf("%w: %s", ErrSynthesisUnavailable, ErrSubsystemNotReady))
	}

	// 6. chunk, synthesize, stitch
	metrics.StageStart(string(StageSynthesis))
	rendered, err := o.renderer.Render(ctx, reply, o.config.Voice)
	metrics.StageEnd(string(StageSynthesis))
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return failed(StageSynthesis, userText, ctxErr)
		}
		if errors.Is(err, audio.ErrNoAudioProduced) {
			return degraded(userText, reply, err)
		}
		return degraded(userText, reply, fmt.Errorf("%w: %v", ErrSynthesisUnavailable, err))
	}

	logger.Debug().
		Int("chunks", rendered.Chunks).
		Int("skipped", len(rendered.Skipped)).
		Float64("audio_seconds", audio.Duration(len(rendered.PCM), rendered.SampleRate)).
		Msg("Rendered reply")

	// 7. completed
	result := Result{
		UserText:      userText,
		AssistantText: reply,
		Audio:         audio.EncodeWAV(rendered.PCM, rendered.SampleRate, 1),
		SampleRate:    rendered.SampleRate,
		Success:       true,
		Outcome:       OutcomeCompleted,
	}
	if err := o.storeArtifact(ctx, &result); err != nil {
		return failed(StageSynthesis, userText, err)
	}
	return result
}

func (o *Orchestrator) generate(ctx context.Context, userText string, history llm.History) (string, error) {
	if o.config.GenerationTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.config.GenerationTimeout)
		defer cancel()
	}

	reply, err := o.generator.Generate(ctx, userText, history.Last(o.config.HistoryLimit))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrGenerationFailed, err)
	}
	reply = strings.TrimSpace(reply)
	if reply == "" {
		return "", fmt.Errorf("%w: %v", ErrGenerationFailed, llm.ErrEmptyReply)
	}
	return reply, nil
}

// storeArtifact saves the reply audio. Only cancellation is an error: a
// store failure leaves the audio in the result without an artifact.
func (o *Orchestrator) storeArtifact(ctx context.Context, result *Result) error {
	if o.store == nil {
		return ctx.Err()
	}

	artifact, err := o.store.Save(ctx, result.Audio)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		logger := observability.LoggerFrom(ctx)
		logger.Warn().Err(err).Msg("Failed to store reply audio")
		return nil
	}

	// the caller is gone; nobody will fetch the artifact
	if ctxErr := ctx.Err(); ctxErr != nil {
		o.store.Remove(artifact.ID)
		return ctxErr
	}
	result.Artifact = &artifact
	return nil
}

// trackStreak counts consecutive degraded turns and escalates once the
// configured threshold has been reached
func (o *Orchestrator) trackStreak(result *Result) {
	switch result.Outcome {
	case OutcomeCompleted:
		o.degradedStreak.Store(0)
	case OutcomeDegraded:
		prior := o.degradedStreak.Add(1) - 1
		if o.config.EscalateAfter > 0 && prior >= int64(o.config.EscalateAfter) {
			*result = Result{
				UserText:      result.UserText,
				AssistantText: result.AssistantText,
				FailureStage:  StageSynthesis,
				Outcome:       OutcomeFailed,
				Err: fmt.Errorf("%w: %d consecutive turns without audio: %v",
					ErrSynthesisUnavailable, prior+1, result.Err),
			}
		}
	}
}

// DegradedStreak reports how many turns in a row were answered without audio
func (o *Orchestrator) DegradedStreak() int {
	return int(o.degradedStreak.Load())
}
