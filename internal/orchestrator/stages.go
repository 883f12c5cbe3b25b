package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/valperai/valper-gateway/internal/health"
	"github.com/valperai/valper-gateway/internal/stt"
	"github.com/valperai/valper-gateway/internal/tts"
)

// Transcribe runs only the recognition stage. Errors wrap ErrInvalidInput,
// ErrSubsystemNotReady or ErrRecognitionExhausted.
func (o *Orchestrator) Transcribe(ctx context.Context, sample stt.AudioSample) (stt.TranscriptResult, error) {
	if len(sample.Data) == 0 {
		return stt.TranscriptResult{}, fmt.Errorf("%w: empty audio", ErrInvalidInput)
	}
	if !o.gate.IsReady(health.Recognition) {
		return stt.TranscriptResult{}, fmt.Errorf("%w: %s", ErrSubsystemNotReady, health.Recognition)
	}

	result := o.recognizer.Recognize(ctx, sample)
	if !result.Success {
		return result, fmt.Errorf("%w: %s", ErrRecognitionExhausted, result.Error)
	}
	return result, nil
}

// Speak runs only the synthesis stage and returns the reply as a WAV file.
// Errors wrap ErrInvalidInput, ErrSubsystemNotReady, ErrNoAudioProduced or
// ErrSynthesisUnavailable.
func (o *Orchestrator) Speak(ctx context.Context, text, voice string) (tts.Rendered, error) {
	if strings.TrimSpace(text) == "" {
		return tts.Rendered{}, fmt.Errorf("%w: empty text", ErrInvalidInput)
	}
	if !o.gate.IsReady(health.Synthesis) {
		return tts.Rendered{}, fmt.Errorf("%w: %s", ErrSubsystemNotReady, health.Synthesis)
	}
	if voice == "" {
		voice = o.config.Voice
	}

	rendered, err := o.renderer.Render(ctx, text, voice)
	switch {
	case err == nil:
		return rendered, nil
	case errors.Is(err, tts.ErrUnknownVoice), errors.Is(err, tts.ErrEmptyText):
		return tts.Rendered{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	case errors.Is(err, ErrNoAudioProduced):
		return tts.Rendered{}, err
	case ctx.Err() != nil:
		return tts.Rendered{}, ctx.Err()
	}
	return tts.Rendered{}, fmt.Errorf("%w: %v", ErrSynthesisUnavailable, err)
}
