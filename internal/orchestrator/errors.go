package orchestrator

import (
	"errors"

	"github.com/valperai/valper-gateway/internal/audio"
)

var (
	// ErrSubsystemNotReady means a stage's engine never finished initializing
	ErrSubsystemNotReady = errors.New("subsystem not ready")

	// ErrRecognitionExhausted means every recognition engine failed
	ErrRecognitionExhausted = errors.New("all recognition engines failed")

	// ErrEmptyTranscript means recognition succeeded with nothing to reply to
	ErrEmptyTranscript = errors.New("empty transcript")

	// ErrGenerationFailed means the generator errored or replied with nothing
	ErrGenerationFailed = errors.New("reply generation failed")

	// ErrSynthesisUnavailable means the turn had to be answered without audio
	ErrSynthesisUnavailable = errors.New("speech synthesis unavailable")

	// ErrNoAudioProduced means synthesis ran but no chunk yielded audio
	ErrNoAudioProduced = audio.ErrNoAudioProduced

	// ErrInvalidInput means the audio or text supplied by the caller is unusable
	ErrInvalidInput = errors.New("invalid input")
)
