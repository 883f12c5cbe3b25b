// Package tts renders reply text to 16-bit mono PCM.
package tts

import (
	"context"
	"errors"

	"github.com/valperai/valper-gateway/internal/health"
)

// ErrUnknownVoice is returned for a voice the synthesizer cannot map
var ErrUnknownVoice = errors.New("unknown voice")

// ErrEmptyText is returned when there is nothing to synthesize
var ErrEmptyText = errors.New("text is empty")

// Synthesizer converts text to audio
type Synthesizer interface {
	Name() string
	Init(ctx context.Context) error
	Describe() health.Metadata

	// SampleRate is the rate of the PCM returned by Synthesize
	SampleRate() int

	// Voices lists the voice names accepted by Synthesize
	Voices() []string

	// Synthesize returns 16-bit little-endian mono PCM for text.
	// An empty voice selects the default voice.
	Synthesize(ctx context.Context, text, voice string) ([]byte, error)
}
