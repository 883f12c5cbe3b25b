// Package stt turns recorded speech into text through an ordered cascade of
// recognition engines.
package stt

import (
	"context"
	"errors"

	"github.com/valperai/valper-gateway/internal/health"
)

// ErrUnintelligible is returned by an engine that processed the audio but
// could not produce a transcript
var ErrUnintelligible = errors.New("speech could not be understood")

// ErrNotInitialized is returned when an engine is used before Init succeeded
var ErrNotInitialized = errors.New("engine not initialized")

// AudioSample is one recorded utterance.
// Data is 16-bit little-endian mono PCM when Encoding is audio.EncodingPCM16,
// otherwise an encoded container the engines decode themselves.
type AudioSample struct {
	Data       []byte
	SampleRate int
	Encoding   string
}

// TranscriptResult is the outcome of running the cascade.
// Text is empty unless Success is true.
type TranscriptResult struct {
	Text       string `json:"text"`
	EngineUsed string `json:"engine"`
	Success    bool   `json:"success"`
	Error      string `json:"error,omitempty"`
}

// Engine is a speech recognizer
type Engine interface {
	// Name identifies the engine in logs, metrics and the cascade summary
	Name() string

	// Init prepares the engine. An engine whose Init failed is skipped.
	Init(ctx context.Context) error

	// Describe reports static engine metadata for the status endpoint
	Describe() health.Metadata

	// Transcribe returns the transcript of sample. A transcript that is empty
	// after trimming is treated as unintelligible by the cascade.
	Transcribe(ctx context.Context, sample AudioSample) (string, error)
}

// Outcome classifies one engine attempt
type Outcome string

const (
	OutcomeSuccess        Outcome = "success"
	OutcomeUnavailable    Outcome = "unavailable"
	OutcomeUnintelligible Outcome = "unintelligible"
	OutcomeError          Outcome = "error"
)
