package stt

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/valperai/valper-gateway/internal/audio"
	"github.com/valperai/valper-gateway/internal/health"
	"github.com/valperai/valper-gateway/internal/resilience"
)

type fakeEngine struct {
	name    string
	initErr error
	text    string
	err     error
	delay   time.Duration
	panics  bool
	calls   atomic.Int32
}

func (f *fakeEngine) Name() string { return f.name }
func (f *fakeEngine) Init(ctx context.Context) error { return f.initErr }
func (f *fakeEngine) Describe() health.Metadata { return health.Metadata{"service": f.name} }

func (f *fakeEngine) Transcribe(ctx context.Context, sample AudioSample) (string, error) {
	f.calls.Add(1)
	if f.panics {
		panic("decoder exploded")
	}
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return f.text, f.err
}

func newTestCascade(t *testing.T, engines ...Engine) *Cascade {
	t.Helper()
	c := NewCascade(engines, CascadeOptions{
		Timeout:                    time.Second,
		CircuitBreakerMaxFailures:  2,
		CircuitBreakerResetTimeout: time.Minute,
		Logger:                     zerolog.Nop(),
	})
	c.Init(context.Background())
	return c
}

var sample = AudioSample{Data: []byte{1, 2, 3, 4}, SampleRate: 16000, Encoding: audio.EncodingPCM16}

func TestCascade_FirstSuccessShortCircuits(t *testing.T) {
	first := &fakeEngine{name: "deepgram", text: "  hello there  "}
	second := &fakeEngine{name: "whisper", text: "unused"}
	c := newTestCascade(t, first, second)

	result := c.Recognize(context.Background(), sample)

	if !result.Success || result.Text != "hello there" || result.EngineUsed != "deepgram" {
		t.Errorf("Unexpected result %+v", result)
	}
	if second.calls.Load() != 0 {
		t.Error("Expected engines after the winner never to be attempted")
	}
}

func TestCascade_FallsBackInOrder(t *testing.T) {
	tests := []struct {
		name    string
		first   *fakeEngine
		outcome Outcome
	}{
		{"unavailable", &fakeEngine{name: "deepgram", err: resilience.Unavailable(errors.New("offline"))}, OutcomeUnavailable},
		{"unintelligible error", &fakeEngine{name: "deepgram", err: ErrUnintelligible}, OutcomeUnintelligible},
		{"blank transcript", &fakeEngine{name: "deepgram", text: "   "}, OutcomeUnintelligible},
		{"other error", &fakeEngine{name: "deepgram", err: errors.New("malformed audio")}, OutcomeError},
		{"panic", &fakeEngine{name: "deepgram", panics: true}, OutcomeError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			second := &fakeEngine{name: "whisper", text: "fallback"}
			c := newTestCascade(t, tt.first, second)

			result, attempts := c.RecognizeWithAttempts(context.Background(), sample)

			if !result.Success || result.Text != "fallback" || result.EngineUsed != "whisper" {
				t.Errorf("Unexpected result %+v", result)
			}
			if len(attempts) != 2 || attempts[0].Outcome != tt.outcome {
				t.Errorf("Expected first attempt %s, got %+v", tt.outcome, attempts)
			}
		})
	}
}

func TestCascade_Exhaustion(t *testing.T) {
	c := newTestCascade(t,
		&fakeEngine{name: "deepgram", err: resilience.Unavailable(errors.New("offline"))},
		&fakeEngine{name: "whisper", err: ErrUnintelligible},
	)

	result := c.Recognize(context.Background(), sample)

	if result.Success {
		t.Fatal("Expected failure when every engine fails")
	}
	if result.Text != "" || result.EngineUsed != "" {
		t.Errorf("Expected empty text and engine on failure, got %+v", result)
	}
	for _, want := range []string{"deepgram: unavailable", "whisper: unintelligible"} {
		if !strings.Contains(result.Error, want) {
			t.Errorf("Expected error summary to contain %q, got %q", want, result.Error)
		}
	}
}

func TestCascade_PerEngineTimeout(t *testing.T) {
	slow := &fakeEngine{name: "deepgram", text: "late", delay: 5 * time.Second}
	fast := &fakeEngine{name: "whisper", text: "on time"}
	c := NewCascade([]Engine{slow, fast}, CascadeOptions{Timeout: 50 * time.Millisecond, Logger: zerolog.Nop()})
	c.Init(context.Background())

	start := time.Now()
	result, attempts := c.RecognizeWithAttempts(context.Background(), sample)

	if time.Since(start) > 2*time.Second {
		t.Error("Expected slow engine to be abandoned at its timeout")
	}
	if !result.Success || result.EngineUsed != "whisper" {
		t.Errorf("Unexpected result %+v", result)
	}
	if attempts[0].Outcome != OutcomeUnavailable {
		t.Errorf("Expected timeout to classify as unavailable, got %s", attempts[0].Outcome)
	}
}

func TestCascade_SkipsUninitializedEngine(t *testing.T) {
	broken := &fakeEngine{name: "deepgram", initErr: errors.New("no api key"), text: "never"}
	working := &fakeEngine{name: "whisper", text: "hi"}
	c := newTestCascade(t, broken, working)

	result, attempts := c.RecognizeWithAttempts(context.Background(), sample)

	if broken.calls.Load() != 0 {
		t.Error("Expected uninitialized engine never to be called")
	}
	if !result.Success || result.EngineUsed != "whisper" {
		t.Errorf("Unexpected result %+v", result)
	}
	if !errors.Is(attempts[0].Err, ErrNotInitialized) {
		t.Errorf("Expected ErrNotInitialized, got %v", attempts[0].Err)
	}
	if ready := c.Ready(); len(ready) != 1 || ready[0] != "whisper" {
		t.Errorf("Expected only whisper ready, got %v", ready)
	}
}

func TestCascade_InitFailsWhenNoEngineReady(t *testing.T) {
	c := NewCascade([]Engine{
		&fakeEngine{name: "deepgram", initErr: errors.New("no api key")},
	}, CascadeOptions{Logger: zerolog.Nop()})

	err := c.Init(context.Background())
	if err == nil || !strings.Contains(err.Error(), "no api key") {
		t.Errorf("Expected init error mentioning cause, got %v", err)
	}
}

func TestCascade_CircuitOpensOnUnavailable(t *testing.T) {
	flaky := &fakeEngine{name: "deepgram", err: resilience.Unavailable(errors.New("offline"))}
	backup := &fakeEngine{name: "whisper", text: "ok"}
	c := newTestCascade(t, flaky, backup)

	for i := 0; i < 5; i++ {
		c.Recognize(context.Background(), sample)
	}

	// Breaker opens after 2 failures, so later turns skip the engine
	if got := flaky.calls.Load(); got != 2 {
		t.Errorf("Expected 2 calls before the breaker opened, got %d", got)
	}
}

func TestCascade_UnintelligibleDoesNotTripBreaker(t *testing.T) {
	quiet := &fakeEngine{name: "deepgram", err: ErrUnintelligible}
	c := newTestCascade(t, quiet)

	for i := 0; i < 5; i++ {
		c.Recognize(context.Background(), sample)
	}
	if got := quiet.calls.Load(); got != 5 {
		t.Errorf("Expected every turn to reach the engine, got %d calls", got)
	}
}

func TestCascade_EmptyAudio(t *testing.T) {
	engine := &fakeEngine{name: "deepgram", text: "x"}
	c := newTestCascade(t, engine)

	result := c.Recognize(context.Background(), AudioSample{})
	if result.Success {
		t.Error("Expected failure for empty audio")
	}
	if engine.calls.Load() != 0 {
		t.Error("Expected no engine calls for empty audio")
	}
}

func TestCascade_CancelledContext(t *testing.T) {
	first := &fakeEngine{name: "deepgram", text: "x"}
	c := newTestCascade(t, first)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result := c.Recognize(ctx, sample)
	if result.Success {
		t.Error("Expected failure for cancelled context")
	}
	if first.calls.Load() != 0 {
		t.Error("Expected no engine calls after cancellation")
	}
}

func TestCascade_Describe(t *testing.T) {
	c := newTestCascade(t,
		&fakeEngine{name: "deepgram", initErr: errors.New("no api key")},
		&fakeEngine{name: "whisper"},
	)

	meta := c.Describe()
	engines, ok := meta["engines"].([]health.Metadata)
	if !ok || len(engines) != 2 {
		t.Fatalf("Expected 2 engine entries, got %v", meta["engines"])
	}
	if engines[0]["ready"] != false || engines[0]["error"] != "no api key" {
		t.Errorf("Unexpected deepgram entry %v", engines[0])
	}
	if engines[1]["ready"] != true || engines[1]["circuit"] != "closed" {
		t.Errorf("Unexpected whisper entry %v", engines[1])
	}
}
