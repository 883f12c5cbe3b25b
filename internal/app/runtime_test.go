package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/valperai/valper-gateway/internal/config"
	"github.com/valperai/valper-gateway/internal/health"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		RecognitionEngines:         []string{"deepgram", "whisper"},
		RecognitionTimeout:         5,
		RecognitionSampleRate:      16000,
		RecognitionLanguage:        "en",
		ResampleInput:              true,
		WhisperBaseURL:             "http://127.0.0.1:9/v1",
		WhisperModel:               "whisper-1",
		GeneratorEngine:            "openai",
		LLMBaseURL:                 "http://127.0.0.1:9/v1",
		LLMModel:                   "test-model",
		LLMTimeout:                 5,
		HistoryLimit:               5,
		SynthesizerEngine:          "cartesia",
		SynthesisSampleRate:        24000,
		SynthesisVoice:             "af_heart",
		SynthesisTimeout:           5,
		SynthesisWorkers:           2,
		MaxChunkLength:             800,
		CartesiaURL:                "http://127.0.0.1:9/tts/bytes",
		CartesiaVersion:            "2024-06-10",
		CartesiaModelID:            "sonic",
		TempAudioDir:               t.TempDir(),
		ArtifactTTL:                15,
		CircuitBreakerMaxFailures:  5,
		CircuitBreakerResetTimeout: 30,
		InitTimeout:                5,
		ConversationLimit:          10,
		AllowedOrigins:             []string{"*"},
		MaxUploadBytes:             1 << 20,
	}
}

func waitStarted(t *testing.T, rt *Runtime) {
	t.Helper()
	select {
	case <-rt.Start(context.Background()):
	case <-time.After(5 * time.Second):
		t.Fatal("Start did not finish")
	}
}

func TestStartWithoutKeys(t *testing.T) {
	cfg := testConfig(t)
	cfg.RecognitionEngines = []string{"deepgram"}

	rt, err := New(context.Background(), cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer rt.Close()
	waitStarted(t, rt)

	for _, sub := range health.Subsystems {
		st := rt.Gate.Describe(sub)
		if st.State != health.StateFailed || st.LastError == "" {
			t.Errorf("%s: expected failed with error, got %+v", sub, st)
		}
	}
}

func TestStartWithKeys(t *testing.T) {
	cfg := testConfig(t)
	cfg.LLMAPIKey = "llm-key"
	cfg.CartesiaAPIKey = "cartesia-key"

	rt, err := New(context.Background(), cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer rt.Close()
	waitStarted(t, rt)

	for _, sub := range health.Subsystems {
		if !rt.Gate.IsReady(sub) {
			t.Errorf("%s: expected ready, got %+v", sub, rt.Gate.Describe(sub))
		}
	}
	if ready := rt.Cascade.Ready(); len(ready) != 1 || ready[0] != "whisper" {
		t.Errorf("Expected only whisper ready without a Deepgram key, got %v", ready)
	}
}

func TestEngineSelection(t *testing.T) {
	tests := []struct {
		synthesizer string
		generator   string
		wantSynth   string
		wantGen     string
	}{
		{synthesizer: "cartesia", generator: "openai", wantSynth: "cartesia", wantGen: "openai"},
		{synthesizer: "openai", generator: "grpc", wantSynth: "openai", wantGen: "grpc"},
		{synthesizer: "polly", generator: "openai", wantSynth: "polly", wantGen: "openai"},
	}

	for _, tt := range tests {
		cfg := testConfig(t)
		cfg.SynthesizerEngine = tt.synthesizer
		cfg.GeneratorEngine = tt.generator

		rt, err := New(context.Background(), cfg)
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		if rt.Synthesizer.Name() != tt.wantSynth || rt.Generator.Name() != tt.wantGen {
			t.Errorf("Expected %s/%s, got %s/%s", tt.wantSynth, tt.wantGen, rt.Synthesizer.Name(), rt.Generator.Name())
		}
		rt.Close()
	}
}

func TestHandlerServesStatus(t *testing.T) {
	cfg := testConfig(t)
	cfg.LLMAPIKey = "llm-key"

	rt, err := New(context.Background(), cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer rt.Close()
	waitStarted(t, rt)

	ts := httptest.NewServer(rt.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/v1/services/status")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	var body map[string]struct {
		Ready bool           `json:"ready"`
		Info  map[string]any `json:"info"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !body["generation"].Ready {
		t.Errorf("Expected generation ready")
	}
	if body["synthesis"].Ready {
		t.Errorf("Expected synthesis not ready without a key")
	}
	if body["synthesis"].Info["circuit"] != "closed" {
		t.Errorf("Expected synthesis circuit state, got %v", body["synthesis"].Info)
	}

	ready, err := http.Get(ts.URL + "/ready")
	if err != nil {
		t.Fatalf("GET /ready: %v", err)
	}
	ready.Body.Close()
	if ready.StatusCode != http.StatusOK {
		t.Errorf("Expected ready once recognition and generation are up, got %d", ready.StatusCode)
	}
}
