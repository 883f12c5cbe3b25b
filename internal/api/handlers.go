package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"

	"github.com/valperai/valper-gateway/internal/audio"
	"github.com/valperai/valper-gateway/internal/health"
	"github.com/valperai/valper-gateway/internal/observability"
	"github.com/valperai/valper-gateway/internal/orchestrator"
	"github.com/valperai/valper-gateway/internal/storage"
	"github.com/valperai/valper-gateway/internal/stt"
)

// MaxSpeechText is the longest text /tts accepts, in characters
const MaxSpeechText = 1000

type errorResponse struct {
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
}

type transcriptResponse struct {
	Text    string `json:"text"`
	Engine  string `json:"engine"`
	Success bool   `json:"success"`
}

type speechRequest struct {
	Text  string `json:"text"`
	Voice string `json:"voice"`
}

// ConversationResponse is the JSON form of a turn result
type ConversationResponse struct {
	UserText      string `json:"user_text"`
	AssistantText string `json:"assistant_text"`
	AudioPath     string `json:"audio_path,omitempty"`
	AudioURL      string `json:"audio_url,omitempty"`
	Success       bool   `json:"success"`
	Degraded      bool   `json:"degraded"`
	FailureStage  string `json:"failure_stage,omitempty"`
	Outcome       string `json:"outcome"`
	Error         string `json:"error,omitempty"`
}

// NewConversationResponse converts a turn result for the wire
func NewConversationResponse(result orchestrator.Result) ConversationResponse {
	resp := ConversationResponse{
		UserText:      result.UserText,
		AssistantText: result.AssistantText,
		Success:       result.Success,
		Degraded:      result.Degraded,
		FailureStage:  string(result.FailureStage),
		Outcome:       string(result.Outcome),
	}
	if result.Err != nil {
		resp.Error = result.Err.Error()
	}
	if result.Artifact != nil {
		resp.AudioPath = AudioPath(result.Artifact.ID)
		resp.AudioURL = result.Artifact.URL
		if resp.AudioURL == "" {
			resp.AudioURL = resp.AudioPath
		}
	}
	return resp
}

// AudioPath is where an artifact can be fetched
func AudioPath(id string) string {
	return APIPrefix + "/audio/" + id
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"message": "Valper voice conversation gateway",
		"version": observability.Version,
	})
}

func (s *Server) handleSTT(w http.ResponseWriter, r *http.Request) {
	sample, ok := s.readSample(w, r)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.opts.TurnTimeout)
	defer cancel()

	result, err := s.deps.Pipeline.Transcribe(ctx, sample)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, transcriptResponse{
		Text:    result.Text,
		Engine:  result.EngineUsed,
		Success: result.Success,
	})
}

func (s *Server) handleTTS(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 64<<10)

	var req speechRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, fmt.Errorf("%w: invalid JSON body: %v", orchestrator.ErrInvalidInput, err))
		return
	}
	if n := utf8.RuneCountInString(req.Text); n > MaxSpeechText {
		writeError(w, r, fmt.Errorf("%w: text is %d characters, limit is %d", orchestrator.ErrInvalidInput, n, MaxSpeechText))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.opts.TurnTimeout)
	defer cancel()

	rendered, err := s.deps.Pipeline.Speak(ctx, req.Text, req.Voice)
	if err != nil {
		writeError(w, r, err)
		return
	}

	wav := audio.EncodeWAV(rendered.PCM, rendered.SampleRate, 1)
	w.Header().Set("Content-Type", "audio/wav")
	w.Header().Set("Content-Disposition", `attachment; filename="speech.wav"`)
	w.WriteHeader(http.StatusOK)
	w.Write(wav)
}

func (s *Server) handleConversation(w http.ResponseWriter, r *http.Request) {
	sample, ok := s.readSample(w, r)
	if !ok {
		return
	}

	history, err := parseHistory(r.FormValue("conversation_history"))
	if err != nil {
		writeError(w, r, fmt.Errorf("%w: %v", orchestrator.ErrInvalidInput, err))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.opts.TurnTimeout)
	defer cancel()

	result := s.deps.Pipeline.Converse(ctx, sample, history)

	status := http.StatusOK
	switch {
	case errors.Is(result.Err, orchestrator.ErrInvalidInput):
		status = http.StatusBadRequest
	case result.Outcome == orchestrator.OutcomeFailed && errors.Is(result.Err, orchestrator.ErrSubsystemNotReady):
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, NewConversationResponse(result))
}

func (s *Server) handleAudio(w http.ResponseWriter, r *http.Request) {
	if s.deps.Artifacts == nil {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "audio not found"})
		return
	}

	data, err := s.deps.Artifacts.Take(chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, errorResponse{Error: "audio not found"})
			return
		}
		writeError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "audio/wav")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

type subsystemStatus struct {
	Status    string          `json:"status"`
	Ready     bool            `json:"ready"`
	LastError string          `json:"last_error,omitempty"`
	Since     string          `json:"since"`
	Info      health.Metadata `json:"info,omitempty"`
}

func (s *Server) handleServicesStatus(w http.ResponseWriter, r *http.Request) {
	out := make(map[string]subsystemStatus, len(health.Subsystems))
	for _, sub := range health.Subsystems {
		st := s.deps.Gate.Describe(sub)
		info := st.Metadata
		if describe, ok := s.deps.Describers[sub]; ok && describe != nil {
			info = describe()
		}
		out[string(sub)] = subsystemStatus{
			Status:    string(st.State),
			Ready:     st.Ready(),
			LastError: st.LastError,
			Since:     st.Since.UTC().Format(time.RFC3339),
			Info:      info,
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleVoices(w http.ResponseWriter, r *http.Request) {
	var voices []string
	if s.deps.Voices != nil {
		voices = s.deps.Voices()
	}
	if voices == nil {
		voices = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"voices":  voices,
		"default": s.deps.DefaultVoice,
	})
}

// readSample reads and converts the upload, writing the error response itself
func (s *Server) readSample(w http.ResponseWriter, r *http.Request) (stt.AudioSample, bool) {
	logger := observability.LoggerFrom(r.Context())

	data, contentType, err := readAudio(w, r, s.opts.MaxUploadBytes)
	if err != nil {
		writeError(w, r, err)
		return stt.AudioSample{}, false
	}
	rawRate, err := queryInt(r, "sample_rate")
	if err != nil {
		writeError(w, r, err)
		return stt.AudioSample{}, false
	}

	sample, err := toSample(data, contentType, rawRate, sampleOptions{
		SampleRate: s.opts.RecognitionSampleRate,
		Resample:   s.opts.ResampleInput,
	}, logger)
	if err != nil {
		writeError(w, r, err)
		return stt.AudioSample{}, false
	}

	observability.RecordAudioBytes("in", len(data))
	return sample, true
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case isTooLarge(err):
		status = http.StatusRequestEntityTooLarge
	case errors.Is(err, orchestrator.ErrInvalidInput):
		status = http.StatusBadRequest
	case errors.Is(err, orchestrator.ErrSubsystemNotReady):
		status = http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	}

	if status >= http.StatusInternalServerError {
		logger := observability.LoggerFrom(r.Context())
		logger.Error().Err(err).Str("path", r.URL.Path).Msg("Request failed")
	}
	writeJSON(w, status, errorResponse{Error: http.StatusText(status), Detail: err.Error()})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
