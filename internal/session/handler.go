// Package session serves conversation turns over a WebSocket.
//
// Clients send a WAV file as one binary message, or stream raw 16-bit PCM
// frames that are split into utterances by energy-based segmentation. Each
// turn is answered with a JSON result message followed by the reply WAV as a
// binary message. History lives only as long as the connection.
package session

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/valperai/valper-gateway/internal/audio"
	"github.com/valperai/valper-gateway/internal/llm"
	"github.com/valperai/valper-gateway/internal/observability"
	"github.com/valperai/valper-gateway/internal/orchestrator"
	"github.com/valperai/valper-gateway/internal/stt"
)

// Pipeline runs one conversation turn
type Pipeline interface {
	Converse(ctx context.Context, sample stt.AudioSample, history llm.History) orchestrator.Result
}

// ArtifactRemover drops stored audio that was already delivered inline
type ArtifactRemover interface {
	Remove(id string) error
}

// Config holds per-connection limits
type Config struct {
	// SampleRate of streamed PCM frames and of the audio handed to recognition
	SampleRate  int
	VAD         audio.VADConfig
	TurnTimeout time.Duration
	// MaxHistory caps the messages kept per connection
	MaxHistory     int
	MaxMessageSize int64
	AllowedOrigins []string
	PingInterval   time.Duration
}

// Handler upgrades requests to WebSocket sessions
type Handler struct {
	pipeline  Pipeline
	artifacts ArtifactRemover
	cfg       Config
	upgrader  websocket.Upgrader

	base   context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewHandler creates a session handler. artifacts may be nil.
func NewHandler(pipeline Pipeline, artifacts ArtifactRemover, cfg Config) *Handler {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 16000
	}
	if cfg.VAD.EnergyThreshold <= 0 {
		cfg.VAD.EnergyThreshold = audio.DefaultVADConfig().EnergyThreshold
	}
	if cfg.TurnTimeout <= 0 {
		cfg.TurnTimeout = 2 * time.Minute
	}
	if cfg.MaxHistory <= 0 {
		cfg.MaxHistory = 50
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = 25 << 20
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30 * time.Second
	}

	base, cancel := context.WithCancel(context.Background())
	h := &Handler{
		pipeline:  pipeline,
		artifacts: artifacts,
		cfg:       cfg,
		base:      base,
		cancel:    cancel,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

// ServeHTTP upgrades the connection and runs the session until either side closes
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	logger := observability.LoggerFrom(r.Context()).With().Str("component", "session").Logger()

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the error response
		logger.Warn().Err(err).Msg("Failed to upgrade connection to WebSocket")
		return
	}

	h.wg.Add(1)
	defer h.wg.Done()

	observability.SessionOpened()
	defer observability.SessionClosed()

	s := newSession(conn, h, logger)
	s.run(h.base)
}

// Shutdown ends every open session and waits for them to finish. It fits
// http.Server.RegisterOnShutdown, which does not track hijacked connections.
func (h *Handler) Shutdown() {
	h.cancel()
	h.wg.Wait()
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range h.cfg.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}
