package session

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/valperai/valper-gateway/internal/audio"
	"github.com/valperai/valper-gateway/internal/llm"
	"github.com/valperai/valper-gateway/internal/observability"
	"github.com/valperai/valper-gateway/internal/stt"
)

const writeWait = 10 * time.Second

// Message types sent to and accepted from the client
const (
	TypeResult = "result"
	TypeError  = "error"
	TypeReady  = "ready"

	// CommandCommit ends the streamed utterance in progress
	CommandCommit = "commit"
	// CommandReset clears the session history
	CommandReset = "reset"
)

// ServerMessage is a JSON message sent to the client
type ServerMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id,omitempty"`
	TurnID    string `json:"turn_id,omitempty"`

	UserText      string `json:"user_text,omitempty"`
	AssistantText string `json:"assistant_text,omitempty"`
	Success       bool   `json:"success"`
	Degraded      bool   `json:"degraded,omitempty"`
	FailureStage  string `json:"failure_stage,omitempty"`
	Outcome       string `json:"outcome,omitempty"`
	// HasAudio announces a binary WAV message following this one
	HasAudio bool   `json:"has_audio,omitempty"`
	Error    string `json:"error,omitempty"`
}

// ClientMessage is a JSON control message from the client
type ClientMessage struct {
	Type string `json:"type"`
}

type inbound struct {
	kind int
	data []byte
}

type session struct {
	id      string
	conn    *websocket.Conn
	handler *Handler
	logger  zerolog.Logger

	writeMu   sync.Mutex
	segmenter *audio.Segmenter
	history   llm.History
}

func newSession(conn *websocket.Conn, h *Handler, logger zerolog.Logger) *session {
	id := uuid.New().String()
	return &session{
		id:        id,
		conn:      conn,
		handler:   h,
		logger:    logger.With().Str("session_id", id).Logger(),
		segmenter: audio.NewSegmenter(h.cfg.VAD, h.cfg.SampleRate),
	}
}

func (s *session) run(parent context.Context) {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()
	defer s.conn.Close()

	s.logger.Info().Msg("WebSocket session started")
	defer func() {
		s.logger.Info().Int("history", len(s.history)).Msg("WebSocket session ended")
	}()

	s.conn.SetReadLimit(s.handler.cfg.MaxMessageSize)
	s.conn.SetReadDeadline(time.Now().Add(2 * s.handler.cfg.PingInterval))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(2 * s.handler.cfg.PingInterval))
	})

	incoming := make(chan inbound, 8)
	go s.readLoop(ctx, cancel, incoming)
	go s.pingLoop(ctx)

	s.send(ServerMessage{Type: TypeReady, SessionID: s.id, Success: true})

	for {
		select {
		case <-ctx.Done():
			if parent.Err() != nil {
				s.closeWith(websocket.CloseGoingAway, "server shutting down")
			}
			return
		case msg, ok := <-incoming:
			if !ok {
				return
			}
			s.handle(ctx, msg)
		}
	}
}

// readLoop owns reads; it cancels the session when the peer goes away
func (s *session) readLoop(ctx context.Context, cancel context.CancelFunc, out chan<- inbound) {
	defer cancel()
	defer close(out)

	for {
		kind, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warn().Err(err).Msg("WebSocket read error")
			}
			return
		}
		select {
		case out <- inbound{kind: kind, data: data}:
		case <-ctx.Done():
			return
		}
	}
}

func (s *session) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(s.handler.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				s.logger.Debug().Err(err).Msg("Ping failed")
				return
			}
		}
	}
}

func (s *session) handle(ctx context.Context, msg inbound) {
	switch msg.kind {
	case websocket.BinaryMessage:
		s.handleAudio(ctx, msg.data)
	case websocket.TextMessage:
		s.handleCommand(ctx, msg.data)
	}
}

func (s *session) handleAudio(ctx context.Context, data []byte) {
	observability.RecordAudioBytes("in", len(data))

	if audio.IsWAV(data) {
		pcm, format, err := audio.DecodeWAV(data)
		if err != nil {
			s.sendError(err)
			return
		}
		pcm, err = audio.ResamplePCM(pcm, format.SampleRate, s.handler.cfg.SampleRate)
		if err != nil {
			s.sendError(err)
			return
		}
		if audio.DetectSilence(pcm, s.handler.cfg.VAD.EnergyThreshold) {
			s.sendError(errors.New("no speech detected"))
			return
		}
		s.turn(ctx, pcm)
		return
	}

	if len(data)%2 != 0 {
		s.sendError(errors.New("PCM frames must hold whole 16-bit samples"))
		return
	}
	for _, utterance := range s.segmenter.Write(data) {
		s.turn(ctx, utterance)
	}
}

func (s *session) handleCommand(ctx context.Context, data []byte) {
	command := strings.TrimSpace(string(data))
	var msg ClientMessage
	if json.Unmarshal(data, &msg) == nil && msg.Type != "" {
		command = msg.Type
	}

	switch strings.ToLower(command) {
	case CommandCommit, "end":
		if utterance := s.segmenter.Flush(); len(utterance) > 0 {
			s.turn(ctx, utterance)
			return
		}
		s.sendError(errors.New("no speech buffered"))
	case CommandReset:
		s.history = nil
		s.segmenter.Reset()
		s.send(ServerMessage{Type: TypeReady, SessionID: s.id, Success: true})
	default:
		s.sendError(errors.New("unknown command " + command))
	}
}

// turn runs one conversation turn and writes the result, then the audio
func (s *session) turn(parent context.Context, pcm []byte) {
	turnID := observability.NewCorrelationID()
	ctx, logger := observability.ContextWithTurn(parent, turnID)
	ctx, cancel := context.WithTimeout(ctx, s.handler.cfg.TurnTimeout)
	defer cancel()

	sample := stt.AudioSample{Data: pcm, SampleRate: s.handler.cfg.SampleRate, Encoding: audio.EncodingPCM16}
	result := s.handler.pipeline.Converse(ctx, sample, s.history)

	// audio goes out inline, so the stored copy is never fetched
	if result.Artifact != nil && s.handler.artifacts != nil {
		defer s.handler.artifacts.Remove(result.Artifact.ID)
	}

	if result.Success {
		s.remember(result.UserText, result.AssistantText)
	}

	msg := ServerMessage{
		Type:          TypeResult,
		SessionID:     s.id,
		TurnID:        turnID,
		UserText:      result.UserText,
		AssistantText: result.AssistantText,
		Success:       result.Success,
		Degraded:      result.Degraded,
		FailureStage:  string(result.FailureStage),
		Outcome:       string(result.Outcome),
		HasAudio:      len(result.Audio) > 0,
	}
	if result.Err != nil {
		msg.Error = result.Err.Error()
	}
	if err := s.send(msg); err != nil {
		return
	}

	if len(result.Audio) > 0 {
		if err := s.write(websocket.BinaryMessage, result.Audio); err != nil {
			logger.Warn().Err(err).Msg("Failed to send reply audio")
			return
		}
		observability.RecordAudioBytes("out", len(result.Audio))
	}
}

func (s *session) remember(userText, assistantText string) {
	s.history = append(s.history,
		llm.Message{Role: llm.RoleUser, Content: userText},
		llm.Message{Role: llm.RoleAssistant, Content: assistantText},
	)
	if over := len(s.history) - s.handler.cfg.MaxHistory; over > 0 {
		s.history = append(llm.History(nil), s.history[over:]...)
	}
}

func (s *session) send(msg ServerMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	if err := s.write(websocket.TextMessage, data); err != nil {
		s.logger.Warn().Err(err).Str("type", msg.Type).Msg("Failed to send message")
		return err
	}
	return nil
}

func (s *session) sendError(err error) {
	s.send(ServerMessage{Type: TypeError, SessionID: s.id, Error: err.Error()})
}

func (s *session) write(kind int, data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteMessage(kind, data)
}

func (s *session) closeWith(code int, reason string) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(writeWait))
}
