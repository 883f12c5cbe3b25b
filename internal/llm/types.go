// Package llm generates assistant replies from a transcript and the recent
// conversation history.
package llm

import (
	"context"
	"errors"
	"fmt"

	"github.com/valperai/valper-gateway/internal/health"
)

// DefaultSystemPrompt frames every generation request
const DefaultSystemPrompt = "You are Valper, a helpful and friendly AI voice assistant. " +
	"Keep your responses concise, natural, and conversational. " +
	"You should be helpful, informative, and engaging in your interactions."

// ErrEmptyReply is returned when the generator answered with no text
var ErrEmptyReply = errors.New("generator returned an empty reply")

// Role is the author of a history message
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one prior turn of the conversation
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// History is the client-supplied conversation, oldest first
type History []Message

// Last returns a copy of the n most recent messages. The receiver is never
// modified.
func (h History) Last(n int) History {
	if n <= 0 || len(h) == 0 {
		return nil
	}
	start := len(h) - n
	if start < 0 {
		start = 0
	}
	out := make(History, len(h)-start)
	copy(out, h[start:])
	return out
}

// Validate checks roles and content
func (h History) Validate() error {
	for i, m := range h {
		if m.Role != RoleUser && m.Role != RoleAssistant {
			return fmt.Errorf("message %d: invalid role %q", i, m.Role)
		}
		if m.Content == "" {
			return fmt.Errorf("message %d: empty content", i)
		}
	}
	return nil
}

// Generator produces a reply to userText given prior history
type Generator interface {
	Name() string
	Init(ctx context.Context) error
	Describe() health.Metadata
	Generate(ctx context.Context, userText string, history History) (string, error)
}

// Options holds sampling parameters shared by generators
type Options struct {
	Model        string
	SystemPrompt string
	MaxTokens    int
	Temperature  float32
}

func (o Options) systemPrompt() string {
	if o.SystemPrompt == "" {
		return DefaultSystemPrompt
	}
	return o.SystemPrompt
}
