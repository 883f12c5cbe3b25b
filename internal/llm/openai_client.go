package llm

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/valperai/valper-gateway/internal/health"
	"github.com/valperai/valper-gateway/internal/openaicompat"
)

// OpenAIConfig configures an OpenAI-compatible chat completion endpoint
type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	Timeout time.Duration
	Options
}

// OpenAIGenerator generates replies with the chat completions API
type OpenAIGenerator struct {
	config OpenAIConfig

	mu     sync.RWMutex
	client *openai.Client
}

// NewOpenAIGenerator creates a chat completion generator
func NewOpenAIGenerator(cfg OpenAIConfig) *OpenAIGenerator {
	return &OpenAIGenerator{config: cfg}
}

// Name implements Generator
func (g *OpenAIGenerator) Name() string {
	return "openai"
}

// Init implements Generator
func (g *OpenAIGenerator) Init(ctx context.Context) error {
	if g.config.APIKey == "" {
		return errors.New("LLM_API_KEY not set")
	}
	if g.config.Model == "" {
		return errors.New("LLM_MODEL not set")
	}

	g.mu.Lock()
	g.client = openaicompat.NewClient(g.config.APIKey, g.config.BaseURL, g.config.Timeout)
	g.mu.Unlock()
	return nil
}

// Describe implements Generator
func (g *OpenAIGenerator) Describe() health.Metadata {
	return health.Metadata{
		"service":     "OpenAI-compatible",
		"endpoint":    g.config.BaseURL,
		"model":       g.config.Model,
		"max_tokens":  g.config.MaxTokens,
		"temperature": g.config.Temperature,
	}
}

// Generate implements Generator
func (g *OpenAIGenerator) Generate(ctx context.Context, userText string, history History) (string, error) {
	g.mu.RLock()
	client := g.client
	g.mu.RUnlock()
	if client == nil {
		return "", errors.New("generator not initialized")
	}

	resp, err := client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       g.config.Model,
		Messages:    buildMessages(g.config.systemPrompt(), userText, history),
		MaxTokens:   g.config.MaxTokens,
		Temperature: g.config.Temperature,
	})
	if err != nil {
		return "", openaicompat.WrapError("llm", err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyReply
	}

	reply := strings.TrimSpace(resp.Choices[0].Message.Content)
	if reply == "" {
		return "", ErrEmptyReply
	}
	return reply, nil
}

func buildMessages(systemPrompt, userText string, history History) []openai.ChatCompletionMessage {
	messages := make([]openai.ChatCompletionMessage, 0, len(history)+2)
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleSystem,
		Content: systemPrompt,
	})
	for _, m := range history {
		role := openai.ChatMessageRoleUser
		if m.Role == RoleAssistant {
			role = openai.ChatMessageRoleAssistant
		}
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    role,
			Content: m.Content,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: userText,
	})
	return messages
}
