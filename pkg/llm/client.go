// Package llm is the chat-completion client used for turn responses and
// implicit tool choice. The production client talks OpenAI-compatible
// endpoints; the mock replays canned responses for tests and local dev.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/vocero-ai/vocero/pkg/config"
)

// Message roles mirror the chat-completion wire roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one turn of conversation context.
type Message struct {
	Role    string
	Content string
}

// Request is one completion call. System is prepended to Messages.
type Request struct {
	System   string
	Messages []Message
}

// Client produces one completion per request.
type Client interface {
	// Complete returns the assistant response text, truncated to the
	// configured response budget.
	Complete(ctx context.Context, req Request) (string, error)

	// Provider names the backing implementation for logs and metrics.
	Provider() string
}

// New selects the client for the configured provider.
func New(cfg *config.LLMConfig) (Client, error) {
	switch cfg.Provider {
	case config.LLMProviderOpenAI:
		return newOpenAIClient(cfg), nil
	case config.LLMProviderMock:
		return NewMockClient(), nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
}

type openAIClient struct {
	client   *openai.Client
	model    string
	timeout  time.Duration
	maxChars int
}

func newOpenAIClient(cfg *config.LLMConfig) *openAIClient {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	return &openAIClient{
		client:   openai.NewClientWithConfig(clientCfg),
		model:    cfg.Model,
		timeout:  cfg.Timeout,
		maxChars: cfg.MaxResponseChars,
	}
}

func (c *openAIClient) Provider() string { return config.LLMProviderOpenAI }

func (c *openAIClient) Complete(ctx context.Context, req Request) (string, error) {
	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages)+1)
	if req.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role: openai.ChatMessageRoleSystem, Content: req.System,
		})
	}
	for _, m := range req.Messages {
		messages = append(messages, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}

	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, c.timeout)
		resp, err := c.client.CreateChatCompletion(callCtx, openai.ChatCompletionRequest{
			Model:    c.model,
			Messages: messages,
		})
		cancel()
		if err == nil {
			if len(resp.Choices) == 0 {
				return "", errors.New("completion returned no choices")
			}
			return Truncate(strings.TrimSpace(resp.Choices[0].Message.Content), c.maxChars), nil
		}
		lastErr = err
		if !isRetryable(err) || ctx.Err() != nil {
			break
		}
	}
	return "", fmt.Errorf("chat completion: %w", lastErr)
}

// isRetryable allows one retry on rate limits, server errors, and
// timeouts; everything else fails the turn immediately.
func isRetryable(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == http.StatusTooManyRequests ||
			apiErr.HTTPStatusCode >= http.StatusInternalServerError
	}
	return false
}

// Truncate clips text to at most maxChars runes. Zero or negative
// budgets disable truncation.
func Truncate(text string, maxChars int) string {
	if maxChars <= 0 {
		return text
	}
	runes := []rune(text)
	if len(runes) <= maxChars {
		return text
	}
	return string(runes[:maxChars])
}
