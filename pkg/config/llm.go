package config

import "time"

// LLM provider modes.
const (
	LLMProviderOpenAI = "openai"
	LLMProviderMock   = "mock"
)

// LLMConfig controls the language model used for turn responses and
// implicit tool choice.
type LLMConfig struct {
	// Provider selects openai or mock. With mock, turns echo a canned
	// response and implicit tool choice is disabled.
	Provider string `yaml:"provider"`

	// APIKey authenticates against the provider.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider endpoint (self-hosted gateways).
	BaseURL string `yaml:"base_url"`

	// Model is the chat model name.
	Model string `yaml:"model"`

	// Timeout bounds one completion request.
	Timeout time.Duration `yaml:"timeout"`

	// MaxResponseChars truncates model responses spoken to the caller.
	MaxResponseChars int `yaml:"max_response_chars"`
}

// DefaultLLMConfig returns the built-in LLM configuration.
func DefaultLLMConfig() *LLMConfig {
	return &LLMConfig{
		Provider:         LLMProviderMock,
		Model:            "gpt-4o-mini",
		Timeout:          20 * time.Second,
		MaxResponseChars: 1200,
	}
}
