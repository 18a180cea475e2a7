package llm

import (
	"fmt"

	"github.com/mnemo-ai/mnemo/internal/domain"
)

// Provider constants
const (
	ProviderOpenAI = "openai"
	ProviderMock   = "mock"
	ProviderNone   = "none"
)

// NewClient creates an LLM client based on the provider name. "none"
// returns nil, which disables extraction and summarization. Returns an
// error if the provider is unknown or the API key is empty (except for
// mock).
func NewClient(provider, apiKey string) (domain.LLMClient, error) {
	switch provider {
	case ProviderOpenAI:
		if apiKey == "" {
			return nil, fmt.Errorf("OPENAI_API_KEY is required for OpenAI provider")
		}
		return NewOpenAIClient(apiKey), nil

	case ProviderMock:
		return NewMockClient(), nil

	case ProviderNone, "":
		return nil, nil

	default:
		return nil, fmt.Errorf("unknown LLM provider: %s (valid options: openai, mock, none)", provider)
	}
}
