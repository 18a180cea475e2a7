package llm

import (
	"context"
	"sync"
)

// MockClient is a configurable LLM client for testing.
// Set the response fields to control what each method returns.
type MockClient struct {
	mu sync.Mutex

	ExtractResponse   string
	ExtractError      error
	SummarizeResponse string
	SummarizeError    error

	// Call tracking for assertions
	ExtractCalls   []string
	SummarizeCalls []string
}

func NewMockClient() *MockClient {
	return &MockClient{
		ExtractResponse:   `{"entities":[],"relations":[]}`,
		SummarizeResponse: "Mock summary",
	}
}

func (c *MockClient) ExtractKnowledge(_ context.Context, prompt string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ExtractCalls = append(c.ExtractCalls, prompt)
	if c.ExtractError != nil {
		return "", c.ExtractError
	}
	return c.ExtractResponse, nil
}

func (c *MockClient) Summarize(_ context.Context, text string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.SummarizeCalls = append(c.SummarizeCalls, text)
	if c.SummarizeError != nil {
		return "", c.SummarizeError
	}
	return c.SummarizeResponse, nil
}
