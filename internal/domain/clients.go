package domain

import "context"

// EmbeddingClient turns text into a vector. Implementations are
// best-effort collaborators: any failure degrades the caller to
// keyword-only behavior.
type EmbeddingClient interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// LLMClient provides the two language-model calls this module depends
// on but does not implement. ExtractKnowledge returns a raw JSON string
// matching the ExtractedKnowledge contract; malformed output is dropped
// by the caller, never surfaced.
type LLMClient interface {
	ExtractKnowledge(ctx context.Context, prompt string) (string, error)
	Summarize(ctx context.Context, text string) (string, error)
}
