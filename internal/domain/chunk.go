package domain

import "time"

// ChunkType distinguishes raw conversation exchanges from session
// summaries in the vector store.
type ChunkType string

const (
	ChunkExchange ChunkType = "exchange"
	ChunkSummary  ChunkType = "summary"
)

// MemoryChunk is one retrievable unit of conversational memory. The
// embedding is best-effort: chunks stored while the embedding model is
// unavailable participate in keyword-only search.
type MemoryChunk struct {
	ID                string      `json:"id"`
	Text              string      `json:"text"`
	Embedding         []float32   `json:"embedding,omitempty"`
	Timestamp         time.Time   `json:"timestamp"`
	SessionID         string      `json:"session_id,omitempty"`
	Type              ChunkType   `json:"type"`
	Stage             MemoryStage `json:"stage"`
	Importance        float64     `json:"importance"`
	AccessCount       int         `json:"access_count"`
	LastAccessed      time.Time   `json:"last_accessed,omitempty"`
	LastAccessContext string      `json:"last_access_context,omitempty"`
	Consolidated      bool        `json:"consolidated"`
}

// ChunkResult is a chunk with its hybrid retrieval score.
type ChunkResult struct {
	Chunk MemoryChunk `json:"chunk"`
	Score float64     `json:"score"`
}
