package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/mnemo-ai/mnemo/internal/domain"
	"github.com/mnemo-ai/mnemo/internal/embedding"
	"go.uber.org/zap"
)

func newTestVectorStore(t *testing.T, embedder domain.EmbeddingClient) *VectorStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "chunks.json")
	s := NewVectorStore(path, 10*time.Millisecond, embedder, zap.NewNop())
	if err := s.Load(); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	return s
}

func addChunk(t *testing.T, s *VectorStore, id, text string, chunkType domain.ChunkType, age time.Duration) {
	t.Helper()
	s.Add(context.Background(), &domain.MemoryChunk{
		ID:        id,
		Text:      text,
		Timestamp: time.Now().Add(-age),
		SessionID: "session-1",
		Type:      chunkType,
		Stage:     domain.StageObservation,
	})
}

func TestVectorStore_KeywordOnlySearch(t *testing.T) {
	s := newTestVectorStore(t, nil) // no embedder at all
	s.Probe(context.Background())

	if s.EmbeddingsLive() {
		t.Fatal("embeddings should not be live without an embedder")
	}

	addChunk(t, s, "c1", "we deployed the billing service to production", domain.ChunkExchange, time.Hour)
	addChunk(t, s, "c2", "lunch plans for tuesday", domain.ChunkExchange, time.Hour)

	results := s.Search(context.Background(), "billing service deployment", 5, "")
	if len(results) == 0 {
		t.Fatal("keyword-only search returned nothing")
	}
	if results[0].Chunk.ID != "c1" {
		t.Errorf("top result = %s, want c1", results[0].Chunk.ID)
	}
	for _, r := range results {
		if r.Chunk.ID == "c2" {
			t.Error("unrelated chunk should score below the floor")
		}
	}
}

func TestVectorStore_ProbeFailureDegrades(t *testing.T) {
	mock := embedding.NewMockClient()
	mock.Err = errors.New("backend down")
	s := newTestVectorStore(t, mock)

	s.Probe(context.Background())
	if s.EmbeddingsLive() {
		t.Error("failed probe must leave search in keyword-only mode")
	}
}

func TestVectorStore_HybridSearch(t *testing.T) {
	s := newTestVectorStore(t, embedding.NewMockClient())
	s.Probe(context.Background())

	if !s.EmbeddingsLive() {
		t.Fatal("probe should succeed with mock embedder")
	}

	addChunk(t, s, "c1", "discussed retry logic for the payment gateway", domain.ChunkExchange, time.Hour)
	results := s.Search(context.Background(), "payment gateway retries", 5, "")
	if len(results) == 0 {
		t.Fatal("hybrid search returned nothing")
	}
	if results[0].Chunk.Embedding == nil {
		t.Error("chunk should carry an embedding when embeddings are live")
	}
}

func TestVectorStore_SummaryOutranksExchange(t *testing.T) {
	s := newTestVectorStore(t, nil)

	addChunk(t, s, "plain", "the release checklist covers migrations", domain.ChunkExchange, time.Hour)
	addChunk(t, s, "summ", "the release checklist covers migrations", domain.ChunkSummary, time.Hour)

	results := s.Search(context.Background(), "release checklist migrations", 5, "")
	if len(results) < 2 {
		t.Fatalf("results = %d, want 2", len(results))
	}
	if results[0].Chunk.ID != "summ" {
		t.Errorf("summary chunk should outrank identical exchange chunk, got %s first", results[0].Chunk.ID)
	}
}

func TestVectorStore_RecencyBoost(t *testing.T) {
	s := newTestVectorStore(t, nil)

	addChunk(t, s, "old", "talked about database index tuning", domain.ChunkExchange, 60*24*time.Hour)
	addChunk(t, s, "new", "talked about database index tuning", domain.ChunkExchange, time.Hour)

	results := s.Search(context.Background(), "database index tuning", 5, "")
	if len(results) < 2 {
		t.Fatalf("results = %d, want 2", len(results))
	}
	if results[0].Chunk.ID != "new" {
		t.Errorf("recent chunk should outrank stale twin, got %s first", results[0].Chunk.ID)
	}
}

func TestVectorStore_ExcludeSession(t *testing.T) {
	s := newTestVectorStore(t, nil)
	addChunk(t, s, "c1", "configured zap logging levels", domain.ChunkExchange, time.Hour)

	results := s.Search(context.Background(), "zap logging levels", 5, "session-1")
	if len(results) != 0 {
		t.Errorf("results = %d, want 0 when session excluded", len(results))
	}
}

func TestVectorStore_SearchRecordsAccess(t *testing.T) {
	s := newTestVectorStore(t, nil)
	addChunk(t, s, "c1", "benchmarked the bm25 scorer", domain.ChunkExchange, time.Hour)

	s.Search(context.Background(), "bm25 scorer benchmark", 5, "")

	chunks := s.Unconsolidated()
	if len(chunks) != 1 {
		t.Fatalf("chunks = %d, want 1", len(chunks))
	}
	if chunks[0].AccessCount != 1 {
		t.Errorf("access count = %d, want 1", chunks[0].AccessCount)
	}
	if chunks[0].LastAccessContext != "bm25 scorer benchmark" {
		t.Errorf("last access context = %q, want query", chunks[0].LastAccessContext)
	}
}

func TestVectorStore_MarkConsolidated(t *testing.T) {
	s := newTestVectorStore(t, nil)
	addChunk(t, s, "c1", "one", domain.ChunkExchange, 0)
	addChunk(t, s, "c2", "two", domain.ChunkExchange, 0)

	s.MarkConsolidated([]string{"c1"})

	remaining := s.Unconsolidated()
	if len(remaining) != 1 || remaining[0].ID != "c2" {
		t.Errorf("unconsolidated = %+v, want only c2", remaining)
	}
}

func TestVectorStore_PersistenceRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "chunks.json")
	logger := zap.NewNop()

	s := NewVectorStore(path, 10*time.Millisecond, nil, logger)
	if err := s.Load(); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	addChunk(t, s, "c1", "persists across restarts", domain.ChunkExchange, 0)
	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	reloaded := NewVectorStore(path, 10*time.Millisecond, nil, logger)
	if err := reloaded.Load(); err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if reloaded.Count() != 1 {
		t.Errorf("count after reload = %d, want 1", reloaded.Count())
	}
}
