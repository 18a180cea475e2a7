package store

import (
	"context"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mnemo-ai/mnemo/internal/domain"
	"go.uber.org/zap"
)

// Hybrid scoring parameters.
const (
	vectorWeight         = 0.7
	keywordWeight        = 0.3  // BM25 weight when embeddings are live
	keywordOnlyWeight    = 1.0  // BM25 weight when degraded to keyword search
	minScore             = 0.05 // results at or below this are dropped
	recencyWindow        = 30 * 24 * time.Hour
	maxRecencyBoost      = 0.1
	summaryMultiplier    = 1.15
	stageMultiplierSpan  = 0.35 // observation=1.0 .. trait=1.35
	importanceBase       = 0.8
	importanceSpan       = 0.4

	bm25K1        = 1.5
	bm25B         = 0.75
	bm25AvgDocLen = 200.0
)

// embeddingProbeText is the canary input used to decide at startup
// whether the embedding model is usable at all.
const embeddingProbeText = "memory store embedding probe"

// VectorStore holds conversation chunks and serves hybrid
// semantic/keyword search. Embeddings are best-effort: if the model is
// unavailable or a call fails, search degrades to BM25 alone and never
// errors.
type VectorStore struct {
	mu       sync.RWMutex
	chunks   []*domain.MemoryChunk
	path     string
	flusher  *Flusher
	embedder domain.EmbeddingClient
	probed   bool
	live     bool
	logger   *zap.Logger
}

// NewVectorStore creates a chunk store persisting to path. embedder
// may be nil for keyword-only operation.
func NewVectorStore(path string, flushDelay time.Duration, embedder domain.EmbeddingClient, logger *zap.Logger) *VectorStore {
	s := &VectorStore{
		path:     path,
		embedder: embedder,
		logger:   logger,
	}
	s.flusher = NewFlusher(flushDelay, s.save, logger)
	return s
}

// Load reads the persisted chunk snapshot, if any.
func (s *VectorStore) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var chunks []*domain.MemoryChunk
	found, err := readSnapshot(s.path, &chunks)
	if err != nil {
		return err
	}
	if found {
		s.chunks = chunks
	}
	return nil
}

// Probe makes one canary embedding call to decide availability.
// Failure is not an error; it just pins the store to keyword search.
func (s *VectorStore) Probe(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.probed = true
	s.live = false

	if s.embedder == nil {
		s.logger.Info("no embedding client configured, using keyword search")
		return
	}
	vec, err := s.embedder.Embed(ctx, embeddingProbeText)
	if err != nil || len(vec) == 0 {
		s.logger.Warn("embedding probe failed, degrading to keyword search", zap.Error(err))
		return
	}
	s.live = true
	s.logger.Info("embedding model available", zap.Int("dimensions", len(vec)))
}

// EmbeddingsLive reports whether the startup probe succeeded.
func (s *VectorStore) EmbeddingsLive() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.live
}

func (s *VectorStore) save() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return writeSnapshot(s.path, s.chunks)
}

// Flush writes the snapshot synchronously.
func (s *VectorStore) Flush() error { return s.flusher.FlushNow() }

// Close flushes and stops the debounce timer.
func (s *VectorStore) Close() error { return s.flusher.Close() }

// Add embeds and stores a chunk. Embedding failure is swallowed: the
// chunk is kept without a vector and found by keyword search.
func (s *VectorStore) Add(ctx context.Context, chunk *domain.MemoryChunk) {
	if chunk.Timestamp.IsZero() {
		chunk.Timestamp = time.Now()
	}
	if chunk.Stage == "" {
		chunk.Stage = domain.StageObservation
	}

	if s.embedder != nil && s.EmbeddingsLive() && len(chunk.Embedding) == 0 {
		vec, err := s.embedder.Embed(ctx, chunk.Text)
		if err != nil {
			s.logger.Debug("chunk embedding failed, storing without vector", zap.Error(err))
		} else {
			chunk.Embedding = vec
		}
	}

	s.mu.Lock()
	s.chunks = append(s.chunks, chunk)
	s.mu.Unlock()
	s.flusher.MarkDirty()
}

// Search runs hybrid cosine+BM25 scoring with recency, type, stage and
// importance adjustments. excludeSessionID filters out chunks from that
// session. Every successful search records access on the returned
// chunks. Search never errors; embedding failures degrade this call to
// keyword-only scoring.
func (s *VectorStore) Search(ctx context.Context, query string, limit int, excludeSessionID string) []domain.ChunkResult {
	if limit <= 0 {
		limit = 5
	}

	var queryVec []float32
	if s.embedder != nil && s.EmbeddingsLive() {
		vec, err := s.embedder.Embed(ctx, query)
		if err != nil {
			s.logger.Debug("query embedding failed, keyword-only for this call", zap.Error(err))
		} else {
			queryVec = vec
		}
	}

	terms := queryTerms(query)

	s.mu.Lock()
	defer s.mu.Unlock()

	df := s.documentFrequenciesLocked(terms)
	total := len(s.chunks)
	now := time.Now()

	scored := make([]struct {
		idx   int
		score float64
	}, 0, total)

	for i, chunk := range s.chunks {
		if excludeSessionID != "" && chunk.SessionID == excludeSessionID {
			continue
		}

		kw := keywordOnlyWeight
		var semantic float64
		if len(queryVec) > 0 && len(chunk.Embedding) > 0 {
			semantic = cosineSimilarity(queryVec, chunk.Embedding) * vectorWeight
			kw = keywordWeight
		}
		score := semantic + bm25Score(terms, chunk.Text, df, total)*kw

		// Recency sharpens relevance, it never substitutes for it.
		if score > 0 {
			score += recencyBoost(now.Sub(chunk.Timestamp))
		}
		if chunk.Type == domain.ChunkSummary {
			score *= summaryMultiplier
		}
		score *= stageMultiplier(chunk.Stage)
		score *= importanceBase + chunk.Importance*importanceSpan

		if score <= minScore {
			continue
		}
		scored = append(scored, struct {
			idx   int
			score float64
		}{i, score})
	}

	sort.Slice(scored, func(i, j int) bool { return scored[i].score > scored[j].score })
	if len(scored) > limit {
		scored = scored[:limit]
	}

	results := make([]domain.ChunkResult, 0, len(scored))
	for _, sc := range scored {
		chunk := s.chunks[sc.idx]
		chunk.AccessCount++
		chunk.LastAccessed = now
		chunk.LastAccessContext = query
		results = append(results, domain.ChunkResult{Chunk: *chunk, Score: sc.score})
	}
	if len(results) > 0 {
		s.flusher.MarkDirty()
	}
	return results
}

// Unconsolidated returns copies of chunks not yet seen by the
// consolidator.
func (s *VectorStore) Unconsolidated() []domain.MemoryChunk {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.MemoryChunk
	for _, c := range s.chunks {
		if !c.Consolidated {
			out = append(out, *c)
		}
	}
	return out
}

// MarkConsolidated flags the given chunk ids as processed.
func (s *VectorStore) MarkConsolidated(ids []string) {
	if len(ids) == 0 {
		return
	}
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}

	s.mu.Lock()
	for _, c := range s.chunks {
		if set[c.ID] {
			c.Consolidated = true
		}
	}
	s.mu.Unlock()
	s.flusher.MarkDirty()
}

// Count returns the number of stored chunks.
func (s *VectorStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.chunks)
}

// Clear drops all chunks.
func (s *VectorStore) Clear() {
	s.mu.Lock()
	s.chunks = nil
	s.mu.Unlock()
	s.flusher.MarkDirty()
}

func (s *VectorStore) documentFrequenciesLocked(terms []string) map[string]int {
	df := make(map[string]int, len(terms))
	for _, chunk := range s.chunks {
		text := strings.ToLower(chunk.Text)
		for _, term := range terms {
			if strings.Contains(text, term) {
				df[term]++
			}
		}
	}
	return df
}

// bm25Score computes a normalized BM25 score for the query terms
// against one document, using a fixed expected document length.
func bm25Score(terms []string, text string, df map[string]int, totalDocs int) float64 {
	if len(terms) == 0 {
		return 0
	}
	lower := strings.ToLower(text)
	words := strings.Fields(lower)
	docLen := float64(len(words))

	var score float64
	for _, term := range terms {
		tf := float64(strings.Count(lower, term))
		if tf == 0 {
			continue
		}
		n := float64(df[term])
		idf := math.Log(1 + (float64(totalDocs)-n+0.5)/(n+0.5))
		denom := tf + bm25K1*(1-bm25B+bm25B*docLen/bm25AvgDocLen)
		score += idf * tf * (bm25K1 + 1) / denom
	}

	// Normalize into roughly [0,1] by the best possible per-term score.
	maxIDF := math.Log(1 + (float64(totalDocs)+0.5)/0.5)
	if maxIDF <= 0 {
		maxIDF = 1
	}
	return score / (float64(len(terms)) * maxIDF * (bm25K1 + 1))
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

func recencyBoost(age time.Duration) float64 {
	if age < 0 {
		age = 0
	}
	if age >= recencyWindow {
		return 0
	}
	return maxRecencyBoost * (1 - float64(age)/float64(recencyWindow))
}

// stageMultiplier rescales stage weights (0.3..1.0) into the search
// multiplier range (1.0..1.35).
func stageMultiplier(stage domain.MemoryStage) float64 {
	w := stage.Weight()
	return 1.0 + (w-0.3)/0.7*stageMultiplierSpan
}
