package service

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mnemo-ai/mnemo/internal/domain"
	"github.com/mnemo-ai/mnemo/internal/store"
	"go.uber.org/zap"
)

const (
	// RecentWindowSize is how many exchanges stay verbatim in working
	// memory before being summarized out.
	RecentWindowSize = 6

	// ConsolidationExchangeInterval is how often (in exchanges) the
	// manager considers an opportunistic consolidation pass.
	ConsolidationExchangeInterval = 10

	// DefaultTokenBudget bounds assembled context when the caller
	// passes no budget.
	DefaultTokenBudget = 4000

	graphBudgetFraction = 0.4
	graphBudgetCapTok   = 600
	graphCandidateCount = 8
	graphSelectCount    = 5

	charsPerToken      = 4
	maxQueryExpansions = 5
	minExpandQueryLen  = 5 // words

	summarizeTimeout = 30 * time.Second
)

// Exchange is one user/assistant turn pair in the recent window.
type Exchange struct {
	UserText      string    `json:"user_text"`
	AssistantText string    `json:"assistant_text"`
	Timestamp     time.Time `json:"timestamp"`
}

// RetrievalStats reports what one context assembly actually used.
type RetrievalStats struct {
	GraphCandidates int                    `json:"graph_candidates"`
	GraphSelected   int                    `json:"graph_selected"`
	ChunksSelected  int                    `json:"chunks_selected"`
	SkillsSelected  int                    `json:"skills_selected"`
	TokensUsed      int                    `json:"tokens_used"`
	TokenBudget     int                    `json:"token_budget"`
	Situation       *domain.SituationModel `json:"situation,omitempty"`
}

// ContextBundle is the assembled context for one incoming query.
type ContextBundle struct {
	RecentHistory    []Exchange      `json:"recent_history"`
	RelevantMemories []string        `json:"relevant_memories"`
	GraphContext     []string        `json:"graph_context"`
	SkillContext     []string        `json:"skill_context"`
	Stats            RetrievalStats  `json:"stats"`
}

// KnowledgeHit is one result of a combined knowledge search.
type KnowledgeHit struct {
	Kind   string              `json:"kind"` // "entity" or "chunk"
	Text   string              `json:"text"`
	Score  float64             `json:"score"`
	Entity *domain.Entity      `json:"entity,omitempty"`
	Chunk  *domain.MemoryChunk `json:"chunk,omitempty"`
}

// Manager is the front door of the memory subsystem. It owns the
// conversational working window and coordinates the graph, vector and
// skill stores with the classifier, extractor and consolidator.
type Manager struct {
	graph      *store.GraphStore
	vectors    *store.VectorStore
	skills     *store.SkillStore
	classifier *SituationClassifier
	extractor  *Extractor
	consol     *Consolidator
	llm        domain.LLMClient
	logger     *zap.Logger

	mu            sync.Mutex
	window        []Exchange
	pendingUser   string
	exchangeCount int
	sessionID     string

	tokenBudget int
}

// NewManager wires the full pipeline. llm may be nil; summarization of
// evicted exchanges is then skipped.
func NewManager(
	graph *store.GraphStore,
	vectors *store.VectorStore,
	skills *store.SkillStore,
	classifier *SituationClassifier,
	extractor *Extractor,
	consol *Consolidator,
	llm domain.LLMClient,
	tokenBudget int,
	logger *zap.Logger,
) *Manager {
	if tokenBudget <= 0 {
		tokenBudget = DefaultTokenBudget
	}
	return &Manager{
		graph:       graph,
		vectors:     vectors,
		skills:      skills,
		classifier:  classifier,
		extractor:   extractor,
		consol:      consol,
		llm:         llm,
		logger:      logger,
		sessionID:   uuid.NewString(),
		tokenBudget: tokenBudget,
	}
}

// Init loads all three stores from disk and probes the embedding
// backend so degraded keyword-only search is decided up front.
func (m *Manager) Init(ctx context.Context) error {
	if err := m.graph.Load(); err != nil {
		return fmt.Errorf("load graph: %w", err)
	}
	if err := m.vectors.Load(); err != nil {
		return fmt.Errorf("load chunks: %w", err)
	}
	if err := m.skills.Load(); err != nil {
		return fmt.Errorf("load skills: %w", err)
	}
	m.vectors.Probe(ctx)
	m.logger.Info("memory initialized",
		zap.Int("chunks", m.vectors.Count()),
		zap.Int("skills", m.skills.Count()),
		zap.Bool("embeddings_live", m.vectors.EmbeddingsLive()),
		zap.String("session_id", m.sessionID))
	return nil
}

// SessionID returns the identifier of the current conversation.
func (m *Manager) SessionID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessionID
}

// AddMessage records one message. A user message opens an exchange; an
// assistant message closes it, which stores the exchange in long-term
// memory, fires background extraction and may trigger consolidation.
func (m *Manager) AddMessage(ctx context.Context, role, text string) {
	if strings.TrimSpace(text) == "" {
		return
	}
	if role != "assistant" {
		m.mu.Lock()
		m.pendingUser = text
		m.mu.Unlock()
		return
	}

	m.mu.Lock()
	ex := Exchange{UserText: m.pendingUser, AssistantText: text, Timestamp: time.Now()}
	m.pendingUser = ""
	m.window = append(m.window, ex)
	var evicted []Exchange
	if len(m.window) > RecentWindowSize {
		n := len(m.window) - RecentWindowSize
		evicted = append(evicted, m.window[:n]...)
		m.window = append(m.window[:0], m.window[n:]...)
	}
	m.exchangeCount++
	count := m.exchangeCount
	session := m.sessionID
	m.mu.Unlock()

	m.storeExchange(ctx, ex, session)
	if m.extractor != nil {
		m.extractor.Enqueue(ex.UserText, ex.AssistantText, session)
	}
	for _, old := range evicted {
		go m.summarizeExchange(old, session)
	}

	if count%ConsolidationExchangeInterval == 0 && m.graph.Mutations() >= DefaultMutationThreshold {
		result := m.consol.Run(ctx)
		m.logger.Info("opportunistic consolidation",
			zap.Int("exchange", count),
			zap.Int("promoted", result.Promoted),
			zap.Int("pruned", result.Pruned))
	}
}

// storeExchange chunks the exchange text and writes each chunk to the
// vector store.
func (m *Manager) storeExchange(ctx context.Context, ex Exchange, session string) {
	text := exchangeText(ex)
	importance := estimateImportance(text)
	for _, piece := range splitIntoChunks(text, DefaultChunkSize, DefaultChunkOverlap) {
		m.vectors.Add(ctx, &domain.MemoryChunk{
			ID:         uuid.NewString(),
			Text:       piece,
			Timestamp:  ex.Timestamp,
			SessionID:  session,
			Type:       domain.ChunkExchange,
			Stage:      domain.StageObservation,
			Importance: importance,
		})
	}
}

// summarizeExchange condenses an exchange that left the working window
// into a summary chunk. Best effort only.
func (m *Manager) summarizeExchange(ex Exchange, session string) {
	if m.llm == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), summarizeTimeout)
	defer cancel()

	summary, err := m.llm.Summarize(ctx, exchangeText(ex))
	if err != nil || strings.TrimSpace(summary) == "" {
		if err != nil {
			m.logger.Debug("exchange summarization failed", zap.Error(err))
		}
		return
	}
	m.vectors.Add(ctx, &domain.MemoryChunk{
		ID:         uuid.NewString(),
		Text:       summary,
		Timestamp:  ex.Timestamp,
		SessionID:  session,
		Type:       domain.ChunkSummary,
		Stage:      domain.StageEpisode,
		Importance: 0.7,
	})
}

// BuildContext assembles everything relevant to the query inside the
// token budget. The recent window is always included; the remainder is
// split between graph knowledge (a capped fraction), conversational
// recall and skills, stopping before the budget is exceeded.
func (m *Manager) BuildContext(ctx context.Context, query string, budget int) *ContextBundle {
	if budget <= 0 {
		budget = m.tokenBudget
	}

	m.mu.Lock()
	recent := make([]Exchange, len(m.window))
	copy(recent, m.window)
	session := m.sessionID
	m.mu.Unlock()

	bundle := &ContextBundle{RecentHistory: recent}
	bundle.Stats.TokenBudget = budget

	used := 0
	for _, ex := range recent {
		used += estimateTokens(exchangeText(ex))
	}
	remaining := budget - used
	if remaining <= 0 {
		bundle.Stats.TokensUsed = used
		return bundle
	}

	situation := m.classifier.Classify(query, recentLines(recent), m.activeEntityTypes(query))
	bundle.Stats.Situation = &situation

	// Graph knowledge gets a capped share of what is left.
	graphBudget := int(float64(remaining) * graphBudgetFraction)
	if graphBudget > graphBudgetCapTok {
		graphBudget = graphBudgetCapTok
	}
	graphLines, graphUsed, candidates, selected := m.graphContext(query, situation, graphBudget)
	bundle.GraphContext = graphLines
	bundle.Stats.GraphCandidates = candidates
	bundle.Stats.GraphSelected = selected
	used += graphUsed
	remaining = budget - used

	// Conversational recall fills most of the remainder.
	for _, res := range m.vectorRecall(ctx, query, recent, session) {
		cost := estimateTokens(res.Chunk.Text)
		if used+cost > budget {
			break
		}
		bundle.RelevantMemories = append(bundle.RelevantMemories, res.Chunk.Text)
		used += cost
	}
	bundle.Stats.ChunksSelected = len(bundle.RelevantMemories)

	// Skills last; they are cheap and least essential.
	for _, sr := range m.skills.Match(query, 3) {
		line := fmt.Sprintf("- %s: %s (success %.0f%%)", sr.Skill.Name, sr.Skill.Intent, sr.Skill.SuccessRate*100)
		cost := estimateTokens(line)
		if used+cost > budget {
			break
		}
		bundle.SkillContext = append(bundle.SkillContext, line)
		used += cost
	}
	bundle.Stats.SkillsSelected = len(bundle.SkillContext)
	bundle.Stats.TokensUsed = used
	return bundle
}

// graphContext retrieves a wide candidate set, re-ranks it by the
// situational boosts, and formats the survivors into context lines
// within the graph's token budget.
func (m *Manager) graphContext(query string, situation domain.SituationModel, budget int) (lines []string, used, candidates, selected int) {
	results := m.graph.Search(query, graphCandidateCount)
	candidates = len(results)
	if candidates == 0 || budget <= 0 {
		return nil, 0, candidates, 0
	}

	for i := range results {
		domainBoost := m.classifier.DomainBoost(results[i].Entity.Type, situation)
		obsBoost := m.classifier.ObservationDomainBoost(observationText(&results[i].Entity), situation)
		results[i].Score *= domainBoost * obsBoost
	}
	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > graphSelectCount {
		results = results[:graphSelectCount]
	}

	for _, res := range results {
		line := formatEntityLine(res)
		cost := estimateTokens(line)
		if used+cost > budget {
			break
		}
		lines = append(lines, line)
		used += cost
		selected++
		m.graph.RecordAccess(res.Entity.Name, query)
	}
	return lines, used, candidates, selected
}

// vectorRecall searches conversational memory with the query plus its
// expansions, merges results by best score, and drops anything already
// visible in the recent window.
func (m *Manager) vectorRecall(ctx context.Context, query string, recent []Exchange, session string) []domain.ChunkResult {
	queries := append([]string{query}, expandQuery(query)...)

	best := make(map[string]domain.ChunkResult)
	for _, q := range queries {
		for _, res := range m.vectors.Search(ctx, q, graphCandidateCount, "") {
			if prev, ok := best[res.Chunk.ID]; !ok || res.Score > prev.Score {
				best[res.Chunk.ID] = res
			}
		}
	}

	window := strings.ToLower(strings.Join(recentLines(recent), "\n"))
	merged := make([]domain.ChunkResult, 0, len(best))
	for _, res := range best {
		if window != "" && strings.Contains(window, strings.ToLower(res.Chunk.Text)) {
			continue
		}
		merged = append(merged, res)
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].Score > merged[j].Score })
	return merged
}

// expandQuery derives extra search terms from long queries: PascalCase
// identifiers and quoted phrases, capped at a handful.
func expandQuery(query string) []string {
	if len(strings.Fields(query)) <= minExpandQueryLen {
		return nil
	}
	var extras []string
	seen := map[string]bool{strings.ToLower(query): true}
	add := func(term string) {
		term = strings.TrimSpace(term)
		key := strings.ToLower(term)
		if term == "" || seen[key] || len(extras) >= maxQueryExpansions {
			return
		}
		seen[key] = true
		extras = append(extras, term)
	}

	for _, match := range pascalCasePattern.FindAllString(query, -1) {
		add(match)
	}
	for _, match := range quotedPhrasePattern.FindAllStringSubmatch(query, -1) {
		add(match[1])
	}
	return extras
}

var (
	pascalCasePattern   = regexp.MustCompile(`\b[A-Z][a-z]+(?:[A-Z][a-z]+)+\b`)
	quotedPhrasePattern = regexp.MustCompile(`"([^"]+)"`)
)

// SaveKnowledge stores explicit knowledge handed to the subsystem,
// recognizing a few structural patterns before falling back to a
// categorized note entity.
func (m *Manager) SaveKnowledge(text, category, source string) {
	if source == "" {
		source = "explicit"
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}

	if match := preferencePattern.FindStringSubmatch(text); match != nil {
		subject, preferred, rejected := match[1], match[2], match[3]
		m.graph.AddEntity(preferred, domain.EntityPreference,
			[]string{fmt.Sprintf("%s prefers %s over %s", subject, preferred, rejected)}, source)
		m.graph.AddEntity(rejected, domain.EntityTechnology, nil, source)
		m.graph.AddRelation(preferred, rejected, "preferred_over", source, text)
		return
	}
	if match := usesPattern.FindStringSubmatch(text); match != nil {
		project, tech := match[1], match[2]
		m.graph.AddEntity(project, domain.EntityProject, []string{text}, source)
		m.graph.AddEntity(tech, domain.EntityTechnology, nil, source)
		m.graph.AddRelation(project, tech, "uses", source, text)
		return
	}
	if match := isAPattern.FindStringSubmatch(text); match != nil {
		name, description := match[1], match[2]
		m.graph.AddEntity(name, domain.NormalizeEntityType(description), []string{text}, source)
		return
	}

	name := category
	if name == "" {
		name = "note"
	}
	m.graph.AddEntity(name, domain.EntityConcept, []string{text}, source)
}

var (
	preferencePattern = regexp.MustCompile(`(?i)^(.+?)\s+prefers?\s+(.+?)\s+over\s+(.+?)[.!]?$`)
	usesPattern       = regexp.MustCompile(`(?i)^(?:the\s+)?(.+?)\s+(?:project\s+)?uses?\s+(.+?)[.!]?$`)
	isAPattern        = regexp.MustCompile(`(?i)^(.+?)\s+is\s+(?:an?\s+)?(.+?)[.!]?$`)
)

// SearchKnowledge runs graph and vector retrieval concurrently and
// merges them, graph hits first, vector hits deduplicated against the
// graph's observation contents.
func (m *Manager) SearchKnowledge(ctx context.Context, query string, limit int) []KnowledgeHit {
	if limit <= 0 {
		limit = 10
	}

	var (
		graphResults []domain.GraphSearchResult
		chunkResults []domain.ChunkResult
		wg           sync.WaitGroup
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		graphResults = m.graph.Search(query, limit)
	}()
	go func() {
		defer wg.Done()
		chunkResults = m.vectors.Search(ctx, query, limit, "")
	}()
	wg.Wait()

	hits := make([]KnowledgeHit, 0, limit)
	known := make(map[string]bool)
	for _, res := range graphResults {
		if len(hits) >= limit {
			break
		}
		entity := res.Entity
		hits = append(hits, KnowledgeHit{
			Kind:   "entity",
			Text:   formatEntityLine(res),
			Score:  res.Score,
			Entity: &entity,
		})
		for i := range entity.Observations {
			known[strings.ToLower(entity.Observations[i].Content)] = true
		}
	}
	for _, res := range chunkResults {
		if len(hits) >= limit {
			break
		}
		if known[strings.ToLower(res.Chunk.Text)] {
			continue
		}
		chunk := res.Chunk
		hits = append(hits, KnowledgeHit{Kind: "chunk", Text: chunk.Text, Score: res.Score, Chunk: &chunk})
	}
	return hits
}

// SearchHistory queries conversational memory only, optionally hiding
// the current session.
func (m *Manager) SearchHistory(ctx context.Context, query string, limit int, excludeCurrentSession bool) []domain.ChunkResult {
	exclude := ""
	if excludeCurrentSession {
		exclude = m.SessionID()
	}
	return m.vectors.Search(ctx, query, limit, exclude)
}

// RecordSelfObservation appends an observation about the agent itself.
func (m *Manager) RecordSelfObservation(content, source string) {
	m.graph.RecordSelfObservation(content, source)
}

// Consolidate triggers a consolidation pass immediately.
func (m *Manager) Consolidate(ctx context.Context) *ConsolidationResult {
	return m.consol.Run(ctx)
}

// Flush forces every dirty store to disk now.
func (m *Manager) Flush() error {
	if err := m.graph.Flush(); err != nil {
		return fmt.Errorf("flush graph: %w", err)
	}
	if err := m.vectors.Flush(); err != nil {
		return fmt.Errorf("flush chunks: %w", err)
	}
	if err := m.skills.Flush(); err != nil {
		return fmt.Errorf("flush skills: %w", err)
	}
	return nil
}

// Clear wipes all persistent memory and resets the working window.
func (m *Manager) Clear() error {
	m.mu.Lock()
	m.window = nil
	m.pendingUser = ""
	m.exchangeCount = 0
	m.mu.Unlock()

	m.graph.Clear()
	m.vectors.Clear()
	m.skills.Clear()
	return m.Flush()
}

// Close stops background work and performs a final synchronous flush.
func (m *Manager) Close() error {
	if m.extractor != nil {
		m.extractor.Stop()
	}
	if err := m.graph.Close(); err != nil {
		return fmt.Errorf("close graph: %w", err)
	}
	if err := m.vectors.Close(); err != nil {
		return fmt.Errorf("close chunks: %w", err)
	}
	if err := m.skills.Close(); err != nil {
		return fmt.Errorf("close skills: %w", err)
	}
	return nil
}

// activeEntityTypes samples the types of entities the query already
// touches, feeding the classifier's affinity signal.
func (m *Manager) activeEntityTypes(query string) []domain.EntityType {
	results := m.graph.Search(query, 3)
	types := make([]domain.EntityType, 0, len(results))
	for _, res := range results {
		types = append(types, res.Entity.Type)
	}
	return types
}

func formatEntityLine(res domain.GraphSearchResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "- %s (%s)", res.Entity.Name, res.Entity.Type)
	for i := range res.Entity.Observations {
		if i >= 3 {
			break
		}
		b.WriteString("; ")
		b.WriteString(res.Entity.Observations[i].Content)
	}
	for _, rel := range res.Neighbors {
		fmt.Fprintf(&b, " [%s %s %s]", rel.From, rel.Type, rel.To)
	}
	return b.String()
}

func exchangeText(ex Exchange) string {
	if ex.UserText == "" {
		return ex.AssistantText
	}
	return "User: " + ex.UserText + "\nAssistant: " + ex.AssistantText
}

func recentLines(recent []Exchange) []string {
	lines := make([]string, 0, len(recent))
	for _, ex := range recent {
		lines = append(lines, exchangeText(ex))
	}
	return lines
}

func observationText(e *domain.Entity) string {
	var b strings.Builder
	for i := range e.Observations {
		if i > 0 {
			b.WriteString(" ")
		}
		b.WriteString(e.Observations[i].Content)
	}
	return b.String()
}

// estimateImportance grades how much an exchange is worth keeping.
func estimateImportance(text string) float64 {
	importance := 0.5
	lowered := strings.ToLower(text)
	for _, marker := range []string{"remember", "important", "always", "never", "prefer", "decided"} {
		if strings.Contains(lowered, marker) {
			importance += 0.2
			break
		}
	}
	if len(text) > 500 {
		importance += 0.1
	}
	if importance > 1.0 {
		importance = 1.0
	}
	return importance
}

func estimateTokens(text string) int {
	return (len(text) + charsPerToken - 1) / charsPerToken
}
