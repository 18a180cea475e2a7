package store

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mnemo-ai/mnemo/internal/domain"
	"go.uber.org/zap"
)

// SelfEntityName is the reserved entity holding the agent's
// self-identity. It is created on first access and survives Clear.
const SelfEntityName = "self"

// defaultNeighborLimit caps the edges attached to a search result.
const defaultNeighborLimit = 3

// GraphStore is the in-memory knowledge graph with debounced snapshot
// persistence. All public methods are safe for concurrent use; the
// store is the single writer for its file.
type GraphStore struct {
	mu      sync.RWMutex
	state   *domain.GraphState
	path    string
	flusher *Flusher
	logger  *zap.Logger
}

// NewGraphStore creates a graph store persisting to path. Call Load
// before first use.
func NewGraphStore(path string, flushDelay time.Duration, logger *zap.Logger) *GraphStore {
	s := &GraphStore{
		state:  domain.NewGraphState(),
		path:   path,
		logger: logger,
	}
	s.flusher = NewFlusher(flushDelay, s.save, logger)
	return s
}

// Load reads the persisted snapshot, if any, and guarantees the self
// entity exists.
func (s *GraphStore) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	state := domain.NewGraphState()
	found, err := readSnapshot(s.path, state)
	if err != nil {
		return err
	}
	if found {
		if state.Entities == nil {
			state.Entities = make(map[string]*domain.Entity)
		}
		sanitizeStages(state)
		s.state = state
	}
	s.ensureSelfLocked()
	return nil
}

// sanitizeStages resets unknown stage labels in a loaded snapshot to
// raw observations, so a hand-edited or forward-version file cannot
// smuggle values past the promotion ladder.
func sanitizeStages(state *domain.GraphState) {
	for _, e := range state.Entities {
		for i := range e.Observations {
			if !domain.ValidStage(string(e.Observations[i].Stage)) {
				e.Observations[i].Stage = domain.StageObservation
			}
		}
	}
	for _, rel := range state.Relations {
		if !domain.ValidStage(string(rel.Stage)) {
			rel.Stage = domain.StageObservation
		}
	}
}

func (s *GraphStore) save() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return writeSnapshot(s.path, s.state)
}

// MarkDirty schedules a debounced snapshot write.
func (s *GraphStore) MarkDirty() { s.flusher.MarkDirty() }

// Flush writes the snapshot synchronously.
func (s *GraphStore) Flush() error { return s.flusher.FlushNow() }

// Close flushes and stops the debounce timer.
func (s *GraphStore) Close() error { return s.flusher.Close() }

func (s *GraphStore) ensureSelfLocked() {
	if _, ok := s.state.Entities[SelfEntityName]; ok {
		return
	}
	now := time.Now()
	s.state.Entities[SelfEntityName] = &domain.Entity{
		Name:      SelfEntityName,
		Type:      domain.EntitySelf,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func (s *GraphStore) markMutationLocked() {
	s.state.Meta.MutationsSinceConsolidation++
}

// AddEntity creates an entity or appends observations to an existing
// one, matched by normalized name. Repeating a known fact confirms its
// evidence instead of duplicating the observation. Only this ingestion
// path creates stage=observation records; later stages belong to the
// consolidator.
func (s *GraphStore) AddEntity(name string, typ domain.EntityType, facts []string, source string) domain.Entity {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.addEntityLocked(name, typ, facts, source)
	s.markMutationLocked()
	s.flusher.MarkDirty()
	return copyEntity(e)
}

func (s *GraphStore) addEntityLocked(name string, typ domain.EntityType, facts []string, source string) *domain.Entity {
	key := domain.NormalizeName(name)
	if key == "" {
		key = SelfEntityName
	}
	now := time.Now()

	e, ok := s.state.Entities[key]
	if !ok {
		e = &domain.Entity{
			Name:      strings.TrimSpace(name),
			Type:      typ,
			CreatedAt: now,
		}
		if e.Name == "" {
			e.Name = key
		}
		s.state.Entities[key] = e
	}

	for _, fact := range facts {
		fact = strings.TrimSpace(fact)
		if fact == "" {
			continue
		}
		if obs := findObservation(e, fact); obs != nil {
			obs.Evidence.Confirm(source)
			continue
		}
		e.Observations = append(e.Observations, domain.Observation{
			Content:   fact,
			Stage:     domain.StageObservation,
			Evidence:  domain.NewEvidence(source),
			Source:    source,
			CreatedAt: now,
		})
	}
	e.UpdatedAt = now
	return e
}

func findObservation(e *domain.Entity, content string) *domain.Observation {
	folded := strings.ToLower(content)
	for i := range e.Observations {
		if strings.ToLower(e.Observations[i].Content) == folded {
			return &e.Observations[i]
		}
	}
	return nil
}

// AddRelation records a directed edge, normalizing the relation label
// onto the closed ontology. An existing (from, type, to) edge
// accumulates evidence instead of duplicating. Endpoints are not
// auto-created; that is the caller's job.
func (s *GraphStore) AddRelation(from, to, relType, source, context string) domain.Relation {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.addRelationLocked(from, to, relType, source, context)
	s.markMutationLocked()
	s.flusher.MarkDirty()
	return *r
}

func (s *GraphStore) addRelationLocked(from, to, relType, source, context string) *domain.Relation {
	fromKey := domain.NormalizeName(from)
	toKey := domain.NormalizeName(to)
	typ := domain.NormalizeRelationType(relType)

	for _, r := range s.state.Relations {
		if r.From == fromKey && r.To == toKey && r.Type == typ {
			r.Evidence.Confirm(source)
			r.Weight = r.Evidence.Confidence() * r.Stage.Weight()
			return r
		}
	}

	r := &domain.Relation{
		From:      fromKey,
		To:        toKey,
		Type:      typ,
		Stage:     domain.StageObservation,
		Evidence:  domain.NewEvidence(source),
		Source:    source,
		Context:   context,
		CreatedAt: time.Now(),
	}
	r.Weight = r.Evidence.Confidence() * r.Stage.Weight()
	s.state.Relations = append(s.state.Relations, r)
	return r
}

// Get returns a copy of the named entity, reporting found explicitly.
func (s *GraphStore) Get(name string) (domain.Entity, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.state.Entities[domain.NormalizeName(name)]
	if !ok {
		return domain.Entity{}, false
	}
	return copyEntity(e), true
}

// Search scores every entity against the query by name match,
// observation keyword overlap and type match. Results are sorted by
// score descending, ties broken by most recent update.
func (s *GraphStore) Search(query string, limit int) []domain.GraphSearchResult {
	if limit <= 0 {
		limit = 5
	}
	nq := domain.NormalizeName(query)
	terms := queryTerms(query)

	s.mu.RLock()
	defer s.mu.RUnlock()

	results := make([]domain.GraphSearchResult, 0, limit)
	for key, e := range s.state.Entities {
		score := scoreEntity(key, e, nq, terms)
		if score <= 0 {
			continue
		}
		results = append(results, domain.GraphSearchResult{
			Entity:    copyEntity(e),
			Neighbors: s.neighborsLocked(key, defaultNeighborLimit),
			Score:     score,
		})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Entity.UpdatedAt.After(results[j].Entity.UpdatedAt)
	})

	if len(results) > limit {
		results = results[:limit]
	}
	return results
}

func scoreEntity(key string, e *domain.Entity, normQuery string, terms []string) float64 {
	var score float64

	switch {
	case key == normQuery && key != "":
		score += 0.5
	case normQuery != "" && (strings.Contains(normQuery, key) || strings.Contains(key, normQuery)):
		score += 0.3
	}

	if len(terms) > 0 {
		matched := 0
		for _, term := range terms {
			for i := range e.Observations {
				if strings.Contains(strings.ToLower(e.Observations[i].Content), term) {
					matched++
					break
				}
			}
		}
		score += 0.35 * float64(matched) / float64(len(terms))
	}

	typeStr := string(e.Type)
	for _, term := range terms {
		if term == typeStr {
			score += 0.15
			break
		}
	}

	if score > 1.0 {
		score = 1.0
	}
	return score
}

func queryTerms(query string) []string {
	fields := strings.Fields(strings.ToLower(query))
	terms := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.Trim(f, `.,;:!?"'()`)
		if len(f) > 2 {
			terms = append(terms, f)
		}
	}
	return terms
}

// Neighbors returns up to limit edges touching the named entity.
func (s *GraphStore) Neighbors(name string, limit int) []domain.Relation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.neighborsLocked(domain.NormalizeName(name), limit)
}

func (s *GraphStore) neighborsLocked(key string, limit int) []domain.Relation {
	var out []domain.Relation
	for _, r := range s.state.Relations {
		if r.From == key || r.To == key {
			out = append(out, *r)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out
}

// Traverse walks edges breadth-first from the named entity up to depth
// hops, returning the edges in visit order.
func (s *GraphStore) Traverse(name string, depth int) []domain.Relation {
	if depth <= 0 {
		depth = 1
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	start := domain.NormalizeName(name)
	if _, ok := s.state.Entities[start]; !ok {
		return nil
	}

	visited := map[string]bool{start: true}
	frontier := []string{start}
	var out []domain.Relation

	for hop := 0; hop < depth && len(frontier) > 0; hop++ {
		var next []string
		for _, key := range frontier {
			for _, r := range s.state.Relations {
				var other string
				switch key {
				case r.From:
					other = r.To
				case r.To:
					other = r.From
				default:
					continue
				}
				if visited[other] {
					continue
				}
				visited[other] = true
				next = append(next, other)
				out = append(out, *r)
			}
		}
		frontier = next
	}
	return out
}

// MergeExtracted idempotently folds LLM-proposed knowledge into the
// graph. Purely additive: observations are appended or confirmed, never
// removed. Relation endpoints missing from the extraction are created
// as bare entities so the edge has somewhere to land.
func (s *GraphStore) MergeExtracted(ext *domain.ExtractedKnowledge, source string) {
	if ext == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, ee := range ext.Entities {
		if strings.TrimSpace(ee.Name) == "" {
			continue
		}
		s.addEntityLocked(ee.Name, domain.NormalizeEntityType(ee.Type), ee.Facts, source)
		s.markMutationLocked()
	}
	for _, er := range ext.Relations {
		if strings.TrimSpace(er.From) == "" || strings.TrimSpace(er.To) == "" {
			continue
		}
		if _, ok := s.state.Entities[domain.NormalizeName(er.From)]; !ok {
			s.addEntityLocked(er.From, domain.EntityConcept, nil, source)
		}
		if _, ok := s.state.Entities[domain.NormalizeName(er.To)]; !ok {
			s.addEntityLocked(er.To, domain.EntityConcept, nil, source)
		}
		s.addRelationLocked(er.From, er.To, er.Type, source, "")
		s.markMutationLocked()
	}
	s.flusher.MarkDirty()
}

// RecordSelfObservation appends an observation to the reserved self
// entity.
func (s *GraphStore) RecordSelfObservation(content, source string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureSelfLocked()
	s.addEntityLocked(SelfEntityName, domain.EntitySelf, []string{content}, source)
	s.markMutationLocked()
	s.flusher.MarkDirty()
}

// RecordAccess bumps access bookkeeping on an entity. Not counted as a
// knowledge mutation.
func (s *GraphStore) RecordAccess(name, context string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.state.Entities[domain.NormalizeName(name)]
	if !ok {
		return
	}
	e.AccessCount++
	e.LastAccessContext = context
	s.flusher.MarkDirty()
}

// Update runs fn against the raw graph state under the write lock.
// The consolidator uses this for its batch pass.
func (s *GraphStore) Update(fn func(state *domain.GraphState)) {
	s.mu.Lock()
	fn(s.state)
	s.ensureSelfLocked()
	s.mu.Unlock()
	s.flusher.MarkDirty()
}

// Mutations returns the count of knowledge mutations since the last
// consolidation pass.
func (s *GraphStore) Mutations() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Meta.MutationsSinceConsolidation
}

// Meta returns a copy of the consolidation bookkeeping.
func (s *GraphStore) Meta() domain.GraphMeta {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Meta
}

// GraphStats summarizes graph size for observability.
type GraphStats struct {
	Entities     int                        `json:"entities"`
	Relations    int                        `json:"relations"`
	Observations int                        `json:"observations"`
	StageCounts  map[domain.MemoryStage]int `json:"stage_counts"`
}

// Stats returns entity, relation, observation and per-stage counts.
func (s *GraphStore) Stats() GraphStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := GraphStats{
		Entities:    len(s.state.Entities),
		Relations:   len(s.state.Relations),
		StageCounts: make(map[domain.MemoryStage]int, len(domain.StageWeights)),
	}
	for _, stage := range domain.AllStages() {
		stats.StageCounts[stage] = 0
	}
	for _, e := range s.state.Entities {
		stats.Observations += len(e.Observations)
		for i := range e.Observations {
			stats.StageCounts[e.Observations[i].Stage]++
		}
	}
	return stats
}

// Clear drops all graph content. The self entity is recreated
// immediately, so it is never observably deleted.
func (s *GraphStore) Clear() {
	s.mu.Lock()
	s.state = domain.NewGraphState()
	s.ensureSelfLocked()
	s.mu.Unlock()
	s.flusher.MarkDirty()
}

func copyEntity(e *domain.Entity) domain.Entity {
	out := *e
	out.Observations = make([]domain.Observation, len(e.Observations))
	copy(out.Observations, e.Observations)
	return out
}
