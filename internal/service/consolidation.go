package service

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mnemo-ai/mnemo/internal/domain"
	"github.com/mnemo-ai/mnemo/internal/store"
	"go.uber.org/zap"
)

// Consolidation constants.
const (
	// DefaultMutationThreshold is the graph mutation count that arms an
	// opportunistic consolidation pass.
	DefaultMutationThreshold = 20

	// PruneConfidenceThreshold removes unpromoted observations whose
	// evidence has collapsed. Promoted knowledge is never pruned for
	// confidence alone.
	PruneConfidenceThreshold = 0.25

	// minMergeLength guards substring merging: only contents longer
	// than this are considered containments rather than coincidences.
	minMergeLength = 10

	// SkillPatternMinOccurrences is how many times a keyword pattern
	// must co-occur before it becomes a skill.
	SkillPatternMinOccurrences = 3

	skillBaseSuccessRate    = 0.5
	skillPerOccurrenceRate  = 0.05
	maxSynthesisSuccessRate = 0.95

	defaultConsolidationInterval = 15 * time.Minute
)

// PromotionRule gates advancement from one stage to the next.
type PromotionRule struct {
	MinConfirmations int
	MinAge           time.Duration
	MinConfidence    float64
}

// DefaultPromotionRules is the threshold table, keyed by the current
// stage. A pass advances an observation at most one stage.
var DefaultPromotionRules = map[domain.MemoryStage]PromotionRule{
	domain.StageObservation: {MinConfirmations: 2},
	domain.StageEpisode:     {MinConfirmations: 4, MinAge: 24 * time.Hour},
	domain.StageFact:        {MinConfirmations: 6, MinAge: 7 * 24 * time.Hour, MinConfidence: 0.7},
	domain.StageBelief:      {MinConfirmations: 10, MinAge: 30 * 24 * time.Hour, MinConfidence: 0.85},
}

// ConsolidationResult summarizes one pass.
type ConsolidationResult struct {
	Promoted          int           `json:"promoted"`
	Pruned            int           `json:"pruned"`
	Merged            int           `json:"merged"`
	SkillsSynthesized int           `json:"skills_synthesized"`
	Duration          time.Duration `json:"duration"`
}

// skillCategory is one entry of the fixed keyword taxonomy used for
// pattern detection over conversation chunks.
type skillCategory struct {
	name     string
	keywords []string
	step     string
}

var skillCategories = []skillCategory{
	{"search", []string{"search", "find", "look up", "query", "grep"}, "locate the relevant information"},
	{"command", []string{"run", "execute", "command", "invoke", "shell"}, "run the required command"},
	{"file-ops", []string{"file", "read", "write", "save", "directory"}, "read or write the target files"},
	{"network", []string{"http", "request", "download", "fetch", "api"}, "call the remote endpoint"},
	{"analysis", []string{"analyze", "summarize", "compare", "review", "explain"}, "analyze and report the result"},
}

// Consolidator runs the batch pass that promotes, prunes and
// deduplicates graph knowledge, reweights relations, and synthesizes
// skills from repeated chunk patterns. The pass is synchronous and
// safe to run repeatedly; it touches nothing beyond the three stores.
type Consolidator struct {
	graph   *store.GraphStore
	vectors *store.VectorStore
	skills  *store.SkillStore
	logger  *zap.Logger

	Rules map[domain.MemoryStage]PromotionRule

	interval time.Duration
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewConsolidator wires the consolidator to its three stores.
func NewConsolidator(graph *store.GraphStore, vectors *store.VectorStore, skills *store.SkillStore, logger *zap.Logger) *Consolidator {
	return &Consolidator{
		graph:    graph,
		vectors:  vectors,
		skills:   skills,
		logger:   logger,
		Rules:    DefaultPromotionRules,
		interval: defaultConsolidationInterval,
		stopCh:   make(chan struct{}),
	}
}

// SetInterval overrides the background pass interval.
func (c *Consolidator) SetInterval(d time.Duration) {
	if d > 0 {
		c.interval = d
	}
}

// Start launches the periodic background worker.
func (c *Consolidator) Start() {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()

		c.logger.Info("consolidation worker started", zap.Duration("interval", c.interval))
		for {
			select {
			case <-ticker.C:
				if c.graph.Mutations() == 0 {
					continue
				}
				result := c.Run(context.Background())
				c.logger.Info("periodic consolidation complete",
					zap.Int("promoted", result.Promoted),
					zap.Int("pruned", result.Pruned),
					zap.Int("merged", result.Merged),
					zap.Int("skills", result.SkillsSynthesized))
			case <-c.stopCh:
				c.logger.Info("consolidation worker stopped")
				return
			}
		}
	}()
}

// Stop halts the background worker.
func (c *Consolidator) Stop() {
	close(c.stopCh)
	c.wg.Wait()
}

// Run executes one full consolidation pass.
func (c *Consolidator) Run(ctx context.Context) *ConsolidationResult {
	start := time.Now()
	result := &ConsolidationResult{}
	now := time.Now()

	c.graph.Update(func(state *domain.GraphState) {
		for _, entity := range state.Entities {
			c.consolidateEntity(entity, now, result)
		}
		c.consolidateRelations(state, now, result)

		state.Meta.LastConsolidatedAt = now
		state.Meta.MutationsSinceConsolidation = 0
		state.Meta.ConsolidationCount++
	})

	result.SkillsSynthesized = c.synthesizeSkills()
	result.Duration = time.Since(start)

	c.logger.Debug("consolidation pass finished",
		zap.Int("promoted", result.Promoted),
		zap.Int("pruned", result.Pruned),
		zap.Int("merged", result.Merged),
		zap.Int("skills", result.SkillsSynthesized),
		zap.Duration("duration", result.Duration))
	return result
}

// consolidateEntity prunes, promotes and merges one entity's
// observations in place.
func (c *Consolidator) consolidateEntity(entity *domain.Entity, now time.Time, result *ConsolidationResult) {
	changed := false
	kept := entity.Observations[:0]
	for i := range entity.Observations {
		obs := entity.Observations[i]
		confidence := obs.Evidence.Confidence()

		if obs.Stage == domain.StageObservation && confidence < PruneConfidenceThreshold {
			result.Pruned++
			changed = true
			continue
		}

		if next, ok := obs.Stage.Next(); ok {
			rule, known := c.Rules[obs.Stage]
			if known &&
				obs.Evidence.Confirmations >= rule.MinConfirmations &&
				now.Sub(obs.CreatedAt) >= rule.MinAge &&
				confidence >= rule.MinConfidence {
				obs.Stage = next
				result.Promoted++
				changed = true
			}
		}
		kept = append(kept, obs)
	}
	entity.Observations = kept

	merged := mergeDuplicateObservations(entity)
	result.Merged += merged
	if changed || merged > 0 {
		entity.UpdatedAt = now
	}
}

// mergeDuplicateObservations folds near-duplicate observation contents
// together: identical text, or one containing the other when the
// shorter side is long enough to be meaningful. The survivor takes the
// longer content, the higher stage and the union of evidence.
func mergeDuplicateObservations(entity *domain.Entity) int {
	merged := 0
	obs := entity.Observations
	removed := make([]bool, len(obs))

	for i := 0; i < len(obs); i++ {
		if removed[i] {
			continue
		}
		for j := i + 1; j < len(obs); j++ {
			if removed[j] {
				continue
			}
			a := strings.ToLower(obs[i].Content)
			b := strings.ToLower(obs[j].Content)

			duplicate := a == b
			if !duplicate && len(a) > minMergeLength && len(b) > minMergeLength {
				duplicate = strings.Contains(a, b) || strings.Contains(b, a)
			}
			if !duplicate {
				continue
			}

			survivor, absorbed := i, j
			if len(obs[j].Content) > len(obs[i].Content) ||
				(len(obs[j].Content) == len(obs[i].Content) && obs[j].Stage.Rank() > obs[i].Stage.Rank()) {
				survivor, absorbed = j, i
			}

			obs[survivor].Evidence = domain.MergeEvidence(obs[survivor].Evidence, obs[absorbed].Evidence)
			obs[survivor].Stage = domain.MaxStage(obs[survivor].Stage, obs[absorbed].Stage)
			if obs[absorbed].CreatedAt.Before(obs[survivor].CreatedAt) {
				obs[survivor].CreatedAt = obs[absorbed].CreatedAt
			}
			removed[absorbed] = true
			merged++

			if survivor == j {
				break
			}
		}
	}

	if merged == 0 {
		return 0
	}
	kept := obs[:0]
	for i := range obs {
		if !removed[i] {
			kept = append(kept, obs[i])
		}
	}
	entity.Observations = kept
	return merged
}

// consolidateRelations recomputes relation weights from current
// evidence and promotes relations using the averaged confirmation
// count across the relation's own evidence and both endpoints'
// observations.
func (c *Consolidator) consolidateRelations(state *domain.GraphState, now time.Time, result *ConsolidationResult) {
	for _, rel := range state.Relations {
		avgScore := (float64(rel.Evidence.Confirmations) +
			avgObservationConfirmations(state.Entities[rel.From]) +
			avgObservationConfirmations(state.Entities[rel.To])) / 3

		switch rel.Stage {
		case domain.StageObservation:
			if avgScore >= float64(c.Rules[domain.StageObservation].MinConfirmations) {
				rel.Stage = domain.StageEpisode
				result.Promoted++
			}
		case domain.StageEpisode:
			rule := c.Rules[domain.StageEpisode]
			if avgScore >= float64(rule.MinConfirmations) && now.Sub(rel.CreatedAt) >= rule.MinAge {
				rel.Stage = domain.StageFact
				result.Promoted++
			}
		}

		rel.Weight = rel.Evidence.Confidence() * rel.Stage.Weight()
	}
}

func avgObservationConfirmations(entity *domain.Entity) float64 {
	if entity == nil || len(entity.Observations) == 0 {
		return 0
	}
	total := 0
	for i := range entity.Observations {
		total += entity.Observations[i].Evidence.Confirmations
	}
	return float64(total) / float64(len(entity.Observations))
}

// synthesizeSkills scans unconsolidated chunks for co-occurring
// keyword categories. A pattern seen often enough becomes a skill, or
// reinforces one that already exists. Chunks that can never pattern
// (fewer than two category hits) are retired; chunks in patterns still
// below the threshold stay pending so occurrences accumulate.
func (c *Consolidator) synthesizeSkills() int {
	chunks := c.vectors.Unconsolidated()
	if len(chunks) == 0 {
		return 0
	}

	patterns := make(map[string][]string) // pattern key -> chunk ids
	var retired []string

	for _, chunk := range chunks {
		cats := matchCategories(chunk.Text)
		if len(cats) < 2 {
			retired = append(retired, chunk.ID)
			continue
		}
		key := strings.Join(cats, "+")
		patterns[key] = append(patterns[key], chunk.ID)
	}

	synthesized := 0
	for key, chunkIDs := range patterns {
		count := len(chunkIDs)
		if count < SkillPatternMinOccurrences {
			continue
		}

		name := "pattern: " + key
		rate := skillBaseSuccessRate + skillPerOccurrenceRate*float64(count)
		if rate > maxSynthesisSuccessRate {
			rate = maxSynthesisSuccessRate
		}

		c.skills.Upsert(domain.Skill{
			ID:            domain.SkillID(name),
			Name:          name,
			Intent:        "handle " + strings.ReplaceAll(key, "+", " and ") + " requests",
			Steps:         categorySteps(key),
			SuccessRate:   rate,
			EvidenceCount: count,
			DerivedFrom:   chunkIDs,
		}, count)
		retired = append(retired, chunkIDs...)
		synthesized++
	}

	c.vectors.MarkConsolidated(retired)
	return synthesized
}

func matchCategories(text string) []string {
	lowered := strings.ToLower(text)
	var cats []string
	for _, cat := range skillCategories {
		for _, kw := range cat.keywords {
			if strings.Contains(lowered, kw) {
				cats = append(cats, cat.name)
				break
			}
		}
	}
	sort.Strings(cats)
	return cats
}

func categorySteps(patternKey string) []string {
	steps := make([]string, 0, 3)
	for _, name := range strings.Split(patternKey, "+") {
		for _, cat := range skillCategories {
			if cat.name == name {
				steps = append(steps, cat.step)
				break
			}
		}
	}
	return steps
}
