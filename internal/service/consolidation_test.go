package service

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/mnemo-ai/mnemo/internal/domain"
	"github.com/mnemo-ai/mnemo/internal/store"
	"go.uber.org/zap"
)

func newTestStores(t *testing.T) (*store.GraphStore, *store.VectorStore, *store.SkillStore) {
	t.Helper()
	dir := t.TempDir()
	logger := zap.NewNop()

	graph := store.NewGraphStore(filepath.Join(dir, "graph.json"), 10*time.Millisecond, logger)
	vectors := store.NewVectorStore(filepath.Join(dir, "chunks.json"), 10*time.Millisecond, nil, logger)
	skills := store.NewSkillStore(filepath.Join(dir, "skills.json"), 10*time.Millisecond, logger)

	if err := graph.Load(); err != nil {
		t.Fatal(err)
	}
	if err := vectors.Load(); err != nil {
		t.Fatal(err)
	}
	if err := skills.Load(); err != nil {
		t.Fatal(err)
	}
	return graph, vectors, skills
}

func newTestConsolidator(t *testing.T) (*Consolidator, *store.GraphStore, *store.VectorStore, *store.SkillStore) {
	t.Helper()
	graph, vectors, skills := newTestStores(t)
	return NewConsolidator(graph, vectors, skills, zap.NewNop()), graph, vectors, skills
}

// setObservation installs an observation with exact evidence, bypassing
// the ingestion path so tests control stage, counts and age directly.
func setObservation(g *store.GraphStore, entity, content string, stage domain.MemoryStage, confirmations, contradictions int, age time.Duration) {
	g.Update(func(state *domain.GraphState) {
		key := domain.NormalizeName(entity)
		e, ok := state.Entities[key]
		if !ok {
			now := time.Now()
			e = &domain.Entity{Name: entity, Type: domain.EntityConcept, CreatedAt: now, UpdatedAt: now}
			state.Entities[key] = e
		}
		e.Observations = append(e.Observations, domain.Observation{
			Content:   content,
			Stage:     stage,
			CreatedAt: time.Now().Add(-age),
			Source:    "test",
			Evidence: domain.Evidence{
				Confirmations:   confirmations,
				Contradictions:  contradictions,
				Sources:         []string{"test"},
				LastConfirmedAt: time.Now(),
			},
		})
	})
}

func getObservations(t *testing.T, g *store.GraphStore, entity string) []domain.Observation {
	t.Helper()
	e, ok := g.Get(entity)
	if !ok {
		t.Fatalf("entity %q not found", entity)
	}
	return e.Observations
}

func TestConsolidator_PromotesOneStagePerRun(t *testing.T) {
	c, graph, _, _ := newTestConsolidator(t)

	// Evidence strong enough for fact, but each run moves one stage.
	setObservation(graph, "coffee", "prefers espresso", domain.StageObservation, 4, 0, 48*time.Hour)

	result := c.Run(context.Background())
	if result.Promoted != 1 {
		t.Fatalf("promoted = %d, want 1", result.Promoted)
	}
	if got := getObservations(t, graph, "coffee")[0].Stage; got != domain.StageEpisode {
		t.Fatalf("stage after first run = %s, want episode", got)
	}

	result = c.Run(context.Background())
	if result.Promoted != 1 {
		t.Fatalf("second run promoted = %d, want 1", result.Promoted)
	}
	if got := getObservations(t, graph, "coffee")[0].Stage; got != domain.StageFact {
		t.Errorf("stage after second run = %s, want fact", got)
	}
}

func TestConsolidator_UntouchedEntityKeepsUpdatedAt(t *testing.T) {
	c, graph, _, _ := newTestConsolidator(t)

	// Several entities that will promote, and one that a pass leaves
	// alone entirely: no promotion (1 confirmation), no prune
	// (confidence 1.0), nothing to merge.
	for _, name := range []string{"alpha", "beta", "gamma", "delta", "epsilon"} {
		setObservation(graph, name, "confirmed detail about "+name, domain.StageObservation, 2, 0, time.Hour)
	}
	setObservation(graph, "dormant", "rarely mentioned detail", domain.StageObservation, 1, 0, time.Hour)

	stamp := time.Now().Add(-72 * time.Hour)
	graph.Update(func(state *domain.GraphState) {
		state.Entities[domain.NormalizeName("dormant")].UpdatedAt = stamp
	})

	result := c.Run(context.Background())
	if result.Promoted != 5 {
		t.Fatalf("promoted = %d, want 5", result.Promoted)
	}

	e, ok := graph.Get("dormant")
	if !ok {
		t.Fatal("dormant entity not found")
	}
	if !e.UpdatedAt.Equal(stamp) {
		t.Errorf("dormant UpdatedAt = %v, want untouched %v", e.UpdatedAt, stamp)
	}

	promoted, ok := graph.Get("alpha")
	if !ok {
		t.Fatal("alpha entity not found")
	}
	if !promoted.UpdatedAt.After(stamp) {
		t.Errorf("promoted entity UpdatedAt = %v, should have been refreshed", promoted.UpdatedAt)
	}
}

func TestConsolidator_RepeatedRunIsIdempotent(t *testing.T) {
	c, graph, _, _ := newTestConsolidator(t)

	// Two confirmations support exactly one promotion.
	setObservation(graph, "editor", "uses neovim", domain.StageObservation, 2, 0, time.Hour)

	first := c.Run(context.Background())
	second := c.Run(context.Background())

	if first.Promoted != 1 {
		t.Errorf("first run promoted = %d, want 1", first.Promoted)
	}
	if second.Promoted != 0 {
		t.Errorf("second run promoted = %d, want 0", second.Promoted)
	}
	if got := getObservations(t, graph, "editor")[0].Stage; got != domain.StageEpisode {
		t.Errorf("stage = %s, want episode (no further promotion)", got)
	}
}

func TestConsolidator_PromotionRespectsAgeAndConfidence(t *testing.T) {
	c, graph, _, _ := newTestConsolidator(t)

	// Enough confirmations for fact, but too young.
	setObservation(graph, "young", "fresh claim", domain.StageEpisode, 4, 0, time.Hour)
	// Old enough and confirmed for belief, but contradicted below 0.7.
	setObservation(graph, "shaky", "disputed claim", domain.StageFact, 6, 4, 8*24*time.Hour)

	c.Run(context.Background())

	if got := getObservations(t, graph, "young")[0].Stage; got != domain.StageEpisode {
		t.Errorf("young stage = %s, want episode (age gate)", got)
	}
	if got := getObservations(t, graph, "shaky")[0].Stage; got != domain.StageFact {
		t.Errorf("shaky stage = %s, want fact (confidence gate)", got)
	}
}

func TestConsolidator_PrunesOnlyUnpromotedObservations(t *testing.T) {
	c, graph, _, _ := newTestConsolidator(t)

	// Confidence 1/(1+2*3) = 0.14, below the prune floor.
	setObservation(graph, "noise", "probably wrong", domain.StageObservation, 1, 3, time.Hour)
	// Same collapsed evidence but already promoted: kept.
	setObservation(graph, "kept", "contested but promoted", domain.StageEpisode, 1, 3, time.Hour)

	result := c.Run(context.Background())

	if result.Pruned != 1 {
		t.Errorf("pruned = %d, want 1", result.Pruned)
	}
	if got := len(getObservations(t, graph, "noise")); got != 0 {
		t.Errorf("noise observations = %d, want 0", got)
	}
	if got := len(getObservations(t, graph, "kept")); got != 1 {
		t.Errorf("kept observations = %d, want 1 (promoted stages never pruned)", got)
	}
}

func TestConsolidator_MergesNearDuplicates(t *testing.T) {
	c, graph, _, _ := newTestConsolidator(t)

	setObservation(graph, "habits", "likes coffee in the morning", domain.StageObservation, 2, 0, time.Hour)
	setObservation(graph, "habits", "likes coffee", domain.StageObservation, 1, 0, 2*time.Hour)

	result := c.Run(context.Background())

	if result.Merged != 1 {
		t.Fatalf("merged = %d, want 1", result.Merged)
	}
	obs := getObservations(t, graph, "habits")
	if len(obs) != 1 {
		t.Fatalf("observations = %d, want 1 survivor", len(obs))
	}
	if obs[0].Content != "likes coffee in the morning" {
		t.Errorf("survivor = %q, want the longer content", obs[0].Content)
	}
	if obs[0].Evidence.Confirmations != 3 {
		t.Errorf("confirmations = %d, want 3 (evidence union)", obs[0].Evidence.Confirmations)
	}
}

func TestConsolidator_ShortContentsNeverSubstringMerge(t *testing.T) {
	c, graph, _, _ := newTestConsolidator(t)

	setObservation(graph, "langs", "uses Go", domain.StageObservation, 1, 0, time.Hour)
	setObservation(graph, "langs", "Go", domain.StageObservation, 1, 0, time.Hour)

	result := c.Run(context.Background())

	if result.Merged != 0 {
		t.Errorf("merged = %d, want 0 (contents too short)", result.Merged)
	}
}

func TestConsolidator_RelationPromotionAndReweight(t *testing.T) {
	c, graph, _, _ := newTestConsolidator(t)

	// Well-confirmed endpoints lift the relation's averaged score.
	setObservation(graph, "alex", "works on billing", domain.StageObservation, 3, 0, time.Hour)
	setObservation(graph, "billing", "the billing service", domain.StageObservation, 3, 0, time.Hour)
	graph.AddRelation("alex", "billing", "works_on", "test", "")

	c.Run(context.Background())

	rels := graph.Neighbors("alex", 10)
	if len(rels) != 1 {
		t.Fatalf("relations = %d, want 1", len(rels))
	}
	// Averaged score (1+3+3)/3 = 2.33 clears the episode threshold.
	if rels[0].Stage != domain.StageEpisode {
		t.Errorf("relation stage = %s, want episode", rels[0].Stage)
	}
	wantWeight := rels[0].Evidence.Confidence() * domain.StageEpisode.Weight()
	if diff := rels[0].Weight - wantWeight; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("weight = %f, want confidence*stage = %f", rels[0].Weight, wantWeight)
	}
}

func TestConsolidator_SynthesizesSkillFromRepeatedPattern(t *testing.T) {
	c, _, vectors, skills := newTestConsolidator(t)

	for i, text := range []string{
		"please search the logs and analyze the failures",
		"search for slow queries, then summarize what you find",
		"find the error spikes and review the trend",
	} {
		vectors.Add(context.Background(), &domain.MemoryChunk{
			ID:   string(rune('a' + i)),
			Text: text,
		})
	}
	// A chunk with a single category never forms a pattern.
	vectors.Add(context.Background(), &domain.MemoryChunk{ID: "solo", Text: "search the contacts"})

	result := c.Run(context.Background())

	if result.SkillsSynthesized != 1 {
		t.Fatalf("skills synthesized = %d, want 1", result.SkillsSynthesized)
	}
	matches := skills.Match("search and analyze", 5)
	if len(matches) == 0 {
		t.Fatal("synthesized skill should match its category keywords")
	}
	sk := matches[0].Skill
	if sk.EvidenceCount != 3 {
		t.Errorf("evidence count = %d, want 3", sk.EvidenceCount)
	}
	if sk.SuccessRate < 0.64 || sk.SuccessRate > 0.66 {
		t.Errorf("success rate = %f, want 0.65", sk.SuccessRate)
	}
	if got := len(vectors.Unconsolidated()); got != 0 {
		t.Errorf("unconsolidated chunks = %d, want 0 (pattern and solo chunks retired)", got)
	}
}

func TestConsolidator_BelowThresholdPatternStaysPending(t *testing.T) {
	c, _, vectors, _ := newTestConsolidator(t)

	vectors.Add(context.Background(), &domain.MemoryChunk{ID: "c1", Text: "search and analyze the report"})
	vectors.Add(context.Background(), &domain.MemoryChunk{ID: "c2", Text: "search and analyze the dashboard"})

	result := c.Run(context.Background())

	if result.SkillsSynthesized != 0 {
		t.Errorf("skills synthesized = %d, want 0", result.SkillsSynthesized)
	}
	if got := len(vectors.Unconsolidated()); got != 2 {
		t.Errorf("unconsolidated = %d, want 2 (pattern still accumulating)", got)
	}
}

func TestConsolidator_ResetsMutationCounter(t *testing.T) {
	c, graph, _, _ := newTestConsolidator(t)

	graph.AddEntity("redis", domain.EntityTechnology, []string{"used for caching"}, "conv")
	if graph.Mutations() == 0 {
		t.Fatal("setup should register mutations")
	}

	c.Run(context.Background())

	if graph.Mutations() != 0 {
		t.Errorf("mutations = %d, want 0 after consolidation", graph.Mutations())
	}
	meta := graph.Meta()
	if meta.ConsolidationCount != 1 {
		t.Errorf("consolidation count = %d, want 1", meta.ConsolidationCount)
	}
	if meta.LastConsolidatedAt.IsZero() {
		t.Error("LastConsolidatedAt should be set")
	}
}

func TestConsolidator_StartStop(t *testing.T) {
	c, _, _, _ := newTestConsolidator(t)
	c.SetInterval(10 * time.Millisecond)

	c.Start()
	time.Sleep(30 * time.Millisecond)
	c.Stop() // must not hang or panic
}
