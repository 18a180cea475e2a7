package store

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mnemo-ai/mnemo/internal/domain"
	"go.uber.org/zap"
)

const maxSkillSuccessRate = 0.95

// SkillStore holds procedural memory. Skills are only created and
// reinforced by the consolidator's synthesis pass; callers match and
// use them.
type SkillStore struct {
	mu      sync.RWMutex
	skills  map[string]*domain.Skill
	path    string
	flusher *Flusher
	logger  *zap.Logger
}

// NewSkillStore creates a skill store persisting to path.
func NewSkillStore(path string, flushDelay time.Duration, logger *zap.Logger) *SkillStore {
	s := &SkillStore{
		skills: make(map[string]*domain.Skill),
		path:   path,
		logger: logger,
	}
	s.flusher = NewFlusher(flushDelay, s.save, logger)
	return s
}

// Load reads the persisted skill snapshot, if any.
func (s *SkillStore) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var skills []*domain.Skill
	found, err := readSnapshot(s.path, &skills)
	if err != nil {
		return err
	}
	if found {
		s.skills = make(map[string]*domain.Skill, len(skills))
		for _, sk := range skills {
			s.skills[sk.ID] = sk
		}
	}
	return nil
}

func (s *SkillStore) save() error {
	s.mu.RLock()
	skills := make([]*domain.Skill, 0, len(s.skills))
	for _, sk := range s.skills {
		skills = append(skills, sk)
	}
	s.mu.RUnlock()

	sort.Slice(skills, func(i, j int) bool { return skills[i].ID < skills[j].ID })
	return writeSnapshot(s.path, skills)
}

// Flush writes the snapshot synchronously.
func (s *SkillStore) Flush() error { return s.flusher.FlushNow() }

// Close flushes and stops the debounce timer.
func (s *SkillStore) Close() error { return s.flusher.Close() }

// Get returns a skill by id, reporting found explicitly.
func (s *SkillStore) Get(id string) (domain.Skill, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sk, ok := s.skills[id]
	if !ok {
		return domain.Skill{}, false
	}
	return copySkill(sk), true
}

// Upsert inserts a new skill or reinforces an existing one with the
// additional occurrences. The success rate only ever grows here, capped
// below certainty.
func (s *SkillStore) Upsert(skill domain.Skill, occurrences int) domain.Skill {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.skills[skill.ID]
	if !ok {
		skill.CreatedAt = now
		skill.UpdatedAt = now
		stored := skill
		s.skills[skill.ID] = &stored
		s.flusher.MarkDirty()
		return skill
	}

	existing.EvidenceCount += occurrences
	existing.SuccessRate += 0.02 * float64(occurrences)
	if existing.SuccessRate > maxSkillSuccessRate {
		existing.SuccessRate = maxSkillSuccessRate
	}
	existing.DerivedFrom = unionStrings(existing.DerivedFrom, skill.DerivedFrom)
	existing.UpdatedAt = now
	s.flusher.MarkDirty()
	return copySkill(existing)
}

// RecordUse updates usage stats after a skill was applied. success
// nudges the rate up, failure nudges it down.
func (s *SkillStore) RecordUse(id string, success bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sk, ok := s.skills[id]
	if !ok {
		return ErrNotFound
	}
	if success {
		sk.SuccessRate += 0.05
		if sk.SuccessRate > maxSkillSuccessRate {
			sk.SuccessRate = maxSkillSuccessRate
		}
	} else {
		sk.SuccessRate -= 0.1
		if sk.SuccessRate < 0 {
			sk.SuccessRate = 0
		}
	}
	sk.LastUsed = time.Now()
	sk.UpdatedAt = sk.LastUsed
	s.flusher.MarkDirty()
	return nil
}

// Match scores skills by intent keyword overlap, weighted by success
// rate, sorted descending.
func (s *SkillStore) Match(query string, limit int) []domain.SkillResult {
	if limit <= 0 {
		limit = 3
	}
	terms := queryTerms(query)
	if len(terms) == 0 {
		return nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var results []domain.SkillResult
	for _, sk := range s.skills {
		haystack := strings.ToLower(sk.Intent + " " + sk.Name)
		matched := 0
		for _, term := range terms {
			if strings.Contains(haystack, term) {
				matched++
			}
		}
		if matched == 0 {
			continue
		}
		overlap := float64(matched) / float64(len(terms))
		results = append(results, domain.SkillResult{
			Skill: copySkill(sk),
			Score: overlap * sk.SuccessRate,
		})
	}

	sort.Slice(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > limit {
		results = results[:limit]
	}
	return results
}

// All returns copies of every skill.
func (s *SkillStore) All() []domain.Skill {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Skill, 0, len(s.skills))
	for _, sk := range s.skills {
		out = append(out, copySkill(sk))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Count returns the number of stored skills.
func (s *SkillStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.skills)
}

// Clear drops all skills.
func (s *SkillStore) Clear() {
	s.mu.Lock()
	s.skills = make(map[string]*domain.Skill)
	s.mu.Unlock()
	s.flusher.MarkDirty()
}

func copySkill(sk *domain.Skill) domain.Skill {
	out := *sk
	out.Steps = append([]string(nil), sk.Steps...)
	out.DerivedFrom = append([]string(nil), sk.DerivedFrom...)
	return out
}

func unionStrings(a, b []string) []string {
	seen := make(map[string]bool, len(a))
	out := append([]string(nil), a...)
	for _, s := range a {
		seen[s] = true
	}
	for _, s := range b {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
