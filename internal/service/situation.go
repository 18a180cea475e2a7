package service

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/mnemo-ai/mnemo/internal/domain"
	"go.uber.org/zap"
)

// Situation scoring constants.
const (
	querySignalBoost    = 0.3
	contextSignalBoost  = 0.1
	affinityTypeBoost   = 0.15
	minDomainWeight     = 0.05
	defaultDomainKey    = "knowledge"
	defaultDomainWeight = 0.3
	primaryDomainCount  = 3

	domainBoostFloor      = 0.6
	domainBoostSpan       = 0.8
	observationBoostFloor = 0.7
	observationBoostSpan  = 0.6
)

// SituationRegistry maps domain keys to descriptors. Built-ins are
// seeded at construction; new domains may be registered at runtime.
// The registry is append-only: existing descriptors are never mutated.
type SituationRegistry struct {
	mu      sync.RWMutex
	domains map[string]domain.DomainDescriptor
	order   []string
}

func builtinDomains() []domain.DomainDescriptor {
	return []domain.DomainDescriptor{
		{
			Key:         "coding",
			Description: "software development and debugging",
			Signals:     []string{"code", "bug", "function", "compile", "debug", "refactor", "test", "implement"},
			Affinities:  []domain.EntityType{domain.EntityTechnology, domain.EntityProject, domain.EntityTool},
		},
		{
			Key:         "planning",
			Description: "goals, schedules and task sequencing",
			Signals:     []string{"plan", "schedule", "goal", "task", "deadline", "next", "todo", "priority"},
			Affinities:  []domain.EntityType{domain.EntityProject, domain.EntityEvent},
		},
		{
			Key:         "identity",
			Description: "the agent's own traits and history",
			Signals:     []string{"yourself", "your name", "who are you", "personality", "identity", "remember about you"},
			Affinities:  []domain.EntityType{domain.EntitySelf, domain.EntityPreference},
		},
		{
			Key:         "social",
			Description: "people and relationships",
			Signals:     []string{"friend", "family", "meet", "people", "team", "colleague", "talked"},
			Affinities:  []domain.EntityType{domain.EntityPerson, domain.EntityOrganization},
		},
		{
			Key:         "operations",
			Description: "files, commands and system administration",
			Signals:     []string{"file", "install", "server", "restart", "config", "deploy", "command", "directory"},
			Affinities:  []domain.EntityType{domain.EntityTool, domain.EntityTechnology},
		},
		{
			Key:         defaultDomainKey,
			Description: "general facts and explanations",
			Signals:     []string{"what", "why", "how", "explain", "learn", "fact", "definition"},
			Affinities:  []domain.EntityType{domain.EntityConcept, domain.EntityTechnology},
		},
	}
}

// NewSituationRegistry returns a registry seeded with the built-in
// domains.
func NewSituationRegistry() *SituationRegistry {
	r := &SituationRegistry{domains: make(map[string]domain.DomainDescriptor)}
	for _, d := range builtinDomains() {
		r.domains[d.Key] = d
		r.order = append(r.order, d.Key)
	}
	return r
}

// Register adds a new domain. Registering an existing key is rejected;
// descriptors are never overwritten.
func (r *SituationRegistry) Register(d domain.DomainDescriptor) error {
	if strings.TrimSpace(d.Key) == "" {
		return fmt.Errorf("domain key is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.domains[d.Key]; exists {
		return fmt.Errorf("domain %q already registered", d.Key)
	}
	r.domains[d.Key] = d
	r.order = append(r.order, d.Key)
	return nil
}

// Descriptors returns all registered domains in registration order.
func (r *SituationRegistry) Descriptors() []domain.DomainDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.DomainDescriptor, 0, len(r.order))
	for _, key := range r.order {
		out = append(out, r.domains[key])
	}
	return out
}

// SituationClassifier scores the domain registry against the current
// query and context. It is stateless beyond the registry it owns; the
// resulting weights re-rank retrieval, never filter it.
type SituationClassifier struct {
	registry *SituationRegistry
	logger   *zap.Logger
}

// NewSituationClassifier creates a classifier with its own seeded
// registry.
func NewSituationClassifier(logger *zap.Logger) *SituationClassifier {
	return &SituationClassifier{registry: NewSituationRegistry(), logger: logger}
}

// Registry exposes the classifier's domain registry for runtime
// extension.
func (c *SituationClassifier) Registry() *SituationRegistry { return c.registry }

// Classify maps the query, recent context and the entity types active
// in a graph preflight into a weighted situation model.
func (c *SituationClassifier) Classify(query string, recentContext []string, activeTypes []domain.EntityType) domain.SituationModel {
	loweredQuery := strings.ToLower(query)
	loweredContext := strings.ToLower(strings.Join(recentContext, "\n"))

	typeSet := make(map[domain.EntityType]bool, len(activeTypes))
	for _, t := range activeTypes {
		typeSet[t] = true
	}

	weights := make(map[string]float64)
	for _, d := range c.registry.Descriptors() {
		var score float64
		for _, signal := range d.Signals {
			switch {
			case strings.Contains(loweredQuery, signal):
				score += querySignalBoost
			case strings.Contains(loweredContext, signal):
				score += contextSignalBoost
			}
		}
		for _, affinity := range d.Affinities {
			if typeSet[affinity] {
				score += affinityTypeBoost
			}
		}
		if score > 1.0 {
			score = 1.0
		}
		if score > minDomainWeight {
			weights[d.Key] = score
		}
	}

	if len(weights) == 0 {
		weights[defaultDomainKey] = defaultDomainWeight
	}

	model := domain.SituationModel{
		Domains: weights,
		Goal:    inferGoal(loweredQuery),
		Primary: topDomains(weights, primaryDomainCount),
	}
	c.logger.Debug("classified situation",
		zap.Strings("primary", model.Primary),
		zap.String("goal", model.Goal))
	return model
}

func topDomains(weights map[string]float64, n int) []string {
	keys := make([]string, 0, len(weights))
	for k := range weights {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if weights[keys[i]] != weights[keys[j]] {
			return weights[keys[i]] > weights[keys[j]]
		}
		return keys[i] < keys[j]
	})
	if len(keys) > n {
		keys = keys[:n]
	}
	return keys
}

func inferGoal(loweredQuery string) string {
	switch {
	case strings.Contains(loweredQuery, "fix"), strings.Contains(loweredQuery, "debug"), strings.Contains(loweredQuery, "error"):
		return "resolve"
	case strings.Contains(loweredQuery, "plan"), strings.Contains(loweredQuery, "next"), strings.Contains(loweredQuery, "should"):
		return "plan"
	case strings.Contains(loweredQuery, "remember"), strings.Contains(loweredQuery, "recall"), strings.Contains(loweredQuery, "said"):
		return "recall"
	case strings.Contains(loweredQuery, "?"), strings.Contains(loweredQuery, "what"), strings.Contains(loweredQuery, "how"), strings.Contains(loweredQuery, "why"):
		return "answer"
	default:
		return "assist"
	}
}

// DomainBoost returns the retrieval multiplier for an entity type given
// the active situation: the max affinity weight across active domains,
// rescaled into [0.6, 1.4].
func (c *SituationClassifier) DomainBoost(entityType domain.EntityType, situation domain.SituationModel) float64 {
	var maxAffinity float64
	for _, d := range c.registry.Descriptors() {
		weight, active := situation.Domains[d.Key]
		if !active {
			continue
		}
		for _, affinity := range d.Affinities {
			if affinity == entityType && weight > maxAffinity {
				maxAffinity = weight
			}
		}
	}
	return domainBoostFloor + domainBoostSpan*maxAffinity
}

// ObservationDomainBoost returns the retrieval multiplier for a piece
// of observation text: signal hit density weighted by domain
// activation, rescaled into [0.7, 1.3].
func (c *SituationClassifier) ObservationDomainBoost(text string, situation domain.SituationModel) float64 {
	lowered := strings.ToLower(text)
	var raw float64
	for _, d := range c.registry.Descriptors() {
		weight, active := situation.Domains[d.Key]
		if !active {
			continue
		}
		hits := 0
		for _, signal := range d.Signals {
			if strings.Contains(lowered, signal) {
				hits++
				if hits >= 3 {
					break
				}
			}
		}
		raw += weight * float64(hits) * 0.1
	}
	if raw > observationBoostSpan {
		raw = observationBoostSpan
	}
	return observationBoostFloor + raw
}
