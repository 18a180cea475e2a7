package domain

import (
	"strings"
	"time"
)

// EntityType classifies graph entities. Free-form input is folded onto
// the nearest known type; anything unrecognized becomes a concept.
type EntityType string

const (
	EntityPerson       EntityType = "person"
	EntityProject      EntityType = "project"
	EntityTechnology   EntityType = "technology"
	EntityPreference   EntityType = "preference"
	EntityConcept      EntityType = "concept"
	EntityOrganization EntityType = "organization"
	EntityEvent        EntityType = "event"
	EntityPlace        EntityType = "place"
	EntityTool         EntityType = "tool"
	EntitySelf         EntityType = "self"
)

func ValidEntityType(t string) bool {
	switch EntityType(t) {
	case EntityPerson, EntityProject, EntityTechnology, EntityPreference,
		EntityConcept, EntityOrganization, EntityEvent, EntityPlace,
		EntityTool, EntitySelf:
		return true
	}
	return false
}

// NormalizeEntityType folds free-form type strings onto the closed set.
func NormalizeEntityType(t string) EntityType {
	lower := strings.ToLower(strings.TrimSpace(t))
	if ValidEntityType(lower) {
		return EntityType(lower)
	}
	switch {
	case strings.Contains(lower, "person"), strings.Contains(lower, "people"), strings.Contains(lower, "user"), strings.Contains(lower, "human"):
		return EntityPerson
	case strings.Contains(lower, "tech"), strings.Contains(lower, "language"), strings.Contains(lower, "framework"), strings.Contains(lower, "library"), strings.Contains(lower, "software"):
		return EntityTechnology
	case strings.Contains(lower, "proj"), strings.Contains(lower, "repo"):
		return EntityProject
	case strings.Contains(lower, "prefer"), strings.Contains(lower, "like"), strings.Contains(lower, "taste"):
		return EntityPreference
	case strings.Contains(lower, "org"), strings.Contains(lower, "company"), strings.Contains(lower, "team"):
		return EntityOrganization
	case strings.Contains(lower, "event"), strings.Contains(lower, "meeting"):
		return EntityEvent
	case strings.Contains(lower, "place"), strings.Contains(lower, "location"), strings.Contains(lower, "city"):
		return EntityPlace
	case strings.Contains(lower, "tool"), strings.Contains(lower, "command"), strings.Contains(lower, "cli"):
		return EntityTool
	}
	return EntityConcept
}

// RelationType is the closed edge ontology. Free-form relation labels
// are normalized onto it by keyword match, never rejected.
type RelationType string

const (
	RelationRelatesTo     RelationType = "relates_to"
	RelationUses          RelationType = "uses"
	RelationPrefers       RelationType = "prefers"
	RelationPreferredOver RelationType = "preferred_over"
	RelationDislikes      RelationType = "dislikes"
	RelationWorksOn       RelationType = "works_on"
	RelationKnows         RelationType = "knows"
	RelationPartOf        RelationType = "part_of"
	RelationDependsOn     RelationType = "depends_on"
	RelationLocatedIn     RelationType = "located_in"
	RelationCausedBy      RelationType = "caused_by"
)

func ValidRelationType(t string) bool {
	switch RelationType(t) {
	case RelationRelatesTo, RelationUses, RelationPrefers, RelationPreferredOver,
		RelationDislikes, RelationWorksOn, RelationKnows, RelationPartOf,
		RelationDependsOn, RelationLocatedIn, RelationCausedBy:
		return true
	}
	return false
}

// NormalizeRelationType maps a free-form relation label onto the
// nearest canonical type. Unknown labels become relates_to.
func NormalizeRelationType(t string) RelationType {
	lower := strings.ToLower(strings.TrimSpace(strings.ReplaceAll(t, "-", "_")))
	if ValidRelationType(lower) {
		return RelationType(lower)
	}
	switch {
	case strings.Contains(lower, "prefer") && strings.Contains(lower, "over"):
		return RelationPreferredOver
	case strings.Contains(lower, "prefer"), strings.Contains(lower, "favorite"), strings.Contains(lower, "loves"), strings.Contains(lower, "likes"):
		return RelationPrefers
	case strings.Contains(lower, "dislike"), strings.Contains(lower, "hate"), strings.Contains(lower, "avoid"):
		return RelationDislikes
	case strings.Contains(lower, "use"), strings.Contains(lower, "run"), strings.Contains(lower, "built_with"):
		return RelationUses
	case strings.Contains(lower, "work"), strings.Contains(lower, "maintain"), strings.Contains(lower, "develop"):
		return RelationWorksOn
	case strings.Contains(lower, "know"), strings.Contains(lower, "friend"), strings.Contains(lower, "met"):
		return RelationKnows
	case strings.Contains(lower, "part"), strings.Contains(lower, "member"), strings.Contains(lower, "belong"), strings.Contains(lower, "contain"):
		return RelationPartOf
	case strings.Contains(lower, "depend"), strings.Contains(lower, "require"), strings.Contains(lower, "need"):
		return RelationDependsOn
	case strings.Contains(lower, "locat"), strings.Contains(lower, "live"), strings.Contains(lower, "based"):
		return RelationLocatedIn
	case strings.Contains(lower, "caus"), strings.Contains(lower, "because"), strings.Contains(lower, "led_to"), strings.Contains(lower, "result"):
		return RelationCausedBy
	}
	return RelationRelatesTo
}

// Observation is the atomic knowledge unit attached to an entity.
type Observation struct {
	Content    string      `json:"content"`
	Stage      MemoryStage `json:"stage"`
	Evidence   Evidence    `json:"evidence"`
	Source     string      `json:"source,omitempty"`
	CreatedAt  time.Time   `json:"created_at"`
	ValidFrom  *time.Time  `json:"valid_from,omitempty"`
	ValidUntil *time.Time  `json:"valid_until,omitempty"`
	DecayRate  float64     `json:"decay_rate,omitempty"`
}

// Entity is a named node in the knowledge graph. Entities are keyed by
// their normalized name; Name preserves the original casing.
type Entity struct {
	Name              string        `json:"name"`
	Type              EntityType    `json:"type"`
	Observations      []Observation `json:"observations"`
	AccessCount       int           `json:"access_count"`
	LastAccessContext string        `json:"last_access_context,omitempty"`
	CreatedAt         time.Time     `json:"created_at"`
	UpdatedAt         time.Time     `json:"updated_at"`
}

// Relation is a directed typed edge between two entities, identified by
// its (from, type, to) key. Re-adding an existing relation accumulates
// evidence instead of duplicating the edge.
type Relation struct {
	From      string       `json:"from"`
	To        string       `json:"to"`
	Type      RelationType `json:"type"`
	Stage     MemoryStage  `json:"stage"`
	Evidence  Evidence     `json:"evidence"`
	Weight    float64      `json:"weight"`
	Source    string       `json:"source,omitempty"`
	Context   string       `json:"context,omitempty"`
	CreatedAt time.Time    `json:"created_at"`
}

// GraphMeta tracks consolidation bookkeeping for the whole graph.
type GraphMeta struct {
	LastConsolidatedAt          time.Time `json:"last_consolidated_at"`
	MutationsSinceConsolidation int       `json:"mutations_since_consolidation"`
	ConsolidationCount          int       `json:"consolidation_count"`
}

// GraphState is the serializable container for the knowledge graph.
type GraphState struct {
	Entities  map[string]*Entity `json:"entities"`
	Relations []*Relation        `json:"relations"`
	Meta      GraphMeta          `json:"meta"`
}

// NewGraphState returns an empty graph.
func NewGraphState() *GraphState {
	return &GraphState{Entities: make(map[string]*Entity)}
}

// GraphSearchResult is one scored entity with its nearest edges.
type GraphSearchResult struct {
	Entity    Entity     `json:"entity"`
	Neighbors []Relation `json:"neighbors,omitempty"`
	Score     float64    `json:"score"`
}

// ExtractedKnowledge is the JSON contract for LLM entity extraction.
type ExtractedKnowledge struct {
	Entities  []ExtractedEntity   `json:"entities"`
	Relations []ExtractedRelation `json:"relations"`
}

type ExtractedEntity struct {
	Name  string   `json:"name"`
	Type  string   `json:"type"`
	Facts []string `json:"facts"`
}

type ExtractedRelation struct {
	From string `json:"from"`
	To   string `json:"to"`
	Type string `json:"type"`
}

// NormalizeName is the canonical entity key: lowercased, trimmed, with
// internal whitespace collapsed to single spaces.
func NormalizeName(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(name)), " ")
}
