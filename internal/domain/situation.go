package domain

// DomainDescriptor describes one retrieval lens: a named domain with
// keyword signals and entity-type affinities. Descriptors are
// append-only once registered.
type DomainDescriptor struct {
	Key         string       `json:"key"`
	Description string       `json:"description"`
	Signals     []string     `json:"signals"`
	Affinities  []EntityType `json:"affinities"`
}

// SituationModel is the classifier's view of the current moment: a
// weight per active domain and the top-3 primary domains. Domain
// weights re-rank retrieval results, never filter them.
type SituationModel struct {
	Domains map[string]float64 `json:"domains"`
	Goal    string             `json:"goal,omitempty"`
	Primary []string           `json:"primary,omitempty"`
}

// Active reports whether the domain carries any weight in this
// situation.
func (s SituationModel) Active(key string) bool {
	return s.Domains[key] > 0
}
