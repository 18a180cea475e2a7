package domain

import "time"

// Evidence backs every observation and relation with confirmation and
// contradiction counters. Contradictions are double-weighted in the
// confidence score, so a single counterexample outweighs a single
// confirmation.
type Evidence struct {
	Confirmations   int       `json:"confirmations"`
	Contradictions  int       `json:"contradictions"`
	Sources         []string  `json:"sources,omitempty"`
	LastConfirmedAt time.Time `json:"last_confirmed_at"`
}

// NewEvidence returns evidence with a single confirmation from source.
func NewEvidence(source string) Evidence {
	e := Evidence{LastConfirmedAt: time.Now()}
	e.Confirmations = 1
	if source != "" {
		e.Sources = []string{source}
	}
	return e
}

// Confidence maps the counters into [0,1]. With no evidence either way
// the answer is 0.5.
func (e Evidence) Confidence() float64 {
	denom := e.Confirmations + 2*e.Contradictions
	if denom == 0 {
		return 0.5
	}
	return float64(e.Confirmations) / float64(denom)
}

// Confirm records one supporting signal.
func (e *Evidence) Confirm(source string) {
	e.Confirmations++
	e.LastConfirmedAt = time.Now()
	e.addSource(source)
}

// Contradict records one opposing signal.
func (e *Evidence) Contradict(source string) {
	e.Contradictions++
	e.addSource(source)
}

func (e *Evidence) addSource(source string) {
	if source == "" {
		return
	}
	for _, s := range e.Sources {
		if s == source {
			return
		}
	}
	e.Sources = append(e.Sources, source)
}

// MergeEvidence unions two evidence records: counters summed, sources
// unioned, last confirmation maxed. Total confirmations never decrease.
func MergeEvidence(a, b Evidence) Evidence {
	merged := Evidence{
		Confirmations:   a.Confirmations + b.Confirmations,
		Contradictions:  a.Contradictions + b.Contradictions,
		LastConfirmedAt: a.LastConfirmedAt,
	}
	if b.LastConfirmedAt.After(merged.LastConfirmedAt) {
		merged.LastConfirmedAt = b.LastConfirmedAt
	}
	merged.Sources = append(merged.Sources, a.Sources...)
	for _, s := range b.Sources {
		merged.addSource(s)
	}
	return merged
}
