package domain

// MemoryStage is the lifecycle position of an observation or relation.
// Knowledge enters the system as a raw observation and is promoted one
// stage at a time by consolidation as evidence accumulates.
type MemoryStage string

const (
	StageObservation MemoryStage = "observation"
	StageEpisode     MemoryStage = "episode"
	StageFact        MemoryStage = "fact"
	StageBelief      MemoryStage = "belief"
	StageTrait       MemoryStage = "trait"
)

// StageWeights are the fixed trust multipliers per stage.
var StageWeights = map[MemoryStage]float64{
	StageObservation: 0.3,
	StageEpisode:     0.4,
	StageFact:        0.7,
	StageBelief:      0.9,
	StageTrait:       1.0,
}

var stageOrder = []MemoryStage{StageObservation, StageEpisode, StageFact, StageBelief, StageTrait}

// Weight returns the stage's trust multiplier. Unknown stages weigh
// like raw observations.
func (s MemoryStage) Weight() float64 {
	if w, ok := StageWeights[s]; ok {
		return w
	}
	return StageWeights[StageObservation]
}

// Rank returns the stage's position in the promotion ladder (0-based).
func (s MemoryStage) Rank() int {
	for i, st := range stageOrder {
		if st == s {
			return i
		}
	}
	return 0
}

// Next returns the next stage up the ladder, or false if the stage is
// already terminal.
func (s MemoryStage) Next() (MemoryStage, bool) {
	r := s.Rank()
	if r >= len(stageOrder)-1 {
		return s, false
	}
	return stageOrder[r+1], true
}

// MaxStage returns the higher-ranked of two stages.
func MaxStage(a, b MemoryStage) MemoryStage {
	if b.Rank() > a.Rank() {
		return b
	}
	return a
}

// ValidStage reports whether s names a stage on the ladder.
func ValidStage(s string) bool {
	_, ok := StageWeights[MemoryStage(s)]
	return ok
}

// AllStages returns the promotion ladder in order.
func AllStages() []MemoryStage {
	out := make([]MemoryStage, len(stageOrder))
	copy(out, stageOrder)
	return out
}
