package domain

import (
	"testing"
	"time"
)

func TestEvidence_Confidence(t *testing.T) {
	tests := []struct {
		name           string
		confirmations  int
		contradictions int
		want           float64
	}{
		{"no evidence defaults to 0.5", 0, 0, 0.5},
		{"three for one against", 3, 1, 0.6},
		{"pure confirmation", 4, 0, 1.0},
		{"pure contradiction", 0, 2, 0.0},
		{"balanced leans negative", 2, 2, 2.0 / 6.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := Evidence{Confirmations: tt.confirmations, Contradictions: tt.contradictions}
			got := e.Confidence()
			if got < tt.want-1e-9 || got > tt.want+1e-9 {
				t.Errorf("Confidence() = %f, want %f", got, tt.want)
			}
		})
	}
}

func TestEvidence_ConfidenceBounded(t *testing.T) {
	cases := []Evidence{
		{},
		{Confirmations: 100},
		{Contradictions: 100},
		{Confirmations: 7, Contradictions: 13},
	}
	for _, e := range cases {
		c := e.Confidence()
		if c < 0 || c > 1 {
			t.Errorf("Confidence() = %f out of [0,1] for %+v", c, e)
		}
	}
}

func TestEvidence_ConfirmTracksSources(t *testing.T) {
	e := NewEvidence("chat")
	e.Confirm("chat")
	e.Confirm("tool")

	if e.Confirmations != 3 {
		t.Errorf("Confirmations = %d, want 3", e.Confirmations)
	}
	if len(e.Sources) != 2 {
		t.Errorf("Sources = %v, want deduplicated pair", e.Sources)
	}
}

func TestMergeEvidence(t *testing.T) {
	early := time.Now().Add(-time.Hour)
	late := time.Now()

	a := Evidence{Confirmations: 2, Contradictions: 1, Sources: []string{"chat"}, LastConfirmedAt: early}
	b := Evidence{Confirmations: 3, Sources: []string{"chat", "tool"}, LastConfirmedAt: late}

	merged := MergeEvidence(a, b)

	if merged.Confirmations != 5 {
		t.Errorf("Confirmations = %d, want 5", merged.Confirmations)
	}
	if merged.Contradictions != 1 {
		t.Errorf("Contradictions = %d, want 1", merged.Contradictions)
	}
	if len(merged.Sources) != 2 {
		t.Errorf("Sources = %v, want union of 2", merged.Sources)
	}
	if !merged.LastConfirmedAt.Equal(late) {
		t.Errorf("LastConfirmedAt = %v, want %v", merged.LastConfirmedAt, late)
	}
}

func TestStage_NextNeverSkips(t *testing.T) {
	s := StageObservation
	var seen []MemoryStage
	for {
		seen = append(seen, s)
		next, ok := s.Next()
		if !ok {
			break
		}
		if next.Rank() != s.Rank()+1 {
			t.Fatalf("Next() jumped from %s to %s", s, next)
		}
		s = next
	}
	if len(seen) != 5 || seen[4] != StageTrait {
		t.Errorf("ladder = %v, want five stages ending in trait", seen)
	}
}

func TestStage_Weights(t *testing.T) {
	tests := []struct {
		stage MemoryStage
		want  float64
	}{
		{StageObservation, 0.3},
		{StageEpisode, 0.4},
		{StageFact, 0.7},
		{StageBelief, 0.9},
		{StageTrait, 1.0},
		{MemoryStage("bogus"), 0.3},
	}
	for _, tt := range tests {
		if got := tt.stage.Weight(); got != tt.want {
			t.Errorf("%s.Weight() = %f, want %f", tt.stage, got, tt.want)
		}
	}
}
