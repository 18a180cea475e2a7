package service

import (
	"testing"

	"github.com/mnemo-ai/mnemo/internal/domain"
	"go.uber.org/zap"
)

func TestClassify_QuerySignals(t *testing.T) {
	c := NewSituationClassifier(zap.NewNop())

	situation := c.Classify("help me debug this function", nil, nil)

	if !situation.Active("coding") {
		t.Fatal("coding domain should be active")
	}
	// Two query signals ("debug", "function") at 0.3 each.
	if w := situation.Domains["coding"]; w < 0.59 || w > 0.61 {
		t.Errorf("coding weight = %f, want 0.6", w)
	}
	if len(situation.Primary) == 0 || situation.Primary[0] != "coding" {
		t.Errorf("primary = %v, want coding first", situation.Primary)
	}
}

func TestClassify_ContextSignalsWeighLess(t *testing.T) {
	c := NewSituationClassifier(zap.NewNop())

	withQuery := c.Classify("fix this bug", nil, nil)
	withContext := c.Classify("anything else", []string{"we found a bug yesterday"}, nil)

	if withQuery.Domains["coding"] <= withContext.Domains["coding"] {
		t.Errorf("query signal (%f) should outweigh context signal (%f)",
			withQuery.Domains["coding"], withContext.Domains["coding"])
	}
}

func TestClassify_AffinityBoost(t *testing.T) {
	c := NewSituationClassifier(zap.NewNop())

	without := c.Classify("tell me about the team", nil, nil)
	with := c.Classify("tell me about the team", nil, []domain.EntityType{domain.EntityPerson})

	if with.Domains["social"]-without.Domains["social"] < 0.14 {
		t.Errorf("active person entity should add affinity weight: %f vs %f",
			with.Domains["social"], without.Domains["social"])
	}
}

func TestClassify_DefaultsToKnowledge(t *testing.T) {
	c := NewSituationClassifier(zap.NewNop())

	situation := c.Classify("xyzzy", nil, nil)

	if len(situation.Domains) != 1 {
		t.Fatalf("domains = %v, want only the fallback", situation.Domains)
	}
	if w := situation.Domains["knowledge"]; w != 0.3 {
		t.Errorf("knowledge fallback weight = %f, want 0.3", w)
	}
}

func TestClassify_WeightCap(t *testing.T) {
	c := NewSituationClassifier(zap.NewNop())

	situation := c.Classify(
		"debug the code bug in this function, compile, test, refactor and implement",
		nil,
		[]domain.EntityType{domain.EntityTechnology})

	if w := situation.Domains["coding"]; w > 1.0 {
		t.Errorf("coding weight = %f, must be capped at 1.0", w)
	}
}

func TestClassify_GoalInference(t *testing.T) {
	c := NewSituationClassifier(zap.NewNop())

	tests := []struct {
		query string
		want  string
	}{
		{"fix the failing deploy", "resolve"},
		{"what should we do next", "plan"},
		{"do you remember what I said about hosting", "recall"},
		{"how does raft work?", "answer"},
		{"hello there", "assist"},
	}
	for _, tt := range tests {
		if got := c.Classify(tt.query, nil, nil).Goal; got != tt.want {
			t.Errorf("goal(%q) = %s, want %s", tt.query, got, tt.want)
		}
	}
}

func TestDomainBoost_Range(t *testing.T) {
	c := NewSituationClassifier(zap.NewNop())
	situation := c.Classify("debug this code", nil, nil)

	matched := c.DomainBoost(domain.EntityTechnology, situation)
	unmatched := c.DomainBoost(domain.EntityPlace, situation)

	if matched <= unmatched {
		t.Errorf("affinity type boost (%f) should exceed non-affinity (%f)", matched, unmatched)
	}
	for _, boost := range []float64{matched, unmatched} {
		if boost < 0.6 || boost > 1.4 {
			t.Errorf("boost %f outside [0.6, 1.4]", boost)
		}
	}
}

func TestObservationDomainBoost_Range(t *testing.T) {
	c := NewSituationClassifier(zap.NewNop())
	situation := c.Classify("debug this code", nil, nil)

	dense := c.ObservationDomainBoost("wrote code to debug the test harness", situation)
	empty := c.ObservationDomainBoost("likes hiking on weekends", situation)

	if dense <= empty {
		t.Errorf("signal-dense text (%f) should beat unrelated text (%f)", dense, empty)
	}
	for _, boost := range []float64{dense, empty} {
		if boost < 0.7 || boost > 1.3 {
			t.Errorf("boost %f outside [0.7, 1.3]", boost)
		}
	}
}

func TestRegistry_RejectsDuplicates(t *testing.T) {
	r := NewSituationRegistry()

	if err := r.Register(domain.DomainDescriptor{Key: "coding"}); err == nil {
		t.Error("duplicate key must be rejected")
	}
	if err := r.Register(domain.DomainDescriptor{Key: " "}); err == nil {
		t.Error("blank key must be rejected")
	}

	custom := domain.DomainDescriptor{
		Key:     "finance",
		Signals: []string{"budget", "invoice"},
	}
	if err := r.Register(custom); err != nil {
		t.Fatalf("register failed: %v", err)
	}
	descriptors := r.Descriptors()
	if descriptors[len(descriptors)-1].Key != "finance" {
		t.Error("new domain should append in registration order")
	}
}
