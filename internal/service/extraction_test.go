package service

import (
	"errors"
	"testing"
	"time"

	"github.com/mnemo-ai/mnemo/internal/llm"
	"go.uber.org/zap"
)

func TestParseExtraction_ToleratesWrapping(t *testing.T) {
	cases := []struct {
		name string
		raw  string
	}{
		{"bare", `{"entities":[{"name":"redis","type":"technology","facts":["used as a cache"]}],"relations":[]}`},
		{"fenced", "```json\n{\"entities\":[{\"name\":\"redis\",\"type\":\"technology\"}],\"relations\":[]}\n```"},
		{"prose", `Here is what I found: {"entities":[{"name":"redis","type":"technology"}],"relations":[]} Hope that helps.`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ext, err := parseExtraction(tc.raw)
			if err != nil {
				t.Fatalf("parseExtraction: %v", err)
			}
			if len(ext.Entities) != 1 || ext.Entities[0].Name != "redis" {
				t.Errorf("entities = %+v, want one entity named redis", ext.Entities)
			}
		})
	}

	if _, err := parseExtraction("no json here at all"); err == nil {
		t.Error("expected an error for non-JSON output")
	}
}

func TestExtractor_MergesIntoGraph(t *testing.T) {
	graph, _, _ := newTestStores(t)
	client := llm.NewMockClient()
	client.ExtractResponse = `{"entities":[{"name":"vault","type":"tool","facts":["stores deployment secrets"]}],"relations":[]}`

	e := NewExtractor(graph, client, zap.NewNop())
	e.Start()
	e.Enqueue("how do we manage secrets?", "They live in vault.", "session-1")
	e.Stop()

	entity, ok := graph.Get("vault")
	if !ok {
		t.Fatal("extracted entity was not merged")
	}
	if len(entity.Observations) != 1 {
		t.Errorf("observations = %d, want 1", len(entity.Observations))
	}
}

func TestExtractor_NilClientIsNoop(t *testing.T) {
	graph, _, _ := newTestStores(t)
	e := NewExtractor(graph, nil, zap.NewNop())

	e.Enqueue("hello", "hi", "session-1")
	select {
	case <-e.jobs:
		t.Error("nil client should not enqueue jobs")
	default:
	}
}

func TestExtractor_SwallowsFailures(t *testing.T) {
	graph, _, _ := newTestStores(t)
	client := llm.NewMockClient()
	client.ExtractError = errors.New("model unavailable")

	e := NewExtractor(graph, client, zap.NewNop())
	e.Start()
	before := graph.Mutations()
	e.Enqueue("user", "assistant", "session-1")
	e.Stop()

	time.Sleep(10 * time.Millisecond)
	if graph.Mutations() != before {
		t.Error("a failed extraction must not mutate the graph")
	}
}
