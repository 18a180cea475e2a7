package service

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/mnemo-ai/mnemo/internal/domain"
	"github.com/mnemo-ai/mnemo/internal/store"
	"go.uber.org/zap"
)

const (
	extractionQueueSize = 64
	extractionTimeout   = 30 * time.Second
)

// extractionJob carries one exchange to the background extractor.
type extractionJob struct {
	UserText      string
	AssistantText string
	SessionID     string
}

// Extractor pulls structured knowledge out of finished exchanges
// without blocking the conversational path. Jobs flow through a
// bounded queue; when the queue is full new jobs are dropped, and an
// extraction failure never surfaces to the caller. Extracted entities
// and relations are merged into the graph additively.
type Extractor struct {
	graph  *store.GraphStore
	client domain.LLMClient
	logger *zap.Logger

	jobs   chan extractionJob
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewExtractor creates the worker. A nil client disables extraction;
// Enqueue becomes a no-op.
func NewExtractor(graph *store.GraphStore, client domain.LLMClient, logger *zap.Logger) *Extractor {
	return &Extractor{
		graph:  graph,
		client: client,
		logger: logger,
		jobs:   make(chan extractionJob, extractionQueueSize),
		stopCh: make(chan struct{}),
	}
}

// Start launches the worker goroutine.
func (e *Extractor) Start() {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		for {
			select {
			case job := <-e.jobs:
				e.process(job)
			case <-e.stopCh:
				// Drain whatever is already queued before exiting.
				for {
					select {
					case job := <-e.jobs:
						e.process(job)
					default:
						return
					}
				}
			}
		}
	}()
}

// Stop shuts the worker down after draining queued jobs.
func (e *Extractor) Stop() {
	close(e.stopCh)
	e.wg.Wait()
}

// Enqueue hands an exchange to the extractor. It never blocks: if the
// queue is full the job is dropped and logged.
func (e *Extractor) Enqueue(userText, assistantText, sessionID string) {
	if e.client == nil {
		return
	}
	job := extractionJob{UserText: userText, AssistantText: assistantText, SessionID: sessionID}
	select {
	case e.jobs <- job:
	default:
		e.logger.Debug("extraction queue full, dropping exchange", zap.String("session_id", sessionID))
	}
}

func (e *Extractor) process(job extractionJob) {
	ctx, cancel := context.WithTimeout(context.Background(), extractionTimeout)
	defer cancel()

	raw, err := e.client.ExtractKnowledge(ctx, buildExtractionPrompt(job.UserText, job.AssistantText))
	if err != nil {
		e.logger.Debug("knowledge extraction failed", zap.Error(err))
		return
	}

	extracted, err := parseExtraction(raw)
	if err != nil {
		e.logger.Debug("knowledge extraction returned malformed output", zap.Error(err))
		return
	}
	if len(extracted.Entities) == 0 && len(extracted.Relations) == 0 {
		return
	}

	e.graph.MergeExtracted(extracted, "extraction:"+job.SessionID)
	e.logger.Debug("merged extracted knowledge",
		zap.Int("entities", len(extracted.Entities)),
		zap.Int("relations", len(extracted.Relations)))
}

// parseExtraction tolerates models that wrap JSON in prose or code
// fences by slicing out the outermost object.
func parseExtraction(raw string) (*domain.ExtractedKnowledge, error) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start >= 0 && end > start {
		raw = raw[start : end+1]
	}
	var extracted domain.ExtractedKnowledge
	if err := json.Unmarshal([]byte(raw), &extracted); err != nil {
		return nil, err
	}
	return &extracted, nil
}

func buildExtractionPrompt(userText, assistantText string) string {
	var b strings.Builder
	b.WriteString(`Extract durable knowledge from this exchange as JSON.
Return only a JSON object of the form:
{"entities":[{"name":"...","type":"person|project|technology|preference|concept|organization|event|place|tool","facts":["..."]}],"relations":[{"from":"...","to":"...","type":"uses|prefers|works_on|knows|part_of|depends_on|relates_to"}]}
Only include things worth remembering across sessions: people, projects,
tools, stable preferences, decisions. Skip pleasantries and one-off detail.
Return {"entities":[],"relations":[]} if nothing qualifies.

User: `)
	b.WriteString(userText)
	b.WriteString("\nAssistant: ")
	b.WriteString(assistantText)
	return b.String()
}
