package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/mnemo-ai/mnemo/internal/domain"
	"github.com/mnemo-ai/mnemo/internal/service"
	"github.com/mnemo-ai/mnemo/internal/store"
)

type KnowledgeHandler struct {
	manager *service.Manager
	graph   *store.GraphStore
}

func NewKnowledgeHandler(m *service.Manager, g *store.GraphStore) *KnowledgeHandler {
	return &KnowledgeHandler{manager: m, graph: g}
}

type saveKnowledgeRequest struct {
	Text     string `json:"text"`
	Category string `json:"category"`
	Source   string `json:"source"`
}

// Save stores explicit knowledge, pattern-matched into graph structure.
func (h *KnowledgeHandler) Save(w http.ResponseWriter, r *http.Request) {
	var req saveKnowledgeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Text == "" {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}

	h.manager.SaveKnowledge(req.Text, req.Category, req.Source)
	writeJSON(w, http.StatusCreated, map[string]string{"status": "saved"})
}

// Search runs combined graph and conversational retrieval.
func (h *KnowledgeHandler) Search(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if query == "" {
		writeError(w, http.StatusBadRequest, "q is required")
		return
	}
	limit := queryLimit(r, 10)

	hits := h.manager.SearchKnowledge(r.Context(), query, limit)
	writeJSON(w, http.StatusOK, map[string]any{"results": hits, "count": len(hits)})
}

type createEntityRequest struct {
	Name   string   `json:"name"`
	Type   string   `json:"type"`
	Facts  []string `json:"facts"`
	Source string   `json:"source"`
}

// CreateEntity adds or reinforces a graph entity.
func (h *KnowledgeHandler) CreateEntity(w http.ResponseWriter, r *http.Request) {
	var req createEntityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	if req.Source == "" {
		req.Source = "api"
	}

	entity := h.graph.AddEntity(req.Name, domain.NormalizeEntityType(req.Type), req.Facts, req.Source)
	writeJSON(w, http.StatusCreated, entity)
}

// GetEntity fetches one entity with its nearest relations.
func (h *KnowledgeHandler) GetEntity(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	entity, ok := h.graph.Get(name)
	if !ok {
		writeError(w, http.StatusNotFound, "entity not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"entity":    entity,
		"neighbors": h.graph.Neighbors(name, 10),
	})
}

type createRelationRequest struct {
	From    string `json:"from"`
	To      string `json:"to"`
	Type    string `json:"type"`
	Source  string `json:"source"`
	Context string `json:"context"`
}

// CreateRelation adds or reinforces an edge between entities.
func (h *KnowledgeHandler) CreateRelation(w http.ResponseWriter, r *http.Request) {
	var req createRelationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.From == "" || req.To == "" {
		writeError(w, http.StatusBadRequest, "from and to are required")
		return
	}
	if req.Source == "" {
		req.Source = "api"
	}

	relation := h.graph.AddRelation(req.From, req.To, req.Type, req.Source, req.Context)
	writeJSON(w, http.StatusCreated, relation)
}

type selfObservationRequest struct {
	Content string `json:"content"`
	Source  string `json:"source"`
}

// RecordSelfObservation appends an observation about the agent itself.
func (h *KnowledgeHandler) RecordSelfObservation(w http.ResponseWriter, r *http.Request) {
	var req selfObservationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Content == "" {
		writeError(w, http.StatusBadRequest, "content is required")
		return
	}
	if req.Source == "" {
		req.Source = "api"
	}

	h.manager.RecordSelfObservation(req.Content, req.Source)
	writeJSON(w, http.StatusCreated, map[string]string{"status": "recorded"})
}
