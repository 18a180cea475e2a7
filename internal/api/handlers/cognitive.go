package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/mnemo-ai/mnemo/internal/service"
	"github.com/mnemo-ai/mnemo/internal/store"
)

type CognitiveHandler struct {
	manager *service.Manager
	graph   *store.GraphStore
	vectors *store.VectorStore
	skills  *store.SkillStore
}

func NewCognitiveHandler(m *service.Manager, g *store.GraphStore, v *store.VectorStore, s *store.SkillStore) *CognitiveHandler {
	return &CognitiveHandler{manager: m, graph: g, vectors: v, skills: s}
}

// TriggerConsolidation runs a consolidation pass immediately.
func (h *CognitiveHandler) TriggerConsolidation(w http.ResponseWriter, r *http.Request) {
	result := h.manager.Consolidate(r.Context())
	writeJSON(w, http.StatusOK, result)
}

// Stats reports the current shape of long-term memory.
func (h *CognitiveHandler) Stats(w http.ResponseWriter, r *http.Request) {
	graphStats := h.graph.Stats()
	writeJSON(w, http.StatusOK, map[string]any{
		"graph":           graphStats,
		"chunks":          h.vectors.Count(),
		"skills":          h.skills.Count(),
		"embeddings_live": h.vectors.EmbeddingsLive(),
		"meta":            h.graph.Meta(),
	})
}

// ListSkills returns every learned skill.
func (h *CognitiveHandler) ListSkills(w http.ResponseWriter, r *http.Request) {
	skills := h.skills.All()
	writeJSON(w, http.StatusOK, map[string]any{"skills": skills, "count": len(skills)})
}

type skillUseRequest struct {
	Success bool `json:"success"`
}

// RecordSkillUse feeds an outcome back into a skill's success rate.
func (h *CognitiveHandler) RecordSkillUse(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req skillUseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.skills.RecordUse(id, req.Success); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "skill not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to record skill use")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "recorded"})
}
