package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/mnemo-ai/mnemo/internal/service"
)

type MemoryHandler struct {
	manager *service.Manager
}

func NewMemoryHandler(m *service.Manager) *MemoryHandler {
	return &MemoryHandler{manager: m}
}

type addMessageRequest struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

// AddMessage feeds one conversation message into memory.
func (h *MemoryHandler) AddMessage(w http.ResponseWriter, r *http.Request) {
	var req addMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Role == "" || req.Text == "" {
		writeError(w, http.StatusBadRequest, "role and text are required")
		return
	}

	h.manager.AddMessage(r.Context(), req.Role, req.Text)
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

type buildContextRequest struct {
	Query       string `json:"query"`
	TokenBudget int    `json:"token_budget"`
}

// BuildContext assembles budgeted context for a query.
func (h *MemoryHandler) BuildContext(w http.ResponseWriter, r *http.Request) {
	var req buildContextRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Query == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}

	bundle := h.manager.BuildContext(r.Context(), req.Query, req.TokenBudget)
	writeJSON(w, http.StatusOK, bundle)
}

// SearchHistory queries past conversation chunks.
func (h *MemoryHandler) SearchHistory(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if query == "" {
		writeError(w, http.StatusBadRequest, "q is required")
		return
	}
	limit := queryLimit(r, 10)
	excludeCurrent := r.URL.Query().Get("exclude_current") == "true"

	results := h.manager.SearchHistory(r.Context(), query, limit, excludeCurrent)
	writeJSON(w, http.StatusOK, map[string]any{"results": results, "count": len(results)})
}

// Flush forces all dirty stores to disk.
func (h *MemoryHandler) Flush(w http.ResponseWriter, r *http.Request) {
	if err := h.manager.Flush(); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "flushed"})
}

// Clear wipes all persistent memory.
func (h *MemoryHandler) Clear(w http.ResponseWriter, r *http.Request) {
	if err := h.manager.Clear(); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

func queryLimit(r *http.Request, def int) int {
	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || limit <= 0 {
		return def
	}
	return limit
}
