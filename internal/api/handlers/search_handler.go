package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	middleware "github.com/docsage-ai/docsage-backend/internal/api/middlewares"
	"github.com/docsage-ai/docsage-backend/internal/core/gate"
	"github.com/docsage-ai/docsage-backend/internal/core/rag"
	"github.com/docsage-ai/docsage-backend/internal/logger"
	"github.com/docsage-ai/docsage-backend/internal/security"
	"github.com/docsage-ai/docsage-backend/internal/services"
)

type SearchHandler struct {
	search *services.SearchService
	log    *logger.Logger
}

func NewSearchHandler(search *services.SearchService, log *logger.Logger) *SearchHandler {
	return &SearchHandler{search: search, log: log.With("handler", "search")}
}

type searchRequest struct {
	Query       string   `json:"query"`
	DocumentIDs []string `json:"document_ids"`
	Limit       int      `json:"limit"`
	// Pointer so an absent field defaults to true.
	IncludeImages *bool `json:"include_images"`
}

func (r *searchRequest) includeImages() bool {
	return r.IncludeImages == nil || *r.IncludeImages
}

// Search returns raw retrieval results without generation.
func (h *SearchHandler) Search(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Query == "" {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}

	results, err := h.search.Search(r.Context(), userID, req.Query, req.DocumentIDs, req.Limit, req.includeImages())
	if err != nil {
		h.fail(w, err, userID)
		return
	}
	if results == nil {
		results = []rag.SearchResult{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

// Ask retrieves context and generates an answer with sources.
func (h *SearchHandler) Ask(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Query == "" {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}

	resp, err := h.search.Ask(r.Context(), userID, req.Query, req.DocumentIDs)
	if err != nil {
		h.fail(w, err, userID)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// fail maps service errors onto HTTP statuses.
func (h *SearchHandler) fail(w http.ResponseWriter, err error, userID string) {
	switch {
	case errors.Is(err, gate.ErrBusy):
		writeError(w, http.StatusServiceUnavailable, "server is busy, try again shortly")
	case errors.Is(err, security.ErrPromptInjection):
		writeError(w, http.StatusBadRequest, "query rejected")
	default:
		h.log.Error("search failed", "user_id", userID, "error", err)
		writeError(w, http.StatusInternalServerError, "search failed")
	}
}
