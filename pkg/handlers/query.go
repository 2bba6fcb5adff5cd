package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/wut-feedback/feedback-engine/pkg/services"
)

// QueryHandler exposes the retrieval engine over HTTP.
type QueryHandler struct {
	retrieval services.RetrievalService
	logger    *zap.Logger
}

// NewQueryHandler creates a QueryHandler.
func NewQueryHandler(retrieval services.RetrievalService, logger *zap.Logger) *QueryHandler {
	return &QueryHandler{retrieval: retrieval, logger: logger}
}

// RegisterRoutes registers the query routes on the given mux.
func (h *QueryHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/query", h.Query)
	mux.HandleFunc("GET /api/search", h.Search)
	mux.HandleFunc("GET /api/professors/{name}", h.Profile)
	mux.HandleFunc("GET /api/compare", h.Compare)
	mux.HandleFunc("GET /api/courses/{ref}", h.Course)
	mux.HandleFunc("GET /api/semantic", h.Semantic)
}

// QueryRequest is the body of POST /api/query.
type QueryRequest struct {
	Query string `json:"query"`
}

// Query classifies a free-form question and dispatches it.
func (h *QueryHandler) Query(w http.ResponseWriter, r *http.Request) {
	var req QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_body", "request body must be JSON")
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		_ = ErrorResponse(w, http.StatusBadRequest, "missing_query", "query is required")
		return
	}

	resp, err := h.retrieval.HandleQuery(r.Context(), req.Query)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	if err := WriteJSON(w, http.StatusOK, resp); err != nil {
		h.logger.Error("Failed to encode query response", zap.Error(err))
	}
}

// Search handles GET /api/search?q=name.
func (h *QueryHandler) Search(w http.ResponseWriter, r *http.Request) {
	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" {
		_ = ErrorResponse(w, http.StatusBadRequest, "missing_query", "q is required")
		return
	}

	matches, err := h.retrieval.Search(r.Context(), query)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	if err := WriteJSON(w, http.StatusOK, map[string]any{"results": matches}); err != nil {
		h.logger.Error("Failed to encode search response", zap.Error(err))
	}
}

// Profile handles GET /api/professors/{name}.
func (h *QueryHandler) Profile(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	summary, err := h.retrieval.Profile(r.Context(), name)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	if err := WriteJSON(w, http.StatusOK, summary); err != nil {
		h.logger.Error("Failed to encode profile response", zap.Error(err))
	}
}

// Compare handles GET /api/compare?a=name&b=name&narrative=true.
func (h *QueryHandler) Compare(w http.ResponseWriter, r *http.Request) {
	a := strings.TrimSpace(r.URL.Query().Get("a"))
	b := strings.TrimSpace(r.URL.Query().Get("b"))
	if a == "" || b == "" {
		_ = ErrorResponse(w, http.StatusBadRequest, "missing_names", "a and b are required")
		return
	}
	narrative := r.URL.Query().Get("narrative") == "true"

	cmp, err := h.retrieval.Compare(r.Context(), a, b, narrative)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	if err := WriteJSON(w, http.StatusOK, cmp); err != nil {
		h.logger.Error("Failed to encode compare response", zap.Error(err))
	}
}

// Course handles GET /api/courses/{ref}.
func (h *QueryHandler) Course(w http.ResponseWriter, r *http.Request) {
	ref := r.PathValue("ref")
	ranking, err := h.retrieval.CourseLookup(r.Context(), ref)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	if err := WriteJSON(w, http.StatusOK, ranking); err != nil {
		h.logger.Error("Failed to encode course response", zap.Error(err))
	}
}

// Semantic handles GET /api/semantic?q=text&k=5.
func (h *QueryHandler) Semantic(w http.ResponseWriter, r *http.Request) {
	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" {
		_ = ErrorResponse(w, http.StatusBadRequest, "missing_query", "q is required")
		return
	}
	topK := 0
	if raw := r.URL.Query().Get("k"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			_ = ErrorResponse(w, http.StatusBadRequest, "invalid_k", "k must be a positive integer")
			return
		}
		topK = parsed
	}

	hits, err := h.retrieval.SemanticSearch(r.Context(), query, topK)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	if err := WriteJSON(w, http.StatusOK, map[string]any{"results": hits}); err != nil {
		h.logger.Error("Failed to encode semantic response", zap.Error(err))
	}
}
