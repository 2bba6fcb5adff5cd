package handlers

import (
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/wut-feedback/feedback-engine/pkg/services"
)

// AnalyticsHandler exposes rankings and corpus statistics.
type AnalyticsHandler struct {
	analytics    services.AnalyticsService
	minFeedbacks int64
	logger       *zap.Logger
}

// NewAnalyticsHandler creates an AnalyticsHandler. minFeedbacks is the
// default ranking floor when the request does not set one.
func NewAnalyticsHandler(analytics services.AnalyticsService, minFeedbacks int64, logger *zap.Logger) *AnalyticsHandler {
	return &AnalyticsHandler{analytics: analytics, minFeedbacks: minFeedbacks, logger: logger}
}

// RegisterRoutes registers the analytics routes on the given mux.
func (h *AnalyticsHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/analytics/overview", h.Overview)
	mux.HandleFunc("GET /api/analytics/top", h.Top)
	mux.HandleFunc("GET /api/analytics/bottom", h.Bottom)
	mux.HandleFunc("GET /api/analytics/queries", h.RecentQueries)
}

// Overview handles GET /api/analytics/overview.
func (h *AnalyticsHandler) Overview(w http.ResponseWriter, r *http.Request) {
	overview, err := h.analytics.Overview(r.Context())
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	if err := WriteJSON(w, http.StatusOK, overview); err != nil {
		h.logger.Error("Failed to encode overview response", zap.Error(err))
	}
}

// Top handles GET /api/analytics/top?limit=10&min=3.
func (h *AnalyticsHandler) Top(w http.ResponseWriter, r *http.Request) {
	h.ranked(w, r, false)
}

// Bottom handles GET /api/analytics/bottom?limit=10&min=3.
func (h *AnalyticsHandler) Bottom(w http.ResponseWriter, r *http.Request) {
	h.ranked(w, r, true)
}

func (h *AnalyticsHandler) ranked(w http.ResponseWriter, r *http.Request, ascending bool) {
	limit := intParam(r, "limit", 10)
	min := int64(intParam(r, "min", int(h.minFeedbacks)))

	var (
		professors any
		err        error
	)
	if ascending {
		professors, err = h.analytics.BottomProfessors(r.Context(), min, limit)
	} else {
		professors, err = h.analytics.TopProfessors(r.Context(), min, limit)
	}
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	if err := WriteJSON(w, http.StatusOK, map[string]any{"professors": professors}); err != nil {
		h.logger.Error("Failed to encode ranking response", zap.Error(err))
	}
}

// RecentQueries handles GET /api/analytics/queries?limit=20.
func (h *AnalyticsHandler) RecentQueries(w http.ResponseWriter, r *http.Request) {
	queries, err := h.analytics.RecentQueries(r.Context(), intParam(r, "limit", 20))
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	if err := WriteJSON(w, http.StatusOK, map[string]any{"queries": queries}); err != nil {
		h.logger.Error("Failed to encode queries response", zap.Error(err))
	}
}

func intParam(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil || parsed < 1 {
		return fallback
	}
	return parsed
}
