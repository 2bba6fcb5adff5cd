package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/wut-feedback/feedback-engine/pkg/models"
	"github.com/wut-feedback/feedback-engine/pkg/services"
)

type stubAnalytics struct {
	topFunc      func(ctx context.Context, minFeedbacks int64, limit int) ([]*models.Professor, error)
	bottomFunc   func(ctx context.Context, minFeedbacks int64, limit int) ([]*models.Professor, error)
	overviewFunc func(ctx context.Context) (*services.Overview, error)
	recentFunc   func(ctx context.Context, limit int) ([]*models.UserQuery, error)
}

func (s *stubAnalytics) TopProfessors(ctx context.Context, minFeedbacks int64, limit int) ([]*models.Professor, error) {
	return s.topFunc(ctx, minFeedbacks, limit)
}

func (s *stubAnalytics) BottomProfessors(ctx context.Context, minFeedbacks int64, limit int) ([]*models.Professor, error) {
	return s.bottomFunc(ctx, minFeedbacks, limit)
}

func (s *stubAnalytics) Overview(ctx context.Context) (*services.Overview, error) {
	return s.overviewFunc(ctx)
}

func (s *stubAnalytics) RecentQueries(ctx context.Context, limit int) ([]*models.UserQuery, error) {
	return s.recentFunc(ctx, limit)
}

var _ services.AnalyticsService = (*stubAnalytics)(nil)

func newAnalyticsMux(stub *stubAnalytics) *http.ServeMux {
	mux := http.NewServeMux()
	NewAnalyticsHandler(stub, 3, zap.NewNop()).RegisterRoutes(mux)
	return mux
}

func TestTop_DefaultsFloorAndLimit(t *testing.T) {
	stub := &stubAnalytics{
		topFunc: func(ctx context.Context, minFeedbacks int64, limit int) ([]*models.Professor, error) {
			assert.Equal(t, int64(3), minFeedbacks)
			assert.Equal(t, 10, limit)
			return []*models.Professor{{ID: 1, Name: "Aziz Karimov", RatingMean: 4.8}}, nil
		},
	}
	mux := newAnalyticsMux(stub)

	req := httptest.NewRequest(http.MethodGet, "/api/analytics/top", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Aziz Karimov")
}

func TestBottom_PassesParams(t *testing.T) {
	stub := &stubAnalytics{
		bottomFunc: func(ctx context.Context, minFeedbacks int64, limit int) ([]*models.Professor, error) {
			assert.Equal(t, int64(5), minFeedbacks)
			assert.Equal(t, 2, limit)
			return nil, nil
		},
	}
	mux := newAnalyticsMux(stub)

	req := httptest.NewRequest(http.MethodGet, "/api/analytics/bottom?limit=2&min=5", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestOverview_EncodesPayload(t *testing.T) {
	stub := &stubAnalytics{
		overviewFunc: func(ctx context.Context) (*services.Overview, error) {
			return &services.Overview{
				Professors:   7,
				TopStrengths: []services.TraitCount{{Trait: "clear lectures", Count: 4}},
			}, nil
		},
	}
	mux := newAnalyticsMux(stub)

	req := httptest.NewRequest(http.MethodGet, "/api/analytics/overview", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var overview services.Overview
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&overview))
	assert.Equal(t, int64(7), overview.Professors)
	require.Len(t, overview.TopStrengths, 1)
	assert.Equal(t, "clear lectures", overview.TopStrengths[0].Trait)
}

func TestRecentQueries_InvalidLimitFallsBack(t *testing.T) {
	stub := &stubAnalytics{
		recentFunc: func(ctx context.Context, limit int) ([]*models.UserQuery, error) {
			assert.Equal(t, 20, limit)
			return nil, nil
		},
	}
	mux := newAnalyticsMux(stub)

	req := httptest.NewRequest(http.MethodGet, "/api/analytics/queries?limit=-4", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}
