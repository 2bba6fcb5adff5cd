//go:build integration

package repositories

import (
	"context"
	"testing"
	"time"

	"github.com/wut-feedback/feedback-engine/pkg/models"
	"github.com/wut-feedback/feedback-engine/pkg/testhelpers"
)

func TestUserQueryRepository_CreateAndRecent(t *testing.T) {
	testDB := testhelpers.GetTestDB(t)
	testhelpers.TruncateAll(t, testDB.Pool)
	repo := NewUserQueryRepository(testDB.Pool)
	ctx := context.Background()

	uq := &models.UserQuery{
		Query:          "how is john smith?",
		Intent:         models.IntentSearch,
		Professors:     []string{"john smith"},
		ResponseTimeMs: 120,
	}
	if err := repo.Create(ctx, uq); err != nil {
		t.Fatalf("failed to log query: %v", err)
	}
	if uq.ID == 0 {
		t.Fatal("expected assigned id")
	}

	recent, err := repo.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("failed to list recent: %v", err)
	}
	if len(recent) != 1 || recent[0].Intent != models.IntentSearch {
		t.Errorf("unexpected recent queries: %+v", recent)
	}

	count, err := repo.CountSince(ctx, time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("failed to count: %v", err)
	}
	if count != 1 {
		t.Errorf("expected 1 query, got %d", count)
	}
}
