//go:build integration

package repositories

import (
	"context"
	"errors"
	"testing"

	"github.com/wut-feedback/feedback-engine/pkg/apperrors"
	"github.com/wut-feedback/feedback-engine/pkg/models"
	"github.com/wut-feedback/feedback-engine/pkg/testhelpers"
)

func setupBulkImportTest(t *testing.T) BulkImportRepository {
	t.Helper()

	testDB := testhelpers.GetTestDB(t)
	testhelpers.TruncateAll(t, testDB.Pool)

	return NewBulkImportRepository(testDB.Pool)
}

func TestBulkImportRepository_Lifecycle(t *testing.T) {
	repo := setupBulkImportTest(t)
	ctx := context.Background()

	log := &models.BulkImportLog{Platform: "telegram"}
	if err := repo.Create(ctx, log); err != nil {
		t.Fatalf("failed to create log: %v", err)
	}
	if log.Status != models.BulkImportRunning {
		t.Errorf("expected running status, got %s", log.Status)
	}

	log.Scanned = 100
	log.Accepted = 40
	log.Rejected = 55
	log.Failed = 5
	log.Watermark = 1234
	if err := repo.UpdateProgress(ctx, log); err != nil {
		t.Fatalf("failed to update progress: %v", err)
	}

	log.Status = models.BulkImportCompleted
	if err := repo.Complete(ctx, log); err != nil {
		t.Fatalf("failed to complete log: %v", err)
	}
	if log.CompletedAt == nil {
		t.Error("expected completed_at to be set")
	}

	got, err := repo.Latest(ctx, "telegram")
	if err != nil {
		t.Fatalf("failed to get latest log: %v", err)
	}
	if got.Watermark != 1234 || got.Status != models.BulkImportCompleted {
		t.Errorf("unexpected log: %+v", got)
	}
	if got.Resumable() {
		t.Error("completed run must not be resumable")
	}
}

func TestBulkImportRepository_Latest_ReturnsNewestRun(t *testing.T) {
	repo := setupBulkImportTest(t)
	ctx := context.Background()

	old := &models.BulkImportLog{Platform: "telegram"}
	if err := repo.Create(ctx, old); err != nil {
		t.Fatalf("failed to create log: %v", err)
	}
	old.Status = models.BulkImportFailed
	old.Watermark = 50
	old.Error = "source unavailable"
	if err := repo.Complete(ctx, old); err != nil {
		t.Fatalf("failed to complete log: %v", err)
	}

	got, err := repo.Latest(ctx, "telegram")
	if err != nil {
		t.Fatalf("failed to get latest: %v", err)
	}
	if !got.Resumable() {
		t.Error("failed run with watermark should be resumable")
	}
}

func TestBulkImportRepository_Latest_NotFound(t *testing.T) {
	repo := setupBulkImportTest(t)

	_, err := repo.Latest(context.Background(), "telegram")
	if !errors.Is(err, apperrors.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
