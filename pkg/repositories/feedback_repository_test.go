//go:build integration

package repositories

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/wut-feedback/feedback-engine/pkg/apperrors"
	"github.com/wut-feedback/feedback-engine/pkg/models"
	"github.com/wut-feedback/feedback-engine/pkg/testhelpers"
)

type feedbackTestContext struct {
	t         *testing.T
	testDB    *testhelpers.TestDB
	repo      FeedbackRepository
	profRepo  ProfessorRepository
	crsRepo   CourseRepository
	professor *models.Professor
}

func setupFeedbackTest(t *testing.T) *feedbackTestContext {
	t.Helper()

	testDB := testhelpers.GetTestDB(t)
	testhelpers.TruncateAll(t, testDB.Pool)

	tc := &feedbackTestContext{
		t:        t,
		testDB:   testDB,
		repo:     NewFeedbackRepository(testDB.Pool),
		profRepo: NewProfessorRepository(testDB.Pool),
		crsRepo:  NewCourseRepository(testDB.Pool),
	}

	tc.professor = &models.Professor{Name: "John Smith", NormalizedName: "john smith"}
	if err := tc.profRepo.Create(context.Background(), tc.professor); err != nil {
		t.Fatalf("failed to create professor: %v", err)
	}

	return tc
}

func (tc *feedbackTestContext) newFeedback(messageID int64, rating float64, sentiment string) *models.Feedback {
	return &models.Feedback{
		ProfessorID:     tc.professor.ID,
		Platform:        "telegram",
		SourceMessageID: messageID,
		MessageDate:     time.Now().Add(-time.Duration(messageID) * time.Minute),
		Text:            "feedback text",
		Rating:          &rating,
		Sentiment:       sentiment,
		Confidence:      0.9,
	}
}

func TestFeedbackRepository_CreateAndGet(t *testing.T) {
	tc := setupFeedbackTest(t)
	ctx := context.Background()

	fb := tc.newFeedback(100, 4.5, models.SentimentPositive)
	fb.Aspects = map[string]models.AspectScore{
		models.AspectTeachingQuality: {Score: 5, Comment: "engaging lectures"},
	}
	fb.Strengths = []string{"clear explanations"}

	if err := tc.repo.Create(ctx, fb); err != nil {
		t.Fatalf("failed to create feedback: %v", err)
	}

	got, err := tc.repo.GetByID(ctx, fb.ID)
	if err != nil {
		t.Fatalf("failed to get feedback: %v", err)
	}
	if got.Sentiment != models.SentimentPositive || *got.Rating != 4.5 {
		t.Errorf("unexpected feedback: %+v", got)
	}
	if got.Aspects[models.AspectTeachingQuality].Score != 5 {
		t.Errorf("unexpected aspects: %+v", got.Aspects)
	}
	if len(got.Strengths) != 1 || got.Strengths[0] != "clear explanations" {
		t.Errorf("unexpected strengths: %v", got.Strengths)
	}
}

func TestFeedbackRepository_DuplicateSourceRejected(t *testing.T) {
	tc := setupFeedbackTest(t)
	ctx := context.Background()

	if err := tc.repo.Create(ctx, tc.newFeedback(7, 4, models.SentimentPositive)); err != nil {
		t.Fatalf("failed to create feedback: %v", err)
	}

	err := tc.repo.Create(ctx, tc.newFeedback(7, 3, models.SentimentNegative))
	if !errors.Is(err, apperrors.ErrAlreadyProcessed) {
		t.Fatalf("expected ErrAlreadyProcessed, got %v", err)
	}
}

func TestFeedbackRepository_ListByProfessor_ExcludesDeleted(t *testing.T) {
	tc := setupFeedbackTest(t)
	ctx := context.Background()

	first := tc.newFeedback(1, 4, models.SentimentPositive)
	second := tc.newFeedback(2, 3, models.SentimentNeutral)
	for _, fb := range []*models.Feedback{first, second} {
		if err := tc.repo.Create(ctx, fb); err != nil {
			t.Fatalf("failed to create feedback: %v", err)
		}
	}

	if err := tc.repo.SoftDelete(ctx, second.ID); err != nil {
		t.Fatalf("failed to soft-delete: %v", err)
	}

	list, err := tc.repo.ListByProfessor(ctx, tc.professor.ID, 0)
	if err != nil {
		t.Fatalf("failed to list feedbacks: %v", err)
	}
	if len(list) != 1 || list[0].ID != first.ID {
		t.Errorf("expected only the non-deleted feedback, got %d rows", len(list))
	}

	// Deleting twice reports not found.
	if err := tc.repo.SoftDelete(ctx, second.ID); !errors.Is(err, apperrors.ErrNotFound) {
		t.Errorf("expected ErrNotFound on second delete, got %v", err)
	}
}

func TestFeedbackRepository_RankByCourse_FloorApplied(t *testing.T) {
	tc := setupFeedbackTest(t)
	ctx := context.Background()

	course := &models.Course{Code: "COSC 1570", Title: "Intro to Programming"}
	if err := tc.crsRepo.Create(ctx, course); err != nil {
		t.Fatalf("failed to create course: %v", err)
	}

	other := &models.Professor{Name: "Jane Doe", NormalizedName: "jane doe"}
	if err := tc.profRepo.Create(ctx, other); err != nil {
		t.Fatalf("failed to create professor: %v", err)
	}

	// Three rated feedbacks for the main professor, one for the other.
	for i, rating := range []float64{5, 4, 4.5} {
		fb := tc.newFeedback(int64(10+i), rating, models.SentimentPositive)
		fb.CourseID = &course.ID
		if err := tc.repo.Create(ctx, fb); err != nil {
			t.Fatalf("failed to create feedback: %v", err)
		}
	}
	solo := tc.newFeedback(20, 5, models.SentimentPositive)
	solo.ProfessorID = other.ID
	solo.CourseID = &course.ID
	if err := tc.repo.Create(ctx, solo); err != nil {
		t.Fatalf("failed to create feedback: %v", err)
	}

	rankings, err := tc.repo.RankByCourse(ctx, course.ID, 3)
	if err != nil {
		t.Fatalf("failed to rank by course: %v", err)
	}
	if len(rankings) != 1 {
		t.Fatalf("expected 1 professor above floor, got %d", len(rankings))
	}
	if rankings[0].ProfessorID != tc.professor.ID || rankings[0].FeedbackCount != 3 {
		t.Errorf("unexpected ranking row: %+v", rankings[0])
	}
	if rankings[0].MeanRating < 4.49 || rankings[0].MeanRating > 4.51 {
		t.Errorf("unexpected mean rating: %v", rankings[0].MeanRating)
	}
}

func TestFeedbackRepository_Stats(t *testing.T) {
	tc := setupFeedbackTest(t)
	ctx := context.Background()

	for i, s := range []string{
		models.SentimentPositive, models.SentimentPositive, models.SentimentNegative,
	} {
		if err := tc.repo.Create(ctx, tc.newFeedback(int64(30+i), 4, s)); err != nil {
			t.Fatalf("failed to create feedback: %v", err)
		}
	}

	stats, err := tc.repo.Stats(ctx)
	if err != nil {
		t.Fatalf("failed to compute stats: %v", err)
	}
	if stats.TotalFeedbacks != 3 || stats.Positive != 2 || stats.Negative != 1 {
		t.Errorf("unexpected stats: %+v", stats)
	}
	if stats.AverageRating != 4 {
		t.Errorf("unexpected average rating: %v", stats.AverageRating)
	}
}

func TestFeedbackRepository_RecentTraits(t *testing.T) {
	tc := setupFeedbackTest(t)
	ctx := context.Background()

	fb := tc.newFeedback(40, 4, models.SentimentPositive)
	fb.Strengths = []string{"kind", "organized"}
	fb.Weaknesses = []string{"strict grading"}
	if err := tc.repo.Create(ctx, fb); err != nil {
		t.Fatalf("failed to create feedback: %v", err)
	}

	strengths, weaknesses, err := tc.repo.RecentTraits(ctx, 10)
	if err != nil {
		t.Fatalf("failed to load traits: %v", err)
	}
	if len(strengths) != 1 || len(strengths[0]) != 2 {
		t.Errorf("unexpected strengths: %v", strengths)
	}
	if len(weaknesses) != 1 || weaknesses[0][0] != "strict grading" {
		t.Errorf("unexpected weaknesses: %v", weaknesses)
	}
}
