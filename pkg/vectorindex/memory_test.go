package vectorindex

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemory_QueryRanksByCosine(t *testing.T) {
	ctx := context.Background()
	idx := NewMemory()
	require.NoError(t, idx.Init(ctx, 3))

	require.NoError(t, idx.Upsert(ctx, []Point{
		{FeedbackID: 1, ProfessorID: 10, Vector: []float32{1, 0, 0}},
		{FeedbackID: 2, ProfessorID: 10, Vector: []float32{0, 1, 0}},
		{FeedbackID: 3, ProfessorID: 20, Vector: []float32{0.9, 0.1, 0}},
	}))

	results, err := idx.Query(ctx, []float32{1, 0, 0}, 2)
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, int64(1), results[0].FeedbackID)
	assert.InDelta(t, 1.0, results[0].Score, 1e-9)
	assert.Equal(t, int64(3), results[1].FeedbackID)
	assert.Greater(t, results[0].Score, results[1].Score)
}

func TestMemory_UpsertReplacesExistingPoint(t *testing.T) {
	ctx := context.Background()
	idx := NewMemory()
	require.NoError(t, idx.Init(ctx, 2))

	require.NoError(t, idx.Upsert(ctx, []Point{{FeedbackID: 1, Vector: []float32{1, 0}}}))
	require.NoError(t, idx.Upsert(ctx, []Point{{FeedbackID: 1, Vector: []float32{0, 1}}}))

	assert.Equal(t, 1, idx.Len())

	results, err := idx.Query(ctx, []float32{0, 1}, 1)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, results[0].Score, 1e-9)
}

func TestMemory_DimensionMismatchRejected(t *testing.T) {
	ctx := context.Background()
	idx := NewMemory()
	require.NoError(t, idx.Init(ctx, 3))

	err := idx.Upsert(ctx, []Point{{FeedbackID: 1, Vector: []float32{1, 0}}})
	assert.Error(t, err)
	assert.Equal(t, 0, idx.Len())
}

func TestMemory_Delete(t *testing.T) {
	ctx := context.Background()
	idx := NewMemory()
	require.NoError(t, idx.Init(ctx, 2))

	require.NoError(t, idx.Upsert(ctx, []Point{
		{FeedbackID: 1, Vector: []float32{1, 0}},
		{FeedbackID: 2, Vector: []float32{0, 1}},
	}))

	require.NoError(t, idx.Delete(ctx, []int64{1, 99}))
	assert.Equal(t, 1, idx.Len())

	results, err := idx.Query(ctx, []float32{1, 0}, 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, int64(2), results[0].FeedbackID)
}

func TestMemory_ZeroVectorScoresZero(t *testing.T) {
	ctx := context.Background()
	idx := NewMemory()
	require.NoError(t, idx.Init(ctx, 2))

	require.NoError(t, idx.Upsert(ctx, []Point{{FeedbackID: 1, Vector: []float32{0, 0}}}))

	results, err := idx.Query(ctx, []float32{1, 0}, 1)
	require.NoError(t, err)
	assert.Zero(t, results[0].Score)
}
