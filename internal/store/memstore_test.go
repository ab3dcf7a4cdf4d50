package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrel-eval/kestrel/internal/models"
)

func TestMemStore_RunLifecycle(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()

	run := models.NewRun(models.RunKindEvaluation)
	require.NoError(t, s.CreateRun(ctx, run))

	got, err := s.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusPending, got.Status)

	got.Status = models.RunStatusCompleted
	got.CompletedCount = 4
	require.NoError(t, s.UpdateRun(ctx, got))

	again, err := s.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusCompleted, again.Status)
	assert.Equal(t, 4, again.CompletedCount)
}

func TestMemStore_NotFound(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()
	id := uuid.New()

	_, err := s.GetRun(ctx, id)
	assert.True(t, errors.Is(err, ErrNotFound))

	assert.True(t, errors.Is(s.UpdateRun(ctx, &models.Run{ID: id}), ErrNotFound))
	assert.True(t, errors.Is(s.DeleteRun(ctx, id), ErrNotFound))

	_, err = s.GetTestCase(ctx, id)
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.True(t, errors.Is(s.DeleteTestCase(ctx, id), ErrNotFound))
}

func TestMemStore_CopyOnReadIsolation(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()

	run := models.NewRun(models.RunKindEvaluation)
	require.NoError(t, s.CreateRun(ctx, run))

	// Mutating the caller's struct after Create must not leak into the store.
	run.Status = models.RunStatusFailed
	got, err := s.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusPending, got.Status)

	// Mutating a fetched copy must not change the stored value either.
	got.ErrorMessage = "scribbled"
	fresh, err := s.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Empty(t, fresh.ErrorMessage)
}

func TestMemStore_ListRuns(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()

	base := time.Now().UTC()
	mk := func(kind models.RunKind, status models.RunStatus, age time.Duration) *models.Run {
		run := models.NewRun(kind)
		run.Status = status
		run.CreatedAt = base.Add(-age)
		require.NoError(t, s.CreateRun(ctx, run))
		return run
	}

	oldest := mk(models.RunKindEvaluation, models.RunStatusCompleted, 3*time.Hour)
	conv := mk(models.RunKindConversation, models.RunStatusCompleted, 2*time.Hour)
	newest := mk(models.RunKindEvaluation, models.RunStatusFailed, time.Hour)

	t.Run("newest first", func(t *testing.T) {
		runs, err := s.ListRuns(ctx, RunFilter{})
		require.NoError(t, err)
		require.Len(t, runs, 3)
		assert.Equal(t, newest.ID, runs[0].ID)
		assert.Equal(t, oldest.ID, runs[2].ID)
	})

	t.Run("kind filter", func(t *testing.T) {
		runs, err := s.ListRuns(ctx, RunFilter{Kind: models.RunKindConversation})
		require.NoError(t, err)
		require.Len(t, runs, 1)
		assert.Equal(t, conv.ID, runs[0].ID)
	})

	t.Run("status filter", func(t *testing.T) {
		runs, err := s.ListRuns(ctx, RunFilter{Status: models.RunStatusFailed})
		require.NoError(t, err)
		require.Len(t, runs, 1)
		assert.Equal(t, newest.ID, runs[0].ID)
	})

	t.Run("time range", func(t *testing.T) {
		runs, err := s.ListRuns(ctx, RunFilter{
			CreatedAfter:  base.Add(-150 * time.Minute),
			CreatedBefore: base.Add(-90 * time.Minute),
		})
		require.NoError(t, err)
		require.Len(t, runs, 1)
		assert.Equal(t, conv.ID, runs[0].ID)
	})

	t.Run("limit", func(t *testing.T) {
		runs, err := s.ListRuns(ctx, RunFilter{Limit: 2})
		require.NoError(t, err)
		require.Len(t, runs, 2)
		assert.Equal(t, newest.ID, runs[0].ID)
	})
}

func TestMemStore_DeleteRunCascades(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()

	run := models.NewRun(models.RunKindEvaluation)
	require.NoError(t, s.CreateRun(ctx, run))

	require.NoError(t, s.CreateOutput(ctx, &models.Output{ID: uuid.New(), RunID: run.ID}))
	require.NoError(t, s.CreateTurn(ctx, &models.Turn{ID: uuid.New(), RunID: run.ID}))
	require.NoError(t, s.CreateEvaluatorResult(ctx, &models.EvaluatorResult{ID: uuid.New(), RunID: run.ID}))

	require.NoError(t, s.DeleteRun(ctx, run.ID))

	outputs, err := s.ListOutputsByRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Empty(t, outputs)

	turns, err := s.ListTurnsByRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Empty(t, turns)

	results, err := s.ListEvaluatorResultsByRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestMemStore_TestCases(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()

	a := &models.TestCase{ID: uuid.New(), Title: "first", CreatedAt: time.Now().UTC().Add(-time.Minute)}
	b := &models.TestCase{ID: uuid.New(), Title: "second", CreatedAt: time.Now().UTC()}
	require.NoError(t, s.CreateTestCase(ctx, a))
	require.NoError(t, s.CreateTestCase(ctx, b))

	cases, err := s.ListTestCases(ctx)
	require.NoError(t, err)
	require.Len(t, cases, 2)
	assert.Equal(t, "first", cases[0].Title)
	assert.Equal(t, "second", cases[1].Title)

	a.Title = "renamed"
	require.NoError(t, s.UpdateTestCase(ctx, a))
	got, err := s.GetTestCase(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, "renamed", got.Title)

	missing, err := s.TestCasesExist(ctx, []uuid.UUID{a.ID, uuid.Max})
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{uuid.Max}, missing)
}

func TestMemStore_TurnsOrderedByIndex(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()
	runID := uuid.New()

	for _, idx := range []int{2, 0, 1} {
		require.NoError(t, s.CreateTurn(ctx, &models.Turn{ID: uuid.New(), RunID: runID, TurnIndex: idx}))
	}

	turns, err := s.ListTurnsByRun(ctx, runID)
	require.NoError(t, err)
	require.Len(t, turns, 3)
	for i, turn := range turns {
		assert.Equal(t, i, turn.TurnIndex)
	}
}
