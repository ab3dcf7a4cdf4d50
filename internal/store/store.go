// Package store persists runs, test cases, outputs, turns, and evaluator
// results behind a narrow interface so the orchestration layers stay
// storage-agnostic.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kestrel-eval/kestrel/internal/models"
)

// ErrNotFound is returned when a lookup misses.
var ErrNotFound = errors.New("not found")

// RunFilter narrows ListRuns. Zero values mean no constraint.
type RunFilter struct {
	Kind          models.RunKind
	Status        models.RunStatus
	CreatedAfter  time.Time
	CreatedBefore time.Time
	Limit         int
}

// Store is the persistence boundary. Every mutation is atomic with respect
// to concurrent readers.
type Store interface {
	CreateRun(ctx context.Context, run *models.Run) error
	GetRun(ctx context.Context, id uuid.UUID) (*models.Run, error)
	UpdateRun(ctx context.Context, run *models.Run) error
	ListRuns(ctx context.Context, filter RunFilter) ([]*models.Run, error)
	DeleteRun(ctx context.Context, id uuid.UUID) error

	CreateTestCase(ctx context.Context, tc *models.TestCase) error
	GetTestCase(ctx context.Context, id uuid.UUID) (*models.TestCase, error)
	UpdateTestCase(ctx context.Context, tc *models.TestCase) error
	ListTestCases(ctx context.Context) ([]*models.TestCase, error)
	DeleteTestCase(ctx context.Context, id uuid.UUID) error
	// TestCasesExist reports the subset of ids with no stored test case.
	TestCasesExist(ctx context.Context, ids []uuid.UUID) (missing []uuid.UUID, err error)

	CreateOutput(ctx context.Context, output *models.Output) error
	ListOutputsByRun(ctx context.Context, runID uuid.UUID) ([]*models.Output, error)

	CreateTurn(ctx context.Context, turn *models.Turn) error
	ListTurnsByRun(ctx context.Context, runID uuid.UUID) ([]*models.Turn, error)

	CreateEvaluatorResult(ctx context.Context, result *models.EvaluatorResult) error
	ListEvaluatorResultsByRun(ctx context.Context, runID uuid.UUID) ([]*models.EvaluatorResult, error)
}

// NotFoundError builds a typed miss for an entity and id.
func NotFoundError(entity string, id uuid.UUID) error {
	return fmt.Errorf("%s %s: %w", entity, id, ErrNotFound)
}
