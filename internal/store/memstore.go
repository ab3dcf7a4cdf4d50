package store

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/kestrel-eval/kestrel/internal/models"
)

// MemStore is an in-memory Store guarded by a single RWMutex. Structs are
// copied on the way in and out; nested map payloads (specs, details,
// parameters) are treated as immutable once handed to the store.
type MemStore struct {
	mu      sync.RWMutex
	runs    map[uuid.UUID]*models.Run
	cases   map[uuid.UUID]*models.TestCase
	outputs map[uuid.UUID][]*models.Output
	turns   map[uuid.UUID][]*models.Turn
	results map[uuid.UUID][]*models.EvaluatorResult
}

var _ Store = (*MemStore)(nil)

func NewMemStore() *MemStore {
	return &MemStore{
		runs:    make(map[uuid.UUID]*models.Run),
		cases:   make(map[uuid.UUID]*models.TestCase),
		outputs: make(map[uuid.UUID][]*models.Output),
		turns:   make(map[uuid.UUID][]*models.Turn),
		results: make(map[uuid.UUID][]*models.EvaluatorResult),
	}
}

func (s *MemStore) CreateRun(_ context.Context, run *models.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *run
	s.runs[run.ID] = &cp
	return nil
}

func (s *MemStore) GetRun(_ context.Context, id uuid.UUID) (*models.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[id]
	if !ok {
		return nil, NotFoundError("run", id)
	}
	cp := *run
	return &cp, nil
}

func (s *MemStore) UpdateRun(_ context.Context, run *models.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[run.ID]; !ok {
		return NotFoundError("run", run.ID)
	}
	cp := *run
	s.runs[run.ID] = &cp
	return nil
}

func (s *MemStore) ListRuns(_ context.Context, filter RunFilter) ([]*models.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Run
	for _, run := range s.runs {
		if filter.Kind != "" && run.Kind != filter.Kind {
			continue
		}
		if filter.Status != "" && run.Status != filter.Status {
			continue
		}
		if !filter.CreatedAfter.IsZero() && !run.CreatedAt.After(filter.CreatedAfter) {
			continue
		}
		if !filter.CreatedBefore.IsZero() && !run.CreatedAt.Before(filter.CreatedBefore) {
			continue
		}
		cp := *run
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// DeleteRun removes a run and cascades to its outputs, turns, and
// evaluator results.
func (s *MemStore) DeleteRun(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[id]; !ok {
		return NotFoundError("run", id)
	}
	delete(s.runs, id)
	delete(s.outputs, id)
	delete(s.turns, id)
	delete(s.results, id)
	return nil
}

func (s *MemStore) CreateTestCase(_ context.Context, tc *models.TestCase) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *tc
	s.cases[tc.ID] = &cp
	return nil
}

func (s *MemStore) GetTestCase(_ context.Context, id uuid.UUID) (*models.TestCase, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tc, ok := s.cases[id]
	if !ok {
		return nil, NotFoundError("test case", id)
	}
	cp := *tc
	return &cp, nil
}

func (s *MemStore) UpdateTestCase(_ context.Context, tc *models.TestCase) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.cases[tc.ID]; !ok {
		return NotFoundError("test case", tc.ID)
	}
	cp := *tc
	s.cases[tc.ID] = &cp
	return nil
}

func (s *MemStore) ListTestCases(_ context.Context) ([]*models.TestCase, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.TestCase, 0, len(s.cases))
	for _, tc := range s.cases {
		cp := *tc
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *MemStore) DeleteTestCase(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.cases[id]; !ok {
		return NotFoundError("test case", id)
	}
	delete(s.cases, id)
	return nil
}

func (s *MemStore) TestCasesExist(_ context.Context, ids []uuid.UUID) ([]uuid.UUID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var missing []uuid.UUID
	for _, id := range ids {
		if _, ok := s.cases[id]; !ok {
			missing = append(missing, id)
		}
	}
	return missing, nil
}

func (s *MemStore) CreateOutput(_ context.Context, output *models.Output) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *output
	s.outputs[output.RunID] = append(s.outputs[output.RunID], &cp)
	return nil
}

func (s *MemStore) ListOutputsByRun(_ context.Context, runID uuid.UUID) ([]*models.Output, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stored := s.outputs[runID]
	out := make([]*models.Output, 0, len(stored))
	for _, o := range stored {
		cp := *o
		out = append(out, &cp)
	}
	return out, nil
}

func (s *MemStore) CreateTurn(_ context.Context, turn *models.Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *turn
	s.turns[turn.RunID] = append(s.turns[turn.RunID], &cp)
	return nil
}

func (s *MemStore) ListTurnsByRun(_ context.Context, runID uuid.UUID) ([]*models.Turn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stored := s.turns[runID]
	out := make([]*models.Turn, 0, len(stored))
	for _, t := range stored {
		cp := *t
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].TurnIndex < out[j].TurnIndex
	})
	return out, nil
}

func (s *MemStore) CreateEvaluatorResult(_ context.Context, result *models.EvaluatorResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *result
	s.results[result.RunID] = append(s.results[result.RunID], &cp)
	return nil
}

func (s *MemStore) ListEvaluatorResultsByRun(_ context.Context, runID uuid.UUID) ([]*models.EvaluatorResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stored := s.results[runID]
	out := make([]*models.EvaluatorResult, 0, len(stored))
	for _, r := range stored {
		cp := *r
		out = append(out, &cp)
	}
	return out, nil
}
