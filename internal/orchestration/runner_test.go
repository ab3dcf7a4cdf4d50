package orchestration

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrel-eval/kestrel/internal/llm"
	"github.com/kestrel-eval/kestrel/internal/models"
	"github.com/kestrel-eval/kestrel/internal/store"
)

// fakeClient answers every prompt through generate, recording prompts as it
// goes. Safe for the runner's concurrent units.
type fakeClient struct {
	mu       sync.Mutex
	modelID  string
	prompts  []string
	generate func(req llm.GenerateRequest) (*llm.Response, error)
}

func (c *fakeClient) Generate(_ context.Context, req llm.GenerateRequest) (*llm.Response, error) {
	c.mu.Lock()
	c.prompts = append(c.prompts, req.Prompt)
	c.mu.Unlock()
	if c.generate != nil {
		return c.generate(req)
	}
	return &llm.Response{Content: "ok", Model: c.modelID}, nil
}

func (c *fakeClient) ModelID() string { return c.modelID }

func (c *fakeClient) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.prompts)
}

func seedRun(t *testing.T, st store.Store, kind models.RunKind) *models.Run {
	t.Helper()
	run := models.NewRun(kind)
	require.NoError(t, st.CreateRun(context.Background(), run))
	return run
}

func seedTestCase(t *testing.T, st store.Store, tc *models.TestCase) *models.TestCase {
	t.Helper()
	if tc.ID == uuid.Nil {
		tc.ID = uuid.New()
	}
	tc.CreatedAt = time.Now().UTC()
	require.NoError(t, st.CreateTestCase(context.Background(), tc))
	return tc
}

func TestRunEvaluation_AllModelsAllCases(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemStore()

	tcA := seedTestCase(t, st, &models.TestCase{Prompt: "Summarize", Input: "alpha"})
	tcB := seedTestCase(t, st, &models.TestCase{Prompt: "Summarize", Input: "beta"})

	client := &fakeClient{generate: func(req llm.GenerateRequest) (*llm.Response, error) {
		return &llm.Response{
			Content:      "summary of " + req.Prompt,
			InputTokens:  10,
			OutputTokens: 20,
			LatencyMS:    5,
			CostUSD:      0.001,
		}, nil
	}}
	runner := NewRunner(st, func(mc models.ModelConfig) (llm.Client, error) {
		return client, nil
	}, 4, nil)

	run := seedRun(t, st, models.RunKindEvaluation)
	configs := []models.ModelConfig{
		{ModelID: "model-x", MaxTokens: 256},
		{ModelID: "model-y", MaxTokens: 256},
	}
	require.NoError(t, runner.RunEvaluation(ctx, run.ID, []uuid.UUID{tcA.ID, tcB.ID}, configs))

	got, err := st.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusCompleted, got.Status)
	assert.Equal(t, 4, got.CompletedCount)
	assert.InDelta(t, 0.004, got.TotalCostUSD, 1e-9)
	assert.Equal(t, int64(20), got.TotalDurationMS)

	outputs, err := st.ListOutputsByRun(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, outputs, 4)
	for _, output := range outputs {
		require.NotNil(t, output.Response)
		assert.Contains(t, *output.Response, "Summarize")
		assert.Nil(t, output.Error)
	}
	assert.Equal(t, 4, client.callCount())
}

func TestRunEvaluation_UnitFailureIsIsolated(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemStore()

	good := seedTestCase(t, st, &models.TestCase{Prompt: "Answer", Input: "fine"})
	bad := seedTestCase(t, st, &models.TestCase{Prompt: "Answer", Input: "poison"})

	client := &fakeClient{generate: func(req llm.GenerateRequest) (*llm.Response, error) {
		if req.Prompt == bad.FullPrompt() {
			return nil, fmt.Errorf("provider exploded")
		}
		return &llm.Response{Content: "fine answer", CostUSD: 0.002, LatencyMS: 3}, nil
	}}
	runner := NewRunner(st, func(models.ModelConfig) (llm.Client, error) {
		return client, nil
	}, 2, nil)

	run := seedRun(t, st, models.RunKindEvaluation)
	err := runner.RunEvaluation(ctx, run.ID, []uuid.UUID{good.ID, bad.ID},
		[]models.ModelConfig{{ModelID: "model-x"}})
	require.NoError(t, err)

	got, err := st.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusCompleted, got.Status)
	assert.Equal(t, 2, got.CompletedCount)

	outputs, err := st.ListOutputsByRun(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, outputs, 2)

	byCase := make(map[uuid.UUID]*models.Output, len(outputs))
	for _, output := range outputs {
		byCase[output.TestCaseID] = output
	}
	require.NotNil(t, byCase[good.ID].Response)
	assert.Nil(t, byCase[good.ID].Error)
	assert.Nil(t, byCase[bad.ID].Response)
	require.NotNil(t, byCase[bad.ID].Error)
	assert.Contains(t, *byCase[bad.ID].Error, "provider exploded")
}

func TestRunEvaluation_ClientFactoryFailureFailsRun(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemStore()
	tc := seedTestCase(t, st, &models.TestCase{Prompt: "p", Input: "i"})

	runner := NewRunner(st, func(mc models.ModelConfig) (llm.Client, error) {
		return nil, fmt.Errorf("no API key for %s", mc.ModelID)
	}, 0, nil)

	run := seedRun(t, st, models.RunKindEvaluation)
	err := runner.RunEvaluation(ctx, run.ID, []uuid.UUID{tc.ID},
		[]models.ModelConfig{{ModelID: "model-x"}})
	require.Error(t, err)

	got, gerr := st.GetRun(ctx, run.ID)
	require.NoError(t, gerr)
	assert.Equal(t, models.RunStatusFailed, got.Status)
	assert.Contains(t, got.ErrorMessage, "no API key")
}

func TestRunEvaluation_UnknownRun(t *testing.T) {
	st := store.NewMemStore()
	runner := NewRunner(st, func(models.ModelConfig) (llm.Client, error) {
		return &fakeClient{}, nil
	}, 1, nil)
	err := runner.RunEvaluation(context.Background(), uuid.New(), nil, nil)
	require.Error(t, err)
}
