package orchestration

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrel-eval/kestrel/internal/evaluators"
	"github.com/kestrel-eval/kestrel/internal/llm"
	"github.com/kestrel-eval/kestrel/internal/models"
	"github.com/kestrel-eval/kestrel/internal/store"
)

func seedOutput(t *testing.T, st store.Store, runID, tcID uuid.UUID, model string, response *string) *models.Output {
	t.Helper()
	output := &models.Output{
		ID:         uuid.New(),
		RunID:      runID,
		TestCaseID: tcID,
		Model:      model,
		Response:   response,
		CreatedAt:  time.Now().UTC(),
	}
	require.NoError(t, st.CreateOutput(context.Background(), output))
	return output
}

func strptr(s string) *string { return &s }

func TestEvalPass_PassRates(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemStore()

	tc := seedTestCase(t, st, &models.TestCase{
		Prompt:          "Reply briefly",
		Input:           "hello",
		InstructionSpec: map[string]any{"forbidden_terms": []any{"banana"}},
	})

	run := seedRun(t, st, models.RunKindEvaluation)
	seedOutput(t, st, run.ID, tc.ID, "model-x", strptr("a clean reply"))
	seedOutput(t, st, run.ID, tc.ID, "model-x", strptr("reply mentioning banana"))
	// A failed unit with no response is skipped by the pass.
	seedOutput(t, st, run.ID, tc.ID, "model-x", nil)

	pass := NewEvalPass(st, evaluators.NewRegistry(nil), nil, nil)
	summary, err := pass.Run(ctx, run.ID, []string{evaluators.NameInstructionAdherence})
	require.NoError(t, err)

	assert.Equal(t, 3, summary.OutputsEvaluated)
	assert.Equal(t, 2, summary.ResultsCount)
	rate, ok := summary.PassRates[evaluators.NameInstructionAdherence]
	require.True(t, ok)
	assert.Equal(t, 1, rate.Passed)
	assert.Equal(t, 2, rate.Total)
	assert.Equal(t, 0.5, rate.Rate)

	results, err := st.ListEvaluatorResultsByRun(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, results, 2)
	for _, result := range results {
		assert.Equal(t, evaluators.NameInstructionAdherence, result.EvaluatorName)
		assert.NotEqual(t, uuid.Nil, result.OutputID)
	}
}

func TestEvalPass_EvaluatorErrorBecomesFailedResult(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemStore()

	tc := seedTestCase(t, st, &models.TestCase{
		Prompt:  "Summarize",
		Input:   "doc",
		Context: "source text the claims must be grounded in",
	})
	run := seedRun(t, st, models.RunKindEvaluation)
	seedOutput(t, st, run.ID, tc.ID, "model-x", strptr("some claims"))

	// No judge factory, so the hallucination evaluator cannot be built.
	pass := NewEvalPass(st, evaluators.NewRegistry(nil), nil, nil)
	summary, err := pass.Run(ctx, run.ID, []string{evaluators.NameHallucination})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.ResultsCount)

	results, err := st.ListEvaluatorResultsByRun(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.False(t, results[0].Passed)
	assert.Equal(t, 0.0, results[0].Score)
	assert.Contains(t, results[0].Reasoning, "Evaluator error:")
	assert.Contains(t, results[0].Details["error"], "no judge client configured")
}

func TestEvalPass_RefusalExpectationFromCategory(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemStore()

	tc := seedTestCase(t, st, &models.TestCase{
		Prompt:   "Do the thing",
		Input:    "harmful request",
		Category: "safety-probe",
	})
	run := seedRun(t, st, models.RunKindEvaluation)
	seedOutput(t, st, run.ID, tc.ID, "model-x", strptr("I can't help with that request."))

	pass := NewEvalPass(st, evaluators.NewRegistry(nil), nil, nil)
	summary, err := pass.Run(ctx, run.ID, []string{evaluators.NameRefusalBehavior})
	require.NoError(t, err)

	rate := summary.PassRates[evaluators.NameRefusalBehavior]
	assert.Equal(t, 1, rate.Passed)

	results, err := st.ListEvaluatorResultsByRun(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.True(t, results[0].Passed)
	assert.Equal(t, 0.8, results[0].Score)
	assert.Equal(t, true, results[0].Details["expect_refusal"])
}

func TestRefusalExpectation(t *testing.T) {
	truth := true
	falsehood := false
	cases := []struct {
		name string
		tc   *models.TestCase
		want bool
	}{
		{"explicit true", &models.TestCase{ShouldRefuse: &truth, Category: "general"}, true},
		{"explicit false wins over category", &models.TestCase{ShouldRefuse: &falsehood, Category: "safety"}, false},
		{"safety category", &models.TestCase{Category: "Safety/jailbreak"}, true},
		{"refusal category", &models.TestCase{Category: "refusal-check"}, true},
		{"policy category", &models.TestCase{Category: "policy edge"}, true},
		{"plain category", &models.TestCase{Category: "summarization"}, false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			assert.Equal(t, c.want, refusalExpectation(c.tc))
		})
	}
}

func TestEvalPass_StabilityResampling(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemStore()

	tc := seedTestCase(t, st, &models.TestCase{
		Prompt: "Always answer the same",
		Input:  "ping",
		StabilityParams: map[string]any{
			"temperatures":     []any{0.0, 1.0},
			"samples_per_temp": 2,
		},
	})

	run := seedRun(t, st, models.RunKindEvaluation)
	run.Models = []models.ModelConfig{{ModelID: "model-x", MaxTokens: 512}}
	require.NoError(t, st.UpdateRun(ctx, run))
	seedOutput(t, st, run.ID, tc.ID, "model-x", strptr("pong every time"))

	client := &fakeClient{modelID: "model-x", generate: func(llm.GenerateRequest) (*llm.Response, error) {
		return &llm.Response{Content: "pong every time"}, nil
	}}
	pass := NewEvalPass(st, evaluators.NewRegistry(nil), func(models.ModelConfig) (llm.Client, error) {
		return client, nil
	}, nil)

	summary, err := pass.Run(ctx, run.ID, []string{evaluators.NameOutputStability})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.ResultsCount)
	// Two temperatures, two samples each.
	assert.Equal(t, 4, client.callCount())

	results, err := st.ListEvaluatorResultsByRun(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.True(t, results[0].Passed)
	assert.Equal(t, 1.0, results[0].Score)
	assert.Equal(t, 5, results[0].Details["outputs_count"])
}
