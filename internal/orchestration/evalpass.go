package orchestration

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/kestrel-eval/kestrel/internal/evaluators"
	"github.com/kestrel-eval/kestrel/internal/llm"
	"github.com/kestrel-eval/kestrel/internal/metrics"
	"github.com/kestrel-eval/kestrel/internal/models"
	"github.com/kestrel-eval/kestrel/internal/store"
)

// PassRate summarizes one evaluator's outcomes across a run.
type PassRate struct {
	Passed int     `json:"passed"`
	Total  int     `json:"total"`
	Rate   float64 `json:"rate"`
}

// EvalSummary reports an evaluator pass over a run.
type EvalSummary struct {
	RunID            uuid.UUID           `json:"run_id"`
	OutputsEvaluated int                 `json:"outputs_evaluated"`
	EvaluatorsRun    []string            `json:"evaluators_run"`
	ResultsCount     int                 `json:"results_count"`
	PassRates        map[string]PassRate `json:"pass_rates"`
}

// EvalPass scores every output of a completed run with the named
// evaluators. Evaluator failures are isolated into failed results so one
// broken evaluator never blocks the rest of the pass.
type EvalPass struct {
	store     store.Store
	registry  *evaluators.Registry
	clientFor ClientFactory
	logger    *slog.Logger
}

func NewEvalPass(st store.Store, registry *evaluators.Registry, clientFor ClientFactory, logger *slog.Logger) *EvalPass {
	if logger == nil {
		logger = slog.Default()
	}
	return &EvalPass{store: st, registry: registry, clientFor: clientFor, logger: logger}
}

// Run executes the named evaluators against every output of the run and
// returns per-evaluator pass rates.
func (p *EvalPass) Run(ctx context.Context, runID uuid.UUID, evaluatorNames []string) (*EvalSummary, error) {
	run, err := p.store.GetRun(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("evaluation run not found: %w", err)
	}

	outputs, err := p.store.ListOutputsByRun(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("loading outputs: %w", err)
	}

	testCases := make(map[uuid.UUID]*models.TestCase)
	for _, output := range outputs {
		if _, ok := testCases[output.TestCaseID]; ok {
			continue
		}
		tc, err := p.store.GetTestCase(ctx, output.TestCaseID)
		if err != nil {
			continue
		}
		testCases[tc.ID] = tc
	}

	modelConfigs := make(map[string]models.ModelConfig)
	for _, mc := range run.Models {
		modelConfigs[mc.ModelID] = mc
	}

	var allResults []*models.EvaluatorResult
	for _, output := range outputs {
		tc, ok := testCases[output.TestCaseID]
		if !ok {
			continue
		}
		results := p.evaluateOutput(ctx, output, tc, evaluatorNames, modelConfigs)
		for _, result := range results {
			if err := p.store.CreateEvaluatorResult(ctx, result); err != nil {
				return nil, fmt.Errorf("persisting evaluator result: %w", err)
			}
		}
		allResults = append(allResults, results...)
	}

	summary := &EvalSummary{
		RunID:            runID,
		OutputsEvaluated: len(outputs),
		EvaluatorsRun:    evaluatorNames,
		ResultsCount:     len(allResults),
		PassRates:        make(map[string]PassRate),
	}
	for _, name := range evaluatorNames {
		passed, total := 0, 0
		for _, result := range allResults {
			if result.EvaluatorName != name {
				continue
			}
			total++
			if result.Passed {
				passed++
			}
		}
		if total > 0 {
			summary.PassRates[name] = PassRate{
				Passed: passed,
				Total:  total,
				Rate:   metrics.Round3(float64(passed) / float64(total)),
			}
		}
	}
	return summary, nil
}

// evaluateOutput runs each named evaluator against one output. Outputs
// with no response are skipped entirely; individual evaluator errors
// become failed results.
func (p *EvalPass) evaluateOutput(
	ctx context.Context,
	output *models.Output,
	tc *models.TestCase,
	evaluatorNames []string,
	modelConfigs map[string]models.ModelConfig,
) []*models.EvaluatorResult {
	if output.Response == nil || *output.Response == "" {
		return nil
	}

	ec := &evaluators.Context{
		Output:            *output.Response,
		Prompt:            tc.Prompt,
		Input:             tc.Input,
		Reference:         tc.Context,
		ExpectedStructure: tc.ExpectedStructure,
		Category:          tc.Category,
		InstructionSpec:   tc.InstructionSpec,
		FormatSpec:        tc.FormatSpec,
		StabilityParams:   tc.StabilityParams,
		ShouldRefuse:      tc.ShouldRefuse,
	}

	var results []*models.EvaluatorResult
	for _, name := range evaluatorNames {
		result, err := p.evaluateOne(ctx, name, output, tc, ec, modelConfigs)
		if err != nil {
			p.logger.Warn("evaluator failed",
				"evaluator", name,
				"output_id", output.ID,
				"error", err)
			result = &evaluators.Result{
				EvaluatorName: name,
				Passed:        false,
				Score:         0.0,
				Details:       map[string]any{"error": err.Error()},
				Reasoning:     fmt.Sprintf("Evaluator error: %s", err),
			}
		}
		results = append(results, &models.EvaluatorResult{
			ID:            uuid.New(),
			OutputID:      output.ID,
			RunID:         output.RunID,
			EvaluatorName: result.EvaluatorName,
			Passed:        result.Passed,
			Score:         result.Score,
			Details:       result.Details,
			Reasoning:     result.Reasoning,
			CreatedAt:     time.Now().UTC(),
		})
	}
	return results
}

func (p *EvalPass) evaluateOne(
	ctx context.Context,
	name string,
	output *models.Output,
	tc *models.TestCase,
	ec *evaluators.Context,
	modelConfigs map[string]models.ModelConfig,
) (*evaluators.Result, error) {
	switch name {
	case evaluators.NameOutputStability:
		return p.runStabilitySampling(ctx, output, tc, modelConfigs)
	case evaluators.NameRefusalBehavior:
		expectRefusal := refusalExpectation(tc)
		ev, err := p.registry.Construct(name, map[string]any{
			"expect_refusal": expectRefusal,
			"expect_answer":  !expectRefusal,
		})
		if err != nil {
			return nil, err
		}
		return ev.Evaluate(ctx, ec)
	default:
		ev, err := p.registry.Construct(name, nil)
		if err != nil {
			return nil, err
		}
		return ev.Evaluate(ctx, ec)
	}
}

// refusalExpectation reads the explicit should_refuse flag when set,
// otherwise infers the expectation from the test case category.
func refusalExpectation(tc *models.TestCase) bool {
	if tc.ShouldRefuse != nil {
		return *tc.ShouldRefuse
	}
	category := strings.ToLower(tc.Category)
	return strings.Contains(category, "safety") ||
		strings.Contains(category, "refusal") ||
		strings.Contains(category, "policy")
}

// runStabilitySampling resamples the output's prompt at a spread of
// temperatures and measures consistency across the original response plus
// every sample.
func (p *EvalPass) runStabilitySampling(
	ctx context.Context,
	output *models.Output,
	tc *models.TestCase,
	modelConfigs map[string]models.ModelConfig,
) (*evaluators.Result, error) {
	mc, ok := modelConfigs[output.Model]
	if !ok {
		mc = models.ModelConfig{ModelID: output.Model, Temperature: 0.0, MaxTokens: 1024}
	}
	client, err := p.clientFor(mc)
	if err != nil {
		return nil, fmt.Errorf("building client for %s: %w", mc.ModelID, err)
	}

	temperatures := []float64{0.0, 0.5, 1.0}
	samplesPerTemp := 2
	if tc.StabilityParams != nil {
		if raw, ok := tc.StabilityParams["temperatures"].([]any); ok && len(raw) > 0 {
			temperatures = temperatures[:0]
			for _, t := range raw {
				if f, ok := asFloat(t); ok {
					temperatures = append(temperatures, f)
				}
			}
		}
		if n, ok := asInt(tc.StabilityParams["samples_per_temp"]); ok && n > 0 {
			samplesPerTemp = n
		}
	}

	prompt := tc.FullPrompt()
	samples := make([]string, len(temperatures)*samplesPerTemp)
	g, gctx := errgroup.WithContext(ctx)
	for i, temp := range temperatures {
		for j := 0; j < samplesPerTemp; j++ {
			idx := i*samplesPerTemp + j
			temp := temp
			g.Go(func() error {
				resp, err := client.Generate(gctx, llm.GenerateRequest{
					Prompt:      prompt,
					Temperature: temp,
					MaxTokens:   mc.MaxTokens,
				})
				if err != nil {
					return err
				}
				samples[idx] = resp.Content
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("resampling for stability: %w", err)
	}

	outputs := append([]string{*output.Response}, samples...)
	return evaluators.EvaluateStabilitySamples(outputs, tc.StabilityParams)
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	}
	return 0, false
}
