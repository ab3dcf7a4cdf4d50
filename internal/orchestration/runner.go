// Package orchestration fans evaluation work out across models and test
// cases, persisting progress so a run is inspectable while it executes.
package orchestration

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/kestrel-eval/kestrel/internal/llm"
	"github.com/kestrel-eval/kestrel/internal/models"
	"github.com/kestrel-eval/kestrel/internal/store"
)

// ClientFactory builds a provider client for one model configuration.
type ClientFactory func(mc models.ModelConfig) (llm.Client, error)

// Runner executes evaluation runs: every test case against every model,
// with bounded per-model concurrency.
type Runner struct {
	store          store.Store
	clientFor      ClientFactory
	maxConcurrency int64
	logger         *slog.Logger
}

func NewRunner(st store.Store, clientFor ClientFactory, maxConcurrency int, logger *slog.Logger) *Runner {
	if maxConcurrency <= 0 {
		maxConcurrency = 10
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		store:          st,
		clientFor:      clientFor,
		maxConcurrency: int64(maxConcurrency),
		logger:         logger,
	}
}

// unitResult carries the outcome of one test case against one model. Unit
// failures are recorded here rather than propagated, so one bad prompt
// never takes down the run.
type unitResult struct {
	testCaseID   uuid.UUID
	response     *string
	latencyMS    *int64
	inputTokens  *int
	outputTokens *int
	costUSD      *float64
	errMessage   *string
}

// RunEvaluation executes all test cases against all models for an existing
// pending run. The run transitions to running immediately, then to
// completed with aggregate stats, or to failed if the run itself cannot
// proceed. Per-unit generation errors are recorded on their outputs and do
// not fail the run.
func (r *Runner) RunEvaluation(
	ctx context.Context,
	runID uuid.UUID,
	testCaseIDs []uuid.UUID,
	modelConfigs []models.ModelConfig,
) error {
	run, err := r.store.GetRun(ctx, runID)
	if err != nil {
		return fmt.Errorf("loading run: %w", err)
	}

	run.Status = models.RunStatusRunning
	if err := r.store.UpdateRun(ctx, run); err != nil {
		return fmt.Errorf("marking run running: %w", err)
	}

	testCases := make([]*models.TestCase, 0, len(testCaseIDs))
	for _, id := range testCaseIDs {
		tc, err := r.store.GetTestCase(ctx, id)
		if err != nil {
			return r.failRun(ctx, run, fmt.Errorf("loading test case %s: %w", id, err))
		}
		testCases = append(testCases, tc)
	}

	totalCost := 0.0
	var totalDuration int64
	completed := 0

	for _, mc := range modelConfigs {
		client, err := r.clientFor(mc)
		if err != nil {
			return r.failRun(ctx, run, fmt.Errorf("building client for %s: %w", mc.ModelID, err))
		}

		results, err := r.runModel(ctx, client, testCases, mc)
		if err != nil {
			return r.failRun(ctx, run, err)
		}

		for _, res := range results {
			output := &models.Output{
				ID:           uuid.New(),
				RunID:        runID,
				TestCaseID:   res.testCaseID,
				Model:        mc.ModelID,
				Response:     res.response,
				LatencyMS:    res.latencyMS,
				InputTokens:  res.inputTokens,
				OutputTokens: res.outputTokens,
				CostUSD:      res.costUSD,
				Error:        res.errMessage,
			}
			if err := r.store.CreateOutput(ctx, output); err != nil {
				return r.failRun(ctx, run, fmt.Errorf("persisting output: %w", err))
			}
			if res.costUSD != nil {
				totalCost += *res.costUSD
			}
			if res.latencyMS != nil {
				totalDuration += *res.latencyMS
			}
			completed++
		}
	}

	run.Status = models.RunStatusCompleted
	run.TotalCostUSD = totalCost
	run.TotalDurationMS = totalDuration
	run.CompletedCount = completed
	if err := r.store.UpdateRun(ctx, run); err != nil {
		return fmt.Errorf("marking run completed: %w", err)
	}

	r.logger.Info("evaluation run completed",
		"run_id", runID,
		"completed", completed,
		"total_cost_usd", totalCost,
		"total_duration_ms", totalDuration)
	return nil
}

// runModel fans all test cases out for one model with a weighted semaphore
// bounding in-flight requests.
func (r *Runner) runModel(
	ctx context.Context,
	client llm.Client,
	testCases []*models.TestCase,
	mc models.ModelConfig,
) ([]unitResult, error) {
	sem := semaphore.NewWeighted(r.maxConcurrency)
	results := make([]unitResult, len(testCases))

	for i, tc := range testCases {
		if err := sem.Acquire(ctx, 1); err != nil {
			return nil, fmt.Errorf("acquiring slot: %w", err)
		}
		go func(i int, tc *models.TestCase) {
			defer sem.Release(1)
			results[i] = r.runUnit(ctx, client, tc, mc)
		}(i, tc)
	}

	// Draining the semaphore waits for every in-flight unit.
	if err := sem.Acquire(ctx, r.maxConcurrency); err != nil {
		return nil, fmt.Errorf("waiting for units: %w", err)
	}
	sem.Release(r.maxConcurrency)
	return results, nil
}

// runUnit generates one response. Errors are captured in the result so a
// single failing prompt is isolated from its siblings.
func (r *Runner) runUnit(
	ctx context.Context,
	client llm.Client,
	tc *models.TestCase,
	mc models.ModelConfig,
) unitResult {
	resp, err := client.Generate(ctx, llm.GenerateRequest{
		Prompt:      tc.FullPrompt(),
		Temperature: mc.Temperature,
		MaxTokens:   mc.MaxTokens,
	})
	if err != nil {
		r.logger.Warn("generation failed",
			"test_case_id", tc.ID,
			"model", mc.ModelID,
			"error", err)
		msg := err.Error()
		return unitResult{testCaseID: tc.ID, errMessage: &msg}
	}

	return unitResult{
		testCaseID:   tc.ID,
		response:     &resp.Content,
		latencyMS:    &resp.LatencyMS,
		inputTokens:  &resp.InputTokens,
		outputTokens: &resp.OutputTokens,
		costUSD:      &resp.CostUSD,
	}
}

func (r *Runner) failRun(ctx context.Context, run *models.Run, cause error) error {
	run.Status = models.RunStatusFailed
	run.ErrorMessage = cause.Error()
	if err := r.store.UpdateRun(ctx, run); err != nil {
		r.logger.Error("marking run failed", "run_id", run.ID, "error", err)
	}
	return cause
}
