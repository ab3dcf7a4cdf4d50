package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/kestrel-eval/kestrel/internal/config"
	"github.com/kestrel-eval/kestrel/internal/evaluators"
	"github.com/kestrel-eval/kestrel/internal/llm"
	"github.com/kestrel-eval/kestrel/internal/models"
	"github.com/kestrel-eval/kestrel/internal/orchestration"
	"github.com/kestrel-eval/kestrel/internal/store"
)

var (
	runOutputPath string
	runWorkers    int
	skipEval      bool
)

func newRunCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <suite.yaml>",
		Short: "Run an evaluation suite",
		Long: `Run an evaluation suite from a YAML file.

The suite defines test cases, the models to exercise, and the evaluators
to score outputs with. Every test case runs against every model, then the
configured evaluators score each output.`,
		Args: cobra.ExactArgs(1),
		RunE: runCommandE,
	}

	cmd.Flags().StringVarP(&runOutputPath, "output", "o", "", "Output JSON file for run results")
	cmd.Flags().IntVar(&runWorkers, "workers", 0, "Max concurrent requests per model (default: 10)")
	cmd.Flags().BoolVar(&skipEval, "skip-evaluators", false, "Generate outputs without scoring them")

	return cmd
}

// newJudgeFactory builds clients for judge-backed evaluators. Evaluators
// that do not name a judge model get the one configured in .kestrel.yaml.
func newJudgeFactory(cfg *config.Config, settings llm.Settings) evaluators.JudgeFactory {
	return func(modelID string) (llm.Client, error) {
		if modelID == "" {
			modelID = cfg.Runs.JudgeModel
		}
		return llm.ClientForModel(modelID, settings), nil
	}
}

func runCommandE(cmd *cobra.Command, args []string) error {
	suitePath := args[0]

	suite, err := LoadSuite(suitePath)
	if err != nil {
		return fmt.Errorf("failed to load suite: %w", err)
	}

	cfg, err := config.Load(filepath.Dir(suitePath))
	if err != nil {
		return err
	}
	if runWorkers > 0 {
		cfg.Runs.MaxConcurrency = runWorkers
	}

	ctx := cmd.Context()
	st := store.NewMemStore()
	settings := cfg.Settings()

	clientFor := func(mc models.ModelConfig) (llm.Client, error) {
		return llm.ClientForModel(mc.ModelID, settings), nil
	}
	registry := evaluators.NewRegistry(newJudgeFactory(cfg, settings))

	var testCaseIDs []uuid.UUID
	for _, tc := range suite.TestCases {
		if err := st.CreateTestCase(ctx, tc); err != nil {
			return fmt.Errorf("seeding test case: %w", err)
		}
		testCaseIDs = append(testCaseIDs, tc.ID)
	}

	if err := orchestration.ValidateRunRequest(ctx, st, registry, testCaseIDs, suite.Models, suite.Evaluators); err != nil {
		return fmt.Errorf("invalid run request: %w", err)
	}

	run := models.NewRun(models.RunKindEvaluation)
	run.PromptVersion = suite.PromptVersion
	run.Models = suite.Models
	run.TestCaseCount = len(suite.TestCases)
	if err := st.CreateRun(ctx, run); err != nil {
		return fmt.Errorf("creating run: %w", err)
	}

	slog.Info("starting evaluation run",
		"run_id", run.ID,
		"test_cases", len(suite.TestCases),
		"models", len(suite.Models))

	runner := orchestration.NewRunner(st, clientFor, cfg.Runs.MaxConcurrency, slog.Default())
	if err := runner.RunEvaluation(ctx, run.ID, testCaseIDs, suite.Models); err != nil {
		return fmt.Errorf("evaluation run failed: %w", err)
	}

	var summary *orchestration.EvalSummary
	if !skipEval && len(suite.Evaluators) > 0 {
		pass := orchestration.NewEvalPass(st, registry, clientFor, slog.Default())
		summary, err = pass.Run(ctx, run.ID, suite.Evaluators)
		if err != nil {
			return fmt.Errorf("evaluator pass failed: %w", err)
		}
	}

	if err := writeRunReport(ctx, st, run.ID, summary); err != nil {
		return err
	}

	if summary != nil {
		for name, rate := range summary.PassRates {
			if rate.Passed < rate.Total {
				return &EvalFailureError{
					Message: fmt.Sprintf("evaluator %s: %d/%d outputs passed", name, rate.Passed, rate.Total),
				}
			}
		}
	}
	return nil
}

// writeRunReport prints the run record, its outputs, evaluator results,
// and the pass-rate summary as JSON to stdout, or to --output when given.
func writeRunReport(ctx context.Context, st store.Store, runID uuid.UUID, summary *orchestration.EvalSummary) error {
	run, err := st.GetRun(ctx, runID)
	if err != nil {
		return fmt.Errorf("loading run for report: %w", err)
	}
	outputs, err := st.ListOutputsByRun(ctx, runID)
	if err != nil {
		return fmt.Errorf("loading outputs for report: %w", err)
	}
	results, err := st.ListEvaluatorResultsByRun(ctx, runID)
	if err != nil {
		return fmt.Errorf("loading evaluator results for report: %w", err)
	}

	report := map[string]any{
		"run":               run,
		"outputs":           outputs,
		"evaluator_results": results,
	}
	if summary != nil {
		report["summary"] = summary
	}

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding report: %w", err)
	}

	if runOutputPath != "" {
		if err := os.WriteFile(runOutputPath, data, 0o644); err != nil {
			return fmt.Errorf("writing report: %w", err)
		}
		fmt.Printf("Results written to %s\n", runOutputPath)
		return nil
	}
	fmt.Println(string(data))
	return nil
}
