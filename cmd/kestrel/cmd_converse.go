package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/kestrel-eval/kestrel/internal/artifacts"
	"github.com/kestrel-eval/kestrel/internal/config"
	"github.com/kestrel-eval/kestrel/internal/conversation"
	"github.com/kestrel-eval/kestrel/internal/evaluators"
	"github.com/kestrel-eval/kestrel/internal/llm"
	"github.com/kestrel-eval/kestrel/internal/models"
	"github.com/kestrel-eval/kestrel/internal/store"
)

var (
	converseOutputPath   string
	converseArtifactsDir string
)

func newConverseCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "converse <script.yaml>",
		Short: "Run a scripted multi-turn conversation",
		Long: `Run a scripted conversation against one model.

Turns execute sequentially, each prompt carrying the transcript so far.
After the final turn the verbosity drift evaluator scores the run and four
JSON artifacts are written for offline inspection.`,
		Args: cobra.ExactArgs(1),
		RunE: converseCommandE,
	}

	cmd.Flags().StringVarP(&converseOutputPath, "output", "o", "", "Output JSON file for run results")
	cmd.Flags().StringVar(&converseArtifactsDir, "artifacts-dir", "", "Directory for run artifacts (default: ./artifacts)")

	return cmd
}

func converseCommandE(cmd *cobra.Command, args []string) error {
	scriptPath := args[0]

	script, err := LoadScript(scriptPath)
	if err != nil {
		return fmt.Errorf("failed to load script: %w", err)
	}

	cfg, err := config.Load(filepath.Dir(scriptPath))
	if err != nil {
		return err
	}
	artifactsDir := cfg.Runs.ArtifactsDir
	if converseArtifactsDir != "" {
		artifactsDir = converseArtifactsDir
	}

	thresholds := cfg.Verbosity
	if script.Thresholds != nil {
		thresholds = evaluators.VerbosityThresholds{
			MaxDriftSlope:   script.Thresholds.MaxDriftSlope,
			MaxGrowthRatio:  script.Thresholds.MaxGrowthRatio,
			MaxStddevRatio:  script.Thresholds.MaxStddevRatio,
			MaxFallbackRate: script.Thresholds.MaxFallbackRate,
		}
	}
	turnTimeout := time.Duration(cfg.Runs.TurnTimeoutSecs) * time.Second
	if script.TurnTimeoutS > 0 {
		turnTimeout = time.Duration(script.TurnTimeoutS) * time.Second
	}

	ctx := cmd.Context()
	st := store.NewMemStore()
	settings := cfg.Settings()

	run := models.NewRun(models.RunKindConversation)
	run.Models = []models.ModelConfig{script.Model}
	run.Condition = script.Condition
	run.SystemPrompt = script.SystemPrompt
	run.TurnCount = len(script.Turns)
	if err := st.CreateRun(ctx, run); err != nil {
		return fmt.Errorf("creating run: %w", err)
	}

	slog.Info("starting conversation run",
		"run_id", run.ID,
		"model", script.Model.ModelID,
		"turns", len(script.Turns))

	runner := conversation.NewRunner(
		st,
		func(mc models.ModelConfig) (llm.Client, error) {
			return llm.ClientForModel(mc.ModelID, settings), nil
		},
		artifacts.NewDirSink(artifactsDir),
		slog.Default(),
	)

	runErr := runner.Run(ctx, run.ID, conversation.Params{
		Turns:        script.Turns,
		ModelConfig:  script.Model,
		SystemPrompt: script.SystemPrompt,
		TurnTimeout:  turnTimeout,
		Thresholds:   thresholds,
	})
	if runErr != nil {
		return fmt.Errorf("conversation run failed: %w", runErr)
	}

	if err := writeConverseReport(ctx, st, run); err != nil {
		return err
	}

	results, err := st.ListEvaluatorResultsByRun(ctx, run.ID)
	if err != nil {
		return fmt.Errorf("loading evaluator results: %w", err)
	}
	for _, result := range results {
		if !result.Passed {
			return &EvalFailureError{
				Message: fmt.Sprintf("evaluator %s failed: %s", result.EvaluatorName, result.Reasoning),
			}
		}
	}
	return nil
}

func writeConverseReport(ctx context.Context, st store.Store, run *models.Run) error {
	stored, err := st.GetRun(ctx, run.ID)
	if err != nil {
		return fmt.Errorf("loading run for report: %w", err)
	}
	turns, err := st.ListTurnsByRun(ctx, run.ID)
	if err != nil {
		return fmt.Errorf("loading turns for report: %w", err)
	}
	results, err := st.ListEvaluatorResultsByRun(ctx, run.ID)
	if err != nil {
		return fmt.Errorf("loading evaluator results for report: %w", err)
	}

	report := map[string]any{
		"run":               stored,
		"turns":             turns,
		"evaluator_results": results,
	}
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding report: %w", err)
	}

	if converseOutputPath != "" {
		if err := os.WriteFile(converseOutputPath, data, 0o644); err != nil {
			return fmt.Errorf("writing report: %w", err)
		}
		fmt.Printf("Results written to %s\n", converseOutputPath)
		return nil
	}
	fmt.Println(string(data))
	return nil
}
