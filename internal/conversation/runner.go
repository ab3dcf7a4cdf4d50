// Package conversation executes scripted multi-turn dialogues against one
// model, tracking per-turn metrics and scoring verbosity drift.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kestrel-eval/kestrel/internal/artifacts"
	"github.com/kestrel-eval/kestrel/internal/evaluators"
	"github.com/kestrel-eval/kestrel/internal/llm"
	"github.com/kestrel-eval/kestrel/internal/models"
	"github.com/kestrel-eval/kestrel/internal/store"
)

// DefaultTurnTimeout bounds a single assistant turn.
const DefaultTurnTimeout = 120 * time.Second

var fallbackQuestionRE = regexp.MustCompile(`(?i)\b(clarif(y|ication)|could you|can you|do you mean|which one|what should)\b`)
var fallbackOfferRE = regexp.MustCompile(`(?i)\b(can expand|happy to expand|want more detail|offer to expand)\b`)

// Runner drives a conversation run turn by turn. Turns are strictly
// sequential since each prompt embeds the transcript so far.
type Runner struct {
	store     store.Store
	clientFor func(models.ModelConfig) (llm.Client, error)
	sink      artifacts.Sink
	logger    *slog.Logger
}

func NewRunner(
	st store.Store,
	clientFor func(models.ModelConfig) (llm.Client, error),
	sink artifacts.Sink,
	logger *slog.Logger,
) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{store: st, clientFor: clientFor, sink: sink, logger: logger}
}

// Params configures one conversation run.
type Params struct {
	Turns        []string
	ModelConfig  models.ModelConfig
	SystemPrompt string
	TurnTimeout  time.Duration
	Thresholds   evaluators.VerbosityThresholds
}

func buildPrompt(transcript, userText string) string {
	return fmt.Sprintf("%sUser: %s\nAssistant:", transcript, userText)
}

// detectFallback flags assistant turns that deflect instead of answering:
// a trailing question with clarification vocabulary, or an offer to expand.
func detectFallback(assistantText string) bool {
	if assistantText == "" {
		return false
	}
	if strings.HasSuffix(strings.TrimSpace(assistantText), "?") && fallbackQuestionRE.MatchString(assistantText) {
		return true
	}
	return fallbackOfferRE.MatchString(assistantText)
}

// Run executes every turn in order, persists per-turn records, scores
// verbosity drift, and writes run artifacts. A turn timeout fails the run.
func (r *Runner) Run(ctx context.Context, runID uuid.UUID, params Params) error {
	run, err := r.store.GetRun(ctx, runID)
	if err != nil {
		return fmt.Errorf("loading run: %w", err)
	}

	turnTimeout := params.TurnTimeout
	if turnTimeout <= 0 {
		turnTimeout = DefaultTurnTimeout
	}

	run.Status = models.RunStatusRunning
	run.Parameters = map[string]any{
		"turn_timeout_s": int(turnTimeout.Seconds()),
		"thresholds":     params.Thresholds,
	}
	if err := r.store.UpdateRun(ctx, run); err != nil {
		return fmt.Errorf("marking run running: %w", err)
	}

	client, err := r.clientFor(params.ModelConfig)
	if err != nil {
		return r.failRun(ctx, run, fmt.Errorf("building client: %w", err))
	}

	transcript := ""
	totalCost := 0.0
	var totalDuration int64
	completed := 0
	var outputTokens []int
	var fallbackUsed []bool
	var transcriptEntries []map[string]any
	var turnMetrics []map[string]any

	for index, userText := range params.Turns {
		resp, err := r.generateTurn(ctx, client, params, transcript, userText, turnTimeout)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				return r.failRun(ctx, run, fmt.Errorf("turn timed out after %s", turnTimeout))
			}
			return r.failRun(ctx, run, err)
		}

		assistantText := resp.Content
		fallbackFlag := detectFallback(assistantText)

		turn := &models.Turn{
			ID:            uuid.New(),
			RunID:         runID,
			TurnIndex:     index,
			Condition:     run.Condition,
			ModelID:       params.ModelConfig.ModelID,
			UserText:      userText,
			AssistantText: assistantText,
			InputTokens:   resp.InputTokens,
			OutputTokens:  resp.OutputTokens,
			LatencyMS:     resp.LatencyMS,
			CostUSD:       resp.CostUSD,
			FallbackUsed:  fallbackFlag,
			CreatedAt:     time.Now().UTC(),
		}
		if err := r.store.CreateTurn(ctx, turn); err != nil {
			return r.failRun(ctx, run, fmt.Errorf("persisting turn %d: %w", index, err))
		}

		transcript = fmt.Sprintf("%sUser: %s\nAssistant: %s\n", transcript, userText, assistantText)
		transcriptEntries = append(transcriptEntries, map[string]any{
			"turn_index":     index,
			"user_text":      userText,
			"assistant_text": assistantText,
		})
		turnMetrics = append(turnMetrics, map[string]any{
			"turn_index":    index,
			"condition":     run.Condition,
			"model_id":      params.ModelConfig.ModelID,
			"input_tokens":  resp.InputTokens,
			"output_tokens": resp.OutputTokens,
			"latency_ms":    resp.LatencyMS,
			"cost_usd":      resp.CostUSD,
			"fallback_used": fallbackFlag,
		})

		totalCost += resp.CostUSD
		totalDuration += resp.LatencyMS
		completed++
		outputTokens = append(outputTokens, resp.OutputTokens)
		fallbackUsed = append(fallbackUsed, fallbackFlag)
	}

	run.Status = models.RunStatusCompleted
	run.TotalCostUSD = totalCost
	run.TotalDurationMS = totalDuration
	run.CompletedCount = completed
	run.TurnCount = len(params.Turns)
	if err := r.store.UpdateRun(ctx, run); err != nil {
		return fmt.Errorf("marking run completed: %w", err)
	}

	evalResult := evaluators.EvaluateVerbosityStability(outputTokens, fallbackUsed, params.Thresholds)
	record := &models.EvaluatorResult{
		ID:            uuid.New(),
		RunID:         runID,
		EvaluatorName: evalResult.EvaluatorName,
		Passed:        evalResult.Passed,
		Score:         evalResult.Score,
		Details:       evalResult.Details,
		Reasoning:     evalResult.Reasoning,
		CreatedAt:     time.Now().UTC(),
	}
	if err := r.store.CreateEvaluatorResult(ctx, record); err != nil {
		return fmt.Errorf("persisting verbosity result: %w", err)
	}

	if err := r.writeArtifacts(run, params, transcriptEntries, turnMetrics, evalResult); err != nil {
		r.logger.Error("failed to write conversation artifacts", "run_id", runID, "error", err)
	}
	return nil
}

// generateTurn runs one assistant turn under its own deadline.
func (r *Runner) generateTurn(
	ctx context.Context,
	client llm.Client,
	params Params,
	transcript, userText string,
	timeout time.Duration,
) (*llm.Response, error) {
	turnCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	return client.Generate(turnCtx, llm.GenerateRequest{
		Prompt:      buildPrompt(transcript, userText),
		System:      params.SystemPrompt,
		Temperature: params.ModelConfig.Temperature,
		MaxTokens:   params.ModelConfig.MaxTokens,
	})
}

// writeArtifacts emits the four post-run JSON documents. Failures here are
// reported but never fail the run.
func (r *Runner) writeArtifacts(
	run *models.Run,
	params Params,
	transcriptEntries, turnMetrics []map[string]any,
	evalResult *evaluators.Result,
) error {
	if r.sink == nil {
		return nil
	}

	modelID := params.ModelConfig.ModelID
	if err := r.sink.Write(run.ID, "transcript", map[string]any{
		"run_id":    run.ID.String(),
		"condition": run.Condition,
		"model_id":  modelID,
		"turns":     transcriptEntries,
	}); err != nil {
		return err
	}

	if err := r.sink.Write(run.ID, "turn_metrics", map[string]any{
		"run_id":    run.ID.String(),
		"condition": run.Condition,
		"model_id":  modelID,
		"turns":     turnMetrics,
	}); err != nil {
		return err
	}

	if err := r.sink.Write(run.ID, "evaluator_results", map[string]any{
		"run_id":    run.ID.String(),
		"condition": run.Condition,
		"model_id":  modelID,
		"results": []map[string]any{{
			"evaluator_name": evalResult.EvaluatorName,
			"passed":         evalResult.Passed,
			"score":          evalResult.Score,
			"details":        evalResult.Details,
			"reasoning":      evalResult.Reasoning,
		}},
	}); err != nil {
		return err
	}

	return r.sink.Write(run.ID, "aggregate_metrics", map[string]any{
		"run_id":        run.ID.String(),
		"condition":     run.Condition,
		"model_id":      modelID,
		"passed":        evalResult.Passed,
		"score":         evalResult.Score,
		"reasoning":     evalResult.Reasoning,
		"metrics":       evalResult.Details["metrics"],
		"fallback_rate": evalResult.Details["fallback_rate"],
		"thresholds":    evalResult.Details["thresholds"],
		"checks":        evalResult.Details["checks"],
	})
}

func (r *Runner) failRun(ctx context.Context, run *models.Run, cause error) error {
	run.Status = models.RunStatusFailed
	run.ErrorMessage = cause.Error()
	if err := r.store.UpdateRun(ctx, run); err != nil {
		r.logger.Error("marking run failed", "run_id", run.ID, "error", err)
	}
	return cause
}
