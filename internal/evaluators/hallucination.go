package evaluators

import (
	"context"
	"fmt"
	"strings"

	"github.com/kestrel-eval/kestrel/internal/llm"
	"github.com/kestrel-eval/kestrel/internal/metrics"
)

const extractionPrompt = `Analyze the following response and extract all factual claims made.
A factual claim is any statement that asserts something as true or false about the world.

Response to analyze:
%s

List each factual claim on a new line, numbered. Only include explicit claims, not opinions or hedged statements.
If there are no factual claims, respond with "NO CLAIMS".

Claims:`

const verificationPrompt = `You are a fact-checker. Determine if each claim is supported by the provided context.

Context (source of truth):
%s

Claims to verify:
%s

For each claim, respond with:
- SUPPORTED: if the claim is directly supported by the context
- NOT SUPPORTED: if the claim contradicts or is not mentioned in the context
- PARTIALLY SUPPORTED: if only part of the claim is supported

Format your response as:
1. [SUPPORTED/NOT SUPPORTED/PARTIALLY SUPPORTED] - Brief explanation
2. [SUPPORTED/NOT SUPPORTED/PARTIALLY SUPPORTED] - Brief explanation
...

Verification:`

type hallucinationConfig struct {
	ModelID string `json:"model_id"`
}

// hallucinationEvaluator runs a two-stage judge pipeline: extract factual
// claims from the output, then verify each claim against the reference
// context. A single unsupported claim fails the evaluation.
type hallucinationEvaluator struct {
	judge llm.Client
}

func newHallucinationEvaluator(r *Registry, params map[string]any) (Evaluator, error) {
	var cfg hallucinationConfig
	if err := decodeParams(params, &cfg); err != nil {
		return nil, fmt.Errorf("%s: %w", NameHallucination, err)
	}
	if r.judge == nil {
		return nil, fmt.Errorf("%s: no judge client configured", NameHallucination)
	}
	// An empty model id asks the factory for its configured judge model.
	judge, err := r.judge(cfg.ModelID)
	if err != nil {
		return nil, fmt.Errorf("%s: building judge client: %w", NameHallucination, err)
	}
	return &hallucinationEvaluator{judge: judge}, nil
}

func (e *hallucinationEvaluator) Name() string { return NameHallucination }

func (e *hallucinationEvaluator) Evaluate(ctx context.Context, ec *Context) (*Result, error) {
	if ec.Reference == "" {
		return &Result{
			EvaluatorName: NameHallucination,
			Passed:        true,
			Score:         1.0,
			Details:       map[string]any{"skipped": true, "reason": "No context provided for verification"},
			Reasoning:     "Hallucination check skipped - no source context provided",
		}, nil
	}

	extraction, err := e.judge.Generate(ctx, llm.GenerateRequest{
		Prompt:      fmt.Sprintf(extractionPrompt, ec.Output),
		Temperature: 0.0,
		MaxTokens:   1000,
	})
	if err != nil {
		return nil, fmt.Errorf("%s: extracting claims: %w", NameHallucination, err)
	}

	claimsText := strings.TrimSpace(extraction.Content)
	if strings.Contains(strings.ToUpper(claimsText), "NO CLAIMS") {
		return &Result{
			EvaluatorName: NameHallucination,
			Passed:        true,
			Score:         1.0,
			Details:       map[string]any{"claims_found": 0, "hallucinations": []string{}},
			Reasoning:     "No factual claims found in response",
		}, nil
	}

	verification, err := e.judge.Generate(ctx, llm.GenerateRequest{
		Prompt:      fmt.Sprintf(verificationPrompt, ec.Reference, claimsText),
		Temperature: 0.0,
		MaxTokens:   2000,
	})
	if err != nil {
		return nil, fmt.Errorf("%s: verifying claims: %w", NameHallucination, err)
	}

	supported, partial, notSupported, hallucinations := parseVerification(verification.Content)
	totalClaims := supported + partial + notSupported

	score := 1.0
	if totalClaims > 0 {
		score = (float64(supported) + 0.5*float64(partial)) / float64(totalClaims)
	}

	reasoning := "All claims grounded in context"
	if notSupported > 0 {
		reasoning = fmt.Sprintf("%d hallucinated claims found", notSupported)
	}

	return &Result{
		EvaluatorName: NameHallucination,
		Passed:        notSupported == 0,
		Score:         metrics.Round3(score),
		Details: map[string]any{
			"claims_found":        totalClaims,
			"supported":           supported,
			"partially_supported": partial,
			"not_supported":       notSupported,
			"hallucinations":      hallucinations,
			"claims_text":         claimsText,
		},
		Reasoning: reasoning,
	}, nil
}

// parseVerification tallies verdict lines from the judge. Only lines that
// begin with a digit are counted; NOT SUPPORTED is checked before SUPPORTED
// since the latter is a substring of the former.
func parseVerification(verdict string) (supported, partial, notSupported int, hallucinations []string) {
	hallucinations = []string{}
	for _, line := range strings.Split(strings.TrimSpace(verdict), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || line[0] < '0' || line[0] > '9' {
			continue
		}
		upper := strings.ToUpper(line)
		switch {
		case strings.Contains(upper, "NOT SUPPORTED"):
			notSupported++
			hallucinations = append(hallucinations, line)
		case strings.Contains(upper, "PARTIALLY SUPPORTED"):
			partial++
		case strings.Contains(upper, "SUPPORTED"):
			supported++
		}
	}
	return supported, partial, notSupported, hallucinations
}
