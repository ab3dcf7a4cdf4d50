package evaluators

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/kestrel-eval/kestrel/internal/metrics"
)

type stabilityConfig struct {
	MinSimilarity float64 `json:"min_similarity"`
}

// stabilityEvaluator measures output consistency. In single-output mode it
// compares against a baseline carried in the evaluation context; in
// multi-sample mode it averages pairwise Jaccard similarity across samples.
type stabilityEvaluator struct {
	cfg stabilityConfig
}

func newStabilityEvaluator(_ *Registry, params map[string]any) (Evaluator, error) {
	cfg := stabilityConfig{MinSimilarity: 0.7}
	if err := decodeParams(params, &cfg); err != nil {
		return nil, fmt.Errorf("%s: %w", NameOutputStability, err)
	}
	return &stabilityEvaluator{cfg: cfg}, nil
}

func (e *stabilityEvaluator) Name() string { return NameOutputStability }

func (e *stabilityEvaluator) Evaluate(_ context.Context, ec *Context) (*Result, error) {
	if ec.Reference != "" {
		return e.compareToBaseline(ec.Output, ec.Reference), nil
	}
	return &Result{
		EvaluatorName: NameOutputStability,
		Passed:        true,
		Score:         1.0,
		Details:       map[string]any{"mode": "single_output", "note": "No baseline for comparison"},
		Reasoning:     "Single output - no stability comparison possible",
	}, nil
}

// EvaluateSamples measures stability across multiple outputs from the same
// prompt, typically resampled at varying temperatures.
func (e *stabilityEvaluator) EvaluateSamples(outputs []string) *Result {
	if len(outputs) < 2 {
		return &Result{
			EvaluatorName: NameOutputStability,
			Passed:        true,
			Score:         1.0,
			Details:       map[string]any{"outputs_count": len(outputs)},
			Reasoning:     "Need at least 2 outputs to measure stability",
		}
	}

	var similarities []float64
	exactMatches := 0
	for i := 0; i < len(outputs); i++ {
		for j := i + 1; j < len(outputs); j++ {
			similarities = append(similarities, metrics.Jaccard(outputs[i], outputs[j]))
			if strings.TrimSpace(outputs[i]) == strings.TrimSpace(outputs[j]) {
				exactMatches++
			}
		}
	}
	avgSimilarity := metrics.Mean(similarities)

	passed := avgSimilarity >= e.cfg.MinSimilarity
	verdict := " (below threshold)"
	if passed {
		verdict = " (stable)"
	}

	return &Result{
		EvaluatorName: NameOutputStability,
		Passed:        passed,
		Score:         metrics.Round3(avgSimilarity),
		Details: map[string]any{
			"outputs_count":            len(outputs),
			"avg_similarity":           metrics.Round3(avgSimilarity),
			"exact_match_pairs":        exactMatches,
			"total_pairs":              len(similarities),
			"formats_consistent":       formatsConsistent(outputs),
			"min_similarity_threshold": e.cfg.MinSimilarity,
		},
		Reasoning: fmt.Sprintf("Average similarity: %.1f%%%s", avgSimilarity*100, verdict),
	}
}

// EvaluateStabilitySamples scores a set of resampled outputs, honoring an
// optional min_similarity override carried in the stability params.
func EvaluateStabilitySamples(outputs []string, params map[string]any) (*Result, error) {
	ev, err := newStabilityEvaluator(nil, params)
	if err != nil {
		return nil, err
	}
	return ev.(*stabilityEvaluator).EvaluateSamples(outputs), nil
}

func (e *stabilityEvaluator) compareToBaseline(output, baseline string) *Result {
	similarity := metrics.Jaccard(output, baseline)
	exactMatch := strings.TrimSpace(output) == strings.TrimSpace(baseline)

	suffix := ""
	if exactMatch {
		suffix = " (exact match)"
	}

	return &Result{
		EvaluatorName: NameOutputStability,
		Passed:        similarity >= e.cfg.MinSimilarity,
		Score:         metrics.Round3(similarity),
		Details: map[string]any{
			"mode":                     "baseline_comparison",
			"similarity":               metrics.Round3(similarity),
			"exact_match":              exactMatch,
			"min_similarity_threshold": e.cfg.MinSimilarity,
		},
		Reasoning: fmt.Sprintf("Similarity to baseline: %.1f%%%s", similarity*100, suffix),
	}
}

var (
	jsonBlockRE    = regexp.MustCompile(`\{[\s\S]*\}`)
	bulletLineRE   = regexp.MustCompile(`(?m)^[\s]*[-*•]`)
	numberedLineRE = regexp.MustCompile(`(?m)^[\s]*\d+\.`)
	headerLineRE   = regexp.MustCompile(`(?m)^#+\s`)
)

// formatSignature captures the coarse structural shape of an output.
type formatSignature struct {
	hasJSON     bool
	hasBullets  bool
	hasNumbered bool
	hasHeaders  bool
}

func signatureOf(output string) formatSignature {
	return formatSignature{
		hasJSON:     jsonBlockRE.MatchString(output),
		hasBullets:  bulletLineRE.MatchString(output),
		hasNumbered: numberedLineRE.MatchString(output),
		hasHeaders:  headerLineRE.MatchString(output),
	}
}

func formatsConsistent(outputs []string) bool {
	first := signatureOf(outputs[0])
	for _, output := range outputs[1:] {
		if signatureOf(output) != first {
			return false
		}
	}
	return true
}
