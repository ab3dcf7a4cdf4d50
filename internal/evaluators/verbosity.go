package evaluators

import (
	"github.com/kestrel-eval/kestrel/internal/metrics"
)

// VerbosityThresholds bound the per-conversation drift checks.
type VerbosityThresholds struct {
	MaxDriftSlope   float64 `json:"max_drift_slope" yaml:"max_drift_slope"`
	MaxGrowthRatio  float64 `json:"max_growth_ratio" yaml:"max_growth_ratio"`
	MaxStddevRatio  float64 `json:"max_stddev_ratio" yaml:"max_stddev_ratio"`
	MaxFallbackRate float64 `json:"max_fallback_rate" yaml:"max_fallback_rate"`
}

// DefaultVerbosityThresholds returns the standard drift limits.
func DefaultVerbosityThresholds() VerbosityThresholds {
	return VerbosityThresholds{
		MaxDriftSlope:   3.0,
		MaxGrowthRatio:  1.2,
		MaxStddevRatio:  0.35,
		MaxFallbackRate: 0.15,
	}
}

// VerbosityMetrics summarizes per-turn output token counts.
type VerbosityMetrics struct {
	MeanTokensPerTurn float64 `json:"mean_tokens_per_turn"`
	DriftSlope        float64 `json:"drift_slope"`
	LengthStddev      float64 `json:"length_stddev"`
	GrowthRatio       float64 `json:"growth_ratio"`
}

// ComputeVerbosityMetrics derives verbosity statistics from per-turn output
// token counts, skipping the first startIndex turns. The growth ratio
// compares the average of the last three turns to the first three; windows
// shrink when fewer turns are available.
func ComputeVerbosityMetrics(outputTokens []int, startIndex int) VerbosityMetrics {
	var tokens []float64
	if startIndex < len(outputTokens) {
		for _, t := range outputTokens[startIndex:] {
			tokens = append(tokens, float64(t))
		}
	}
	if len(tokens) == 0 {
		return VerbosityMetrics{}
	}

	firstWindow := tokens[:min(3, len(tokens))]
	lastWindow := tokens[max(0, len(tokens)-3):]
	firstAvg := metrics.Mean(firstWindow)
	lastAvg := metrics.Mean(lastWindow)
	growthRatio := 0.0
	if firstAvg != 0 {
		growthRatio = lastAvg / firstAvg
	}

	return VerbosityMetrics{
		MeanTokensPerTurn: metrics.Round3(metrics.Mean(tokens)),
		DriftSlope:        metrics.Round3(metrics.Slope(tokens)),
		LengthStddev:      metrics.Round3(metrics.StdDev(tokens)),
		GrowthRatio:       metrics.Round3(growthRatio),
	}
}

// EvaluateVerbosityStability scores a conversation's verbosity drift from
// per-turn token counts and fallback flags. The first turn is excluded from
// the scored metrics since openers are routinely longer; full-conversation
// metrics are still reported for inspection.
func EvaluateVerbosityStability(outputTokens []int, fallbackUsed []bool, thresholds VerbosityThresholds) *Result {
	metricsAll := ComputeVerbosityMetrics(outputTokens, 0)
	scored := ComputeVerbosityMetrics(outputTokens, 1)

	stddevLimit := 0.0
	if scored.MeanTokensPerTurn != 0 {
		stddevLimit = thresholds.MaxStddevRatio * scored.MeanTokensPerTurn
	}
	fallbackRate := 0.0
	if len(fallbackUsed) > 0 {
		count := 0
		for _, used := range fallbackUsed {
			if used {
				count++
			}
		}
		fallbackRate = float64(count) / float64(len(fallbackUsed))
	}

	checks := map[string]bool{
		"drift_slope":   scored.DriftSlope <= thresholds.MaxDriftSlope,
		"growth_ratio":  scored.GrowthRatio <= thresholds.MaxGrowthRatio,
		"length_stddev": scored.LengthStddev <= stddevLimit,
		"fallback_rate": fallbackRate <= thresholds.MaxFallbackRate,
	}

	passedCount := 0
	for _, ok := range checks {
		if ok {
			passedCount++
		}
	}
	passed := passedCount == len(checks)

	reasoning := "One or more verbosity thresholds failed"
	if passed {
		reasoning = "All verbosity thresholds satisfied"
	}

	return &Result{
		EvaluatorName: NameVerbosityStability,
		Passed:        passed,
		Score:         metrics.Round3(float64(passedCount) / float64(len(checks))),
		Details: map[string]any{
			"metrics":             scored,
			"metrics_all_turns":   metricsAll,
			"metrics_start_index": 1,
			"fallback_rate":       metrics.Round3(fallbackRate),
			"thresholds":          thresholds,
			"checks":              checks,
		},
		Reasoning: reasoning,
	}
}
