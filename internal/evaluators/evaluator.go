// Package evaluators implements the pluggable scoring framework: a registry
// of independent algorithms that score or classify one model output against
// a declarative specification.
package evaluators

import (
	"context"
	"regexp"
	"strings"
)

// Stable evaluator names, used for registration and persisted results.
const (
	NameInstructionAdherence = "instruction_adherence"
	NameFormatConsistency    = "format_consistency"
	NameHallucination        = "hallucination"
	NameRefusalBehavior      = "refusal_behavior"
	NameOutputStability      = "output_stability"
	NameVerbosityStability   = "verbosity_stability"
)

// Context is the unit evaluators consume. It is built once per output and
// never mutated by evaluators.
type Context struct {
	// Output is the model's response under evaluation.
	Output string
	// Prompt is the original prompt template.
	Prompt string
	// Input is the test case input text.
	Input string
	// Reference is the source-of-truth context for hallucination checking,
	// or the baseline text for stability comparison.
	Reference string
	// ExpectedStructure is a JSON schema the output must satisfy.
	ExpectedStructure map[string]any
	Category          string

	// Per-evaluator spec payloads carried from the test case.
	InstructionSpec map[string]any
	FormatSpec      map[string]any
	StabilityParams map[string]any
	ShouldRefuse    *bool
}

// Result is the outcome of one evaluator scoring one output. Score is
// always within [0, 1]; Details carries evaluator-specific structure.
type Result struct {
	EvaluatorName string
	Passed        bool
	Score         float64
	Details       map[string]any
	Reasoning     string
}

// Evaluator is a named algorithm that scores or classifies one model
// output, producing pass/fail, a score, and structured detail.
type Evaluator interface {
	Name() string
	Evaluate(ctx context.Context, ec *Context) (*Result, error)
}

var fencedBlockRE = regexp.MustCompile("```(?:json)?\\s*([\\s\\S]*?)\\s*```")

// extractJSONCandidate returns the contents of a fenced code block when one
// is present, otherwise the trimmed output as-is.
func extractJSONCandidate(output string) string {
	if m := fencedBlockRE.FindStringSubmatch(output); m != nil {
		return strings.TrimSpace(m[1])
	}
	return strings.TrimSpace(output)
}
