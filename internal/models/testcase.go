package models

import (
	"time"

	"github.com/google/uuid"
)

// TestCase is one declarative behavioral test: a prompt template plus the
// specs the evaluators score the model's output against.
type TestCase struct {
	ID    uuid.UUID `json:"id" yaml:"id"`
	Title string    `json:"title,omitempty" yaml:"title"`

	// Prompt is the instruction template; Input is appended when building
	// the full prompt sent to the model.
	Prompt string `json:"prompt" yaml:"prompt"`
	Input  string `json:"input" yaml:"input"`

	// Context is the source-of-truth text for hallucination checking, or a
	// baseline output for stability comparison.
	Context  string `json:"context,omitempty" yaml:"context"`
	Category string `json:"category,omitempty" yaml:"category"`

	// ExpectedStructure is a JSON schema the output must satisfy.
	ExpectedStructure map[string]any `json:"expected_structure,omitempty" yaml:"expected_structure"`

	// Per-evaluator spec payloads.
	InstructionSpec map[string]any `json:"instruction_spec,omitempty" yaml:"instruction_spec"`
	FormatSpec      map[string]any `json:"format_spec,omitempty" yaml:"format_spec"`
	StabilityParams map[string]any `json:"stability_params,omitempty" yaml:"stability_params"`
	ShouldRefuse    *bool          `json:"should_refuse,omitempty" yaml:"should_refuse"`

	CreatedAt time.Time `json:"created_at" yaml:"-"`
	UpdatedAt time.Time `json:"updated_at" yaml:"-"`
}

// FullPrompt combines the prompt template with the test case input, matching
// what the orchestrator sends to the model.
func (tc *TestCase) FullPrompt() string {
	return tc.Prompt + "\n\nInput: " + tc.Input
}
