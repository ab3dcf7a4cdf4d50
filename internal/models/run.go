package models

import (
	"time"

	"github.com/google/uuid"
)

// RunStatus represents the lifecycle state of a run.
type RunStatus string

const (
	RunStatusPending   RunStatus = "pending"
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// RunKind distinguishes batch evaluation runs from multi-turn conversation runs.
type RunKind string

const (
	RunKindEvaluation   RunKind = "evaluation"
	RunKindConversation RunKind = "conversation"
)

// ModelConfig describes one model under evaluation. Immutable per call.
type ModelConfig struct {
	ModelID     string  `json:"model_id" yaml:"model_id"`
	Temperature float64 `json:"temperature" yaml:"temperature"`
	MaxTokens   int     `json:"max_tokens" yaml:"max_tokens"`
}

// Run is one orchestrated batch (evaluation) or sequence (conversation)
// execution with its own lifecycle state. A run exclusively owns its
// outputs/turns and their evaluator results.
type Run struct {
	ID              uuid.UUID      `json:"id"`
	Kind            RunKind        `json:"kind"`
	PromptVersion   string         `json:"prompt_version,omitempty"`
	Models          []ModelConfig  `json:"models,omitempty"`
	Condition       string         `json:"condition,omitempty"`
	SystemPrompt    string         `json:"system_prompt,omitempty"`
	Parameters      map[string]any `json:"parameters,omitempty"`
	Status          RunStatus      `json:"status"`
	TotalCostUSD    float64        `json:"total_cost_usd"`
	TotalDurationMS int64          `json:"total_duration_ms"`
	TestCaseCount   int            `json:"test_case_count,omitempty"`
	TurnCount       int            `json:"turn_count,omitempty"`
	CompletedCount  int            `json:"completed_count"`
	ErrorMessage    string         `json:"error_message,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
}

// NewRun creates a pending run of the given kind.
func NewRun(kind RunKind) *Run {
	return &Run{
		ID:        uuid.New(),
		Kind:      kind,
		Status:    RunStatusPending,
		CreatedAt: time.Now().UTC(),
	}
}

// Terminal reports whether the run has reached a final state.
func (r *Run) Terminal() bool {
	return r.Status == RunStatusCompleted || r.Status == RunStatusFailed
}
