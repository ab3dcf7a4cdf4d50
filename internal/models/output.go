package models

import (
	"time"

	"github.com/google/uuid"
)

// Output is one row per (test case, model) unit within an evaluation run.
// Response and the metric fields are nil when the unit failed; Error carries
// the failure message. Exactly one of the two shapes exists per unit.
type Output struct {
	ID           uuid.UUID `json:"id"`
	RunID        uuid.UUID `json:"run_id"`
	TestCaseID   uuid.UUID `json:"test_case_id"`
	Model        string    `json:"model"`
	Response     *string   `json:"model_response"`
	LatencyMS    *int64    `json:"latency_ms"`
	InputTokens  *int      `json:"input_tokens"`
	OutputTokens *int      `json:"output_tokens"`
	CostUSD      *float64  `json:"cost_usd"`
	Error        *string   `json:"error,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// Turn is one row per (run, turn index) within a conversation run. Ordering
// is owned by TurnIndex; transcript linkage is the accumulated prior turns.
type Turn struct {
	ID            uuid.UUID `json:"id"`
	RunID         uuid.UUID `json:"run_id"`
	TurnIndex     int       `json:"turn_index"`
	Condition     string    `json:"condition,omitempty"`
	ModelID       string    `json:"model_id"`
	UserText      string    `json:"user_text"`
	AssistantText string    `json:"assistant_text"`
	InputTokens   int       `json:"input_tokens"`
	OutputTokens  int       `json:"output_tokens"`
	LatencyMS     int64     `json:"latency_ms"`
	CostUSD       float64   `json:"cost_usd"`
	FallbackUsed  bool      `json:"fallback_used"`
	CreatedAt     time.Time `json:"created_at"`
}

// EvaluatorResult is the persisted record of one evaluator scoring one
// output (or, for conversation-level evaluators, one run). Exactly one
// record exists per (subject, evaluator) pair; immutable after creation.
type EvaluatorResult struct {
	ID            uuid.UUID      `json:"id"`
	OutputID      uuid.UUID      `json:"output_id,omitempty"`
	RunID         uuid.UUID      `json:"run_id,omitempty"`
	EvaluatorName string         `json:"evaluator_name"`
	Passed        bool           `json:"passed"`
	Score         float64        `json:"score"`
	Details       map[string]any `json:"details,omitempty"`
	Reasoning     string         `json:"reasoning,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
}
