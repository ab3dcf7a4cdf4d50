// Package llm provides a uniform client interface for generating one
// completion from a named model, with per-provider implementations for
// Anthropic, OpenAI, and Ollama. Cost figures are best-effort estimates
// from static per-model rate tables.
package llm

import (
	"context"
	"fmt"
	"time"
)

// Client generates completions from one named model.
type Client interface {
	// Generate produces a single completion. Transient provider failures
	// are absorbed internally by the retry engine.
	Generate(ctx context.Context, req GenerateRequest) (*Response, error)

	// ModelID returns the model identifier this client is bound to.
	ModelID() string
}

// GenerateRequest holds the parameters for a single completion.
type GenerateRequest struct {
	Prompt      string
	System      string
	Temperature float64
	MaxTokens   int
}

// Response is the standardized result of one completion from any provider.
type Response struct {
	Content      string
	InputTokens  int
	OutputTokens int
	// LatencyMS is the wall-clock time of the call, measured around the
	// retried request (retries included).
	LatencyMS int64
	CostUSD   float64
	Model     string
}

// ProviderError wraps a provider-specific failure with the HTTP status and
// optional retry-after hint the retry engine classifies on.
type ProviderError struct {
	Provider   string
	StatusCode int
	RetryAfter time.Duration
	HasDelay   bool
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s: status %d: %v", e.Provider, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// HTTPStatusCode implements retry.StatusCoder.
func (e *ProviderError) HTTPStatusCode() int { return e.StatusCode }

// RetryAfterDuration implements retry.RetryAfterer.
func (e *ProviderError) RetryAfterDuration() (time.Duration, bool) {
	return e.RetryAfter, e.HasDelay
}
