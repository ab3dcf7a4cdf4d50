package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/kestrel-eval/kestrel/internal/retry"
)

// OllamaClient generates completions from a local Ollama server. Local
// models have zero cost.
type OllamaClient struct {
	httpClient *http.Client
	baseURL    string
	modelID    string
	retryCfg   retry.Config
}

// NewOllamaClient creates a client for the given local model.
func NewOllamaClient(modelID, baseURL string) *OllamaClient {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	return &OllamaClient{
		httpClient: &http.Client{Timeout: 2 * time.Minute},
		baseURL:    baseURL,
		modelID:    modelID,
		retryCfg:   retry.LocalConfig(),
	}
}

func (c *OllamaClient) ModelID() string { return c.modelID }

type ollamaGenerateRequest struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	System  string         `json:"system,omitempty"`
	Stream  bool           `json:"stream"`
	Options map[string]any `json:"options"`
}

type ollamaGenerateResponse struct {
	Response        string `json:"response"`
	PromptEvalCount int    `json:"prompt_eval_count"`
	EvalCount       int    `json:"eval_count"`
}

// Generate produces one completion, retrying transient failures.
func (c *OllamaClient) Generate(ctx context.Context, req GenerateRequest) (*Response, error) {
	payload := ollamaGenerateRequest{
		Model:  c.modelID,
		Prompt: req.Prompt,
		System: req.System,
		Stream: false,
		Options: map[string]any{
			"temperature": req.Temperature,
			"num_predict": req.MaxTokens,
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("ollama: encoding request: %w", err)
	}

	start := time.Now()
	data, err := retry.DoWithValue(ctx, c.retryCfg, func() (*ollamaGenerateResponse, error) {
		return c.post(ctx, body)
	})
	if err != nil {
		return nil, err
	}
	latency := time.Since(start).Milliseconds()

	return &Response{
		Content:      data.Response,
		InputTokens:  data.PromptEvalCount,
		OutputTokens: data.EvalCount,
		LatencyMS:    latency,
		CostUSD:      0, // local models are free
		Model:        c.modelID,
	}, nil
}

func (c *OllamaClient) post(ctx context.Context, body []byte) (*ollamaGenerateResponse, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return nil, &ProviderError{Provider: "ollama", Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, &ProviderError{Provider: "ollama", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &ProviderError{
			Provider:   "ollama",
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("unexpected status: %s", strings.TrimSpace(string(msg))),
		}
	}

	var data ollamaGenerateResponse
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return nil, &ProviderError{Provider: "ollama", Err: fmt.Errorf("decoding response: %w", err)}
	}
	return &data, nil
}
