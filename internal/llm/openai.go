package llm

import (
	"context"
	"errors"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/kestrel-eval/kestrel/internal/retry"
)

// OpenAIClient generates completions from the OpenAI chat completions API.
// It is also the fallback provider for unrecognized model identifiers.
type OpenAIClient struct {
	client   *openai.Client
	modelID  string
	retryCfg retry.Config
}

// NewOpenAIClient creates a client bound to the given model.
func NewOpenAIClient(modelID, apiKey string) *OpenAIClient {
	return &OpenAIClient{
		client:   openai.NewClient(apiKey),
		modelID:  modelID,
		retryCfg: retry.DefaultConfig(),
	}
}

func (c *OpenAIClient) ModelID() string { return c.modelID }

// Generate produces one completion, retrying transient failures.
func (c *OpenAIClient) Generate(ctx context.Context, req GenerateRequest) (*Response, error) {
	messages := []openai.ChatCompletionMessage{}
	if req.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.System,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: req.Prompt,
	})

	chatReq := openai.ChatCompletionRequest{
		Model:       c.modelID,
		Messages:    messages,
		Temperature: float32(req.Temperature),
		MaxTokens:   req.MaxTokens,
	}

	start := time.Now()
	resp, err := retry.DoWithValue(ctx, c.retryCfg, func() (openai.ChatCompletionResponse, error) {
		r, err := c.client.CreateChatCompletion(ctx, chatReq)
		if err != nil {
			return openai.ChatCompletionResponse{}, wrapOpenAIError(err)
		}
		return r, nil
	})
	if err != nil {
		return nil, err
	}
	latency := time.Since(start).Milliseconds()

	content := ""
	if len(resp.Choices) > 0 {
		content = resp.Choices[0].Message.Content
	}
	in := resp.Usage.PromptTokens
	out := resp.Usage.CompletionTokens
	price := PriceFor(openAIPricing, openAIDefaultPrice, c.modelID)

	return &Response{
		Content:      content,
		InputTokens:  in,
		OutputTokens: out,
		LatencyMS:    latency,
		CostUSD:      price.Cost(in, out),
		Model:        c.modelID,
	}, nil
}

// wrapOpenAIError attaches the HTTP status so the retry engine can
// classify the failure.
func wrapOpenAIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return &ProviderError{Provider: "openai", StatusCode: apiErr.HTTPStatusCode, Err: err}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return &ProviderError{Provider: "openai", StatusCode: reqErr.HTTPStatusCode, Err: err}
	}
	return &ProviderError{Provider: "openai", Err: err}
}
