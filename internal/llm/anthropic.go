package llm

import (
	"context"
	"errors"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/kestrel-eval/kestrel/internal/retry"
)

// AnthropicClient generates completions from the Anthropic Messages API.
type AnthropicClient struct {
	client   anthropic.Client
	modelID  string
	retryCfg retry.Config
}

// NewAnthropicClient creates a client bound to the given Claude model.
func NewAnthropicClient(modelID, apiKey string) *AnthropicClient {
	return &AnthropicClient{
		client:   anthropic.NewClient(option.WithAPIKey(apiKey)),
		modelID:  modelID,
		retryCfg: retry.DefaultConfig(),
	}
}

func (c *AnthropicClient) ModelID() string { return c.modelID }

// Generate produces one completion, retrying transient failures.
func (c *AnthropicClient) Generate(ctx context.Context, req GenerateRequest) (*Response, error) {
	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(c.modelID),
		MaxTokens:   int64(req.MaxTokens),
		Temperature: anthropic.Float(req.Temperature),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
		},
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}

	start := time.Now()
	msg, err := retry.DoWithValue(ctx, c.retryCfg, func() (*anthropic.Message, error) {
		m, err := c.client.Messages.New(ctx, params)
		if err != nil {
			return nil, wrapAnthropicError(err)
		}
		return m, nil
	})
	if err != nil {
		return nil, err
	}
	latency := time.Since(start).Milliseconds()

	content := ""
	if len(msg.Content) > 0 {
		content = msg.Content[0].Text
	}
	in := int(msg.Usage.InputTokens)
	out := int(msg.Usage.OutputTokens)
	price := PriceFor(anthropicPricing, anthropicDefaultPrice, c.modelID)

	return &Response{
		Content:      content,
		InputTokens:  in,
		OutputTokens: out,
		LatencyMS:    latency,
		CostUSD:      price.Cost(in, out),
		Model:        c.modelID,
	}, nil
}

// wrapAnthropicError attaches the HTTP status and retry-after hint so the
// retry engine can classify the failure.
func wrapAnthropicError(err error) error {
	var apierr *anthropic.Error
	if !errors.As(err, &apierr) {
		return &ProviderError{Provider: "anthropic", Err: err}
	}

	pe := &ProviderError{
		Provider:   "anthropic",
		StatusCode: apierr.StatusCode,
		Err:        err,
	}
	if apierr.Response != nil {
		if ra := apierr.Response.Header.Get("retry-after"); ra != "" {
			if d, perr := time.ParseDuration(ra + "s"); perr == nil {
				pe.RetryAfter = d
				pe.HasDelay = true
			}
		}
	}
	return pe
}
