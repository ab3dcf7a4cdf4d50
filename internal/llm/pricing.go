package llm

import "math"

// Price is the USD cost per one million input/output tokens.
type Price struct {
	InputPerMTok  float64
	OutputPerMTok float64
}

// anthropicPricing maps Claude model IDs to their rate tier.
var anthropicPricing = map[string]Price{
	"claude-sonnet-4-5-20250929": {3.0, 15.0},
	"claude-sonnet-4-20250514":   {3.0, 15.0},
	"claude-3-7-sonnet-20250219": {3.0, 15.0},
	"claude-3-5-sonnet-latest":   {3.0, 15.0},
	"claude-opus-4-5-20251101":   {15.0, 75.0},
	"claude-opus-4-1-20250805":   {15.0, 75.0},
	"claude-opus-4-20250514":     {15.0, 75.0},
	"claude-3-opus-20240229":     {15.0, 75.0},
	"claude-3-opus-latest":       {15.0, 75.0},
	"claude-haiku-4-5-20251001":  {0.8, 4.0},
	"claude-3-5-haiku-20241022":  {0.8, 4.0},
	"claude-3-haiku-20240307":    {0.25, 1.25},
}

// anthropicDefaultPrice is the tier assumed for unrecognized Claude IDs.
var anthropicDefaultPrice = Price{3.0, 15.0}

// openAIPricing maps OpenAI model IDs to their rate tier.
var openAIPricing = map[string]Price{
	"gpt-4-turbo":            {10.0, 30.0},
	"gpt-4-turbo-preview":    {10.0, 30.0},
	"gpt-4o":                 {2.5, 10.0},
	"gpt-4o-2024-11-20":      {2.5, 10.0},
	"gpt-4o-mini":            {0.15, 0.6},
	"gpt-4o-mini-2024-07-18": {0.15, 0.6},
	"gpt-4":                  {30.0, 60.0},
	"gpt-3.5-turbo":          {0.5, 1.5},
}

// openAIDefaultPrice is the tier assumed for unrecognized OpenAI IDs.
var openAIDefaultPrice = Price{2.5, 10.0}

// Cost computes the USD cost of a call under this price, rounded to six
// decimal places.
func (p Price) Cost(inputTokens, outputTokens int) float64 {
	in := float64(inputTokens) / 1_000_000 * p.InputPerMTok
	out := float64(outputTokens) / 1_000_000 * p.OutputPerMTok
	return math.Round((in+out)*1e6) / 1e6
}

// PriceFor returns the rate tier for a model ID within a provider's table,
// falling back to the table's default tier for unknown IDs.
func PriceFor(table map[string]Price, fallback Price, modelID string) Price {
	if p, ok := table[modelID]; ok {
		return p
	}
	return fallback
}
