package llm

import "strings"

// Settings carries the provider credentials and endpoints clients need.
type Settings struct {
	AnthropicAPIKey string
	OpenAIAPIKey    string
	OllamaBaseURL   string
}

// ollamaFamilies are the model-name fragments routed to the local provider.
var ollamaFamilies = []string{"llama", "mistral", "mixtral", "phi", "qwen"}

// ClientForModel selects a provider client by inspecting the model
// identifier. Unknown identifiers default to the OpenAI client.
func ClientForModel(modelID string, settings Settings) Client {
	id := strings.ToLower(modelID)

	if strings.Contains(id, "claude") {
		return NewAnthropicClient(modelID, settings.AnthropicAPIKey)
	}
	if strings.Contains(id, "gpt") || strings.Contains(id, "o1") {
		return NewOpenAIClient(modelID, settings.OpenAIAPIKey)
	}
	for _, family := range ollamaFamilies {
		if strings.Contains(id, family) {
			return NewOllamaClient(modelID, settings.OllamaBaseURL)
		}
	}
	return NewOpenAIClient(modelID, settings.OpenAIAPIKey)
}
