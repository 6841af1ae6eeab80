package llmclient

import "fmt"

// Build selects a Client implementation by provider name, mirroring the
// teacher's internal/llm/providers.Build switch.
func Build(provider, apiKey, baseURL, model string) (Client, error) {
	switch provider {
	case "", "openai":
		return NewOpenAI(apiKey, baseURL, model), nil
	case "anthropic":
		return NewAnthropic(apiKey, baseURL, model), nil
	default:
		return nil, fmt.Errorf("llmclient: unsupported provider %q", provider)
	}
}
