package llm

import (
	"fmt"
	"strings"
)

// NewClient builds a Client for a configured provider type:
// "openai" | "openai_compatible" | "anthropic".
func NewClient(providerType string, baseURL string, apiKey string) (Client, error) {
	switch strings.ToLower(strings.TrimSpace(providerType)) {
	case "openai", "openai_compatible":
		return NewOpenAIClient(apiKey, baseURL)
	case "anthropic":
		return NewAnthropicClient(apiKey, baseURL)
	default:
		return nil, fmt.Errorf("unsupported provider type %q", providerType)
	}
}
