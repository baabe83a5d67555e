package providers

import (
	"fmt"

	"golang.org/x/time/rate"
)

// ModelInfo contains metadata for each supported model.
type ModelInfo struct {
	ID                string
	ProviderType      string // "anthropic" | "openai_compat"
	BaseURL           string
	MaxContext        int
	InputCostPerMTok  float64 // USD per million input tokens
	OutputCostPerMTok float64 // USD per million output tokens
	ExtraParams       map[string]any
}

// SupportedModels is the definitive list of models vulnhuntr supports.
// Users choose from this list.
var SupportedModels = map[string]ModelInfo{
	"claude-opus-4-6": {
		ID:                "claude-opus-4-6",
		ProviderType:      "anthropic",
		BaseURL:           "https://api.anthropic.com",
		MaxContext:        200000,
		InputCostPerMTok:  5.0,
		OutputCostPerMTok: 25.0,
	},
	"gpt-5.2": {
		ID:                "gpt-5.2",
		ProviderType:      "openai_compat",
		BaseURL:           "https://api.openai.com/v1",
		MaxContext:        128000,
		InputCostPerMTok:  10.0,
		OutputCostPerMTok: 30.0,
	},
	"glm-5": {
		ID:                "glm-5",
		ProviderType:      "openai_compat",
		BaseURL:           "https://api.z.ai/api/paas/v4/",
		MaxContext:        128000,
		InputCostPerMTok:  0.50,
		OutputCostPerMTok: 2.0,
	},
	"kimi-k2.5": {
		ID:                "kimi-k2.5",
		ProviderType:      "openai_compat",
		BaseURL:           "https://api.moonshot.ai/v1",
		MaxContext:        256000,
		InputCostPerMTok:  0.60,
		OutputCostPerMTok: 3.0,
		ExtraParams: map[string]any{
			"thinking": map[string]string{"type": "disabled"},
		},
	},
	"minimax-m2.5": {
		ID:                "minimax-m2.5",
		ProviderType:      "openai_compat",
		BaseURL:           "https://api.minimax.chat/v1",
		MaxContext:        1000000,
		InputCostPerMTok:  0.15,
		OutputCostPerMTok: 1.20,
	},
}

// apiKeyMapping maps model IDs to the key name used in the apiKeys map.
var apiKeyMapping = map[string]string{
	"claude-opus-4-6": "anthropic",
	"gpt-5.2":         "openai",
	"glm-5":           "glm",
	"kimi-k2.5":       "kimi",
	"minimax-m2.5":    "minimax",
}

// NewProvider creates the correct Provider for the given model ID and API
// keys. limiter is a process-wide token-bucket shared across every call the
// session makes to this provider; pass nil to disable rate limiting.
// Returns error if the model is not in SupportedModels or the required API
// key is missing.
func NewProvider(modelID string, apiKeys map[string]string, limiter *rate.Limiter) (Provider, error) {
	model, ok := SupportedModels[modelID]
	if !ok {
		return nil, fmt.Errorf("providers: unknown model %q", modelID)
	}

	keyName, ok := apiKeyMapping[modelID]
	if !ok {
		return nil, fmt.Errorf("providers: no API key mapping for model %q", modelID)
	}

	apiKey := apiKeys[keyName]
	if apiKey == "" {
		return nil, fmt.Errorf("providers: API key %q is required for model %q", keyName, modelID)
	}

	switch model.ProviderType {
	case "anthropic":
		return NewAnthropicProvider(apiKey, model.ID, limiter), nil
	case "openai_compat":
		return NewOpenAICompatProvider(apiKey, model.ID, model.BaseURL, model.ExtraParams, limiter), nil
	default:
		return nil, fmt.Errorf("providers: unknown provider type %q for model %q", model.ProviderType, modelID)
	}
}

// NewRateLimiter builds the shared per-process limiter, rps requests/sec
// with burst equal to rps truncated to an integer (at least 1).
func NewRateLimiter(rps float64) *rate.Limiter {
	burst := int(rps)
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(rps), burst)
}

// ModelIDs returns all supported model IDs in a fixed display order.
func ModelIDs() []string {
	// Return in a stable, meaningful order
	return []string{
		"claude-opus-4-6",
		"gpt-5.2",
		"glm-5",
		"kimi-k2.5",
		"minimax-m2.5",
	}
}
