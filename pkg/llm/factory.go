package llm

import (
	"fmt"
	"os"
)

// ModelTier names a capability class rather than a concrete model, so
// callers can ask for "the thinking model" without hardcoding IDs.
type ModelTier string

const (
	TierFast     ModelTier = "fast"
	TierThinking ModelTier = "thinking"
)

// Factory creates LLM providers
type Factory struct{}

// NewProvider creates a new LLM provider based on auth profile
func (f *Factory) NewProvider(profile AuthProfile) (Provider, error) {
	switch profile.Provider {
	case "anthropic":
		return NewAnthropicProvider(profile.APIKey), nil
	case "openai":
		return NewOpenAIProvider(profile.APIKey), nil
	default:
		return nil, fmt.Errorf("unsupported provider: %s", profile.Provider)
	}
}

// ModelForTier returns the default model for a provider at a given tier.
// An empty string means the provider is unknown.
func ModelForTier(provider string, tier ModelTier) string {
	switch provider {
	case "anthropic":
		if tier == TierFast {
			return "claude-3-5-haiku-20241022"
		}
		return "claude-sonnet-4-20250514"
	case "openai":
		if tier == TierFast {
			return "gpt-4o-mini"
		}
		return "gpt-4o"
	default:
		return ""
	}
}

// ForTier builds a provider for the requested tier. Configured profiles are
// tried in priority order; when none is usable, ambient environment
// credentials (ANTHROPIC_API_KEY, OPENAI_API_KEY) are accepted. This gives
// tier-based construction a wider availability envelope than profile-only
// construction.
func (f *Factory) ForTier(profiles []AuthProfile, tier ModelTier) (Provider, string, error) {
	sorted := make([]AuthProfile, len(profiles))
	copy(sorted, profiles)
	SortProfilesByPriority(sorted)

	for _, profile := range sorted {
		if profile.APIKey == "" {
			continue
		}
		model := ModelForTier(profile.Provider, tier)
		if model == "" {
			continue
		}
		provider, err := f.NewProvider(profile)
		if err != nil {
			continue
		}
		return provider, model, nil
	}

	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		return NewAnthropicProvider(key), ModelForTier("anthropic", tier), nil
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		return NewOpenAIProvider(key), ModelForTier("openai", tier), nil
	}

	return nil, "", fmt.Errorf("no credentials available for %s tier", tier)
}
