// Package llm provides chat-completion providers behind a uniform interface.
//
// Invariants:
// - Providers are stateless; one Call maps to one upstream API request.
// - Credential profiles carry failover bookkeeping (priority, cooldown).
// - Tier selection prefers configured profiles over ambient environment keys.
//
// Usage:
//
//	factory := &llm.Factory{}
//	provider, model, _ := factory.ForTier(profiles, llm.TierThinking)
//	resp, _ := provider.Call(ctx, llm.Request{
//		Model:     model,
//		Messages:  []llm.Message{{Role: "user", Content: "hello"}},
//		MaxTokens: 1024,
//	})
//	_ = resp
package llm
