package daemon

import (
	"context"

	"github.com/legatehq/legate/internal/config"
	"github.com/legatehq/legate/pkg/bridge"
	"github.com/legatehq/legate/pkg/engine"
	"github.com/legatehq/legate/pkg/llm"
)

// richBuilder returns the constructor for the rich backend: the completion
// engine with credential failover, bound to the resolved model and system
// prompt. With no credential profiles configured the engine reports itself
// unavailable and the bridge demotes to the fallback backend.
func (d *Daemon) richBuilder() bridge.RichBuilder {
	return func(model, systemPrompt string) (bridge.RichClient, error) {
		eng, err := engine.New(engine.Config{
			Profiles:     convertAuthProfiles(d.config.AI.Profiles),
			Model:        model,
			SystemPrompt: systemPrompt,
			Temperature:  d.config.Agent.Temperature,
			MaxTokens:    d.config.Agent.MaxTokens,
			MaxRetries:   d.config.Agent.MaxRetries,
			Logger:       d.logger.GetZerolog(),
		})
		if err != nil {
			return nil, err
		}
		return &engineClient{engine: eng}, nil
	}
}

// fallbackBuilder returns the constructor for the fallback backend: a bare
// provider at the thinking tier. Tier selection accepts ambient environment
// credentials, so the fallback can serve even with an empty profile list.
func (d *Daemon) fallbackBuilder() bridge.FallbackBuilder {
	return func() (bridge.FallbackClient, error) {
		factory := &llm.Factory{}
		provider, model, err := factory.ForTier(convertAuthProfiles(d.config.AI.Profiles), llm.TierThinking)
		if err != nil {
			return nil, err
		}
		return &modelClient{
			provider:    provider,
			model:       model,
			temperature: d.config.Agent.Temperature,
			maxTokens:   d.config.Agent.MaxTokens,
		}, nil
	}
}

// engineClient adapts the completion engine to the bridge's rich client
// interface.
type engineClient struct {
	engine *engine.Engine
}

func (c *engineClient) Run(ctx context.Context, req bridge.Request) (bridge.Reply, error) {
	result, err := c.engine.Run(ctx, engine.RunRequest{
		Message:   req.Message,
		SessionID: req.SessionID,
		Handoff:   req.Handoff,
	})
	if err != nil {
		return nil, err
	}
	return bridge.StructuredReply{Text: result.Content}, nil
}

// modelClient adapts a single provider to the bridge's fallback client
// interface.
type modelClient struct {
	provider    llm.Provider
	model       string
	temperature float64
	maxTokens   int
}

func (c *modelClient) Generate(ctx context.Context, messages []llm.Message) (bridge.Reply, error) {
	resp, err := c.provider.Call(ctx, llm.Request{
		Model:       c.model,
		Messages:    messages,
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
	})
	if err != nil {
		return nil, err
	}
	return bridge.StructuredReply{Text: resp.Content}, nil
}

// convertAuthProfiles converts config auth profiles to llm auth profiles
func convertAuthProfiles(profiles []config.AIProfile) []llm.AuthProfile {
	result := make([]llm.AuthProfile, len(profiles))
	for i, p := range profiles {
		result[i] = llm.AuthProfile{
			ID:       p.ID,
			Provider: p.Provider,
			APIKey:   p.APIKey,
			Priority: p.Priority,
		}
	}
	return result
}
