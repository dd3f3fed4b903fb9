package daemon

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/legatehq/legate/internal/config"
	"github.com/legatehq/legate/pkg/bridge"
	"github.com/legatehq/legate/pkg/engine"
	"github.com/legatehq/legate/pkg/llm"
)

type stubProvider struct {
	response *llm.Response
	err      error
	requests []llm.Request
}

func (p *stubProvider) Call(ctx context.Context, request llm.Request) (*llm.Response, error) {
	p.requests = append(p.requests, request)
	if p.err != nil {
		return nil, p.err
	}
	return p.response, nil
}

func (p *stubProvider) Name() string {
	return "stub"
}

type stubProviderCreator struct {
	provider llm.Provider
}

func (c *stubProviderCreator) NewProvider(profile llm.AuthProfile) (llm.Provider, error) {
	return c.provider, nil
}

func TestConvertAuthProfiles(t *testing.T) {
	profiles := convertAuthProfiles([]config.AIProfile{
		{ID: "a", Provider: "anthropic", APIKey: "key-a", Priority: 2},
		{ID: "b", Provider: "openai", APIKey: "key-b", Priority: 1},
	})

	require.Len(t, profiles, 2)
	assert.Equal(t, llm.AuthProfile{ID: "a", Provider: "anthropic", APIKey: "key-a", Priority: 2}, profiles[0])
	assert.Equal(t, llm.AuthProfile{ID: "b", Provider: "openai", APIKey: "key-b", Priority: 1}, profiles[1])
}

func TestRichBuilder(t *testing.T) {
	t.Run("reports unavailable without profiles", func(t *testing.T) {
		t.Setenv("LEGATE_MODEL", "")
		t.Setenv("ANTHROPIC_API_KEY", "")
		t.Setenv("OPENAI_API_KEY", "")

		cfg := config.DefaultConfig()
		cfg.DataDir = t.TempDir()
		cfg.Server.Port = 18940
		cfg.Server.SharedSecret = "test-secret"

		log := newTestLogger(t)
		daemon, err := New(cfg, log)
		require.NoError(t, err)

		_, err = daemon.richBuilder()(bridge.DefaultModel, bridge.DefaultSystemPrompt)
		require.Error(t, err)
		assert.True(t, errors.Is(err, engine.ErrUnavailable))
	})

	t.Run("builds an engine client with profiles", func(t *testing.T) {
		daemon := createTestDaemon(t)

		client, err := daemon.richBuilder()(bridge.DefaultModel, bridge.DefaultSystemPrompt)
		require.NoError(t, err)
		assert.NotNil(t, client)
	})
}

func TestFallbackBuilder(t *testing.T) {
	t.Run("fails without any credentials", func(t *testing.T) {
		t.Setenv("LEGATE_MODEL", "")
		t.Setenv("ANTHROPIC_API_KEY", "")
		t.Setenv("OPENAI_API_KEY", "")

		cfg := config.DefaultConfig()
		cfg.DataDir = t.TempDir()
		cfg.Server.Port = 18941
		cfg.Server.SharedSecret = "test-secret"

		log := newTestLogger(t)
		daemon, err := New(cfg, log)
		require.NoError(t, err)

		_, err = daemon.fallbackBuilder()()
		require.Error(t, err)
	})

	t.Run("builds a thinking-tier client from profiles", func(t *testing.T) {
		daemon := createTestDaemon(t)

		client, err := daemon.fallbackBuilder()()
		require.NoError(t, err)

		mc, ok := client.(*modelClient)
		require.True(t, ok)
		assert.Equal(t, llm.ModelForTier("anthropic", llm.TierThinking), mc.model)
	})

	t.Run("accepts ambient environment credentials", func(t *testing.T) {
		t.Setenv("LEGATE_MODEL", "")
		t.Setenv("ANTHROPIC_API_KEY", "sk-ambient")
		t.Setenv("OPENAI_API_KEY", "")

		cfg := config.DefaultConfig()
		cfg.DataDir = t.TempDir()
		cfg.Server.Port = 18942
		cfg.Server.SharedSecret = "test-secret"

		log := newTestLogger(t)
		daemon, err := New(cfg, log)
		require.NoError(t, err)

		client, err := daemon.fallbackBuilder()()
		require.NoError(t, err)
		assert.NotNil(t, client)
	})
}

func TestEngineClientRun(t *testing.T) {
	provider := &stubProvider{response: &llm.Response{Content: "engine says hi"}}

	eng, err := engine.New(engine.Config{
		Profiles:        []llm.AuthProfile{{ID: "test", Provider: "anthropic", APIKey: "key", Priority: 1}},
		Model:           "test-model",
		SystemPrompt:    "be brief",
		Temperature:     0.5,
		ProviderFactory: &stubProviderCreator{provider: provider},
	})
	require.NoError(t, err)

	client := &engineClient{engine: eng}
	reply, err := client.Run(context.Background(), bridge.Request{
		Message:   "hello",
		SessionID: "sess-1",
	})
	require.NoError(t, err)
	assert.Equal(t, "engine says hi", bridge.ExtractText(reply))

	require.NotEmpty(t, provider.requests)
	assert.Equal(t, "test-model", provider.requests[0].Model)
	assert.Equal(t, "be brief", provider.requests[0].SystemPrompt)
}

func TestModelClientGenerate(t *testing.T) {
	t.Run("wraps provider output in a structured reply", func(t *testing.T) {
		provider := &stubProvider{response: &llm.Response{Content: "42"}}
		client := &modelClient{
			provider:    provider,
			model:       "test-model",
			temperature: 0.7,
			maxTokens:   256,
		}

		messages := []llm.Message{
			{Role: "system", Content: "be brief"},
			{Role: "user", Content: "what is the answer"},
		}
		reply, err := client.Generate(context.Background(), messages)
		require.NoError(t, err)
		assert.Equal(t, "42", bridge.ExtractText(reply))

		require.Len(t, provider.requests, 1)
		assert.Equal(t, "test-model", provider.requests[0].Model)
		assert.Equal(t, messages, provider.requests[0].Messages)
		assert.Equal(t, 0.7, provider.requests[0].Temperature)
		assert.Equal(t, 256, provider.requests[0].MaxTokens)
	})

	t.Run("propagates provider errors", func(t *testing.T) {
		provider := &stubProvider{err: errors.New("quota exhausted")}
		client := &modelClient{provider: provider, model: "test-model"}

		_, err := client.Generate(context.Background(), []llm.Message{{Role: "user", Content: "hi"}})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "quota exhausted")
	})
}
