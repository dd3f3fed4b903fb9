package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/legatehq/legate/internal/observability"
	"github.com/legatehq/legate/internal/tracing"
	"github.com/legatehq/legate/pkg/llm"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// ErrUnavailable indicates the engine cannot be constructed because no
// credential profile is configured.
var ErrUnavailable = errors.New("no credential profiles available")

// RunRequest contains input parameters for a completion run
type RunRequest struct {
	Message   string      `json:"message"`
	SessionID string      `json:"session_id,omitempty"`
	Handoff   interface{} `json:"handoff,omitempty"`
}

// RunResult contains output from a completion run
type RunResult struct {
	Content  string          `json:"content"`
	Provider string          `json:"provider"`
	Model    string          `json:"model"`
	Usage    *llm.TokenUsage `json:"usage,omitempty"`
}

// ProviderCreator creates LLM providers from auth profiles.
type ProviderCreator interface {
	NewProvider(profile llm.AuthProfile) (llm.Provider, error)
}

// Config holds engine configuration
type Config struct {
	Profiles        []llm.AuthProfile
	Model           string
	SystemPrompt    string
	Temperature     float64
	MaxTokens       int
	MaxRetries      int
	Logger          zerolog.Logger
	ProviderFactory ProviderCreator
}

// Engine executes completions against configured providers with failover
type Engine struct {
	model           string
	systemPrompt    string
	temperature     float64
	maxTokens       int
	maxRetries      int
	logger          zerolog.Logger
	providerFactory ProviderCreator

	profiles []llm.AuthProfile
	mu       sync.RWMutex
}

// New creates a new engine. It returns ErrUnavailable when no credential
// profile is configured; callers that can serve through another path should
// treat that error as a selection signal rather than a fatal condition.
func New(cfg Config) (*Engine, error) {
	observability.EnsureRegistered()

	if len(cfg.Profiles) == 0 {
		return nil, ErrUnavailable
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("model cannot be empty")
	}
	if cfg.Temperature < 0 || cfg.Temperature > 1 {
		return nil, fmt.Errorf("temperature must be between 0 and 1")
	}

	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}

	providerFactory := cfg.ProviderFactory
	if providerFactory == nil {
		providerFactory = &llm.Factory{}
	}

	profiles := make([]llm.AuthProfile, len(cfg.Profiles))
	copy(profiles, cfg.Profiles)

	return &Engine{
		model:           cfg.Model,
		systemPrompt:    cfg.SystemPrompt,
		temperature:     cfg.Temperature,
		maxTokens:       maxTokens,
		maxRetries:      maxRetries,
		logger:          cfg.Logger,
		providerFactory: providerFactory,
		profiles:        profiles,
	}, nil
}

// Model returns the model the engine was constructed with.
func (e *Engine) Model() string {
	return e.model
}

// Run executes a single completion with credential failover
func (e *Engine) Run(ctx context.Context, req RunRequest) (*RunResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if req.Message == "" {
		return nil, fmt.Errorf("message cannot be empty")
	}
	if tracing.GetTraceID(ctx) == "" {
		ctx = tracing.NewRequestContext(ctx)
	}
	if req.SessionID != "" {
		ctx = tracing.WithSessionKey(ctx, req.SessionID)
	}
	ctx, span := tracing.StartSpan(
		ctx,
		"legate.engine",
		"engine.run",
		attribute.String("model", e.model),
		attribute.String("session_id", req.SessionID),
	)
	defer span.End()

	result, err := e.runWithFailover(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return result, nil
}

// runWithFailover tries credential profiles in priority order
func (e *Engine) runWithFailover(ctx context.Context, req RunRequest) (*RunResult, error) {
	e.mu.RLock()
	profiles := make([]llm.AuthProfile, len(e.profiles))
	copy(profiles, e.profiles)
	e.mu.RUnlock()
	logger := tracing.LoggerFromContext(ctx, e.logger)

	llm.SortProfilesByPriority(profiles)

	var lastErr error
	skipped := 0

	for _, profile := range profiles {
		profileStart := time.Now()
		// Skip profiles in cooldown
		if profile.CooldownUntil != nil && time.Now().UnixMilli() < *profile.CooldownUntil {
			observability.SetProviderCooldown(profile.Provider, true)
			skipped++
			logger.Debug().
				Str("profileId", profile.ID).
				Msg("Skipping profile in cooldown")
			continue
		}

		observability.SetProviderCooldown(profile.Provider, false)
		logger.Debug().Str("profileId", profile.ID).Msg("Trying credential profile")

		provider, err := e.providerFactory.NewProvider(profile)
		if err != nil {
			observability.RecordProviderCall(profile.Provider, time.Since(profileStart), false)
			logger.Warn().
				Str("profileId", profile.ID).
				Err(err).
				Msg("Failed to create provider")
			continue
		}

		response, err := e.callWithRetry(ctx, provider, req)
		if err == nil {
			e.updateProfileSuccess(profile.ID)
			observability.RecordProviderCall(profile.Provider, time.Since(profileStart), true)
			return &RunResult{
				Content:  response.Content,
				Provider: provider.Name(),
				Model:    e.model,
				Usage:    response.Usage,
			}, nil
		}

		lastErr = err
		observability.RecordProviderCall(profile.Provider, time.Since(profileStart), false)
		logger.Warn().
			Str("profileId", profile.ID).
			Err(err).
			Msg("Credential profile failed")

		e.updateProfileFailure(profile.ID)

		// Don't fail over on permanent errors
		if !llm.IsRetryableError(err) {
			return nil, err
		}
	}

	if lastErr == nil {
		if skipped > 0 {
			return nil, fmt.Errorf("all credential profiles are cooling down")
		}
		return nil, fmt.Errorf("no usable credential profiles")
	}
	logger.Error().Err(lastErr).Msg("All credential profiles failed")
	return nil, fmt.Errorf("all credential profiles failed: %w", lastErr)
}

// callWithRetry calls the provider with exponential backoff retry
func (e *Engine) callWithRetry(ctx context.Context, provider llm.Provider, req RunRequest) (*llm.Response, error) {
	request := llm.Request{
		Model:        e.model,
		Messages:     []llm.Message{{Role: "user", Content: req.Message}},
		Temperature:  e.temperature,
		MaxTokens:    e.maxTokens,
		SystemPrompt: e.systemPrompt,
	}

	var lastErr error

	for attempt := 0; attempt < e.maxRetries; attempt++ {
		response, err := provider.Call(ctx, request)
		if err == nil {
			return response, nil
		}

		lastErr = err

		// Don't retry on permanent errors
		if !llm.IsRetryableError(err) {
			return nil, err
		}

		// Last attempt - don't wait
		if attempt == e.maxRetries-1 {
			break
		}

		// Exponential backoff: 1s, 2s, 4s
		delayMs := 1000 * (1 << attempt)
		e.logger.Info().
			Int("attempt", attempt+1).
			Int("delayMs", delayMs).
			Msg("Retrying after error")

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Duration(delayMs) * time.Millisecond):
		}
	}

	return nil, fmt.Errorf("max retries (%d) exceeded: %w", e.maxRetries, lastErr)
}

// updateProfileSuccess resets failure count for a profile
func (e *Engine) updateProfileSuccess(profileID string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for i := range e.profiles {
		if e.profiles[i].ID == profileID {
			e.profiles[i].FailureCount = 0
			e.profiles[i].CooldownUntil = nil
			observability.SetProviderCooldown(e.profiles[i].Provider, false)
			break
		}
	}
}

// updateProfileFailure marks a profile as failed and extends its cooldown
func (e *Engine) updateProfileFailure(profileID string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for i := range e.profiles {
		if e.profiles[i].ID == profileID {
			e.profiles[i].FailureCount++
			cooldownMs := time.Now().UnixMilli() + int64(60000*e.profiles[i].FailureCount)
			e.profiles[i].CooldownUntil = &cooldownMs
			observability.SetProviderCooldown(e.profiles[i].Provider, true)
			break
		}
	}
}
