package bridge

import (
	"context"
	"errors"
	"time"

	"github.com/legatehq/legate/internal/observability"
	"github.com/legatehq/legate/internal/tracing"
	"github.com/legatehq/legate/pkg/engine"
	"github.com/legatehq/legate/pkg/llm"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
)

const (
	// DefaultModel is used when neither configuration nor environment
	// names a model.
	DefaultModel = "claude-sonnet-4-20250514"

	// DefaultSystemPrompt is used when no prompt source provides a
	// "system" entry.
	DefaultSystemPrompt = "You are a helpful assistant."
)

var (
	// ErrEmptyMessage rejects invocations with no message text.
	ErrEmptyMessage = errors.New("message cannot be empty")

	// ErrFallbackUnavailable indicates the fallback backend failed to
	// initialize, leaving the bridge with nothing to serve from.
	ErrFallbackUnavailable = errors.New("fallback backend unavailable")
)

// Selection identifies which backend serves invocations. It is fixed at
// construction and never changes afterwards.
type Selection int

const (
	SelectionRich Selection = iota
	SelectionFallback
)

func (s Selection) String() string {
	switch s {
	case SelectionRich:
		return "rich"
	case SelectionFallback:
		return "fallback"
	default:
		return "unknown"
	}
}

// Request carries the inputs of one invocation. SessionID and Handoff are
// accepted for interface compatibility and passed through to the rich
// backend; neither influences routing.
type Request struct {
	Message   string      `json:"message"`
	SessionID string      `json:"session_id,omitempty"`
	Handoff   interface{} `json:"handoff,omitempty"`
}

// RichClient is the full-featured conversational backend.
type RichClient interface {
	Run(ctx context.Context, req Request) (Reply, error)
}

// FallbackClient is the minimal completion backend.
type FallbackClient interface {
	Generate(ctx context.Context, messages []llm.Message) (Reply, error)
}

// RichBuilder constructs the rich backend bound to a model and system
// prompt. A nil builder means the rich backend is not available at all.
type RichBuilder func(model, systemPrompt string) (RichClient, error)

// FallbackBuilder constructs the fallback backend at the high-reasoning
// tier.
type FallbackBuilder func() (FallbackClient, error)

// PromptSource resolves named system prompts.
type PromptSource interface {
	Get(key string) (string, bool)
}

// Config holds bridge construction inputs. EnvModel is the model override
// read from the environment at the process boundary; the bridge itself
// never reads environment variables.
type Config struct {
	Prompts  PromptSource
	Model    string
	EnvModel string
	Rich     RichBuilder
	Fallback FallbackBuilder
	Logger   zerolog.Logger
}

// Bridge adapts a conversational backend behind a uniform invoke contract.
//
// Construction never fails: when the rich backend cannot be built the
// bridge selects the fallback backend and keeps serving. The selection is
// made once; a bridge never switches backends between calls.
type Bridge struct {
	selection    Selection
	model        string
	systemPrompt string
	rich         RichClient
	fallback     FallbackClient
	logger       zerolog.Logger
}

// New constructs a bridge. The rich backend is attempted first; any
// initialization failure demotes the bridge to the fallback backend with a
// warning carrying the failure detail.
func New(cfg Config) *Bridge {
	observability.EnsureRegistered()

	b := &Bridge{
		selection:    SelectionFallback,
		model:        resolveModel(cfg.Model, cfg.EnvModel),
		systemPrompt: resolveSystemPrompt(cfg.Prompts),
		logger:       cfg.Logger,
	}

	if cfg.Rich != nil {
		rich, err := cfg.Rich(b.model, b.systemPrompt)
		if err == nil {
			b.selection = SelectionRich
			b.rich = rich
			b.logger.Info().
				Str("backend", b.selection.String()).
				Str("model", b.model).
				Msg("Bridge constructed")
			observability.RecordBackendSelection(b.selection.String())
			return b
		}

		if errors.Is(err, engine.ErrUnavailable) {
			b.logger.Warn().
				Err(err).
				Msg("Rich backend unavailable; using fallback backend")
		} else {
			b.logger.Warn().
				Err(err).
				Msg("Rich backend initialization failed; using fallback backend")
		}
	} else {
		b.logger.Warn().Msg("No rich backend configured; using fallback backend")
	}

	if cfg.Fallback != nil {
		fallback, err := cfg.Fallback()
		if err != nil {
			b.logger.Error().
				Err(err).
				Msg("Fallback backend initialization failed")
		} else {
			b.fallback = fallback
		}
	}

	b.logger.Info().
		Str("backend", b.selection.String()).
		Str("model", b.model).
		Msg("Bridge constructed")
	observability.RecordBackendSelection(b.selection.String())
	return b
}

// Selection returns the backend chosen at construction.
func (b *Bridge) Selection() Selection {
	return b.selection
}

// Model returns the resolved model identifier.
func (b *Bridge) Model() string {
	return b.model
}

// SystemPrompt returns the resolved system prompt.
func (b *Bridge) SystemPrompt() string {
	return b.systemPrompt
}

// Invoke runs one message through the selected backend and returns the
// response text.
//
// The two backends fail differently on purpose. Rich backend call failures
// are returned as readable text with a nil error, so callers that relay
// results verbatim keep working through an outage. Fallback failures
// propagate as errors.
func (b *Bridge) Invoke(ctx context.Context, req Request) (string, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if req.Message == "" {
		return "", ErrEmptyMessage
	}
	if req.SessionID != "" {
		ctx = tracing.WithSessionKey(ctx, req.SessionID)
	}
	ctx, span := tracing.StartSpan(
		ctx,
		"legate.bridge",
		"bridge.invoke",
		attribute.String("backend", b.selection.String()),
		attribute.String("model", b.model),
	)
	defer span.End()

	start := time.Now()
	if b.selection == SelectionRich {
		return b.invokeRich(ctx, req, start)
	}
	return b.invokeFallback(ctx, req, start)
}

func (b *Bridge) invokeRich(ctx context.Context, req Request, start time.Time) (string, error) {
	logger := tracing.LoggerFromContext(ctx, b.logger)

	reply, err := b.rich.Run(ctx, req)
	if err != nil {
		logger.Error().Err(err).Msg("Rich backend call failed")
		observability.RecordInvocation(b.selection.String(), time.Since(start), false)
		return "Error running agent: " + err.Error(), nil
	}

	observability.RecordInvocation(b.selection.String(), time.Since(start), true)
	return ExtractText(reply), nil
}

func (b *Bridge) invokeFallback(ctx context.Context, req Request, start time.Time) (string, error) {
	logger := tracing.LoggerFromContext(ctx, b.logger)

	if b.fallback == nil {
		observability.RecordInvocation(b.selection.String(), time.Since(start), false)
		return "", ErrFallbackUnavailable
	}

	messages := []llm.Message{
		{Role: "system", Content: b.systemPrompt},
		{Role: "user", Content: req.Message},
	}

	reply, err := b.fallback.Generate(ctx, messages)
	if err != nil {
		logger.Error().Err(err).Msg("Fallback backend call failed")
		observability.RecordInvocation(b.selection.String(), time.Since(start), false)
		return "", err
	}

	observability.RecordInvocation(b.selection.String(), time.Since(start), true)
	return ExtractText(reply), nil
}

// Stream invokes the backend once and yields the entire response as a
// single chunk. The returned channel is already closed; ranging over it
// produces exactly one element.
func (b *Bridge) Stream(ctx context.Context, req Request) (<-chan string, error) {
	result, err := b.Invoke(ctx, req)
	if err != nil {
		return nil, err
	}

	out := make(chan string, 1)
	out <- result
	close(out)
	return out, nil
}

// resolveModel applies model precedence: explicit configuration beats the
// environment override beats the built-in default.
func resolveModel(explicit, env string) string {
	if explicit != "" {
		return explicit
	}
	if env != "" {
		return env
	}
	return DefaultModel
}

// resolveSystemPrompt looks up the "system" prompt, falling back to the
// built-in default when the source has no usable entry.
func resolveSystemPrompt(prompts PromptSource) string {
	if prompts != nil {
		if prompt, ok := prompts.Get("system"); ok && prompt != "" {
			return prompt
		}
	}
	return DefaultSystemPrompt
}
