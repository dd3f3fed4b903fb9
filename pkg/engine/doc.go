// Package engine runs single-shot LLM completions with credential failover.
//
// Invariants:
// - Construction fails with ErrUnavailable when no credential profile exists.
// - Profiles are tried in priority order; profiles in cooldown are skipped.
// - Retryable errors back off exponentially; permanent errors fail fast.
// - A successful call resets the profile's failure bookkeeping.
//
// Usage:
//
//	eng, err := engine.New(engine.Config{
//		Profiles:     profiles,
//		Model:        "claude-sonnet-4-20250514",
//		SystemPrompt: "You are a helpful assistant.",
//	})
//	if err != nil {
//		// errors.Is(err, engine.ErrUnavailable) when no profile is usable
//	}
//	result, _ := eng.Run(ctx, engine.RunRequest{Message: "hello"})
//	_ = result
package engine
