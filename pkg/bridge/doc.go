// Package bridge exposes a conversational backend behind a uniform
// invoke/stream contract with fail-open construction.
//
// Invariants:
// - New never fails; when the rich backend cannot initialize the bridge
//   selects the fallback backend and keeps serving.
// - The backend selection is made once at construction and never changes.
// - Rich backend call failures return as readable text with a nil error;
//   the bridge never switches to the fallback mid-call.
// - Fallback backend call failures propagate as errors.
// - The fallback backend receives exactly two messages per call: the
//   system prompt and the user message, in that order.
// - Stream yields the whole response as one chunk.
//
// Usage:
//
//	b := bridge.New(bridge.Config{
//		Prompts:  store,
//		EnvModel: os.Getenv("LEGATE_MODEL"),
//		Rich:     richBuilder,
//		Fallback: fallbackBuilder,
//		Logger:   logger,
//	})
//	text, err := b.Invoke(ctx, bridge.Request{Message: "hello"})
//	_ = text
//	_ = err
package bridge
