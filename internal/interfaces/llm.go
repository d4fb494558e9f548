package interfaces

import (
	"context"
)

// PromptOracle is the opaque prompt-and-parse boundary to an AI model.
// Implementations must tolerate arbitrary response text; callers parse the
// outermost {...} JSON object and fall back to a raw-response wrapper.
type PromptOracle interface {
	// Call sends a prompt to the named model and returns the raw response text.
	Call(ctx context.Context, modelID string, prompt string) (string, error)

	// DefaultModel returns the provider's configured model identifier.
	DefaultModel() string
}
