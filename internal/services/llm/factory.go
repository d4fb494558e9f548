package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/graben/internal/common"
	"github.com/ternarybob/graben/internal/interfaces"
)

// NewPromptOracle creates the prompt-oracle implementation selected by config.
func NewPromptOracle(ctx context.Context, cfg *common.LLMConfig, logger arbor.ILogger) (interfaces.PromptOracle, error) {
	mode := strings.ToLower(cfg.Mode)
	logger.Info().Str("mode", mode).Msg("Initializing prompt oracle")

	switch mode {
	case "claude":
		return NewClaudeService(&cfg.Claude, logger)
	case "gemini":
		return NewGeminiService(ctx, &cfg.Gemini, logger)
	case "offline", "":
		return NewOfflineService(), nil
	}
	return nil, fmt.Errorf("invalid llm mode '%s': must be 'offline', 'claude' or 'gemini'", cfg.Mode)
}
