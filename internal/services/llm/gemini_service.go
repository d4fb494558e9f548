package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"google.golang.org/genai"

	"github.com/ternarybob/graben/internal/common"
	"github.com/ternarybob/graben/internal/interfaces"
)

// GeminiService implements the PromptOracle interface using the Gemini API.
type GeminiService struct {
	config  *common.GeminiConfig
	client  *genai.Client
	timeout time.Duration
	logger  arbor.ILogger
}

// Compile-time assertion
var _ interfaces.PromptOracle = (*GeminiService)(nil)

// NewGeminiService creates a Gemini prompt oracle.
func NewGeminiService(ctx context.Context, config *common.GeminiConfig, logger arbor.ILogger) (*GeminiService, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  config.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}

	timeout := 60 * time.Second
	if config.TimeoutMS > 0 {
		timeout = time.Duration(config.TimeoutMS) * time.Millisecond
	}

	return &GeminiService{
		config:  config,
		client:  client,
		timeout: timeout,
		logger:  logger,
	}, nil
}

// DefaultModel returns the configured model identifier.
func (s *GeminiService) DefaultModel() string {
	return s.config.Model
}

// Call sends a single-turn prompt and returns the raw response text.
func (s *GeminiService) Call(ctx context.Context, modelID string, prompt string) (string, error) {
	if modelID == "" {
		modelID = s.config.Model
	}

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	result, err := s.client.Models.GenerateContent(callCtx, modelID, genai.Text(prompt), nil)
	if err != nil {
		return "", fmt.Errorf("gemini call failed: %w", err)
	}

	text := result.Text()

	s.logger.Debug().
		Str("model", modelID).
		Int("prompt_len", len(prompt)).
		Int("response_len", len(text)).
		Dur("duration", time.Since(start)).
		Msg("Gemini call completed")

	return text, nil
}
