package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/graben/internal/common"
	"github.com/ternarybob/graben/internal/interfaces"
)

// ClaudeService implements the PromptOracle interface using the Anthropic API.
type ClaudeService struct {
	config  *common.ClaudeConfig
	client  *anthropic.Client
	timeout time.Duration
	logger  arbor.ILogger
}

// Compile-time assertion
var _ interfaces.PromptOracle = (*ClaudeService)(nil)

// NewClaudeService creates a Claude prompt oracle.
func NewClaudeService(config *common.ClaudeConfig, logger arbor.ILogger) (*ClaudeService, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("claude api key is required")
	}

	client := anthropic.NewClient(option.WithAPIKey(config.APIKey))

	timeout := 60 * time.Second
	if config.TimeoutMS > 0 {
		timeout = time.Duration(config.TimeoutMS) * time.Millisecond
	}

	return &ClaudeService{
		config:  config,
		client:  &client,
		timeout: timeout,
		logger:  logger,
	}, nil
}

// DefaultModel returns the configured model identifier.
func (s *ClaudeService) DefaultModel() string {
	return s.config.Model
}

// Call sends a single-turn prompt and returns the raw response text.
func (s *ClaudeService) Call(ctx context.Context, modelID string, prompt string) (string, error) {
	if modelID == "" {
		modelID = s.config.Model
	}
	maxTokens := int64(s.config.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	message, err := s.client.Messages.New(callCtx, anthropic.MessageNewParams{
		Model:     anthropic.Model(modelID),
		MaxTokens: maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("claude call failed: %w", err)
	}

	var text string
	for _, block := range message.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}

	s.logger.Debug().
		Str("model", modelID).
		Int("prompt_len", len(prompt)).
		Int("response_len", len(text)).
		Dur("duration", time.Since(start)).
		Msg("Claude call completed")

	return text, nil
}
