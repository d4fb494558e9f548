package llm

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/ternarybob/graben/internal/interfaces"
)

// OfflineService is the deterministic prompt oracle used when no provider is
// configured. Responses depend only on the prompt so tests are stable.
type OfflineService struct{}

// Compile-time assertion
var _ interfaces.PromptOracle = (*OfflineService)(nil)

// NewOfflineService creates the offline oracle.
func NewOfflineService() *OfflineService {
	return &OfflineService{}
}

// DefaultModel returns the offline model tag.
func (s *OfflineService) DefaultModel() string {
	return "offline"
}

// Call returns a deterministic JSON object derived from the prompt digest.
func (s *OfflineService) Call(ctx context.Context, modelID string, prompt string) (string, error) {
	sum := sha256.Sum256([]byte(prompt))
	digest := hex.EncodeToString(sum[:8])
	return fmt.Sprintf(`{"analysis": "offline", "prompt_digest": "%s", "confidence": 0.7}`, digest), nil
}
