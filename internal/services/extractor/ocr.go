package extractor

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/ternarybob/graben/internal/interfaces"
	"github.com/ternarybob/graben/internal/models"
)

// OfflineOCR is the deterministic OCR collaborator used when no external
// engine is configured. It never recognizes text; it reports the image
// digest so tests get stable output.
type OfflineOCR struct{}

// Compile-time assertion
var _ interfaces.OCREngine = (*OfflineOCR)(nil)

// NewOfflineOCR creates the offline OCR engine.
func NewOfflineOCR() *OfflineOCR {
	return &OfflineOCR{}
}

// OCR returns a deterministic low-confidence result for the image bytes.
func (o *OfflineOCR) OCR(ctx context.Context, image []byte) (models.OCRResult, error) {
	if len(image) == 0 {
		return models.OCRResult{}, fmt.Errorf("empty image")
	}
	sum := sha256.Sum256(image)
	return models.OCRResult{
		Text:       fmt.Sprintf("[unrecognized image %s]", hex.EncodeToString(sum[:6])),
		Confidence: 0.3,
	}, nil
}
