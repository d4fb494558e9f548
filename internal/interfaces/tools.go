package interfaces

import (
	"context"

	"github.com/ternarybob/graben/internal/models"
)

// OCREngine is the opaque OCR collaborator used for image extraction.
type OCREngine interface {
	OCR(ctx context.Context, image []byte) (models.OCRResult, error)
}

// SpreadsheetParser is the opaque spreadsheet collaborator used for Excel
// extraction. Parse reads the file at path and returns a sheet-keyed tree.
type SpreadsheetParser interface {
	Parse(path string) (map[string]interface{}, error)
}

// PDFConverter renders PDF pages to images for OCR fallback.
// Failure is reported as a recovery ToolError.
type PDFConverter interface {
	Convert(pdfPath string, firstPage, lastPage int) (string, error)
}

// PDFAnalyzer turns a PDF on disk into confidence-scored structured data.
type PDFAnalyzer interface {
	Analyze(ctx context.Context, pdfPath string) (models.PDFAnalysis, error)
}
