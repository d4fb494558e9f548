package pdf

import (
	"context"
	"fmt"
	"os"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/graben/internal/interfaces"
	"github.com/ternarybob/graben/internal/models"
	"github.com/ternarybob/graben/internal/services/llm"
)

const analysisPromptTemplate = `You are extracting German distribution-network tariff data.
The document has %d pages. Analyze the following PDF content and return a single
JSON object with keys "netzentgelte" (voltage level -> {leistung, arbeit}),
"hlzf" (season -> periods), "year" and "confidence" (0..1).
Content excerpt:
%s`

const maxExcerptBytes = 16000

// Analyzer turns a PDF on disk into confidence-scored structured data.
// pdfcpu validates the document and reports pages; the prompt oracle does the
// semantic reading through an opaque prompt-and-parse boundary. When the
// oracle's output is unparseable and a converter plus OCR engine are wired,
// the first page is rasterized and OCR text is attached as a fallback.
type Analyzer struct {
	oracle    interfaces.PromptOracle
	converter interfaces.PDFConverter
	ocr       interfaces.OCREngine
	logger    arbor.ILogger
}

// Compile-time assertion
var _ interfaces.PDFAnalyzer = (*Analyzer)(nil)

// NewAnalyzer creates a PDF analyzer backed by a prompt oracle.
func NewAnalyzer(oracle interfaces.PromptOracle, logger arbor.ILogger) *Analyzer {
	return &Analyzer{
		oracle: oracle,
		logger: logger,
	}
}

// WithOCRFallback wires the page converter and OCR engine for the
// unparseable-response fallback path.
func (a *Analyzer) WithOCRFallback(converter interfaces.PDFConverter, ocr interfaces.OCREngine) *Analyzer {
	a.converter = converter
	a.ocr = ocr
	return a
}

// Analyze validates the PDF and asks the oracle for structured data.
// Unparseable oracle output degrades to a raw-response wrapper with the
// default PDF confidence.
func (a *Analyzer) Analyze(ctx context.Context, pdfPath string) (models.PDFAnalysis, error) {
	if err := api.ValidateFile(pdfPath, nil); err != nil {
		return models.PDFAnalysis{}, fmt.Errorf("invalid pdf %s: %w", pdfPath, err)
	}

	pageCount, err := api.PageCountFile(pdfPath)
	if err != nil {
		return models.PDFAnalysis{}, fmt.Errorf("failed to count pages of %s: %w", pdfPath, err)
	}

	excerpt, err := readExcerpt(pdfPath)
	if err != nil {
		return models.PDFAnalysis{}, fmt.Errorf("failed to read %s: %w", pdfPath, err)
	}

	prompt := fmt.Sprintf(analysisPromptTemplate, pageCount, excerpt)
	response, err := a.oracle.Call(ctx, a.oracle.DefaultModel(), prompt)
	if err != nil {
		return models.PDFAnalysis{}, fmt.Errorf("oracle call failed: %w", err)
	}

	parsed := llm.ParseOracleResponse(response)

	analysis := models.PDFAnalysis{
		StructuredData: parsed,
		Confidence:     models.ContentTypePDF.BaselineConfidence(),
		Model:          a.oracle.DefaultModel(),
		PageCount:      pageCount,
		Parsed:         true,
	}

	if wasParsed, ok := parsed["parsed"].(bool); ok && !wasParsed {
		analysis.Parsed = false
		analysis.RawResponse = response
		a.attachOCRFallback(ctx, pdfPath, &analysis)
	} else if c, ok := parsed["confidence"].(float64); ok && c > 0 && c <= 1 {
		analysis.Confidence = c
	}

	a.logger.Debug().
		Str("path", pdfPath).
		Int("pages", pageCount).
		Float64("confidence", analysis.Confidence).
		Msg("PDF analysis completed")

	return analysis, nil
}

// attachOCRFallback rasterizes the first page and OCRs it when the oracle
// produced no parseable object. Converter failures only log; the raw
// response wrapper stands either way.
func (a *Analyzer) attachOCRFallback(ctx context.Context, pdfPath string, analysis *models.PDFAnalysis) {
	if a.converter == nil || a.ocr == nil {
		return
	}

	imagePath, err := a.converter.Convert(pdfPath, 1, 1)
	if err != nil {
		a.logger.Debug().Err(err).Str("path", pdfPath).Msg("OCR fallback skipped: conversion failed")
		return
	}
	defer os.Remove(imagePath)

	image, err := os.ReadFile(imagePath)
	if err != nil {
		return
	}
	result, err := a.ocr.OCR(ctx, image)
	if err != nil {
		a.logger.Debug().Err(err).Msg("OCR fallback failed")
		return
	}

	analysis.StructuredData["ocr_text"] = result.Text
	if result.Confidence > 0 && result.Confidence < analysis.Confidence {
		analysis.Confidence = result.Confidence
	}
}

// readExcerpt reads the head of the file for prompting. PDF text extraction
// proper is the oracle's job; the excerpt carries the raw stream.
func readExcerpt(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	buf := make([]byte, maxExcerptBytes)
	n, err := f.Read(buf)
	if err != nil && n == 0 {
		return "", err
	}
	return string(buf[:n]), nil
}
