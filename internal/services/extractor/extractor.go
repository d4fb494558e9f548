// -----------------------------------------------------------------------
// Last Modified: Friday, 31st July 2026 3:28:50 pm
// Modified By: Bob McAllan
// -----------------------------------------------------------------------

package extractor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/graben/internal/interfaces"
	"github.com/ternarybob/graben/internal/models"
)

// Sentinel errors matching the extractor failure contract.
var (
	ErrHTTP  = fmt.Errorf("http error")
	ErrParse = fmt.Errorf("parse error")
	ErrTool  = fmt.Errorf("tool error")
	ErrIO    = fmt.Errorf("io error")
)

// Service is the multi-modal extractor: it turns a URL plus content-type tag
// into an ExtractedContent with a confidence score.
type Service struct {
	fetcher     interfaces.Fetcher
	recognizer  interfaces.ContentRecognizer
	pdfAnalyzer interfaces.PDFAnalyzer
	ocr         interfaces.OCREngine
	spreadsheet interfaces.SpreadsheetParser
	converter   *md.Converter
	logger      arbor.ILogger
}

// Compile-time assertion
var _ interfaces.ExtractorService = (*Service)(nil)

// NewService creates a multi-modal extractor.
func NewService(
	fetcher interfaces.Fetcher,
	recognizer interfaces.ContentRecognizer,
	pdfAnalyzer interfaces.PDFAnalyzer,
	ocr interfaces.OCREngine,
	spreadsheet interfaces.SpreadsheetParser,
	logger arbor.ILogger,
) *Service {
	return &Service{
		fetcher:     fetcher,
		recognizer:  recognizer,
		pdfAnalyzer: pdfAnalyzer,
		ocr:         ocr,
		spreadsheet: spreadsheet,
		converter:   md.NewConverter("", true, nil),
		logger:      logger,
	}
}

// Extract fetches the URL and extracts according to the content type.
func (s *Service) Extract(ctx context.Context, rawURL string, contentType models.ContentType) (*models.ExtractedContent, error) {
	result, err := s.fetcher.Get(ctx, rawURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrHTTP, err)
	}
	if result.StatusCode < 200 || result.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: status %d for %s", ErrHTTP, result.StatusCode, rawURL)
	}
	return s.ExtractFromBytes(ctx, rawURL, contentType, result.Body)
}

// ExtractFromBytes extracts from an already-fetched body.
func (s *Service) ExtractFromBytes(ctx context.Context, rawURL string, contentType models.ContentType, body []byte) (*models.ExtractedContent, error) {
	switch contentType {
	case models.ContentTypeHTMLTable:
		return s.extractHTMLTables(rawURL, body)
	case models.ContentTypePDF:
		return s.extractPDF(ctx, rawURL, body)
	case models.ContentTypeImage:
		return s.extractImage(ctx, rawURL, body)
	case models.ContentTypeJSON:
		return s.extractJSON(rawURL, body)
	case models.ContentTypeXML:
		return s.extractXML(rawURL, body)
	case models.ContentTypeCSV:
		return s.extractCSV(rawURL, body)
	case models.ContentTypeExcel:
		return s.extractExcel(ctx, rawURL, body)
	case models.ContentTypeUnknown:
		// Re-dispatch after recognition by suffix and content
		detected := s.recognizer.Recognize(rawURL, body, nil)
		if detected == models.ContentTypeUnknown {
			return &models.ExtractedContent{
				URL:            rawURL,
				ContentType:    models.ContentTypeUnknown,
				RawData:        body,
				StructuredData: map[string]interface{}{},
				Confidence:     0,
				Method:         "none",
			}, nil
		}
		return s.ExtractFromBytes(ctx, rawURL, detected, body)
	}
	return nil, fmt.Errorf("%w: unsupported content type %s", ErrParse, contentType)
}

// extractHTMLTables parses the document and emits each <table> as a
// list-of-lists of trimmed cell text. Page text is also converted to
// markdown for downstream consumers.
func (s *Service) extractHTMLTables(rawURL string, body []byte) (*models.ExtractedContent, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: html parse for %s: %v", ErrParse, rawURL, err)
	}

	var tables []interface{}
	doc.Find("table").Each(func(_ int, table *goquery.Selection) {
		var rows []interface{}
		table.Find("tr").Each(func(_ int, tr *goquery.Selection) {
			var cells []interface{}
			tr.Find("th, td").Each(func(_ int, cell *goquery.Selection) {
				cells = append(cells, strings.TrimSpace(cell.Text()))
			})
			if len(cells) > 0 {
				rows = append(rows, cells)
			}
		})
		if len(rows) > 0 {
			tables = append(tables, rows)
		}
	})

	metadata := map[string]string{}
	if markdown, err := s.converter.ConvertString(string(body)); err == nil {
		const maxMarkdown = 20000
		if len(markdown) > maxMarkdown {
			markdown = markdown[:maxMarkdown]
		}
		metadata["markdown"] = markdown
	}
	if title := strings.TrimSpace(doc.Find("title").First().Text()); title != "" {
		metadata["title"] = title
	}

	return &models.ExtractedContent{
		URL:         rawURL,
		ContentType: models.ContentTypeHTMLTable,
		RawData:     body,
		StructuredData: map[string]interface{}{
			"tables": tables,
		},
		Confidence: models.ContentTypeHTMLTable.BaselineConfidence(),
		Method:     "table_extraction",
		Metadata:   metadata,
	}, nil
}

// extractPDF writes the bytes to a scratch file and delegates to the
// analyzer. The scratch file is removed on every exit path.
func (s *Service) extractPDF(ctx context.Context, rawURL string, body []byte) (*models.ExtractedContent, error) {
	scratch, err := os.CreateTemp("", "graben-pdf-*.pdf")
	if err != nil {
		return nil, fmt.Errorf("%w: create scratch file: %v", ErrIO, err)
	}
	scratchPath := scratch.Name()
	defer os.Remove(scratchPath)

	if _, err := scratch.Write(body); err != nil {
		scratch.Close()
		return nil, fmt.Errorf("%w: write scratch file: %v", ErrIO, err)
	}
	if err := scratch.Close(); err != nil {
		return nil, fmt.Errorf("%w: close scratch file: %v", ErrIO, err)
	}

	analysis, err := s.pdfAnalyzer.Analyze(ctx, scratchPath)
	if err != nil {
		return nil, fmt.Errorf("%w: pdf analysis for %s: %v", ErrTool, rawURL, err)
	}

	confidence := analysis.Confidence
	if confidence <= 0 {
		confidence = models.ContentTypePDF.BaselineConfidence()
	}

	return &models.ExtractedContent{
		URL:            rawURL,
		ContentType:    models.ContentTypePDF,
		RawData:        body,
		StructuredData: analysis.StructuredData,
		Confidence:     confidence,
		Method:         "pdf_analysis",
		Metadata: map[string]string{
			"model":      analysis.Model,
			"page_count": fmt.Sprintf("%d", analysis.PageCount),
		},
	}, nil
}

// extractImage delegates to the OCR engine.
func (s *Service) extractImage(ctx context.Context, rawURL string, body []byte) (*models.ExtractedContent, error) {
	result, err := s.ocr.OCR(ctx, body)
	if err != nil {
		return nil, fmt.Errorf("%w: ocr for %s: %v", ErrTool, rawURL, err)
	}

	confidence := result.Confidence
	if confidence <= 0 {
		confidence = models.ContentTypeImage.BaselineConfidence()
	}

	return &models.ExtractedContent{
		URL:         rawURL,
		ContentType: models.ContentTypeImage,
		RawData:     body,
		StructuredData: map[string]interface{}{
			"text":       result.Text,
			"confidence": result.Confidence,
		},
		Confidence: confidence,
		Method:     "ocr",
	}, nil
}

func (s *Service) extractJSON(rawURL string, body []byte) (*models.ExtractedContent, error) {
	var parsed interface{}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("%w: invalid json at %s: %v", ErrParse, rawURL, err)
	}

	structured, ok := parsed.(map[string]interface{})
	if !ok {
		structured = map[string]interface{}{"data": parsed}
	}

	return &models.ExtractedContent{
		URL:            rawURL,
		ContentType:    models.ContentTypeJSON,
		RawData:        body,
		StructuredData: structured,
		Confidence:     models.ContentTypeJSON.BaselineConfidence(),
		Method:         "json_parse",
	}, nil
}

// extractXML wraps the raw document. Stronger XML-to-tree conversion is
// permitted but the minimal treatment matches what downstream consumers use.
func (s *Service) extractXML(rawURL string, body []byte) (*models.ExtractedContent, error) {
	return &models.ExtractedContent{
		URL:         rawURL,
		ContentType: models.ContentTypeXML,
		RawData:     body,
		StructuredData: map[string]interface{}{
			"xml": string(body),
		},
		Confidence: models.ContentTypeXML.BaselineConfidence(),
		Method:     "xml_wrap",
	}, nil
}

// extractCSV splits lines; the first line is the header, subsequent lines
// become maps keyed by header.
func (s *Service) extractCSV(rawURL string, body []byte) (*models.ExtractedContent, error) {
	lines := splitCSVLines(string(body))
	if len(lines) == 0 {
		return nil, fmt.Errorf("%w: empty csv at %s", ErrParse, rawURL)
	}

	// The header line decides the separator for every row: German publishers
	// commonly use semicolons with decimal commas inside the values.
	sep := ","
	if strings.Count(lines[0], ";") > strings.Count(lines[0], ",") {
		sep = ";"
	}
	header := splitCSVFields(lines[0], sep)
	var records []interface{}
	for _, line := range lines[1:] {
		fields := splitCSVFields(line, sep)
		record := make(map[string]interface{}, len(header))
		for i, name := range header {
			if i < len(fields) {
				record[name] = fields[i]
			} else {
				record[name] = ""
			}
		}
		records = append(records, record)
	}

	return &models.ExtractedContent{
		URL:         rawURL,
		ContentType: models.ContentTypeCSV,
		RawData:     body,
		StructuredData: map[string]interface{}{
			"header":  header,
			"records": records,
		},
		Confidence: models.ContentTypeCSV.BaselineConfidence(),
		Method:     "csv_parse",
	}, nil
}

// extractExcel writes bytes to a scratch file and delegates to the
// spreadsheet parser. The scratch file is removed on every exit path.
func (s *Service) extractExcel(ctx context.Context, rawURL string, body []byte) (*models.ExtractedContent, error) {
	scratch, err := os.CreateTemp("", "graben-xlsx-*.xlsx")
	if err != nil {
		return nil, fmt.Errorf("%w: create scratch file: %v", ErrIO, err)
	}
	scratchPath := scratch.Name()
	defer os.Remove(scratchPath)

	if _, err := scratch.Write(body); err != nil {
		scratch.Close()
		return nil, fmt.Errorf("%w: write scratch file: %v", ErrIO, err)
	}
	if err := scratch.Close(); err != nil {
		return nil, fmt.Errorf("%w: close scratch file: %v", ErrIO, err)
	}

	structured, err := s.spreadsheet.Parse(scratchPath)
	if err != nil {
		return nil, fmt.Errorf("%w: spreadsheet parse for %s: %v", ErrTool, rawURL, err)
	}

	return &models.ExtractedContent{
		URL:            rawURL,
		ContentType:    models.ContentTypeExcel,
		RawData:        body,
		StructuredData: structured,
		Confidence:     models.ContentTypeExcel.BaselineConfidence(),
		Method:         "spreadsheet_parse",
	}, nil
}

func splitCSVLines(content string) []string {
	var lines []string
	for _, line := range strings.Split(strings.ReplaceAll(content, "\r\n", "\n"), "\n") {
		if strings.TrimSpace(line) != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

func splitCSVFields(line, sep string) []string {
	fields := strings.Split(line, sep)
	for i := range fields {
		fields[i] = strings.Trim(strings.TrimSpace(fields[i]), `"`)
	}
	return fields
}
