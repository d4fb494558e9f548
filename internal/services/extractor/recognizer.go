package extractor

import (
	"bytes"
	"net/url"
	"path"
	"strings"

	"github.com/ternarybob/graben/internal/interfaces"
	"github.com/ternarybob/graben/internal/models"
)

// Recognizer classifies fetched resources.
// Order of evidence: URL extension, Content-Type header, content sniffing.
// A URL ending in .pdf is always Pdf regardless of headers or content.
type Recognizer struct{}

// Compile-time assertion
var _ interfaces.ContentRecognizer = (*Recognizer)(nil)

// NewRecognizer creates a content recognizer.
func NewRecognizer() *Recognizer {
	return &Recognizer{}
}

// Recognize returns the content type for a fetched resource.
func (r *Recognizer) Recognize(rawURL string, content []byte, headers map[string]string) models.ContentType {
	if ct := byExtension(rawURL); ct != models.ContentTypeUnknown {
		return ct
	}
	if ct := byHeader(headers); ct != models.ContentTypeUnknown {
		return ct
	}
	return bySniffing(content)
}

func byExtension(rawURL string) models.ContentType {
	u, err := url.Parse(rawURL)
	p := rawURL
	if err == nil {
		p = u.Path
	}
	switch strings.ToLower(path.Ext(p)) {
	case ".pdf":
		return models.ContentTypePDF
	case ".json":
		return models.ContentTypeJSON
	case ".xml":
		return models.ContentTypeXML
	case ".csv":
		return models.ContentTypeCSV
	case ".xlsx", ".xls":
		return models.ContentTypeExcel
	case ".png", ".jpg", ".jpeg", ".gif", ".tif", ".tiff":
		return models.ContentTypeImage
	case ".html", ".htm":
		return models.ContentTypeHTMLTable
	}
	return models.ContentTypeUnknown
}

func byHeader(headers map[string]string) models.ContentType {
	var contentType string
	for k, v := range headers {
		if strings.EqualFold(k, "Content-Type") {
			contentType = strings.ToLower(v)
			break
		}
	}
	switch {
	case contentType == "":
		return models.ContentTypeUnknown
	case strings.Contains(contentType, "application/pdf"):
		return models.ContentTypePDF
	case strings.Contains(contentType, "application/json"):
		return models.ContentTypeJSON
	case strings.Contains(contentType, "xml"):
		return models.ContentTypeXML
	case strings.Contains(contentType, "text/csv"):
		return models.ContentTypeCSV
	case strings.Contains(contentType, "spreadsheet"), strings.Contains(contentType, "ms-excel"):
		return models.ContentTypeExcel
	case strings.HasPrefix(contentType, "image/"):
		return models.ContentTypeImage
	case strings.Contains(contentType, "text/html"):
		return models.ContentTypeHTMLTable
	}
	return models.ContentTypeUnknown
}

func bySniffing(content []byte) models.ContentType {
	if len(content) == 0 {
		return models.ContentTypeUnknown
	}
	trimmed := bytes.TrimLeft(content, " \t\r\n")
	switch {
	case bytes.HasPrefix(content, []byte("%PDF")):
		return models.ContentTypePDF
	case bytes.HasPrefix(content, []byte{0x50, 0x4B, 0x03, 0x04}): // zip container: xlsx
		return models.ContentTypeExcel
	case bytes.HasPrefix(content, []byte{0x89, 'P', 'N', 'G'}),
		bytes.HasPrefix(content, []byte{0xFF, 0xD8, 0xFF}):
		return models.ContentTypeImage
	case len(trimmed) > 0 && (trimmed[0] == '{' || trimmed[0] == '['):
		return models.ContentTypeJSON
	case bytes.HasPrefix(trimmed, []byte("<?xml")):
		return models.ContentTypeXML
	case bytes.HasPrefix(trimmed, []byte("<!DOCTYPE")), bytes.HasPrefix(trimmed, []byte("<html")):
		return models.ContentTypeHTMLTable
	}
	return models.ContentTypeUnknown
}
