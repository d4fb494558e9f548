package report

import (
	"bytes"
	"fmt"

	"github.com/go-pdf/fpdf"
	"github.com/ternarybob/arbor"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	extast "github.com/yuin/goldmark/extension/ast"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/text"
)

// ConvertMarkdownToPDF converts markdown content to a PDF byte slice
func ConvertMarkdownToPDF(markdown, title string, logger arbor.ILogger) ([]byte, error) {
	logger.Debug().
		Int("markdown_len", len(markdown)).
		Str("title", title).
		Msg("Converting markdown to PDF")

	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(10, 10, 10)
	pdf.SetAutoPageBreak(true, 10)
	pdf.SetTitle(title, false)
	pdf.AddPage()
	pdf.SetFont("Arial", "", 9)

	md := goldmark.New(
		goldmark.WithExtensions(extension.Table, extension.Strikethrough),
		goldmark.WithParserOptions(parser.WithAutoHeadingID()),
	)

	source := []byte(markdown)
	doc := md.Parser().Parse(text.NewReader(source))

	renderer := &pdfRenderer{
		pdf:    pdf,
		source: source,
		font:   "Arial",
		size:   9,
	}

	if err := ast.Walk(doc, renderer.walk); err != nil {
		logger.Error().Err(err).Msg("Failed to generate PDF")
		return nil, fmt.Errorf("failed to generate PDF: %w", err)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		logger.Error().Err(err).Msg("Failed to generate PDF output")
		return nil, fmt.Errorf("failed to generate PDF output: %w", err)
	}

	logger.Debug().Int("pdf_size", buf.Len()).Msg("PDF generated successfully")
	return buf.Bytes(), nil
}

type pdfRenderer struct {
	pdf    *fpdf.Fpdf
	source []byte
	font   string
	size   float64
	bold   bool
	inList bool
}

func (r *pdfRenderer) updateFont() {
	style := ""
	if r.bold {
		style = "B"
	}
	r.pdf.SetFont(r.font, style, r.size)
}

func (r *pdfRenderer) walk(n ast.Node, entering bool) (ast.WalkStatus, error) {
	switch node := n.(type) {
	case *ast.Heading:
		if entering {
			r.pdf.Ln(3)
			r.bold = true
			r.size = 16 - float64(node.Level)*1.5
			if r.size < 9 {
				r.size = 9
			}
			r.updateFont()
		} else {
			r.pdf.Ln(6)
			r.bold = false
			r.size = 9
			r.updateFont()
		}
	case *ast.Paragraph:
		if !entering && !r.inList {
			r.pdf.Ln(5)
		}
	case *ast.Text:
		if entering {
			segment := node.Segment
			r.pdf.Write(4, string(segment.Value(r.source)))
			if node.SoftLineBreak() || node.HardLineBreak() {
				r.pdf.Ln(4)
			}
		}
	case *ast.Emphasis:
		if entering {
			r.bold = node.Level >= 2
		} else {
			r.bold = false
		}
		r.updateFont()
	case *ast.CodeSpan:
		if entering {
			r.pdf.SetFont("Courier", "", r.size)
		} else {
			r.updateFont()
		}
	case *ast.List:
		r.inList = entering
		if !entering {
			r.pdf.Ln(3)
		}
	case *ast.ListItem:
		if entering {
			r.pdf.Ln(4)
			r.pdf.Write(4, "  - ")
		}
	case *ast.ThematicBreak:
		if entering {
			r.pdf.Ln(2)
			r.pdf.Line(15, r.pdf.GetY(), 195, r.pdf.GetY())
			r.pdf.Ln(2)
		}
	case *extast.Table:
		if !entering {
			r.pdf.Ln(4)
		}
	case *extast.TableRow, *extast.TableHeader:
		if entering {
			r.pdf.Ln(4)
			_, isHeader := n.(*extast.TableHeader)
			r.bold = isHeader
			r.updateFont()
		} else {
			r.bold = false
			r.updateFont()
		}
	case *extast.TableCell:
		if entering {
			segment := node.Text(r.source)
			r.pdf.CellFormat(45, 4, string(segment), "1", 0, "L", false, 0, "")
			return ast.WalkSkipChildren, nil
		}
	}
	return ast.WalkContinue, nil
}
