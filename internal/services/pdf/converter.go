package pdf

import (
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/ternarybob/graben/internal/interfaces"
)

// PopplerConverter renders PDF pages to PNG via the poppler pdftoppm tool.
// An absent or failing tool reports as a tool error so recovery can route
// around it.
type PopplerConverter struct{}

// Compile-time assertion
var _ interfaces.PDFConverter = (*PopplerConverter)(nil)

// NewPopplerConverter creates a pdftoppm-backed converter.
func NewPopplerConverter() *PopplerConverter {
	return &PopplerConverter{}
}

// Convert renders the page range to a PNG and returns the image path.
func (c *PopplerConverter) Convert(pdfPath string, firstPage, lastPage int) (string, error) {
	if _, err := exec.LookPath("pdftoppm"); err != nil {
		return "", fmt.Errorf("tool error: pdftoppm not available: %w", err)
	}

	outDir, err := os.MkdirTemp("", "graben-pdfimg-*")
	if err != nil {
		return "", fmt.Errorf("tool error: create output dir: %w", err)
	}
	prefix := outDir + "/page"

	cmd := exec.Command("pdftoppm", "-png",
		"-f", strconv.Itoa(firstPage),
		"-l", strconv.Itoa(lastPage),
		pdfPath, prefix)
	if output, err := cmd.CombinedOutput(); err != nil {
		os.RemoveAll(outDir)
		return "", fmt.Errorf("tool error: pdftoppm failed: %v (%s)", err, strings.TrimSpace(string(output)))
	}

	entries, err := os.ReadDir(outDir)
	if err != nil || len(entries) == 0 {
		os.RemoveAll(outDir)
		return "", fmt.Errorf("tool error: pdftoppm produced no output")
	}

	return outDir + "/" + entries[0].Name(), nil
}
